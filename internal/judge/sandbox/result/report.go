package result

// RunState represents the lifecycle state of a judge run.
type RunState string

const (
	StatePending  RunState = "Pending"
	StateRunning  RunState = "Running"
	StateFinished RunState = "Finished"
	StateFailed   RunState = "Failed"
)

// Report is the serialisable outcome of one judged testcase.
type Report struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Verdict     Verdict `json:"verdict"`
	VerdictName string  `json:"verdictName"`
	TimeSec     float64 `json:"time"`
	MemoryBytes int64   `json:"memory"`
	ReturnCode  int     `json:"returnCode"`
	Message     string  `json:"message,omitempty"`
	Score       int     `json:"score"`
}

// Summary aggregates the reports of a run.
type Summary struct {
	RunID          string   `json:"runId"`
	State          RunState `json:"state"`
	Verdict        Verdict  `json:"verdict"`
	VerdictName    string   `json:"verdictName"`
	Score          int      `json:"score"`
	TotalScore     int      `json:"totalScore"`
	MaxTimeSec     float64  `json:"maxTime"`
	MaxMemoryBytes int64    `json:"maxMemory"`
	Total          int      `json:"total"`
	Done           int      `json:"done"`
	Tests          []Report `json:"tests"`
	Error          string   `json:"error,omitempty"`
	ReceivedAt     int64    `json:"receivedAt"`
	FinishedAt     int64    `json:"finishedAt,omitempty"`
}

// Aggregate fills the verdict and totals of s from s.Tests.
// The overall verdict is the first non-accepted verdict in testcase order.
func (s *Summary) Aggregate() {
	s.Verdict = VerdictAccepted
	s.Score, s.TotalScore = 0, 0
	s.MaxTimeSec, s.MaxMemoryBytes = 0, 0
	decided := false
	for _, r := range s.Tests {
		s.TotalScore += r.Score
		if r.Verdict == VerdictAccepted {
			s.Score += r.Score
		} else if !decided {
			s.Verdict = r.Verdict
			decided = true
		}
		if r.TimeSec > s.MaxTimeSec {
			s.MaxTimeSec = r.TimeSec
		}
		if r.MemoryBytes > s.MaxMemoryBytes {
			s.MaxMemoryBytes = r.MemoryBytes
		}
	}
	if len(s.Tests) == 0 {
		s.Verdict = VerdictJudgementError
	}
	s.VerdictName = s.Verdict.String()
}
