package model

import (
	"time"

	"fujudge/internal/judge/sandbox/result"
)

// Bytes per megabyte used when converting manifest limits.
const MB = 1024 * 1024

// Testcase describes one judgement: inputs, limits and the recorded outcome.
// It is owned by the caller and mutated only by the judger while judging.
type Testcase struct {
	ID   string
	Name string

	TimeLimit   time.Duration
	MemoryLimit int64 // bytes

	// Reference fixtures, never written.
	StandardInput  string
	StandardOutput string

	// Working paths read and written by the child.
	InputFilename  string
	OutputFilename string
	ErrorFilename  string
	WorkDir        string
	Compiled       string
	UserOutput     string

	// Results
	Time       float64 // seconds
	Memory     int64   // bytes
	ReturnCode int
	Status     result.Verdict
	Message    string

	Score int
}

// NewTestcase returns a testcase with Status set to UNKNOWN.
func NewTestcase(id string, timeLimit time.Duration, memoryLimit int64) *Testcase {
	return &Testcase{
		ID:          id,
		Name:        id,
		TimeLimit:   timeLimit,
		MemoryLimit: memoryLimit,
		Status:      result.VerdictUnknown,
	}
}

// ResetResults clears the outcome of a previous run.
func (t *Testcase) ResetResults() {
	t.Time = 0
	t.Memory = 0
	t.ReturnCode = 0
	t.Status = result.VerdictUnknown
	t.Message = ""
	t.UserOutput = ""
}

// TimeLimitSeconds returns the time limit as float seconds.
func (t *Testcase) TimeLimitSeconds() float64 {
	return t.TimeLimit.Seconds()
}

// Report builds the serialisable view of the testcase outcome.
func (t *Testcase) Report() result.Report {
	return result.Report{
		ID:          t.ID,
		Name:        t.Name,
		Verdict:     t.Status,
		VerdictName: t.Status.String(),
		TimeSec:     t.Time,
		MemoryBytes: t.Memory,
		ReturnCode:  t.ReturnCode,
		Message:     t.Message,
		Score:       t.Score,
	}
}
