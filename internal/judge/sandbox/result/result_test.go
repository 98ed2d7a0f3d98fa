package result

import (
	"encoding/json"
	"testing"
)

func TestVerdictCodes(t *testing.T) {
	cases := []struct {
		v    Verdict
		code int
		name string
	}{
		{VerdictAccepted, 0, "ACCEPTED"},
		{VerdictTimeLimitExceeded, 1, "TIME_LIMIT_EXCEEDED"},
		{VerdictMemoryLimitExceeded, 2, "MEMORY_LIMIT_EXCEEDED"},
		{VerdictRuntimeError, 3, "RUNTIME_ERROR"},
		{VerdictOutputLimitExceeded, 4, "OUTPUT_LIMIT_EXCEEDED"},
		{VerdictAcceptable, 5, "ACCEPTABLE"},
		{VerdictWrongAnswer, 6, "WRONG_ANSWER"},
		{VerdictJudgementError, 7, "JUDGEMENT_ERROR"},
		{VerdictInternalError, -1, "INTERNAL_ERROR"},
		{VerdictUnknown, -2, "UNKNOWN"},
	}
	for _, tc := range cases {
		if int(tc.v) != tc.code {
			t.Fatalf("%s: expected code %d, got %d", tc.name, tc.code, int(tc.v))
		}
		if tc.v.String() != tc.name {
			t.Fatalf("expected name %s, got %s", tc.name, tc.v.String())
		}
		parsed, err := ParseVerdict(tc.name)
		if err != nil || parsed != tc.v {
			t.Fatalf("parse %s: got %v, %v", tc.name, parsed, err)
		}
	}
	if Verdict(42).Valid() {
		t.Fatalf("expected code 42 to be invalid")
	}
}

func TestReduce(t *testing.T) {
	cases := []struct {
		name     string
		verdicts []Verdict
		want     Verdict
	}{
		{"empty", nil, VerdictJudgementError},
		{"single accepted", []Verdict{VerdictAccepted}, VerdictAccepted},
		{"accepted beats acceptable", []Verdict{VerdictAcceptable, VerdictAccepted}, VerdictAccepted},
		{"acceptable beats wrong answer", []Verdict{VerdictWrongAnswer, VerdictAcceptable}, VerdictAcceptable},
		{"wrong answer only", []Verdict{VerdictWrongAnswer, VerdictWrongAnswer}, VerdictWrongAnswer},
		{"internal error dominates", []Verdict{VerdictAccepted, VerdictInternalError}, VerdictInternalError},
		{"internal beats judgement error", []Verdict{VerdictJudgementError, VerdictInternalError}, VerdictInternalError},
		{"judgement error dominates", []Verdict{VerdictAccepted, VerdictJudgementError}, VerdictJudgementError},
		{"unknown is a contract breach", []Verdict{VerdictAccepted, VerdictUnknown}, VerdictJudgementError},
		{"undefined code", []Verdict{Verdict(99)}, VerdictJudgementError},
		{"tle ranks above wrong answer", []Verdict{VerdictWrongAnswer, VerdictTimeLimitExceeded}, VerdictTimeLimitExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Reduce(tc.verdicts); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestVerdictJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		V Verdict `json:"v"`
	}{VerdictWrongAnswer})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"v":6}` {
		t.Fatalf("unexpected encoding: %s", data)
	}

	var byName Verdict
	if err := json.Unmarshal([]byte(`"TLE"`), &byName); err != nil || byName != VerdictTimeLimitExceeded {
		t.Fatalf("unmarshal by name: got %v, %v", byName, err)
	}
	var bad Verdict
	if err := json.Unmarshal([]byte(`12`), &bad); err == nil {
		t.Fatalf("expected error for undefined code")
	}
}

func TestSummaryAggregate(t *testing.T) {
	s := Summary{Tests: []Report{
		{ID: "1", Verdict: VerdictAccepted, TimeSec: 0.2, MemoryBytes: 1 << 20, Score: 30},
		{ID: "2", Verdict: VerdictWrongAnswer, TimeSec: 0.5, MemoryBytes: 2 << 20, Score: 30},
		{ID: "3", Verdict: VerdictTimeLimitExceeded, TimeSec: 1.1, MemoryBytes: 512, Score: 40},
	}}
	s.Aggregate()
	if s.Verdict != VerdictWrongAnswer {
		t.Fatalf("expected first failure WA, got %s", s.Verdict)
	}
	if s.Score != 30 || s.TotalScore != 100 {
		t.Fatalf("unexpected score %d/%d", s.Score, s.TotalScore)
	}
	if s.MaxTimeSec != 1.1 || s.MaxMemoryBytes != 2<<20 {
		t.Fatalf("unexpected maxima %v %v", s.MaxTimeSec, s.MaxMemoryBytes)
	}
	if s.VerdictName != "WRONG_ANSWER" {
		t.Fatalf("unexpected verdict name %s", s.VerdictName)
	}
}
