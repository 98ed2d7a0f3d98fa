// Package result defines verdicts and their reduction rules.
package result

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Verdict is the final outcome of one judgement.
// The integer values are a wire contract and must not change.
type Verdict int

const (
	VerdictUnknown             Verdict = -2
	VerdictInternalError       Verdict = -1
	VerdictAccepted            Verdict = 0
	VerdictTimeLimitExceeded   Verdict = 1
	VerdictMemoryLimitExceeded Verdict = 2
	VerdictRuntimeError        Verdict = 3
	VerdictOutputLimitExceeded Verdict = 4
	VerdictAcceptable          Verdict = 5
	VerdictWrongAnswer         Verdict = 6
	VerdictJudgementError      Verdict = 7
)

type verdictInfo struct {
	name  string
	short string
}

var verdictTable = map[Verdict]verdictInfo{
	VerdictUnknown:             {"UNKNOWN", "UK"},
	VerdictInternalError:       {"INTERNAL_ERROR", "IE"},
	VerdictAccepted:            {"ACCEPTED", "AC"},
	VerdictTimeLimitExceeded:   {"TIME_LIMIT_EXCEEDED", "TLE"},
	VerdictMemoryLimitExceeded: {"MEMORY_LIMIT_EXCEEDED", "MLE"},
	VerdictRuntimeError:        {"RUNTIME_ERROR", "RE"},
	VerdictOutputLimitExceeded: {"OUTPUT_LIMIT_EXCEEDED", "OLE"},
	VerdictAcceptable:          {"ACCEPTABLE", "PA"},
	VerdictWrongAnswer:         {"WRONG_ANSWER", "WA"},
	VerdictJudgementError:      {"JUDGEMENT_ERROR", "JE"},
}

// reduceOrder lists the non-error verdicts a checker may return,
// from the one that wins a reduction to the one that loses.
var reduceOrder = []Verdict{
	VerdictAccepted,
	VerdictTimeLimitExceeded,
	VerdictMemoryLimitExceeded,
	VerdictRuntimeError,
	VerdictOutputLimitExceeded,
	VerdictAcceptable,
	VerdictWrongAnswer,
}

// Valid reports whether v is one of the defined codes.
func (v Verdict) Valid() bool {
	_, ok := verdictTable[v]
	return ok
}

func (v Verdict) String() string {
	if info, ok := verdictTable[v]; ok {
		return info.name
	}
	return "Verdict(" + strconv.Itoa(int(v)) + ")"
}

// Short returns the abbreviation used in judge summaries.
func (v Verdict) Short() string {
	if info, ok := verdictTable[v]; ok {
		return info.short
	}
	return "??"
}

// IsResourceViolation reports whether v was assigned from a time or memory limit.
func (v Verdict) IsResourceViolation() bool {
	return v == VerdictTimeLimitExceeded || v == VerdictMemoryLimitExceeded
}

// IsError reports whether v marks a malfunction of the engine or the checker.
func (v Verdict) IsError() bool {
	return v == VerdictInternalError || v == VerdictJudgementError
}

// ParseVerdict accepts a full name, an abbreviation, or an integer code.
func ParseVerdict(s string) (Verdict, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		v := Verdict(n)
		if !v.Valid() {
			return VerdictUnknown, fmt.Errorf("unknown verdict code %d", n)
		}
		return v, nil
	}
	upper := strings.ToUpper(s)
	for v, info := range verdictTable {
		if upper == info.name || upper == info.short {
			return v, nil
		}
	}
	return VerdictUnknown, fmt.Errorf("unknown verdict %q", s)
}

// MarshalJSON encodes the verdict as its integer code.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(v))), nil
}

// UnmarshalJSON accepts either the integer code or a verdict name.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		parsed := Verdict(n)
		if !parsed.Valid() {
			return fmt.Errorf("unknown verdict code %d", n)
		}
		*v = parsed
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("verdict must be an integer or string: %w", err)
	}
	parsed, err := ParseVerdict(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalYAML reads a verdict written as a code or a name.
func (v *Verdict) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseVerdict(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Reduce folds the verdicts returned by a checker into one.
// Error verdicts dominate: INTERNAL_ERROR first, then JUDGEMENT_ERROR, even
// though JUDGEMENT_ERROR (7) is numerically larger than every outcome code.
// The remaining codes reduce to the smallest non-negative value. An empty
// list or an undefined code means the checker broke its contract and yields
// JUDGEMENT_ERROR.
func Reduce(verdicts []Verdict) Verdict {
	if len(verdicts) == 0 {
		return VerdictJudgementError
	}
	seen := make(map[Verdict]bool, len(verdicts))
	for _, v := range verdicts {
		switch {
		case v == VerdictInternalError:
			return VerdictInternalError
		case v == VerdictUnknown, !v.Valid():
			seen[VerdictJudgementError] = true
		default:
			seen[v] = true
		}
	}
	if seen[VerdictJudgementError] {
		return VerdictJudgementError
	}
	for _, v := range reduceOrder {
		if seen[v] {
			return v
		}
	}
	return VerdictJudgementError
}
