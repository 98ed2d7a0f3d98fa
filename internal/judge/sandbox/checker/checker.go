// Package checker loads correctness policies and runs them against judged output.
package checker

import (
	"context"
	"time"

	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/result"
)

// Result is what a policy returns for one testcase.
type Result struct {
	Verdicts []result.Verdict
	Message  string
}

// Checker compares a testcase's user output against its reference output.
// Implementations must be safe for concurrent use.
type Checker interface {
	Check(ctx context.Context, tc *model.Testcase) (Result, error)
}

// Namer is implemented by checkers that can report the name they were loaded under.
type Namer interface {
	Name() string
}

// NameOf returns the checker's load name, or its kind when unnamed.
func NameOf(c Checker) string {
	if n, ok := c.(Namer); ok && n.Name() != "" {
		return n.Name()
	}
	return "custom"
}

// Func adapts a function to Checker.
type Func func(ctx context.Context, tc *model.Testcase) (Result, error)

func (f Func) Check(ctx context.Context, tc *model.Testcase) (Result, error) { return f(ctx, tc) }

// Descriptor is the YAML document describing a named checker.
type Descriptor struct {
	Kind string `yaml:"kind"`

	// special
	Command string        `yaml:"command,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// float
	Epsilon  float64 `yaml:"epsilon,omitempty"`
	Relative bool    `yaml:"relative,omitempty"`

	// Filled in by Load.
	Name string `yaml:"-"`
	Dir  string `yaml:"-"`
}

// Accepted is a Result holding a single ACCEPTED verdict.
func Accepted() Result {
	return Result{Verdicts: []result.Verdict{result.VerdictAccepted}}
}

func verdict(v result.Verdict, msg string) Result {
	return Result{Verdicts: []result.Verdict{v}, Message: msg}
}
