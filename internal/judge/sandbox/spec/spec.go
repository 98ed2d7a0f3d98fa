// Package spec defines the execution specification for one child process.
package spec

import (
	"errors"
	"time"
)

// RunSpec describes how a judged program is started.
type RunSpec struct {
	WorkDir    string
	Cmd        []string
	Env        []string
	StdinPath  string
	StdoutPath string
	// StderrPath is optional; an empty path discards the stream.
	StderrPath string
	// WallLimit is informational for launchers that enforce limits themselves.
	WallLimit time.Duration
}

// Validate checks the fields every launcher requires.
func (s RunSpec) Validate() error {
	if s.WorkDir == "" {
		return errors.New("work dir is required")
	}
	if len(s.Cmd) == 0 {
		return errors.New("command is required")
	}
	if s.StdinPath == "" {
		return errors.New("stdin path is required")
	}
	if s.StdoutPath == "" {
		return errors.New("stdout path is required")
	}
	return nil
}
