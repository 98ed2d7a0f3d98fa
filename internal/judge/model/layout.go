package model

import "path/filepath"

// RunLayout names the paths of one run under the work root.
// Build artifacts and testcase directories live in separate subtrees so no
// source name or testcase id can land on another's path.
type RunLayout struct {
	Root string
}

// NewRunLayout returns the layout of runID under workRoot.
func NewRunLayout(workRoot, runID string) RunLayout {
	return RunLayout{Root: filepath.Join(workRoot, runID)}
}

// CasesDir holds one working directory per testcase.
func (l RunLayout) CasesDir() string {
	return filepath.Join(l.Root, "cases")
}

// SourcePath is where a submitted source file named name is written.
func (l RunLayout) SourcePath(name string) string {
	return filepath.Join(l.Root, "build", "src", filepath.Base(name))
}

// BinaryPath is the compiler output.
func (l RunLayout) BinaryPath() string {
	return filepath.Join(l.Root, "build", "main")
}
