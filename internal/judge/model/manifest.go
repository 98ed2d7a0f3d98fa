package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appErr "fujudge/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Working file names created inside each testcase directory.
const (
	DefaultInputFilename  = "input.txt"
	DefaultOutputFilename = "output.txt"
	DefaultErrorFilename  = "stderr.txt"
)

// RemotePrefix marks fixture refs served by object storage.
const RemotePrefix = "s3://"

// Limits holds the limits shared by all testcases unless overridden.
type Limits struct {
	TimeLimit     float64 `json:"timeLimit" yaml:"timeLimit"`         // seconds
	MemoryLimitMB int64   `json:"memoryLimitMB" yaml:"memoryLimitMB"` // megabytes
}

// CaseSpec describes one testcase in a manifest.
type CaseSpec struct {
	ID            string  `json:"id" yaml:"id"`
	Name          string  `json:"name,omitempty" yaml:"name,omitempty"`
	Input         string  `json:"input" yaml:"input"`
	Output        string  `json:"output" yaml:"output"`
	Score         int     `json:"score,omitempty" yaml:"score,omitempty"`
	TimeLimit     float64 `json:"timeLimit,omitempty" yaml:"timeLimit,omitempty"`
	MemoryLimitMB int64   `json:"memoryLimitMB,omitempty" yaml:"memoryLimitMB,omitempty"`
}

// Manifest is the on-disk description of a problem's testcases.
type Manifest struct {
	Name      string     `json:"name,omitempty" yaml:"name,omitempty"`
	Checker   string     `json:"checker,omitempty" yaml:"checker,omitempty"`
	Defaults  Limits     `json:"defaults" yaml:"defaults"`
	Testcases []CaseSpec `json:"testcases" yaml:"testcases"`

	dir string
}

// LoadManifest parses a YAML or JSON manifest and resolves fixture paths
// relative to the manifest directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ManifestLoadFailed, "read manifest failed: %s", path)
	}
	var m Manifest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ManifestLoadFailed, "parse manifest failed: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ManifestLoadFailed, "resolve manifest path failed: %s", path)
	}
	m.dir = filepath.Dir(abs)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	for i := range m.Testcases {
		m.Testcases[i].Input = m.resolve(m.Testcases[i].Input)
		m.Testcases[i].Output = m.resolve(m.Testcases[i].Output)
	}
	return &m, nil
}

// Validate checks limits and fixture references.
func (m *Manifest) Validate() error {
	if len(m.Testcases) == 0 {
		return appErr.ValidationError("testcases", "required")
	}
	seen := make(map[string]struct{}, len(m.Testcases))
	dirs := make(map[string]string, len(m.Testcases))
	for i, c := range m.Testcases {
		if c.ID == "" {
			return appErr.ValidationError(fmt.Sprintf("testcases[%d].id", i), "required")
		}
		if _, dup := seen[c.ID]; dup {
			return appErr.ValidationError(fmt.Sprintf("testcases[%d].id", i), "duplicate")
		}
		seen[c.ID] = struct{}{}
		// Ids that differ only in unsafe characters would share a work dir.
		dir := sanitizeID(c.ID)
		if other, clash := dirs[dir]; clash {
			return appErr.ValidationError(fmt.Sprintf("testcases[%d].id", i),
				fmt.Sprintf("maps to the same work dir as %q", other))
		}
		dirs[dir] = c.ID
		if c.Input == "" || c.Output == "" {
			return appErr.ValidationError(fmt.Sprintf("testcases[%d]", i), "input and output are required")
		}
		if m.timeLimit(c) <= 0 {
			return appErr.ValidationError(fmt.Sprintf("testcases[%d].timeLimit", i), "must be positive")
		}
		if m.memoryLimitMB(c) <= 0 {
			return appErr.ValidationError(fmt.Sprintf("testcases[%d].memoryLimitMB", i), "must be positive")
		}
	}
	return nil
}

// Build creates one Testcase per entry. Each case works in its own
// directory under workRoot.
func (m *Manifest) Build(compiled, workRoot string) []*Testcase {
	out := make([]*Testcase, 0, len(m.Testcases))
	for _, c := range m.Testcases {
		limit := time.Duration(m.timeLimit(c) * float64(time.Second))
		tc := NewTestcase(c.ID, limit, m.memoryLimitMB(c)*MB)
		if c.Name != "" {
			tc.Name = c.Name
		}
		workDir := filepath.Join(workRoot, sanitizeID(c.ID))
		tc.WorkDir = workDir
		tc.StandardInput = c.Input
		tc.StandardOutput = c.Output
		tc.InputFilename = filepath.Join(workDir, DefaultInputFilename)
		tc.OutputFilename = filepath.Join(workDir, DefaultOutputFilename)
		tc.ErrorFilename = filepath.Join(workDir, DefaultErrorFilename)
		tc.Compiled = compiled
		tc.Score = c.Score
		out = append(out, tc)
	}
	return out
}

func (m *Manifest) timeLimit(c CaseSpec) float64 {
	if c.TimeLimit > 0 {
		return c.TimeLimit
	}
	return m.Defaults.TimeLimit
}

func (m *Manifest) memoryLimitMB(c CaseSpec) int64 {
	if c.MemoryLimitMB > 0 {
		return c.MemoryLimitMB
	}
	return m.Defaults.MemoryLimitMB
}

func (m *Manifest) resolve(ref string) string {
	if ref == "" || strings.HasPrefix(ref, RemotePrefix) || filepath.IsAbs(ref) || m.dir == "" {
		return ref
	}
	return filepath.Join(m.dir, ref)
}

func sanitizeID(id string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, id)
	if strings.Trim(clean, ".") == "" {
		return strings.Repeat("_", len(clean))
	}
	return clean
}
