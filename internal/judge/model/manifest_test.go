package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fujudge/internal/judge/sandbox/result"
	appErr "fujudge/pkg/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	writeFile(t, manifestPath, `
name: a-plus-b
checker: lines
defaults:
  timeLimit: 1.5
  memoryLimitMB: 64
testcases:
  - id: "1"
    input: data/1.in
    output: data/1.out
    score: 40
  - id: "2"
    input: s3://fixtures/2.in
    output: /abs/2.out
    timeLimit: 0.5
    memoryLimitMB: 16
    score: 60
`)

	m, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("load manifest failed: %v", err)
	}
	if m.Checker != "lines" {
		t.Fatalf("unexpected checker %q", m.Checker)
	}
	cases := m.Build("/bin/prog", "/work")
	if len(cases) != 2 {
		t.Fatalf("expected 2 testcases, got %d", len(cases))
	}

	first := cases[0]
	if first.StandardInput != filepath.Join(dir, "data/1.in") {
		t.Fatalf("relative input not resolved: %s", first.StandardInput)
	}
	if first.TimeLimit != 1500*time.Millisecond || first.MemoryLimit != 64*MB {
		t.Fatalf("defaults not applied: %v %d", first.TimeLimit, first.MemoryLimit)
	}
	if first.InputFilename != "/work/1/input.txt" || first.OutputFilename != "/work/1/output.txt" {
		t.Fatalf("unexpected working paths %s %s", first.InputFilename, first.OutputFilename)
	}
	if first.Status != result.VerdictUnknown {
		t.Fatalf("new testcase must start UNKNOWN, got %s", first.Status)
	}

	second := cases[1]
	if second.StandardInput != "s3://fixtures/2.in" || second.StandardOutput != "/abs/2.out" {
		t.Fatalf("remote/absolute refs must be kept: %s %s", second.StandardInput, second.StandardOutput)
	}
	if second.TimeLimit != 500*time.Millisecond || second.MemoryLimit != 16*MB {
		t.Fatalf("overrides not applied: %v %d", second.TimeLimit, second.MemoryLimit)
	}
}

func TestLoadManifestJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	writeFile(t, path, `{"defaults":{"timeLimit":1,"memoryLimitMB":32},"testcases":[{"id":"a","input":"a.in","output":"a.out"}]}`)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load manifest failed: %v", err)
	}
	if got := m.Testcases[0].Input; got != filepath.Join(dir, "a.in") {
		t.Fatalf("unexpected input %s", got)
	}
}

func TestManifestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no testcases", "defaults: {timeLimit: 1, memoryLimitMB: 1}\ntestcases: []\n"},
		{"missing id", "defaults: {timeLimit: 1, memoryLimitMB: 1}\ntestcases: [{input: a, output: b}]\n"},
		{"duplicate id", "defaults: {timeLimit: 1, memoryLimitMB: 1}\ntestcases: [{id: x, input: a, output: b}, {id: x, input: a, output: b}]\n"},
		{"ids sharing a work dir", "defaults: {timeLimit: 1, memoryLimitMB: 1}\ntestcases: [{id: a/b, input: a, output: b}, {id: a_b, input: a, output: b}]\n"},
		{"zero time", "defaults: {memoryLimitMB: 1}\ntestcases: [{id: x, input: a, output: b}]\n"},
		{"zero memory", "defaults: {timeLimit: 1}\ntestcases: [{id: x, input: a, output: b}]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "m.yaml")
			writeFile(t, path, tc.body)
			_, err := LoadManifest(path)
			if !appErr.Is(err, appErr.ValidationFailed) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadManifestRelativePath(t *testing.T) {
	root := t.TempDir()
	t.Chdir(root)
	if err := os.Mkdir(filepath.Join(root, "tests"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	writeFile(t, filepath.Join(root, "tests", "m.yaml"), "defaults: {timeLimit: 1, memoryLimitMB: 8}\ntestcases: [{id: \"1\", input: 1.in, output: 1.out}]\n")

	m, err := LoadManifest(filepath.Join("tests", "m.yaml"))
	if err != nil {
		t.Fatalf("load manifest failed: %v", err)
	}
	tc := m.Build("/bin/prog", "/work")[0]
	if tc.StandardInput != filepath.Join(root, "tests", "1.in") || tc.StandardOutput != filepath.Join(root, "tests", "1.out") {
		t.Fatalf("fixture paths must be absolute: %s %s", tc.StandardInput, tc.StandardOutput)
	}
}

func TestBuildDistinctWorkDirs(t *testing.T) {
	m := &Manifest{
		Defaults: Limits{TimeLimit: 1, MemoryLimitMB: 1},
		Testcases: []CaseSpec{
			{ID: "a b", Input: "a", Output: "b"},
			{ID: "a-b", Input: "a", Output: "b"},
			{ID: "..", Input: "a", Output: "b"},
		},
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	seen := make(map[string]string)
	for _, tc := range m.Build("/bin/prog", "/work") {
		if other, ok := seen[tc.WorkDir]; ok {
			t.Fatalf("%s and %s share work dir %s", other, tc.ID, tc.WorkDir)
		}
		seen[tc.WorkDir] = tc.ID
	}

	m.Testcases = append(m.Testcases, CaseSpec{ID: "__", Input: "a", Output: "b"})
	if err := m.Validate(); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected clash with \"..\" to fail validation, got %v", err)
	}
}

func TestManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	if !appErr.Is(err, appErr.ManifestLoadFailed) {
		t.Fatalf("expected manifest load error, got %v", err)
	}
}

func TestSanitizeID(t *testing.T) {
	cases := map[string]string{
		"case-1": "case-1",
		"a/b":    "a_b",
		"..":     "__",
		"sub.1":  "sub.1",
		"x y":    "x_y",
	}
	for in, want := range cases {
		if got := sanitizeID(in); got != want {
			t.Fatalf("sanitizeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResetResults(t *testing.T) {
	tc := NewTestcase("1", time.Second, MB)
	tc.Time, tc.Memory, tc.ReturnCode = 1.2, 4096, 3
	tc.Status, tc.Message, tc.UserOutput = result.VerdictRuntimeError, "boom", "/tmp/out"
	tc.ResetResults()
	if tc.Status != result.VerdictUnknown || tc.Time != 0 || tc.Memory != 0 || tc.ReturnCode != 0 || tc.Message != "" || tc.UserOutput != "" {
		t.Fatalf("results not cleared: %+v", tc)
	}
	r := tc.Report()
	if r.VerdictName != "UNKNOWN" {
		t.Fatalf("unexpected report %+v", r)
	}
}
