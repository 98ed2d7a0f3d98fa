//go:build linux

package engine

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"fujudge/internal/judge/sandbox/spec"
	appErr "fujudge/pkg/errors"

	"golang.org/x/sys/unix"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "prog")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("write script failed: %v", err)
	}
	return path
}

func newSpec(t *testing.T, dir, body, input string) spec.RunSpec {
	t.Helper()
	writeScript(t, dir, body)
	stdin := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(stdin, []byte(input), 0644); err != nil {
		t.Fatalf("write input failed: %v", err)
	}
	return spec.RunSpec{
		WorkDir:    dir,
		Cmd:        []string{"./prog"},
		StdinPath:  stdin,
		StdoutPath: filepath.Join(dir, "output.txt"),
		StderrPath: filepath.Join(dir, "stderr.txt"),
	}
}

func TestDirectLauncher(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		input  string
		wait   time.Duration
		verify func(t *testing.T, dir string, p Process, exited bool, err error)
	}{
		{
			name:  "redirects_stdio",
			body:  "read line; echo \"got $line\"; echo oops 1>&2",
			input: "42\n",
			wait:  5 * time.Second,
			verify: func(t *testing.T, dir string, p Process, exited bool, err error) {
				if err != nil || !exited {
					t.Fatalf("expected exit, got exited=%v err=%v", exited, err)
				}
				if code := p.ExitCode(); code != 0 {
					t.Fatalf("expected exit code 0, got %d", code)
				}
				if err := p.Close(); err != nil {
					t.Fatalf("close failed: %v", err)
				}
				out, _ := os.ReadFile(filepath.Join(dir, "output.txt"))
				if string(out) != "got 42\n" {
					t.Fatalf("unexpected stdout %q", out)
				}
				errOut, _ := os.ReadFile(filepath.Join(dir, "stderr.txt"))
				if strings.TrimSpace(string(errOut)) != "oops" {
					t.Fatalf("unexpected stderr %q", errOut)
				}
			},
		},
		{
			name: "non_zero_exit",
			body: "exit 3",
			wait: 5 * time.Second,
			verify: func(t *testing.T, dir string, p Process, exited bool, err error) {
				if err != nil || !exited {
					t.Fatalf("expected exit, got exited=%v err=%v", exited, err)
				}
				if code := p.ExitCode(); code != 3 {
					t.Fatalf("expected exit code 3, got %d", code)
				}
			},
		},
		{
			name: "wait_times_out",
			body: "sleep 5",
			wait: 100 * time.Millisecond,
			verify: func(t *testing.T, dir string, p Process, exited bool, err error) {
				if err != nil || exited {
					t.Fatalf("expected timeout, got exited=%v err=%v", exited, err)
				}
				if code := p.ExitCode(); code != -1 {
					t.Fatalf("running process must report -1, got %d", code)
				}
			},
		},
		{
			name: "runs_in_work_dir",
			body: "pwd",
			wait: 5 * time.Second,
			verify: func(t *testing.T, dir string, p Process, exited bool, err error) {
				_ = p.Close()
				out, _ := os.ReadFile(filepath.Join(dir, "output.txt"))
				resolved, _ := filepath.EvalSymlinks(dir)
				got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(out)))
				if got != resolved {
					t.Fatalf("expected cwd %s, got %s", resolved, got)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			runSpec := newSpec(t, dir, tc.body, tc.input)
			p, err := NewDirectLauncher().Start(context.Background(), runSpec)
			if err != nil {
				t.Fatalf("start failed: %v", err)
			}
			defer p.Close()
			exited, waitErr := p.Wait(tc.wait)
			tc.verify(t, dir, p, exited, waitErr)
		})
	}
}

func TestKillReapsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	// The child forks a grandchild that would outlive a plain kill of the leader.
	runSpec := newSpec(t, dir, "sleep 30 & echo $!; wait", "")
	p, err := NewDirectLauncher().Start(context.Background(), runSpec)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var grandchild int
	deadline := time.Now().Add(2 * time.Second)
	for grandchild == 0 && time.Now().Before(deadline) {
		data, _ := os.ReadFile(runSpec.StdoutPath)
		if n, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			grandchild = n
		}
		time.Sleep(5 * time.Millisecond)
	}
	if grandchild == 0 {
		t.Fatalf("grandchild pid not reported")
	}

	if exited, _ := p.Wait(50 * time.Millisecond); exited {
		t.Fatalf("process exited before kill")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if p.ExitCode() != -1 {
		t.Fatalf("killed process should report -1, got %d", p.ExitCode())
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		if err := unix.Kill(grandchild, 0); err == unix.ESRCH {
			break
		}
		// A killed but unreaped grandchild lingers as a zombie under init.
		if stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(grandchild), "stat")); err == nil && strings.Contains(string(stat), ") Z ") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("grandchild %d survived group kill", grandchild)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(dir string, s *spec.RunSpec)
	}{
		{"missing_executable", func(dir string, s *spec.RunSpec) { s.Cmd = []string{"./absent"} }},
		{"missing_stdin", func(dir string, s *spec.RunSpec) { s.StdinPath = filepath.Join(dir, "none.txt") }},
		{"not_executable", func(dir string, s *spec.RunSpec) { _ = os.Chmod(filepath.Join(dir, "prog"), 0644) }},
		{"empty_cmd", func(dir string, s *spec.RunSpec) { s.Cmd = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			runSpec := newSpec(t, dir, "exit 0", "")
			tc.mutate(dir, &runSpec)
			_, err := NewDirectLauncher().Start(context.Background(), runSpec)
			if !appErr.Is(err, appErr.ProcessStartFailed) {
				t.Fatalf("expected ProcessStartFailed, got %v", err)
			}
		})
	}
}
