package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/checker"
	"fujudge/internal/judge/sandbox/engine"
	"fujudge/internal/judge/sandbox/result"
	"fujudge/internal/judge/sandbox/spec"
	appErr "fujudge/pkg/errors"
)

// fakeProcess exits with code after delay, unless killed first.
type fakeProcess struct {
	mu       sync.Mutex
	code     int
	killed   bool
	closed   bool
	exitedCh chan struct{}
	once     sync.Once
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Wait(timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		<-p.exitedCh
		return true, nil
	}
	select {
	case <-p.exitedCh:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (p *fakeProcess) exit() { p.once.Do(func() { close(p.exitedCh) }) }

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *fakeProcess) ExitCode() int { return p.code }

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type fakeLauncher struct {
	delay time.Duration
	code  int
	specs []spec.RunSpec
	procs []*fakeProcess
}

func (l *fakeLauncher) Start(ctx context.Context, runSpec spec.RunSpec) (engine.Process, error) {
	p := &fakeProcess{code: l.code, exitedCh: make(chan struct{})}
	if l.delay <= 0 {
		p.exit()
	} else {
		time.AfterFunc(l.delay, p.exit)
	}
	l.specs = append(l.specs, runSpec)
	l.procs = append(l.procs, p)
	return p, nil
}

// fakeWatcher records its lifecycle.
type fakeWatcher struct {
	peak    int64
	resets  int
	started []int
	stopped int
}

func (w *fakeWatcher) Reset()              { w.resets++ }
func (w *fakeWatcher) Start(pid int) error { w.started = append(w.started, pid); return nil }
func (w *fakeWatcher) Stop(wait bool)      { w.stopped++ }
func (w *fakeWatcher) HistoryMax() int64   { return w.peak }

// stepTimer reports a fixed elapsed time.
type stepTimer struct{ elapsed float64 }

func (t *stepTimer) Restart()      {}
func (t *stepTimer) Tick() float64 { return t.elapsed }

func plainFixture(t *testing.T) *model.Testcase {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "ref.in")
	if err := os.WriteFile(in, []byte("1\n"), 0644); err != nil {
		t.Fatalf("write input failed: %v", err)
	}
	tc := model.NewTestcase("c1", time.Second, 64*model.MB)
	tc.Compiled = "prog"
	tc.StandardInput = in
	tc.InputFilename = filepath.Join(dir, "work", "input.txt")
	tc.OutputFilename = filepath.Join(dir, "work", "output.txt")
	return tc
}

func TestJudgeWiring(t *testing.T) {
	launcher := &fakeLauncher{}
	watcher := &fakeWatcher{peak: 1024}
	j := NewJudger(&stepTimer{elapsed: 0.25}, watcher, checker.Func(func(ctx context.Context, tc *model.Testcase) (checker.Result, error) {
		return checker.Accepted(), nil
	}), WithLauncher(launcher))

	tc := plainFixture(t)
	if err := j.Judge(context.Background(), tc); err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if tc.Status != result.VerdictAccepted || tc.Time != 0.25 || tc.Memory != 1024 {
		t.Fatalf("unexpected outcome %+v", tc)
	}
	if watcher.resets != 1 || len(watcher.started) != 1 || watcher.started[0] != 4242 || watcher.stopped == 0 {
		t.Fatalf("watcher lifecycle not followed: %+v", watcher)
	}
	runSpec := launcher.specs[0]
	if !filepath.IsAbs(runSpec.Cmd[0]) || len(runSpec.Cmd) != 1 {
		t.Fatalf("program must be started by absolute path without args: %v", runSpec.Cmd)
	}
	if runSpec.WorkDir != filepath.Dir(tc.InputFilename) {
		t.Fatalf("unexpected work dir %s", runSpec.WorkDir)
	}
	if data, err := os.ReadFile(tc.InputFilename); err != nil || string(data) != "1\n" {
		t.Fatalf("input fixture not copied: %q %v", data, err)
	}
	if !launcher.procs[0].closed {
		t.Fatalf("process must be closed")
	}
}

func TestJudgeElapsedOverLimitIsTLE(t *testing.T) {
	launcher := &fakeLauncher{}
	j := NewJudger(&stepTimer{elapsed: 1.5}, &fakeWatcher{}, checker.Func(func(ctx context.Context, tc *model.Testcase) (checker.Result, error) {
		t.Fatalf("checker must not run")
		return checker.Result{}, nil
	}), WithLauncher(launcher))
	tc := plainFixture(t)
	if err := j.Judge(context.Background(), tc); err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if tc.Status != result.VerdictTimeLimitExceeded {
		t.Fatalf("expected TLE, got %s", tc.Status)
	}
}

func TestJudgeTimeoutPolicy(t *testing.T) {
	cases := []struct {
		name       string
		kill       bool
		wantKilled bool
	}{
		{"kill", true, true},
		{"leave_running", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			launcher := &fakeLauncher{delay: 300 * time.Millisecond}
			j := NewJudger(&stepTimer{elapsed: 0.05}, &fakeWatcher{}, checker.Func(func(ctx context.Context, tc *model.Testcase) (checker.Result, error) {
				return checker.Accepted(), nil
			}), WithLauncher(launcher), WithKillOnTimeout(tc.kill))
			testcase := plainFixture(t)
			testcase.TimeLimit = 20 * time.Millisecond
			if err := j.Judge(context.Background(), testcase); err != nil {
				t.Fatalf("judge failed: %v", err)
			}
			if testcase.Status != result.VerdictTimeLimitExceeded {
				t.Fatalf("expected TLE, got %s", testcase.Status)
			}
			p := launcher.procs[0]
			p.mu.Lock()
			killed := p.killed
			p.mu.Unlock()
			if killed != tc.wantKilled {
				t.Fatalf("expected killed=%v, got %v", tc.wantKilled, killed)
			}
			if !tc.kill {
				deadline := time.Now().Add(2 * time.Second)
				for {
					p.mu.Lock()
					closed := p.closed
					p.mu.Unlock()
					if closed {
						break
					}
					if time.Now().After(deadline) {
						t.Fatalf("left-running process was never reaped")
					}
					time.Sleep(5 * time.Millisecond)
				}
			}
		})
	}
}

func TestJudgeRejectsConcurrentUse(t *testing.T) {
	launcher := &fakeLauncher{delay: 200 * time.Millisecond}
	j := NewJudger(&stepTimer{}, &fakeWatcher{}, checker.Func(func(ctx context.Context, tc *model.Testcase) (checker.Result, error) {
		return checker.Accepted(), nil
	}), WithLauncher(launcher))

	first, second := plainFixture(t), plainFixture(t)
	done := make(chan error, 1)
	go func() { done <- j.Judge(context.Background(), first) }()
	time.Sleep(50 * time.Millisecond)
	if err := j.Judge(context.Background(), second); !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected busy error, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first judge failed: %v", err)
	}
}

func TestJudgeNoChecker(t *testing.T) {
	j := NewJudger(&stepTimer{}, &fakeWatcher{}, nil, WithLauncher(&fakeLauncher{}))
	tc := plainFixture(t)
	if err := j.Judge(context.Background(), tc); err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if tc.Status != result.VerdictInternalError || tc.Message == "" {
		t.Fatalf("missing checker must downgrade to INTERNAL_ERROR, got %s %q", tc.Status, tc.Message)
	}
}
