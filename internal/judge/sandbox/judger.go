// Package sandbox drives one judgement: run the program, watch it, classify the outcome.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/checker"
	"fujudge/internal/judge/sandbox/engine"
	"fujudge/internal/judge/sandbox/observer"
	"fujudge/internal/judge/sandbox/result"
	"fujudge/internal/judge/sandbox/spec"
	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/contextkey"
	"fujudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Stopwatch measures the run time of the child.
type Stopwatch interface {
	Restart()
	Tick() float64
}

// Watcher samples the peak memory of the child.
type Watcher interface {
	Reset()
	Start(pid int) error
	Stop(wait bool)
	HistoryMax() int64
}

// Judger judges one testcase at a time.
type Judger struct {
	timer    Stopwatch
	watcher  Watcher
	checker  checker.Checker
	launcher engine.Launcher
	metrics  observer.MetricsRecorder

	killOnTimeout bool
	busy          atomic.Bool
}

// Option configures a Judger.
type Option func(*Judger)

// WithLauncher replaces the host process launcher.
func WithLauncher(l engine.Launcher) Option {
	return func(j *Judger) {
		if l != nil {
			j.launcher = l
		}
	}
}

// WithMetrics records verdicts and checker faults.
func WithMetrics(m observer.MetricsRecorder) Option {
	return func(j *Judger) {
		if m != nil {
			j.metrics = m
		}
	}
}

// WithKillOnTimeout controls whether an over-time child is killed and reaped
// before Judge returns. When disabled the child is left to finish and is
// reaped in the background. Enabled by default.
func WithKillOnTimeout(kill bool) Option {
	return func(j *Judger) { j.killOnTimeout = kill }
}

// NewJudger wires a judger from its collaborators.
func NewJudger(t Stopwatch, w Watcher, c checker.Checker, opts ...Option) *Judger {
	j := &Judger{
		timer:         t,
		watcher:       w,
		checker:       c,
		launcher:      engine.NewDirectLauncher(),
		metrics:       observer.NoopMetricsRecorder{},
		killOnTimeout: true,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Judge runs tc.Compiled against tc and records the outcome in tc.
//
// Resource violations and wrong answers are outcomes, not errors. Setup and
// spawn faults set Status to INTERNAL_ERROR and are returned. A checker fault
// sets INTERNAL_ERROR with a message and is not returned.
func (j *Judger) Judge(ctx context.Context, tc *model.Testcase) (err error) {
	if tc == nil {
		return appErr.ValidationError("testcase", "required")
	}
	if !j.busy.CompareAndSwap(false, true) {
		return appErr.Newf(appErr.JudgeSystemError, "judger is already judging a testcase")
	}
	defer j.busy.Store(false)

	ctx = contextkey.WithTestcaseID(ctx, tc.ID)
	tc.ResetResults()
	defer func() {
		if r := recover(); r != nil {
			err = appErr.Newf(appErr.JudgeSystemError, "judge panicked: %v", r)
			j.fail(ctx, tc, err)
		}
	}()

	if err := j.setup(ctx, tc); err != nil {
		j.fail(ctx, tc, err)
		return err
	}

	out, err := j.run(ctx, tc)
	if err != nil {
		j.fail(ctx, tc, err)
		return err
	}

	tc.Time = out.elapsed
	tc.Memory = out.peak
	tc.ReturnCode = out.exitCode

	switch {
	case !out.exited || out.elapsed > tc.TimeLimitSeconds():
		tc.Status = result.VerdictTimeLimitExceeded
		tc.Message = fmt.Sprintf("time limit exceeded: %.3fs > %.3fs", out.elapsed, tc.TimeLimitSeconds())
	case tc.MemoryLimit > 0 && out.peak > tc.MemoryLimit:
		tc.Status = result.VerdictMemoryLimitExceeded
		tc.Message = fmt.Sprintf("memory limit exceeded: %d bytes > %d bytes", out.peak, tc.MemoryLimit)
	case out.exitCode != 0:
		tc.Status = result.VerdictRuntimeError
		tc.Message = fmt.Sprintf("program exited with code %d", out.exitCode)
	default:
		j.check(ctx, tc)
	}

	j.metrics.ObserveJudge(ctx, tc.Status, time.Duration(tc.Time*float64(time.Second)), tc.Memory)
	logger.Info(ctx, "testcase judged",
		zap.String("verdict", tc.Status.String()),
		zap.Float64("time", tc.Time),
		zap.Int64("memory", tc.Memory),
		zap.Int("return_code", tc.ReturnCode),
	)
	return nil
}

func (j *Judger) setup(ctx context.Context, tc *model.Testcase) error {
	switch {
	case tc.Compiled == "":
		return appErr.ValidationError("compiled", "required")
	case tc.StandardInput == "":
		return appErr.ValidationError("standard_input", "required")
	case tc.InputFilename == "":
		return appErr.ValidationError("input_filename", "required")
	case tc.OutputFilename == "":
		return appErr.ValidationError("output_filename", "required")
	case tc.TimeLimit <= 0:
		return appErr.ValidationError("time_limit", "must be positive")
	}

	workDir := tc.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(tc.InputFilename)
	}
	for _, dir := range []string{workDir, filepath.Dir(tc.OutputFilename)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return appErr.Wrapf(err, appErr.JudgeSystemError, "create work dir failed: %s", dir)
		}
	}
	if err := copyFile(tc.StandardInput, tc.InputFilename); err != nil {
		return err
	}
	tc.UserOutput = tc.OutputFilename
	j.watcher.Reset()
	logger.Debug(ctx, "testcase prepared", zap.String("input", tc.InputFilename), zap.String("work_dir", workDir))
	return nil
}

type runOutcome struct {
	exited   bool
	exitCode int
	elapsed  float64
	peak     int64
}

func (j *Judger) run(ctx context.Context, tc *model.Testcase) (runOutcome, error) {
	compiled, err := filepath.Abs(tc.Compiled)
	if err != nil {
		return runOutcome{}, appErr.Wrapf(err, appErr.ProcessStartFailed, "resolve executable failed")
	}
	workDir := tc.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(tc.InputFilename)
	}
	runSpec := spec.RunSpec{
		WorkDir:    workDir,
		Cmd:        []string{compiled},
		StdinPath:  tc.InputFilename,
		StdoutPath: tc.OutputFilename,
		StderrPath: tc.ErrorFilename,
		WallLimit:  tc.TimeLimit,
	}

	proc, err := j.launcher.Start(ctx, runSpec)
	if err != nil {
		return runOutcome{}, err
	}
	detached := false
	defer func() {
		if !detached {
			_ = proc.Close()
		}
	}()

	if err := j.watcher.Start(proc.Pid()); err != nil {
		return runOutcome{}, err
	}
	defer j.watcher.Stop(true)
	j.timer.Restart()
	logger.Debug(ctx, "testcase running", zap.Int("pid", proc.Pid()), zap.Duration("time_limit", tc.TimeLimit))

	exited, waitErr := proc.Wait(tc.TimeLimit)
	elapsed := j.timer.Tick()
	if !exited {
		if j.killOnTimeout {
			if err := proc.Kill(); err != nil {
				logger.Warn(ctx, "kill timed out process failed", zap.Error(err))
			}
		} else {
			detached = true
			go func() {
				_, _ = proc.Wait(0)
				_ = proc.Close()
			}()
		}
	}
	j.watcher.Stop(true)
	peak := j.watcher.HistoryMax()

	if waitErr != nil {
		return runOutcome{}, appErr.Wrapf(waitErr, appErr.JudgeSystemError, "wait for process failed: %v", waitErr)
	}
	out := runOutcome{exited: exited, elapsed: elapsed, peak: peak, exitCode: -1}
	if exited {
		out.exitCode = proc.ExitCode()
	}
	logger.Debug(ctx, "testcase finished running",
		zap.Bool("exited", exited),
		zap.Float64("elapsed", elapsed),
		zap.Int64("peak", peak),
	)
	return out, nil
}

// check runs the policy. Its faults never escape: they become INTERNAL_ERROR.
func (j *Judger) check(ctx context.Context, tc *model.Testcase) {
	res, err := j.callChecker(ctx, tc)
	if err != nil {
		tc.Status = result.VerdictInternalError
		tc.Message = "checker failed: " + err.Error()
		j.metrics.ObserveCheckerFailure(ctx, checker.NameOf(j.checker))
		logger.Error(ctx, "checker failed", zap.String("checker", checker.NameOf(j.checker)), zap.Error(err))
		return
	}
	tc.Status = result.Reduce(res.Verdicts)
	tc.Message = res.Message
	if tc.Message == "" && tc.Status.IsError() {
		tc.Message = fmt.Sprintf("checker returned %v", res.Verdicts)
	}
}

func (j *Judger) callChecker(ctx context.Context, tc *model.Testcase) (res checker.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if j.checker == nil {
		return checker.Result{}, errors.New("no checker configured")
	}
	return j.checker.Check(ctx, tc)
}

func (j *Judger) fail(ctx context.Context, tc *model.Testcase, err error) {
	tc.Status = result.VerdictInternalError
	tc.Message = err.Error()
	logger.Error(ctx, "judge failed", zap.Error(err))
}

func copyFile(src, dst string) error {
	if sameFile(src, dst) {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return appErr.Wrapf(err, appErr.FixtureNotFound, "input fixture not found: %s", src)
		}
		return appErr.Wrapf(err, appErr.JudgeSystemError, "open input fixture failed: %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "create working input failed: %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return appErr.Wrapf(err, appErr.JudgeSystemError, "copy input fixture failed")
	}
	if err := out.Close(); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "close working input failed")
	}
	return nil
}

func sameFile(a, b string) bool {
	sa, errA := os.Stat(a)
	sb, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(sa, sb)
}
