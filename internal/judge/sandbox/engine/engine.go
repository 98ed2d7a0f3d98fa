// Package engine starts judged programs and supervises their lifetime.
package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"fujudge/internal/judge/sandbox/spec"
	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Launcher starts one child process for a RunSpec. Isolation layers
// (namespaces, cgroups, containers) plug in by implementing Launcher.
type Launcher interface {
	Start(ctx context.Context, runSpec spec.RunSpec) (Process, error)
}

// Process is a started child.
type Process interface {
	Pid() int
	// Wait blocks until the child exits or timeout elapses. A non-positive
	// timeout waits without bound. exited is false when the bound elapsed.
	Wait(timeout time.Duration) (exited bool, err error)
	// Kill terminates the child and everything it spawned.
	Kill() error
	// ExitCode is valid only after Wait reported exited.
	ExitCode() int
	// Close kills a still running child, reaps it and releases its files.
	Close() error
}

// DefaultEnv is the environment given to judged programs.
var DefaultEnv = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "LANG=C.UTF-8"}

// DirectLauncher runs the program on the host, in its own process group.
type DirectLauncher struct {
	Env []string
}

// NewDirectLauncher returns a launcher using DefaultEnv.
func NewDirectLauncher() *DirectLauncher {
	return &DirectLauncher{Env: DefaultEnv}
}

func (l *DirectLauncher) Start(ctx context.Context, runSpec spec.RunSpec) (Process, error) {
	if err := runSpec.Validate(); err != nil {
		return nil, appErr.Wrapf(err, appErr.ProcessStartFailed, "invalid run spec: %v", err)
	}

	stdin, err := os.Open(runSpec.StdinPath)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ProcessStartFailed, "open stdin failed: %s", runSpec.StdinPath)
	}
	stdout, err := os.OpenFile(runSpec.StdoutPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		stdin.Close()
		return nil, appErr.Wrapf(err, appErr.ProcessStartFailed, "open stdout failed: %s", runSpec.StdoutPath)
	}
	files := []io.Closer{stdin, stdout}

	cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	if runSpec.StderrPath != "" {
		stderr, err := os.OpenFile(runSpec.StderrPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			closeAll(files)
			return nil, appErr.Wrapf(err, appErr.ProcessStartFailed, "open stderr failed: %s", runSpec.StderrPath)
		}
		cmd.Stderr = stderr
		files = append(files, stderr)
	}
	cmd.Env = runSpec.Env
	if cmd.Env == nil {
		cmd.Env = l.Env
	}
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		closeAll(files)
		return nil, appErr.Wrapf(err, appErr.ProcessStartFailed, "start process failed: %v", err)
	}
	logger.Debug(ctx, "process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("cmd", runSpec.Cmd),
	)

	p := &hostProcess{
		cmd:   cmd,
		files: files,
		done:  make(chan struct{}),
	}
	go p.reap()
	return p, nil
}

type hostProcess struct {
	cmd   *exec.Cmd
	files []io.Closer
	done  chan struct{}

	waitErr error
	once    sync.Once
}

func (p *hostProcess) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *hostProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *hostProcess) Wait(timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		<-p.done
		return true, p.exitErr()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true, p.exitErr()
	case <-timer.C:
		return false, nil
	}
}

// exitErr hides the ExitError for a non-zero status; callers read ExitCode.
func (p *hostProcess) exitErr() error {
	var exitErr *exec.ExitError
	if p.waitErr == nil || errors.As(p.waitErr, &exitErr) {
		return nil
	}
	return p.waitErr
}

func (p *hostProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killGroup(p.cmd.Process)
}

func (p *hostProcess) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}
	return exitCodeFromState(p.cmd.ProcessState)
}

func (p *hostProcess) Close() error {
	var err error
	p.once.Do(func() {
		err = p.Kill()
		<-p.done
		closeAll(p.files)
	})
	return err
}

func exitCodeFromState(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}

func closeAll(files []io.Closer) {
	for _, f := range files {
		_ = f.Close()
	}
}
