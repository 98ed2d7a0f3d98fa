// Package compiler shells out to an external toolchain.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	defaultOutputOption = "-o"
	defaultTimeout      = 30 * time.Second
	maxLogBytes         = 64 * 1024
)

// Compiler runs `Name Args... source OutputOption output`.
type Compiler struct {
	Name         string
	Args         []string
	OutputOption string
	Timeout      time.Duration
}

// ParseCommand splits a command line such as "g++ -O2 -std=c++17" into a Compiler.
func ParseCommand(line, outputOption string) (*Compiler, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse compiler command failed")
	}
	if len(fields) == 0 {
		return nil, appErr.ValidationError("compiler", "command is empty")
	}
	if outputOption == "" {
		outputOption = defaultOutputOption
	}
	return &Compiler{Name: fields[0], Args: fields[1:], OutputOption: outputOption}, nil
}

// Command returns the argv used for one compilation.
func (c *Compiler) Command(source, output string) []string {
	argv := make([]string, 0, len(c.Args)+4)
	argv = append(argv, c.Name)
	argv = append(argv, c.Args...)
	argv = append(argv, source)
	if opt := c.outputOption(); strings.HasSuffix(opt, "=") {
		argv = append(argv, opt+output)
	} else {
		argv = append(argv, opt, output)
	}
	return argv
}

// Compile builds source into output. A toolchain failure returns
// CompilationError with the captured diagnostics in the "log" detail.
func (c *Compiler) Compile(ctx context.Context, source, output string) error {
	if c.Name == "" {
		return appErr.ValidationError("compiler", "name is required")
	}
	if _, err := os.Stat(source); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "source not found: %s", source)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "create output dir failed")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := c.Command(source, output)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var diag bytes.Buffer
	cmd.Stdout = &limitedBuffer{buf: &diag, max: maxLogBytes}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	err := cmd.Run()
	logger.Info(ctx, "compile finished",
		zap.Strings("cmd", argv),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return appErr.New(appErr.CompilationError).
			WithMessagef("compilation timed out after %s", timeout).
			WithDetail("log", diag.String())
	case errors.As(err, &exitErr):
		return appErr.Newf(appErr.CompilationError, "can't compile file: %s", source).
			WithDetail("log", diag.String()).
			WithDetail("exit_code", exitErr.ExitCode())
	default:
		return appErr.Wrapf(err, appErr.CompilationError, "run compiler failed: %v", err).
			WithDetail("log", diag.String())
	}
}

func (c *Compiler) outputOption() string {
	if c.OutputOption == "" {
		return defaultOutputOption
	}
	return c.OutputOption
}

// limitedBuffer keeps the first max bytes and drops the rest.
type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}
