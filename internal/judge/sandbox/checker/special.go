package checker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/result"
	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const (
	defaultSpecialTimeout = 10 * time.Second
	maxSpecialOutput      = 4 * 1024
)

// Exit statuses understood from a special judge.
const (
	specialAccepted   = 0
	specialWrong      = 1
	specialAcceptable = 2
)

// specialChecker runs an external program that decides the verdict.
// The command may reference {input}, {output} and {answer}; without any
// placeholder the three paths are appended in that order.
type specialChecker struct {
	name    string
	dir     string
	argv    []string
	timeout time.Duration
}

func newSpecialChecker(d Descriptor) (Checker, error) {
	if strings.TrimSpace(d.Command) == "" {
		return nil, appErr.Newf(appErr.CheckerLoadFailed, "special checker %q requires a command", d.Name)
	}
	argv, err := shlex.Split(d.Command)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CheckerLoadFailed, "parse checker command failed")
	}
	if len(argv) == 0 {
		return nil, appErr.Newf(appErr.CheckerLoadFailed, "special checker %q command is empty", d.Name)
	}
	if !hasPlaceholder(argv) {
		argv = append(argv, "{input}", "{output}", "{answer}")
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultSpecialTimeout
	}
	return &specialChecker{name: d.Name, dir: d.Dir, argv: argv, timeout: timeout}, nil
}

func hasPlaceholder(argv []string) bool {
	for _, a := range argv {
		if strings.Contains(a, "{input}") || strings.Contains(a, "{output}") || strings.Contains(a, "{answer}") {
			return true
		}
	}
	return false
}

func (c *specialChecker) Name() string { return c.name }

func (c *specialChecker) Check(ctx context.Context, tc *model.Testcase) (Result, error) {
	input := tc.InputFilename
	if input == "" {
		input = tc.StandardInput
	}
	// The judge runs inside its checker dir, so relative paths would miss.
	replacer := strings.NewReplacer(
		"{input}", absPath(input),
		"{output}", absPath(tc.UserOutput),
		"{answer}", absPath(tc.StandardOutput),
	)
	argv := make([]string, len(c.argv))
	for i, a := range c.argv {
		argv[i] = replacer.Replace(a)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = c.dir
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &cappedWriter{buf: &out, max: maxSpecialOutput}
	cmd.Stderr = cmd.Stdout

	err := cmd.Run()
	msg := strings.TrimSpace(out.String())
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return verdict(result.VerdictJudgementError, fmt.Sprintf("special judge timed out after %s", c.timeout)), nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, appErr.Wrapf(err, appErr.CheckerFailed, "run special judge failed: %v", err)
		}
	}

	code := cmd.ProcessState.ExitCode()
	logger.Debug(ctx, "special judge finished",
		zap.String("checker", c.name),
		zap.Int("exit_code", code),
	)
	switch code {
	case specialAccepted:
		return verdict(result.VerdictAccepted, msg), nil
	case specialWrong:
		return verdict(result.VerdictWrongAnswer, msg), nil
	case specialAcceptable:
		return verdict(result.VerdictAcceptable, msg), nil
	default:
		if msg == "" {
			msg = fmt.Sprintf("special judge exited with status %d", code)
		}
		return verdict(result.VerdictJudgementError, msg), nil
	}
}

func absPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

type cappedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := w.max - w.buf.Len(); room > 0 {
		if n > room {
			p = p[:room]
		}
		w.buf.Write(p)
	}
	return n, nil
}
