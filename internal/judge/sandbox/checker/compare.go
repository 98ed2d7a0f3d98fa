package checker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"fujudge/internal/judge/model"
	"fujudge/internal/judge/sandbox/result"
	appErr "fujudge/pkg/errors"
)

const (
	maxLineBytes   = 64 << 20
	maxShownBytes  = 64
	defaultEpsilon = 1e-6
)

func openPair(tc *model.Testcase) (answer, output *os.File, err error) {
	if tc.StandardOutput == "" {
		return nil, nil, appErr.ValidationError("standard_output", "required")
	}
	if tc.UserOutput == "" {
		return nil, nil, appErr.ValidationError("user_output", "required")
	}
	answer, err = os.Open(tc.StandardOutput)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.CheckerFailed, "open reference output failed")
	}
	output, err = os.Open(tc.UserOutput)
	if err != nil {
		answer.Close()
		return nil, nil, appErr.Wrapf(err, appErr.CheckerFailed, "open user output failed")
	}
	return answer, output, nil
}

func shorten(s string) string {
	if len(s) <= maxShownBytes {
		return s
	}
	return s[:maxShownBytes] + "..."
}

type acceptChecker struct{ name string }

func (c *acceptChecker) Name() string { return c.name }

func (c *acceptChecker) Check(ctx context.Context, tc *model.Testcase) (Result, error) {
	return Accepted(), nil
}

// exactChecker requires byte-identical output.
type exactChecker struct{ name string }

func (c *exactChecker) Name() string { return c.name }

func (c *exactChecker) Check(ctx context.Context, tc *model.Testcase) (Result, error) {
	answer, output, err := openPair(tc)
	if err != nil {
		return Result{}, err
	}
	defer answer.Close()
	defer output.Close()

	ra, ro := bufio.NewReader(answer), bufio.NewReader(output)
	bufA, bufO := make([]byte, 32*1024), make([]byte, 32*1024)
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		na, errA := io.ReadFull(ra, bufA)
		no, errO := io.ReadFull(ro, bufO)
		n := min(na, no)
		if i := firstDiff(bufA[:n], bufO[:n]); i >= 0 {
			return verdict(result.VerdictWrongAnswer, fmt.Sprintf("output differs at byte %d", offset+int64(i))), nil
		}
		if na != no {
			return verdict(result.VerdictWrongAnswer, fmt.Sprintf("output length differs at byte %d", offset+int64(n))), nil
		}
		offset += int64(n)
		endA, endO := isEOF(errA), isEOF(errO)
		if errA != nil && !endA {
			return Result{}, appErr.Wrapf(errA, appErr.CheckerFailed, "read reference output failed")
		}
		if errO != nil && !endO {
			return Result{}, appErr.Wrapf(errO, appErr.CheckerFailed, "read user output failed")
		}
		if endA || endO {
			return Accepted(), nil
		}
	}
}

func isEOF(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

func firstDiff(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

// linesChecker ignores trailing whitespace on each line and trailing blank
// lines. Output that only matches token by token is ACCEPTABLE.
type linesChecker struct{ name string }

func (c *linesChecker) Name() string { return c.name }

func (c *linesChecker) Check(ctx context.Context, tc *model.Testcase) (Result, error) {
	answer, output, err := openPair(tc)
	if err != nil {
		return Result{}, err
	}
	defer answer.Close()
	defer output.Close()

	want, err := readLines(answer)
	if err != nil {
		return Result{}, appErr.Wrapf(err, appErr.CheckerFailed, "read reference output failed")
	}
	got, err := readLines(output)
	if err != nil {
		return Result{}, appErr.Wrapf(err, appErr.CheckerFailed, "read user output failed")
	}

	diff := -1
	for i := 0; i < max(len(want), len(got)); i++ {
		if i >= len(want) || i >= len(got) || want[i] != got[i] {
			diff = i
			break
		}
	}
	if diff < 0 {
		return Accepted(), nil
	}
	if tokensEqual(want, got) {
		return verdict(result.VerdictAcceptable, fmt.Sprintf("presentation differs at line %d", diff+1)), nil
	}
	return verdict(result.VerdictWrongAnswer, fmt.Sprintf("line %d differs: expected %q, got %q",
		diff+1, shorten(lineAt(want, diff)), shorten(lineAt(got, diff)))), nil
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), " \t\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return "<EOF>"
}

func tokensEqual(a, b []string) bool {
	ta := strings.Fields(strings.Join(a, "\n"))
	tb := strings.Fields(strings.Join(b, "\n"))
	if len(ta) != len(tb) {
		return false
	}
	for i := range ta {
		if ta[i] != tb[i] {
			return false
		}
	}
	return true
}

// tokensChecker compares whitespace separated tokens.
type tokensChecker struct{ name string }

func (c *tokensChecker) Name() string { return c.name }

func (c *tokensChecker) Check(ctx context.Context, tc *model.Testcase) (Result, error) {
	return compareTokens(ctx, tc, func(want, got string) bool { return want == got })
}

// floatChecker compares tokens numerically when both parse as floats.
type floatChecker struct {
	name     string
	epsilon  float64
	relative bool
}

func newFloatChecker(d Descriptor) (Checker, error) {
	eps := d.Epsilon
	if eps == 0 {
		eps = defaultEpsilon
	}
	if eps < 0 || math.IsNaN(eps) {
		return nil, appErr.Newf(appErr.CheckerLoadFailed, "invalid epsilon %v", d.Epsilon)
	}
	return &floatChecker{name: d.Name, epsilon: eps, relative: d.Relative}, nil
}

func (c *floatChecker) Name() string { return c.name }

func (c *floatChecker) Check(ctx context.Context, tc *model.Testcase) (Result, error) {
	return compareTokens(ctx, tc, c.close)
}

func (c *floatChecker) close(want, got string) bool {
	a, errA := strconv.ParseFloat(want, 64)
	b, errB := strconv.ParseFloat(got, 64)
	if errA != nil || errB != nil {
		return want == got
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	diff := math.Abs(a - b)
	if diff <= c.epsilon {
		return true
	}
	return c.relative && diff <= c.epsilon*math.Abs(a)
}

func compareTokens(ctx context.Context, tc *model.Testcase, equal func(want, got string) bool) (Result, error) {
	answer, output, err := openPair(tc)
	if err != nil {
		return Result{}, err
	}
	defer answer.Close()
	defer output.Close()

	sa, so := wordScanner(answer), wordScanner(output)
	for n := 1; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		okA, okO := sa.Scan(), so.Scan()
		if !okA || !okO {
			if err := sa.Err(); err != nil {
				return Result{}, appErr.Wrapf(err, appErr.CheckerFailed, "read reference output failed")
			}
			if err := so.Err(); err != nil {
				return Result{}, appErr.Wrapf(err, appErr.CheckerFailed, "read user output failed")
			}
			switch {
			case okA:
				return verdict(result.VerdictWrongAnswer, fmt.Sprintf("output ended early at token %d, expected %q", n, shorten(sa.Text()))), nil
			case okO:
				return verdict(result.VerdictWrongAnswer, fmt.Sprintf("extra output at token %d: %q", n, shorten(so.Text()))), nil
			}
			return Accepted(), nil
		}
		if !equal(sa.Text(), so.Text()) {
			return verdict(result.VerdictWrongAnswer, fmt.Sprintf("token %d differs: expected %q, got %q",
				n, shorten(sa.Text()), shorten(so.Text()))), nil
		}
	}
}

func wordScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	sc.Split(bufio.ScanWords)
	return sc
}
