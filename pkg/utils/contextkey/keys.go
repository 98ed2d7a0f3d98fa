package contextkey

import "context"

// Key is a distinct type to avoid context key collisions across packages.
type Key string

const (
	TraceID    Key = "trace_id"
	RequestID  Key = "request_id"
	RunID      Key = "run_id"
	TestcaseID Key = "testcase_id"
)

// WithRunID attaches a run identifier used by the logger.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunID, runID)
}

// WithTestcaseID attaches the testcase being judged.
func WithTestcaseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TestcaseID, id)
}

// String reads a string value stored under k.
func String(ctx context.Context, k Key) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(k).(string)
	return v
}
