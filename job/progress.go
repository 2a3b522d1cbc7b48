package job

import "context"

// progressKey is the context key for the per-execution progress reporter.
type progressKey struct{}

// ProgressFunc receives progress updates in the 0–100 range.
type ProgressFunc func(pct int)

// WithProgressReporter returns a context carrying a progress reporter.
// The executor installs one before invoking a handler.
func WithProgressReporter(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress lets a handler report execution progress (0–100) for
// observability. Values are clamped; calling it outside a job execution
// is a no-op.
func ReportProgress(ctx context.Context, pct int) {
	fn, ok := ctx.Value(progressKey{}).(ProgressFunc)
	if !ok {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	fn(pct)
}
