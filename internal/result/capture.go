package result

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mmassist/internal/metrics"
)

// Call describes one external capability invocation for Capture.
type Call struct {
	Capability string             // metrics label and log field, e.g. "transcribe"
	Logger     *zap.SugaredLogger // nil disables logging
	Monitor    *metrics.Monitor   // nil uses metrics.Calls
	Fields     []any              // extra structured log fields
}

// Capture runs fn, records its latency and outcome, and converts an error
// into a logged, classified Failure.
func Capture[T any](ctx context.Context, c Call, fn func(ctx context.Context) (T, error)) Result[T] {
	mon := c.Monitor
	if mon == nil {
		mon = metrics.Calls
	}

	start := time.Now()
	v, err := fn(ctx)
	elapsed := time.Since(start)
	mon.Observe(c.Capability, elapsed, err == nil)

	if err != nil {
		kind := Classify(err)
		if c.Logger != nil {
			fields := append([]any{
				"capability", c.Capability,
				"kind", kind,
				"elapsed", elapsed,
				"error", err,
			}, c.Fields...)
			c.Logger.Errorw("capability call failed", fields...)
		}
		return Failure[T](kind, c.Capability+" failed", err)
	}

	if c.Logger != nil {
		c.Logger.Debugw("capability call succeeded", append([]any{"capability", c.Capability, "elapsed", elapsed}, c.Fields...)...)
	}
	return Success(v)
}
