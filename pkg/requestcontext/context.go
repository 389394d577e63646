// Package requestcontext carries request-scoped values from middleware to
// services without an HTTP dependency: the correlation id stamped on events
// and log lines, and the single "now" used for every event of a request.
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	keyRequestID key = iota
	keyNow
)

// RequestID returns the correlation id, or "" outside a request.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(keyRequestID).(string)
	return v
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// Now returns the time pinned by WithTime. The relay worker, the CLI and
// unit tests that never pin one get the wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(keyNow).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the time Now reports for ctx.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyNow, t.UTC())
}
