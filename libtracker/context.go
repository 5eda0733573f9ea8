package libtracker

import (
	"context"
	"fmt"
	"math/rand/v2"
)

type contextKey string

var ContextKeyRequestID = contextKey("request_id")
var ContextKeyTraceID = contextKey("trace_id")
var ContextKeySpanID = contextKey("span_id")

// CopyTrackingValues carries request/trace identity from src into dst.
// Used when spawning detached work that should stay correlated with the
// request that triggered it.
func CopyTrackingValues(src context.Context, dst context.Context) context.Context {
	ctx := context.WithValue(dst, ContextKeyRequestID, src.Value(ContextKeyRequestID))
	ctx = context.WithValue(ctx, ContextKeyTraceID, src.Value(ContextKeyTraceID))
	ctx = context.WithValue(ctx, ContextKeySpanID, src.Value(ContextKeySpanID))
	return ctx
}

// WithNewRequestID stamps a fresh random request ID into ctx. Call at the
// top of any goroutine entry point that has no inbound request ID.
func WithNewRequestID(ctx context.Context) context.Context {
	id := fmt.Sprintf("bg-%016x", rand.Uint64())
	return context.WithValue(ctx, ContextKeyRequestID, id)
}
