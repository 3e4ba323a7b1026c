// Package trace carries request correlation identifiers through a context and
// onto outgoing API requests.
package trace

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	nethttp "net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	traceIDKey     contextKey = "trace_id"
	traceParentKey contextKey = "traceparent"

	// HeaderXRequestID is the header used to correlate client and server logs.
	HeaderXRequestID = "X-Request-ID"
	// HeaderTraceParent is the W3C trace context header name.
	HeaderTraceParent = "traceparent"
)

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// IDFromContext returns the trace ID stored in ctx.
func IDFromContext(ctx context.Context) (string, bool) {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		return traceID, true
	}
	return "", false
}

// EnsureTraceID returns the trace ID from ctx, generating one when absent.
func EnsureTraceID(ctx context.Context) string {
	if traceID, ok := IDFromContext(ctx); ok {
		return traceID
	}
	return uuid.New().String()
}

// Ensure returns ctx with a trace ID and traceparent, reusing existing values.
// Retries of one logical call share the values so the server sees one trace.
func Ensure(ctx context.Context) context.Context {
	if _, ok := IDFromContext(ctx); !ok {
		ctx = WithTraceID(ctx, uuid.New().String())
	}
	if _, ok := ParentFromContext(ctx); !ok {
		ctx = WithTraceParent(ctx, GenerateTraceParent())
	}
	return ctx
}

// WithTraceParent adds a W3C traceparent value to the context.
func WithTraceParent(ctx context.Context, traceParent string) context.Context {
	return context.WithValue(ctx, traceParentKey, traceParent)
}

// ParentFromContext returns the traceparent stored in ctx.
func ParentFromContext(ctx context.Context) (string, bool) {
	if tp, ok := ctx.Value(traceParentKey).(string); ok && tp != "" {
		return tp, true
	}
	return "", false
}

// Inject copies the context's trace values onto req. headerName overrides
// X-Request-ID when non-empty.
func Inject(ctx context.Context, req *nethttp.Request, headerName string) {
	if headerName == "" {
		headerName = HeaderXRequestID
	}
	if req.Header.Get(headerName) == "" {
		req.Header.Set(headerName, EnsureTraceID(ctx))
	}
	if tp, ok := ParentFromContext(ctx); ok && req.Header.Get(HeaderTraceParent) == "" {
		req.Header.Set(HeaderTraceParent, tp)
	}
}

// GenerateTraceParent creates a W3C traceparent value:
// version(2)-trace-id(32)-span-id(16)-flags(2).
func GenerateTraceParent() string {
	traceID := make([]byte, 16)
	spanID := make([]byte, 8)
	_, _ = crand.Read(traceID)
	_, _ = crand.Read(spanID)
	// all-zero ids are invalid in W3C trace context
	if allZero(traceID) {
		traceID[len(traceID)-1] = 0x01
	}
	if allZero(spanID) {
		spanID[len(spanID)-1] = 0x01
	}
	return "00-" + hex.EncodeToString(traceID) + "-" + hex.EncodeToString(spanID) + "-01"
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
