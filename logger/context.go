package logger

import (
	"context"
	"sync/atomic"
)

type contextKey string

const (
	// callCounterKey tracks the number of HTTP attempts made on behalf of one operation
	callCounterKey contextKey = "api_call_counter"
	// callElapsedKey tracks the total time spent in those attempts
	callElapsedKey contextKey = "api_call_elapsed_nanos"
)

// WithCallCounter returns a context that accumulates API attempt counts and
// elapsed time. Nested calls reuse an existing counter.
func WithCallCounter(ctx context.Context) context.Context {
	if _, ok := ctx.Value(callCounterKey).(*int64); ok {
		return ctx
	}
	counter := int64(0)
	elapsed := int64(0)
	ctx = context.WithValue(ctx, callCounterKey, &counter)
	ctx = context.WithValue(ctx, callElapsedKey, &elapsed)
	return ctx
}

// IncrementCallCounter increments the API attempt counter in ctx, if present.
func IncrementCallCounter(ctx context.Context) {
	if counter, ok := ctx.Value(callCounterKey).(*int64); ok && counter != nil {
		atomic.AddInt64(counter, 1)
	}
}

// CallCount returns the number of API attempts recorded in ctx.
func CallCount(ctx context.Context) int64 {
	if counter, ok := ctx.Value(callCounterKey).(*int64); ok && counter != nil {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// AddCallElapsed adds nanos to the elapsed time recorded in ctx.
func AddCallElapsed(ctx context.Context, nanos int64) {
	if elapsed, ok := ctx.Value(callElapsedKey).(*int64); ok && elapsed != nil {
		atomic.AddInt64(elapsed, nanos)
	}
}

// CallElapsed returns the total elapsed nanoseconds recorded in ctx.
func CallElapsed(ctx context.Context) int64 {
	if elapsed, ok := ctx.Value(callElapsedKey).(*int64); ok && elapsed != nil {
		return atomic.LoadInt64(elapsed)
	}
	return 0
}
