package http

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammoth-analytics/mammoth-go/apierr"
	"github.com/mammoth-analytics/mammoth-go/clock"
	"github.com/mammoth-analytics/mammoth-go/logger"
	"github.com/mammoth-analytics/mammoth-go/trace"
)

const (
	testBaseURL = "https://api.example.com/api/v2"
	testKey     = "test-key"
	testSecret  = "test-secret"
)

type roundTripperFunc func(*nethttp.Request) (*nethttp.Response, error)

func (f roundTripperFunc) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *nethttp.Response {
	return &nethttp.Response{
		StatusCode: status,
		Header:     nethttp.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func connRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func newTestClient(rt nethttp.RoundTripper, clk clock.Clock) Client {
	return NewBuilder(logger.Nop()).
		WithBaseURL(testBaseURL).
		WithCredentials(testKey, testSecret).
		WithTransport(rt).
		WithClock(clk).
		Build()
}

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestRetriesTransportFailuresThenSucceeds(t *testing.T) {
	var attempts int32
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return nil, connRefused()
		}
		return jsonResponse(200, `{"ok":true}`), nil
	})
	clk := newFakeClock()

	resp, err := newTestClient(rt, clk).Get(context.Background(), &Request{Path: "/jobs"})
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.Sleeps())
	assert.Equal(t, 3, resp.Stats.Attempts)
	assert.Equal(t, 3*time.Second, resp.Stats.ElapsedTime)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestTransportFailureSurfacesAfterRetries(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		prefix string
	}{
		{name: "connection", err: connRefused(), prefix: "Connection error: "},
		{name: "timeout", err: context.DeadlineExceeded, prefix: "Request timeout: "},
		{name: "other", err: errors.New("tls: bad certificate"), prefix: "Request error: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
				atomic.AddInt32(&attempts, 1)
				return nil, tt.err
			})
			clk := newFakeClock()

			_, err := newTestClient(rt, clk).Get(context.Background(), &Request{Path: "/jobs/1"})
			require.Error(t, err)

			apiErr, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, apierr.KindAPI, apiErr.Kind)
			assert.Zero(t, apiErr.StatusCode)
			assert.True(t, strings.HasPrefix(apiErr.Message, tt.prefix), apiErr.Message)
			assert.ErrorIs(t, err, tt.err)

			assert.Equal(t, int32(DefaultMaxRetries+1), atomic.LoadInt32(&attempts))
			assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, clk.Sleeps())
		})
	}
}

func TestZeroRetriesMakesOneAttempt(t *testing.T) {
	var attempts int32
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, connRefused()
	})
	clk := newFakeClock()
	c := NewBuilder(nil).WithBaseURL(testBaseURL).WithTransport(rt).WithClock(clk).WithRetries(0, time.Second).Build()

	_, err := c.Get(context.Background(), &Request{Path: "jobs"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Empty(t, clk.Sleeps())
}

func TestUnauthorizedIsNotRetried(t *testing.T) {
	var attempts int32
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return jsonResponse(401, `{"detail":"bad key"}`), nil
	})
	clk := newFakeClock()

	_, err := newTestClient(rt, clk).Get(context.Background(), &Request{Path: "/jobs"})
	require.Error(t, err)

	assert.True(t, apierr.Is(err, apierr.KindAuth))
	assert.Equal(t, "auth error: Invalid API credentials", err.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Empty(t, clk.Sleeps())
}

func TestErrorResponsesAreClassified(t *testing.T) {
	longText := strings.Repeat("x", 250)

	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "detail_string", status: 404, body: `{"detail":"File not found"}`, message: "API request failed: File not found"},
		{name: "detail_structured", status: 422, body: `{"detail":[{"loc":["name"]}]}`, message: `API request failed: [{"loc":["name"]}]`},
		{name: "json_without_detail", status: 500, body: `{"error":"boom"}`, message: "API request failed: HTTP 500"},
		{name: "json_array", status: 400, body: `[1,2]`, message: "API request failed: HTTP 400"},
		{name: "plain_text", status: 502, body: "Bad Gateway", message: "API request failed: HTTP 502: Bad Gateway"},
		{name: "truncated_text", status: 503, body: longText, message: "API request failed: HTTP 503: " + longText[:200]},
		{name: "invalid_success_json", status: 200, body: "<html>", message: "Invalid JSON response: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
				atomic.AddInt32(&attempts, 1)
				return jsonResponse(tt.status, tt.body), nil
			})
			clk := newFakeClock()

			_, err := newTestClient(rt, clk).Get(context.Background(), &Request{Path: "/jobs"})
			require.Error(t, err)

			apiErr, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, apierr.KindAPI, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.body, string(apiErr.Body))
			assert.True(t, strings.HasPrefix(apiErr.Message, tt.message), apiErr.Message)
			assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "application errors are never retried")
			assert.Empty(t, clk.Sleeps())
		})
	}
}

func TestEmptySuccessResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "no_content", status: 204, body: ""},
		{name: "no_content_with_body", status: 204, body: "ignored"},
		{name: "empty_ok", status: 200, body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
				return jsonResponse(tt.status, tt.body), nil
			})

			resp, err := newTestClient(rt, newFakeClock()).Delete(context.Background(), &Request{Path: "/files/1"})
			require.NoError(t, err)
			assert.True(t, resp.Empty())

			var out map[string]any
			require.NoError(t, resp.Decode(&out))
			assert.Nil(t, out)
		})
	}
}

func TestRequestHeadersAndURL(t *testing.T) {
	var (
		mu  sync.Mutex
		got *nethttp.Request
		raw []byte
	)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, raw = r, body
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job":{"id":1}}`))
	}))
	defer server.Close()

	c := NewBuilder(logger.Nop()).
		WithBaseURL(server.URL+"/api/v2/").
		WithCredentials(testKey, testSecret).
		WithUserAgent("mammoth-go-test").
		WithDefaultHeader("X-Extra", "1").
		Build()

	ctx := trace.WithTraceID(context.Background(), "trace-123")
	resp, err := c.Post(ctx, &Request{
		Path:    "/workspaces/1/projects/2/files",
		Query:   url.Values{"job_ids": []string{""}, "limit": []string{"10"}},
		JSON:    map[string]any{"name": "orders"},
		Headers: map[string]string{"X-Extra": "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, nethttp.MethodPost, got.Method)
	assert.Equal(t, "/api/v2/workspaces/1/projects/2/files", got.URL.Path)
	assert.Equal(t, "job_ids=&limit=10", got.URL.RawQuery)
	assert.Equal(t, testKey, got.Header.Get(HeaderAPIKey))
	assert.Equal(t, testSecret, got.Header.Get(HeaderAPISecret))
	assert.Equal(t, "mammoth-go-test", got.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "2", got.Header.Get("X-Extra"))
	assert.Equal(t, "trace-123", got.Header.Get(trace.HeaderXRequestID))
	assert.NotEmpty(t, got.Header.Get(trace.HeaderTraceParent))
	assert.JSONEq(t, `{"name":"orders"}`, string(raw))
}

func TestTraceHeadersStableAcrossRetries(t *testing.T) {
	var ids, parents []string
	rt := roundTripperFunc(func(r *nethttp.Request) (*nethttp.Response, error) {
		ids = append(ids, r.Header.Get(trace.HeaderXRequestID))
		parents = append(parents, r.Header.Get(trace.HeaderTraceParent))
		if len(ids) == 1 {
			return nil, connRefused()
		}
		return jsonResponse(200, `{}`), nil
	})

	_, err := newTestClient(rt, newFakeClock()).Get(context.Background(), &Request{Path: "/jobs"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, parents[0], parents[1])
}

func TestMultipartUploadIsRebuiltPerAttempt(t *testing.T) {
	var (
		opens    int32
		attempts int32
	)
	part := FileFromBytes("orders.csv", []byte("id,total\n1,9.5\n"))
	open := part.Open
	part.Open = func() (io.ReadCloser, error) {
		atomic.AddInt32(&opens, 1)
		return open()
	}

	rt := roundTripperFunc(func(r *nethttp.Request) (*nethttp.Response, error) {
		n := atomic.AddInt32(&attempts, 1)

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mediaType)

		reader := multipart.NewReader(r.Body, params["boundary"])
		p, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "files", p.FormName())
		assert.Equal(t, "orders.csv", p.FileName())
		assert.Equal(t, "application/octet-stream", p.Header.Get("Content-Type"))
		content, err := io.ReadAll(p)
		require.NoError(t, err)
		assert.Equal(t, "id,total\n1,9.5\n", string(content))

		if n == 1 {
			return nil, connRefused()
		}
		return jsonResponse(200, `[{"status_code":200,"job_id":7}]`), nil
	})

	resp, err := newTestClient(rt, newFakeClock()).Post(context.Background(), &Request{
		Path:  "/workspaces/1/projects/2/files",
		Files: []FilePart{part},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Stats.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&opens))
}

func TestUnreadableFileIsValidationError(t *testing.T) {
	var attempts int32
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return jsonResponse(200, `{}`), nil
	})

	_, err := newTestClient(rt, newFakeClock()).Post(context.Background(), &Request{
		Path:  "/files",
		Files: []FilePart{FileFromPath("/does/not/exist.csv")},
	})
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.KindValidation))
	assert.Zero(t, atomic.LoadInt32(&attempts))
}

func TestRequestValidation(t *testing.T) {
	c := newTestClient(roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	}), newFakeClock())

	_, err := c.Get(context.Background(), nil)
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	_, err = c.Post(context.Background(), &Request{
		Path:  "/files",
		JSON:  map[string]any{},
		Files: []FilePart{FileFromBytes("a.csv", nil)},
	})
	assert.True(t, apierr.Is(err, apierr.KindValidation))

	_, err = c.Post(context.Background(), &Request{Path: "/files", JSON: make(chan int)})
	assert.True(t, apierr.Is(err, apierr.KindValidation))
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		atomic.AddInt32(&attempts, 1)
		cancel()
		return nil, connRefused()
	})
	clk := newFakeClock()

	_, err := newTestClient(rt, clk).Get(ctx, &Request{Path: "/jobs"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, apierr.Is(err, apierr.KindAPI))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Empty(t, clk.Sleeps())
}

func TestPerRequestTimeoutOverridesDefault(t *testing.T) {
	var remaining time.Duration
	rt := roundTripperFunc(func(r *nethttp.Request) (*nethttp.Response, error) {
		deadline, ok := r.Context().Deadline()
		require.True(t, ok)
		remaining = time.Until(deadline)
		return jsonResponse(200, `{}`), nil
	})

	_, err := newTestClient(rt, newFakeClock()).Get(context.Background(), &Request{Path: "/jobs", Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.LessOrEqual(t, remaining, 2*time.Second)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestCallCounterCountsAttempts(t *testing.T) {
	var attempts int32
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, connRefused()
		}
		return jsonResponse(200, `{}`), nil
	})
	c := newTestClient(rt, newFakeClock())

	ctx := logger.WithCallCounter(context.Background())
	_, err := c.Get(ctx, &Request{Path: "/jobs"})
	require.NoError(t, err)
	_, err = c.Get(ctx, &Request{Path: "/jobs"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), logger.CallCount(ctx))
}

func TestRequestInterceptorAndRateLimit(t *testing.T) {
	rt := roundTripperFunc(func(r *nethttp.Request) (*nethttp.Response, error) {
		assert.Equal(t, "yes", r.Header.Get("X-Intercepted"))
		return jsonResponse(200, `{}`), nil
	})

	c := NewBuilder(logger.Nop()).
		WithBaseURL(testBaseURL).
		WithTransport(rt).
		WithRateLimit(1000, 5).
		WithRequestInterceptor(func(_ context.Context, r *nethttp.Request) error {
			r.Header.Set("X-Intercepted", "yes")
			return nil
		}).
		Build()

	for range 3 {
		_, err := c.Get(context.Background(), &Request{Path: "/jobs"})
		require.NoError(t, err)
	}

	failing := NewBuilder(logger.Nop()).
		WithBaseURL(testBaseURL).
		WithTransport(rt).
		WithRequestInterceptor(func(context.Context, *nethttp.Request) error { return errors.New("denied") }).
		Build()
	_, err := failing.Get(context.Background(), &Request{Path: "/jobs"})
	assert.True(t, apierr.Is(err, apierr.KindValidation))
}

func TestRateLimitWaitsOnClientClock(t *testing.T) {
	rt := roundTripperFunc(func(*nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(200, `{}`), nil
	})
	clk := newFakeClock()
	c := NewBuilder(logger.Nop()).
		WithBaseURL(testBaseURL).
		WithTransport(rt).
		WithClock(clk).
		WithRateLimit(2, 1).
		Build()

	for range 3 {
		_, err := c.Get(context.Background(), &Request{Path: "/jobs"})
		require.NoError(t, err)
	}
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clk.Sleeps())
}

func TestAbsolutePathIsUsedAsIs(t *testing.T) {
	var got string
	rt := roundTripperFunc(func(r *nethttp.Request) (*nethttp.Response, error) {
		got = r.URL.String()
		return jsonResponse(200, `{}`), nil
	})

	_, err := newTestClient(rt, newFakeClock()).Get(context.Background(), &Request{Path: "https://other.example.com/x?a=1", Query: url.Values{"b": {"2"}}})
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x?a=1&b=2", got)
}
