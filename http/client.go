package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mammoth-analytics/mammoth-go/apierr"
	"github.com/mammoth-analytics/mammoth-go/clock"
	"github.com/mammoth-analytics/mammoth-go/internal/tracking"
	"github.com/mammoth-analytics/mammoth-go/logger"
	"github.com/mammoth-analytics/mammoth-go/trace"
)

const (
	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retries after a transport failure.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the base of the exponential backoff.
	DefaultRetryDelay = 1 * time.Second

	// DefaultUserAgent identifies the client to the server.
	DefaultUserAgent = "mammoth-go/0.1.0"

	HeaderAPIKey    = "X-API-KEY"
	HeaderAPISecret = "X-API-SECRET"

	maxBackoffShift = 20
)

// client implements the Client interface
type client struct {
	httpClient *nethttp.Client
	logger     logger.Logger
	config     *Config
	clock      clock.Clock
	limiter    *rate.Limiter
	callCount  int64
}

// Builder provides a fluent interface for configuring the client
type Builder struct {
	config     *Config
	logger     logger.Logger
	clock      clock.Clock
	httpClient *nethttp.Client
}

// NewBuilder creates a new client builder
func NewBuilder(log logger.Logger) *Builder {
	return &Builder{
		config: &Config{
			Timeout:    DefaultTimeout,
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
			DefaultHeaders: map[string]string{
				"User-Agent": DefaultUserAgent,
				"Accept":     "application/json",
			},
			TraceIDHeader: trace.HeaderXRequestID,
		},
		logger: log,
	}
}

// WithBaseURL sets the URL every request path is joined to.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.BaseURL = strings.TrimRight(baseURL, "/")
	return b
}

// WithTimeout sets the per-attempt timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithRetries sets the retry configuration
func (b *Builder) WithRetries(maxRetries int, retryDelay time.Duration) *Builder {
	b.config.MaxRetries = maxRetries
	b.config.RetryDelay = retryDelay
	return b
}

// WithCredentials sets the API key headers sent on every request.
func (b *Builder) WithCredentials(apiKey, apiSecret string) *Builder {
	b.config.DefaultHeaders[HeaderAPIKey] = apiKey
	b.config.DefaultHeaders[HeaderAPISecret] = apiSecret
	return b
}

// WithUserAgent overrides the User-Agent header.
func (b *Builder) WithUserAgent(userAgent string) *Builder {
	if userAgent != "" {
		b.config.DefaultHeaders["User-Agent"] = userAgent
	}
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithTraceIDHeader changes the header carrying the correlation id.
func (b *Builder) WithTraceIDHeader(name string) *Builder {
	if name != "" {
		b.config.TraceIDHeader = name
	}
	return b
}

// WithRateLimit caps outgoing attempts at perSecond with the given burst.
// A non-positive perSecond disables limiting. Waits for a token go through
// the client clock, so a fake clock records them as sleeps.
func (b *Builder) WithRateLimit(perSecond float64, burst int) *Builder {
	b.config.RateLimit = perSecond
	b.config.RateBurst = burst
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithHTTPClient sets the underlying client. Its Timeout should be zero or
// longer than the per-attempt timeout.
func (b *Builder) WithHTTPClient(hc *nethttp.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithTransport sets the round tripper of the underlying client.
func (b *Builder) WithTransport(rt nethttp.RoundTripper) *Builder {
	b.httpClient = &nethttp.Client{Transport: rt}
	return b
}

// WithClock sets the clock used for backoff sleeps and timing.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// Build creates the client with the configured options
func (b *Builder) Build() Client {
	c := &client{
		httpClient: b.httpClient,
		logger:     b.logger,
		config:     b.config,
		clock:      b.clock,
	}
	if c.httpClient == nil {
		c.httpClient = &nethttp.Client{}
	}
	if c.logger == nil {
		c.logger = logger.Nop()
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if b.config.RateLimit > 0 {
		burst := b.config.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(b.config.RateLimit), burst)
	}
	return c
}

// Get performs a GET request
func (c *client) Get(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodGet, req)
}

// Post performs a POST request
func (c *client) Post(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPost, req)
}

// Put performs a PUT request
func (c *client) Put(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPut, req)
}

// Patch performs a PATCH request
func (c *client) Patch(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodPatch, req)
}

// Delete performs a DELETE request
func (c *client) Delete(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, nethttp.MethodDelete, req)
}

// Do performs one logical call, retrying transport failures with
// exponential backoff. Received responses are classified and never retried.
func (c *client) Do(ctx context.Context, method string, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	var jsonBody []byte
	if req.JSON != nil {
		var err error
		if jsonBody, err = json.Marshal(req.JSON); err != nil {
			return nil, apierr.NewValidationError(fmt.Sprintf("cannot encode request body: %v", err), "json")
		}
	}

	ctx = trace.Ensure(ctx)
	target := c.resolveURL(req)
	callCount := atomic.AddInt64(&c.callCount, 1)
	start := c.clock.Now()
	maxRetries := max(c.config.MaxRetries, 0)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)
			c.logger.Warn().
				Err(lastErr).
				Str("method", method).
				Str("path", req.Path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying API request")
			tracking.RecordRetry(ctx, method)
			if err := c.clock.Sleep(ctx, delay); err != nil {
				return nil, abortedError(err)
			}
		}

		if err := c.waitForRate(ctx); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, method, target, req, jsonBody)
		if err != nil {
			if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindValidation {
				return nil, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, abortedError(ctxErr)
			}
			lastErr = err
			continue
		}

		resp.Stats = Stats{
			ElapsedTime: c.clock.Now().Sub(start),
			CallCount:   callCount,
			Attempts:    attempt + 1,
		}

		if err := checkResponse(resp); err != nil {
			c.logger.Debug().
				Err(err).
				Str("method", method).
				Str("path", req.Path).
				Int("status", resp.StatusCode).
				Msg("API request failed")
			return nil, err
		}

		c.logger.Debug().
			Str("method", method).
			Str("path", req.Path).
			Int("status", resp.StatusCode).
			Int("attempts", attempt+1).
			Dur("elapsed", resp.Stats.ElapsedTime).
			Msg("API request completed")
		return resp, nil
	}

	err := transportError(lastErr)
	c.logger.Error().
		Err(err).
		Str("method", method).
		Str("path", req.Path).
		Int("attempts", maxRetries+1).
		Msg("API request failed after retries")
	return nil, err
}

// attempt sends the request once. Transport failures are returned raw;
// validation errors come back as *apierr.Error.
func (c *client) attempt(ctx context.Context, method, target string, req *Request, jsonBody []byte) (*Response, error) {
	timeout := c.config.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := c.buildRequest(attemptCtx, method, target, req, jsonBody)
	if err != nil {
		return nil, err
	}

	logger.IncrementCallCounter(ctx)
	c.logger.Debug().
		Str("direction", "outbound").
		Str("method", method).
		Str("url", target).
		Interface("headers", httpReq.Header).
		Msg("API request")

	started := c.clock.Now()
	resp, err := c.send(httpReq)
	elapsed := c.clock.Now().Sub(started)
	logger.AddCallElapsed(ctx, int64(elapsed))

	status, errType := 0, ""
	switch {
	case err != nil:
		errType = "transport"
	case resp.StatusCode == nethttp.StatusUnauthorized:
		status, errType = resp.StatusCode, string(apierr.KindAuth)
	case !IsSuccessStatus(resp.StatusCode):
		status, errType = resp.StatusCode, string(apierr.KindAPI)
	default:
		status = resp.StatusCode
	}
	tracking.RecordRequest(ctx, method, status, elapsed, errType)

	return resp, err
}

// send performs the round trip and reads the whole body.
func (c *client) send(httpReq *nethttp.Request) (*Response, error) {
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

// backoffDelay returns RetryDelay * 2^attempt.
// waitForRate takes one limiter token, sleeping on the client clock until it
// is available.
func (c *client) waitForRate(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	now := c.clock.Now()
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return abortedError(fmt.Errorf("rate limit burst exceeded"))
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := c.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(c.clock.Now())
		return abortedError(err)
	}
	return nil
}

func (c *client) backoffDelay(attempt int) time.Duration {
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return c.config.RetryDelay * time.Duration(1<<attempt)
}

func (c *client) validateRequest(req *Request) error {
	if req == nil {
		return apierr.NewValidationError("request cannot be nil", "request")
	}
	if req.Path == "" && c.config.BaseURL == "" {
		return apierr.NewValidationError("URL cannot be empty", "path")
	}
	if req.JSON != nil && len(req.Files) > 0 {
		return apierr.NewValidationError("request cannot carry both a JSON body and files", "files")
	}
	return nil
}

func (c *client) resolveURL(req *Request) string {
	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.config.BaseURL + "/" + strings.TrimLeft(target, "/")
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}
	return target
}

// buildRequest constructs a fresh *http.Request for one attempt.
func (c *client) buildRequest(ctx context.Context, method, target string, req *Request, jsonBody []byte) (*nethttp.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	switch {
	case len(req.Files) > 0:
		buf, ct, err := encodeMultipart(req.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case jsonBody != nil:
		body, contentType = bytes.NewReader(jsonBody), "application/json"
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apierr.NewValidationError(fmt.Sprintf("invalid request: %v", err), "path")
	}

	for key, value := range c.config.DefaultHeaders {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	trace.Inject(ctx, httpReq, c.config.TraceIDHeader)

	for _, interceptor := range c.config.RequestInterceptors {
		if err := interceptor(ctx, httpReq); err != nil {
			return nil, apierr.NewValidationError(fmt.Sprintf("request interceptor failed: %v", err), "interceptor")
		}
	}
	return httpReq, nil
}
