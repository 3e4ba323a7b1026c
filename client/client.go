// Package client assembles the Mammoth API client from its parts: the
// resilient request executor, the job tracker and the resource APIs.
package client

import (
	"context"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mammoth-analytics/mammoth-go/apierr"
	"github.com/mammoth-analytics/mammoth-go/clock"
	"github.com/mammoth-analytics/mammoth-go/config"
	"github.com/mammoth-analytics/mammoth-go/exports"
	"github.com/mammoth-analytics/mammoth-go/files"
	"github.com/mammoth-analytics/mammoth-go/http"
	"github.com/mammoth-analytics/mammoth-go/jobs"
	"github.com/mammoth-analytics/mammoth-go/logger"
)

const apiPath = "/api/v2"

// Client is the entry point to the Mammoth API. It is safe for concurrent use.
type Client struct {
	HTTP    http.Client
	Jobs    *jobs.Tracker
	Files   *files.API
	Exports *exports.API

	baseURL string
	logger  logger.Logger
}

type options struct {
	clock        clock.Clock
	httpClient   *nethttp.Client
	transport    nethttp.RoundTripper
	interceptors []http.RequestInterceptor
	jobTimeout   time.Duration
	jobPoll      time.Duration
}

// Option configures New.
type Option func(*options)

// WithClock replaces the wall clock used for backoff, polling and timeouts.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the underlying net/http client.
func WithHTTPClient(hc *nethttp.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTransport sets the round tripper of the underlying net/http client.
func WithTransport(rt nethttp.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRequestInterceptor runs fn on every outgoing attempt.
func WithRequestInterceptor(fn http.RequestInterceptor) Option {
	return func(o *options) { o.interceptors = append(o.interceptors, fn) }
}

// WithJobDefaults sets the timeout and poll interval used when waiting for jobs.
func WithJobDefaults(timeout, pollInterval time.Duration) Option {
	return func(o *options) {
		o.jobTimeout = timeout
		o.jobPoll = pollInterval
	}
}

// New creates a client for the API described by cfg.
func New(cfg config.APIConfig, log logger.Logger, opts ...Option) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, apierr.NewValidationError("API key and secret are required", "api.key")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	baseURL, err := NormalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	b := http.NewBuilder(log).
		WithBaseURL(baseURL).
		WithCredentials(cfg.Key, cfg.Secret).
		WithUserAgent(cfg.UserAgent).
		WithRetries(retrySettings(cfg.Retry)).
		WithRateLimit(cfg.Rate.Limit, cfg.Rate.Burst)
	if cfg.Timeout > 0 {
		b = b.WithTimeout(cfg.Timeout)
	}
	switch {
	case o.httpClient != nil:
		b = b.WithHTTPClient(o.httpClient)
	case o.transport != nil:
		b = b.WithTransport(o.transport)
	}
	if o.clock != nil {
		b = b.WithClock(o.clock)
	}
	for _, fn := range o.interceptors {
		b = b.WithRequestInterceptor(fn)
	}
	httpClient := b.Build()

	var trackerOpts []jobs.Option
	if o.clock != nil {
		trackerOpts = append(trackerOpts, jobs.WithClock(o.clock))
	}
	if o.jobTimeout > 0 || o.jobPoll > 0 {
		trackerOpts = append(trackerOpts, jobs.WithDefaults(o.jobTimeout, o.jobPoll))
	}
	tracker := jobs.NewTracker(httpClient, log, trackerOpts...)

	log.Debug().
		Str("base_url", baseURL).
		Int("max_retries", maxRetries(cfg.Retry)).
		Dur("timeout", cfg.Timeout).
		Msg("Mammoth client created")

	return &Client{
		HTTP:    httpClient,
		Jobs:    tracker,
		Files:   files.NewAPI(httpClient, tracker, log),
		Exports: exports.NewAPI(httpClient, tracker, log),
		baseURL: baseURL,
		logger:  log,
	}, nil
}

// NewFromConfig creates a client from a loaded configuration, including its job defaults.
func NewFromConfig(cfg *config.Config, log logger.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, apierr.NewValidationError("configuration is required", "")
	}
	opts = append([]Option{WithJobDefaults(cfg.Jobs.Timeout, cfg.Jobs.PollInterval)}, opts...)
	return New(cfg.API, log, opts...)
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func maxRetries(rc config.RetryConfig) int {
	if rc.Max == nil {
		return http.DefaultMaxRetries
	}
	return *rc.Max
}

func retrySettings(rc config.RetryConfig) (int, time.Duration) {
	delay := rc.Delay
	if delay <= 0 {
		delay = http.DefaultRetryDelay
	}
	return maxRetries(rc), delay
}

// NormalizeBaseURL trims trailing slashes and makes the path /api/v2 unless
// it already ends with it. An empty value selects the public API.
func NormalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		raw = config.DefaultBaseURL
	}
	if strings.HasSuffix(raw, apiPath) {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", apierr.NewValidationError("invalid base URL: "+raw, "api.url")
	}
	u.Path = apiPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// TestConnection reports whether the API is reachable with the configured
// credentials. A 400 counts as reachable since the probe sends no job ids.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.HTTP.Get(ctx, &http.Request{
		Path:  "/jobs",
		Query: url.Values{"job_ids": []string{""}},
	})
	if err == nil {
		return true
	}
	if apierr.IsStatus(err, nethttp.StatusBadRequest) {
		return true
	}
	c.logger.Warn().Err(err).Msg("Connection test failed")
	return false
}
