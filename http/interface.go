package http

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Client executes API calls relative to a base URL.
type Client interface {
	Get(ctx context.Context, req *Request) (*Response, error)
	Post(ctx context.Context, req *Request) (*Response, error)
	Put(ctx context.Context, req *Request) (*Response, error)
	Patch(ctx context.Context, req *Request) (*Response, error)
	Delete(ctx context.Context, req *Request) (*Response, error)
	Do(ctx context.Context, method string, req *Request) (*Response, error)
}

// Request describes one logical API call. JSON and Files are mutually exclusive.
type Request struct {
	// Path is joined to the base URL. Absolute http(s) URLs are used as is.
	Path    string
	Query   url.Values
	Headers map[string]string
	// JSON is marshalled once and sent as application/json.
	JSON  any
	Files []FilePart
	// Timeout overrides the client timeout for each attempt of this call.
	Timeout time.Duration
}

// FilePart is one file of a multipart upload.
type FilePart struct {
	Field       string // form field, defaults to "files"
	Name        string // file name sent to the server
	ContentType string // defaults to application/octet-stream
	// Open is called once per attempt.
	Open func() (io.ReadCloser, error)
}

// FileFromPath returns a part that reads path from disk on every attempt.
func FileFromPath(path string) FilePart {
	return FilePart{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// FileFromBytes returns a part backed by an in-memory copy of data.
func FileFromBytes(name string, data []byte) FilePart {
	return FilePart{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	// Body is empty for 204 and empty 2xx responses, otherwise valid JSON.
	Body    []byte
	Headers nethttp.Header
	Stats   Stats
}

// Stats contains request execution statistics.
type Stats struct {
	ElapsedTime time.Duration
	CallCount   int64
	Attempts    int
}

// RequestInterceptor is called on every attempt before the request is sent.
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// Config holds the client configuration.
type Config struct {
	BaseURL             string
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	DefaultHeaders      map[string]string
	TraceIDHeader       string
	RateLimit           float64
	RateBurst           int
	RequestInterceptors []RequestInterceptor
}
