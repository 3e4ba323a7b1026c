package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"syscall"

	"github.com/mammoth-analytics/mammoth-go/apierr"
)

const maxErrorTextLen = 200

// IsSuccessStatus checks if a status code represents success (2xx).
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// checkResponse maps a received response to the client error taxonomy.
// It returns nil when resp is a usable success, clearing the body of 204s.
func checkResponse(resp *Response) error {
	if resp.StatusCode == nethttp.StatusUnauthorized {
		return apierr.NewAuthError("Invalid API credentials")
	}

	if IsSuccessStatus(resp.StatusCode) {
		if resp.StatusCode == nethttp.StatusNoContent || len(resp.Body) == 0 {
			resp.Body = nil
			return nil
		}
		var probe any
		if err := json.Unmarshal(resp.Body, &probe); err != nil {
			return apierr.NewAPIError("Invalid JSON response: "+err.Error(), resp.StatusCode, resp.Body)
		}
		return nil
	}

	return apierr.NewAPIError("API request failed: "+errorDetail(resp.StatusCode, resp.Body), resp.StatusCode, resp.Body)
}

// errorDetail picks the most useful description of a failed response: the
// "detail" field of a JSON object, else the status, else status plus a
// prefix of the raw text.
func errorDetail(statusCode int, body []byte) string {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Sprintf("HTTP %d: %s", statusCode, truncate(string(body), maxErrorTextLen))
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return fmt.Sprintf("HTTP %d", statusCode)
	}
	detail, ok := obj["detail"]
	if !ok || detail == nil {
		return fmt.Sprintf("HTTP %d", statusCode)
	}
	if s, ok := detail.(string); ok {
		return s
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Sprintf("HTTP %d", statusCode)
	}
	return string(raw)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// transportError wraps a failure that produced no usable response.
func transportError(err error) *apierr.Error {
	switch {
	case isTimeout(err):
		return apierr.NewTransportError(fmt.Sprintf("Request timeout: %v", err), err)
	case isConnectionError(err):
		return apierr.NewTransportError(fmt.Sprintf("Connection error: %v", err), err)
	default:
		return apierr.NewTransportError(fmt.Sprintf("Request error: %v", err), err)
	}
}

// abortedError reports a call stopped by its caller's context.
func abortedError(err error) *apierr.Error {
	return apierr.NewTransportError(fmt.Sprintf("Request aborted: %v", err), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
