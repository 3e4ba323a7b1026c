package apierr

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "api error with status",
			err:      NewAPIError("API request failed: not found", 404, nil),
			expected: "api error: API request failed: not found (status: 404)",
		},
		{
			name:     "transport error",
			err:      NewTransportError("connection error: refused", io.EOF),
			expected: "api error: connection error: refused",
		},
		{
			name:     "auth error default message",
			err:      NewAuthError(""),
			expected: "auth error: authentication failed",
		},
		{
			name:     "job timeout",
			err:      NewJobTimeoutError(42, 5*time.Minute),
			expected: "job 42 timed out after 5m0s",
		},
		{
			name:     "job failed with reason",
			err:      NewJobFailedError(7, "bad header row"),
			expected: "job 7 failed: bad header row",
		},
		{
			name:     "job failed without reason",
			err:      NewJobFailedError(7, ""),
			expected: "job 7 failed",
		},
		{
			name:     "validation with field",
			err:      NewValidationError("file not found", "files[0]"),
			expected: "validation error: file not found (field: files[0])",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestKindHelpers(t *testing.T) {
	wrapped := fmt.Errorf("upload: %w", NewJobFailedError(3, "boom"))

	assert.Equal(t, KindJobFailed, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindJobFailed))
	assert.False(t, Is(wrapped, KindAPI))
	assert.False(t, Is(nil, KindAPI))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	apiErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, int64(3), apiErr.JobID)
	assert.Equal(t, "boom", apiErr.FailureReason)
}

func TestAuthErrorCarries401(t *testing.T) {
	err := NewAuthError("Invalid API credentials")
	assert.True(t, IsStatus(err, 401))
	assert.True(t, Is(err, KindAuth))
}

func TestTransportErrorUnwraps(t *testing.T) {
	err := NewTransportError("request timeout", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 0, err.StatusCode)
}
