package http

import (
	"encoding/json"

	"github.com/mammoth-analytics/mammoth-go/apierr"
)

// Empty reports whether the server sent no content.
func (r *Response) Empty() bool {
	return len(r.Body) == 0
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if r.Empty() {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apierr.NewAPIError("Invalid JSON response: "+err.Error(), r.StatusCode, r.Body)
	}
	return nil
}
