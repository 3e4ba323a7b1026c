package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Status is the server-reported state of a job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailure    Status = "failure"
	StatusError      Status = "error"
)

// Outcome is how a wait loop interprets a Status.
type Outcome int

const (
	// OutcomePending means the job is still running.
	OutcomePending Outcome = iota
	// OutcomeSucceeded is terminal success.
	OutcomeSucceeded
	// OutcomeFailed is terminal failure, for both "failure" and "error".
	OutcomeFailed
	// OutcomeUnrecognized is a status this client does not know. Waits keep
	// polling, treating it as not yet terminal.
	OutcomeUnrecognized
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unrecognized"
	}
}

// Outcome classifies s.
func (s Status) Outcome() Outcome {
	switch s {
	case StatusProcessing:
		return OutcomePending
	case StatusSuccess:
		return OutcomeSucceeded
	case StatusFailure, StatusError:
		return OutcomeFailed
	default:
		return OutcomeUnrecognized
	}
}

// Terminal reports whether no further transition will happen.
func (s Status) Terminal() bool {
	o := s.Outcome()
	return o == OutcomeSucceeded || o == OutcomeFailed
}

// Job is a server-tracked unit of asynchronous work.
type Job struct {
	ID            int64          `json:"id"`
	Status        Status         `json:"status"`
	Response      map[string]any `json:"response"`
	LastUpdatedAt Timestamp      `json:"last_updated_at"`
	CreatedAt     Timestamp      `json:"created_at"`
	Path          string         `json:"path"`
	Operation     string         `json:"operation"`
}

// FailureReason returns response.failure_reason, or "" when absent.
func (j *Job) FailureReason() string {
	v, ok := j.Response["failure_reason"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DatasetID returns response.ds_id, the dataset a job created.
func (j *Job) DatasetID() (int64, bool) {
	v, ok := j.Response["ds_id"]
	if !ok {
		return 0, false
	}
	return asInt64(v)
}

// ObjectJob is the per-item answer of endpoints that start jobs.
// JobID is nil when the server did not start one for the item.
type ObjectJob struct {
	StatusCode    *int    `json:"status_code,omitempty"`
	JobID         *int64  `json:"job_id,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

type jobEnvelope struct {
	Job *Job `json:"job"`
}

type jobsEnvelope struct {
	Jobs []Job `json:"jobs"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// Timestamp accepts RFC 3339 values as well as the zone-less forms the API
// sometimes emits, which are read as UTC. Integer numbers are Unix seconds.
// Anything else decodes to the zero time.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Time = parseEpoch(data)
		return nil
	}
	t.Time = parseTimestamp(raw)
	return nil
}

func parseEpoch(data []byte) time.Time {
	secs, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// floatToInt64 rejects fractions and values outside the int64 range.
func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}
