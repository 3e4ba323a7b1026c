// Package jobs observes asynchronous server-side jobs until they finish.
//
// A Tracker polls GET /jobs/{id} for a single job and GET /jobs?job_ids=...
// for a batch, sleeping a fixed poll interval between rounds until every job
// is terminal or the caller's timeout passes. The timeout is checked before
// each poll, so a wait can overrun it by up to one poll interval.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mammoth-analytics/mammoth-go/apierr"
	"github.com/mammoth-analytics/mammoth-go/clock"
	"github.com/mammoth-analytics/mammoth-go/http"
	"github.com/mammoth-analytics/mammoth-go/internal/tracking"
	"github.com/mammoth-analytics/mammoth-go/logger"
)

const (
	// DefaultTimeout bounds a wait call.
	DefaultTimeout = 300 * time.Second
	// DefaultPollInterval separates polling rounds.
	DefaultPollInterval = 5 * time.Second
)

// Doer executes API calls. http.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method string, req *http.Request) (*http.Response, error)
}

// Tracker fetches and waits for jobs. It holds no per-wait state and is safe
// for concurrent use.
type Tracker struct {
	client       Doer
	logger       logger.Logger
	clock        clock.Clock
	timeout      time.Duration
	pollInterval time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for deadlines and poll sleeps.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithDefaults sets the timeout and poll interval used when a wait call does
// not override them. Non-positive values keep the package defaults.
func WithDefaults(timeout, pollInterval time.Duration) Option {
	return func(t *Tracker) {
		if timeout > 0 {
			t.timeout = timeout
		}
		if pollInterval > 0 {
			t.pollInterval = pollInterval
		}
	}
}

// NewTracker creates a Tracker issuing requests through client.
func NewTracker(client Doer, log logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		client:       client,
		logger:       log,
		clock:        clock.New(),
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
	}
	if t.logger == nil {
		t.logger = logger.Nop()
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WaitOption overrides the tracker defaults for one wait call.
type WaitOption func(*waitConfig)

type waitConfig struct {
	timeout      time.Duration
	pollInterval time.Duration
}

// WithTimeout sets how long a wait may poll.
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.timeout = d }
}

// WithPollInterval sets the sleep between polling rounds.
func WithPollInterval(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.pollInterval = d }
}

func (t *Tracker) waitConfig(opts []WaitOption) (waitConfig, error) {
	cfg := waitConfig{timeout: t.timeout, pollInterval: t.pollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		return cfg, apierr.NewValidationError("timeout must be positive", "timeout")
	}
	if cfg.pollInterval <= 0 {
		return cfg, apierr.NewValidationError("poll interval must be positive", "poll_interval")
	}
	return cfg, nil
}

// GetJob fetches one job.
func (t *Tracker) GetJob(ctx context.Context, jobID int64) (*Job, error) {
	resp, err := t.client.Do(ctx, nethttp.MethodGet, &http.Request{
		Path: "/jobs/" + strconv.FormatInt(jobID, 10),
	})
	if err != nil {
		return nil, err
	}

	var env jobEnvelope
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	if env.Job == nil {
		return nil, apierr.NewAPIError("Invalid job response: missing job", resp.StatusCode, resp.Body)
	}
	return env.Job, nil
}

// GetJobs fetches several jobs in one request. The server may omit ids it
// does not know.
func (t *Tracker) GetJobs(ctx context.Context, jobIDs []int64) ([]Job, error) {
	resp, err := t.client.Do(ctx, nethttp.MethodGet, &http.Request{
		Path:  "/jobs",
		Query: url.Values{"job_ids": []string{JoinJobIDs(jobIDs)}},
	})
	if err != nil {
		return nil, err
	}

	var env jobsEnvelope
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	return env.Jobs, nil
}

// WaitForJob polls one job until it succeeds, fails or the timeout passes.
// A failed job yields an apierr.KindJobFailed error, an expired wait an
// apierr.KindJobTimeout error. Request errors are returned unchanged.
func (t *Tracker) WaitForJob(ctx context.Context, jobID int64, opts ...WaitOption) (*Job, error) {
	cfg, err := t.waitConfig(opts)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithCallCounter(ctx)
	start := t.clock.Now()
	polls := 0

	for t.clock.Now().Sub(start) < cfg.timeout {
		job, err := t.GetJob(ctx, jobID)
		if err != nil {
			tracking.RecordJobOutcome(ctx, tracking.ModeSingle, tracking.OutcomeAborted)
			return nil, err
		}
		polls++
		tracking.RecordJobPoll(ctx, tracking.ModeSingle)

		switch job.Status.Outcome() {
		case OutcomeSucceeded:
			t.logDone(ctx, tracking.ModeSingle, 1, polls, start)
			tracking.RecordJobOutcome(ctx, tracking.ModeSingle, tracking.OutcomeSuccess)
			return job, nil
		case OutcomeFailed:
			tracking.RecordJobOutcome(ctx, tracking.ModeSingle, tracking.OutcomeFailed)
			return nil, apierr.NewJobFailedError(jobID, job.FailureReason())
		case OutcomeUnrecognized:
			t.logger.Debug().
				Int64("job_id", jobID).
				Str("status", string(job.Status)).
				Msg("Unrecognized job status, continuing to poll")
		case OutcomePending:
		}

		if err := t.clock.Sleep(ctx, cfg.pollInterval); err != nil {
			tracking.RecordJobOutcome(ctx, tracking.ModeSingle, tracking.OutcomeAborted)
			return nil, abortedWait(jobID, err)
		}
	}

	t.logger.Warn().
		Int64("job_id", jobID).
		Int("polls", polls).
		Dur("timeout", cfg.timeout).
		Msg("Job did not finish before the timeout")
	tracking.RecordJobOutcome(ctx, tracking.ModeSingle, tracking.OutcomeTimeout)
	return nil, apierr.NewJobTimeoutError(jobID, cfg.timeout)
}

// WaitForJobs polls a batch of jobs with one request per round until all
// succeed. The first failed job aborts the wait, discarding jobs that already
// succeeded. On timeout the error names the first job still pending.
// Duplicate ids are tracked once; results follow the order of first appearance.
func (t *Tracker) WaitForJobs(ctx context.Context, jobIDs []int64, opts ...WaitOption) ([]Job, error) {
	cfg, err := t.waitConfig(opts)
	if err != nil {
		return nil, err
	}

	pending := newPendingSet(jobIDs)
	if pending.empty() {
		return []Job{}, nil
	}
	order := pending.ids()
	completed := make(map[int64]Job, len(order))

	ctx = logger.WithCallCounter(ctx)
	start := t.clock.Now()
	rounds := 0

	for !pending.empty() && t.clock.Now().Sub(start) < cfg.timeout {
		batch, err := t.GetJobs(ctx, pending.ids())
		if err != nil {
			tracking.RecordJobOutcome(ctx, tracking.ModeBatch, tracking.OutcomeAborted)
			return nil, err
		}
		rounds++
		tracking.RecordJobPoll(ctx, tracking.ModeBatch)

		for i := range batch {
			job := batch[i]
			if !pending.has(job.ID) {
				continue
			}
			switch job.Status.Outcome() {
			case OutcomeSucceeded:
				completed[job.ID] = job
				pending.remove(job.ID)
			case OutcomeFailed:
				tracking.RecordJobOutcome(ctx, tracking.ModeBatch, tracking.OutcomeFailed)
				return nil, apierr.NewJobFailedError(job.ID, job.FailureReason())
			case OutcomeUnrecognized:
				t.logger.Debug().
					Int64("job_id", job.ID).
					Str("status", string(job.Status)).
					Msg("Unrecognized job status, continuing to poll")
			case OutcomePending:
			}
		}

		t.logger.Debug().
			Int("round", rounds).
			Int("completed", len(completed)).
			Int("pending", pending.len()).
			Msg("Polled job batch")

		if !pending.empty() {
			if err := t.clock.Sleep(ctx, cfg.pollInterval); err != nil {
				tracking.RecordJobOutcome(ctx, tracking.ModeBatch, tracking.OutcomeAborted)
				return nil, abortedWait(pending.first(), err)
			}
		}
	}

	if !pending.empty() {
		t.logger.Warn().
			Int("pending", pending.len()).
			Int("rounds", rounds).
			Dur("timeout", cfg.timeout).
			Msg("Jobs did not finish before the timeout")
		tracking.RecordJobOutcome(ctx, tracking.ModeBatch, tracking.OutcomeTimeout)
		return nil, apierr.NewJobTimeoutError(pending.first(), cfg.timeout)
	}

	results := make([]Job, 0, len(order))
	for _, id := range order {
		results = append(results, completed[id])
	}
	t.logDone(ctx, tracking.ModeBatch, len(results), rounds, start)
	tracking.RecordJobOutcome(ctx, tracking.ModeBatch, tracking.OutcomeSuccess)
	return results, nil
}

func (t *Tracker) logDone(ctx context.Context, mode string, jobs, polls int, start time.Time) {
	t.logger.Info().
		Str("mode", mode).
		Int("jobs", jobs).
		Int("polls", polls).
		Int64("api_calls", logger.CallCount(ctx)).
		Dur("elapsed", t.clock.Now().Sub(start)).
		Msg("Jobs completed")
}

// ExtractDatasetIDs returns the ds_id of each job, nil where absent.
func ExtractDatasetIDs(jobs []Job) []*int64 {
	ids := make([]*int64, len(jobs))
	for i := range jobs {
		if id, ok := jobs[i].DatasetID(); ok {
			ids[i] = &id
		}
	}
	return ids
}

// DatasetID returns the ds_id of job, or a validation error when missing.
func DatasetID(job *Job) (int64, error) {
	if job == nil {
		return 0, apierr.NewValidationError("job is nil", "job")
	}
	id, ok := job.DatasetID()
	if !ok {
		return 0, apierr.NewValidationError(fmt.Sprintf("job %d response has no dataset id", job.ID), "ds_id")
	}
	return id, nil
}

// ParseJobIDs parses a comma separated list such as "1, 2,3".
// A blank string yields an empty slice.
func ParseJobIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return []int64{}, nil
	}

	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, apierr.NewValidationError(fmt.Sprintf("invalid job ID format: %q", strings.TrimSpace(part)), "job_ids")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// JoinJobIDs renders ids as the job_ids query value.
func JoinJobIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func abortedWait(jobID int64, err error) error {
	return apierr.NewTransportError(fmt.Sprintf("wait for job %d aborted: %v", jobID, err), err)
}

// decode reads numbers as json.Number so large ids survive.
func decode(resp *http.Response, v any) error {
	if resp.Empty() {
		return apierr.NewAPIError("Invalid job response: empty body", resp.StatusCode, resp.Body)
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apierr.NewAPIError("Invalid JSON response: "+err.Error(), resp.StatusCode, resp.Body)
	}
	return nil
}
