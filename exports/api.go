// Package exports manages the export tasks of a dataview pipeline.
package exports

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strconv"

	"github.com/mammoth-analytics/mammoth-go/apierr"
	"github.com/mammoth-analytics/mammoth-go/http"
	"github.com/mammoth-analytics/mammoth-go/jobs"
	"github.com/mammoth-analytics/mammoth-go/logger"
	"github.com/mammoth-analytics/mammoth-go/validation"
)

const defaultListLimit = 50

// Waiter waits for a single job. *jobs.Tracker satisfies it.
type Waiter interface {
	WaitForJob(ctx context.Context, jobID int64, opts ...jobs.WaitOption) (*jobs.Job, error)
}

// Target identifies the dataview whose pipeline holds the exports.
type Target struct {
	WorkspaceID int64
	ProjectID   int64
	DatasetID   int64
	DataviewID  int64
}

func (t Target) path() string {
	return fmt.Sprintf("/workspaces/%d/projects/%d/datasets/%d/dataviews/%d/pipeline/exports",
		t.WorkspaceID, t.ProjectID, t.DatasetID, t.DataviewID)
}

// API is the client for the pipeline exports endpoints.
type API struct {
	client jobs.Doer
	waiter Waiter
	logger logger.Logger
}

// NewAPI creates an exports client.
func NewAPI(client jobs.Doer, waiter Waiter, log logger.Logger) *API {
	if log == nil {
		log = logger.Nop()
	}
	return &API{client: client, waiter: waiter, logger: log}
}

// List returns one page of exports of the target dataview.
func (a *API) List(ctx context.Context, target Target, opts ListOptions) (*List, error) {
	if err := validation.Struct(opts); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(ctx, nethttp.MethodGet, &http.Request{
		Path:  target.path(),
		Query: opts.query(),
	})
	if err != nil {
		return nil, err
	}

	var list List
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Fields != "" {
		q.Set("fields", o.Fields)
	}
	if o.Limit != 0 && o.Limit != defaultListLimit {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset != 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	if o.Sequence != nil {
		q.Set("sequence", strconv.Itoa(*o.Sequence))
	}
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	if o.Reordered != nil {
		// The server spells this parameter without the second "e".
		q.Set("reorderd", strconv.FormatBool(*o.Reordered))
	}
	if o.HandlerType != "" {
		q.Set("handler_type", string(o.HandlerType))
	}
	if o.EndOfPipeline != nil {
		q.Set("end_of_pipeline", strconv.FormatBool(*o.EndOfPipeline))
	}
	if o.Runnable != nil {
		q.Set("runnable", strconv.FormatBool(*o.Runnable))
	}
	return q
}

// Add adds, or edits when spec.TriggerID is set, an export of the target dataview.
func (a *API) Add(ctx context.Context, target Target, spec AddExportSpec) (*AddResult, error) {
	if spec.DataviewID == 0 {
		spec.DataviewID = target.DataviewID
	}
	if spec.AdditionalProperties == nil {
		spec.AdditionalProperties = map[string]any{}
	}
	if spec.Condition == nil {
		spec.Condition = map[string]any{}
	}
	if err := validation.Struct(spec); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(ctx, nethttp.MethodPost, &http.Request{
		Path: target.path(),
		JSON: spec,
	})
	if err != nil {
		return nil, err
	}

	var body addResponse
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}

	switch {
	case body.Job != nil:
		a.logger.Info().
			Int64("job_id", body.Job.ID).
			Str("handler_type", string(spec.HandlerType)).
			Msg("Export job started")
		return &AddResult{Job: body.Job}, nil
	case body.TriggerID != nil:
		a.logger.Info().
			Int64("trigger_id", *body.TriggerID).
			Str("status", string(body.Status)).
			Str("handler_type", string(spec.HandlerType)).
			Msg("Export saved")
		return &AddResult{Modification: &Modification{
			TriggerID: *body.TriggerID,
			Status:    body.Status,
			FutureID:  body.FutureID,
		}}, nil
	default:
		return nil, apierr.NewAPIError("Invalid export response: missing job and trigger_id", resp.StatusCode, resp.Body)
	}
}

// AddAndWait adds an export and, if that started a job, waits for it.
// The returned job is nil when nothing needed tracking.
func (a *API) AddAndWait(ctx context.Context, target Target, spec AddExportSpec, opts ...jobs.WaitOption) (*AddResult, *jobs.Job, error) {
	result, err := a.Add(ctx, target, spec)
	if err != nil {
		return nil, nil, err
	}

	jobID, ok := result.JobID()
	if !ok {
		return result, nil, nil
	}

	job, err := a.waiter.WaitForJob(ctx, jobID, opts...)
	if err != nil {
		return result, nil, err
	}
	return result, job, nil
}

// Option adjusts the spec built by CreateS3Export and CreateInternalDatasetExport.
type Option func(*AddExportSpec)

// WithSequence places the export at position n of the pipeline instead of the end.
func WithSequence(n int) Option {
	return func(s *AddExportSpec) { s.Sequence = &n }
}

// WithTriggerID edits the existing export id instead of adding one.
func WithTriggerID(id int64) Option {
	return func(s *AddExportSpec) { s.TriggerID = &id }
}

func WithTriggerType(t TriggerType) Option {
	return func(s *AddExportSpec) { s.TriggerType = t }
}

func WithEndOfPipeline(v bool) Option {
	return func(s *AddExportSpec) { s.EndOfPipeline = v }
}

func WithRunImmediately(v bool) Option {
	return func(s *AddExportSpec) { s.RunImmediately = v }
}

// WithValidateOnly asks the server to check the configuration without saving it.
func WithValidateOnly() Option {
	return func(s *AddExportSpec) { s.ValidateOnly = true }
}

func WithCondition(condition map[string]any) Option {
	return func(s *AddExportSpec) { s.Condition = condition }
}

func WithAdditionalProperties(props map[string]any) Option {
	return func(s *AddExportSpec) { s.AdditionalProperties = props }
}

func newSpec(target Target, handler HandlerType, trigger TriggerType, props any, opts []Option) AddExportSpec {
	spec := AddExportSpec{
		DataviewID:       target.DataviewID,
		EndOfPipeline:    true,
		HandlerType:      handler,
		TriggerType:      trigger,
		TargetProperties: props,
		RunImmediately:   true,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// CreateS3Export adds an export writing the dataview to S3. It runs
// immediately at the end of the pipeline with no trigger unless opts say otherwise.
func (a *API) CreateS3Export(ctx context.Context, target Target, s3 S3Target, opts ...Option) (*AddResult, error) {
	if err := validation.Struct(s3); err != nil {
		return nil, err
	}
	return a.Add(ctx, target, newSpec(target, HandlerS3, TriggerNone, s3, opts))
}

// CreateInternalDatasetExport adds an export that materializes the dataview
// as a new dataset named datasetName. columnMapping may be nil.
func (a *API) CreateInternalDatasetExport(ctx context.Context, target Target, datasetName string, columnMapping map[string]any, opts ...Option) (*AddResult, error) {
	if datasetName == "" {
		return nil, apierr.NewValidationError("dataset_name is required", "target_properties.dataset_name")
	}

	props := map[string]any{"dataset_name": datasetName}
	if len(columnMapping) > 0 {
		props["COLUMN_MAPPING"] = columnMapping
	}
	return a.Add(ctx, target, newSpec(target, HandlerInternalDataset, TriggerPipeline, props, opts))
}
