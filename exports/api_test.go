package exports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammoth-analytics/mammoth-go/apierr"
	"github.com/mammoth-analytics/mammoth-go/http"
	"github.com/mammoth-analytics/mammoth-go/jobs"
	"github.com/mammoth-analytics/mammoth-go/logger"
)

var target = Target{WorkspaceID: 1, ProjectID: 2, DatasetID: 3, DataviewID: 4}

const exportsPath = "/workspaces/1/projects/2/datasets/3/dataviews/4/pipeline/exports"

type fakeDoer struct {
	method string
	req    *http.Request
	calls  int
	body   any
	err    error
}

func (f *fakeDoer) Do(_ context.Context, method string, req *http.Request) (*http.Response, error) {
	f.method, f.req = method, req
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	raw, err := json.Marshal(f.body)
	if err != nil {
		return nil, err
	}
	return &http.Response{StatusCode: 200, Body: raw}, nil
}

// sentJSON renders the last request body as a generic map.
func (f *fakeDoer) sentJSON(t *testing.T) map[string]any {
	t.Helper()
	raw, err := json.Marshal(f.req.JSON)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

type fakeWaiter struct {
	waited []int64
	opts   int
	job    *jobs.Job
	err    error
}

func (f *fakeWaiter) WaitForJob(_ context.Context, id int64, opts ...jobs.WaitOption) (*jobs.Job, error) {
	f.waited = append(f.waited, id)
	f.opts = len(opts)
	return f.job, f.err
}

func boolp(v bool) *bool { return &v }
func intp(v int) *int    { return &v }

func TestListEncodesFilters(t *testing.T) {
	doer := &fakeDoer{body: map[string]any{
		"limit":  10,
		"offset": 0,
		"next":   "",
		"exports": []map[string]any{{
			"id":                 9,
			"handler_type":       "s3",
			"status":             "executed",
			"runnable":           true,
			"last_modified_time": "2024-05-01T10:00:00Z",
		}},
	}}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	list, err := api.List(context.Background(), target, ListOptions{
		Limit:         10,
		Sequence:      intp(0),
		Status:        StatusExecuted,
		Reordered:     boolp(false),
		HandlerType:   HandlerS3,
		EndOfPipeline: boolp(true),
		Runnable:      boolp(true),
	})
	require.NoError(t, err)
	require.Len(t, list.Exports, 1)
	assert.Equal(t, HandlerS3, list.Exports[0].HandlerType)
	assert.Equal(t, StatusExecuted, list.Exports[0].Status)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), list.Exports[0].LastModifiedTime.Time)

	assert.Equal(t, "GET", doer.method)
	assert.Equal(t, exportsPath, doer.req.Path)
	q := doer.req.Query
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "0", q.Get("sequence"))
	assert.Equal(t, "executed", q.Get("status"))
	assert.Equal(t, "false", q.Get("reorderd"))
	assert.Equal(t, "s3", q.Get("handler_type"))
	assert.Equal(t, "true", q.Get("end_of_pipeline"))
	assert.Equal(t, "true", q.Get("runnable"))
	assert.False(t, q.Has("offset"))
	assert.False(t, q.Has("reordered"))
}

func TestListDefaultsSendNothing(t *testing.T) {
	doer := &fakeDoer{body: map[string]any{"exports": []any{}}}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	_, err := api.List(context.Background(), target, ListOptions{Limit: defaultListLimit})
	require.NoError(t, err)
	assert.Empty(t, doer.req.Query)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	doer := &fakeDoer{}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	_, err := api.List(context.Background(), target, ListOptions{Status: "paused"})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, "status", apiErr.Field)
	assert.Zero(t, doer.calls)
}

func TestCreateS3ExportDefaults(t *testing.T) {
	doer := &fakeDoer{body: map[string]any{"trigger_id": 55, "status": "added"}}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	result, err := api.CreateS3Export(context.Background(), target, NewS3Target("out.csv"))
	require.NoError(t, err)
	require.NotNil(t, result.Modification)
	assert.Nil(t, result.Job)
	assert.Equal(t, int64(55), result.Modification.TriggerID)
	assert.Equal(t, StatusAdded, result.Modification.Status)

	assert.Equal(t, "POST", doer.method)
	assert.Equal(t, exportsPath, doer.req.Path)
	body := doer.sentJSON(t)
	assert.EqualValues(t, 4, body["DATAVIEW_ID"])
	assert.Nil(t, body["sequence"])
	assert.Nil(t, body["TRIGGER_ID"])
	assert.Equal(t, true, body["end_of_pipeline"])
	assert.Equal(t, "s3", body["handler_type"])
	assert.Equal(t, "none", body["trigger_type"])
	assert.Equal(t, true, body["run_immediately"])
	assert.Equal(t, false, body["validate_only"])
	assert.Equal(t, map[string]any{}, body["condition"])
	assert.Equal(t, map[string]any{}, body["additional_properties"])
	assert.Equal(t, map[string]any{
		"file":           "out.csv",
		"file_type":      "csv",
		"include_hidden": false,
		"is_format_set":  true,
		"use_format":     true,
	}, body["target_properties"])
}

func TestCreateS3ExportOptions(t *testing.T) {
	doer := &fakeDoer{body: map[string]any{"trigger_id": 55}}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	_, err := api.CreateS3Export(context.Background(), target, NewS3Target("out.csv"),
		WithSequence(2),
		WithTriggerID(55),
		WithTriggerType(TriggerSchedule),
		WithEndOfPipeline(false),
		WithRunImmediately(false),
		WithValidateOnly(),
		WithCondition(map[string]any{"AND": []any{}}),
		WithAdditionalProperties(map[string]any{"notify": true}),
	)
	require.NoError(t, err)

	body := doer.sentJSON(t)
	assert.EqualValues(t, 2, body["sequence"])
	assert.EqualValues(t, 55, body["TRIGGER_ID"])
	assert.Equal(t, "schedule", body["trigger_type"])
	assert.Equal(t, false, body["end_of_pipeline"])
	assert.Equal(t, false, body["run_immediately"])
	assert.Equal(t, true, body["validate_only"])
	assert.Equal(t, map[string]any{"AND": []any{}}, body["condition"])
	assert.Equal(t, map[string]any{"notify": true}, body["additional_properties"])
}

func TestCreateS3ExportValidatesTarget(t *testing.T) {
	doer := &fakeDoer{}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	_, err := api.CreateS3Export(context.Background(), target, S3Target{FileType: "csv"})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, "file", apiErr.Field)
	assert.Zero(t, doer.calls)
}

func TestCreateInternalDatasetExport(t *testing.T) {
	doer := &fakeDoer{body: map[string]any{"job": map[string]any{"id": 321, "status": "processing"}}}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	result, err := api.CreateInternalDatasetExport(context.Background(), target, "Clean sales",
		map[string]any{"col_a": "Amount"})
	require.NoError(t, err)
	require.NotNil(t, result.Job)
	assert.Equal(t, int64(321), result.Job.ID)
	assert.Nil(t, result.Modification)

	body := doer.sentJSON(t)
	assert.Equal(t, "internal_dataset", body["handler_type"])
	assert.Equal(t, "pipeline", body["trigger_type"])
	assert.Equal(t, map[string]any{
		"dataset_name":   "Clean sales",
		"COLUMN_MAPPING": map[string]any{"col_a": "Amount"},
	}, body["target_properties"])
}

func TestCreateInternalDatasetExportWithoutMapping(t *testing.T) {
	doer := &fakeDoer{body: map[string]any{"trigger_id": 1}}
	api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

	_, err := api.CreateInternalDatasetExport(context.Background(), target, "Clean sales", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"dataset_name": "Clean sales"}, doer.sentJSON(t)["target_properties"])

	_, err = api.CreateInternalDatasetExport(context.Background(), target, "", nil)
	assert.True(t, apierr.Is(err, apierr.KindValidation))
}

func TestAddValidatesSpec(t *testing.T) {
	tests := []struct {
		name  string
		spec  AddExportSpec
		field string
	}{
		{
			name:  "handler",
			spec:  AddExportSpec{HandlerType: "dropbox", TriggerType: TriggerNone, TargetProperties: map[string]any{"x": 1}},
			field: "handler_type",
		},
		{
			name:  "trigger",
			spec:  AddExportSpec{HandlerType: HandlerS3, TargetProperties: map[string]any{"x": 1}},
			field: "trigger_type",
		},
		{
			name:  "target_properties",
			spec:  AddExportSpec{HandlerType: HandlerS3, TriggerType: TriggerNone},
			field: "target_properties",
		},
		{
			name:  "sequence",
			spec:  AddExportSpec{HandlerType: HandlerS3, TriggerType: TriggerNone, TargetProperties: map[string]any{"x": 1}, Sequence: intp(-1)},
			field: "sequence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doer := &fakeDoer{}
			api := NewAPI(doer, &fakeWaiter{}, logger.Nop())

			_, err := api.Add(context.Background(), target, tt.spec)
			apiErr, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, apierr.KindValidation, apiErr.Kind)
			assert.Equal(t, tt.field, apiErr.Field)
			assert.Zero(t, doer.calls)
		})
	}
}

func TestAddRejectsUnrecognizedResponse(t *testing.T) {
	api := NewAPI(&fakeDoer{body: map[string]any{"status": "added"}}, &fakeWaiter{}, logger.Nop())

	_, err := api.CreateS3Export(context.Background(), target, NewS3Target("out.csv"))
	assert.True(t, apierr.Is(err, apierr.KindAPI))
}

func TestAddAndWait(t *testing.T) {
	done := &jobs.Job{ID: 321, Status: jobs.StatusSuccess}

	t.Run("job_envelope", func(t *testing.T) {
		doer := &fakeDoer{body: map[string]any{"job": map[string]any{"id": 321, "status": "processing"}}}
		waiter := &fakeWaiter{job: done}
		api := NewAPI(doer, waiter, logger.Nop())

		_, job, err := api.AddAndWait(context.Background(), target,
			newSpec(target, HandlerS3, TriggerNone, NewS3Target("a.csv"), nil), jobs.WithTimeout(time.Minute))
		require.NoError(t, err)
		assert.Same(t, done, job)
		assert.Equal(t, []int64{321}, waiter.waited)
		assert.Equal(t, 1, waiter.opts)
	})

	t.Run("future_id", func(t *testing.T) {
		doer := &fakeDoer{body: map[string]any{"trigger_id": 5, "status": "executing", "future_id": 322}}
		waiter := &fakeWaiter{job: done}
		api := NewAPI(doer, waiter, logger.Nop())

		result, _, err := api.AddAndWait(context.Background(), target,
			newSpec(target, HandlerS3, TriggerNone, NewS3Target("a.csv"), nil))
		require.NoError(t, err)
		assert.Equal(t, int64(5), result.Modification.TriggerID)
		assert.Equal(t, []int64{322}, waiter.waited)
	})

	t.Run("nothing_to_track", func(t *testing.T) {
		doer := &fakeDoer{body: map[string]any{"trigger_id": 5, "status": "added"}}
		waiter := &fakeWaiter{}
		api := NewAPI(doer, waiter, logger.Nop())

		result, job, err := api.AddAndWait(context.Background(), target,
			newSpec(target, HandlerS3, TriggerNone, NewS3Target("a.csv"), nil))
		require.NoError(t, err)
		assert.NotNil(t, result.Modification)
		assert.Nil(t, job)
		assert.Empty(t, waiter.waited)
	})

	t.Run("job_failed", func(t *testing.T) {
		doer := &fakeDoer{body: map[string]any{"job": map[string]any{"id": 321}}}
		waiter := &fakeWaiter{err: apierr.NewJobFailedError(321, "bucket denied")}
		api := NewAPI(doer, waiter, logger.Nop())

		result, job, err := api.AddAndWait(context.Background(), target,
			newSpec(target, HandlerS3, TriggerNone, NewS3Target("a.csv"), nil))
		assert.True(t, apierr.Is(err, apierr.KindJobFailed))
		assert.NotNil(t, result)
		assert.Nil(t, job)
	})
}
