// Package files manages uploaded files and turns uploads into datasets.
package files

import (
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mammoth-analytics/mammoth-go/apierr"
	"github.com/mammoth-analytics/mammoth-go/http"
	"github.com/mammoth-analytics/mammoth-go/jobs"
	"github.com/mammoth-analytics/mammoth-go/logger"
	"github.com/mammoth-analytics/mammoth-go/validation"
)

const defaultListLimit = 50

// Waiter waits for a batch of jobs. *jobs.Tracker satisfies it.
type Waiter interface {
	WaitForJobs(ctx context.Context, jobIDs []int64, opts ...jobs.WaitOption) ([]jobs.Job, error)
}

// API is the client for the files endpoints.
type API struct {
	client jobs.Doer
	waiter Waiter
	logger logger.Logger
}

// NewAPI creates a files client.
func NewAPI(client jobs.Doer, waiter Waiter, log logger.Logger) *API {
	if log == nil {
		log = logger.Nop()
	}
	return &API{client: client, waiter: waiter, logger: log}
}

func filesPath(workspaceID, projectID int64) string {
	return fmt.Sprintf("/workspaces/%d/projects/%d/files", workspaceID, projectID)
}

func filePath(workspaceID, projectID, fileID int64) string {
	return filesPath(workspaceID, projectID) + "/" + strconv.FormatInt(fileID, 10)
}

// List returns one page of files in a project.
func (a *API) List(ctx context.Context, workspaceID, projectID int64, opts ListOptions) (*List, error) {
	if err := validation.Struct(opts); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(ctx, nethttp.MethodGet, &http.Request{
		Path:  filesPath(workspaceID, projectID),
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
	if len(o.IDs) > 0 {
		q.Set("id", jobs.JoinJobIDs(o.IDs))
	}
	if len(o.Names) > 0 {
		q.Set("name", strings.Join(o.Names, ","))
	}
	if len(o.Statuses) > 0 {
		q.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.CreatedAt != "" {
		q.Set("created_at", o.CreatedAt)
	}
	if o.UpdatedAt != "" {
		q.Set("updated_at", o.UpdatedAt)
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
	return q
}

// Get returns one file. fields may be empty for the server default.
func (a *API) Get(ctx context.Context, workspaceID, projectID, fileID int64, fields string) (*File, error) {
	req := &http.Request{Path: filePath(workspaceID, projectID, fileID)}
	if fields != "" {
		req.Query = url.Values{"fields": []string{fields}}
	}

	resp, err := a.client.Do(ctx, nethttp.MethodGet, req)
	if err != nil {
		return nil, err
	}

	var env fileEnvelope
	if err := resp.Decode(&env); err != nil {
		return nil, err
	}
	if env.File == nil {
		return nil, apierr.NewAPIError("Invalid file response: missing file", resp.StatusCode, resp.Body)
	}
	return env.File, nil
}

// Upload sends parts in one multipart request, each becoming its own
// dataset. Unless opts.NoWait is set it waits for the started jobs and maps
// each part to the dataset it produced.
func (a *API) Upload(ctx context.Context, workspaceID, projectID int64, parts []http.FilePart, opts UploadOptions) (*UploadResult, error) {
	if len(parts) == 0 {
		return nil, apierr.NewValidationError("at least one file is required", "files")
	}

	query := url.Values{}
	if opts.FolderResourceID != "" {
		query.Set("folder_resource_id", opts.FolderResourceID)
	}
	if opts.AppendToDatasetID != 0 {
		query.Set("append_to_ds_id", strconv.FormatInt(opts.AppendToDatasetID, 10))
	}
	if opts.OverrideTargetSchema != nil {
		query.Set("override_target_schema", strconv.FormatBool(*opts.OverrideTargetSchema))
	}

	resp, err := a.client.Do(ctx, nethttp.MethodPost, &http.Request{
		Path:  filesPath(workspaceID, projectID),
		Query: query,
		Files: parts,
	})
	if err != nil {
		return nil, err
	}

	var items []jobs.ObjectJob
	if err := resp.Decode(&items); err != nil {
		return nil, err
	}

	result := &UploadResult{Items: items, JobIDs: make([]int64, 0, len(items))}
	for i, item := range items {
		if item.JobID != nil {
			result.JobIDs = append(result.JobIDs, *item.JobID)
			continue
		}
		ev := a.logger.Warn().Int("item", i)
		if item.FailureReason != nil {
			ev = ev.Str("failure_reason", *item.FailureReason)
		}
		if item.StatusCode != nil {
			ev = ev.Int("status_code", *item.StatusCode)
		}
		ev.Msg("Upload item did not start a job")
	}

	a.logger.Info().
		Int("files", len(parts)).
		Int("jobs", len(result.JobIDs)).
		Msg("Files uploaded")

	if opts.NoWait {
		return result, nil
	}

	result.DatasetIDs = make([]*int64, len(parts))
	if len(result.JobIDs) == 0 {
		return result, nil
	}

	completed, err := a.waiter.WaitForJobs(ctx, result.JobIDs, waitOptions(opts)...)
	if err != nil {
		return nil, err
	}

	byJob := make(map[int64]*int64, len(completed))
	datasetIDs := jobs.ExtractDatasetIDs(completed)
	for i := range completed {
		byJob[completed[i].ID] = datasetIDs[i]
	}
	for i, item := range items {
		if i >= len(parts) || item.JobID == nil {
			continue
		}
		result.DatasetIDs[i] = byJob[*item.JobID]
	}
	return result, nil
}

func waitOptions(opts UploadOptions) []jobs.WaitOption {
	var out []jobs.WaitOption
	if opts.Timeout > 0 {
		out = append(out, jobs.WithTimeout(opts.Timeout))
	}
	if opts.PollInterval > 0 {
		out = append(out, jobs.WithPollInterval(opts.PollInterval))
	}
	return out
}

// UploadFile uploads one local file and returns the dataset it created, or
// nil when the server reported none.
func (a *API) UploadFile(ctx context.Context, workspaceID, projectID int64, path string, opts UploadOptions) (*int64, error) {
	if err := ValidateFilePath(path); err != nil {
		return nil, err
	}
	result, err := a.Upload(ctx, workspaceID, projectID, []http.FilePart{http.FileFromPath(path)}, opts)
	if err != nil {
		return nil, err
	}
	return result.DatasetID(), nil
}

// UploadFiles uploads local files and returns one dataset id per path, in order.
func (a *API) UploadFiles(ctx context.Context, workspaceID, projectID int64, paths []string, opts UploadOptions) ([]*int64, error) {
	parts := make([]http.FilePart, 0, len(paths))
	for _, path := range paths {
		if err := ValidateFilePath(path); err != nil {
			return nil, err
		}
		parts = append(parts, http.FileFromPath(path))
	}
	result, err := a.Upload(ctx, workspaceID, projectID, parts, opts)
	if err != nil {
		return nil, err
	}
	return result.DatasetIDs, nil
}

// Delete removes one file.
func (a *API) Delete(ctx context.Context, workspaceID, projectID, fileID int64) error {
	_, err := a.client.Do(ctx, nethttp.MethodDelete, &http.Request{
		Path: filePath(workspaceID, projectID, fileID),
	})
	return err
}

// DeleteMany removes several files in one request.
func (a *API) DeleteMany(ctx context.Context, workspaceID, projectID int64, fileIDs []int64) error {
	if len(fileIDs) == 0 {
		return apierr.NewValidationError("at least one file id is required", "ids")
	}
	_, err := a.client.Do(ctx, nethttp.MethodDelete, &http.Request{
		Path:  filesPath(workspaceID, projectID),
		Query: url.Values{"ids": []string{jobs.JoinJobIDs(fileIDs)}},
	})
	return err
}

// UpdateConfig applies patch to a file and returns the job it started.
func (a *API) UpdateConfig(ctx context.Context, workspaceID, projectID, fileID int64, patch PatchRequest) (*jobs.ObjectJob, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	resp, err := a.client.Do(ctx, nethttp.MethodPatch, &http.Request{
		Path: filePath(workspaceID, projectID, fileID),
		JSON: patch,
	})
	if err != nil {
		return nil, err
	}

	var job jobs.ObjectJob
	if err := resp.Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// SetPassword unlocks a password-protected file.
func (a *API) SetPassword(ctx context.Context, workspaceID, projectID, fileID int64, password string) (*jobs.ObjectJob, error) {
	return a.UpdateConfig(ctx, workspaceID, projectID, fileID, PatchRequest{
		Patch: []PatchData{{Op: OpReplace, Path: PathPassword, Value: password}},
	})
}

// ExtractSheets turns sheets of a spreadsheet file into datasets.
func (a *API) ExtractSheets(ctx context.Context, workspaceID, projectID, fileID int64, extract ExtractSheetsPatch) (*jobs.ObjectJob, error) {
	return a.UpdateConfig(ctx, workspaceID, projectID, fileID, PatchRequest{
		Patch: []PatchData{{Op: OpReplace, Path: PathExtractSheets, Value: extract}},
	})
}

func validatePatch(patch PatchRequest) error {
	if err := validation.Struct(patch); err != nil {
		return err
	}

	for i, p := range patch.Patch {
		field := fmt.Sprintf("patch[%d].value", i)
		switch p.Path {
		case PathPassword:
			s, ok := p.Value.(string)
			if !ok || s == "" {
				return apierr.NewValidationError("password must be a non-empty string", field)
			}
		case PathExtractSheets:
			var extract ExtractSheetsPatch
			switch v := p.Value.(type) {
			case ExtractSheetsPatch:
				extract = v
			case *ExtractSheetsPatch:
				if v == nil {
					return apierr.NewValidationError("extract_sheets value is required", field)
				}
				extract = *v
			default:
				return apierr.NewValidationError("extract_sheets value must be an ExtractSheetsPatch", field)
			}
			if err := validation.Struct(extract); err != nil {
				return err
			}
		}
	}
	return nil
}

// FormatDateRange renders a created_at or updated_at filter in UTC.
func FormatDateRange(from, to time.Time) string {
	const layout = "2006-01-02T15:04:05.999999Z07:00"
	return fmt.Sprintf("(from:'%s',to:'%s')", from.UTC().Format(layout), to.UTC().Format(layout))
}

// ValidateFilePath checks that path names a readable regular file.
func ValidateFilePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apierr.NewValidationError("File not found: "+path, "files")
		}
		return apierr.NewValidationError(fmt.Sprintf("cannot access %s: %v", path, err), "files")
	}
	if !info.Mode().IsRegular() {
		return apierr.NewValidationError("Path is not a file: "+path, "files")
	}
	return nil
}
