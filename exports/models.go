package exports

import (
	"github.com/mammoth-analytics/mammoth-go/jobs"
)

// HandlerType is the destination kind of an export.
type HandlerType string

const (
	HandlerPostgres        HandlerType = "postgres"
	HandlerCSVFile         HandlerType = "csv_file"
	HandlerS3              HandlerType = "s3"
	HandlerMySQL           HandlerType = "mysql"
	HandlerMSSQL           HandlerType = "mssql"
	HandlerFTP             HandlerType = "ftp"
	HandlerSFTP            HandlerType = "sftp"
	HandlerEmail           HandlerType = "email"
	HandlerElasticsearch   HandlerType = "elasticsearch"
	HandlerPowerBI         HandlerType = "powerbi"
	HandlerRedshift        HandlerType = "redshift"
	HandlerBigQuery        HandlerType = "bigquery"
	HandlerInternalDataset HandlerType = "internal_dataset"
	HandlerPublishDB       HandlerType = "publishdb"
)

// TriggerType controls when an export runs.
type TriggerType string

const (
	TriggerNone     TriggerType = "none"
	TriggerPipeline TriggerType = "pipeline"
	TriggerSchedule TriggerType = "schedule"
)

// Status is the lifecycle state of an export.
type Status string

const (
	StatusDeleted    Status = "deleted"
	StatusExecuted   Status = "executed"
	StatusExecuting  Status = "executing"
	StatusEdited     Status = "edited"
	StatusAdded      Status = "added"
	StatusSuspended  Status = "suspended"
	StatusSuspending Status = "suspending"
)

// S3Target is the target_properties block of an S3 export.
type S3Target struct {
	File          string `json:"file" validate:"required"`
	FileType      string `json:"file_type" validate:"required"`
	IncludeHidden bool   `json:"include_hidden"`
	IsFormatSet   bool   `json:"is_format_set"`
	UseFormat     bool   `json:"use_format"`
}

// NewS3Target returns a CSV target for file with formatting applied.
func NewS3Target(file string) S3Target {
	return S3Target{File: file, FileType: "csv", IsFormatSet: true, UseFormat: true}
}

// AddExportSpec is the body of an add-export request. A non-nil TriggerID
// edits that export instead of adding a new one.
type AddExportSpec struct {
	DataviewID           int64          `json:"DATAVIEW_ID" validate:"gt=0"`
	Sequence             *int           `json:"sequence" validate:"omitempty,gte=0"`
	TriggerID            *int64         `json:"TRIGGER_ID"`
	EndOfPipeline        bool           `json:"end_of_pipeline"`
	HandlerType          HandlerType    `json:"handler_type" validate:"required,oneof=postgres csv_file s3 mysql mssql ftp sftp email elasticsearch powerbi redshift bigquery internal_dataset publishdb"`
	TriggerType          TriggerType    `json:"trigger_type" validate:"required,oneof=none pipeline schedule"`
	TargetProperties     any            `json:"target_properties" validate:"required"`
	AdditionalProperties map[string]any `json:"additional_properties"`
	Condition            map[string]any `json:"condition"`
	RunImmediately       bool           `json:"run_immediately"`
	ValidateOnly         bool           `json:"validate_only"`
}

// Export is one export task of a dataview pipeline.
type Export struct {
	ID                   int64          `json:"id,omitempty"`
	DataviewID           int64          `json:"dataview_id,omitempty"`
	Sequence             *int           `json:"sequence,omitempty"`
	SubSequence          *int           `json:"sub_sequence,omitempty"`
	HandlerType          HandlerType    `json:"handler_type,omitempty"`
	TriggerType          TriggerType    `json:"trigger_type,omitempty"`
	EndOfPipeline        *bool          `json:"end_of_pipeline,omitempty"`
	Status               Status         `json:"status,omitempty"`
	TargetProperties     map[string]any `json:"target_properties,omitempty"`
	Runnable             *bool          `json:"runnable,omitempty"`
	Reordered            *bool          `json:"reordered,omitempty"`
	DataPassThrough      *bool          `json:"data_pass_through,omitempty"`
	AdditionalProperties map[string]any `json:"additional_properties,omitempty"`
	Condition            map[string]any `json:"condition,omitempty"`
	LastModifiedTime     jobs.Timestamp `json:"last_modified_time"`
	ExecutionStartTime   jobs.Timestamp `json:"execution_start_time"`
	ExecutionEndTime     jobs.Timestamp `json:"execution_end_time"`
	LastRunResult        map[string]any `json:"last_run_result,omitempty"`
	ErrorInfo            map[string]any `json:"error_info,omitempty"`
}

// List is one page of pipeline exports.
type List struct {
	Exports []Export `json:"exports"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	Next    string   `json:"next"`
}

// ListOptions filters an export listing. Nil and zero values are not sent.
type ListOptions struct {
	Fields        string      `json:"fields,omitempty"`
	Limit         int         `json:"limit,omitempty" validate:"gte=0,lte=100"`
	Offset        int         `json:"offset,omitempty" validate:"gte=0"`
	Sort          string      `json:"sort,omitempty"`
	Sequence      *int        `json:"sequence,omitempty"`
	Status        Status      `json:"status,omitempty" validate:"omitempty,oneof=deleted executed executing edited added suspended suspending"`
	Reordered     *bool       `json:"reordered,omitempty"`
	HandlerType   HandlerType `json:"handler_type,omitempty"`
	EndOfPipeline *bool       `json:"end_of_pipeline,omitempty"`
	Runnable      *bool       `json:"runnable,omitempty"`
}

// Modification is the answer to an add or edit that did not start a job.
type Modification struct {
	TriggerID int64  `json:"trigger_id"`
	Status    Status `json:"status,omitempty"`
	// FutureID is the background job applying the change, if any.
	FutureID *int64 `json:"future_id,omitempty"`
}

// AddResult holds exactly one of Modification or Job.
type AddResult struct {
	Modification *Modification
	Job          *jobs.Job
}

// JobID returns the job to wait for, if the server started one.
func (r *AddResult) JobID() (int64, bool) {
	switch {
	case r == nil:
		return 0, false
	case r.Job != nil:
		return r.Job.ID, true
	case r.Modification != nil && r.Modification.FutureID != nil:
		return *r.Modification.FutureID, true
	default:
		return 0, false
	}
}

type addResponse struct {
	Job       *jobs.Job `json:"job"`
	TriggerID *int64    `json:"trigger_id"`
	Status    Status    `json:"status"`
	FutureID  *int64    `json:"future_id"`
}
