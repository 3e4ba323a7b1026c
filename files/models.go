package files

import (
	"time"

	"github.com/mammoth-analytics/mammoth-go/jobs"
)

// SheetInfo describes one sheet of a spreadsheet file.
type SheetInfo struct {
	SheetName string `json:"sheet_name"`
	NumRows   int    `json:"num_rows"`
	NumCols   int    `json:"num_cols"`
}

// AdditionalInfo holds file metadata beyond the basic fields.
type AdditionalInfo struct {
	AppendToDatasetID         *int64      `json:"append_to_ds_id,omitempty"`
	ParentID                  *string     `json:"parent_id,omitempty"`
	DeleteExistingAfterAppend bool        `json:"delete_existing_after_append"`
	PasswordProtected         bool        `json:"password_protected"`
	SheetsInfo                []SheetInfo `json:"sheets_info,omitempty"`
	FinalDatasetID            *int64      `json:"final_ds_id,omitempty"`
	URL                       *string     `json:"url,omitempty"`
}

// StatusInfo holds the per-stage status messages of a file.
type StatusInfo struct {
	Extracting   *string `json:"extracting,omitempty"`
	Extracted    *string `json:"extracted,omitempty"`
	ActionNeeded *string `json:"action_needed,omitempty"`
	Processing   *string `json:"processing,omitempty"`
	Processed    *string `json:"processed,omitempty"`
	Error        *string `json:"error,omitempty"`
	IsHidden     bool    `json:"is_hidden"`
	IsEmpty      bool    `json:"is_empty"`
}

// File is an uploaded file. Which fields are set depends on the requested field set.
type File struct {
	ID             int64           `json:"id,omitempty"`
	Name           string          `json:"name,omitempty"`
	Status         string          `json:"status,omitempty"`
	CreatedAt      jobs.Timestamp  `json:"created_at"`
	LastUpdatedAt  jobs.Timestamp  `json:"last_updated_at"`
	StatusInfo     *StatusInfo     `json:"status_info,omitempty"`
	AdditionalInfo *AdditionalInfo `json:"additional_info,omitempty"`
}

// List is one page of files.
type List struct {
	Files  []File `json:"files"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Next   string `json:"next"`
}

type fileEnvelope struct {
	File *File `json:"file"`
}

// PatchOperation is the operation of a file patch.
type PatchOperation string

const OpReplace PatchOperation = "replace"

// PatchPath is the setting a file patch changes.
type PatchPath string

const (
	PathExtractSheets PatchPath = "extract_sheets"
	PathPassword      PatchPath = "password"
)

// ExtractSheetsPatch selects sheets of a spreadsheet to turn into datasets.
type ExtractSheetsPatch struct {
	Sheets                 []string `json:"sheets" validate:"required,min=1,dive,required"`
	DeleteFileAfterExtract bool     `json:"delete_file_after_extract"`
	CombineAfterExtract    bool     `json:"combine_after_extract"`
}

// NewExtractSheetsPatch returns a patch for sheets that deletes the source
// file once extracted, which is what the server does by default.
func NewExtractSheetsPatch(sheets ...string) ExtractSheetsPatch {
	return ExtractSheetsPatch{Sheets: sheets, DeleteFileAfterExtract: true}
}

// PatchData is a single patch operation. Value is a password string for
// PathPassword and an ExtractSheetsPatch for PathExtractSheets.
type PatchData struct {
	Op    PatchOperation `json:"op" validate:"required,oneof=replace"`
	Path  PatchPath      `json:"path" validate:"required,oneof=extract_sheets password"`
	Value any            `json:"value" validate:"required"`
}

// PatchRequest is the body of a file configuration update.
type PatchRequest struct {
	Patch []PatchData `json:"patch" validate:"required,min=1,dive"`
}

// ListOptions filters a file listing. Zero values are not sent.
type ListOptions struct {
	// Fields is a field set such as "__standard", "__full", "__min" or a comma separated list.
	Fields    string   `json:"fields,omitempty"`
	IDs       []int64  `json:"id,omitempty"`
	Names     []string `json:"name,omitempty"`
	Statuses  []string `json:"status,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"` // see FormatDateRange
	UpdatedAt string   `json:"updated_at,omitempty"`
	Limit     int      `json:"limit,omitempty" validate:"gte=0,lte=100"` // server default 50
	Offset    int      `json:"offset,omitempty" validate:"gte=0"`
	Sort      string   `json:"sort,omitempty"` // e.g. "(id:asc),(name:desc)"
}

// UploadOptions controls an upload.
type UploadOptions struct {
	// FolderResourceID places the datasets in a folder.
	FolderResourceID string
	// AppendToDatasetID appends the rows to an existing dataset when non-zero.
	AppendToDatasetID int64
	// OverrideTargetSchema is sent only when set.
	OverrideTargetSchema *bool
	// NoWait returns right after the upload is accepted, without dataset ids.
	NoWait bool
	// Timeout and PollInterval override the tracker defaults when positive.
	Timeout      time.Duration
	PollInterval time.Duration
}

// UploadResult is the outcome of one upload request.
type UploadResult struct {
	// Items holds the server answer for each file, in input order.
	Items []jobs.ObjectJob
	// JobIDs lists the jobs the server started, in input order.
	JobIDs []int64
	// DatasetIDs has one entry per input file once the jobs were waited for,
	// nil where no job was started or its result carried no dataset id.
	DatasetIDs []*int64
}

// DatasetID returns the dataset of a single-file upload, or nil.
func (r *UploadResult) DatasetID() *int64 {
	if r == nil || len(r.DatasetIDs) == 0 {
		return nil
	}
	return r.DatasetIDs[0]
}
