// Package fixtures provides a fake Mammoth API server for tests.
package fixtures

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const (
	TestKey    = "test-key"
	TestSecret = "test-secret"

	apiPrefix = "/api/v2"
)

// JobState is what one poll of a job reports.
type JobState struct {
	Status   string
	Response map[string]any
}

func Processing() JobState {
	return JobState{Status: "processing", Response: map[string]any{}}
}

// Succeeded reports success with dsID as the created dataset. A zero dsID
// leaves ds_id out of the response.
func Succeeded(dsID int64) JobState {
	resp := map[string]any{}
	if dsID != 0 {
		resp["ds_id"] = dsID
	}
	return JobState{Status: "success", Response: resp}
}

func Failed(reason string) JobState {
	return JobState{Status: "failure", Response: map[string]any{"failure_reason": reason}}
}

// UploadItem is the answer for one uploaded file.
type UploadItem struct {
	JobID         int64
	FailureReason string
}

// Started answers an upload item with a started job.
func Started(jobID int64) UploadItem {
	return UploadItem{JobID: jobID}
}

// Rejected answers an upload item without a job.
func Rejected(reason string) UploadItem {
	return UploadItem{FailureReason: reason}
}

// Upload records one received upload request.
type Upload struct {
	WorkspaceID int64
	ProjectID   int64
	FileNames   []string
	Query       url.Values
}

type scriptedJob struct {
	states []JobState
	polls  int
}

// Server is an in-process fake of the Mammoth API rooted at URL + "/api/v2".
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	jobs    map[int64]*scriptedJob
	answers [][]UploadItem
	uploads []Upload
}

// NewServer starts a server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{jobs: make(map[int64]*scriptedJob)}

	mux := nethttp.NewServeMux()
	mux.HandleFunc("GET "+apiPrefix+"/jobs", s.handleJobs)
	mux.HandleFunc("GET "+apiPrefix+"/jobs/{id}", s.handleJob)
	mux.HandleFunc("POST "+apiPrefix+"/workspaces/{workspace}/projects/{project}/files", s.handleUpload)

	s.Server = httptest.NewServer(authenticate(mux))
	t.Cleanup(s.Close)
	return s
}

// BaseURL returns the API root clients should use.
func (s *Server) BaseURL() string {
	return s.URL + apiPrefix
}

// AddJob registers a job that reports states on successive polls, repeating the last one.
func (s *Server) AddJob(id int64, states ...JobState) {
	if len(states) == 0 {
		states = []JobState{Processing()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = &scriptedJob{states: states}
}

// QueueUpload sets the answer for the next upload request, one item per file.
func (s *Server) QueueUpload(items ...UploadItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, items)
}

// Polls returns how many times job id was read.
func (s *Server) Polls(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.polls
	}
	return 0
}

// Uploads returns the upload requests received so far.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

func authenticate(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Header.Get("X-API-KEY") != TestKey || r.Header.Get("X-API-SECRET") != TestSecret {
			writeError(w, nethttp.StatusUnauthorized, "Invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// poll must be called with s.mu held.
func (s *Server) poll(id int64) (map[string]any, bool) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	state := j.states[min(j.polls, len(j.states)-1)]
	j.polls++
	return map[string]any{
		"id":              id,
		"status":          state.Status,
		"response":        state.Response,
		"created_at":      "2024-05-01T10:00:00Z",
		"last_updated_at": "2024-05-01T10:00:00Z",
	}, true
}

func (s *Server) handleJob(w nethttp.ResponseWriter, r *nethttp.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, nethttp.StatusBadRequest, "invalid job id")
		return
	}

	s.mu.Lock()
	job, ok := s.poll(id)
	s.mu.Unlock()
	if !ok {
		writeError(w, nethttp.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleJobs(w nethttp.ResponseWriter, r *nethttp.Request) {
	raw := r.URL.Query().Get("job_ids")
	if raw == "" {
		writeError(w, nethttp.StatusBadRequest, "job_ids is required")
		return
	}

	s.mu.Lock()
	list := make([]map[string]any, 0)
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			s.mu.Unlock()
			writeError(w, nethttp.StatusBadRequest, "invalid job id: "+part)
			return
		}
		if job, ok := s.poll(id); ok {
			list = append(list, job)
		}
	}
	s.mu.Unlock()

	writeJSON(w, nethttp.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) handleUpload(w nethttp.ResponseWriter, r *nethttp.Request) {
	workspaceID, _ := strconv.ParseInt(r.PathValue("workspace"), 10, 64)
	projectID, _ := strconv.ParseInt(r.PathValue("project"), 10, 64)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, nethttp.StatusBadRequest, err.Error())
		return
	}
	var names []string
	for _, fh := range r.MultipartForm.File["files"] {
		names = append(names, fh.Filename)
	}
	if len(names) == 0 {
		writeError(w, nethttp.StatusBadRequest, "no files")
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		FileNames:   names,
		Query:       r.URL.Query(),
	})
	var answer []UploadItem
	if len(s.answers) > 0 {
		answer, s.answers = s.answers[0], s.answers[1:]
	}
	s.mu.Unlock()

	items := make([]map[string]any, len(names))
	for i := range names {
		switch {
		case i >= len(answer):
			items[i] = map[string]any{"status_code": 400, "failure_reason": "no answer queued"}
		case answer[i].JobID != 0:
			items[i] = map[string]any{"status_code": 202, "job_id": answer[i].JobID}
		default:
			items[i] = map[string]any{"status_code": 400, "failure_reason": answer[i].FailureReason}
		}
	}
	writeJSON(w, nethttp.StatusAccepted, items)
}

func writeJSON(w nethttp.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w nethttp.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}
