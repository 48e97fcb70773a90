package backend

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Canonical backend endpoints
const (
	PathUploadCV       = "/analysis/upload-cv"
	PathCheckProgress  = "/analysis/check-progress"
	PathCriteriaUpload = "/job-criteria/upload"
	PathCriteriaUpdate = "/job-criteria/update"
	PathResults        = "/analysis/"

	FieldCVFiles      = "cv_files"
	FieldCriteriaFile = "job_criteria_file"
)

// AllowedExtensions are the document types the backend can extract text from
var AllowedExtensions = []string{"pdf", "docx", "txt"}

// IsAllowedFile reports whether name has an extension the backend accepts
func IsAllowedFile(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ProgressFunc receives cumulative bytes sent out of total
type ProgressFunc func(sent, total int64)

// File is one user-selected document. Size is -1 when unknown.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileFromPath describes a file on disk
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FileFromBytes describes an in-memory document
func FileFromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// UploadResult is the interpreted response to a CV upload
type UploadResult struct {
	StatusCode int
	// JobID is set when the server accepted the work for background processing (202)
	JobID string
}

// Async reports whether the result must be polled
func (r *UploadResult) Async() bool {
	return r.JobID != ""
}

// Job status values reported by check-progress
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobProgress is the check-progress response
type JobProgress struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// CriteriaResult is the job-criteria upload response
type CriteriaResult struct {
	Success       bool            `json:"success"`
	ExtractedText string          `json:"extracted_text"`
	JobCriteria   json.RawMessage `json:"job_criteria"`
	Error         string          `json:"error"`
}

// UpdateResult is the job-criteria update response
type UpdateResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
