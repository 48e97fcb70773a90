package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// JobStatus is the lifecycle state of an upload job
type JobStatus string

const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further updates will follow
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Progress bar style classes
const (
	ClassActive  = "bg-primary progress-bar-animated"
	ClassSuccess = "bg-success"
	ClassFailure = "bg-danger"
)

// UploadJob is the transient state of one submission
type UploadJob struct {
	SessionID string
	JobID     string
	Files     []string
	Percent   int
	Status    JobStatus
	Message   string
}

// View projects the job onto a progress bar
func (j *UploadJob) View() ProgressView {
	class := ClassActive
	switch {
	case j.Status == JobStatusFailed:
		class = ClassFailure
	case j.Percent >= 100:
		class = ClassSuccess
	}
	return ProgressView{
		SessionID: j.SessionID,
		Percent:   j.Percent,
		Width:     strconv.Itoa(j.Percent) + "%",
		Label:     strconv.Itoa(j.Percent) + "%",
		Text:      j.Message,
		Class:     class,
		Status:    j.Status,
	}
}

// ProgressView is what a progress bar displays. Always derived from an UploadJob.
type ProgressView struct {
	SessionID string    `json:"session_id"`
	Percent   int       `json:"percent"`
	Width     string    `json:"width"`
	Label     string    `json:"label"`
	Text      string    `json:"text"`
	Class     string    `json:"class"`
	Status    JobStatus `json:"status"`
}

// EventKind identifies a view update sent to subscribers
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventSubmit   EventKind = "submit"
	EventAlert    EventKind = "alert"
	EventNavigate EventKind = "navigate"
)

// Event is a single view update for SSE subscribers
type Event struct {
	Kind          EventKind     `json:"kind"`
	Progress      *ProgressView `json:"progress,omitempty"`
	SubmitEnabled bool          `json:"submit_enabled"`
	Message       string        `json:"message,omitempty"`
	URL           string        `json:"url,omitempty"`
}

// CriteriaPreview is the extracted text and generated criteria of an uploaded job description
type CriteriaPreview struct {
	ExtractedText string
	Criteria      json.RawMessage
	CriteriaJSON  string // Criteria indented for display and editing
}

// BannerKind selects the banner style
type BannerKind string

const (
	BannerSuccess BannerKind = "success"
	BannerDanger  BannerKind = "danger"
)

// Banner is a transient message appended below the criteria preview
type Banner struct {
	ID      string
	Kind    BannerKind
	Message string
	TTL     time.Duration
}
