package db

import (
	"time"

	"github.com/lyallcooper/cvsubmit/internal/types"
)

// UploadRun represents a single CV submission
type UploadRun struct {
	ID           int64
	SessionID    string
	JobID        *string // Set once the backend accepts the work asynchronously
	WatchJobID   *int64  // Set when started by a watch job
	Files        []string
	Status       types.JobStatus
	Percent      int
	Message      string
	StartedAt    time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}

// CriteriaUpdateStatus is the outcome of a criteria update
type CriteriaUpdateStatus string

const (
	CriteriaUpdateStatusCompleted CriteriaUpdateStatus = "completed"
	CriteriaUpdateStatusFailed    CriteriaUpdateStatus = "failed"
)

// CriteriaUpdate records one attempt to store edited job criteria
type CriteriaUpdate struct {
	ID           int64
	Status       CriteriaUpdateStatus
	ErrorMessage *string
	CreatedAt    time.Time
}

// WatchJob uploads new CVs from folders on a cron schedule
type WatchJob struct {
	ID             int64
	Name           string
	Paths          []string
	CronExpression string
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	CreatedAt      time.Time
}
