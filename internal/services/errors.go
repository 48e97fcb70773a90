package services

import (
	"errors"
	"fmt"
)

// ErrUploaderClosed is returned when submitting after Close
var ErrUploaderClosed = errors.New("uploader closed")

// JobFailedError is an asynchronous job the backend reported as failed
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// RejectedError is a criteria request the backend answered with success=false
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}
