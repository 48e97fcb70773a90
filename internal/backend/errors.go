package backend

import (
	"errors"
	"fmt"
)

// ErrNoFilesSelected is returned when a submission contains no files
var ErrNoFilesSelected = errors.New("no files selected")

// HTTPError is a response with an unexpected status code
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string // status text, e.g. "Internal Server Error"
	Message    string // error message from the body, if any
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: http %d %s: %s", e.Op, e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: http %d %s", e.Op, e.StatusCode, e.Status)
}

// TransportError is a failure before any response was received
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a response body that could not be decoded
type MalformedResponseError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response (http %d): %v", e.Op, e.StatusCode, e.Err)
}
func (e *MalformedResponseError) Unwrap() error { return e.Err }
