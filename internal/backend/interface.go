package backend

import (
	"context"
	"encoding/json"
)

// ClientInterface defines the analysis backend operations.
// This allows mocking the client in tests.
type ClientInterface interface {
	// UploadCVs posts the files as one multipart request. onProgress, when
	// non-nil, receives cumulative bytes sent and the total size.
	UploadCVs(ctx context.Context, files []File, onProgress ProgressFunc) (*UploadResult, error)

	// CheckProgress fetches the status of an asynchronous analysis job
	CheckProgress(ctx context.Context, jobID string) (*JobProgress, error)

	// UploadCriteria posts a job-criteria document for extraction
	UploadCriteria(ctx context.Context, file File) (*CriteriaResult, error)

	// UpdateCriteria stores an edited criteria object
	UpdateCriteria(ctx context.Context, criteria json.RawMessage) (*UpdateResult, error)
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)
