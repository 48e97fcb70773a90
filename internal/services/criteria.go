package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

const (
	msgNoCriteriaFile   = "Please select a file"
	msgProcessingFailed = "An error occurred while processing the file"
	msgUnexpected       = "An unexpected error occurred"
	msgCriteriaUpdated  = "Job criteria updated successfully!"
	msgUnknownError     = "Unknown error"
)

// ErrNoCriteria is returned by Update when there is nothing to send
var ErrNoCriteria = errors.New("no job criteria to update")

// CriteriaView receives the visible effects of the criteria flow
type CriteriaView interface {
	Alert(msg string)
	SetSpinner(visible bool)
	ShowPreview(p types.CriteriaPreview)
	ShowError(msg string)
	AddBanner(b types.Banner)
	RemoveBanner(id string)
}

// CriteriaRecorder audits criteria updates. *db.DB satisfies it.
type CriteriaRecorder interface {
	RecordCriteriaUpdate(status db.CriteriaUpdateStatus, errorMsg *string) error
}

// Criteria uploads job descriptions for extraction and pushes edited
// criteria back to the backend.
type Criteria struct {
	client    backend.ClientInterface
	recorder  CriteriaRecorder
	bannerTTL time.Duration

	mu     sync.Mutex
	last   json.RawMessage
	timers map[string]*time.Timer
	closed bool
}

// NewCriteria creates a criteria controller. recorder may be nil.
func NewCriteria(client backend.ClientInterface, recorder CriteriaRecorder, bannerTTL time.Duration) *Criteria {
	return &Criteria{
		client:    client,
		recorder:  recorder,
		bannerTTL: bannerTTL,
		timers:    make(map[string]*time.Timer),
	}
}

// Upload sends a job description document and shows the extracted preview.
// A nil file alerts the user without contacting the backend.
func (c *Criteria) Upload(ctx context.Context, file *backend.File, view CriteriaView) (*types.CriteriaPreview, error) {
	if file == nil {
		view.Alert(msgNoCriteriaFile)
		return nil, backend.ErrNoFilesSelected
	}

	view.SetSpinner(true)
	result, err := c.client.UploadCriteria(ctx, *file)
	view.SetSpinner(false)

	if err != nil {
		log.Printf("criteria: upload of %s failed: %v", file.Name, err)
		view.ShowError(errorText(err))
		return nil, err
	}

	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = msgProcessingFailed
		}
		view.ShowError(msg)
		return nil, &RejectedError{Op: "upload criteria", Message: msg}
	}

	preview := types.CriteriaPreview{
		ExtractedText: result.ExtractedText,
		Criteria:      result.JobCriteria,
		CriteriaJSON:  indentJSON(result.JobCriteria),
	}

	c.mu.Lock()
	c.last = result.JobCriteria
	c.mu.Unlock()

	view.ShowPreview(preview)
	return &preview, nil
}

// Last returns the criteria from the most recent successful upload or update
func (c *Criteria) Last() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Update sends edited criteria to the backend. An empty criteria argument
// resends the last known criteria. The outcome is shown as a banner that
// removes itself after the banner TTL.
func (c *Criteria) Update(ctx context.Context, criteria json.RawMessage, view CriteriaView) error {
	if len(bytes.TrimSpace(criteria)) == 0 {
		criteria = c.Last()
	}
	if len(criteria) == 0 {
		view.Alert("Please upload a job criteria file first")
		return ErrNoCriteria
	}
	if !json.Valid(criteria) {
		err := fmt.Errorf("update criteria: invalid JSON")
		c.banner(view, types.BannerDanger, "Failed to update job criteria: invalid JSON")
		c.record(db.CriteriaUpdateStatusFailed, err.Error())
		return err
	}

	result, err := c.client.UpdateCriteria(ctx, criteria)
	if err != nil {
		log.Printf("criteria: update failed: %v", err)
		c.banner(view, types.BannerDanger, errorText(err))
		c.record(db.CriteriaUpdateStatusFailed, err.Error())
		return err
	}

	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = msgUnknownError
		}
		c.banner(view, types.BannerDanger, "Failed to update job criteria: "+msg)
		c.record(db.CriteriaUpdateStatusFailed, msg)
		return &RejectedError{Op: "update criteria", Message: msg}
	}

	c.mu.Lock()
	c.last = append(json.RawMessage(nil), criteria...)
	c.mu.Unlock()

	c.banner(view, types.BannerSuccess, msgCriteriaUpdated)
	c.record(db.CriteriaUpdateStatusCompleted, "")
	return nil
}

// Close cancels pending banner removals
func (c *Criteria) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *Criteria) banner(view CriteriaView, kind types.BannerKind, msg string) {
	b := types.Banner{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: msg,
		TTL:     c.bannerTTL,
	}
	view.AddBanner(b)

	if c.bannerTTL <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.timers[b.ID] = time.AfterFunc(c.bannerTTL, func() {
		c.mu.Lock()
		_, pending := c.timers[b.ID]
		delete(c.timers, b.ID)
		c.mu.Unlock()

		if pending {
			view.RemoveBanner(b.ID)
		}
	})
}

func (c *Criteria) record(status db.CriteriaUpdateStatus, errMsg string) {
	if c.recorder == nil {
		return
	}
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	if err := c.recorder.RecordCriteriaUpdate(status, msg); err != nil {
		log.Printf("criteria: failed to record update: %v", err)
	}
}

// errorText is the message shown when a request did not produce a usable response
func errorText(err error) string {
	var transport *backend.TransportError
	if errors.As(err, &transport) && transport.Err != nil {
		return "Error: " + transport.Err.Error()
	}
	return "Error: " + msgUnexpected
}

// indentJSON pretty-prints raw JSON for display, falling back to the input
func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
