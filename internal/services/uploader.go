package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

// Status texts shown on the progress bar
const (
	msgPreparing    = "Preparing files..."
	msgUploading    = "Uploading files..."
	msgAnalyzing    = "Analyzing CVs..."
	msgComplete     = "Analysis complete!"
	msgUploadFailed = "Upload failed. Please try again."
	msgNoFiles      = "Please select at least one file"
)

// Recorder persists upload history. *db.DB satisfies it.
type Recorder interface {
	CreateUploadRun(sessionID string, files []string, watchJobID *int64) (*db.UploadRun, error)
	SetUploadRunJobID(id int64, jobID string) error
	UpdateUploadRunProgress(id int64, status types.JobStatus, percent int, message string) error
	CompleteUploadRun(id int64, status types.JobStatus, percent int, message string, errorMsg *string) error
}

// pollTask is the cancellable status loop of one backend job
type pollTask struct {
	cancel context.CancelFunc
}

// Uploader runs CV submissions: the upload, then polling of any job the
// backend deferred, ending with navigation to the results page.
type Uploader struct {
	client       backend.ClientInterface
	recorder     Recorder
	pollInterval time.Duration
	resultsURL   string

	mu       sync.Mutex
	sessions map[string]*Session
	polls    map[string]*pollTask // keyed by backend job ID
	closed   bool
	wg       sync.WaitGroup

	hub *hub
}

// NewUploader creates an uploader. recorder may be nil.
func NewUploader(client backend.ClientInterface, recorder Recorder, pollInterval time.Duration, resultsURL string) *Uploader {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Uploader{
		client:       client,
		recorder:     recorder,
		pollInterval: pollInterval,
		resultsURL:   resultsURL,
		sessions:     make(map[string]*Session),
		polls:        make(map[string]*pollTask),
		hub:          newHub(),
	}
}

// Start validates the selection and begins the submission in the background.
// ctx bounds the whole session, polling included.
func (u *Uploader) Start(ctx context.Context, files []backend.File, view View) (*Session, error) {
	return u.start(ctx, files, view, nil)
}

// StartForWatchJob is Start for submissions triggered by a watch job
func (u *Uploader) StartForWatchJob(ctx context.Context, files []backend.File, view View, watchJobID int64) (*Session, error) {
	return u.start(ctx, files, view, &watchJobID)
}

// Run submits the files and waits for a terminal state
func (u *Uploader) Run(ctx context.Context, files []backend.File, view View) (types.UploadJob, error) {
	s, err := u.Start(ctx, files, view)
	if err != nil {
		return types.UploadJob{Status: types.JobStatusIdle}, err
	}
	return s.Wait()
}

func (u *Uploader) start(ctx context.Context, files []backend.File, view View, watchJobID *int64) (*Session, error) {
	if view == nil {
		view = NopView{}
	}

	if len(files) == 0 {
		view.Alert(msgNoFiles)
		return nil, backend.ErrNoFilesSelected
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil, ErrUploaderClosed
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		u:      u,
		view:   view,
		cancel: cancel,
		done:   make(chan struct{}),
		job: types.UploadJob{
			SessionID: uuid.NewString(),
			Files:     names,
			Status:    types.JobStatusIdle,
		},
	}
	u.sessions[s.job.SessionID] = s
	u.wg.Add(1)
	u.mu.Unlock()

	u.hub.open(s.job.SessionID)

	if u.recorder != nil {
		run, err := u.recorder.CreateUploadRun(s.job.SessionID, names, watchJobID)
		if err != nil {
			log.Printf("uploader: failed to record run: %v", err)
		} else {
			s.runID = run.ID
		}
	}

	go s.run(sessCtx, files)

	return s, nil
}

// Subscribe returns the event stream of a session
func (u *Uploader) Subscribe(sessionID string) <-chan types.Event {
	return u.hub.Subscribe(sessionID)
}

// Unsubscribe stops delivering events to ch
func (u *Uploader) Unsubscribe(sessionID string, ch <-chan types.Event) {
	u.hub.Unsubscribe(sessionID, ch)
}

// Session returns an active session by ID
func (u *Uploader) Session(sessionID string) (*Session, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.sessions[sessionID]
	return s, ok
}

// CancelSession stops an active session. Returns false if it is not running.
func (u *Uploader) CancelSession(sessionID string) bool {
	s, ok := u.Session(sessionID)
	if ok {
		s.Cancel()
	}
	return ok
}

// CancelJob stops polling a backend job. Returns false if no poll is running.
func (u *Uploader) CancelJob(jobID string) bool {
	u.mu.Lock()
	task, ok := u.polls[jobID]
	u.mu.Unlock()

	if ok {
		task.cancel()
	}
	return ok
}

// Polling reports whether a poll task is running for jobID
func (u *Uploader) Polling(jobID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.polls[jobID]
	return ok
}

// Close cancels every active session and waits for them to finish
func (u *Uploader) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	for _, s := range u.sessions {
		s.cancel()
	}
	u.mu.Unlock()

	u.wg.Wait()
}

func (u *Uploader) finish(s *Session) {
	u.mu.Lock()
	delete(u.sessions, s.job.SessionID)
	u.mu.Unlock()

	u.hub.finish(s.job.SessionID)
	u.wg.Done()
}

// poll checks job status every pollInterval until a terminal status or
// cancellation. Transport and decode failures are logged and retried on the
// next tick without backoff. One request is in flight at a time.
func (u *Uploader) poll(ctx context.Context, s *Session, jobID string) error {
	pollCtx, cancel := context.WithCancel(ctx)
	task := &pollTask{cancel: cancel}

	u.mu.Lock()
	if prev, ok := u.polls[jobID]; ok {
		prev.cancel()
	}
	u.polls[jobID] = task
	u.mu.Unlock()

	defer func() {
		cancel()
		u.mu.Lock()
		if u.polls[jobID] == task {
			delete(u.polls, jobID)
		}
		u.mu.Unlock()
	}()

	ticker := time.NewTicker(u.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return pollCtx.Err()
		case <-ticker.C:
		}

		progress, err := u.client.CheckProgress(pollCtx, jobID)
		if err != nil {
			if pollCtx.Err() != nil {
				return pollCtx.Err()
			}
			log.Printf("uploader: error polling progress for job %s: %v", jobID, err)
			continue
		}

		switch progress.Status {
		case backend.StatusProcessing:
			msg := progress.Message
			if msg == "" {
				msg = msgAnalyzing
			}
			s.update(types.JobStatusProcessing, ProcessingPercent(progress.Progress), msg, true)
		case backend.StatusCompleted:
			return nil
		case backend.StatusFailed:
			return &JobFailedError{JobID: jobID, Message: progress.Message}
		default:
			log.Printf("uploader: job %s reported unknown status %q, still polling", jobID, progress.Status)
		}
	}
}

// Session is one submission in flight
type Session struct {
	u      *Uploader
	view   View
	cancel context.CancelFunc
	done   chan struct{}
	runID  int64

	mu        sync.Mutex
	job       types.UploadJob
	err       error
	navigated bool
}

// ID returns the local session identifier
func (s *Session) ID() string {
	return s.job.SessionID
}

// Job returns a snapshot of the current state
func (s *Session) Job() types.UploadJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.job
	job.Files = append([]string(nil), s.job.Files...)
	return job
}

// Done is closed when the session reaches a terminal state
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes and returns its final state
func (s *Session) Wait() (types.UploadJob, error) {
	<-s.done
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	return s.Job(), err
}

// Cancel stops the session, including any poll task
func (s *Session) Cancel() {
	s.cancel()
}

func (s *Session) run(ctx context.Context, files []backend.File) {
	defer close(s.done)
	defer s.u.finish(s)
	defer s.cancel()

	s.setSubmitEnabled(false)
	s.update(types.JobStatusUploading, 0, msgPreparing, false)

	result, err := s.u.client.UploadCVs(ctx, files, s.onUploadProgress)
	if err != nil {
		s.fail(err)
		return
	}

	if result.Async() {
		s.accepted(result.JobID)
		if err := s.u.poll(ctx, s, result.JobID); err != nil {
			s.fail(err)
			return
		}
	}

	s.complete()
}

func (s *Session) onUploadProgress(sent, total int64) {
	pct := UploadPercent(sent, total)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Late callbacks after the response must not overwrite later phases
	if s.job.Status != types.JobStatusUploading {
		return
	}
	if pct < s.job.Percent || (pct == s.job.Percent && s.job.Message == msgUploading) {
		return
	}
	s.job.Percent = pct
	s.job.Message = msgUploading
	s.renderLocked()
}

func (s *Session) accepted(jobID string) {
	s.mu.Lock()
	s.job.JobID = jobID
	s.job.Status = types.JobStatusProcessing
	percent, message := s.job.Percent, s.job.Message
	s.mu.Unlock()

	if s.u.recorder != nil && s.runID != 0 {
		if err := s.u.recorder.SetUploadRunJobID(s.runID, jobID); err != nil {
			log.Printf("uploader: failed to record job id: %v", err)
		}
		s.record(types.JobStatusProcessing, percent, message)
	}
}

// update sets status, percent and message, renders, and optionally records
func (s *Session) update(status types.JobStatus, percent int, message string, record bool) {
	s.mu.Lock()
	s.job.Status = status
	s.job.Percent = percent
	s.job.Message = message
	s.renderLocked()
	s.mu.Unlock()

	if record {
		s.record(status, percent, message)
	}
}

func (s *Session) complete() {
	s.mu.Lock()
	s.job.Status = types.JobStatusCompleted
	s.job.Percent = 100
	s.job.Message = msgComplete
	s.renderLocked()
	if !s.navigated {
		s.navigated = true
		s.view.Navigate(s.u.resultsURL)
		s.u.hub.publish(s.job.SessionID, types.Event{Kind: types.EventNavigate, URL: s.u.resultsURL})
	}
	s.setSubmitEnabledLocked(true)
	s.mu.Unlock()

	s.finishRecord(types.JobStatusCompleted, 100, msgComplete, nil)
}

func (s *Session) fail(err error) {
	message := failureMessage(err)

	s.mu.Lock()
	s.err = err
	s.job.Status = types.JobStatusFailed
	s.job.Message = message
	percent := s.job.Percent
	s.renderLocked()
	s.setSubmitEnabledLocked(true)
	jobID := s.job.JobID
	s.mu.Unlock()

	if jobID != "" {
		log.Printf("uploader: session %s (job %s) failed: %v", s.job.SessionID, jobID, err)
	} else {
		log.Printf("uploader: session %s failed: %v", s.job.SessionID, err)
	}

	errMsg := err.Error()
	s.finishRecord(types.JobStatusFailed, percent, message, &errMsg)
}

func (s *Session) setSubmitEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSubmitEnabledLocked(enabled)
}

func (s *Session) setSubmitEnabledLocked(enabled bool) {
	s.view.SetSubmitEnabled(enabled)
	s.u.hub.publish(s.job.SessionID, types.Event{Kind: types.EventSubmit, SubmitEnabled: enabled})
}

func (s *Session) renderLocked() {
	p := s.job.View()
	s.view.Render(p)
	s.u.hub.publish(s.job.SessionID, types.Event{Kind: types.EventProgress, Progress: &p})
}

func (s *Session) record(status types.JobStatus, percent int, message string) {
	if s.u.recorder == nil || s.runID == 0 {
		return
	}
	if err := s.u.recorder.UpdateUploadRunProgress(s.runID, status, percent, message); err != nil {
		log.Printf("uploader: failed to record progress: %v", err)
	}
}

func (s *Session) finishRecord(status types.JobStatus, percent int, message string, errMsg *string) {
	if s.u.recorder == nil || s.runID == 0 {
		return
	}
	if err := s.u.recorder.CompleteUploadRun(s.runID, status, percent, message, errMsg); err != nil {
		log.Printf("uploader: failed to record completion: %v", err)
	}
}

// failureMessage is the status text shown for a failed submission
func failureMessage(err error) string {
	var (
		httpErr   *backend.HTTPError
		malformed *backend.MalformedResponseError
		jobErr    *JobFailedError
	)
	switch {
	case errors.As(err, &jobErr):
		return "Analysis failed: " + jobErr.Message
	case errors.As(err, &httpErr):
		return "Error: " + httpErr.Status
	case errors.As(err, &malformed):
		return "Error: Unexpected response from server"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Upload cancelled"
	default:
		return msgUploadFailed
	}
}
