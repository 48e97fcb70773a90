package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

const testResultsURL = "http://backend.test/analysis/"

// mockClient implements backend.ClientInterface for testing
type mockClient struct {
	mu         sync.Mutex
	uploadFn   func(ctx context.Context, files []backend.File, onProgress backend.ProgressFunc) (*backend.UploadResult, error)
	progressFn func(ctx context.Context, jobID string, call int) (*backend.JobProgress, error)
	criteriaFn func(ctx context.Context, file backend.File) (*backend.CriteriaResult, error)
	updateFn   func(ctx context.Context, criteria json.RawMessage) (*backend.UpdateResult, error)

	uploads  int
	polls    int
	criteria int
	updates  []json.RawMessage
}

func (m *mockClient) UploadCVs(ctx context.Context, files []backend.File, onProgress backend.ProgressFunc) (*backend.UploadResult, error) {
	m.mu.Lock()
	m.uploads++
	m.mu.Unlock()
	return m.uploadFn(ctx, files, onProgress)
}

func (m *mockClient) CheckProgress(ctx context.Context, jobID string) (*backend.JobProgress, error) {
	m.mu.Lock()
	m.polls++
	call := m.polls
	m.mu.Unlock()
	return m.progressFn(ctx, jobID, call)
}

func (m *mockClient) UploadCriteria(ctx context.Context, file backend.File) (*backend.CriteriaResult, error) {
	m.mu.Lock()
	m.criteria++
	m.mu.Unlock()
	return m.criteriaFn(ctx, file)
}

func (m *mockClient) UpdateCriteria(ctx context.Context, criteria json.RawMessage) (*backend.UpdateResult, error) {
	m.mu.Lock()
	m.updates = append(m.updates, criteria)
	m.mu.Unlock()
	return m.updateFn(ctx, criteria)
}

func (m *mockClient) counts() (uploads, polls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads, m.polls
}

// recordingView captures every view call
type recordingView struct {
	mu          sync.Mutex
	renders     []types.ProgressView
	submits     []bool
	alerts      []string
	navigations []string
}

func (v *recordingView) Render(p types.ProgressView) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renders = append(v.renders, p)
}

func (v *recordingView) SetSubmitEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submits = append(v.submits, enabled)
}

func (v *recordingView) Alert(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alerts = append(v.alerts, msg)
}

func (v *recordingView) Navigate(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.navigations = append(v.navigations, url)
}

func (v *recordingView) last() types.ProgressView {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.renders) == 0 {
		return types.ProgressView{}
	}
	return v.renders[len(v.renders)-1]
}

func testFiles(names ...string) []backend.File {
	files := make([]backend.File, len(names))
	for i, name := range names {
		files[i] = backend.FileFromBytes(name, []byte("content of "+name))
	}
	return files
}

func newTestUploader(client backend.ClientInterface, recorder Recorder) *Uploader {
	u := NewUploader(client, recorder, 5*time.Millisecond, testResultsURL)
	return u
}

func waitSession(t *testing.T, s *Session) (types.UploadJob, error) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	return s.Wait()
}

func acceptedAsync(jobID string) func(context.Context, []backend.File, backend.ProgressFunc) (*backend.UploadResult, error) {
	return func(context.Context, []backend.File, backend.ProgressFunc) (*backend.UploadResult, error) {
		return &backend.UploadResult{StatusCode: http.StatusAccepted, JobID: jobID}, nil
	}
}

func TestUploader_NoFiles(t *testing.T) {
	client := &mockClient{}
	u := newTestUploader(client, nil)
	defer u.Close()

	view := &recordingView{}
	s, err := u.Start(context.Background(), nil, view)

	if !errors.Is(err, backend.ErrNoFilesSelected) {
		t.Fatalf("err = %v, want ErrNoFilesSelected", err)
	}
	if s != nil {
		t.Error("no session should be created")
	}
	if len(view.alerts) != 1 || view.alerts[0] != "Please select at least one file" {
		t.Errorf("alerts = %v", view.alerts)
	}
	if uploads, _ := client.counts(); uploads != 0 {
		t.Errorf("uploads = %d, want 0", uploads)
	}
	if len(view.renders) != 0 || len(view.submits) != 0 {
		t.Error("no progress should be shown")
	}
}

func TestUploader_SyncSuccess(t *testing.T) {
	client := &mockClient{
		uploadFn: func(_ context.Context, files []backend.File, onProgress backend.ProgressFunc) (*backend.UploadResult, error) {
			if len(files) != 2 {
				t.Errorf("got %d files, want 2", len(files))
			}
			for _, sent := range []int64{0, 25, 50, 50, 100} {
				onProgress(sent, 100)
			}
			return &backend.UploadResult{StatusCode: http.StatusOK}, nil
		},
	}
	u := newTestUploader(client, nil)
	defer u.Close()

	view := &recordingView{}
	s, err := u.Start(context.Background(), testFiles("alice.pdf", "bob.docx"), view)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	job, err := waitSession(t, s)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}

	if job.Status != types.JobStatusCompleted || job.Percent != 100 {
		t.Errorf("job = %+v, want completed at 100", job)
	}

	final := view.last()
	if final.Class != types.ClassSuccess || final.Width != "100%" || final.Text != "Analysis complete!" {
		t.Errorf("final render = %+v", final)
	}

	if len(view.navigations) != 1 || view.navigations[0] != testResultsURL {
		t.Errorf("navigations = %v, want exactly one to %s", view.navigations, testResultsURL)
	}

	if len(view.submits) != 2 || view.submits[0] || !view.submits[1] {
		t.Errorf("submits = %v, want [false true]", view.submits)
	}

	if view.renders[0].Text != "Preparing files..." || view.renders[0].Percent != 0 {
		t.Errorf("first render = %+v", view.renders[0])
	}

	prev := 0
	sawUpload := false
	for _, r := range view.renders {
		if r.Percent < prev {
			t.Errorf("progress decreased: %d after %d", r.Percent, prev)
		}
		prev = r.Percent
		if r.Text == "Uploading files..." {
			sawUpload = true
			if r.Percent > 30 {
				t.Errorf("upload phase reached %d%%, max is 30", r.Percent)
			}
		}
	}
	if !sawUpload {
		t.Error("expected upload progress renders")
	}
}

func TestUploader_AsyncProcessingThenComplete(t *testing.T) {
	client := &mockClient{
		uploadFn: acceptedAsync("abc"),
		progressFn: func(_ context.Context, jobID string, call int) (*backend.JobProgress, error) {
			if jobID != "abc" {
				t.Errorf("jobID = %s, want abc", jobID)
			}
			if call == 1 {
				return &backend.JobProgress{Status: backend.StatusProcessing, Progress: 0.5}, nil
			}
			return &backend.JobProgress{Status: backend.StatusCompleted}, nil
		},
	}
	u := newTestUploader(client, nil)
	defer u.Close()

	view := &recordingView{}
	s, err := u.Start(context.Background(), testFiles("cv.pdf"), view)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	job, err := waitSession(t, s)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if job.JobID != "abc" {
		t.Errorf("JobID = %q, want abc", job.JobID)
	}

	var mid *types.ProgressView
	for i := range view.renders {
		if view.renders[i].Percent == 65 {
			mid = &view.renders[i]
		}
	}
	if mid == nil {
		t.Fatalf("no 65%% render in %+v", view.renders)
	}
	if mid.Text != "Analyzing CVs..." || mid.Class != types.ClassActive || mid.Label != "65%" {
		t.Errorf("processing render = %+v", *mid)
	}

	if final := view.last(); final.Percent != 100 || final.Class != types.ClassSuccess {
		t.Errorf("final render = %+v", final)
	}
	if len(view.navigations) != 1 {
		t.Errorf("navigations = %v, want 1", view.navigations)
	}

	_, polls := client.counts()
	if polls != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
	time.Sleep(30 * time.Millisecond)
	if _, after := client.counts(); after != polls {
		t.Errorf("polling continued after completion: %d -> %d", polls, after)
	}
	if u.Polling("abc") {
		t.Error("poll task should be removed")
	}
}

func TestUploader_ProcessingMessage(t *testing.T) {
	client := &mockClient{
		uploadFn: acceptedAsync("j1"),
		progressFn: func(_ context.Context, _ string, call int) (*backend.JobProgress, error) {
			if call == 1 {
				return &backend.JobProgress{Status: backend.StatusProcessing, Progress: 2, Message: "Scoring candidates"}, nil
			}
			return &backend.JobProgress{Status: backend.StatusCompleted}, nil
		},
	}
	u := newTestUploader(client, nil)
	defer u.Close()

	view := &recordingView{}
	s, _ := u.Start(context.Background(), testFiles("cv.pdf"), view)
	waitSession(t, s)

	found := false
	for _, r := range view.renders {
		if r.Text == "Scoring candidates" {
			found = true
			if r.Percent != 100 {
				t.Errorf("progress above 1 should clamp to 100, got %d", r.Percent)
			}
		}
	}
	if !found {
		t.Error("server message should be shown while processing")
	}
}

func TestUploader_JobFailed(t *testing.T) {
	client := &mockClient{
		uploadFn: acceptedAsync("abc"),
		progressFn: func(context.Context, string, int) (*backend.JobProgress, error) {
			return &backend.JobProgress{Status: backend.StatusFailed, Message: "model unavailable"}, nil
		},
	}
	u := newTestUploader(client, nil)
	defer u.Close()

	view := &recordingView{}
	s, _ := u.Start(context.Background(), testFiles("cv.pdf"), view)
	job, err := waitSession(t, s)

	var jobErr *JobFailedError
	if !errors.As(err, &jobErr) || jobErr.JobID != "abc" {
		t.Fatalf("err = %v, want JobFailedError for abc", err)
	}
	if job.Status != types.JobStatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}

	final := view.last()
	if final.Text != "Analysis failed: model unavailable" || final.Class != types.ClassFailure {
		t.Errorf("final render = %+v", final)
	}
	if len(view.submits) == 0 || !view.submits[len(view.submits)-1] {
		t.Error("submit should be re-enabled after failure")
	}
	if len(view.navigations) != 0 {
		t.Error("failed job must not navigate")
	}
}

func TestUploader_UploadErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "http error",
			err:     &backend.HTTPError{Op: "upload cvs", StatusCode: 500, Status: "Internal Server Error"},
			wantMsg: "Error: Internal Server Error",
		},
		{
			name:    "transport error",
			err:     &backend.TransportError{Op: "upload cvs", Err: errors.New("connection refused")},
			wantMsg: "Upload failed. Please try again.",
		},
		{
			name:    "malformed 202",
			err:     &backend.MalformedResponseError{Op: "upload cvs", StatusCode: 202, Err: errors.New("missing job_id")},
			wantMsg: "Error: Unexpected response from server",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{
				uploadFn: func(context.Context, []backend.File, backend.ProgressFunc) (*backend.UploadResult, error) {
					return nil, tt.err
				},
			}
			u := newTestUploader(client, nil)
			defer u.Close()

			view := &recordingView{}
			s, _ := u.Start(context.Background(), testFiles("cv.pdf"), view)
			_, err := waitSession(t, s)

			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
			final := view.last()
			if final.Text != tt.wantMsg || final.Class != types.ClassFailure {
				t.Errorf("final render = %+v, want %q", final, tt.wantMsg)
			}
			if !view.submits[len(view.submits)-1] {
				t.Error("submit should be re-enabled")
			}
			if _, polls := client.counts(); polls != 0 {
				t.Errorf("polls = %d, want 0", polls)
			}
		})
	}
}

func TestUploader_PollRetriesTransientErrors(t *testing.T) {
	client := &mockClient{
		uploadFn: acceptedAsync("abc"),
		progressFn: func(_ context.Context, _ string, call int) (*backend.JobProgress, error) {
			switch call {
			case 1:
				return nil, &backend.TransportError{Op: "check progress", Err: errors.New("reset")}
			case 2:
				return nil, &backend.MalformedResponseError{Op: "check progress", StatusCode: 200, Err: errors.New("eof")}
			case 3:
				return &backend.JobProgress{Status: "not_found"}, nil
			}
			return &backend.JobProgress{Status: backend.StatusCompleted}, nil
		},
	}
	u := newTestUploader(client, nil)
	defer u.Close()

	view := &recordingView{}
	s, _ := u.Start(context.Background(), testFiles("cv.pdf"), view)
	job, err := waitSession(t, s)
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", job.Status)
	}
	if _, polls := client.counts(); polls != 4 {
		t.Errorf("polls = %d, want 4", polls)
	}
}

func TestUploader_CancelJob(t *testing.T) {
	polled := make(chan struct{}, 1)
	client := &mockClient{
		uploadFn: acceptedAsync("abc"),
		progressFn: func(context.Context, string, int) (*backend.JobProgress, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			return &backend.JobProgress{Status: backend.StatusProcessing, Progress: 0.1}, nil
		},
	}
	u := newTestUploader(client, nil)
	defer u.Close()

	view := &recordingView{}
	s, _ := u.Start(context.Background(), testFiles("cv.pdf"), view)

	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatal("polling never started")
	}

	if !u.CancelJob("abc") {
		t.Fatal("CancelJob should find the running poll")
	}
	job, err := waitSession(t, s)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if job.Message != "Upload cancelled" {
		t.Errorf("Message = %q", job.Message)
	}
	if u.CancelJob("abc") {
		t.Error("CancelJob should report false once the task is gone")
	}
}

func TestUploader_CloseCancelsSessions(t *testing.T) {
	client := &mockClient{
		uploadFn: acceptedAsync("abc"),
		progressFn: func(context.Context, string, int) (*backend.JobProgress, error) {
			return &backend.JobProgress{Status: backend.StatusProcessing}, nil
		},
	}
	u := newTestUploader(client, nil)

	s, _ := u.Start(context.Background(), testFiles("cv.pdf"), nil)

	done := make(chan struct{})
	go func() {
		u.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if job := s.Job(); job.Status != types.JobStatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}
	if _, err := u.Start(context.Background(), testFiles("cv.pdf"), nil); !errors.Is(err, ErrUploaderClosed) {
		t.Errorf("Start after Close err = %v, want ErrUploaderClosed", err)
	}
}

func TestUploader_Subscribe(t *testing.T) {
	release := make(chan struct{})
	client := &mockClient{
		uploadFn: func(_ context.Context, _ []backend.File, onProgress backend.ProgressFunc) (*backend.UploadResult, error) {
			<-release
			onProgress(10, 10)
			return &backend.UploadResult{StatusCode: http.StatusOK}, nil
		},
	}
	u := newTestUploader(client, nil)
	defer u.Close()

	s, _ := u.Start(context.Background(), testFiles("cv.pdf"), nil)
	ch := u.Subscribe(s.ID())
	close(release)

	var events []types.Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-ch:
			if !ok {
				done = true
				break
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream was not closed")
		}
	}

	var lastProgress *types.ProgressView
	navigated := false
	for _, ev := range events {
		switch ev.Kind {
		case types.EventProgress:
			lastProgress = ev.Progress
		case types.EventNavigate:
			navigated = ev.URL == testResultsURL
		}
	}
	if lastProgress == nil || lastProgress.Percent != 100 {
		t.Errorf("last progress = %+v, want 100", lastProgress)
	}
	if !navigated {
		t.Error("expected navigate event")
	}

	// Late subscribers get the final state and a closed channel
	late := u.Subscribe(s.ID())
	var replayed []types.Event
	for ev := range late {
		replayed = append(replayed, ev)
	}
	if len(replayed) == 0 || replayed[0].Kind != types.EventProgress || replayed[0].Progress.Percent != 100 {
		t.Errorf("replay = %+v", replayed)
	}

	if _, open := <-u.Subscribe("unknown"); open {
		t.Error("unknown session stream should be closed")
	}
}

func TestUploader_RecordsHistory(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	defer database.Close()

	client := &mockClient{
		uploadFn: acceptedAsync("abc"),
		progressFn: func(context.Context, string, int) (*backend.JobProgress, error) {
			return &backend.JobProgress{Status: backend.StatusCompleted}, nil
		},
	}
	u := newTestUploader(client, database)
	defer u.Close()

	s, _ := u.Start(context.Background(), testFiles("alice.pdf", "bob.pdf"), nil)
	waitSession(t, s)

	run, err := database.GetUploadRunBySession(s.ID())
	if err != nil {
		t.Fatalf("GetUploadRunBySession failed: %v", err)
	}
	if run.Status != types.JobStatusCompleted || run.Percent != 100 {
		t.Errorf("run = %+v", run)
	}
	if run.JobID == nil || *run.JobID != "abc" {
		t.Errorf("JobID = %v, want abc", run.JobID)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if len(run.Files) != 2 {
		t.Errorf("Files = %v", run.Files)
	}
}

func TestProgressScale(t *testing.T) {
	uploadTests := []struct {
		sent, total int64
		want        int
	}{
		{0, 100, 0},
		{50, 100, 15},
		{100, 100, 30},
		{150, 100, 30},
		{10, 0, 0},
		{10, -1, 0},
	}
	for _, tt := range uploadTests {
		if got := UploadPercent(tt.sent, tt.total); got != tt.want {
			t.Errorf("UploadPercent(%d, %d) = %d, want %d", tt.sent, tt.total, got, tt.want)
		}
	}

	processingTests := []struct {
		progress float64
		want     int
	}{
		{0, 30},
		{0.5, 65},
		{1, 100},
		{-0.5, 30},
		{1.5, 100},
	}
	for _, tt := range processingTests {
		if got := ProcessingPercent(tt.progress); got != tt.want {
			t.Errorf("ProcessingPercent(%v) = %d, want %d", tt.progress, got, tt.want)
		}
	}
}
