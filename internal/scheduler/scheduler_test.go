package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/config"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/services"
)

// mockClient implements backend.ClientInterface for testing
type mockClient struct {
	mu       sync.Mutex
	uploaded [][]string
	started  chan struct{}
	block    chan struct{}
	once     sync.Once
}

func (m *mockClient) UploadCVs(ctx context.Context, files []backend.File, _ backend.ProgressFunc) (*backend.UploadResult, error) {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	m.mu.Lock()
	m.uploaded = append(m.uploaded, names)
	m.mu.Unlock()

	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.block:
		}
	}
	return &backend.UploadResult{StatusCode: 200}, nil
}

func (m *mockClient) CheckProgress(ctx context.Context, jobID string) (*backend.JobProgress, error) {
	return &backend.JobProgress{Status: backend.StatusCompleted}, nil
}

func (m *mockClient) UploadCriteria(ctx context.Context, file backend.File) (*backend.CriteriaResult, error) {
	return &backend.CriteriaResult{}, nil
}

func (m *mockClient) UpdateCriteria(ctx context.Context, criteria json.RawMessage) (*backend.UpdateResult, error) {
	return &backend.UpdateResult{}, nil
}

func (m *mockClient) uploads() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.uploaded...)
}

func testDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func testScheduler(t *testing.T, client backend.ClientInterface) (*Scheduler, *db.DB) {
	t.Helper()
	database := testDB(t)
	uploader := services.NewUploader(client, database, 5*time.Millisecond, "http://backend.test/analysis/")
	t.Cleanup(uploader.Close)
	return New(database, uploader, &config.Config{}), database
}

func writeFile(t *testing.T, path string, modTime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("cv"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func TestNew(t *testing.T) {
	s, database := testScheduler(t, &mockClient{})

	if s == nil {
		t.Fatal("New returned nil")
	}
	if s.db != database {
		t.Error("scheduler.db not set correctly")
	}
	if s.running {
		t.Error("scheduler should not be running initially")
	}
}

func TestStartStop(t *testing.T) {
	s, _ := testScheduler(t, &mockClient{})

	s.Start()

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		t.Error("scheduler should be running after Start")
	}

	// Double start should be idempotent
	s.Start()

	s.Stop()

	s.mu.RLock()
	running = s.running
	s.mu.RUnlock()

	if running {
		t.Error("scheduler should not be running after Stop")
	}

	// Double stop should be safe
	s.Stop()
}

func TestUpdateNextRun(t *testing.T) {
	s, database := testScheduler(t, &mockClient{})

	job, err := database.CreateWatchJob(&db.WatchJob{
		Name:           "Hourly",
		Paths:          []string{"/tmp"},
		Enabled:        true,
		CronExpression: "0 * * * *",
	})
	if err != nil {
		t.Fatalf("CreateWatchJob failed: %v", err)
	}

	if err := s.UpdateNextRun(job); err != nil {
		t.Fatalf("UpdateNextRun failed: %v", err)
	}
	if job.NextRunAt == nil {
		t.Fatal("NextRunAt should be set")
	}

	now := time.Now()
	if job.NextRunAt.Before(now) {
		t.Error("NextRunAt should be in the future")
	}
	if job.NextRunAt.After(now.Add(time.Hour)) {
		t.Error("NextRunAt should be within the next hour")
	}
}

func TestCronExpressionParsing(t *testing.T) {
	tests := []struct {
		name    string
		cron    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"every hour", "0 * * * *", false},
		{"every 15 minutes", "*/15 * * * *", false},
		{"weekdays at nine", "0 9 * * 1-5", false},
		{"invalid", "invalid", true},
		{"too few fields", "* * *", true},
		{"too many fields", "* * * * * *", true}, // seconds field not supported
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextRun(tt.cron, time.Now())
			if (err != nil) != tt.wantErr {
				t.Errorf("NextRun(%q) error = %v, wantErr %v", tt.cron, err, tt.wantErr)
			}
		})
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	lastRun := time.Now().Add(-time.Hour)
	old := lastRun.Add(-time.Hour)
	recent := lastRun.Add(30 * time.Minute)

	writeFile(t, filepath.Join(dir, "old.pdf"), old)
	writeFile(t, filepath.Join(dir, "new.pdf"), recent)
	writeFile(t, filepath.Join(dir, "sub", "nested.DOCX"), recent)
	writeFile(t, filepath.Join(dir, "notes.md"), recent)
	writeFile(t, filepath.Join(dir, ".hidden", "secret.txt"), recent)

	t.Run("since last run", func(t *testing.T) {
		got, err := CollectFiles([]string{dir, dir}, &lastRun, nil)
		if err != nil {
			t.Fatalf("CollectFiles failed: %v", err)
		}
		want := []string{filepath.Join(dir, "new.pdf"), filepath.Join(dir, "sub", "nested.DOCX")}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("CollectFiles = %v, want %v", got, want)
		}
	})

	t.Run("first run", func(t *testing.T) {
		got, err := CollectFiles([]string{dir}, nil, nil)
		if err != nil {
			t.Fatalf("CollectFiles failed: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("got %d files, want 3: %v", len(got), got)
		}
	})

	t.Run("not allowed", func(t *testing.T) {
		cfg := &config.Config{AllowedPaths: []string{"/somewhere/else"}}
		got, err := CollectFiles([]string{dir}, nil, cfg.IsPathAllowed)
		if err != nil {
			t.Fatalf("CollectFiles failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("disallowed root returned %v", got)
		}
	})

	t.Run("missing root", func(t *testing.T) {
		if _, err := CollectFiles([]string{filepath.Join(dir, "missing")}, nil, nil); err == nil {
			t.Error("expected error for missing root")
		}
	})
}

func TestRunNow(t *testing.T) {
	client := &mockClient{}
	s, database := testScheduler(t, client)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alice.pdf"), time.Now())

	job, err := database.CreateWatchJob(&db.WatchJob{
		Name:           "Inbox",
		Paths:          []string{dir},
		Enabled:        true,
		CronExpression: "*/5 * * * *",
	})
	if err != nil {
		t.Fatalf("CreateWatchJob failed: %v", err)
	}

	session, err := s.RunNow(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if _, err := session.Wait(); err != nil {
		t.Fatalf("submission failed: %v", err)
	}

	if got := client.uploads(); len(got) != 1 || !reflect.DeepEqual(got[0], []string{"alice.pdf"}) {
		t.Errorf("uploads = %v", got)
	}

	run, err := database.GetUploadRunBySession(session.ID())
	if err != nil {
		t.Fatalf("GetUploadRunBySession failed: %v", err)
	}
	if run.WatchJobID == nil || *run.WatchJobID != job.ID {
		t.Errorf("WatchJobID = %v, want %d", run.WatchJobID, job.ID)
	}

	stored, _ := database.GetWatchJob(job.ID)
	if stored.LastRunAt == nil || stored.NextRunAt == nil {
		t.Error("last and next run should be recorded")
	}

	// The same file is not picked up twice
	waitReleased(t, s, job.ID)
	if _, err := s.RunNow(context.Background(), stored, nil); !errors.Is(err, ErrNoNewFiles) {
		t.Errorf("second RunNow err = %v, want ErrNoNewFiles", err)
	}
}

// waitReleased waits until a job's run is no longer marked active
func waitReleased(t *testing.T, s *Scheduler, jobID int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		active := s.active[jobID]
		s.mu.RUnlock()
		if !active {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("watch job %d still active", jobID)
}

func TestRunNow_RejectsOverlappingRuns(t *testing.T) {
	client := &mockClient{
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	s, database := testScheduler(t, client)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dave.pdf"), time.Now())

	past := time.Now().Add(-time.Minute)
	job, err := database.CreateWatchJob(&db.WatchJob{
		Name: "Inbox", Paths: []string{dir}, Enabled: true, CronExpression: "0 * * * *", NextRunAt: &past,
	})
	if err != nil {
		t.Fatalf("CreateWatchJob failed: %v", err)
	}

	session, err := s.RunNow(context.Background(), job, nil)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	<-client.started

	// A second manual run is refused while the first is uploading
	if _, err := s.RunNow(context.Background(), job, nil); !errors.Is(err, ErrJobActive) {
		t.Errorf("overlapping RunNow err = %v, want ErrJobActive", err)
	}

	// A scheduled check skips the job as well; force it due again
	database.UpdateWatchJobLastRun(job.ID, past, past)
	s.checkJobs(context.Background())
	s.wg.Wait()

	close(client.block)
	if _, err := session.Wait(); err != nil {
		t.Fatalf("submission failed: %v", err)
	}
	if got := client.uploads(); len(got) != 1 {
		t.Errorf("uploads = %v, want exactly one", got)
	}

	waitReleased(t, s, job.ID)
	stored, _ := database.GetWatchJob(job.ID)
	if _, err := s.RunNow(context.Background(), stored, nil); errors.Is(err, ErrJobActive) {
		t.Error("job should be runnable again after the submission finished")
	}
}

func TestCheckJobsRunsDueJobs(t *testing.T) {
	client := &mockClient{started: make(chan struct{})}
	s, database := testScheduler(t, client)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bob.txt"), time.Now())

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	database.CreateWatchJob(&db.WatchJob{
		Name: "due", Paths: []string{dir}, Enabled: true, CronExpression: "0 * * * *", NextRunAt: &past,
	})
	database.CreateWatchJob(&db.WatchJob{
		Name: "later", Paths: []string{dir}, Enabled: true, CronExpression: "0 * * * *", NextRunAt: &future,
	})
	database.CreateWatchJob(&db.WatchJob{
		Name: "disabled", Paths: []string{dir}, Enabled: false, CronExpression: "0 * * * *", NextRunAt: &past,
	})

	s.checkJobs(context.Background())
	s.wg.Wait()

	if got := client.uploads(); len(got) != 1 {
		t.Errorf("uploads = %v, want exactly one", got)
	}
}

func TestGracefulShutdown(t *testing.T) {
	client := &mockClient{
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	s, database := testScheduler(t, client)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "carol.pdf"), time.Now())

	past := time.Now().Add(-time.Hour)
	database.CreateWatchJob(&db.WatchJob{
		Name:           "Blocking",
		Paths:          []string{dir},
		Enabled:        true,
		CronExpression: "0 * * * *",
		NextRunAt:      &past,
	})

	s.Start()

	select {
	case <-client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	// Stop cancels the job context, which aborts the upload
	stopDone := make(chan struct{})
	go func() {
		s.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not complete in time")
	}
}
