package scheduler

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/config"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/services"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

var (
	// ErrNoNewFiles is returned by RunNow when a watch job has nothing to submit
	ErrNoNewFiles = errors.New("no new files")
	// ErrJobActive is returned by RunNow while the job is already submitting
	ErrJobActive = errors.New("watch job is already running")
)

// Parser is the cron parser used for watch job schedules (standard 5 fields)
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the next activation of a cron expression after t
func NextRun(expr string, t time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t), nil
}

// Scheduler runs watch jobs: on each cron activation it collects CV files
// that appeared in the job's folders since the last run and submits them.
type Scheduler struct {
	db       *db.DB
	uploader *services.Uploader
	cfg      *config.Config

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc // Cancel function for running jobs
	wg       sync.WaitGroup     // Tracks spawned job goroutines
	active   map[int64]bool     // Jobs with a submission in flight
}

// New creates a new scheduler
func New(database *db.DB, uploader *services.Uploader, cfg *config.Config) *Scheduler {
	return &Scheduler{
		db:       database,
		uploader: uploader,
		cfg:      cfg,
		active:   make(map[int64]bool),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler and waits for running jobs to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// checkJobs starts every enabled job whose next run time has passed
func (s *Scheduler) checkJobs(ctx context.Context) {
	jobs, err := s.db.GetEnabledWatchJobs()
	if err != nil {
		log.Printf("scheduler: failed to get watch jobs: %v", err)
		return
	}

	now := time.Now()
	due := lo.Filter(jobs, func(job *db.WatchJob, _ int) bool {
		return job.NextRunAt != nil && !now.Before(*job.NextRunAt)
	})

	for _, job := range due {
		if !s.claim(job.ID) {
			log.Printf("scheduler: watch job %d still submitting, skipping", job.ID)
			continue
		}

		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// claim marks a job as submitting. Returns false if it already is.
func (s *Scheduler) claim(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[jobID] {
		return false
	}
	s.active[jobID] = true
	return true
}

func (s *Scheduler) release(jobID int64) {
	s.mu.Lock()
	delete(s.active, jobID)
	s.mu.Unlock()
}

// runJob submits new files for a due job and waits for the analysis
func (s *Scheduler) runJob(ctx context.Context, job *db.WatchJob) {
	defer s.wg.Done()
	defer s.release(job.ID)

	log.Printf("scheduler: running watch job %d (%s)", job.ID, job.Name)

	if ctx.Err() != nil {
		log.Printf("scheduler: watch job %d cancelled before start", job.ID)
		return
	}

	session, err := s.submit(ctx, job, &logView{jobID: job.ID})
	if errors.Is(err, ErrNoNewFiles) {
		log.Printf("scheduler: no new files for watch job %d", job.ID)
		return
	}
	if err != nil {
		log.Printf("scheduler: watch job %d failed to start: %v", job.ID, err)
		return
	}

	result, err := session.Wait()
	if err != nil {
		log.Printf("scheduler: watch job %d submission %s failed: %v", job.ID, result.SessionID, err)
		return
	}
	log.Printf("scheduler: watch job %d submitted %d files (job %s)", job.ID, len(result.Files), result.JobID)
}

// RunNow collects the job's new files and starts their submission. The job's
// last and next run times are advanced even when no files are found, so a
// file is only picked up once. Returns ErrNoNewFiles if there is nothing to
// send and ErrJobActive if a scheduled or manual run of the job is in flight.
func (s *Scheduler) RunNow(ctx context.Context, job *db.WatchJob, view services.View) (*services.Session, error) {
	if !s.claim(job.ID) {
		return nil, ErrJobActive
	}

	session, err := s.submit(ctx, job, view)
	if err != nil {
		s.release(job.ID)
		return nil, err
	}

	go func() {
		<-session.Done()
		s.release(job.ID)
	}()
	return session, nil
}

// submit does the work of RunNow for a job the caller has claimed
func (s *Scheduler) submit(ctx context.Context, job *db.WatchJob, view services.View) (*services.Session, error) {
	if len(job.Paths) == 0 {
		return nil, errors.New("no paths configured")
	}

	now := time.Now()
	paths, err := CollectFiles(job.Paths, job.LastRunAt, s.allowed)
	if err != nil {
		return nil, err
	}

	nextRun, err := NextRun(job.CronExpression, now)
	if err != nil {
		return nil, err
	}
	if err := s.db.UpdateWatchJobLastRun(job.ID, now, nextRun); err != nil {
		log.Printf("scheduler: failed to update watch job last run: %v", err)
	}
	job.LastRunAt = &now
	job.NextRunAt = &nextRun

	if len(paths) == 0 {
		return nil, ErrNoNewFiles
	}

	files := make([]backend.File, 0, len(paths))
	for _, p := range paths {
		f, err := backend.FileFromPath(p)
		if err != nil {
			log.Printf("scheduler: skipping %s: %v", p, err)
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, ErrNoNewFiles
	}

	return s.uploader.StartForWatchJob(ctx, files, view, job.ID)
}

// UpdateNextRun computes and stores the next run time for a job
func (s *Scheduler) UpdateNextRun(job *db.WatchJob) error {
	nextRun, err := NextRun(job.CronExpression, time.Now())
	if err != nil {
		return err
	}
	job.NextRunAt = &nextRun

	return s.db.UpdateWatchJob(job)
}

func (s *Scheduler) allowed(path string) bool {
	if s.cfg == nil {
		return true
	}
	return s.cfg.IsPathAllowed(path)
}

// CollectFiles walks roots and returns CV documents modified after since
// (all of them when since is nil), sorted and without duplicates. Paths
// rejected by allowed are skipped.
func CollectFiles(roots []string, since *time.Time, allowed func(string) bool) ([]string, error) {
	var found []string

	for _, root := range roots {
		root = config.ExpandPath(root)
		if allowed != nil && !allowed(root) {
			log.Printf("scheduler: path %s is not in the allowed list, skipping", root)
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				log.Printf("scheduler: skipping %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				if path != root && len(d.Name()) > 1 && d.Name()[0] == '.' {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !backend.IsAllowedFile(d.Name()) {
				return nil
			}
			if since != nil {
				info, err := d.Info()
				if err != nil || !info.ModTime().After(*since) {
					return nil
				}
			}
			found = append(found, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	found = lo.Uniq(found)
	sort.Strings(found)
	return found, nil
}

// logView reports watch job progress to the log, once per status text
type logView struct {
	jobID    int64
	lastText string
}

func (v *logView) Render(p types.ProgressView) {
	if p.Text == v.lastText {
		return
	}
	v.lastText = p.Text
	log.Printf("scheduler: watch job %d: %s (%s)", v.jobID, p.Text, p.Label)
}

func (v *logView) SetSubmitEnabled(bool) {}

func (v *logView) Alert(msg string) {
	log.Printf("scheduler: watch job %d: %s", v.jobID, msg)
}

func (v *logView) Navigate(url string) {
	log.Printf("scheduler: watch job %d: results at %s", v.jobID, url)
}
