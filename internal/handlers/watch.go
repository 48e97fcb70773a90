package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/lyallcooper/cvsubmit/internal/config"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/scheduler"
)

// parseWatchJobForm parses the watch job form and validates it
func (h *Handler) parseWatchJobForm(r *http.Request) (*db.WatchJob, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(r.FormValue("name"))
	cronExpr := strings.TrimSpace(r.FormValue("cron_expression"))

	// Paths arrive one per line
	paths := lo.FilterMap(strings.Split(r.FormValue("paths"), "\n"), func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return config.ExpandPath(p), p != ""
	})
	paths = lo.Uniq(paths)

	job := &db.WatchJob{
		Name:           name,
		Paths:          paths,
		CronExpression: cronExpr,
		Enabled:        true,
	}

	if name == "" {
		return job, errors.New("Name is required")
	}
	if len(paths) == 0 {
		return job, errors.New("At least one path is required")
	}
	for _, p := range paths {
		if !h.cfg.IsPathAllowed(p) {
			return job, errors.New("Path not allowed: " + p)
		}
	}
	if _, err := scheduler.NextRun(cronExpr, time.Now()); err != nil {
		return job, errors.New("Invalid cron expression: " + err.Error())
	}

	return job, nil
}

// CreateWatchJob handles POST /watch
func (h *Handler) CreateWatchJob(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}

	job, err := h.parseWatchJobForm(r)
	if err != nil {
		redirectWithError(w, r, err.Error())
		return
	}

	next, _ := scheduler.NextRun(job.CronExpression, time.Now())
	job.NextRunAt = &next

	if _, err := h.db.CreateWatchJob(job); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ToggleWatchJob handles POST /watch/{id}/toggle
func (h *Handler) ToggleWatchJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.watchJobFromPath(w, r)
	if !ok {
		return
	}

	enabled := !job.Enabled
	if enabled {
		// Re-enabling schedules from now rather than firing for missed runs
		if err := h.scheduler.UpdateNextRun(job); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if err := h.db.SetWatchJobEnabled(job.ID, enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RunWatchJob handles POST /watch/{id}/run
func (h *Handler) RunWatchJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.watchJobFromPath(w, r)
	if !ok {
		return
	}

	session, err := h.scheduler.RunNow(context.Background(), job, nil)
	if errors.Is(err, scheduler.ErrNoNewFiles) {
		redirectWithError(w, r, "No new files for "+job.Name)
		return
	}
	if errors.Is(err, scheduler.ErrJobActive) {
		redirectWithError(w, r, job.Name+" is already running")
		return
	}
	if err != nil {
		redirectWithError(w, r, err.Error())
		return
	}

	log.Printf("console: watch job %d started session %s", job.ID, session.ID())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// DeleteWatchJob handles POST /watch/{id}/delete
func (h *Handler) DeleteWatchJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.watchJobFromPath(w, r)
	if !ok {
		return
	}

	if err := h.db.DeleteWatchJob(job.ID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// watchJobFromPath validates CSRF and loads the job named by {id}
func (h *Handler) watchJobFromPath(w http.ResponseWriter, r *http.Request) (*db.WatchJob, bool) {
	if !h.requireCSRF(w, r) {
		return nil, false
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}

	job, err := h.db.GetWatchJob(id)
	if err != nil {
		http.Error(w, "Watch job not found", http.StatusNotFound)
		return nil, false
	}
	return job, true
}

func redirectWithError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, "/?error="+url.QueryEscape(msg), http.StatusSeeOther)
}
