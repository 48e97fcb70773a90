package handlers

import (
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

// View model structs for templates.
// These are separate from db models to allow formatting and presentation logic.

// DashboardData holds data for the dashboard template
type DashboardData struct {
	Title      string
	ActiveNav  string
	CSRFToken  string
	BaseURL    string
	Extensions []string
	Progress   types.ProgressView // initial, empty bar
	RecentRuns []*UploadRunView
	WatchJobs  []*WatchJobView
	Error      string
}

// UploadRunView is a view model for an upload run
type UploadRunView struct {
	*db.UploadRun
	FileCount int
	Duration  string
	Source    string
}

func toUploadRunView(run *db.UploadRun) *UploadRunView {
	view := &UploadRunView{
		UploadRun: run,
		FileCount: len(run.Files),
		Source:    "console",
	}
	switch {
	case run.CompletedAt != nil:
		view.Duration = formatDuration(run.CompletedAt.Sub(run.StartedAt))
	case !run.Status.Terminal():
		view.Duration = "Running..."
	default:
		view.Duration = "-"
	}
	if run.WatchJobID != nil {
		view.Source = "watch #" + strconv.FormatInt(*run.WatchJobID, 10)
	}
	return view
}

func toUploadRunViews(runs []*db.UploadRun) []*UploadRunView {
	return lo.Map(runs, func(run *db.UploadRun, _ int) *UploadRunView {
		return toUploadRunView(run)
	})
}

// WatchJobView is a view model for watch jobs
type WatchJobView struct {
	ID             int64
	Name           string
	Paths          []string
	CronExpression string
	NextRunAt      string
	LastRunAt      string
	Enabled        bool
}

// toWatchJobView converts a WatchJob to a WatchJobView
func toWatchJobView(job *db.WatchJob) *WatchJobView {
	view := &WatchJobView{
		ID:             job.ID,
		Name:           job.Name,
		Paths:          job.Paths,
		CronExpression: job.CronExpression,
		Enabled:        job.Enabled,
	}
	if job.NextRunAt != nil {
		view.NextRunAt = job.NextRunAt.Format("2006-01-02 15:04")
	}
	if job.LastRunAt != nil {
		view.LastRunAt = job.LastRunAt.Format("2006-01-02 15:04")
	}
	return view
}

// HistoryData holds data for the history template
type HistoryData struct {
	Title          string
	ActiveNav      string
	Runs           []*UploadRunView
	CriteriaEvents []*db.CriteriaUpdate
	StatusFilter   string
	Page           int
	HasMore        bool
	PrevPage       int
	NextPage       int
}

// startUploadResponse is returned by POST /uploads
type startUploadResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// progressEventData is sent via SSE for each progress update
type progressEventData struct {
	types.ProgressView
	HTML string `json:"html"`
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return strconv.Itoa(m) + "m " + strconv.Itoa(s) + "s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return strconv.Itoa(h) + "h " + strconv.Itoa(m) + "m"
}
