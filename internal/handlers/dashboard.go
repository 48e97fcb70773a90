package handlers

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

// Dashboard handles GET /
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	runs, err := h.db.ListUploadRuns(5, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	jobs, err := h.db.ListWatchJobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	idle := types.UploadJob{Status: types.JobStatusIdle}

	data := DashboardData{
		Title:      "",
		ActiveNav:  "dashboard",
		CSRFToken:  h.getOrCreateCSRFToken(w, r),
		BaseURL:    h.cfg.BaseURL,
		Extensions: backend.AllowedExtensions,
		Progress:   idle.View(),
		RecentRuns: toUploadRunViews(runs),
		WatchJobs: lo.Map(jobs, func(job *db.WatchJob, _ int) *WatchJobView {
			return toWatchJobView(job)
		}),
		Error: r.URL.Query().Get("error"),
	}

	h.render(w, "dashboard.html", data)
}
