package handlers

import (
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

const historyPageSize = 20

// History handles GET /history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			page = n
		}
	}

	statusFilter := r.URL.Query().Get("status")
	offset := (page - 1) * historyPageSize

	runs, err := h.db.ListUploadRuns(historyPageSize+1, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	hasMore := len(runs) > historyPageSize
	if hasMore {
		runs = runs[:historyPageSize]
	}

	if statusFilter != "" {
		runs = lo.Filter(runs, func(run *db.UploadRun, _ int) bool {
			return run.Status == types.JobStatus(statusFilter)
		})
	}

	events, err := h.db.ListCriteriaUpdates(10)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := HistoryData{
		Title:          "History",
		ActiveNav:      "history",
		Runs:           toUploadRunViews(runs),
		CriteriaEvents: events,
		StatusFilter:   statusFilter,
		Page:           page,
		HasMore:        hasMore,
		PrevPage:       page - 1,
		NextPage:       page + 1,
	}

	h.render(w, "history.html", data)
}
