package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lyallcooper/cvsubmit/internal/render"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

// UploadProgressSSE handles SSE connections for upload progress. The stream
// starts with the latest known state and ends with a "complete" event.
func (h *Handler) UploadProgressSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	updates := h.uploader.Subscribe(sessionID)
	defer h.uploader.Unsubscribe(sessionID, updates)

	var last *types.ProgressView
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-updates:
			if !ok {
				status := types.JobStatusIdle
				if last != nil {
					status = last.Status
				}
				h.sendEvent(w, flusher, "complete", fmt.Sprintf(`{"status":%q}`, status))
				return
			}
			if ev.Kind == types.EventProgress && ev.Progress != nil {
				last = ev.Progress
			}
			h.sendUploadEvent(w, flusher, ev)
		}
	}
}

func (h *Handler) sendUploadEvent(w http.ResponseWriter, flusher http.Flusher, ev types.Event) {
	var payload any
	switch ev.Kind {
	case types.EventProgress:
		html, err := render.ProgressBar(*ev.Progress)
		if err != nil {
			return
		}
		payload = progressEventData{ProgressView: *ev.Progress, HTML: string(html)}
	case types.EventSubmit:
		payload = map[string]bool{"enabled": ev.SubmitEnabled}
	case types.EventNavigate:
		payload = map[string]string{"url": ev.URL}
	case types.EventAlert:
		payload = map[string]string{"message": ev.Message}
	default:
		return
	}

	jsonData, _ := json.Marshal(payload)
	h.sendEvent(w, flusher, string(ev.Kind), string(jsonData))
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
