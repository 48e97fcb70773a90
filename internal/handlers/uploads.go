package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/services"
)

// StartUpload handles POST /uploads. The submission runs on the server and
// its progress is streamed from /sse/uploads/{session}.
func (h *Handler) StartUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Upload exceeds 16 MB", http.StatusRequestEntityTooLarge)
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			http.Error(w, "Invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if !h.requireCSRF(w, r) {
		return
	}

	var files []backend.File
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File[backend.FieldCVFiles] {
			f, err := readUploadedFile(fh)
			if err != nil {
				http.Error(w, "Failed to read "+fh.Filename+": "+err.Error(), http.StatusBadRequest)
				return
			}
			files = append(files, f)
		}
	}

	// The submission outlives this request; temp files are removed when it returns
	view := &alertView{}
	session, err := h.uploader.Start(context.Background(), files, view)
	if err != nil {
		msg := view.message
		if msg == "" {
			msg = err.Error()
		}
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrUploaderClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, msg, status)
		return
	}

	log.Printf("console: started upload session %s with %d files", session.ID(), len(files))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(startUploadResponse{
		SessionID: session.ID(),
		StreamURL: "/sse/uploads/" + session.ID(),
	})
}

// CancelUpload handles POST /uploads/{session}/cancel
func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}

	if !h.uploader.CancelSession(r.PathValue("session")) {
		http.Error(w, "Upload not running", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readUploadedFile copies a multipart file into memory
func readUploadedFile(fh *multipart.FileHeader) (backend.File, error) {
	src, err := fh.Open()
	if err != nil {
		return backend.File{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return backend.File{}, err
	}
	return backend.FileFromBytes(fh.Filename, data), nil
}

// alertView captures the alert raised when a submission is rejected up front.
// Progress for accepted submissions reaches the browser through the SSE stream.
type alertView struct {
	services.NopView
	message string
}

func (v *alertView) Alert(msg string) {
	v.message = msg
}
