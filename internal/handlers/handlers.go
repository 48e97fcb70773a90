package handlers

import (
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lyallcooper/cvsubmit/internal/config"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/render"
	"github.com/lyallcooper/cvsubmit/internal/scheduler"
	"github.com/lyallcooper/cvsubmit/internal/services"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

// maxUploadSize bounds a console multipart request
const maxUploadSize = 16 << 20

// Handler holds all HTTP handlers
type Handler struct {
	db        *db.DB
	cfg       *config.Config
	uploader  *services.Uploader
	criteria  *services.Criteria
	scheduler *scheduler.Scheduler
	webFS     fs.FS
	funcMap   template.FuncMap
	staticFS  fs.FS
}

// New creates a new Handler. webFS must contain templates/ and static/.
func New(database *db.DB, cfg *config.Config, uploader *services.Uploader, criteria *services.Criteria, sched *scheduler.Scheduler, webFS fs.FS) (*Handler, error) {
	funcMap := template.FuncMap{
		"formatTime":  formatTime,
		"timeAgo":     timeAgo,
		"joinFiles":   joinFiles,
		"deref":       deref,
		"progressBar": progressBar,
	}

	staticFS, err := fs.Sub(webFS, "static")
	if err != nil {
		return nil, err
	}

	return &Handler{
		db:        database,
		cfg:       cfg,
		uploader:  uploader,
		criteria:  criteria,
		scheduler: sched,
		webFS:     webFS,
		funcMap:   funcMap,
		staticFS:  staticFS,
	}, nil
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Static files
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))

	// Dashboard
	mux.HandleFunc("GET /{$}", h.Dashboard)

	// Uploads
	mux.HandleFunc("POST /uploads", h.StartUpload)
	mux.HandleFunc("POST /uploads/{session}/cancel", h.CancelUpload)
	mux.HandleFunc("GET /sse/uploads/{session}", h.UploadProgressSSE)

	// Job criteria
	mux.HandleFunc("POST /criteria/upload", h.CriteriaUpload)
	mux.HandleFunc("POST /criteria/update", h.CriteriaUpdate)

	// Watch jobs
	mux.HandleFunc("POST /watch", h.CreateWatchJob)
	mux.HandleFunc("POST /watch/{id}/toggle", h.ToggleWatchJob)
	mux.HandleFunc("POST /watch/{id}/run", h.RunWatchJob)
	mux.HandleFunc("POST /watch/{id}/delete", h.DeleteWatchJob)

	// History
	mux.HandleFunc("GET /history", h.History)

	// Settings
	mux.HandleFunc("GET /settings", h.Settings)
	mux.HandleFunc("POST /settings", h.UpdateSettings)
}

// render executes a page template with the base layout
func (h *Handler) render(w http.ResponseWriter, pageName string, data any) {
	tmpl, err := template.New("base.html").Funcs(h.funcMap).ParseFS(h.webFS, "templates/base.html", "templates/"+pageName)
	if err != nil {
		http.Error(w, "Template error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeFragment writes an HTML fragment response
func writeFragment(w http.ResponseWriter, status int, html template.HTML) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(html))
}

// Template functions

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

func timeAgo(t time.Time) string {
	return humanize.Time(t)
}

func joinFiles(files []string) string {
	return strings.Join(files, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func progressBar(p types.ProgressView) template.HTML {
	html, err := render.ProgressBar(p)
	if err != nil {
		return ""
	}
	return html
}
