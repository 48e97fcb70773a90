// Package app wires the console: configuration, history database, backend
// client, controllers, watch scheduler and HTTP handlers.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/config"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/handlers"
	"github.com/lyallcooper/cvsubmit/internal/scheduler"
	"github.com/lyallcooper/cvsubmit/internal/services"
	"github.com/lyallcooper/cvsubmit/internal/webfs"
)

// ServerConfig contains options for creating the console server.
type ServerConfig struct {
	// Port to listen on. If 0, uses config default.
	Port int

	// BaseURL overrides the analysis backend address. If empty, uses config.
	BaseURL string

	// Version string for display.
	Version string

	// Commit hash for display.
	Commit string

	// BindAddress is the address to bind to. Defaults to "127.0.0.1";
	// the console is meant for local use.
	BindAddress string
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP      *http.Server
	Config    *config.Config
	Database  *db.DB
	Client    *backend.Client
	Uploader  *services.Uploader
	Criteria  *services.Criteria
	Scheduler *scheduler.Scheduler
	Handler   *handlers.Handler
	Version   string

	stopCSRF context.CancelFunc
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg ServerConfig) (*Server, error) {
	appCfg := config.Load()

	if cfg.Port > 0 {
		appCfg.Port = cfg.Port
	}
	if cfg.BaseURL != "" {
		appCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	versionStr := buildVersionString(cfg.Version, cfg.Commit)

	log.Printf("cvsubmit %s starting...", versionStr)
	log.Printf("  Backend: %s", appCfg.BaseURL)
	log.Printf("  Database: %s", appCfg.DBPath)
	log.Printf("  Port: %d", appCfg.Port)

	database, err := db.Open(appCfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Load retention from DB if not set via env var
	if !appCfg.RetentionDaysFromEnv {
		if val, err := database.GetSetting("retention_days"); err == nil && val != "" {
			if days, err := strconv.Atoi(val); err == nil && days >= 1 {
				appCfg.RetentionDays = days
			}
		}
	}
	log.Printf("  Retention: %d days", appCfg.RetentionDays)

	client := backend.NewClient(appCfg.BaseURL, appCfg.RequestTimeout)
	uploader := services.NewUploader(client, database, appCfg.PollInterval, client.ResultsURL())
	criteria := services.NewCriteria(client, database, appCfg.BannerTTL)

	sched := scheduler.New(database, uploader, appCfg)
	sched.Start()

	h, err := handlers.New(database, appCfg, uploader, criteria, sched, webfs.FS)
	if err != nil {
		sched.Stop()
		uploader.Close()
		criteria.Close()
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	csrfCtx, stopCSRF := context.WithCancel(context.Background())
	handlers.StartCSRFCleanup(csrfCtx)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	bindAddr := cfg.BindAddress
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", bindAddr, appCfg.Port),
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:      server,
		Config:    appCfg,
		Database:  database,
		Client:    client,
		Uploader:  uploader,
		Criteria:  criteria,
		Scheduler: sched,
		Handler:   h,
		Version:   versionStr,
		stopCSRF:  stopCSRF,
	}, nil
}

// Cleanup releases all resources held by the server.
func (s *Server) Cleanup() {
	if s.stopCSRF != nil {
		s.stopCSRF()
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Uploader != nil {
		s.Uploader.Close()
	}
	if s.Criteria != nil {
		s.Criteria.Close()
	}
	if s.Database != nil {
		s.Database.Close()
	}
}

// StartCleanupLoop starts a background goroutine that periodically removes
// history older than the retention period. Returns a cancel function and a
// done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				days := s.Handler.RetentionDays()
				log.Printf("Running cleanup (retention: %d days)", days)
				if err := s.Database.CleanupOldData(days); err != nil {
					log.Printf("Cleanup error: %v", err)
				}
			}
		}
	}()

	return cleanupCancel, cleanupDone
}

func buildVersionString(version, commit string) string {
	if version == "" {
		version = "dev"
	}
	if strings.HasPrefix(version, "v") {
		return version
	}
	shortCommit := commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	return version + "-" + shortCommit
}
