package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyallcooper/cvsubmit/internal/app"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	port := flag.Int("port", 0, "port to listen on (default CVSUBMIT_PORT or 8090)")
	bind := flag.String("bind", "127.0.0.1", "address to bind to")
	baseURL := flag.String("backend", "", "analysis backend base URL (default CVSUBMIT_BASE_URL)")
	flag.Parse()

	srv, err := app.CreateServer(app.ServerConfig{
		Port:        *port,
		BaseURL:     *baseURL,
		Version:     version,
		Commit:      commit,
		BindAddress: *bind,
	})
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer srv.Cleanup()

	stopCleanup, cleanupDone := srv.StartCleanupLoop()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.HTTP.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Console listening on http://%s", srv.HTTP.Addr)
	if err := srv.HTTP.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	stopCleanup()
	<-cleanupDone

	log.Println("Server stopped")
}
