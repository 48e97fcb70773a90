// Command cvsubmit submits CVs and job criteria to the analysis backend from
// the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/config"
	"github.com/lyallcooper/cvsubmit/internal/db"
)

// Version info - injected at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const usage = `Usage: cvsubmit [-backend URL] <command> [arguments]

Commands:
  upload [-open] FILE...          upload CVs and wait for the analysis
  criteria upload FILE            extract job criteria from a document
  criteria update FILE|-          send edited criteria JSON
  history [-n N]                  show recent uploads
  watch add -name N -cron EXPR DIR...
  watch list
  watch rm ID
  watch run ID
  version
`

// env holds what every command needs
type env struct {
	cfg    *config.Config
	db     *db.DB
	client *backend.Client
}

func main() {
	log.SetFlags(0)

	global := flag.NewFlagSet("cvsubmit", flag.ExitOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	baseURL := global.String("backend", "", "analysis backend base URL (default CVSUBMIT_BASE_URL)")
	global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Printf("cvsubmit %s (%s)\n", version, commit)
		return
	}

	cfg := config.Load()
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	e := &env{
		cfg:    cfg,
		db:     database,
		client: backend.NewClient(cfg.BaseURL, cfg.RequestTimeout),
	}

	// Ctrl-C cancels the running submission rather than killing the process
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.dispatch(ctx, args[0], args[1:]); err != nil {
		database.Close()
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
			os.Exit(2)
		}
		log.Fatalf("Error: %v", err)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func (e *env) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "upload":
		return e.upload(ctx, args)
	case "criteria":
		return e.criteria(ctx, args)
	case "history":
		return e.history(args)
	case "watch":
		return e.watch(ctx, args)
	default:
		return usageError("unknown command: " + cmd)
	}
}
