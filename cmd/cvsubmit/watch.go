package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/lyallcooper/cvsubmit/internal/config"
	"github.com/lyallcooper/cvsubmit/internal/db"
	"github.com/lyallcooper/cvsubmit/internal/scheduler"
	"github.com/lyallcooper/cvsubmit/internal/services"
)

func (e *env) watch(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usageError("watch: missing subcommand")
	}

	switch args[0] {
	case "add":
		return e.watchAdd(args[1:])
	case "list":
		return e.watchList()
	case "rm":
		id, err := watchID(args[1:])
		if err != nil {
			return err
		}
		if _, err := e.db.GetWatchJob(id); err != nil {
			return fmt.Errorf("watch job %d not found", id)
		}
		if err := e.db.DeleteWatchJob(id); err != nil {
			return err
		}
		fmt.Printf("Removed watch job %d\n", id)
		return nil
	case "run":
		id, err := watchID(args[1:])
		if err != nil {
			return err
		}
		return e.watchRun(ctx, id)
	default:
		return usageError("watch: unknown subcommand " + args[0])
	}
}

func watchID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, usageError("expected a watch job ID")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, usageError("invalid watch job ID: " + args[0])
	}
	return id, nil
}

func (e *env) watchAdd(args []string) error {
	fs := flag.NewFlagSet("watch add", flag.ExitOnError)
	name := fs.String("name", "", "watch job name")
	cronExpr := fs.String("cron", "*/15 * * * *", "cron schedule (minute hour dom month dow)")
	fs.Parse(args)

	paths := lo.Uniq(lo.Map(fs.Args(), func(p string, _ int) string {
		return config.ExpandPath(p)
	}))

	if strings.TrimSpace(*name) == "" {
		return usageError("watch add: -name is required")
	}
	if len(paths) == 0 {
		return usageError("watch add: at least one folder is required")
	}
	for _, p := range paths {
		if !e.cfg.IsPathAllowed(p) {
			return fmt.Errorf("path not allowed: %s", p)
		}
	}

	next, err := scheduler.NextRun(*cronExpr, time.Now())
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	job, err := e.db.CreateWatchJob(&db.WatchJob{
		Name:           strings.TrimSpace(*name),
		Paths:          paths,
		CronExpression: *cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created watch job %d, next run %s\n", job.ID, humanize.Time(next))
	return nil
}

func (e *env) watchList() error {
	jobs, err := e.db.ListWatchJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No watch jobs")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tENABLED\tLAST RUN\tNEXT RUN\tPATHS")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\t%s\n",
			j.ID, j.Name, j.CronExpression, j.Enabled,
			relativeTime(j.LastRunAt), relativeTime(j.NextRunAt), strings.Join(j.Paths, ", "))
	}
	return tw.Flush()
}

// watchRun submits a watch job's new files immediately, in the foreground
func (e *env) watchRun(ctx context.Context, id int64) error {
	job, err := e.db.GetWatchJob(id)
	if err != nil {
		return fmt.Errorf("watch job %d not found", id)
	}

	uploader := services.NewUploader(e.client, e.db, e.cfg.PollInterval, e.client.ResultsURL())
	defer uploader.Close()
	sched := scheduler.New(e.db, uploader, e.cfg)

	view := newTerminalView(os.Stdout, false)
	session, err := sched.RunNow(ctx, job, view)
	if errors.Is(err, scheduler.ErrNoNewFiles) {
		fmt.Printf("No new files for %s\n", job.Name)
		return nil
	}
	if err != nil {
		return err
	}

	_, err = session.Wait()
	view.finish()
	return err
}

func relativeTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}
