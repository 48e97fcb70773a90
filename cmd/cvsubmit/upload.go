package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/browser"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/services"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

const barWidth = 30

func (e *env) upload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	open := fs.Bool("open", false, "open the results page in a browser when done")
	fs.Parse(args)

	files, err := loadFiles(fs.Args())
	if err != nil {
		return err
	}

	uploader := services.NewUploader(e.client, e.db, e.cfg.PollInterval, e.client.ResultsURL())
	defer uploader.Close()

	view := newTerminalView(os.Stdout, *open)
	session, err := uploader.Start(ctx, files, view)
	if err != nil {
		return err
	}

	job, err := session.Wait()
	view.finish()
	if err != nil {
		return err
	}
	if job.JobID != "" {
		fmt.Printf("Job %s completed\n", job.JobID)
	}
	return nil
}

// loadFiles opens the named documents, warning about types the backend
// is likely to reject
func loadFiles(paths []string) ([]backend.File, error) {
	files := make([]backend.File, 0, len(paths))
	for _, p := range paths {
		f, err := backend.FileFromPath(p)
		if err != nil {
			return nil, err
		}
		if !backend.IsAllowedFile(f.Name) {
			log.Printf("warning: %s is not one of %s", f.Name, strings.Join(backend.AllowedExtensions, ", "))
		}
		fmt.Printf("  %s (%s)\n", f.Name, humanize.Bytes(uint64(max(f.Size, 0))))
		files = append(files, f)
	}
	return files, nil
}

// terminalView draws the progress bar on a single line
type terminalView struct {
	w        io.Writer
	open     bool
	drawn    bool
	lastLine string
}

func newTerminalView(w io.Writer, open bool) *terminalView {
	return &terminalView{w: w, open: open}
}

func (v *terminalView) Render(p types.ProgressView) {
	filled := p.Percent * barWidth / 100
	line := fmt.Sprintf("[%s%s] %4s %s",
		strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled), p.Label, p.Text)
	if line == v.lastLine {
		return
	}
	v.lastLine = line
	v.drawn = true
	fmt.Fprintf(v.w, "\r\033[K%s", line)
}

func (v *terminalView) SetSubmitEnabled(bool) {}

func (v *terminalView) Alert(msg string) {
	v.finish()
	fmt.Fprintln(v.w, msg)
}

func (v *terminalView) Navigate(url string) {
	v.finish()
	fmt.Fprintf(v.w, "Results: %s\n", url)
	if v.open {
		if err := browser.OpenURL(url); err != nil {
			log.Printf("Failed to open browser: %v", err)
		}
	}
}

// finish ends the progress line so later output starts on a fresh one
func (v *terminalView) finish() {
	if v.drawn {
		fmt.Fprintln(v.w)
		v.drawn = false
	}
}
