package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/lyallcooper/cvsubmit/internal/backend"
	"github.com/lyallcooper/cvsubmit/internal/services"
	"github.com/lyallcooper/cvsubmit/internal/types"
)

func (e *env) criteria(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usageError("criteria: missing subcommand")
	}

	c := services.NewCriteria(e.client, e.db, 0)
	defer c.Close()
	view := &criteriaView{w: os.Stdout}

	switch args[0] {
	case "upload":
		if len(args) != 2 {
			return usageError("criteria upload: expected one file")
		}
		f, err := backend.FileFromPath(args[1])
		if err != nil {
			return err
		}
		_, err = c.Upload(ctx, &f, view)
		return err

	case "update":
		if len(args) != 2 {
			return usageError("criteria update: expected a JSON file or -")
		}
		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		return c.Update(ctx, json.RawMessage(data), view)

	default:
		return usageError("criteria: unknown subcommand " + args[0])
	}
}

func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}

// criteriaView prints the criteria flow. Banners are printed once and never
// need removing from a terminal.
type criteriaView struct {
	w io.Writer
}

func (v *criteriaView) Alert(msg string) {
	fmt.Fprintln(v.w, msg)
}

func (v *criteriaView) SetSpinner(visible bool) {
	if visible {
		fmt.Fprintln(v.w, "Processing...")
	}
}

func (v *criteriaView) ShowPreview(p types.CriteriaPreview) {
	fmt.Fprintf(v.w, "Extracted Text:\n%s\n\nGenerated JSON:\n%s\n", p.ExtractedText, p.CriteriaJSON)
}

func (v *criteriaView) ShowError(msg string) {
	fmt.Fprintln(v.w, msg)
}

func (v *criteriaView) AddBanner(b types.Banner) {
	fmt.Fprintln(v.w, b.Message)
}

func (v *criteriaView) RemoveBanner(string) {}
