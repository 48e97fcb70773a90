package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
)

func (e *env) history(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of uploads to show")
	fs.Parse(args)

	runs, err := e.db.ListUploadRuns(*limit, 0)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No uploads yet")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tPERCENT\tJOB\tFILES\tMESSAGE")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\t%s\n",
			humanize.Time(run.StartedAt), run.Status, run.Percent,
			lo.FromPtrOr(run.JobID, "-"), strings.Join(run.Files, ", "), run.Message)
	}
	return tw.Flush()
}
