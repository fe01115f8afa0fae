package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/repository"
)

// Flags for runs
var (
	runsDB     string
	runsLimit  int
	runsEvents string
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled runs",
	Long:  `List recent runs from the run journal, or the events of one run with --events.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := repository.NewSQLiteStore(runsDB)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if runsEvents != "" {
			events, err := store.GetEvents(cmd.Context(), runsEvents)
			if err != nil {
				return err
			}
			if runsJSON {
				return writeJSON(out, events)
			}
			return printEvents(out, events)
		}

		runs, err := store.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if runsJSON {
			return writeJSON(out, runs)
		}
		return printRuns(out, runs)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsDB, "db", "file:chatrelay.db", "Journal DSN")
	runsCmd.Flags().IntVar(&runsLimit, "limit", repository.DefaultListLimit, "Maximum number of runs to list")
	runsCmd.Flags().StringVar(&runsEvents, "events", "", "Show the events of the run with this record id")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(runsCmd)
}

func printRuns(out io.Writer, runs []domain.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs journaled.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORD\tTHREAD\tRUN\tSTATUS\tSTARTED\tDURATION\tCHUNKS\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.EndedAt != nil {
			duration = r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RecordID, r.ThreadID, r.RunID, r.Status,
			r.StartedAt.Local().Format(time.DateTime), duration, r.ChunkCount, r.Error)
	}
	return w.Flush()
}

func printEvents(out io.Writer, events []domain.Event) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No events journaled for this run.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tPAYLOAD")
	for _, ev := range events {
		ts := time.UnixMilli(ev.Ts).Local().Format("15:04:05.000")
		fmt.Fprintf(w, "%s\t%s\t%s\n", ts, ev.Type, ev.Payload)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
