package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kchongee/listing-crawler/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [--limit <n>]",
	Short: "Prints recent stage runs from the journal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JournalPath == "" {
			return fmt.Errorf("journal is disabled")
		}
		journal, err := store.OpenJournal(cmd.Context(), cfg.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		entries, err := journal.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Run", "Stage", "Status", "Links", "Pages", "Failed", "Rows", "Resumed", "Elapsed", "Error"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.RunID,
				e.Stage,
				e.Status,
				e.Links,
				e.Pages,
				e.FailedPages,
				e.Rows,
				e.Resumed,
				e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond),
				e.Error,
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}
