package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kchongee/listing-crawler/store"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspects or clears the save point left by an interrupted run.",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Prints the save point without consuming it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		record, found, err := store.NewCheckpointFile(checkpointPath()).Peek()
		if err != nil {
			return err
		}
		if !found || record.IsZero() {
			fmt.Println("no save point, the next run starts from the first stage")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Stage", "Link index", "URL"})
		t.AppendRow(table.Row{record.StageName, record.LinkIndex, record.URL})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deletes the save point so the next run starts over.",
	RunE: func(cmd *cobra.Command, args []string) error {
		checkpoints := store.NewCheckpointFile(checkpointPath())
		if err := checkpoints.Remove(); err != nil {
			return err
		}
		slog.Info("save point removed", slog.String("path", checkpoints.Path()))
		return nil
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}
