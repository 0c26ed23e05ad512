package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kchongee/listing-crawler/config"
)

// checkpointFile is the save point name inside the data directory.
const checkpointFile = "save_point.csv"

var (
	cfg     = config.DefaultConfig()
	logFile io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "crawler",
	Short:         "crawler walks a listing site stage by stage and writes each stage to CSV.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, closer, err := newLogger(cfg.Verbose, cfg.LogFile)
		if err != nil {
			return err
		}
		logFile = closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogFile()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding stage CSV files and the save point")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Append logs to this file (empty disables)")
	flags.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite run journal (empty disables)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable debug logging")
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		slog.Error("command failed", slog.Any("error", err))
	}
	// PersistentPostRun is skipped when a command fails.
	closeLogFile()
	if err != nil {
		return 1
	}
	return 0
}

func checkpointPath() string {
	return filepath.Join(cfg.DataDir, checkpointFile)
}

// newLogger logs to stdout and, when path is set, appends to path.
func newLogger(verbose bool, path string) (*slog.Logger, io.Closer, error) {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer
	)
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	handler := log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return slog.New(handler), closer, nil
}

func closeLogFile() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
	logFile = nil
}
