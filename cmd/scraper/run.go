package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kchongee/listing-crawler/config"
	"github.com/kchongee/listing-crawler/pipeline"
	"github.com/kchongee/listing-crawler/progress"
	"github.com/kchongee/listing-crawler/scraper"
	"github.com/kchongee/listing-crawler/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the crawl pipeline, resuming from the save point when one exists.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), cmd.Flags().Changed("seed-url"))
	},
}

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&cfg.PipelineFile, "pipeline", cfg.PipelineFile, "Pipeline file (json5); built-in stages when missing")
	flags.StringVar(&cfg.SeedURL, "seed-url", cfg.SeedURL, "Start link for stages without input")
	flags.StringVar(&cfg.Engine, "engine", cfg.Engine, "Page engine: chrome or static")
	flags.BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run Chrome without a window")
	flags.StringVar(&cfg.ChromePath, "chrome-path", cfg.ChromePath, "Chrome executable (default: auto-detect)")
	flags.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User agent sent by the engine")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Page load timeout")
	flags.DurationVar(&cfg.ScriptWait, "script-wait", cfg.ScriptWait, "How long to wait for script tags")
	flags.DurationVar(&cfg.ClickWait, "click-wait", cfg.ClickWait, "How long to wait for the URL to change after a click")
	flags.IntVar(&cfg.MaxPagesPerLink, "max-pages", cfg.MaxPagesPerLink, "Pagination limit per link (0 = unlimited)")
	flags.IntVar(&cfg.CacheSize, "cache-size", cfg.CacheSize, "Parsed pages kept by the static engine (0 disables)")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Show a progress spinner")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context, seedFlagSet bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pipelineCfg, found, err := config.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		return fmt.Errorf("load pipeline: %w", err)
	}
	if !found {
		slog.Info("pipeline file not found, using built-in stages", slog.String("path", cfg.PipelineFile))
	}
	stages, err := pipeline.BuildStages(pipelineCfg)
	if err != nil {
		return fmt.Errorf("build stages: %w", err)
	}
	seedURL := cfg.SeedURL
	if pipelineCfg.SeedURL != "" && !seedFlagSet {
		seedURL = pipelineCfg.SeedURL
	}

	registry := prometheus.NewRegistry()
	scraperMetrics := scraper.NewMetrics(registry)
	pipelineMetrics := pipeline.NewMetrics(registry)
	stopMetrics := serveMetrics(cfg.MetricsAddr, registry)
	defer stopMetrics()

	csvStore, err := store.NewCSVStore(cfg.DataDir, slog.Default())
	if err != nil {
		return err
	}
	checkpoints := store.NewCheckpointFile(checkpointPath())

	var journal pipeline.Journal
	if cfg.JournalPath != "" {
		j, err := store.OpenJournal(ctx, cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
	}

	var reporter pipeline.Progress
	if cfg.Progress {
		reporter = progress.NewSpinner(os.Stderr)
	}

	page, err := openEngine(scraperMetrics)
	if err != nil {
		return fmt.Errorf("start %s engine: %w", cfg.Engine, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			slog.Warn("closing page engine failed", slog.Any("error", err))
		}
	}()

	slog.Info("starting crawl",
		slog.String("engine", cfg.Engine),
		slog.Int("stages", len(stages)),
		slog.String("seed_url", seedURL),
		slog.String("data_dir", cfg.DataDir),
	)

	runner := pipeline.NewRunner(page, csvStore, checkpoints, pipeline.RunnerOptions{
		MaxPagesPerLink: cfg.MaxPagesPerLink,
		Metrics:         pipelineMetrics,
		Logger:          slog.Default(),
		Progress:        reporter,
	})
	driver := pipeline.NewDriver(runner, csvStore, checkpoints, pipeline.DriverOptions{
		SeedURL:  seedURL,
		Journal:  journal,
		Logger:   slog.Default(),
		Progress: reporter,
	})

	result, err := driver.Run(ctx, stages)
	printRunSummary(os.Stdout, result)

	var fatal *pipeline.FatalError
	if errors.As(err, &fatal) {
		slog.Error("crawl stopped, run again to resume",
			slog.String("stage", fatal.Stage),
			slog.Int("link_index", fatal.Checkpoint.LinkIndex),
			slog.String("checkpoint", checkpoints.Path()),
		)
	}
	return err
}

func openEngine(metrics *scraper.Metrics) (scraper.Accessor, error) {
	switch cfg.Engine {
	case config.EngineStatic:
		return scraper.NewStatic(scraper.StaticOptions{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.Timeout,
			CacheSize: cfg.CacheSize,
			Metrics:   metrics,
			Logger:    slog.Default(),
		})
	default:
		return scraper.NewChrome(scraper.ChromeOptions{
			Headless:   cfg.Headless,
			ExecPath:   cfg.ChromePath,
			UserAgent:  cfg.UserAgent,
			Timeout:    cfg.Timeout,
			ScriptWait: cfg.ScriptWait,
			ClickWait:  cfg.ClickWait,
			Metrics:    metrics,
			Logger:     slog.Default(),
		})
	}
}

// serveMetrics exposes registry on addr and returns a shutdown func.
func serveMetrics(addr string, registry *prometheus.Registry) func() {
	if addr == "" {
		return func() {}
	}
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}
