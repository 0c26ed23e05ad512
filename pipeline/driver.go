package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kchongee/listing-crawler/models"
	"github.com/kchongee/listing-crawler/store"
)

// DriverOptions tunes a Driver.
type DriverOptions struct {
	// SeedURL is used by stages whose input is missing and that have no
	// seed of their own.
	SeedURL  string
	Journal  Journal
	Logger   *slog.Logger
	Progress Progress
}

// Driver runs stages in order and skips the ones a save point shows
// are already done.
type Driver struct {
	runner      *Runner
	tabular     Tabular
	checkpoints Checkpoints

	seedURL  string
	journal  Journal
	logger   *slog.Logger
	progress Progress
}

// NewDriver builds a driver around runner.
func NewDriver(runner *Runner, tabular Tabular, checkpoints Checkpoints, opts DriverOptions) *Driver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Progress == nil {
		opts.Progress = noopProgress{}
	}
	return &Driver{
		runner:      runner,
		tabular:     tabular,
		checkpoints: checkpoints,
		seedURL:     opts.SeedURL,
		journal:     opts.Journal,
		logger:      opts.Logger,
		progress:    opts.Progress,
	}
}

// Run executes stages. When a save point exists, stages before the one
// it names are skipped, that stage resumes and the rest run normally.
// The save point is removed once every stage completes.
func (d *Driver) Run(ctx context.Context, stages []Stage) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now()}
	runID := result.StartTime.Format("20060102-150405")
	defer func() {
		result.EndTime = time.Now()
		d.logger.Info("pipeline finished",
			slog.Duration("elapsed", result.Duration()),
			slog.Int("rows", result.TotalRows()),
		)
	}()

	resume, err := d.checkpoints.Load()
	if err != nil {
		return result, err
	}

	target := resume.StageName
	if target != "" && !hasStage(stages, target) {
		d.logger.Warn("checkpoint names an unknown stage, starting over",
			slog.String("stage", target),
		)
		target = ""
		d.checkpoints.Clear()
	}
	if target != "" {
		d.logger.Info("resuming pipeline",
			slog.String("stage", target),
			slog.Int("link_index", resume.LinkIndex),
			slog.String("url", resume.URL),
		)
	}

	for _, stage := range stages {
		if target != "" && stage.Name != target {
			d.logger.Info("skipping completed stage", slog.String("stage", stage.Name))
			now := time.Now()
			skipped := &models.StageResult{Name: stage.Name, Output: stage.Output, Skipped: true, StartTime: now, EndTime: now}
			result.Stages = append(result.Stages, skipped)
			d.record(ctx, runID, skipped, store.StatusSkipped, nil)
			continue
		}
		target = ""

		links := d.links(stage)
		d.logger.Info("stage started",
			slog.String("stage", stage.Name),
			slog.Int("links", len(links)),
			slog.String("output", stage.Output),
		)
		d.progress.StageStarted(stage.Name, len(links))

		stageResult, err := d.runner.Run(ctx, stage, links)
		d.progress.StageFinished(stage.Name, err)
		result.Stages = append(result.Stages, stageResult)

		if err != nil {
			d.record(ctx, runID, stageResult, store.StatusFailed, err)
			return result, err
		}
		d.record(ctx, runID, stageResult, store.StatusCompleted, nil)
		d.logger.Info("stage finished",
			slog.String("stage", stage.Name),
			slog.Int("pages", stageResult.Pages),
			slog.Int("rows", stageResult.Rows),
			slog.Int("failed_pages", stageResult.FailedPages),
			slog.Duration("elapsed", stageResult.Duration()),
		)
	}

	if err := d.checkpoints.Remove(); err != nil {
		d.logger.Warn("removing stale checkpoint failed", slog.Any("error", err))
	}
	return result, nil
}

// links returns the stage's input links, falling back to its seed.
func (d *Driver) links(stage Stage) []string {
	if stage.Input != "" {
		if links, ok := d.tabular.ReadColumn(stage.Input, LinkColumn); ok {
			return links
		}
		d.logger.Warn("stage input unavailable, using seed link",
			slog.String("stage", stage.Name),
			slog.String("input", stage.Input),
		)
	}
	seed := stage.Seed
	if seed == "" {
		seed = d.seedURL
	}
	return []string{seed}
}

func (d *Driver) record(ctx context.Context, runID string, res *models.StageResult, status string, runErr error) {
	if d.journal == nil || res == nil {
		return
	}
	entry := store.JournalEntry{
		RunID:       runID,
		Stage:       res.Name,
		Status:      status,
		Links:       res.Links,
		Pages:       res.Pages,
		FailedPages: res.FailedPages,
		Rows:        res.Rows,
		Resumed:     res.Resumed,
		StartedAt:   res.StartTime,
		FinishedAt:  res.EndTime,
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now()
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	// The journal outlives a cancelled run.
	if err := d.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn("journal write failed", slog.Any("error", err))
	}
}

func hasStage(stages []Stage, name string) bool {
	for _, stage := range stages {
		if stage.Name == name {
			return true
		}
	}
	return false
}
