package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kchongee/listing-crawler/models"
	"github.com/kchongee/listing-crawler/parser"
	"github.com/kchongee/listing-crawler/scraper"
)

// RunnerOptions tunes a Runner.
type RunnerOptions struct {
	// MaxPagesPerLink stops following pagination after this many pages
	// of one link. Zero means unlimited.
	MaxPagesPerLink int
	Metrics         *Metrics
	Logger          *slog.Logger
	Progress        Progress
}

// Runner executes one stage over its link list.
type Runner struct {
	page        scraper.Accessor
	tabular     Tabular
	checkpoints Checkpoints

	maxPagesPerLink int
	metrics         *Metrics
	logger          *slog.Logger
	progress        Progress
}

// NewRunner wires a runner to its page engine and stores.
func NewRunner(page scraper.Accessor, tabular Tabular, checkpoints Checkpoints, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Progress == nil {
		opts.Progress = noopProgress{}
	}
	return &Runner{
		page:            page,
		tabular:         tabular,
		checkpoints:     checkpoints,
		maxPagesPerLink: opts.MaxPagesPerLink,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		progress:        opts.Progress,
	}
}

// linkRun is the state of one link's pagination walk.
type linkRun struct {
	stage   *Stage
	index   int
	pageURL string
	buf     *rowBuffer
	result  *models.StageResult
}

// Run processes links for stage. A save point naming this stage makes
// the run resume at its link, and at its URL for that first link;
// otherwise the output is reset to the header. A *FatalError is
// returned when the run had to stop.
func (r *Runner) Run(ctx context.Context, stage Stage, links []string) (*models.StageResult, error) {
	result := &models.StageResult{
		Name:      stage.Name,
		Output:    stage.Output,
		Links:     len(links),
		StartTime: time.Now(),
	}
	defer func() {
		result.EndTime = time.Now()
		r.metrics.ObserveStage(stage.Name, result.Duration())
	}()

	resume, err := r.checkpoints.Load()
	if err != nil {
		return result, fmt.Errorf("load checkpoint: %w", err)
	}

	start, resumeURL := 0, ""
	if resume.StageName == stage.Name {
		start, resumeURL = resume.LinkIndex, resume.URL
		result.Resumed = true
		r.logger.Info("resuming stage",
			slog.String("stage", stage.Name),
			slog.Int("link_index", start),
			slog.String("url", resumeURL),
		)
		if start > len(links) {
			r.logger.Warn("checkpoint index beyond link list",
				slog.String("stage", stage.Name),
				slog.Int("link_index", start),
				slog.Int("links", len(links)),
			)
			start = len(links)
		}
	} else {
		if err := r.tabular.WriteHeader(stage.Header, stage.Output); err != nil {
			return result, fmt.Errorf("write header for %s: %w", stage.Output, err)
		}
	}

	buf := newRowBuffer(len(stage.Header))
	for i := start; i < len(links); i++ {
		lr := &linkRun{stage: &stage, index: i, pageURL: links[i], buf: buf, result: result}
		if i == start && resumeURL != "" {
			lr.pageURL = resumeURL
		}
		r.checkpoints.Clear()
		r.progress.LinkStarted(stage.Name, i, len(links), lr.pageURL)

		if err := r.runLink(ctx, lr); err != nil {
			return result, err
		}
	}

	if err := r.tabular.Deduplicate(stage.Output, stage.Header); err != nil {
		return result, fmt.Errorf("deduplicate %s: %w", stage.Output, err)
	}
	return result, nil
}

// runLink walks one link's pages until pagination runs out.
func (r *Runner) runLink(ctx context.Context, lr *linkRun) error {
	stage := lr.stage
	pages := 0
	for {
		if err := r.page.Navigate(ctx, lr.pageURL); err != nil {
			return r.abort(lr, err)
		}
		pages++
		lr.result.Pages++

		dataScraped := r.scrapePage(ctx, lr)

		next, err := r.findNext(ctx, stage)
		if err != nil {
			return r.abort(lr, fmt.Errorf("find pagination element: %w", err))
		}

		if (dataScraped && lr.buf.items() > FlushThreshold) || next == nil {
			if err := r.flush(lr); err != nil {
				return r.abort(lr, err)
			}
		}
		if next == nil {
			return nil
		}

		if r.maxPagesPerLink > 0 && pages >= r.maxPagesPerLink {
			r.logger.Warn("page limit reached for link",
				slog.String("stage", stage.Name),
				slog.Int("link_index", lr.index),
				slog.Int("pages", pages),
			)
			return r.endLink(lr)
		}

		r.safeClick(ctx, stage, *next)
		if err := ctx.Err(); err != nil {
			return r.abort(lr, err)
		}
		nextURL, err := r.page.CurrentURL(ctx)
		if err != nil {
			return r.abort(lr, fmt.Errorf("read current url: %w", err))
		}
		if nextURL == lr.pageURL {
			r.logger.Warn("pagination did not advance",
				slog.String("stage", stage.Name),
				slog.Int("link_index", lr.index),
				slog.String("url", nextURL),
			)
			return r.endLink(lr)
		}
		lr.pageURL = nextURL
	}
}

// scrapePage runs the stage actions on the loaded page and buffers the
// rows. It reports whether the page produced data.
func (r *Runner) scrapePage(ctx context.Context, lr *linkRun) bool {
	stage := lr.stage
	rows, err := r.extract(ctx, stage)
	if err != nil {
		lr.result.FailedPages++
		r.metrics.IncPage(stage.Name, "failed")
		r.logger.Error("page extraction failed",
			slog.String("stage", stage.Name),
			slog.Int("link_index", lr.index),
			slog.String("url", lr.pageURL),
			slog.Any("error", err),
		)
		cp := models.Checkpoint{LinkIndex: lr.index, URL: lr.pageURL, StageName: stage.Name}
		if err := r.checkpoints.Save(cp); err != nil {
			r.logger.Error("saving checkpoint failed", slog.Any("error", err))
		} else {
			r.metrics.IncCheckpoint("page")
		}
		return false
	}
	if len(rows) == 0 {
		lr.result.EmptyPages++
		r.metrics.IncPage(stage.Name, "empty")
		return false
	}

	lr.buf.add(rows)
	r.metrics.IncPage(stage.Name, "ok")
	return true
}

// extract runs every action. A field with no values discards the page.
func (r *Runner) extract(ctx context.Context, stage *Stage) ([][]string, error) {
	page := make(pageResult, len(stage.Actions))
	for i, action := range stage.Actions {
		values, err := action.Extract(ctx, r.page)
		if err != nil {
			return nil, err
		}
		if stage.StripQuery {
			values = parser.StripQueries(values)
		}
		if len(values) == 0 {
			r.logger.Info("nothing extracted",
				slog.String("stage", stage.Name),
				slog.String("field", stage.Header[i]),
				slog.String("action", action.String()),
			)
			return nil, nil
		}
		page[i] = values
	}
	return page.rows()
}

func (r *Runner) findNext(ctx context.Context, stage *Stage) (*scraper.Element, error) {
	if stage.Pagination == "" {
		return nil, nil
	}
	return r.page.FindOne(ctx, stage.Pagination)
}

// safeClick clicks el and only logs a failure.
func (r *Runner) safeClick(ctx context.Context, stage *Stage, el scraper.Element) {
	if err := r.page.Click(ctx, el); err != nil {
		r.logger.Warn("click failed",
			slog.String("stage", stage.Name),
			slog.String("selector", el.Selector),
			slog.Any("error", err),
		)
	}
}

func (r *Runner) flush(lr *linkRun) error {
	if lr.buf.len() == 0 {
		return nil
	}
	rows := lr.buf.rows
	if err := r.tabular.AppendRows(lr.stage.Output, rows); err != nil {
		return fmt.Errorf("flush %d rows to %s: %w", len(rows), lr.stage.Output, err)
	}
	lr.result.Rows += len(rows)
	lr.result.Flushes++
	r.metrics.AddFlush(lr.stage.Name, len(rows))
	r.logger.Debug("flushed rows",
		slog.String("stage", lr.stage.Name),
		slog.String("output", lr.stage.Output),
		slog.Int("rows", len(rows)),
	)
	lr.buf.reset()
	return nil
}

// endLink stops a link's pagination early, flushing what it gathered.
func (r *Runner) endLink(lr *linkRun) error {
	if err := r.flush(lr); err != nil {
		return r.abort(lr, err)
	}
	return nil
}

// abort flushes what it can, saves the save point and wraps cause.
func (r *Runner) abort(lr *linkRun, cause error) error {
	if err := r.flush(lr); err != nil {
		r.logger.Error("flush before abort failed", slog.Any("error", err))
	}

	cp := models.Checkpoint{LinkIndex: lr.index, URL: lr.pageURL, StageName: lr.stage.Name}
	if err := r.checkpoints.Save(cp); err != nil {
		r.logger.Error("saving checkpoint failed", slog.Any("error", err))
	} else {
		r.metrics.IncCheckpoint("fatal")
	}

	attrs := []any{
		slog.String("stage", lr.stage.Name),
		slog.Int("link_index", lr.index),
		slog.String("url", lr.pageURL),
		slog.Any("error", cause),
	}
	var navErr *scraper.NavigationError
	if errors.As(cause, &navErr) {
		attrs = append(attrs, slog.String("category", navErr.Type()))
	}
	r.logger.Error("stage aborted", attrs...)

	return &FatalError{Stage: lr.stage.Name, Checkpoint: cp, Err: cause}
}
