// Package pipeline runs crawl stages: it walks each stage's link list,
// follows pagination, buffers extracted rows and flushes them to
// storage, and leaves a save point behind when a run has to stop.
package pipeline

import (
	"context"
	"fmt"

	"github.com/kchongee/listing-crawler/config"
	"github.com/kchongee/listing-crawler/models"
	"github.com/kchongee/listing-crawler/parser"
	"github.com/kchongee/listing-crawler/store"
)

// FlushThreshold is the buffered item count above which a page that
// produced data triggers a flush.
const FlushThreshold = 50

// LinkColumn is the input column holding a stage's links.
const LinkColumn = "Link"

// Tabular is the stage output storage.
type Tabular interface {
	ReadColumn(fileID, column string) ([]string, bool)
	WriteHeader(header []string, fileID string) error
	AppendRows(fileID string, rows [][]string) error
	Deduplicate(fileID string, keyColumns []string) error
}

// Checkpoints holds the save point between runs.
type Checkpoints interface {
	Load() (models.Checkpoint, error)
	Save(models.Checkpoint) error
	Clear()
	Remove() error
}

// Journal records stage outcomes.
type Journal interface {
	Record(ctx context.Context, entry store.JournalEntry) error
}

// Progress receives stage and link notifications for display.
type Progress interface {
	StageStarted(name string, links int)
	LinkStarted(stage string, index, total int, url string)
	StageFinished(name string, err error)
}

type noopProgress struct{}

func (noopProgress) StageStarted(string, int) {}
func (noopProgress) LinkStarted(string, int, int, string) {}
func (noopProgress) StageFinished(string, error) {}

// Stage is a resolved stage ready to run.
type Stage struct {
	Name       string
	Input      string
	Seed       string
	Output     string
	Header     []string
	Actions    []*parser.Action
	Pagination string
	StripQuery bool
}

// BuildStages resolves every action of cfg against the parser registry.
func BuildStages(cfg config.PipelineConfig) ([]Stage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		stage := Stage{
			Name:       sc.Name,
			Input:      sc.Input,
			Seed:       sc.Seed,
			Output:     sc.Output,
			Header:     sc.Header,
			Pagination: sc.Pagination,
			StripQuery: sc.StripQuery,
		}
		for i, ac := range sc.Actions {
			action, err := parser.NewAction(parser.Kind(ac.Kind), ac.Selectors, ac.Attr, ac.Patterns)
			if err != nil {
				return nil, fmt.Errorf("stage %q action %d: %w", sc.Name, i, err)
			}
			stage.Actions = append(stage.Actions, action)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}
