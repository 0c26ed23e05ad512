// Package models defines data structures shared by the crawler packages.
package models

import "time"

// Checkpoint is the save point that lets a later run resume a stage.
// The zero value means "no save point".
type Checkpoint struct {
	LinkIndex int
	URL       string
	StageName string
}

// IsZero reports whether c carries no resume information.
func (c Checkpoint) IsZero() bool {
	return c.LinkIndex == 0 && c.URL == "" && c.StageName == ""
}

// StageResult holds the outcome of a single stage run.
type StageResult struct {
	Name        string
	Output      string
	Links       int
	Pages       int
	EmptyPages  int
	FailedPages int
	Rows        int
	Flushes     int
	Resumed     bool
	Skipped     bool
	StartTime   time.Time
	EndTime     time.Time
}

// Duration returns the wall time the stage took.
func (r *StageResult) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// RunResult holds the overall result of a pipeline run
type RunResult struct {
	Stages    []*StageResult
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the wall time of the whole run.
func (r *RunResult) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// TotalRows sums the rows written by every stage that ran.
func (r *RunResult) TotalRows() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, stage := range r.Stages {
		total += stage.Rows
	}
	return total
}
