package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kchongee/listing-crawler/models"
)

func printRunSummary(w io.Writer, result *models.RunResult) {
	if result == nil || len(result.Stages) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Crawl summary")
	t.AppendHeader(table.Row{"Stage", "Status", "Links", "Pages", "Empty", "Failed", "Rows", "Elapsed", "Output"})

	for _, stage := range result.Stages {
		t.AppendRow(table.Row{
			stage.Name,
			stageStatus(stage),
			stage.Links,
			stage.Pages,
			stage.EmptyPages,
			stage.FailedPages,
			stage.Rows,
			stage.Duration().Round(time.Millisecond),
			stage.Output,
		})
	}
	t.AppendFooter(table.Row{"Total", "", "", "", "", "", result.TotalRows(), result.Duration().Round(time.Millisecond), ""})

	t.SetStyle(table.StyleRounded)
	t.Render()
}

func stageStatus(stage *models.StageResult) string {
	switch {
	case stage.Skipped:
		return "skipped"
	case stage.Resumed:
		return "resumed"
	default:
		return "ran"
	}
}
