package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var journalSchema string

// Stage run statuses recorded in the journal.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// JournalEntry is one stage run.
type JournalEntry struct {
	ID          int64
	RunID       string
	Stage       string
	Status      string
	Links       int
	Pages       int
	FailedPages int
	Rows        int
	Resumed     bool
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
}

// Journal records stage runs in SQLite.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(ctx context.Context, path string) (*Journal, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends entry.
func (j *Journal) Record(ctx context.Context, entry JournalEntry) error {
	_, err := j.db.ExecContext(ctx, `
		insert into stage_run (run_id, stage, status, links, pages, failed_pages, rows_written, resumed, started_at, finished_at, error)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Stage, entry.Status,
		entry.Links, entry.Pages, entry.FailedPages, entry.Rows,
		entry.Resumed,
		entry.StartedAt.UnixMilli(), entry.FinishedAt.UnixMilli(),
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("record stage run: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		select id, run_id, stage, status, links, pages, failed_pages, rows_written, resumed, started_at, finished_at, error
		from stage_run
		order by id desc
		limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			entry             JournalEntry
			started, finished int64
		)
		if err := rows.Scan(
			&entry.ID, &entry.RunID, &entry.Stage, &entry.Status,
			&entry.Links, &entry.Pages, &entry.FailedPages, &entry.Rows,
			&entry.Resumed, &started, &finished, &entry.Error,
		); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entry.StartedAt = time.UnixMilli(started)
		entry.FinishedAt = time.UnixMilli(finished)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
