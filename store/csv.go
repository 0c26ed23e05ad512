// Package store persists stage output, the resume checkpoint and the
// run journal.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrRowWidth is returned when a row does not match the header width.
var ErrRowWidth = errors.New("row width does not match header")

// Table is a fully loaded CSV file.
type Table struct {
	Header []string
	Rows   [][]string
}

// ColumnIndex finds column in the header, ignoring case.
func (t *Table) ColumnIndex(column string) int {
	for i, name := range t.Header {
		if strings.EqualFold(strings.TrimSpace(name), column) {
			return i
		}
	}
	return -1
}

// CSVStore keeps one CSV file per stage output under a data directory.
type CSVStore struct {
	dir    string
	logger *slog.Logger
}

// NewCSVStore creates dir if needed.
func NewCSVStore(dir string, logger *slog.Logger) (*CSVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %q: %w", dir, err)
	}
	return &CSVStore{dir: dir, logger: logger}, nil
}

// FileName appends ".csv" to id unless it already ends with it.
func FileName(id string) string {
	if strings.HasSuffix(strings.ToLower(id), ".csv") {
		return id
	}
	return id + ".csv"
}

// Path returns the file backing fileID.
func (s *CSVStore) Path(fileID string) string {
	return filepath.Join(s.dir, FileName(fileID))
}

// ReadColumn returns the non-empty values of column. The second result
// is false when the file or the column does not exist.
func (s *CSVStore) ReadColumn(fileID, column string) ([]string, bool) {
	table, err := s.ReadTable(fileID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("read column failed",
				slog.String("file", s.Path(fileID)),
				slog.String("column", column),
				slog.Any("error", err),
			)
		}
		return nil, false
	}

	idx := table.ColumnIndex(column)
	if idx < 0 {
		s.logger.Warn("column not found",
			slog.String("file", s.Path(fileID)),
			slog.String("column", column),
		)
		return nil, false
	}

	values := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
			values = append(values, strings.TrimSpace(row[idx]))
		}
	}
	return values, true
}

// WriteHeader truncates fileID and writes header as its only row.
func (s *CSVStore) WriteHeader(header []string, fileID string) error {
	return s.WriteTable(fileID, &Table{Header: header})
}

// AppendRows appends rows to fileID. Every row must be as wide as the
// file's header.
func (s *CSVStore) AppendRows(fileID string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	path := s.Path(fileID)

	header, err := readHeader(path)
	if err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("append to %s: row %d has %d fields for %d columns: %w", path, i, len(row), len(header), ErrRowWidth)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	return f.Close()
}

// Deduplicate rewrites fileID keeping the first row for each distinct
// tuple of keyColumns. Rows empty in every column are dropped.
func (s *CSVStore) Deduplicate(fileID string, keyColumns []string) error {
	table, err := s.ReadTable(fileID)
	if err != nil {
		return fmt.Errorf("deduplicate: %w", err)
	}

	keys := make([]int, 0, len(keyColumns))
	for _, column := range keyColumns {
		idx := table.ColumnIndex(column)
		if idx < 0 {
			return fmt.Errorf("deduplicate %s: unknown column %q", s.Path(fileID), column)
		}
		keys = append(keys, idx)
	}

	seen := make(map[string]struct{}, len(table.Rows))
	kept := table.Rows[:0]
	for _, row := range table.Rows {
		if isBlank(row) {
			continue
		}
		key := rowKey(row, keys)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}

	removed := len(table.Rows) - len(kept)
	table.Rows = kept
	if err := s.WriteTable(fileID, table); err != nil {
		return err
	}
	s.logger.Debug("deduplicated output",
		slog.String("file", s.Path(fileID)),
		slog.Int("kept", len(kept)),
		slog.Int("removed", removed),
	)
	return nil
}

// ReadTable loads fileID completely.
func (s *CSVStore) ReadTable(fileID string) (*Table, error) {
	f, err := os.Open(s.Path(fileID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path(fileID), err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}
	return &Table{Header: records[0], Rows: records[1:]}, nil
}

// WriteTable replaces fileID with t through a temporary file.
func (s *CSVStore) WriteTable(fileID string, t *Table) error {
	path := s.Path(fileID)
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.Write(t.Header); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv records: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return header, nil
}

func rowKey(row []string, keys []int) string {
	parts := make([]string, len(keys))
	for i, idx := range keys {
		if idx < len(row) {
			parts[i] = row[idx]
		}
	}
	return strings.Join(parts, "\x1f")
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
