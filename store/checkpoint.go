package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kchongee/listing-crawler/models"
)

var checkpointHeader = []string{"link_index", "url", "stage_name"}

// CheckpointFile stores a single save point as a one-row CSV file.
//
// Load consumes the file: the first call reads and deletes it, later
// calls return the record held in memory.
type CheckpointFile struct {
	path   string
	loaded bool
	record models.Checkpoint
}

// NewCheckpointFile returns a store backed by path.
func NewCheckpointFile(path string) *CheckpointFile {
	return &CheckpointFile{path: path}
}

// Path returns the backing file.
func (c *CheckpointFile) Path() string {
	return c.path
}

// Load returns the save point, reading and deleting the file on the
// first call. A missing file yields the zero record.
func (c *CheckpointFile) Load() (models.Checkpoint, error) {
	if c.loaded {
		return c.record, nil
	}

	record, found, err := readCheckpoint(c.path)
	if err != nil {
		return models.Checkpoint{}, err
	}
	if found {
		if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return models.Checkpoint{}, fmt.Errorf("remove checkpoint: %w", err)
		}
	}
	c.record = record
	c.loaded = true
	return record, nil
}

// Save overwrites the file and the in-memory record with record.
func (c *CheckpointFile) Save(record models.Checkpoint) error {
	if err := ensureDir(c.path); err != nil {
		return err
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	rows := [][]string{
		checkpointHeader,
		{strconv.Itoa(record.LinkIndex), record.URL, record.StageName},
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}

	c.record = record
	c.loaded = true
	return nil
}

// Clear resets the in-memory record. The file is left alone.
func (c *CheckpointFile) Clear() {
	c.record = models.Checkpoint{}
	c.loaded = true
}

// Peek reads the file without consuming it.
func (c *CheckpointFile) Peek() (models.Checkpoint, bool, error) {
	return readCheckpoint(c.path)
}

// Remove deletes the file and clears the in-memory record.
func (c *CheckpointFile) Remove() error {
	c.Clear()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func readCheckpoint(path string) (models.Checkpoint, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return models.Checkpoint{}, false, nil
	}
	if err != nil {
		return models.Checkpoint{}, false, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return models.Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	if len(records) < 2 {
		return models.Checkpoint{}, true, nil
	}

	header, row := records[0], records[1]
	field := func(names ...string) string {
		for i, column := range header {
			for _, name := range names {
				if strings.EqualFold(strings.TrimSpace(column), name) && i < len(row) {
					return strings.TrimSpace(row[i])
				}
			}
		}
		return ""
	}

	var record models.Checkpoint
	if raw := field("link_index"); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil || index < 0 {
			return models.Checkpoint{}, false, fmt.Errorf("checkpoint %s: invalid link_index %q", path, raw)
		}
		record.LinkIndex = index
	}
	record.URL = field("url")
	record.StageName = field("stage_name", "desc")
	return record, true, nil
}
