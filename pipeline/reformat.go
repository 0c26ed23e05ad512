package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kchongee/listing-crawler/store"
)

// TableStore reads and replaces whole tables.
type TableStore interface {
	ReadTable(fileID string) (*store.Table, error)
	WriteTable(fileID string, t *store.Table) error
}

// ReformatOptions describes a reformat pass.
type ReformatOptions struct {
	Input          string
	Output         string
	NameColumn     string
	ContactColumns []string
	ContactHeader  string
}

// Reformat turns one row per vendor with several contact columns into
// one (name, contact) row per contact. Rows missing either value are
// dropped, duplicates removed and the result sorted by name. It returns
// the number of rows written.
func Reformat(tables TableStore, opts ReformatOptions) (int, error) {
	in, err := tables.ReadTable(opts.Input)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", opts.Input, err)
	}

	nameIdx := in.ColumnIndex(opts.NameColumn)
	if nameIdx < 0 {
		return 0, fmt.Errorf("%s: column %q not found", opts.Input, opts.NameColumn)
	}
	contactIdx := make([]int, 0, len(opts.ContactColumns))
	for _, column := range opts.ContactColumns {
		idx := in.ColumnIndex(column)
		if idx < 0 {
			return 0, fmt.Errorf("%s: column %q not found", opts.Input, column)
		}
		contactIdx = append(contactIdx, idx)
	}

	seen := make(map[[2]string]struct{})
	var rows [][]string
	for _, idx := range contactIdx {
		for _, row := range in.Rows {
			name, contact := cell(row, nameIdx), cell(row, idx)
			if name == "" || contact == "" {
				continue
			}
			key := [2]string{name, contact}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			rows = append(rows, []string{name, contact})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	header := []string{in.Header[nameIdx], opts.ContactHeader}
	if err := tables.WriteTable(opts.Output, &store.Table{Header: header, Rows: rows}); err != nil {
		return 0, fmt.Errorf("write %s: %w", opts.Output, err)
	}
	return len(rows), nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
