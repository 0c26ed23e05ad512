package pipeline

import (
	"errors"
	"fmt"
)

// ErrMisaligned is returned when a page's fields cannot form rows.
var ErrMisaligned = errors.New("field values do not line up")

// pageResult holds the values each field produced on one page visit,
// in header order.
type pageResult [][]string

// rows zips the fields into rows. A field with a single value is
// repeated on every row; any other length mismatch is an error. An
// empty field yields no rows.
func (p pageResult) rows() ([][]string, error) {
	n := 0
	for _, values := range p {
		if len(values) == 0 {
			return nil, nil
		}
		if len(values) > n {
			n = len(values)
		}
	}
	for i, values := range p {
		if len(values) != 1 && len(values) != n {
			return nil, fmt.Errorf("field %d has %d values, others have %d: %w", i, len(values), n, ErrMisaligned)
		}
	}

	out := make([][]string, n)
	for r := range out {
		row := make([]string, len(p))
		for f, values := range p {
			if len(values) == 1 {
				row[f] = values[0]
			} else {
				row[f] = values[r]
			}
		}
		out[r] = row
	}
	return out, nil
}

// rowBuffer accumulates complete rows between flushes.
type rowBuffer struct {
	width int
	rows  [][]string
}

func newRowBuffer(width int) *rowBuffer {
	return &rowBuffer{width: width}
}

func (b *rowBuffer) add(rows [][]string) {
	b.rows = append(b.rows, rows...)
}

// items counts buffered values across all fields.
func (b *rowBuffer) items() int {
	return len(b.rows) * b.width
}

func (b *rowBuffer) len() int {
	return len(b.rows)
}

func (b *rowBuffer) reset() {
	b.rows = nil
}
