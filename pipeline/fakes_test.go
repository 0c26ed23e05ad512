package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kchongee/listing-crawler/models"
	"github.com/kchongee/listing-crawler/parser"
	"github.com/kchongee/listing-crawler/scraper"
	"github.com/kchongee/listing-crawler/store"
)

// fakeSite is an in-memory website. Clicking an element moves to its
// href without recording a navigation, like a browser tab would.
type fakeSite struct {
	pages   map[string]*fakePage
	navErr  map[string]error
	findErr map[string]error

	current     string
	navigations []string
	events      *[]string
}

type fakePage struct {
	elements map[string][]scraper.Element
	scripts  []string
}

func newFakeSite(events *[]string) *fakeSite {
	return &fakeSite{
		pages:   make(map[string]*fakePage),
		navErr:  make(map[string]error),
		findErr: make(map[string]error),
		events:  events,
	}
}

// listPage adds url with items links matching "a.item" and, when next
// is set, a pagination link matching "a.next".
func (s *fakeSite) listPage(url string, items []string, next string) {
	page := &fakePage{elements: map[string][]scraper.Element{}}
	for _, item := range items {
		page.elements["a.item"] = append(page.elements["a.item"], scraper.Element{Attrs: map[string]string{"href": item}})
	}
	if next != "" {
		page.elements["a.next"] = []scraper.Element{{Attrs: map[string]string{"href": next}}}
	}
	s.pages[url] = page
}

func (s *fakeSite) Navigate(_ context.Context, url string) error {
	s.navigations = append(s.navigations, url)
	if s.events != nil {
		*s.events = append(*s.events, "navigate "+url)
	}
	if err := s.navErr[url]; err != nil {
		return &scraper.NavigationError{URL: url, Err: err}
	}
	if _, ok := s.pages[url]; !ok {
		return &scraper.NavigationError{URL: url, Err: &scraper.LoadError{Category: scraper.NotFound, Err: errors.New("no such page")}}
	}
	s.current = url
	return nil
}

func (s *fakeSite) FindAll(_ context.Context, selector string) ([]scraper.Element, error) {
	if err := s.findErr[s.current]; err != nil {
		return nil, err
	}
	page := s.pages[s.current]
	if page == nil {
		return nil, scraper.ErrNoPage
	}
	var out []scraper.Element
	for i, el := range page.elements[selector] {
		el.Selector = selector
		el.Index = i
		out = append(out, el)
	}
	return out, nil
}

func (s *fakeSite) FindOne(ctx context.Context, selector string) (*scraper.Element, error) {
	all, err := s.FindAll(ctx, selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return &all[0], nil
}

func (s *fakeSite) Scripts(context.Context) ([]string, error) {
	page := s.pages[s.current]
	if page == nil {
		return nil, scraper.ErrNoPage
	}
	return page.scripts, nil
}

func (s *fakeSite) Click(_ context.Context, el scraper.Element) error {
	href := el.Link()
	if href == "" {
		return fmt.Errorf("click %s: not clickable", el.Selector)
	}
	s.current = href
	return nil
}

func (s *fakeSite) CurrentURL(context.Context) (string, error) {
	return s.current, nil
}

func (s *fakeSite) Close() error { return nil }

// memTabular keeps tables in memory with the same rules as the CSV store.
type memTabular struct {
	tables       map[string]*store.Table
	headerWrites []string
	deduped      []string
	appendErr    error
	events       *[]string
}

func newMemTabular(events *[]string) *memTabular {
	return &memTabular{tables: make(map[string]*store.Table), events: events}
}

func (m *memTabular) ReadColumn(fileID, column string) ([]string, bool) {
	table, ok := m.tables[fileID]
	if !ok {
		return nil, false
	}
	idx := table.ColumnIndex(column)
	if idx < 0 {
		return nil, false
	}
	var values []string
	for _, row := range table.Rows {
		if row[idx] != "" {
			values = append(values, row[idx])
		}
	}
	return values, true
}

func (m *memTabular) WriteHeader(header []string, fileID string) error {
	m.headerWrites = append(m.headerWrites, fileID)
	m.tables[fileID] = &store.Table{Header: header}
	return nil
}

func (m *memTabular) AppendRows(fileID string, rows [][]string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	table, ok := m.tables[fileID]
	if !ok {
		return fmt.Errorf("append to %s: no such table", fileID)
	}
	table.Rows = append(table.Rows, rows...)
	if m.events != nil {
		*m.events = append(*m.events, fmt.Sprintf("append %d", len(rows)))
	}
	return nil
}

func (m *memTabular) Deduplicate(fileID string, _ []string) error {
	m.deduped = append(m.deduped, fileID)
	table, ok := m.tables[fileID]
	if !ok {
		return fmt.Errorf("deduplicate %s: no such table", fileID)
	}
	seen := make(map[string]struct{})
	var kept [][]string
	for _, row := range table.Rows {
		key := strings.Join(row, "\x1f")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	table.Rows = kept
	return nil
}

func (m *memTabular) rows(fileID string) [][]string {
	if table, ok := m.tables[fileID]; ok {
		return table.Rows
	}
	return nil
}

// memCheckpoints mirrors store.CheckpointFile without touching disk.
type memCheckpoints struct {
	record  models.Checkpoint
	saved   []models.Checkpoint
	loads   int
	removed bool
}

func (m *memCheckpoints) Load() (models.Checkpoint, error) {
	m.loads++
	return m.record, nil
}

func (m *memCheckpoints) Save(cp models.Checkpoint) error {
	m.saved = append(m.saved, cp)
	m.record = cp
	return nil
}

func (m *memCheckpoints) Clear() {
	m.record = models.Checkpoint{}
}

func (m *memCheckpoints) Remove() error {
	m.removed = true
	m.record = models.Checkpoint{}
	return nil
}

func mustAction(t *testing.T, kind parser.Kind, selectors []string, patterns ...string) *parser.Action {
	t.Helper()
	action, err := parser.NewAction(kind, selectors, "", patterns)
	if err != nil {
		t.Fatalf("new action: %v", err)
	}
	return action
}

// linkStage is a single-column stage collecting "a.item" hrefs.
func linkStage(t *testing.T, name, input, output, pagination string) Stage {
	return Stage{
		Name:       name,
		Input:      input,
		Output:     output,
		Header:     []string{"Link"},
		Actions:    []*parser.Action{mustAction(t, parser.KindElementsLinks, []string{"a.item"})},
		Pagination: pagination,
	}
}

func urls(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}
