package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"

	"github.com/kchongee/listing-crawler/models"
	"github.com/kchongee/listing-crawler/parser"
	"github.com/kchongee/listing-crawler/scraper"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(site *fakeSite, tab *memTabular, cps *memCheckpoints, maxPages int) *Runner {
	return NewRunner(site, tab, cps, RunnerOptions{MaxPagesPerLink: maxPages, Logger: quietLogger()})
}

func TestRunnerColdStartWritesHeaderAndRows(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a", "https://x/b"}, "")
	site.listPage("https://x/l1", []string{"https://x/b", "https://x/c"}, "")
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 1", "", "out", "")
	result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/l0", "https://x/l1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if diff := cmp.Diff([]string{"out"}, tab.headerWrites); diff != "" {
		t.Fatalf("header writes mismatch (-want +got):\n%s", diff)
	}
	want := [][]string{{"https://x/a"}, {"https://x/b"}, {"https://x/c"}}
	if diff := cmp.Diff(want, tab.rows("out")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"out"}, tab.deduped); diff != "" {
		t.Fatalf("dedupe calls mismatch (-want +got):\n%s", diff)
	}
	if result.Pages != 2 || result.Rows != 4 || result.Resumed {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/page2", []string{"https://x/p2-item"}, "")
	site.listPage("https://x/l4", []string{"https://x/l4-item"}, "")
	tab := newMemTabular(nil)
	if err := tab.WriteHeader([]string{"Link"}, "out"); err != nil {
		t.Fatal(err)
	}
	tab.headerWrites = nil
	cps := &memCheckpoints{record: models.Checkpoint{LinkIndex: 3, URL: "https://x/page2", StageName: "Step 3"}}

	stage := linkStage(t, "Step 3", "in", "out", "")
	links := urls("https://x/l", 5)
	result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, links)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if diff := cmp.Diff([]string{"https://x/page2", "https://x/l4"}, site.navigations); diff != "" {
		t.Fatalf("navigations mismatch (-want +got):\n%s", diff)
	}
	if len(tab.headerWrites) != 0 {
		t.Fatalf("resumed run must not rewrite the header, got %v", tab.headerWrites)
	}
	if !result.Resumed {
		t.Fatal("expected result to be marked resumed")
	}
	if !cps.record.IsZero() {
		t.Fatalf("checkpoint should be cleared after resuming, got %+v", cps.record)
	}
}

func TestRunnerIgnoresCheckpointOfOtherStage(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a"}, "")
	tab := newMemTabular(nil)
	cps := &memCheckpoints{record: models.Checkpoint{LinkIndex: 4, URL: "https://x/elsewhere", StageName: "Step 4"}}

	stage := linkStage(t, "Step 2", "", "out", "")
	if _, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/l0"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"https://x/l0"}, site.navigations); diff != "" {
		t.Fatalf("navigations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"out"}, tab.headerWrites); diff != "" {
		t.Fatalf("header writes mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerDiscardsIncompletePages(t *testing.T) {
	site := newFakeSite(nil)
	nameOnly := func(url, name string, scripts ...string) {
		site.pages[url] = &fakePage{
			elements: map[string][]scraper.Element{},
			scripts:  scripts,
		}
		if name != "" {
			site.pages[url].elements["h4.name"] = []scraper.Element{{Text: name}}
		}
	}
	nameOnly("https://x/v1", "Acme", `var phone = "60312345678";`)
	nameOnly("https://x/v2", "NoPhone", `var x = 1;`)
	nameOnly("https://x/v3", "", `var phone = "60387654321";`)

	tab := newMemTabular(nil)
	cps := &memCheckpoints{}
	stage := Stage{
		Name:   "Step 4",
		Output: "vendors",
		Header: []string{"Name", "Contact"},
		Actions: []*parser.Action{
			mustAction(t, parser.KindElementText, []string{"h4.name"}),
			mustAction(t, parser.KindScriptRegex, nil, `60[2-9]\d{8}`),
		},
	}

	result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/v1", "https://x/v2", "https://x/v3"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := [][]string{{"Acme", "60312345678"}}
	if diff := cmp.Diff(want, tab.rows("vendors")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if result.EmptyPages != 2 {
		t.Fatalf("expected 2 empty pages, got %d", result.EmptyPages)
	}
	if len(cps.saved) != 0 {
		t.Fatalf("empty pages must not save checkpoints, got %v", cps.saved)
	}
}

func TestRunnerFlushThreshold(t *testing.T) {
	tests := []struct {
		name      string
		firstPage int
		want      []string
	}{
		{
			name:      "above threshold flushes before next page",
			firstPage: FlushThreshold + 1,
			want:      []string{"navigate https://x/list", "append 51", "navigate https://x/list?page=2", "append 10"},
		},
		{
			name:      "at threshold waits for end of link",
			firstPage: FlushThreshold,
			want:      []string{"navigate https://x/list", "navigate https://x/list?page=2", "append 60"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []string
			site := newFakeSite(&events)
			site.listPage("https://x/list", urls("https://x/first/", tt.firstPage), "https://x/list?page=2")
			site.listPage("https://x/list?page=2", urls("https://x/second/", 10), "")
			tab := newMemTabular(&events)
			cps := &memCheckpoints{}

			stage := linkStage(t, "Step 2", "", "out", "a.next")
			result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/list"})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if diff := cmp.Diff(tt.want, events); diff != "" {
				t.Fatalf("events mismatch (-want +got):\n%s", diff)
			}
			if result.Rows != tt.firstPage+10 {
				t.Fatalf("expected %d rows, got %d", tt.firstPage+10, result.Rows)
			}
		})
	}
}

func TestRunnerExtractionErrorSavesCheckpointAndContinues(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a"}, "")
	site.listPage("https://x/l1", []string{"https://x/b"}, "")
	site.findErr["https://x/l0"] = errors.New("node detached")
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "")
	result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/l0", "https://x/l1"})
	if err != nil {
		t.Fatalf("extraction errors must not stop the stage: %v", err)
	}

	wantSaved := []models.Checkpoint{{LinkIndex: 0, URL: "https://x/l0", StageName: "Step 2"}}
	if diff := cmp.Diff(wantSaved, cps.saved); diff != "" {
		t.Fatalf("saved checkpoints mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"https://x/b"}}, tab.rows("out")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if result.FailedPages != 1 {
		t.Fatalf("expected 1 failed page, got %d", result.FailedPages)
	}
}

func TestRunnerMisalignedFieldsFailPage(t *testing.T) {
	site := newFakeSite(nil)
	site.pages["https://x/l0"] = &fakePage{elements: map[string][]scraper.Element{
		"a.item": {{Attrs: map[string]string{"href": "https://x/1"}}, {Attrs: map[string]string{"href": "https://x/2"}}},
		"span.t": {{Text: "a"}, {Text: "b"}, {Text: "c"}},
	}}
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}
	stage := Stage{
		Name:   "Step 2",
		Output: "out",
		Header: []string{"Link", "Title"},
		Actions: []*parser.Action{
			mustAction(t, parser.KindElementsLinks, []string{"a.item"}),
			mustAction(t, parser.KindElementsTexts, []string{"span.t"}),
		},
	}

	result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/l0"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.FailedPages != 1 || len(cps.saved) != 1 {
		t.Fatalf("expected a failed page with a checkpoint, got result %+v saved %v", result, cps.saved)
	}
	if len(tab.rows("out")) != 0 {
		t.Fatalf("misaligned page must not produce rows, got %v", tab.rows("out"))
	}
}

func TestRunnerNavigationFailureIsFatal(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a"}, "")
	site.listPage("https://x/l1", []string{"https://x/b", "https://x/c"}, "https://x/l1?page=2")
	site.listPage("https://x/l1?page=2", []string{"https://x/d"}, "")
	site.listPage("https://x/l2", []string{"https://x/e"}, "")
	site.navErr["https://x/l1?page=2"] = &scraper.LoadError{Category: scraper.Timeout, Err: context.DeadlineExceeded}
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "a.next")
	_, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, urls("https://x/l", 3))

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	want := models.Checkpoint{LinkIndex: 1, URL: "https://x/l1?page=2", StageName: "Step 2"}
	if fatal.Checkpoint != want {
		t.Fatalf("fatal checkpoint = %+v, want %+v", fatal.Checkpoint, want)
	}
	if got := cps.saved[len(cps.saved)-1]; got != want {
		t.Fatalf("saved checkpoint = %+v, want %+v", got, want)
	}
	if !errors.Is(err, scraper.Timeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the navigation cause to be preserved, got %v", err)
	}

	wantRows := [][]string{{"https://x/a"}, {"https://x/b"}, {"https://x/c"}}
	if diff := cmp.Diff(wantRows, tab.rows("out")); diff != "" {
		t.Fatalf("buffered rows should be flushed before aborting (-want +got):\n%s", diff)
	}
	for _, nav := range site.navigations {
		if nav == "https://x/l2" {
			t.Fatal("run continued after a fatal error")
		}
	}
	if len(tab.deduped) != 0 {
		t.Fatal("aborted stage must not deduplicate")
	}
}

func TestRunnerStaticPaginationFailureIsFatal(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://shop.test/list", httpmock.NewStringResponder(http.StatusOK,
		`<html><body><a class="item" href="/v/1">One</a><a class="next" href="/list?page=2">Next</a></body></html>`))
	transport.RegisterResponder("GET", "http://shop.test/list?page=2", httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))
	transport.RegisterResponder("GET", "http://shop.test/other", httpmock.NewStringResponder(http.StatusOK, "<html></html>"))

	page, err := scraper.NewStatic(scraper.StaticOptions{Timeout: time.Second, Transport: transport, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new static: %v", err)
	}
	defer page.Close()
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "a.next")
	runner := NewRunner(page, tab, cps, RunnerOptions{Logger: quietLogger()})
	_, err = runner.Run(context.Background(), stage, []string{"http://shop.test/list", "http://shop.test/other"})

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	want := models.Checkpoint{LinkIndex: 0, URL: "http://shop.test/list?page=2", StageName: "Step 2"}
	if fatal.Checkpoint != want {
		t.Fatalf("fatal checkpoint = %+v, want %+v", fatal.Checkpoint, want)
	}
	if diff := cmp.Diff([]models.Checkpoint{want}, cps.saved); diff != "" {
		t.Fatalf("saved checkpoints mismatch (-want +got):\n%s", diff)
	}
	var navErr *scraper.NavigationError
	if !errors.As(err, &navErr) {
		t.Fatalf("expected a NavigationError cause, got %v", err)
	}
	if diff := cmp.Diff([][]string{{"http://shop.test/v/1"}}, tab.rows("out")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	info := transport.GetCallCountInfo()
	if n := info["GET http://shop.test/list"]; n != 1 {
		t.Fatalf("first page fetched %d times, want 1", n)
	}
	if n := info["GET http://shop.test/other"]; n != 0 {
		t.Fatal("run continued to the next link after a fatal error")
	}
}

// cancelOnClick cancels the run while the pagination click is in flight.
type cancelOnClick struct {
	*fakeSite
	cancel context.CancelFunc
}

func (c *cancelOnClick) Click(context.Context, scraper.Element) error {
	c.cancel()
	return context.Canceled
}

func TestRunnerCancelDuringPaginationKeepsLink(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a"}, "https://x/l0?page=2")
	site.listPage("https://x/l0?page=2", []string{"https://x/b"}, "")
	site.listPage("https://x/l1", []string{"https://x/c"}, "")
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page := &cancelOnClick{fakeSite: site, cancel: cancel}

	stage := linkStage(t, "Step 2", "", "out", "a.next")
	runner := NewRunner(page, tab, cps, RunnerOptions{Logger: quietLogger()})
	_, err := runner.Run(ctx, stage, urls("https://x/l", 2))

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	want := models.Checkpoint{LinkIndex: 0, URL: "https://x/l0", StageName: "Step 2"}
	if fatal.Checkpoint != want {
		t.Fatalf("fatal checkpoint = %+v, want %+v", fatal.Checkpoint, want)
	}
	if diff := cmp.Diff([]string{"https://x/l0"}, site.navigations); diff != "" {
		t.Fatalf("navigations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"https://x/a"}}, tab.rows("out")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerFlushFailureIsFatal(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a"}, "")
	tab := newMemTabular(nil)
	tab.appendErr = errors.New("disk full")
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "")
	_, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/l0"})

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fatal.Checkpoint.URL != "https://x/l0" || fatal.Checkpoint.LinkIndex != 0 {
		t.Fatalf("unexpected checkpoint: %+v", fatal.Checkpoint)
	}
}

func TestRunnerStopsWhenPaginationDoesNotAdvance(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a"}, "")
	// A pagination element without href cannot be clicked.
	site.pages["https://x/l0"].elements["a.next"] = []scraper.Element{{Text: "Next"}}
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "a.next")
	result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/l0"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"https://x/l0"}, site.navigations); diff != "" {
		t.Fatalf("navigations mismatch (-want +got):\n%s", diff)
	}
	if result.Rows != 1 {
		t.Fatalf("expected the page's row to be flushed, got %d rows", result.Rows)
	}
}

func TestRunnerMaxPagesPerLink(t *testing.T) {
	site := newFakeSite(nil)
	for i := 1; i <= 5; i++ {
		site.listPage(fmt.Sprintf("https://x/p%d", i), []string{fmt.Sprintf("https://x/item%d", i)}, fmt.Sprintf("https://x/p%d", i+1))
	}
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "a.next")
	result, err := newTestRunner(site, tab, cps, 2).Run(context.Background(), stage, []string{"https://x/p1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]string{"https://x/p1", "https://x/p2"}, site.navigations); diff != "" {
		t.Fatalf("navigations mismatch (-want +got):\n%s", diff)
	}
	if result.Rows != 2 {
		t.Fatalf("expected 2 rows, got %d", result.Rows)
	}
}

func TestRunnerStripQuery(t *testing.T) {
	site := newFakeSite(nil)
	site.listPage("https://x/l0", []string{"https://x/a?ref=home", "https://x/a?ref=side", "https://x/b"}, "")
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "")
	stage.StripQuery = true
	if _, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, []string{"https://x/l0"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := [][]string{{"https://x/a"}, {"https://x/b"}}
	if diff := cmp.Diff(want, tab.rows("out")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRunnerEmptyLinkList(t *testing.T) {
	site := newFakeSite(nil)
	tab := newMemTabular(nil)
	cps := &memCheckpoints{}

	stage := linkStage(t, "Step 2", "", "out", "")
	result, err := newTestRunner(site, tab, cps, 0).Run(context.Background(), stage, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(site.navigations) != 0 || result.Rows != 0 {
		t.Fatalf("expected no work, got navigations %v result %+v", site.navigations, result)
	}
	if diff := cmp.Diff([]string{"Link"}, tab.tables["out"].Header); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
}
