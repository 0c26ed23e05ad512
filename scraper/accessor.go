// Package scraper provides the page engines the crawler drives: a
// headless Chrome session and a static HTML fetcher.
package scraper

import "context"

// Accessor is a single browsing session. Calls are sequential; an
// Accessor is not safe for concurrent use.
type Accessor interface {
	// Navigate loads url. Failures are returned as *NavigationError.
	Navigate(ctx context.Context, url string) error
	// FindAll returns every element matching selector on the current page.
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// FindOne returns the first match, or nil when nothing matches.
	FindOne(ctx context.Context, selector string) (*Element, error)
	// Scripts returns the text of every <script> tag, waiting a bounded
	// time for them to appear. A wait timeout yields an empty slice.
	Scripts(ctx context.Context) ([]string, error)
	// Click activates el.
	Click(ctx context.Context, el Element) error
	// CurrentURL returns the URL of the loaded page.
	CurrentURL(ctx context.Context) (string, error)
	// Close releases the session.
	Close() error
}

// Element is a snapshot of a DOM element. Href and src attributes are
// absolute URLs.
type Element struct {
	Selector string
	Index    int
	Text     string
	Attrs    map[string]string
}

// Attr returns the named attribute.
func (e Element) Attr(name string) (string, bool) {
	value, ok := e.Attrs[name]
	return value, ok
}

// Link is shorthand for the href attribute.
func (e Element) Link() string {
	return e.Attrs["href"]
}
