package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// StaticOptions configures the HTML-only engine.
type StaticOptions struct {
	UserAgent string
	// Timeout bounds each fetch. colly's Visit takes no context, so a
	// fetch already in flight runs until it completes or times out.
	Timeout time.Duration
	// CacheSize bounds the number of parsed pages kept; 0 disables caching.
	CacheSize int
	Transport http.RoundTripper
	Metrics   *Metrics
	Logger    *slog.Logger
}

type staticPage struct {
	url *url.URL
	doc *goquery.Document
}

// Static fetches pages with colly and queries them with goquery. It
// runs no JavaScript, so Click moves the location to the element's href
// and the next Navigate loads it.
type Static struct {
	collector *colly.Collector
	cache     *lru.Cache[string, *staticPage]
	metrics   *Metrics
	logger    *slog.Logger

	current  *staticPage
	location *url.URL
}

// NewStatic builds a static engine.
func NewStatic(opts StaticOptions) (*Static, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	if opts.UserAgent != "" {
		collector.UserAgent = opts.UserAgent
	}
	collector.SetRequestTimeout(opts.Timeout)
	if opts.Transport != nil {
		collector.WithTransport(opts.Transport)
	}

	s := &Static{
		collector: collector,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, *staticPage](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create page cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return &NavigationError{URL: rawURL, Err: err}
	}
	if s.cache != nil {
		if page, ok := s.cache.Get(rawURL); ok {
			s.metrics.IncCacheHit()
			s.current = page
			s.location = page.url
			return nil
		}
	}

	page, err := s.fetch(rawURL)
	if err != nil {
		return err
	}
	s.current = page
	s.location = page.url
	if s.cache != nil {
		s.cache.Add(rawURL, page)
	}
	return nil
}

func (s *Static) fetch(rawURL string) (*staticPage, error) {
	var (
		body       []byte
		finalURL   *url.URL
		statusCode int
	)

	c := s.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		finalURL = r.Request.URL
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
	})

	start := time.Now()
	err := c.Visit(rawURL)
	s.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		classified := classifyError(err, statusCode)
		category := CategoryLabel(classified)
		s.metrics.IncNavigation("static", "error")
		s.metrics.IncError(category)
		s.logger.Debug("static fetch failed",
			slog.String("url", rawURL),
			slog.Int("status", statusCode),
			slog.String("category", category),
		)
		return nil, &NavigationError{URL: rawURL, Err: classified}
	}
	s.metrics.IncNavigation("static", "ok")

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &NavigationError{URL: rawURL, Err: fmt.Errorf("parse html: %w", err)}
	}
	if finalURL == nil {
		finalURL, _ = url.Parse(rawURL)
	}
	doc.Url = finalURL
	return &staticPage{url: finalURL, doc: doc}, nil
}

func (s *Static) FindAll(_ context.Context, selector string) ([]Element, error) {
	if s.current == nil {
		return nil, ErrNoPage
	}

	var elements []Element
	s.current.doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		attrs := make(map[string]string)
		if node := sel.Get(0); node != nil {
			for _, attr := range node.Attr {
				attrs[attr.Key] = attr.Val
			}
		}
		for _, key := range []string{"href", "src"} {
			if value, ok := attrs[key]; ok {
				attrs[key] = s.resolve(value)
			}
		}
		elements = append(elements, Element{
			Selector: selector,
			Index:    i,
			Text:     strings.TrimSpace(sel.Text()),
			Attrs:    attrs,
		})
	})
	return elements, nil
}

func (s *Static) FindOne(ctx context.Context, selector string) (*Element, error) {
	elements, err := s.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, nil
	}
	return &elements[0], nil
}

// Scripts returns immediately; a static document has no late scripts.
func (s *Static) Scripts(_ context.Context) ([]string, error) {
	if s.current == nil {
		return nil, ErrNoPage
	}
	var scripts []string
	s.current.doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		scripts = append(scripts, sel.Text())
	})
	return scripts, nil
}

// Click does not fetch. A failed load of the target then surfaces from
// the caller's Navigate as a NavigationError.
func (s *Static) Click(_ context.Context, el Element) error {
	if s.current == nil {
		return ErrNoPage
	}
	href := el.Link()
	if href == "" || strings.HasPrefix(href, "javascript:") {
		s.metrics.IncClick("missing")
		return fmt.Errorf("click %s[%d]: element has no followable href", el.Selector, el.Index)
	}
	target, err := s.current.url.Parse(strings.TrimSpace(href))
	if err != nil {
		s.metrics.IncClick("error")
		return fmt.Errorf("click %s[%d]: %w", el.Selector, el.Index, err)
	}
	s.location = target
	s.metrics.IncClick("ok")
	return nil
}

func (s *Static) CurrentURL(_ context.Context) (string, error) {
	if s.location == nil {
		return "", ErrNoPage
	}
	return s.location.String(), nil
}

// Close drops the page cache.
func (s *Static) Close() error {
	if s.cache != nil {
		s.cache.Purge()
	}
	s.current = nil
	s.location = nil
	return nil
}

func (s *Static) resolve(ref string) string {
	parsed, err := s.current.url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return parsed.String()
}

var (
	_ Accessor = (*Static)(nil)
	_ Accessor = (*Chrome)(nil)
)
