package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the headless Chrome engine.
type ChromeOptions struct {
	Headless   bool
	ExecPath   string
	UserAgent  string
	Timeout    time.Duration
	ScriptWait time.Duration
	ClickWait  time.Duration
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Chrome drives one browser tab through chromedp.
type Chrome struct {
	opts    ChromeOptions
	metrics *Metrics
	logger  *slog.Logger

	tab           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewChrome starts a browser and opens the tab used for the whole run.
func NewChrome(opts ChromeOptions) (*Chrome, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ScriptWait <= 0 {
		opts.ScriptWait = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	flags := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if !opts.Headless {
		flags = append(flags, chromedp.Flag("headless", false))
	}
	if opts.UserAgent != "" {
		flags = append(flags, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		flags = append(flags, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), flags...)
	tab, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run launches the browser process.
	if err := chromedp.Run(tab); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Chrome{
		opts:          opts,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		tab:           tab,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(c.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	err := c.run(ctx, c.opts.Timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	c.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		classified := classifyError(err, 0)
		category := CategoryLabel(classified)
		c.metrics.IncNavigation("chrome", "error")
		c.metrics.IncError(category)
		return &NavigationError{URL: url, Err: classified}
	}
	c.metrics.IncNavigation("chrome", "ok")
	return nil
}

const findAllJS = `(() => {
	const results = [];
	document.querySelectorAll(%q).forEach((el, index) => {
		const attrs = {};
		for (const attr of el.attributes) {
			attrs[attr.name] = attr.value;
		}
		if (typeof el.href === "string" && el.href) attrs.href = el.href;
		if (typeof el.src === "string" && el.src) attrs.src = el.src;
		results.push({index: index, text: (el.innerText || el.textContent || "").trim(), attrs: attrs});
	});
	return JSON.stringify(results);
})()`

type elementSnapshot struct {
	Index int               `json:"index"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs"`
}

func (c *Chrome) FindAll(ctx context.Context, selector string) ([]Element, error) {
	var raw string
	if err := c.run(ctx, c.opts.Timeout, chromedp.Evaluate(fmt.Sprintf(findAllJS, selector), &raw)); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	var snapshots []elementSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshots); err != nil {
		return nil, fmt.Errorf("decode %q results: %w", selector, err)
	}

	elements := make([]Element, 0, len(snapshots))
	for _, snap := range snapshots {
		elements = append(elements, Element{
			Selector: selector,
			Index:    snap.Index,
			Text:     snap.Text,
			Attrs:    snap.Attrs,
		})
	}
	return elements, nil
}

func (c *Chrome) FindOne(ctx context.Context, selector string) (*Element, error) {
	elements, err := c.FindAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, nil
	}
	return &elements[0], nil
}

const scriptsJS = `Array.from(document.querySelectorAll("script")).map(s => s.textContent || "")`

func (c *Chrome) Scripts(ctx context.Context) ([]string, error) {
	err := c.run(ctx, c.opts.ScriptWait, chromedp.WaitReady("script", chromedp.ByQuery))
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			c.logger.Debug("no script tags appeared", slog.Duration("waited", c.opts.ScriptWait))
			return nil, nil
		}
		return nil, fmt.Errorf("wait for scripts: %w", err)
	}

	var scripts []string
	if err := c.run(ctx, c.opts.Timeout, chromedp.Evaluate(scriptsJS, &scripts)); err != nil {
		return nil, fmt.Errorf("read scripts: %w", err)
	}
	return scripts, nil
}

const clickJS = `(() => {
	const el = document.querySelectorAll(%q)[%d];
	if (!el) return false;
	el.click();
	return true;
})()`

func (c *Chrome) Click(ctx context.Context, el Element) error {
	before, err := c.CurrentURL(ctx)
	if err != nil {
		return err
	}

	var clicked bool
	if err := c.run(ctx, c.opts.Timeout, chromedp.Evaluate(fmt.Sprintf(clickJS, el.Selector, el.Index), &clicked)); err != nil {
		c.metrics.IncClick("error")
		return fmt.Errorf("click %s[%d]: %w", el.Selector, el.Index, err)
	}
	if !clicked {
		c.metrics.IncClick("missing")
		return fmt.Errorf("click %s[%d]: element no longer present", el.Selector, el.Index)
	}
	c.metrics.IncClick("ok")
	c.waitForURLChange(ctx, before)
	return nil
}

// waitForURLChange polls the location until it differs from before or
// ClickWait elapses.
func (c *Chrome) waitForURLChange(ctx context.Context, before string) {
	if c.opts.ClickWait <= 0 {
		return
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(c.opts.ClickWait)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		current, err := c.CurrentURL(ctx)
		if err != nil || current == before {
			continue
		}
		if err := c.run(ctx, c.opts.Timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			c.logger.Debug("page after click not ready", slog.String("url", current), slog.Any("error", err))
		}
		return
	}
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := c.run(ctx, c.opts.Timeout, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

// Close shuts the tab and the browser process down.
func (c *Chrome) Close() error {
	c.browserCancel()
	c.allocCancel()
	return nil
}
