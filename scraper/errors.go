package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Category classifies a failed page load. It is an error itself so
// callers can match with errors.Is(err, scraper.Timeout).
type Category string

const (
	Timeout     Category = "timeout"
	Connection  Category = "connection"
	Forbidden   Category = "forbidden"
	NotFound    Category = "not_found"
	RateLimited Category = "rate_limited"
)

func (c Category) Error() string { return string(c) }

// LoadError tags the engine's failure with its Category.
type LoadError struct {
	Category Category
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool {
	c, ok := target.(Category)
	return ok && c == e.Category
}

// NavigationError is returned by Accessor.Navigate.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// Type returns the classification label of the failure.
func (e *NavigationError) Type() string {
	return CategoryLabel(e.Err)
}

// ErrNoPage is returned when a page operation runs before any Navigate.
var ErrNoPage = errors.New("no page loaded")

// CategoryLabel returns the category of err for logs and metrics:
// "unknown" for nil and "other" when err carries no Category.
func CategoryLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var le *LoadError
	if errors.As(err, &le) {
		return string(le.Category)
	}
	return "other"
}

// chromeNetErrors maps Chrome's net::ERR_* codes onto categories.
var chromeNetErrors = map[string]Category{
	"ERR_TIMED_OUT":             Timeout,
	"ERR_CONNECTION_TIMED_OUT":  Timeout,
	"ERR_NAME_NOT_RESOLVED":     Connection,
	"ERR_CONNECTION_REFUSED":    Connection,
	"ERR_CONNECTION_RESET":      Connection,
	"ERR_CONNECTION_CLOSED":     Connection,
	"ERR_INTERNET_DISCONNECTED": Connection,
	"ERR_ADDRESS_UNREACHABLE":   Connection,
}

var statusCategories = map[int]Category{
	http.StatusForbidden:       Forbidden,
	http.StatusNotFound:        NotFound,
	http.StatusTooManyRequests: RateLimited,
}

// classifyError wraps a navigation failure in a LoadError when its
// category is known. statusCode is the HTTP status, or 0 when none.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("http status %d", statusCode)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &LoadError{Category: Timeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &LoadError{Category: Connection, Err: err}
	}

	msg := err.Error()
	for code, category := range chromeNetErrors {
		if strings.Contains(msg, code) {
			return &LoadError{Category: category, Err: err}
		}
	}
	if category, ok := statusCategories[statusCode]; ok {
		return &LoadError{Category: category, Err: err}
	}
	return err
}
