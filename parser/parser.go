// Package parser turns page elements into field values. Extraction
// actions are looked up in a fixed registry when a stage is built, so a
// misspelled action fails before any page is loaded.
package parser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kchongee/listing-crawler/scraper"
)

// Kind identifies an extraction action.
type Kind string

const (
	KindElementsLinks Kind = "elements_links"
	KindElementsTexts Kind = "elements_texts"
	KindElementsAttrs Kind = "elements_attrs"
	KindElementLink   Kind = "element_link"
	KindElementText   Kind = "element_text"
	KindElementAttr   Kind = "element_attr"
	KindScriptRegex   Kind = "script_regex"
)

// ErrUnknownAction is returned for an action kind missing from the registry.
var ErrUnknownAction = errors.New("unknown action")

type extractor func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error)

var registry = map[Kind]extractor{
	KindElementsLinks: func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error) {
		return collectAll(ctx, page, a.Selectors, attrValue("href"))
	},
	KindElementsTexts: func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error) {
		return collectAll(ctx, page, a.Selectors, textValue)
	},
	KindElementsAttrs: func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error) {
		return collectAll(ctx, page, a.Selectors, attrValue(a.Attr))
	},
	KindElementLink: func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error) {
		return collectFirst(ctx, page, a.Selectors, attrValue("href"))
	},
	KindElementText: func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error) {
		return collectFirst(ctx, page, a.Selectors, textValue)
	},
	KindElementAttr: func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error) {
		return collectFirst(ctx, page, a.Selectors, attrValue(a.Attr))
	},
	KindScriptRegex: func(ctx context.Context, page scraper.Accessor, a *Action) ([]string, error) {
		scripts, err := page.Scripts(ctx)
		if err != nil {
			return nil, err
		}
		if value, ok := MatchScripts(scripts, a.Patterns); ok {
			return []string{value}, nil
		}
		return nil, nil
	},
}

// Kinds lists the registered action kinds in sorted order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Action is a resolved extraction action bound to its parameters.
type Action struct {
	Kind      Kind
	Selectors []string
	Attr      string
	Patterns  []*regexp.Regexp

	extract extractor
}

// NewAction resolves kind against the registry and compiles patterns.
func NewAction(kind Kind, selectors []string, attr string, patterns []string) (*Action, error) {
	extract, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownAction, kind, Kinds())
	}

	a := &Action{Kind: kind, Selectors: selectors, Attr: attr, extract: extract}
	switch kind {
	case KindScriptRegex:
		if len(patterns) == 0 {
			return nil, fmt.Errorf("%s: at least one pattern is required", kind)
		}
		for _, pattern := range patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%s: compile %q: %w", kind, pattern, err)
			}
			a.Patterns = append(a.Patterns, re)
		}
		return a, nil
	case KindElementsAttrs, KindElementAttr:
		if attr == "" {
			return nil, fmt.Errorf("%s: attr is required", kind)
		}
	}
	if len(selectors) == 0 {
		return nil, fmt.Errorf("%s: at least one selector is required", kind)
	}
	return a, nil
}

// Extract runs the action against the loaded page. A nil or empty
// result means nothing matched.
func (a *Action) Extract(ctx context.Context, page scraper.Accessor) ([]string, error) {
	values, err := a.extract(ctx, page, a)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.Kind, err)
	}
	return values, nil
}

func (a *Action) String() string {
	if a.Kind == KindScriptRegex {
		return fmt.Sprintf("%s(%d patterns)", a.Kind, len(a.Patterns))
	}
	return fmt.Sprintf("%s(%s)", a.Kind, strings.Join(a.Selectors, ", "))
}

type valueFunc func(scraper.Element) string

func textValue(el scraper.Element) string {
	return NormalizeText(el.Text)
}

func attrValue(name string) valueFunc {
	return func(el scraper.Element) string {
		value, _ := el.Attr(name)
		return strings.TrimSpace(value)
	}
}

// collectAll gathers the value of every element matched by every selector.
func collectAll(ctx context.Context, page scraper.Accessor, selectors []string, value valueFunc) ([]string, error) {
	var out []string
	for _, selector := range selectors {
		elements, err := page.FindAll(ctx, selector)
		if err != nil {
			return nil, err
		}
		for _, el := range elements {
			if v := value(el); v != "" {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// collectFirst returns the value of the first element found, trying
// selectors in order.
func collectFirst(ctx context.Context, page scraper.Accessor, selectors []string, value valueFunc) ([]string, error) {
	for _, selector := range selectors {
		el, err := page.FindOne(ctx, selector)
		if err != nil {
			return nil, err
		}
		if el == nil {
			continue
		}
		if v := value(*el); v != "" {
			return []string{v}, nil
		}
	}
	return nil, nil
}
