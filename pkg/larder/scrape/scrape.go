// Package scrape turns raw recipe documents into structured fields.
//
// A Scraper handles one document format. The Registry picks the first
// scraper that supports a document, so site adapters can be registered
// ahead of the generic ones.
package scrape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/recipe"
	"github.com/cognicore/larder/pkg/larder/source"
)

// Scraped holds the fields extraction consumes. Times are in minutes.
// Instructions is set when the source lists steps; InstructionsText when it
// only has a single blob.
type Scraped struct {
	URL              string
	Title            string
	Description      string
	Language         string
	Yields           string
	Ingredients      []string
	Instructions     []string
	InstructionsText string
	TotalTime        float64
	PrepTime         float64
	CookTime         float64
	Image            string
	Authors          []recipe.Author
	Tags             []string
	Nutrition        *recipe.Nutrition
}

// Scraper extracts recipe fields from one document format.
type Scraper interface {
	Name() string
	Supports(doc source.Document) bool
	Scrape(doc source.Document) (Scraped, error)
}

// Registry dispatches documents to scrapers in registration order.
type Registry struct {
	scrapers []Scraper
}

// NewRegistry creates a registry with scrapers in priority order.
func NewRegistry(scrapers ...Scraper) *Registry {
	return &Registry{scrapers: append([]Scraper(nil), scrapers...)}
}

// Default returns a registry with the generic scrapers.
func Default() *Registry {
	return NewRegistry(LDJSON{}, AllRecipes{})
}

// Register appends s with the lowest priority.
func (r *Registry) Register(s Scraper) {
	r.scrapers = append(r.scrapers, s)
}

// For returns the first scraper supporting doc.
func (r *Registry) For(doc source.Document) (Scraper, bool) {
	for _, s := range r.scrapers {
		if s.Supports(doc) {
			return s, true
		}
	}
	return nil, false
}

// Scrape runs the first supporting scraper on doc.
func (r *Registry) Scrape(doc source.Document) (Scraped, error) {
	s, ok := r.For(doc)
	if !ok {
		return Scraped{}, fmt.Errorf("no scraper for %s (%s): %w", doc.Ref, doc.Kind, internalerr.ErrParse)
	}
	out, err := s.Scrape(doc)
	if err != nil {
		return Scraped{}, fmt.Errorf("%s: %w", s.Name(), err)
	}
	return out, nil
}

// asString reads a JSON scalar as text.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > 0 {
			return asString(t[0])
		}
	case map[string]any:
		for _, k := range []string{"text", "name", "@value", "url"} {
			if s := asString(t[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

// asStrings reads a string or a list of strings.
func asStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := asString(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

var leadingNumber = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// asNumber reads a number or the first number inside a string such as
// "240 kcal".
func asNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		m := leadingNumber.FindString(t)
		if m == "" {
			return 0
		}
		f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// splitKeywords splits comma separated keyword strings.
func splitKeywords(values []string) []string {
	var out []string
	for _, v := range values {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				out = append(out, k)
			}
		}
	}
	return out
}
