// Package source loads raw recipe documents from the web, the local
// filesystem or the raw document archive.
package source

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

// Kind tells scrapers how to read a document body.
type Kind string

const (
	KindHTML Kind = "html"
	KindJSON Kind = "json"
)

// Document is a raw source document.
type Document struct {
	Ref       string
	Body      []byte
	Kind      Kind
	FetchedAt time.Time
	// Archived is set when the body was replayed from the raw archive.
	Archived bool
}

// Empty reports whether the document has no content to process.
func (d Document) Empty() bool {
	return len(strings.TrimSpace(string(d.Body))) == 0
}

// Fetcher loads the document behind a reference (URL or path).
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (Document, error)
}

// KindFromRef guesses the kind from a reference's extension. Anything that
// is not JSON is treated as HTML.
func KindFromRef(ref string) Kind {
	p := ref
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if strings.EqualFold(path.Ext(p), ".json") {
		return KindJSON
	}
	return KindHTML
}

func kindFromContentType(ct, ref string) Kind {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		if mt == "application/json" || strings.HasSuffix(mt, "+json") {
			return KindJSON
		}
		if mt == "text/html" || mt == "application/xhtml+xml" {
			return KindHTML
		}
	}
	return KindFromRef(ref)
}

// Router sends http(s) references to Web and everything else to Files.
type Router struct {
	Web   Fetcher
	Files Fetcher
}

// Fetch implements Fetcher.
func (r Router) Fetch(ctx context.Context, ref string) (Document, error) {
	target := r.Files
	if IsURL(ref) {
		target = r.Web
	}
	if target == nil {
		return Document{}, fmt.Errorf("no fetcher for %q: %w", ref, internalerr.ErrInvalidInput)
	}
	return target.Fetch(ctx, ref)
}

// IsURL reports whether ref is an http or https URL.
func IsURL(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
