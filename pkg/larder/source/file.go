package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cognicore/larder/pkg/larder/internalerr"
)

// File reads documents from the local filesystem. A "file://" prefix on the
// reference is accepted.
type File struct{}

// Fetch implements Fetcher.
func (File) Fetch(ctx context.Context, ref string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	path := strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if path == "" {
		return Document{}, fmt.Errorf("read file: empty path: %w", internalerr.ErrInvalidInput)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, fmt.Errorf("read %s: %w", path, internalerr.ErrNotFound)
		}
		return Document{}, fmt.Errorf("read %s: %w: %w", path, internalerr.ErrFetch, err)
	}

	return Document{
		Ref:       ref,
		Body:      body,
		Kind:      KindFromRef(path),
		FetchedAt: time.Now().UTC(),
	}, nil
}
