package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/pipeline"
	"github.com/cognicore/larder/pkg/larder/source"
)

// FetchStage loads the document behind each string reference. Blank
// references are skipped.
func FetchStage(f source.Fetcher) pipeline.ProcessFunc {
	return func(ctx context.Context, in any) (any, error) {
		ref, ok := in.(string)
		if !ok {
			return nil, fmt.Errorf("fetch: unexpected input %T: %w", in, internalerr.ErrInvalidInput)
		}
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, nil
		}
		doc, err := f.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
}
