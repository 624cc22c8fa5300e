package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/pipeline"
	"github.com/cognicore/larder/pkg/larder/source"
)

// RawStore is the archive half of the persistence gateway.
type RawStore interface {
	ArchiveRaw(ctx context.Context, ref string, data []byte) error
	HasRaw(ctx context.Context, ref string) (bool, error)
}

// ArchiveStage stores the compressed body of every fetched HTML document
// and passes the document on unchanged. Replayed documents and documents
// already in the archive are not written again. A failed write is logged and
// does not drop the document unless the store is unavailable.
func ArchiveStage(raw RawStore, logger *zap.Logger) pipeline.ProcessFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, in any) (any, error) {
		doc, ok := in.(source.Document)
		if !ok {
			return nil, fmt.Errorf("archive: unexpected input %T: %w", in, internalerr.ErrInvalidInput)
		}
		if doc.Archived || doc.Kind != source.KindHTML || doc.Empty() {
			return doc, nil
		}

		if err := archive(ctx, raw, doc); err != nil {
			if internalerr.IsFatal(err) {
				return nil, err
			}
			logger.Warn("archive failed", zap.String("ref", doc.Ref), zap.Error(err))
		}
		return doc, nil
	}
}

func archive(ctx context.Context, raw RawStore, doc source.Document) error {
	seen, err := raw.HasRaw(ctx, doc.Ref)
	if err != nil {
		return fmt.Errorf("check archive %s: %w", doc.Ref, err)
	}
	if seen {
		return nil
	}
	if err := raw.ArchiveRaw(ctx, doc.Ref, source.Compress(doc.Body)); err != nil {
		return fmt.Errorf("archive %s: %w", doc.Ref, err)
	}
	return nil
}
