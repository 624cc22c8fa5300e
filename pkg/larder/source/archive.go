package source

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/cognicore/larder/pkg/larder/internalerr"
	"github.com/cognicore/larder/pkg/larder/store"
)

// Shared codecs; EncodeAll and DecodeAll are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Compress encodes a raw document for the archive.
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
}

// Decompress decodes an archived document.
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w: %w", internalerr.ErrParse, err)
	}
	return out, nil
}

// RawArchive is the part of the store that keeps raw documents.
type RawArchive interface {
	GetRaw(ctx context.Context, ref string) (store.RawEntry, error)
}

// Archive replays documents from the raw archive instead of fetching them.
type Archive struct {
	raw RawArchive
}

// NewArchive creates an archive fetcher over raw.
func NewArchive(raw RawArchive) *Archive {
	return &Archive{raw: raw}
}

// Fetch implements Fetcher.
func (a *Archive) Fetch(ctx context.Context, ref string) (Document, error) {
	entry, err := a.raw.GetRaw(ctx, ref)
	if err != nil {
		return Document{}, fmt.Errorf("load archived %s: %w", ref, err)
	}
	body, err := Decompress(entry.Data)
	if err != nil {
		return Document{}, fmt.Errorf("load archived %s: %w", ref, err)
	}
	return Document{
		Ref:       ref,
		Body:      body,
		Kind:      KindFromRef(ref),
		FetchedAt: entry.ArchivedAt,
		Archived:  true,
	}, nil
}
