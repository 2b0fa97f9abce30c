package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvrosca/stakepilot/internal/domain"
)

// WagerArchiveStore is the narrow read surface the archiver needs from the
// wager store.
type WagerArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error)
}

// Archiver exports settled wagers to object storage as monthly JSONL files.
// Deletion from the primary store is intentionally not performed here; that
// is a separate, explicit step once an archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	reader *Reader
	wagers WagerArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil, in which case existing
// archives are overwritten rather than skipped.
func NewArchiver(writer domain.BlobWriter, reader *Reader, wagers WagerArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		wagers: wagers,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettled queries all wagers settled before the cutoff, serialises
// them to JSONL, and uploads the file at archive/wagers/YYYY-MM.jsonl. It
// returns the number of records written.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	wagers, err := a.wagers.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers query: %w", err)
	}
	if len(wagers) == 0 {
		return 0, nil
	}

	path := archivePath("wagers", before)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive wagers check %s: %w", path, err)
		}
		if exists {
			a.logger.InfoContext(ctx, "archive already present, skipping",
				slog.String("path", path))
			return 0, nil
		}
	}

	buf, err := marshalJSONL(wagers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers marshal: %w", err)
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive wagers upload: %w", err)
	}

	a.logger.InfoContext(ctx, "settled wagers archived",
		slog.String("path", path),
		slog.Int("count", len(wagers)),
	)
	return int64(len(wagers)), nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/wagers/2026-08.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
