package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/poolbet/poolbet/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the time-ranged queries it actually calls, not the full domain store
// interfaces; the Postgres stores satisfy these implicitly.

// ResolutionArchiveStore provides read access to resolutions for archival.
type ResolutionArchiveStore interface {
	// ListBefore returns all resolutions created strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Resolution, error)
}

// LedgerArchiveStore provides read access to ledger entries for archival.
type LedgerArchiveStore interface {
	// ListBefore returns all entries created strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEntry, error)
}

// RoundArchiveStore provides read access to finished rounds for archival.
type RoundArchiveStore interface {
	// ListResolvedBefore returns resolved rounds closed strictly before the
	// cutoff.
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Round, error)
}

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old settlement records, serializing them to JSONL, and uploading the
// result to S3-compatible storage.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer      domain.BlobWriter
	resolutions ResolutionArchiveStore
	ledger      LedgerArchiveStore
	rounds      RoundArchiveStore
	audit       domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	resolutions ResolutionArchiveStore,
	ledger LedgerArchiveStore,
	rounds RoundArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:      writer,
		resolutions: resolutions,
		ledger:      ledger,
		rounds:      rounds,
		audit:       audit,
	}
}

// ArchiveResolutions exports all resolutions before the cutoff to
// archive/resolutions/YYYY-MM.jsonl. The archival event is recorded in the
// audit log and the count of exported records is returned.
func (a *ArchiveImpl) ArchiveResolutions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.resolutions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive resolutions query: %w", err)
	}
	return upload(ctx, a, "resolutions", before, records)
}

// ArchiveLedger exports all ledger entries before the cutoff to
// archive/ledger/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveLedger(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.ledger.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	return upload(ctx, a, "ledger", before, records)
}

// ArchiveRounds exports all resolved rounds closed before the cutoff to
// archive/rounds/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveRounds(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.rounds.ListResolvedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds query: %w", err)
	}
	return upload(ctx, a, "rounds", before, records)
}

// upload serializes the records to JSONL, puts them at the partitioned
// archive path, and records the export in the audit log.
func upload[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/resolutions/2026-08.jsonl
//	archive/ledger/2026-08.jsonl
//	archive/rounds/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
