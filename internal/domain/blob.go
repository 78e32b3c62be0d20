package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads objects from blob storage.
type BlobReader interface {
	// Get returns the object's content. Returns ErrNotFound if the object
	// does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// BlobDeleter removes objects from blob storage.
type BlobDeleter interface {
	// Delete removes the object at path. Idempotent: missing objects are
	// not an error.
	Delete(ctx context.Context, path string) error
}

// Archiver exports historical settlement data to blob storage. Archival is
// export-only: pruning the primary store is a separate, explicit step taken
// after the archive has been verified.
type Archiver interface {
	// ArchiveResolutions exports resolutions created before the cutoff and
	// returns the number of records written.
	ArchiveResolutions(ctx context.Context, before time.Time) (int64, error)
	// ArchiveLedger exports ledger entries created before the cutoff.
	ArchiveLedger(ctx context.Context, before time.Time) (int64, error)
	// ArchiveRounds exports resolved rounds closed before the cutoff.
	ArchiveRounds(ctx context.Context, before time.Time) (int64, error)
}
