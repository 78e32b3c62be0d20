package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolbet/poolbet/internal/domain"
)

type memWriter struct {
	path        string
	contentType string
	data        []byte
}

func (w *memWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path = path
	w.contentType = contentType
	w.data = buf
	return nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memArchiveStore struct {
	resolutions []domain.Resolution
}

func (s *memArchiveStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Resolution, error) {
	return s.resolutions, nil
}

type memLedgerArchive struct{ entries []domain.LedgerEntry }

func (s *memLedgerArchive) ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	return s.entries, nil
}

type memRoundArchive struct{ rounds []domain.Round }

func (s *memRoundArchive) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Round, error) {
	return s.rounds, nil
}

func TestArchiveResolutions(t *testing.T) {
	writer := &memWriter{}
	audit := &memAudit{}
	a := NewArchiver(writer,
		&memArchiveStore{resolutions: []domain.Resolution{
			{ID: "res-1", MarketID: "m-1", Outcome: "yes"},
			{ID: "res-2", RoundID: "r-1", Outcome: "up"},
		}},
		&memLedgerArchive{}, &memRoundArchive{}, audit)

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	count, err := a.ArchiveResolutions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	assert.Equal(t, "archive/resolutions/2026-08.jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)
	lines := strings.Split(strings.TrimSpace(string(writer.data)), "\n")
	assert.Len(t, lines, 2)
	assert.True(t, bytes.HasPrefix([]byte(lines[0]), []byte("{")))

	assert.Equal(t, []string{"archive.resolutions"}, audit.events)
}

func TestArchiveSkipsEmpty(t *testing.T) {
	writer := &memWriter{}
	audit := &memAudit{}
	a := NewArchiver(writer, &memArchiveStore{}, &memLedgerArchive{}, &memRoundArchive{}, audit)

	count, err := a.ArchiveLedger(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.path)
	assert.Empty(t, audit.events)
}

func TestArchivePathPartitionedByMonth(t *testing.T) {
	cutoff := time.Date(2025, 12, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/rounds/2025-12.jsonl", archivePath("rounds", cutoff))
}
