package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolbet/poolbet/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
// Resolutions are written only inside settlement transactions; this store is
// read-only.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a ResolutionStore backed by the given pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// insertResolution writes the immutable resolution row inside a settlement
// transaction.
func insertResolution(ctx context.Context, q querier, r domain.Resolution) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("postgres: marshal resolution summary: %w", err)
	}

	var marketID, roundID *string
	if r.MarketID != "" {
		marketID = &r.MarketID
	}
	if r.RoundID != "" {
		roundID = &r.RoundID
	}

	_, err = q.Exec(ctx,
		`INSERT INTO resolutions (id, market_id, round_id, outcome, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, marketID, roundID, r.Outcome, summary, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert resolution %s: %w", r.ID, err)
	}
	return nil
}

const resolutionSelectCols = `id, market_id, round_id, outcome, summary, created_at`

func scanResolution(row pgx.Row) (domain.Resolution, error) {
	var r domain.Resolution
	var marketID, roundID *string
	var summary []byte
	err := row.Scan(&r.ID, &marketID, &roundID, &r.Outcome, &summary, &r.CreatedAt)
	if err != nil {
		return domain.Resolution{}, err
	}
	if marketID != nil {
		r.MarketID = *marketID
	}
	if roundID != nil {
		r.RoundID = *roundID
	}
	if err := json.Unmarshal(summary, &r.Summary); err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: unmarshal resolution summary: %w", err)
	}
	return r, nil
}

// GetByMarket returns the resolution record for a market.
func (s *ResolutionStore) GetByMarket(ctx context.Context, marketID string) (domain.Resolution, error) {
	return getResolutionBy(ctx, s.pool, "market_id", marketID)
}

// GetByRound returns the resolution record for a round.
func (s *ResolutionStore) GetByRound(ctx context.Context, roundID string) (domain.Resolution, error) {
	return getResolutionBy(ctx, s.pool, "round_id", roundID)
}

func getResolutionBy(ctx context.Context, q querier, col, id string) (domain.Resolution, error) {
	row := q.QueryRow(ctx,
		`SELECT `+resolutionSelectCols+` FROM resolutions WHERE `+col+` = $1`, id)

	r, err := scanResolution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Resolution{}, domain.ErrNotFound
		}
		return domain.Resolution{}, fmt.Errorf("postgres: get resolution by %s %s: %w", col, id, err)
	}
	return r, nil
}

// ListRecent returns the most recent resolutions.
func (s *ResolutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Resolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionSelectCols+` FROM resolutions ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []domain.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, rows.Err()
}

// ListBefore returns all resolutions created strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *ResolutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Resolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resolutionSelectCols+` FROM resolutions WHERE created_at < $1 ORDER BY created_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolutions before %s: %w", before, err)
	}
	defer rows.Close()

	var resolutions []domain.Resolution
	for rows.Next() {
		r, err := scanResolution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution: %w", err)
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, rows.Err()
}

// Compile-time interface check.
var _ domain.ResolutionStore = (*ResolutionStore)(nil)
