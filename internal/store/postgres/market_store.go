package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolbet/poolbet/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so scan helpers can
// run against the pool or inside a settlement transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (id, title, options, status, fee_bps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Title, m.Options, string(m.Status), m.FeeBps, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

const marketSelectCols = `id, title, options, status, outcome, fee_bps,
	created_at, closed_at, resolved_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ID, &m.Title, &m.Options, &status, &m.Outcome, &m.FeeBps,
		&m.CreatedAt, &m.ClosedAt, &m.ResolvedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// GetByID retrieves a single market by ID.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(ctx, s.pool, id, false)
}

// getMarket loads a market, optionally taking a row lock. Used both by the
// plain store reads and by the settlement transactions.
func getMarket(ctx context.Context, q querier, id string, forUpdate bool) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	m, err := scanMarket(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets filtered by status (empty status means all), newest
// first.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Close moves an open market to closed. The status predicate makes the
// transition race-safe: a concurrent resolve or a second close finds zero
// rows and reports the precondition failure instead of clobbering state.
func (s *MarketStore) Close(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $1, closed_at = NOW() WHERE id = $2 AND status = $3`,
		string(domain.MarketStatusClosed), id, string(domain.MarketStatusOpen),
	)
	if err != nil {
		return fmt.Errorf("postgres: close market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrMarketNotOpen
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
