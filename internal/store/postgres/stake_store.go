package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolbet/poolbet/internal/domain"
)

// StakeStore implements domain.StakeStore using PostgreSQL.
type StakeStore struct {
	pool *pgxpool.Pool
}

// NewStakeStore creates a StakeStore backed by the given connection pool.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// Place inserts a stake together with its debit ledger entry in one
// transaction. The market row is locked so the status check cannot race a
// concurrent close or resolve: a stake is either fully inside the resolution
// snapshot or fully outside it, never half-placed.
func (s *StakeStore) Place(ctx context.Context, st domain.Stake) error {
	if st.Amount <= 0 {
		return domain.ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: place stake begin: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := getMarket(ctx, tx, st.MarketID, true)
	if err != nil {
		return err
	}
	if !m.AcceptsStakes() {
		return domain.ErrMarketNotOpen
	}
	if !m.HasOption(st.Option) {
		return domain.ErrInvalidOption
	}

	balance, err := accountBalance(ctx, tx, st.AccountID)
	if err != nil {
		return err
	}
	if balance < st.Amount {
		return domain.ErrInsufficientFunds
	}

	const query = `
		INSERT INTO stakes (id, market_id, account_id, option, amount,
			entry_multiplier, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = tx.Exec(ctx, query,
		st.ID, st.MarketID, st.AccountID, st.Option, st.Amount,
		st.EntryMultiplier, string(st.Status), st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert stake %s: %w", st.ID, err)
	}

	debit := domain.LedgerEntry{
		ID:            uuid.New().String(),
		AccountID:     st.AccountID,
		Amount:        -st.Amount,
		Reason:        domain.LedgerReasonStakePlaced,
		CorrelationID: st.ID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := insertLedgerEntries(ctx, tx, []domain.LedgerEntry{debit}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: place stake commit: %w", err)
	}
	return nil
}

const stakeSelectCols = `id, market_id, account_id, option, amount,
	entry_multiplier, status, created_at, settled_at`

func scanStake(row pgx.Row) (domain.Stake, error) {
	var st domain.Stake
	var status string
	err := row.Scan(
		&st.ID, &st.MarketID, &st.AccountID, &st.Option, &st.Amount,
		&st.EntryMultiplier, &status, &st.CreatedAt, &st.SettledAt,
	)
	if err != nil {
		return domain.Stake{}, err
	}
	st.Status = domain.StakeStatus(status)
	return st, nil
}

func scanStakeRows(rows pgx.Rows) ([]domain.Stake, error) {
	var stakes []domain.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, st)
	}
	return stakes, rows.Err()
}

// GetByID retrieves a single stake by ID.
func (s *StakeStore) GetByID(ctx context.Context, id string) (domain.Stake, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stakeSelectCols+` FROM stakes WHERE id = $1`, id)

	st, err := scanStake(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stake{}, domain.ErrNotFound
		}
		return domain.Stake{}, fmt.Errorf("postgres: get stake %s: %w", id, err)
	}
	return st, nil
}

// ListByMarket returns a market's stakes, optionally filtered by status.
func (s *StakeStore) ListByMarket(ctx context.Context, marketID string, status domain.StakeStatus) ([]domain.Stake, error) {
	return listMarketStakes(ctx, s.pool, marketID, status, false)
}

// listMarketStakes reads a market's stakes with the given querier. With
// forUpdate it locks the rows, which is how the settlement transaction pins
// its snapshot.
func listMarketStakes(ctx context.Context, q querier, marketID string, status domain.StakeStatus, forUpdate bool) ([]domain.Stake, error) {
	query := `SELECT ` + stakeSelectCols + ` FROM stakes WHERE market_id = $1`
	args := []any{marketID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes for market %s: %w", marketID, err)
	}
	defer rows.Close()

	stakes, err := scanStakeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan stakes for market %s: %w", marketID, err)
	}
	return stakes, nil
}

// ListByAccount returns an account's stakes, newest first.
func (s *StakeStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Stake, error) {
	query := `SELECT ` + stakeSelectCols + ` FROM stakes WHERE account_id = $1 ORDER BY created_at DESC`
	args := []any{accountID}
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
		return nil, fmt.Errorf("postgres: list stakes for account %s: %w", accountID, err)
	}
	defer rows.Close()

	stakes, err := scanStakeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan stakes for account %s: %w", accountID, err)
	}
	return stakes, nil
}

// Compile-time interface check.
var _ domain.StakeStore = (*StakeStore)(nil)
