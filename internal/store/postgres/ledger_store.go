package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poolbet/poolbet/internal/domain"
)

// LedgerStore implements domain.LedgerStore. The table is append-only; the
// store never issues UPDATE or DELETE against it.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// insertLedgerEntries appends entries using the given querier, which is a
// transaction on every settlement path. The UNIQUE (reason, correlation_id)
// constraint turns an accidental duplicate credit into a hard error that
// rolls the whole attempt back.
func insertLedgerEntries(ctx context.Context, q querier, entries []domain.LedgerEntry) error {
	const query = `
		INSERT INTO ledger_entries (id, account_id, amount, reason, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, e := range entries {
		if _, err := q.Exec(ctx, query,
			e.ID, e.AccountID, e.Amount, string(e.Reason), e.CorrelationID, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert ledger entry %s/%s: %w", e.Reason, e.CorrelationID, err)
		}
	}
	return nil
}

// accountBalance sums an account's entries with the given querier. Inside a
// placement transaction this is the funds check.
func accountBalance(ctx context.Context, q querier, accountID string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`,
		accountID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("postgres: balance %s: %w", accountID, err)
	}
	return balance, nil
}

// Deposit appends a single credit entry. Used by the issuing authority to
// grant currency; every other write path goes through a settlement
// transaction.
func (s *LedgerStore) Deposit(ctx context.Context, e domain.LedgerEntry) error {
	if e.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return insertLedgerEntries(ctx, s.pool, []domain.LedgerEntry{e})
}

// Balance returns the account's current balance, the sum of its entries.
func (s *LedgerStore) Balance(ctx context.Context, accountID string) (int64, error) {
	return accountBalance(ctx, s.pool, accountID)
}

// List returns an account's entries, newest first.
func (s *LedgerStore) List(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT id, account_id, amount, reason, correlation_id, created_at
		FROM ledger_entries WHERE account_id = $1`
	args := []any{accountID}

	if opts.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, len(args)+1)
		args = append(args, *opts.Since)
	}
	if opts.Until != nil {
		query += fmt.Sprintf(` AND created_at <= $%d`, len(args)+1)
		args = append(args, *opts.Until)
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
		return nil, fmt.Errorf("postgres: list ledger %s: %w", accountID, err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

func scanLedgerRows(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &reason, &e.CorrelationID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		e.Reason = domain.LedgerReason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListBefore returns all entries created strictly before the cutoff, oldest
// first. Used by the archiver.
func (s *LedgerStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, amount, reason, correlation_id, created_at
		 FROM ledger_entries WHERE created_at < $1 ORDER BY created_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger before %s: %w", before, err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
