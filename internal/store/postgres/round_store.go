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

// RoundStore implements domain.RoundStore using PostgreSQL.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a RoundStore backed by the given connection pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

// Create inserts a round with the next sequence number for its asset. The
// UNIQUE (asset, sequence) constraint catches a lost race between two
// schedulers opening the same round; retrying yields the next number.
func (s *RoundStore) Create(ctx context.Context, r domain.Round) (domain.Round, error) {
	const query = `
		INSERT INTO rounds (id, asset, sequence, open_price, open_at, lock_at,
			close_at, status, created_at)
		SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM rounds WHERE asset = $2
		RETURNING sequence`

	err := s.pool.QueryRow(ctx, query,
		r.ID, r.Asset, r.OpenPrice, r.OpenAt, r.LockAt, r.CloseAt,
		string(r.Status), r.CreatedAt,
	).Scan(&r.Sequence)
	if err != nil {
		return domain.Round{}, fmt.Errorf("postgres: create round for %s: %w", r.Asset, err)
	}
	return r, nil
}

const roundSelectCols = `id, asset, sequence, open_price, close_price,
	open_at, lock_at, close_at, status, outcome, created_at`

func scanRound(row pgx.Row) (domain.Round, error) {
	var r domain.Round
	var status string
	var outcome *string
	err := row.Scan(
		&r.ID, &r.Asset, &r.Sequence, &r.OpenPrice, &r.ClosePrice,
		&r.OpenAt, &r.LockAt, &r.CloseAt, &status, &outcome, &r.CreatedAt,
	)
	if err != nil {
		return domain.Round{}, err
	}
	r.Status = domain.RoundStatus(status)
	if outcome != nil {
		o := domain.RoundOutcome(*outcome)
		r.Outcome = &o
	}
	return r, nil
}

// GetByID retrieves a single round by ID.
func (s *RoundStore) GetByID(ctx context.Context, id string) (domain.Round, error) {
	return getRound(ctx, s.pool, id, false)
}

func getRound(ctx context.Context, q querier, id string, forUpdate bool) (domain.Round, error) {
	query := `SELECT ` + roundSelectCols + ` FROM rounds WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	r, err := scanRound(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: get round %s: %w", id, err)
	}
	return r, nil
}

// CurrentByAsset returns the latest non-resolved round for an asset.
func (s *RoundStore) CurrentByAsset(ctx context.Context, asset string) (domain.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE asset = $1 AND status <> $2
		 ORDER BY sequence DESC LIMIT 1`,
		asset, string(domain.RoundStatusResolved),
	)

	r, err := scanRound(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("postgres: current round for %s: %w", asset, err)
	}
	return r, nil
}

// ListDue returns unresolved rounds whose close time has passed, oldest
// first. This is the resumable wake-up query: deadlines live in the table,
// not in process memory, so a restart picks up exactly where it left off.
func (s *RoundStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE status <> $1 AND close_at <= $2
		 ORDER BY close_at LIMIT $3`,
		string(domain.RoundStatusResolved), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due rounds: %w", err)
	}
	defer rows.Close()

	return scanRoundRows(rows)
}

// MarkLocked flips active rounds past their lock time to locked and returns
// them so lifecycle events can be published.
func (s *RoundStore) MarkLocked(ctx context.Context, now time.Time) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE rounds SET status = $1
		 WHERE status = $2 AND lock_at <= $3
		 RETURNING `+roundSelectCols,
		string(domain.RoundStatusLocked), string(domain.RoundStatusActive), now,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: mark rounds locked: %w", err)
	}
	defer rows.Close()

	return scanRoundRows(rows)
}

// List returns rounds for an asset (or all assets when empty), newest first.
func (s *RoundStore) List(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.Round, error) {
	query := `SELECT ` + roundSelectCols + ` FROM rounds`
	args := []any{}
	if asset != "" {
		query += ` WHERE asset = $1`
		args = append(args, asset)
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
		return nil, fmt.Errorf("postgres: list rounds: %w", err)
	}
	defer rows.Close()

	return scanRoundRows(rows)
}

func scanRoundRows(rows pgx.Rows) ([]domain.Round, error) {
	var rounds []domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// PlaceStake inserts a round stake with its debit entry in one transaction.
// The round row lock plus the lock-time check reject stakes arriving in the
// final seconds, and the transaction isolation decides strict inclusion or
// exclusion relative to a concurrent resolution snapshot.
func (s *RoundStore) PlaceStake(ctx context.Context, st domain.RoundStake) error {
	if st.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if st.Side != domain.RoundSideUp && st.Side != domain.RoundSideDown {
		return domain.ErrInvalidSide
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: place round stake begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := getRound(ctx, tx, st.RoundID, true)
	if err != nil {
		return err
	}
	if !r.AcceptsStakes(time.Now().UTC()) {
		return domain.ErrRoundNotOpen
	}

	balance, err := accountBalance(ctx, tx, st.AccountID)
	if err != nil {
		return err
	}
	if balance < st.Amount {
		return domain.ErrInsufficientFunds
	}

	const query = `
		INSERT INTO round_stakes (id, round_id, account_id, side, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = tx.Exec(ctx, query,
		st.ID, st.RoundID, st.AccountID, string(st.Side), st.Amount,
		string(st.Status), st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert round stake %s: %w", st.ID, err)
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
		return fmt.Errorf("postgres: place round stake commit: %w", err)
	}
	return nil
}

const roundStakeSelectCols = `id, round_id, account_id, side, amount, status,
	created_at, settled_at`

func scanRoundStakeRows(rows pgx.Rows) ([]domain.RoundStake, error) {
	var stakes []domain.RoundStake
	for rows.Next() {
		var st domain.RoundStake
		var side, status string
		err := rows.Scan(
			&st.ID, &st.RoundID, &st.AccountID, &side, &st.Amount,
			&status, &st.CreatedAt, &st.SettledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round stake: %w", err)
		}
		st.Side = domain.RoundSide(side)
		st.Status = domain.StakeStatus(status)
		stakes = append(stakes, st)
	}
	return stakes, rows.Err()
}

// ListStakes returns a round's stakes, optionally filtered by status.
func (s *RoundStore) ListStakes(ctx context.Context, roundID string, status domain.StakeStatus) ([]domain.RoundStake, error) {
	return listRoundStakes(ctx, s.pool, roundID, status, false)
}

func listRoundStakes(ctx context.Context, q querier, roundID string, status domain.StakeStatus, forUpdate bool) ([]domain.RoundStake, error) {
	query := `SELECT ` + roundStakeSelectCols + ` FROM round_stakes WHERE round_id = $1`
	args := []any{roundID}
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
		return nil, fmt.Errorf("postgres: list stakes for round %s: %w", roundID, err)
	}
	defer rows.Close()

	return scanRoundStakeRows(rows)
}

// ListResolvedBefore returns resolved rounds whose close time is strictly
// before the cutoff, oldest first. Used by the archiver; live and due rounds
// are never archived.
func (s *RoundStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundSelectCols+` FROM rounds
		 WHERE status = 'resolved' AND close_at < $1 ORDER BY close_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved rounds before %s: %w", before, err)
	}
	defer rows.Close()

	return scanRoundRows(rows)
}

// Compile-time interface check.
var _ domain.RoundStore = (*RoundStore)(nil)
