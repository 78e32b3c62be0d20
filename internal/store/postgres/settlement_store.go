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

func newResolutionID() string {
	return uuid.NewString()
}

// SettlementStore implements domain.SettlementStore. Every method is one
// transaction: lock the governing row, re-check status, snapshot stakes,
// apply the plan, commit. A failed write anywhere rolls back the whole
// attempt, so a partial payout is never observable and a retry starts clean.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// ResolveMarket resolves a market atomically. A market found already in a
// terminal state returns its prior resolution unchanged, which is what makes
// at-least-once triggers safe: the second invocation observes the committed
// outcome of the first instead of re-running it.
func (s *SettlementStore) ResolveMarket(ctx context.Context, marketID string, plan domain.ResolveMarketFunc) (domain.Resolution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: resolve market begin: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := getMarket(ctx, tx, marketID, true)
	if err != nil {
		return domain.Resolution{}, err
	}

	if m.Status == domain.MarketStatusResolved || m.Status == domain.MarketStatusBlocked {
		prior, err := getResolutionBy(ctx, tx, "market_id", marketID)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("postgres: resolved market %s has no resolution record: %w", marketID, err)
		}
		return prior, nil
	}

	active, err := listMarketStakes(ctx, tx, marketID, domain.StakeStatusActive, true)
	if err != nil {
		return domain.Resolution{}, err
	}

	p, err := plan(m, active)
	if err != nil {
		return domain.Resolution{}, err
	}

	now := time.Now().UTC()

	for _, payout := range p.Payouts {
		if err := flipStake(ctx, tx, "stakes", payout.StakeID, domain.StakeStatusWon, now); err != nil {
			return domain.Resolution{}, err
		}
	}
	for _, id := range p.LostStakeIDs {
		if err := flipStake(ctx, tx, "stakes", id, domain.StakeStatusLost, now); err != nil {
			return domain.Resolution{}, err
		}
	}

	if err := insertLedgerEntries(ctx, tx, p.Entries); err != nil {
		return domain.Resolution{}, err
	}

	// closed_at is stamped here for markets resolved straight from open.
	_, err = tx.Exec(ctx,
		`UPDATE markets SET status = $1, outcome = $2, resolved_at = $3,
		        closed_at = COALESCE(closed_at, $3) WHERE id = $4`,
		string(p.MarketStatus), p.Outcome, now, marketID,
	)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: update market %s terminal state: %w", marketID, err)
	}

	resolution := domain.Resolution{
		ID:        newResolutionID(),
		MarketID:  marketID,
		Outcome:   p.Outcome,
		Summary:   p.Summary,
		CreatedAt: now,
	}
	if err := insertResolution(ctx, tx, resolution); err != nil {
		return domain.Resolution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: resolve market commit: %w", err)
	}
	return resolution, nil
}

// ResolveRound resolves a due round atomically, following the same shape as
// ResolveMarket. Refunds flip stakes to refunded rather than won so the
// flat-with-no-backers policy is visible in the record.
func (s *SettlementStore) ResolveRound(ctx context.Context, roundID string, plan domain.ResolveRoundFunc) (domain.Resolution, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: resolve round begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := getRound(ctx, tx, roundID, true)
	if err != nil {
		return domain.Resolution{}, err
	}

	if r.Status == domain.RoundStatusResolved {
		prior, err := getResolutionBy(ctx, tx, "round_id", roundID)
		if err != nil {
			return domain.Resolution{}, fmt.Errorf("postgres: resolved round %s has no resolution record: %w", roundID, err)
		}
		return prior, nil
	}

	active, err := listRoundStakes(ctx, tx, roundID, domain.StakeStatusActive, true)
	if err != nil {
		return domain.Resolution{}, err
	}

	p, err := plan(r, active)
	if err != nil {
		return domain.Resolution{}, err
	}

	now := time.Now().UTC()

	for _, payout := range p.Payouts {
		if err := flipStake(ctx, tx, "round_stakes", payout.StakeID, domain.StakeStatusWon, now); err != nil {
			return domain.Resolution{}, err
		}
	}
	for _, id := range p.LostStakeIDs {
		if err := flipStake(ctx, tx, "round_stakes", id, domain.StakeStatusLost, now); err != nil {
			return domain.Resolution{}, err
		}
	}
	for _, refund := range p.Refunds {
		if err := flipStake(ctx, tx, "round_stakes", refund.StakeID, domain.StakeStatusRefunded, now); err != nil {
			return domain.Resolution{}, err
		}
	}

	if err := insertLedgerEntries(ctx, tx, p.Entries); err != nil {
		return domain.Resolution{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE rounds SET status = $1, outcome = $2, close_price = $3 WHERE id = $4`,
		string(domain.RoundStatusResolved), string(p.Outcome), p.ClosePrice, roundID,
	)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: update round %s terminal state: %w", roundID, err)
	}

	resolution := domain.Resolution{
		ID:        newResolutionID(),
		RoundID:   roundID,
		Outcome:   string(p.Outcome),
		Summary:   p.Summary,
		CreatedAt: now,
	}
	if err := insertResolution(ctx, tx, resolution); err != nil {
		return domain.Resolution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Resolution{}, fmt.Errorf("postgres: resolve round commit: %w", err)
	}
	return resolution, nil
}

// FinalizeStake atomically moves one active stake to a terminal state and
// credits its entry. First committer wins the race against resolution: once
// the status leaves active, the flip predicate matches zero rows and the
// attempt fails with ErrStakeNotActive.
func (s *SettlementStore) FinalizeStake(ctx context.Context, stakeID string, plan domain.FinalizeStakeFunc) (domain.Stake, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("postgres: finalize stake begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Unlocked read first to learn the market. Row locks are then taken
	// market before stake, the same order ResolveMarket uses, so a cashout
	// racing a resolution cannot deadlock.
	var marketID string
	if err := tx.QueryRow(ctx,
		`SELECT market_id FROM stakes WHERE id = $1`, stakeID).Scan(&marketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stake{}, domain.ErrNotFound
		}
		return domain.Stake{}, fmt.Errorf("postgres: look up stake %s: %w", stakeID, err)
	}

	m, err := getMarket(ctx, tx, marketID, true)
	if err != nil {
		return domain.Stake{}, err
	}

	st, err := scanStake(tx.QueryRow(ctx,
		`SELECT `+stakeSelectCols+` FROM stakes WHERE id = $1 FOR UPDATE`, stakeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Stake{}, domain.ErrNotFound
		}
		return domain.Stake{}, fmt.Errorf("postgres: lock stake %s: %w", stakeID, err)
	}

	if st.Status != domain.StakeStatusActive {
		return domain.Stake{}, domain.ErrStakeNotActive
	}

	// The market row lock above serializes this snapshot against placements
	// and resolution, so the plan sees pool-consistent stakes.
	active, err := listMarketStakes(ctx, tx, st.MarketID, domain.StakeStatusActive, false)
	if err != nil {
		return domain.Stake{}, err
	}

	p, err := plan(st, m, active)
	if err != nil {
		return domain.Stake{}, err
	}

	now := time.Now().UTC()
	if err := flipStake(ctx, tx, "stakes", stakeID, p.Status, now); err != nil {
		return domain.Stake{}, err
	}
	if err := insertLedgerEntries(ctx, tx, p.Entries); err != nil {
		return domain.Stake{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Stake{}, fmt.Errorf("postgres: finalize stake commit: %w", err)
	}

	st.Status = p.Status
	st.SettledAt = &now
	return st, nil
}

// flipStake transitions a stake out of active. The status predicate enforces
// one-way transitions at the storage layer: a stake already terminal cannot
// move again, whatever the caller believed.
func flipStake(ctx context.Context, q querier, table, id string, to domain.StakeStatus, at time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE `+table+` SET status = $1, settled_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at, id, string(domain.StakeStatusActive),
	)
	if err != nil {
		return fmt.Errorf("postgres: flip stake %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: flip stake %s to %s: %w", id, to, domain.ErrStakeNotActive)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
