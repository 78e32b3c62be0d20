package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists prediction markets.
type MarketStore interface {
	Create(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// Close moves an open market to closed. Returns ErrMarketNotOpen if the
	// market has already left the open state.
	Close(ctx context.Context, id string) error
}

// StakeStore persists market stakes. Place is an atomic unit: it verifies the
// market is open and the account balance covers the amount, then inserts the
// stake together with its debit ledger entry in one transaction.
type StakeStore interface {
	Place(ctx context.Context, stake Stake) error
	GetByID(ctx context.Context, id string) (Stake, error)
	ListByMarket(ctx context.Context, marketID string, status StakeStatus) ([]Stake, error)
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]Stake, error)
}

// RoundStore persists fast rounds and their stakes.
type RoundStore interface {
	// Create inserts a round, assigning the next sequence number for its
	// asset, and returns the stored round.
	Create(ctx context.Context, round Round) (Round, error)
	GetByID(ctx context.Context, id string) (Round, error)
	// CurrentByAsset returns the latest non-resolved round for an asset.
	CurrentByAsset(ctx context.Context, asset string) (Round, error)
	// ListDue returns rounds whose close time has passed but which are not
	// yet resolved, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Round, error)
	// MarkLocked flips active rounds past their lock time to locked and
	// returns the rounds it transitioned.
	MarkLocked(ctx context.Context, now time.Time) ([]Round, error)
	List(ctx context.Context, asset string, opts ListOpts) ([]Round, error)
	// PlaceStake is the round analogue of StakeStore.Place, additionally
	// rejecting rounds that are locked or past their lock time.
	PlaceStake(ctx context.Context, stake RoundStake) error
	ListStakes(ctx context.Context, roundID string, status StakeStatus) ([]RoundStake, error)
}

// LedgerStore reads the append-only ledger. Settlement, cancellation, and
// cashout entries are written inside the SettlementStore transactions; the
// only standalone append is Deposit, used by the issuing authority to grant
// currency to an account.
type LedgerStore interface {
	Deposit(ctx context.Context, entry LedgerEntry) error
	Balance(ctx context.Context, accountID string) (int64, error)
	List(ctx context.Context, accountID string, opts ListOpts) ([]LedgerEntry, error)
}

// ResolutionStore reads immutable resolution records.
type ResolutionStore interface {
	GetByMarket(ctx context.Context, marketID string) (Resolution, error)
	GetByRound(ctx context.Context, roundID string) (Resolution, error)
	ListRecent(ctx context.Context, limit int) ([]Resolution, error)
}

// StakePayout pairs a winning (or refunded) stake with its credited amount.
type StakePayout struct {
	StakeID   string
	AccountID string
	Amount    int64
}

// ResolutionPlan is everything a market resolution must apply atomically:
// stake flips, ledger credits, the terminal market status, and the
// resolution record. The settlement store commits it in one transaction or
// not at all.
type ResolutionPlan struct {
	MarketStatus MarketStatus // MarketStatusResolved or MarketStatusBlocked
	Outcome      string
	Payouts      []StakePayout // flipped to won and credited
	LostStakeIDs []string      // flipped to lost, no ledger effect
	Entries      []LedgerEntry // winner credits plus fee (with residual)
	Summary      SettlementSummary
}

// RoundPlan is the fast-round equivalent of ResolutionPlan.
type RoundPlan struct {
	Outcome      RoundOutcome
	ClosePrice   int64
	Payouts      []StakePayout
	LostStakeIDs []string
	Refunds      []StakePayout // full refunds when the round settles flat with no flat rule
	Entries      []LedgerEntry
	Summary      SettlementSummary
}

// StakeFinalization moves a single stake out of active together with its
// ledger entries (cancellation refund plus penalty fee, or cashout net plus
// cashout fee).
type StakeFinalization struct {
	Status  StakeStatus
	Entries []LedgerEntry
}

// ResolveMarketFunc computes a ResolutionPlan from the transaction-consistent
// snapshot of a market and its active stakes. It must be pure: the settlement
// store may call it at most once per transaction attempt.
type ResolveMarketFunc func(m Market, active []Stake) (ResolutionPlan, error)

// ResolveRoundFunc is the fast-round analogue of ResolveMarketFunc.
type ResolveRoundFunc func(r Round, active []RoundStake) (RoundPlan, error)

// FinalizeStakeFunc computes the finalization for one active stake given its
// market and the market's active stakes, inside the same transaction that
// flips it. The snapshot is what makes cashout values pool-consistent: the
// market row lock serializes it against placements and resolution.
type FinalizeStakeFunc func(st Stake, m Market, active []Stake) (StakeFinalization, error)

// SettlementStore executes the engine's atomic units against the
// transactional store. Each method locks the governing row, re-checks status,
// snapshots, applies the plan, and commits; any write failure aborts the
// whole attempt so partial payouts are never observable.
type SettlementStore interface {
	// ResolveMarket resolves a market. If the market is already resolved or
	// blocked it returns the prior resolution unchanged, making retried
	// triggers an idempotent no-op.
	ResolveMarket(ctx context.Context, marketID string, plan ResolveMarketFunc) (Resolution, error)
	// ResolveRound resolves a due round the same way.
	ResolveRound(ctx context.Context, roundID string, plan ResolveRoundFunc) (Resolution, error)
	// FinalizeStake atomically moves one active stake to a terminal state and
	// credits its entry. Returns ErrStakeNotActive when the resolution path
	// (or a concurrent cancel/cashout) committed first.
	FinalizeStake(ctx context.Context, stakeID string, plan FinalizeStakeFunc) (Stake, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
