// Package domain defines the core entities and store interfaces of the
// pari-mutuel wagering platform: markets, stakes, fast rounds, and the
// append-only ledger that is the sole source of truth for balances.
package domain

import (
	"time"
)

// MarketStatus represents the lifecycle state of a prediction market.
// Transitions are one-way: open -> closed -> resolved | blocked.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	// MarketStatusBlocked marks a market whose winning option had no backers.
	// Terminal for the engine; clearing it requires a manual operator action.
	MarketStatusBlocked MarketStatus = "blocked"
)

// Market is a multi-option prediction market. Stakes pool per option and the
// losing pools are redistributed to winners on resolution.
type Market struct {
	ID         string
	Title      string
	Options    []string // ordered, unique; fixed at creation
	Status     MarketStatus
	Outcome    *string // winning option; immutable once set
	FeeBps     int     // platform fee on the losing pool, basis points
	CreatedAt  time.Time
	ClosedAt   *time.Time
	ResolvedAt *time.Time
}

// HasOption reports whether opt is one of the market's declared options.
func (m Market) HasOption(opt string) bool {
	for _, o := range m.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// AcceptsStakes reports whether new stakes may be placed on the market.
func (m Market) AcceptsStakes() bool {
	return m.Status == MarketStatusOpen
}

// SettlementSummary is the persisted result of resolving a market or round.
// Amounts are in minimal currency units. Multiplier is the per-unit payout on
// the winning option and is informational only; money math never uses it.
type SettlementSummary struct {
	TotalPool    int64   `json:"total_pool"`
	WinningPool  int64   `json:"winning_pool"`
	LosingPool   int64   `json:"losing_pool"`
	Fee          int64   `json:"fee"`
	ProfitPool   int64   `json:"profit_pool"`
	Multiplier   float64 `json:"multiplier"`
	WinnersCount int     `json:"winners_count"`
	LosersCount  int     `json:"losers_count"`
	ZeroWinner   bool    `json:"zero_winner"`
}

// Resolution is the immutable record of a settlement attempt that committed.
type Resolution struct {
	ID        string
	MarketID  string // empty for round resolutions
	RoundID   string // empty for market resolutions
	Outcome   string
	Summary   SettlementSummary
	CreatedAt time.Time
}
