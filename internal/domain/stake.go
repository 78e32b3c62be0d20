package domain

import "time"

// StakeStatus tracks a stake's lifecycle. Transitions are strictly one-way:
// active is the only non-terminal state, and the amount is frozen the moment
// the stake leaves it.
type StakeStatus string

const (
	StakeStatusActive    StakeStatus = "active"
	StakeStatusWon       StakeStatus = "won"
	StakeStatusLost      StakeStatus = "lost"
	StakeStatusCancelled StakeStatus = "cancelled"
	StakeStatusCashedOut StakeStatus = "cashed_out"
	// StakeStatusRefunded is used by fast rounds that settle flat with no
	// flat backers; every stake is returned in full.
	StakeStatusRefunded StakeStatus = "refunded"
)

// Terminal reports whether the status is a terminal state.
func (s StakeStatus) Terminal() bool {
	return s != StakeStatusActive
}

// Stake is a wager of Amount minimal units on one option of a market.
// EntryMultiplier is the live multiplier quoted at placement time; it is
// display-only and has no bearing on settlement math.
type Stake struct {
	ID              string
	MarketID        string
	AccountID       string
	Option          string
	Amount          int64
	EntryMultiplier float64
	Status          StakeStatus
	CreatedAt       time.Time
	SettledAt       *time.Time
}

// CancelResult reports the outcome of cancelling a stake.
// Refund + Penalty always equals the original stake amount.
type CancelResult struct {
	StakeID string `json:"stake_id"`
	Refund  int64  `json:"refund"`
	Penalty int64  `json:"penalty"`
}

// CashoutQuote is a live, pre-resolution exit value for a stake. It is
// advisory and time-sensitive: pools move with every placement, so callers
// must treat it as stale the moment it is produced.
type CashoutQuote struct {
	StakeID    string    `json:"stake_id"`
	Gross      int64     `json:"gross"`
	Fee        int64     `json:"fee"`
	Net        int64     `json:"net"`
	Multiplier float64   `json:"multiplier"`
	QuotedAt   time.Time `json:"quoted_at"`
}

// CashoutResult reports the committed early exit of a stake.
type CashoutResult struct {
	StakeID string `json:"stake_id"`
	Net     int64  `json:"net_amount"`
}
