package domain

import "time"

// PriceScale is the fixed-point scale for reference prices: 4 decimal places.
const PriceScale int64 = 10_000

// RoundStatus is the lifecycle state of a fast round.
// active -> locked -> resolved, never reverted.
type RoundStatus string

const (
	RoundStatusActive   RoundStatus = "active"
	RoundStatusLocked   RoundStatus = "locked"
	RoundStatusResolved RoundStatus = "resolved"
)

// RoundOutcome classifies the price move over a round.
type RoundOutcome string

const (
	RoundOutcomeUp   RoundOutcome = "up"
	RoundOutcomeDown RoundOutcome = "down"
	RoundOutcomeFlat RoundOutcome = "flat"
)

// RoundSide is the direction a round stake backs.
type RoundSide string

const (
	RoundSideUp   RoundSide = "up"
	RoundSideDown RoundSide = "down"
)

// Round is one fixed-duration price-direction round for an asset. OpenPrice
// is snapshotted at creation and CloseAt never changes afterwards; ClosePrice
// and Outcome are each set exactly once, at resolution.
type Round struct {
	ID         string
	Asset      string
	Sequence   int64 // monotonic per asset
	OpenPrice  int64 // fixed-point, PriceScale
	ClosePrice *int64
	OpenAt     time.Time
	LockAt     time.Time // CloseAt minus the lock window; no stakes after this
	CloseAt    time.Time
	Status     RoundStatus
	Outcome    *RoundOutcome
	CreatedAt  time.Time
}

// AcceptsStakes reports whether the round is live and still pre-lock.
func (r Round) AcceptsStakes(now time.Time) bool {
	return r.Status == RoundStatusActive && now.Before(r.LockAt)
}

// RoundStake is a wager on one side of a fast round. The status field
// generalises the original per-stake processed flag: settlement only moves
// stakes out of active, so a retried trigger finds nothing left to pay.
type RoundStake struct {
	ID        string
	RoundID   string
	AccountID string
	Side      RoundSide
	Amount    int64
	Status    StakeStatus
	CreatedAt time.Time
	SettledAt *time.Time
}

// ClassifyRoundOutcome maps a price move to up/down/flat against a symmetric
// dead zone of epsilonBps basis points. The comparison is cross-multiplied so
// no precision is lost to integer division: up means
// (close-open)*10000 > epsilonBps*open.
func ClassifyRoundOutcome(openPrice, closePrice int64, epsilonBps int64) RoundOutcome {
	delta := closePrice - openPrice
	threshold := epsilonBps * openPrice
	switch {
	case delta*10_000 > threshold:
		return RoundOutcomeUp
	case delta*10_000 < -threshold:
		return RoundOutcomeDown
	default:
		return RoundOutcomeFlat
	}
}

// PricePoint is a reference-price observation from the live feed.
type PricePoint struct {
	Asset string
	Price int64 // fixed-point, PriceScale
	At    time.Time
}
