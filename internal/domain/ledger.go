package domain

import "time"

// FeeAccountID is the internal account credited with platform fees and any
// settlement rounding residual.
const FeeAccountID = "platform:fees"

// LedgerReason labels why a ledger entry exists. Together with the
// correlation ID it uniquely identifies the business event, which is what
// makes retried settlement triggers unable to double-credit.
type LedgerReason string

const (
	LedgerReasonStakePlaced  LedgerReason = "stake_placed"  // debit at placement
	LedgerReasonStakePayout  LedgerReason = "stake_payout"  // winner credit
	LedgerReasonStakeRefund  LedgerReason = "stake_refund"  // cancellation refund
	LedgerReasonStakeCashout LedgerReason = "stake_cashout" // early exit credit
	LedgerReasonRoundPayout  LedgerReason = "round_payout"
	LedgerReasonRoundRefund  LedgerReason = "round_refund"
	LedgerReasonPlatformFee  LedgerReason = "platform_fee"
	LedgerReasonDeposit      LedgerReason = "deposit"
)

// LedgerEntry is one immutable signed movement on an account. Entries are
// append-only; an account's balance is the sum of its entries and nothing
// else. CorrelationID ties the entry to the stake, market, or round that
// caused it.
type LedgerEntry struct {
	ID            string
	AccountID     string
	Amount        int64 // signed, minimal units
	Reason        LedgerReason
	CorrelationID string
	CreatedAt     time.Time
}
