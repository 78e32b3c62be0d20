package engine

import (
	"fmt"
	"math/big"

	"github.com/poolbet/poolbet/internal/domain"
)

// feeDenominator is the basis-point scale for fee rates.
const feeDenominator = 10_000

// Outcome is the result of the settlement calculation for one winning
// option. All amounts are minimal currency units.
type Outcome struct {
	WinningOption string
	TotalPool     int64
	WinningPool   int64
	LosingPool    int64
	Fee           int64
	ProfitPool    int64
	ZeroWinner    bool
}

// Multiplier returns the per-unit payout on the winning option. Display
// only: settlement credits come from Payout, never from this value.
func (o Outcome) Multiplier() float64 {
	if o.WinningPool == 0 {
		return 0
	}
	return float64(o.WinningPool+o.ProfitPool) / float64(o.WinningPool)
}

// Settle computes the pari-mutuel split of the pools for the given winning
// option and fee rate. The fee is taken from the losing pool only and
// truncated toward zero. A winning pool of zero is flagged, not failed:
// per-unit division would be undefined, so no payouts may follow.
func Settle(pools Pools, winning string, feeBps int) (Outcome, error) {
	if feeBps < 0 || feeBps >= feeDenominator {
		return Outcome{}, fmt.Errorf("engine: fee %d bps: %w", feeBps, domain.ErrInvalidFeeRate)
	}
	wp, ok := pools[winning]
	if !ok {
		return Outcome{}, fmt.Errorf("engine: winning option %q not in pools: %w",
			winning, domain.ErrInvalidOption)
	}

	total := pools.TotalPool()
	losing := total - wp.Total
	fee := mulDiv(losing, int64(feeBps), feeDenominator)
	profit := losing - fee

	return Outcome{
		WinningOption: winning,
		TotalPool:     total,
		WinningPool:   wp.Total,
		LosingPool:    losing,
		Fee:           fee,
		ProfitPool:    profit,
		ZeroWinner:    wp.Total == 0,
	}, nil
}

// Payout returns the settlement credit for a winning stake of the given
// amount: the stake back plus its proportional share of the profit pool,
// truncated toward zero.
func (o Outcome) Payout(amount int64) int64 {
	if o.WinningPool == 0 {
		return 0
	}
	return amount + mulDiv(amount, o.ProfitPool, o.WinningPool)
}

// Distribute computes the payout for every winning stake and the platform
// fee credit. Truncation leaves a residual of at most winners-1 units; it is
// routed to the fee credit so that sum(payouts) + fee credit == total pool
// exactly. Distribute must not be called on a zero-winner outcome.
func Distribute(winners []domain.Stake, o Outcome) ([]domain.StakePayout, int64, error) {
	if o.ZeroWinner {
		return nil, 0, fmt.Errorf("engine: distribute on zero-winner outcome")
	}

	payouts := make([]domain.StakePayout, 0, len(winners))
	var paid int64
	for _, st := range winners {
		p := o.Payout(st.Amount)
		paid += p
		payouts = append(payouts, domain.StakePayout{
			StakeID:   st.ID,
			AccountID: st.AccountID,
			Amount:    p,
		})
	}

	feeCredit := o.TotalPool - paid
	if feeCredit < 0 {
		// Cannot happen with truncating division; guard the conservation
		// invariant anyway.
		return nil, 0, fmt.Errorf("engine: payouts %d exceed total pool %d", paid, o.TotalPool)
	}

	return payouts, feeCredit, nil
}

// DistributeRound is Distribute for fast-round stakes; same truncation, same
// residual-to-fee conservation.
func DistributeRound(winners []domain.RoundStake, o Outcome) ([]domain.StakePayout, int64, error) {
	if o.ZeroWinner {
		return nil, 0, fmt.Errorf("engine: distribute on zero-winner outcome")
	}

	payouts := make([]domain.StakePayout, 0, len(winners))
	var paid int64
	for _, st := range winners {
		p := o.Payout(st.Amount)
		paid += p
		payouts = append(payouts, domain.StakePayout{
			StakeID:   st.ID,
			AccountID: st.AccountID,
			Amount:    p,
		})
	}

	feeCredit := o.TotalPool - paid
	if feeCredit < 0 {
		return nil, 0, fmt.Errorf("engine: payouts %d exceed total pool %d", paid, o.TotalPool)
	}

	return payouts, feeCredit, nil
}

// CancelPenalty splits a stake amount into penalty and refund at the given
// rate. refund + penalty == amount always.
func CancelPenalty(amount int64, penaltyBps int) (refund, penalty int64) {
	penalty = mulDiv(amount, int64(penaltyBps), feeDenominator)
	return amount - penalty, penalty
}

// CashoutValue computes the live exit value of a stake given the
// as-if-resolved-now outcome for its option: gross payout, cashout fee, and
// the net credited on execution.
func CashoutValue(amount int64, o Outcome, cashoutFeeBps int) (gross, fee, net int64) {
	gross = o.Payout(amount)
	fee = mulDiv(gross, int64(cashoutFeeBps), feeDenominator)
	return gross, fee, gross - fee
}

// mulDiv returns a*b/den truncated toward zero, with the intermediate
// product carried in big.Int so large pools cannot overflow int64.
func mulDiv(a, b, den int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	var r big.Int
	r.Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(&r, big.NewInt(den))
	return r.Int64()
}
