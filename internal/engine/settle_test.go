package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolbet/poolbet/internal/domain"
)

// The reference scenario: A=1000 on yes, B=500 and C=500 on no, 20% fee,
// yes wins. Fee 200, profit 800, multiplier 1.8, A paid 1800.
func referenceStakes() []domain.Stake {
	return []domain.Stake{
		{ID: "a", AccountID: "acct-a", Option: "yes", Amount: 1000, Status: domain.StakeStatusActive},
		{ID: "b", AccountID: "acct-b", Option: "no", Amount: 500, Status: domain.StakeStatusActive},
		{ID: "c", AccountID: "acct-c", Option: "no", Amount: 500, Status: domain.StakeStatusActive},
	}
}

func TestSettle_ReferenceScenario(t *testing.T) {
	pools, err := Aggregate([]string{"yes", "no"}, referenceStakes())
	require.NoError(t, err)

	out, err := Settle(pools, "yes", 2000)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), out.TotalPool)
	assert.Equal(t, int64(1000), out.WinningPool)
	assert.Equal(t, int64(1000), out.LosingPool)
	assert.Equal(t, int64(200), out.Fee)
	assert.Equal(t, int64(800), out.ProfitPool)
	assert.False(t, out.ZeroWinner)
	assert.InDelta(t, 1.8, out.Multiplier(), 1e-9)
	assert.Equal(t, int64(1800), out.Payout(1000))
}

func TestSettle_ZeroWinnerFlagged(t *testing.T) {
	stakes := []domain.Stake{
		{ID: "a", Option: "yes", Amount: 1000, Status: domain.StakeStatusActive},
	}
	pools, err := Aggregate([]string{"yes", "no"}, stakes)
	require.NoError(t, err)

	out, err := Settle(pools, "no", 2000)
	require.NoError(t, err)

	assert.True(t, out.ZeroWinner)
	assert.Equal(t, int64(0), out.WinningPool)
	assert.Equal(t, int64(0), out.Payout(1000))
	assert.Equal(t, float64(0), out.Multiplier())

	_, _, err = Distribute(nil, out)
	assert.Error(t, err)
}

func TestSettle_InvalidFeeRate(t *testing.T) {
	pools := Pools{"yes": {Total: 100}, "no": {Total: 100}}

	_, err := Settle(pools, "yes", 10_000)
	assert.ErrorIs(t, err, domain.ErrInvalidFeeRate)

	_, err = Settle(pools, "yes", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidFeeRate)
}

func TestSettle_WinningOptionAbsent(t *testing.T) {
	pools := Pools{"yes": {Total: 100}}

	_, err := Settle(pools, "talvez", 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)
}

func TestDistribute_ReferenceScenario(t *testing.T) {
	stakes := referenceStakes()
	pools, err := Aggregate([]string{"yes", "no"}, stakes)
	require.NoError(t, err)
	out, err := Settle(pools, "yes", 2000)
	require.NoError(t, err)

	payouts, feeCredit, err := Distribute(stakes[:1], out)
	require.NoError(t, err)

	require.Len(t, payouts, 1)
	assert.Equal(t, int64(1800), payouts[0].Amount)
	assert.Equal(t, "acct-a", payouts[0].AccountID)
	assert.Equal(t, int64(200), feeCredit)
	assert.Equal(t, out.TotalPool, payouts[0].Amount+feeCredit)
}

// Conservation must hold exactly even when truncation produces a residual:
// three winners of 1 unit each against a losing pool of 100 with no fee.
// Each winner gets 1 + 100/3 = 34, paying 102 of 103; the 1-unit residual
// lands in the fee credit.
func TestDistribute_ResidualRoutedToFee(t *testing.T) {
	winners := []domain.Stake{
		{ID: "w1", AccountID: "a1", Option: "yes", Amount: 1, Status: domain.StakeStatusActive},
		{ID: "w2", AccountID: "a2", Option: "yes", Amount: 1, Status: domain.StakeStatusActive},
		{ID: "w3", AccountID: "a3", Option: "yes", Amount: 1, Status: domain.StakeStatusActive},
	}
	pools := Pools{"yes": {Total: 3, Stakers: 3}, "no": {Total: 100, Stakers: 1}}

	out, err := Settle(pools, "yes", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Fee)

	payouts, feeCredit, err := Distribute(winners, out)
	require.NoError(t, err)

	var paid int64
	for _, p := range payouts {
		assert.Equal(t, int64(34), p.Amount)
		paid += p.Amount
	}
	assert.Equal(t, int64(1), feeCredit)
	assert.Equal(t, out.TotalPool, paid+feeCredit)
}

// Conservation over a spread of awkward pool shapes.
func TestDistribute_ConservationInvariant(t *testing.T) {
	cases := []struct {
		name    string
		amounts []int64
		losing  int64
		feeBps  int
	}{
		{"single winner", []int64{777}, 1234, 1500},
		{"uneven winners", []int64{1, 999, 250, 3}, 10_001, 2000},
		{"tiny pools", []int64{1, 1}, 1, 9999},
		{"large pools", []int64{9_000_000_000, 4_500_000_000}, 7_777_777_777, 123},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var winners []domain.Stake
			var winning int64
			for i, a := range tc.amounts {
				winners = append(winners, domain.Stake{
					ID: string(rune('a' + i)), AccountID: "acct", Option: "yes",
					Amount: a, Status: domain.StakeStatusActive,
				})
				winning += a
			}
			pools := Pools{"yes": {Total: winning}, "no": {Total: tc.losing}}

			out, err := Settle(pools, "yes", tc.feeBps)
			require.NoError(t, err)

			payouts, feeCredit, err := Distribute(winners, out)
			require.NoError(t, err)

			var paid int64
			for i, p := range payouts {
				assert.GreaterOrEqual(t, p.Amount, tc.amounts[i], "no winner pays in")
				paid += p.Amount
			}
			assert.Equal(t, out.TotalPool, paid+feeCredit, "conservation")
			assert.GreaterOrEqual(t, feeCredit, out.Fee, "residual only ever adds to the fee")
		})
	}
}

func TestCancelPenalty_SplitsExactly(t *testing.T) {
	refund, penalty := CancelPenalty(1000, 3000)
	assert.Equal(t, int64(700), refund)
	assert.Equal(t, int64(300), penalty)

	// Truncation favours the refund; the split still adds up.
	refund, penalty = CancelPenalty(101, 3000)
	assert.Equal(t, int64(30), penalty)
	assert.Equal(t, int64(71), refund)
	assert.Equal(t, int64(101), refund+penalty)
}

func TestCashoutValue(t *testing.T) {
	pools := Pools{"yes": {Total: 1000}, "no": {Total: 1000}}
	out, err := Settle(pools, "yes", 2000)
	require.NoError(t, err)

	gross, fee, net := CashoutValue(1000, out, 500) // 5% cashout fee
	assert.Equal(t, int64(1800), gross)
	assert.Equal(t, int64(90), fee)
	assert.Equal(t, int64(1710), net)
}

func TestClassifyRoundOutcome(t *testing.T) {
	open := 100 * domain.PriceScale // 100.0000

	// 100 -> 100.02 is +0.02%, above the 0.01% dead zone.
	assert.Equal(t, domain.RoundOutcomeUp, domain.ClassifyRoundOutcome(open, 1_000_200, 1))

	// Exactly on the threshold stays flat.
	assert.Equal(t, domain.RoundOutcomeFlat, domain.ClassifyRoundOutcome(open, 1_000_100, 1))

	assert.Equal(t, domain.RoundOutcomeDown, domain.ClassifyRoundOutcome(open, 999_800, 1))

	assert.Equal(t, domain.RoundOutcomeFlat, domain.ClassifyRoundOutcome(open, open, 1))
}
