// Package engine implements the pari-mutuel math: pool aggregation and
// settlement calculation. Everything here is pure and side-effect free; the
// service layer feeds it transaction-consistent snapshots and applies the
// results atomically.
package engine

import (
	"fmt"

	"github.com/poolbet/poolbet/internal/domain"
)

// OptionPool is the aggregate of active stakes on one option.
type OptionPool struct {
	Total   int64
	Stakers int
}

// Pools maps every declared option of a market to its pool, including
// options nobody backed.
type Pools map[string]OptionPool

// TotalPool returns the sum across all options.
func (p Pools) TotalPool() int64 {
	var total int64
	for _, op := range p {
		total += op.Total
	}
	return total
}

// Aggregate sums active stakes per option. A stake on an option the market
// never declared is an upstream validation bug and fails the whole
// aggregation rather than being dropped silently.
func Aggregate(options []string, stakes []domain.Stake) (Pools, error) {
	pools := make(Pools, len(options))
	for _, opt := range options {
		pools[opt] = OptionPool{}
	}

	for _, st := range stakes {
		if st.Status != domain.StakeStatusActive {
			continue
		}
		op, ok := pools[st.Option]
		if !ok {
			return nil, fmt.Errorf("engine: stake %s backs undeclared option %q: %w",
				st.ID, st.Option, domain.ErrInvalidOption)
		}
		op.Total += st.Amount
		op.Stakers++
		pools[st.Option] = op
	}

	return pools, nil
}

// AggregateRound builds up/down pools from round stakes. Round sides are a
// closed enum, so an unknown side is equally a bug upstream.
func AggregateRound(stakes []domain.RoundStake) (Pools, error) {
	pools := Pools{
		string(domain.RoundSideUp):   {},
		string(domain.RoundSideDown): {},
	}

	for _, st := range stakes {
		if st.Status != domain.StakeStatusActive {
			continue
		}
		op, ok := pools[string(st.Side)]
		if !ok {
			return nil, fmt.Errorf("engine: round stake %s has unknown side %q: %w",
				st.ID, st.Side, domain.ErrInvalidSide)
		}
		op.Total += st.Amount
		op.Stakers++
		pools[string(st.Side)] = op
	}

	return pools, nil
}
