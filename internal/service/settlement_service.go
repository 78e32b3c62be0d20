package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poolbet/poolbet/internal/domain"
	"github.com/poolbet/poolbet/internal/engine"
)

// settleLockTTL bounds how long a crashed resolver can hold a settlement
// lock. The lock is contention relief only; correctness comes from the store
// transaction.
const settleLockTTL = 30 * time.Second

// lateResolveAfter is the lag past a round's close time beyond which
// settling on the current feed price is logged as drift from the nominal
// close. The round still settles; the price cache holds only the latest
// observation, so after an outage the current tick is the best available.
const lateResolveAfter = time.Minute

// PriceReader serves the current reference price for an asset, or
// domain.ErrPriceUnavailable when the feed is stale.
type PriceReader interface {
	Price(ctx context.Context, asset string) (int64, error)
}

// Alerter delivers operator notifications for events that need a human,
// first among them a blocked resolution.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SettlementConfig carries the round settlement parameters.
type SettlementConfig struct {
	RoundFeeBps int   // platform fee on round losing pools
	EpsilonBps  int64 // flat dead zone around the open price
}

// SettlementService orchestrates market and round resolution. It computes
// pure settlement plans with the engine and hands them to the settlement
// store for atomic application; the distributed lock in front only thins out
// concurrent triggers.
type SettlementService struct {
	settle domain.SettlementStore
	locks  domain.LockManager
	prices PriceReader
	bus    domain.SignalBus
	audit  domain.AuditStore
	alerts Alerter
	cfg    SettlementConfig
	logger *slog.Logger
}

// NewSettlementService creates a SettlementService. alerts may be nil.
func NewSettlementService(
	settle domain.SettlementStore,
	locks domain.LockManager,
	prices PriceReader,
	bus domain.SignalBus,
	audit domain.AuditStore,
	alerts Alerter,
	cfg SettlementConfig,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		settle: settle,
		locks:  locks,
		prices: prices,
		bus:    bus,
		audit:  audit,
		alerts: alerts,
		cfg:    cfg,
		logger: logger,
	}
}

// ResolveMarket settles a market on the given winning option; an open market
// is closed to staking by the resolution itself. Re-runs
// against an already-settled market return the original resolution. A winning
// option nobody backed blocks the market instead of resolving it; the
// returned resolution's summary carries the zero-winner flag and operators
// are alerted.
func (s *SettlementService) ResolveMarket(ctx context.Context, marketID, winning string) (domain.Resolution, error) {
	unlock, err := s.locks.Acquire(ctx, "settle:market:"+marketID, settleLockTTL)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("settlement_service: market %s: %w", marketID, err)
	}
	defer unlock()

	res, err := s.settle.ResolveMarket(ctx, marketID, func(m domain.Market, active []domain.Stake) (domain.ResolutionPlan, error) {
		return buildMarketPlan(m, active, winning)
	})
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("settlement_service: resolve market %s: %w", marketID, err)
	}

	if res.Summary.ZeroWinner {
		s.onBlocked(ctx, res, winning)
		return res, nil
	}

	s.publish(ctx, domain.ChannelMarkets, domain.EventMarketResolved, map[string]any{
		"market_id":  marketID,
		"outcome":    res.Outcome,
		"total_pool": res.Summary.TotalPool,
		"fee":        res.Summary.Fee,
		"winners":    res.Summary.WinnersCount,
	})
	s.auditLog(ctx, "market_resolved", map[string]any{
		"market_id": marketID,
		"outcome":   res.Outcome,
		"summary":   res.Summary,
	})
	s.logger.InfoContext(ctx, "settlement_service: market resolved",
		slog.String("market_id", marketID),
		slog.String("outcome", res.Outcome),
		slog.Int64("total_pool", res.Summary.TotalPool),
		slog.Int64("fee", res.Summary.Fee),
		slog.Int("winners", res.Summary.WinnersCount),
	)
	return res, nil
}

// buildMarketPlan is the pure market resolution plan: aggregate, settle,
// distribute, and emit the ledger entries whose sum restores the total pool
// exactly. Resolving an open market is valid and implicitly ends staking:
// the terminal status the plan assigns rejects further placements.
func buildMarketPlan(m domain.Market, active []domain.Stake, winning string) (domain.ResolutionPlan, error) {
	if m.Status != domain.MarketStatusOpen && m.Status != domain.MarketStatusClosed {
		return domain.ResolutionPlan{}, fmt.Errorf("settlement_service: market %s is %s: %w",
			m.ID, m.Status, domain.ErrAlreadyResolved)
	}
	if !m.HasOption(winning) {
		return domain.ResolutionPlan{}, fmt.Errorf("settlement_service: outcome %q: %w",
			winning, domain.ErrInvalidOption)
	}

	pools, err := engine.Aggregate(m.Options, active)
	if err != nil {
		return domain.ResolutionPlan{}, err
	}
	out, err := engine.Settle(pools, winning, m.FeeBps)
	if err != nil {
		return domain.ResolutionPlan{}, err
	}

	summary := domain.SettlementSummary{
		TotalPool:    out.TotalPool,
		WinningPool:  out.WinningPool,
		LosingPool:   out.LosingPool,
		Fee:          out.Fee,
		ProfitPool:   out.ProfitPool,
		Multiplier:   out.Multiplier(),
		WinnersCount: pools[winning].Stakers,
		ZeroWinner:   out.ZeroWinner,
	}
	for opt, p := range pools {
		if opt != winning {
			summary.LosersCount += p.Stakers
		}
	}

	if out.ZeroWinner {
		// Nobody backed the winner: no payout is computable. Block the market
		// and leave every stake active for the manual override.
		return domain.ResolutionPlan{
			MarketStatus: domain.MarketStatusBlocked,
			Outcome:      winning,
			Summary:      summary,
		}, nil
	}

	var winners []domain.Stake
	var lostIDs []string
	for _, st := range active {
		if st.Option == winning {
			winners = append(winners, st)
		} else {
			lostIDs = append(lostIDs, st.ID)
		}
	}

	payouts, feeCredit, err := engine.Distribute(winners, out)
	if err != nil {
		return domain.ResolutionPlan{}, err
	}

	now := time.Now().UTC()
	entries := make([]domain.LedgerEntry, 0, len(payouts)+1)
	for _, p := range payouts {
		entries = append(entries, domain.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     p.AccountID,
			Amount:        p.Amount,
			Reason:        domain.LedgerReasonStakePayout,
			CorrelationID: p.StakeID,
			CreatedAt:     now,
		})
	}
	if feeCredit > 0 {
		entries = append(entries, domain.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     domain.FeeAccountID,
			Amount:        feeCredit,
			Reason:        domain.LedgerReasonPlatformFee,
			CorrelationID: m.ID,
			CreatedAt:     now,
		})
	}

	return domain.ResolutionPlan{
		MarketStatus: domain.MarketStatusResolved,
		Outcome:      winning,
		Payouts:      payouts,
		LostStakeIDs: lostIDs,
		Entries:      entries,
		Summary:      summary,
	}, nil
}

// ResolveRound settles a fast round that has reached its close time, taking
// the close price from the reference feed. A stale feed defers resolution
// with domain.ErrPriceUnavailable; the scheduler retries on its next tick.
// A round picked up long after its close settles on the current fresh price
// rather than the one at the nominal close instant; the drift is logged.
func (s *SettlementService) ResolveRound(ctx context.Context, round domain.Round) (domain.Resolution, error) {
	if time.Now().Before(round.CloseAt) {
		return domain.Resolution{}, fmt.Errorf("settlement_service: round %s closes at %s: %w",
			round.ID, round.CloseAt.Format(time.RFC3339), domain.ErrRoundNotDue)
	}

	closePrice, err := s.prices.Price(ctx, round.Asset)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("settlement_service: round %s close price: %w", round.ID, err)
	}
	if lag := time.Since(round.CloseAt); lag > lateResolveAfter {
		s.logger.WarnContext(ctx, "settlement_service: round resolved late, close price drifts from nominal close",
			slog.String("round_id", round.ID),
			slog.String("asset", round.Asset),
			slog.Duration("lag", lag.Round(time.Second)),
		)
	}

	unlock, err := s.locks.Acquire(ctx, "settle:round:"+round.ID, settleLockTTL)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("settlement_service: round %s: %w", round.ID, err)
	}
	defer unlock()

	res, err := s.settle.ResolveRound(ctx, round.ID, func(r domain.Round, active []domain.RoundStake) (domain.RoundPlan, error) {
		return buildRoundPlan(r, active, closePrice, s.cfg)
	})
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("settlement_service: resolve round %s: %w", round.ID, err)
	}

	s.publish(ctx, domain.ChannelRounds, domain.EventRoundResolved, map[string]any{
		"round_id":    round.ID,
		"asset":       round.Asset,
		"sequence":    round.Sequence,
		"outcome":     res.Outcome,
		"close_price": closePrice,
		"total_pool":  res.Summary.TotalPool,
	})
	s.logger.InfoContext(ctx, "settlement_service: round resolved",
		slog.String("round_id", round.ID),
		slog.String("asset", round.Asset),
		slog.Int64("sequence", round.Sequence),
		slog.String("outcome", res.Outcome),
		slog.Int64("total_pool", res.Summary.TotalPool),
	)
	return res, nil
}

// buildRoundPlan is the pure round resolution plan. Flat outcomes and
// winning sides with no backers refund every stake in full: rounds repeat
// every minute, so unlike markets there is nothing for an operator to decide.
func buildRoundPlan(r domain.Round, active []domain.RoundStake, closePrice int64, cfg SettlementConfig) (domain.RoundPlan, error) {
	outcome := domain.ClassifyRoundOutcome(r.OpenPrice, closePrice, cfg.EpsilonBps)

	pools, err := engine.AggregateRound(active)
	if err != nil {
		return domain.RoundPlan{}, err
	}

	plan := domain.RoundPlan{
		Outcome:    outcome,
		ClosePrice: closePrice,
	}
	now := time.Now().UTC()

	refundAll := func() {
		for _, st := range active {
			plan.Refunds = append(plan.Refunds, domain.StakePayout{
				StakeID:   st.ID,
				AccountID: st.AccountID,
				Amount:    st.Amount,
			})
			plan.Entries = append(plan.Entries, domain.LedgerEntry{
				ID:            uuid.NewString(),
				AccountID:     st.AccountID,
				Amount:        st.Amount,
				Reason:        domain.LedgerReasonRoundRefund,
				CorrelationID: st.ID,
				CreatedAt:     now,
			})
		}
		plan.Summary = domain.SettlementSummary{TotalPool: pools.TotalPool()}
	}

	if outcome == domain.RoundOutcomeFlat {
		refundAll()
		return plan, nil
	}

	winningSide := string(outcome)
	out, err := engine.Settle(pools, winningSide, cfg.RoundFeeBps)
	if err != nil {
		return domain.RoundPlan{}, err
	}
	if out.ZeroWinner {
		refundAll()
		return plan, nil
	}

	var winners []domain.RoundStake
	for _, st := range active {
		if string(st.Side) == winningSide {
			winners = append(winners, st)
		} else {
			plan.LostStakeIDs = append(plan.LostStakeIDs, st.ID)
		}
	}

	payouts, feeCredit, err := engine.DistributeRound(winners, out)
	if err != nil {
		return domain.RoundPlan{}, err
	}
	plan.Payouts = payouts

	for _, p := range payouts {
		plan.Entries = append(plan.Entries, domain.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     p.AccountID,
			Amount:        p.Amount,
			Reason:        domain.LedgerReasonRoundPayout,
			CorrelationID: p.StakeID,
			CreatedAt:     now,
		})
	}
	if feeCredit > 0 {
		plan.Entries = append(plan.Entries, domain.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     domain.FeeAccountID,
			Amount:        feeCredit,
			Reason:        domain.LedgerReasonPlatformFee,
			CorrelationID: r.ID,
			CreatedAt:     now,
		})
	}

	plan.Summary = domain.SettlementSummary{
		TotalPool:    out.TotalPool,
		WinningPool:  out.WinningPool,
		LosingPool:   out.LosingPool,
		Fee:          out.Fee,
		ProfitPool:   out.ProfitPool,
		Multiplier:   out.Multiplier(),
		WinnersCount: len(winners),
		LosersCount:  len(active) - len(winners),
	}
	return plan, nil
}

// onBlocked handles the zero-winner terminal state: ops event, audit trail,
// operator alert.
func (s *SettlementService) onBlocked(ctx context.Context, res domain.Resolution, winning string) {
	s.publish(ctx, domain.ChannelOps, domain.EventResolutionBlocked, map[string]any{
		"market_id":  res.MarketID,
		"outcome":    winning,
		"total_pool": res.Summary.TotalPool,
	})
	s.auditLog(ctx, "resolution_blocked", map[string]any{
		"market_id": res.MarketID,
		"outcome":   winning,
		"summary":   res.Summary,
	})
	s.logger.WarnContext(ctx, "settlement_service: resolution blocked, winning option has no backers",
		slog.String("market_id", res.MarketID),
		slog.String("outcome", winning),
		slog.Int64("total_pool", res.Summary.TotalPool),
	)

	if s.alerts == nil {
		return
	}
	msg := fmt.Sprintf("Market %s cannot auto-resolve: winning option %q has no backers (pool %d units). Manual resolution required.",
		res.MarketID, winning, res.Summary.TotalPool)
	if err := s.alerts.Notify(ctx, domain.EventResolutionBlocked, "Resolution blocked", msg); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: blocked alert failed",
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) publish(ctx context.Context, channel, eventType string, payload map[string]any) {
	evt, err := json.Marshal(domain.Event{Type: eventType, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		return
	}
	if pubErr := s.bus.Publish(ctx, channel, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish event failed",
			slog.String("event", eventType),
			slog.String("error", pubErr.Error()),
		)
	}
}

func (s *SettlementService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// IsRetryable reports whether a settlement error is transient contention that
// the caller may simply retry.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrLockHeld) || errors.Is(err, domain.ErrPriceUnavailable)
}
