package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poolbet/poolbet/internal/domain"
	"github.com/poolbet/poolbet/internal/engine"
)

// StakeConfig carries the staking parameters.
type StakeConfig struct {
	MinStake      int64 // minimal units; 0 disables the floor
	MaxStake      int64 // minimal units; 0 disables the cap
	PenaltyBps    int   // cancellation penalty on the stake amount
	CashoutFeeBps int   // cashout fee on the gross exit value
	RatePerMinute int   // per-account placement budget
}

// StakeService handles stake placement and the two early-exit paths,
// cancellation and cashout. Exits go through the settlement store so the
// status flip and the ledger credit commit together.
type StakeService struct {
	stakes  domain.StakeStore
	markets domain.MarketStore
	settle  domain.SettlementStore
	limiter domain.RateLimiter
	bus     domain.SignalBus
	audit   domain.AuditStore
	cfg     StakeConfig
	logger  *slog.Logger
}

// NewStakeService creates a StakeService with all required dependencies.
func NewStakeService(
	stakes domain.StakeStore,
	markets domain.MarketStore,
	settle domain.SettlementStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg StakeConfig,
	logger *slog.Logger,
) *StakeService {
	return &StakeService{
		stakes:  stakes,
		markets: markets,
		settle:  settle,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		cfg:     cfg,
		logger:  logger,
	}
}

// Place stakes amount on one option of an open market. The store's atomic
// unit re-validates the market and balance and writes the debit entry with
// the stake, so a passing call here cannot overdraw. The returned stake
// carries the live entry multiplier, quoted as if the market resolved on this
// option the moment the stake joined the pool.
func (s *StakeService) Place(ctx context.Context, marketID, accountID, option string, amount int64) (domain.Stake, error) {
	if err := s.validateAmount(amount); err != nil {
		return domain.Stake{}, err
	}
	if err := s.allow(ctx, "stakes:"+accountID); err != nil {
		return domain.Stake{}, err
	}

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("stake_service: market %q: %w", marketID, err)
	}
	if !m.AcceptsStakes() {
		return domain.Stake{}, fmt.Errorf("stake_service: market %q is %s: %w", marketID, m.Status, domain.ErrMarketNotOpen)
	}
	if !m.HasOption(option) {
		return domain.Stake{}, fmt.Errorf("stake_service: option %q: %w", option, domain.ErrInvalidOption)
	}

	st := domain.Stake{
		ID:              uuid.NewString(),
		MarketID:        marketID,
		AccountID:       accountID,
		Option:          option,
		Amount:          amount,
		EntryMultiplier: s.entryMultiplier(ctx, m, option, amount),
		Status:          domain.StakeStatusActive,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.stakes.Place(ctx, st); err != nil {
		return domain.Stake{}, fmt.Errorf("stake_service: place: %w", err)
	}

	s.publish(ctx, domain.EventStakePlaced, map[string]any{
		"stake_id":   st.ID,
		"market_id":  marketID,
		"option":     option,
		"amount":     amount,
		"multiplier": st.EntryMultiplier,
	})
	s.logger.InfoContext(ctx, "stake_service: stake placed",
		slog.String("stake_id", st.ID),
		slog.String("market_id", marketID),
		slog.String("option", option),
		slog.Int64("amount", amount),
	)
	return st, nil
}

// entryMultiplier quotes the as-if-resolved-now multiplier including the new
// stake. Display only; any failure degrades to zero rather than blocking the
// placement.
func (s *StakeService) entryMultiplier(ctx context.Context, m domain.Market, option string, amount int64) float64 {
	active, err := s.stakes.ListByMarket(ctx, m.ID, domain.StakeStatusActive)
	if err != nil {
		return 0
	}
	pools, err := engine.Aggregate(m.Options, active)
	if err != nil {
		return 0
	}
	op := pools[option]
	op.Total += amount
	pools[option] = op

	out, err := engine.Settle(pools, option, m.FeeBps)
	if err != nil {
		return 0
	}
	return out.Multiplier()
}

// Get retrieves a stake by ID.
func (s *StakeService) Get(ctx context.Context, id string) (domain.Stake, error) {
	st, err := s.stakes.GetByID(ctx, id)
	if err != nil {
		return domain.Stake{}, fmt.Errorf("stake_service: get %q: %w", id, err)
	}
	return st, nil
}

// ListByAccount returns an account's stakes, newest first.
func (s *StakeService) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Stake, error) {
	stakes, err := s.stakes.ListByAccount(ctx, accountID, opts)
	if err != nil {
		return nil, fmt.Errorf("stake_service: list for %q: %w", accountID, err)
	}
	return stakes, nil
}

// Cancel withdraws an active stake while its market is still open. The
// penalty is retained by the platform; refund plus penalty always equals the
// stake amount, so cancellation conserves currency like everything else.
func (s *StakeService) Cancel(ctx context.Context, stakeID, accountID string) (domain.CancelResult, error) {
	var result domain.CancelResult

	_, err := s.settle.FinalizeStake(ctx, stakeID, func(st domain.Stake, m domain.Market, _ []domain.Stake) (domain.StakeFinalization, error) {
		if st.AccountID != accountID {
			return domain.StakeFinalization{}, domain.ErrNotFound
		}
		if !m.AcceptsStakes() {
			return domain.StakeFinalization{}, fmt.Errorf("stake_service: market %q is %s: %w",
				m.ID, m.Status, domain.ErrMarketNotOpen)
		}

		refund, penalty := engine.CancelPenalty(st.Amount, s.cfg.PenaltyBps)
		result = domain.CancelResult{StakeID: st.ID, Refund: refund, Penalty: penalty}

		now := time.Now().UTC()
		entries := []domain.LedgerEntry{{
			ID:            uuid.NewString(),
			AccountID:     st.AccountID,
			Amount:        refund,
			Reason:        domain.LedgerReasonStakeRefund,
			CorrelationID: st.ID,
			CreatedAt:     now,
		}}
		if penalty > 0 {
			entries = append(entries, domain.LedgerEntry{
				ID:            uuid.NewString(),
				AccountID:     domain.FeeAccountID,
				Amount:        penalty,
				Reason:        domain.LedgerReasonPlatformFee,
				CorrelationID: st.ID,
				CreatedAt:     now,
			})
		}
		return domain.StakeFinalization{Status: domain.StakeStatusCancelled, Entries: entries}, nil
	})
	if err != nil {
		return domain.CancelResult{}, fmt.Errorf("stake_service: cancel %q: %w", stakeID, err)
	}

	s.publish(ctx, domain.EventStakeCancelled, map[string]any{
		"stake_id": stakeID,
		"refund":   result.Refund,
		"penalty":  result.Penalty,
	})
	s.auditLog(ctx, "stake_cancelled", map[string]any{
		"stake_id": stakeID,
		"refund":   result.Refund,
		"penalty":  result.Penalty,
	})
	s.logger.InfoContext(ctx, "stake_service: stake cancelled",
		slog.String("stake_id", stakeID),
		slog.Int64("refund", result.Refund),
		slog.Int64("penalty", result.Penalty),
	)
	return result, nil
}

// Quote prices an early exit for an active stake as if its option won right
// now. Advisory only: pools move with every placement, so the executed value
// is recomputed inside the cashout transaction and may differ.
func (s *StakeService) Quote(ctx context.Context, stakeID string) (domain.CashoutQuote, error) {
	st, err := s.stakes.GetByID(ctx, stakeID)
	if err != nil {
		return domain.CashoutQuote{}, fmt.Errorf("stake_service: quote %q: %w", stakeID, err)
	}
	if st.Status != domain.StakeStatusActive {
		return domain.CashoutQuote{}, fmt.Errorf("stake_service: quote %q: %w", stakeID, domain.ErrStakeNotActive)
	}

	m, err := s.markets.GetByID(ctx, st.MarketID)
	if err != nil {
		return domain.CashoutQuote{}, fmt.Errorf("stake_service: quote market %q: %w", st.MarketID, err)
	}
	active, err := s.stakes.ListByMarket(ctx, st.MarketID, domain.StakeStatusActive)
	if err != nil {
		return domain.CashoutQuote{}, fmt.Errorf("stake_service: quote stakes %q: %w", st.MarketID, err)
	}

	gross, fee, net, mult, err := cashoutValue(st, m, active, s.cfg.CashoutFeeBps)
	if err != nil {
		return domain.CashoutQuote{}, fmt.Errorf("stake_service: quote %q: %w", stakeID, err)
	}

	return domain.CashoutQuote{
		StakeID:    stakeID,
		Gross:      gross,
		Fee:        fee,
		Net:        net,
		Multiplier: mult,
		QuotedAt:   time.Now().UTC(),
	}, nil
}

// Cashout exits an active stake early at its live value. The value is
// computed inside the settlement transaction from the same snapshot that
// flips the stake, so the credited amount is exact for that instant even if
// it drifted from the last quote.
func (s *StakeService) Cashout(ctx context.Context, stakeID, accountID string) (domain.CashoutResult, error) {
	var result domain.CashoutResult

	_, err := s.settle.FinalizeStake(ctx, stakeID, func(st domain.Stake, m domain.Market, active []domain.Stake) (domain.StakeFinalization, error) {
		if st.AccountID != accountID {
			return domain.StakeFinalization{}, domain.ErrNotFound
		}
		if !m.AcceptsStakes() {
			return domain.StakeFinalization{}, fmt.Errorf("stake_service: market %q is %s: %w",
				m.ID, m.Status, domain.ErrMarketNotOpen)
		}

		_, fee, net, _, err := cashoutValue(st, m, active, s.cfg.CashoutFeeBps)
		if err != nil {
			return domain.StakeFinalization{}, err
		}
		result = domain.CashoutResult{StakeID: st.ID, Net: net}

		now := time.Now().UTC()
		entries := []domain.LedgerEntry{{
			ID:            uuid.NewString(),
			AccountID:     st.AccountID,
			Amount:        net,
			Reason:        domain.LedgerReasonStakeCashout,
			CorrelationID: st.ID,
			CreatedAt:     now,
		}}
		if fee > 0 {
			entries = append(entries, domain.LedgerEntry{
				ID:            uuid.NewString(),
				AccountID:     domain.FeeAccountID,
				Amount:        fee,
				Reason:        domain.LedgerReasonPlatformFee,
				CorrelationID: st.ID,
				CreatedAt:     now,
			})
		}
		return domain.StakeFinalization{Status: domain.StakeStatusCashedOut, Entries: entries}, nil
	})
	if err != nil {
		return domain.CashoutResult{}, fmt.Errorf("stake_service: cashout %q: %w", stakeID, err)
	}

	s.publish(ctx, domain.EventStakeCashedOut, map[string]any{
		"stake_id":   stakeID,
		"net_amount": result.Net,
	})
	s.auditLog(ctx, "stake_cashed_out", map[string]any{
		"stake_id":   stakeID,
		"net_amount": result.Net,
	})
	s.logger.InfoContext(ctx, "stake_service: stake cashed out",
		slog.String("stake_id", stakeID),
		slog.Int64("net_amount", result.Net),
	)
	return result, nil
}

// cashoutValue computes the live exit value of a stake against the current
// pools with the stake's option winning.
func cashoutValue(st domain.Stake, m domain.Market, active []domain.Stake, cashoutFeeBps int) (gross, fee, net int64, mult float64, err error) {
	pools, err := engine.Aggregate(m.Options, active)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	out, err := engine.Settle(pools, st.Option, m.FeeBps)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	gross, fee, net = engine.CashoutValue(st.Amount, out, cashoutFeeBps)
	return gross, fee, net, out.Multiplier(), nil
}

func (s *StakeService) validateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("stake_service: amount %d: %w", amount, domain.ErrInvalidAmount)
	}
	if s.cfg.MinStake > 0 && amount < s.cfg.MinStake {
		return fmt.Errorf("stake_service: amount %d below minimum %d: %w", amount, s.cfg.MinStake, domain.ErrInvalidAmount)
	}
	if s.cfg.MaxStake > 0 && amount > s.cfg.MaxStake {
		return fmt.Errorf("stake_service: amount %d above maximum %d: %w", amount, s.cfg.MaxStake, domain.ErrInvalidAmount)
	}
	return nil
}

func (s *StakeService) allow(ctx context.Context, key string) error {
	limit := s.cfg.RatePerMinute
	if limit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, key, limit, time.Minute)
	if err != nil {
		return fmt.Errorf("stake_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *StakeService) publish(ctx context.Context, eventType string, payload map[string]any) {
	evt, err := json.Marshal(domain.Event{Type: eventType, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		return
	}
	if pubErr := s.bus.Publish(ctx, domain.ChannelStakes, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "stake_service: publish event failed",
			slog.String("event", eventType),
			slog.String("error", pubErr.Error()),
		)
	}
}

func (s *StakeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "stake_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
