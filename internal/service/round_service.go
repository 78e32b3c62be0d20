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
)

// RoundConfig carries the fast-round lifecycle parameters.
type RoundConfig struct {
	Assets        []string      // assets that run continuous rounds
	Duration      time.Duration // open-to-close span, 60s in production
	LockWindow    time.Duration // no stakes this close to the end
	RatePerMinute int           // per-account placement budget
}

// Validate rejects configurations that cannot produce a usable round.
func (c RoundConfig) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("round duration must be positive, got %s", c.Duration)
	}
	if c.LockWindow < 0 || c.LockWindow >= c.Duration {
		return fmt.Errorf("lock window %s must be within the round duration %s", c.LockWindow, c.Duration)
	}
	return nil
}

// RoundService runs the fast-round lifecycle: open with a price snapshot,
// lock at the cutoff, resolve at the close, roll over. Resolution itself is
// delegated to the settlement service; this service decides when.
type RoundService struct {
	rounds  domain.RoundStore
	settler *SettlementService
	prices  PriceReader
	limiter domain.RateLimiter
	bus     domain.SignalBus
	cfg     RoundConfig
	logger  *slog.Logger
}

// NewRoundService creates a RoundService with all required dependencies.
func NewRoundService(
	rounds domain.RoundStore,
	settler *SettlementService,
	prices PriceReader,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	cfg RoundConfig,
	logger *slog.Logger,
) *RoundService {
	return &RoundService{
		rounds:  rounds,
		settler: settler,
		prices:  prices,
		limiter: limiter,
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
	}
}

// Open starts the next round for an asset, snapshotting the current
// reference price as the open price. A stale feed defers the open.
func (s *RoundService) Open(ctx context.Context, asset string) (domain.Round, error) {
	openPrice, err := s.prices.Price(ctx, asset)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: open price for %s: %w", asset, err)
	}

	now := time.Now().UTC()
	closeAt := now.Add(s.cfg.Duration)
	r := domain.Round{
		ID:        uuid.NewString(),
		Asset:     asset,
		OpenPrice: openPrice,
		OpenAt:    now,
		LockAt:    closeAt.Add(-s.cfg.LockWindow),
		CloseAt:   closeAt,
		Status:    domain.RoundStatusActive,
		CreatedAt: now,
	}
	r, err = s.rounds.Create(ctx, r)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: open round for %s: %w", asset, err)
	}

	s.publish(ctx, domain.EventRoundOpened, map[string]any{
		"round_id":   r.ID,
		"asset":      asset,
		"sequence":   r.Sequence,
		"open_price": openPrice,
		"lock_at":    r.LockAt,
		"close_at":   r.CloseAt,
	})
	s.logger.InfoContext(ctx, "round_service: round opened",
		slog.String("round_id", r.ID),
		slog.String("asset", asset),
		slog.Int64("sequence", r.Sequence),
		slog.Int64("open_price", openPrice),
	)
	return r, nil
}

// Current returns the latest non-resolved round for an asset.
func (s *RoundService) Current(ctx context.Context, asset string) (domain.Round, error) {
	r, err := s.rounds.CurrentByAsset(ctx, asset)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: current round for %s: %w", asset, err)
	}
	return r, nil
}

// Get retrieves a round by ID.
func (s *RoundService) Get(ctx context.Context, id string) (domain.Round, error) {
	r, err := s.rounds.GetByID(ctx, id)
	if err != nil {
		return domain.Round{}, fmt.Errorf("round_service: get %q: %w", id, err)
	}
	return r, nil
}

// List returns an asset's rounds, newest first.
func (s *RoundService) List(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.Round, error) {
	rounds, err := s.rounds.List(ctx, asset, opts)
	if err != nil {
		return nil, fmt.Errorf("round_service: list for %s: %w", asset, err)
	}
	return rounds, nil
}

// PlaceStake stakes amount on one side of an active, pre-lock round. The
// store's atomic unit re-validates the cutoff and balance with the round row
// locked, so the lock boundary is exact even under race.
func (s *RoundService) PlaceStake(ctx context.Context, roundID, accountID string, side domain.RoundSide, amount int64) (domain.RoundStake, error) {
	if side != domain.RoundSideUp && side != domain.RoundSideDown {
		return domain.RoundStake{}, fmt.Errorf("round_service: side %q: %w", side, domain.ErrInvalidSide)
	}
	if amount <= 0 {
		return domain.RoundStake{}, fmt.Errorf("round_service: amount %d: %w", amount, domain.ErrInvalidAmount)
	}
	if s.cfg.RatePerMinute > 0 {
		allowed, err := s.limiter.Allow(ctx, "rounds:"+accountID, s.cfg.RatePerMinute, time.Minute)
		if err != nil {
			return domain.RoundStake{}, fmt.Errorf("round_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.RoundStake{}, domain.ErrRateLimited
		}
	}

	st := domain.RoundStake{
		ID:        uuid.NewString(),
		RoundID:   roundID,
		AccountID: accountID,
		Side:      side,
		Amount:    amount,
		Status:    domain.StakeStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.rounds.PlaceStake(ctx, st); err != nil {
		return domain.RoundStake{}, fmt.Errorf("round_service: place stake: %w", err)
	}

	s.publish(ctx, domain.EventStakePlaced, map[string]any{
		"stake_id": st.ID,
		"round_id": roundID,
		"side":     string(side),
		"amount":   amount,
	})
	return st, nil
}

// Stakes lists a round's stakes, optionally filtered by status.
func (s *RoundService) Stakes(ctx context.Context, roundID string, status domain.StakeStatus) ([]domain.RoundStake, error) {
	stakes, err := s.rounds.ListStakes(ctx, roundID, status)
	if err != nil {
		return nil, fmt.Errorf("round_service: list stakes for %q: %w", roundID, err)
	}
	return stakes, nil
}

// Tick advances the round machinery one step: lock rounds past their cutoff,
// resolve rounds past their close, and make sure every configured asset has
// a live round. The scheduler calls it on a short interval; every part is
// idempotent, so overlapping or missed ticks converge.
func (s *RoundService) Tick(ctx context.Context) {
	now := time.Now().UTC()

	locked, err := s.rounds.MarkLocked(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "round_service: mark locked failed",
			slog.String("error", err.Error()),
		)
	}
	for _, r := range locked {
		s.publish(ctx, domain.EventRoundLocked, map[string]any{
			"round_id": r.ID,
			"asset":    r.Asset,
			"sequence": r.Sequence,
		})
	}

	s.resolveDue(ctx, now)
	s.rollover(ctx)
}

// resolveDue settles every round past its close time. Lock contention and a
// stale price feed are deferrals, not failures; the next tick retries.
func (s *RoundService) resolveDue(ctx context.Context, now time.Time) {
	due, err := s.rounds.ListDue(ctx, now, 50)
	if err != nil {
		s.logger.ErrorContext(ctx, "round_service: list due failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, r := range due {
		if _, err := s.settler.ResolveRound(ctx, r); err != nil {
			if IsRetryable(err) {
				s.logger.DebugContext(ctx, "round_service: resolution deferred",
					slog.String("round_id", r.ID),
					slog.String("reason", err.Error()),
				)
				continue
			}
			s.logger.ErrorContext(ctx, "round_service: resolution failed",
				slog.String("round_id", r.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// rollover opens a round for every configured asset that has none live.
func (s *RoundService) rollover(ctx context.Context) {
	for _, asset := range s.cfg.Assets {
		_, err := s.rounds.CurrentByAsset(ctx, asset)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.ErrorContext(ctx, "round_service: current round lookup failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := s.Open(ctx, asset); err != nil {
			if errors.Is(err, domain.ErrPriceUnavailable) {
				s.logger.DebugContext(ctx, "round_service: rollover deferred, no price",
					slog.String("asset", asset),
				)
				continue
			}
			s.logger.ErrorContext(ctx, "round_service: rollover failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *RoundService) publish(ctx context.Context, eventType string, payload map[string]any) {
	evt, err := json.Marshal(domain.Event{Type: eventType, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		return
	}
	if pubErr := s.bus.Publish(ctx, domain.ChannelRounds, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "round_service: publish event failed",
			slog.String("event", eventType),
			slog.String("error", pubErr.Error()),
		)
	}
}
