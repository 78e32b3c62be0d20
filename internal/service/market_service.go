// Package service implements the platform's use cases on top of the domain
// stores: market lifecycle, stake placement and exit, fast rounds, and the
// settlement orchestration that ties them together.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poolbet/poolbet/internal/domain"
)

// MarketService handles the market lifecycle up to the settlement trigger.
type MarketService struct {
	markets     domain.MarketStore
	stakes      domain.StakeStore
	resolutions domain.ResolutionStore
	bus         domain.SignalBus
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	markets domain.MarketStore,
	stakes domain.StakeStore,
	resolutions domain.ResolutionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets:     markets,
		stakes:      stakes,
		resolutions: resolutions,
		bus:         bus,
		audit:       audit,
		logger:      logger,
	}
}

// Create validates and stores a new open market. Options must be at least two
// and unique; the option set is frozen from this point on.
func (s *MarketService) Create(ctx context.Context, title string, options []string, feeBps int) (domain.Market, error) {
	if len(options) < 2 {
		return domain.Market{}, fmt.Errorf("market_service: %d options: %w", len(options), domain.ErrInvalidOption)
	}
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if opt == "" {
			return domain.Market{}, fmt.Errorf("market_service: empty option: %w", domain.ErrInvalidOption)
		}
		if _, dup := seen[opt]; dup {
			return domain.Market{}, fmt.Errorf("market_service: duplicate option %q: %w", opt, domain.ErrInvalidOption)
		}
		seen[opt] = struct{}{}
	}
	if feeBps < 0 || feeBps >= 10_000 {
		return domain.Market{}, fmt.Errorf("market_service: fee %d bps: %w", feeBps, domain.ErrInvalidFeeRate)
	}

	m := domain.Market{
		ID:        uuid.NewString(),
		Title:     title,
		Options:   options,
		Status:    domain.MarketStatusOpen,
		FeeBps:    feeBps,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.publish(ctx, domain.EventMarketCreated, map[string]any{
		"market_id": m.ID,
		"title":     m.Title,
		"options":   m.Options,
	})
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID),
		slog.Int("options", len(m.Options)),
	)
	return m, nil
}

// Get retrieves a market by ID.
func (s *MarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	return m, nil
}

// List returns markets filtered by status. An empty status returns all.
func (s *MarketService) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// Close stops further staking on a market. Closing is a precondition for
// resolution.
func (s *MarketService) Close(ctx context.Context, id string) error {
	if err := s.markets.Close(ctx, id); err != nil {
		return fmt.Errorf("market_service: close %q: %w", id, err)
	}

	s.publish(ctx, domain.EventMarketClosed, map[string]any{"market_id": id})
	s.logger.InfoContext(ctx, "market_service: market closed", slog.String("market_id", id))
	return nil
}

// Stakes lists a market's stakes, optionally filtered by status.
func (s *MarketService) Stakes(ctx context.Context, marketID string, status domain.StakeStatus) ([]domain.Stake, error) {
	stakes, err := s.stakes.ListByMarket(ctx, marketID, status)
	if err != nil {
		return nil, fmt.Errorf("market_service: list stakes for %q: %w", marketID, err)
	}
	return stakes, nil
}

// Resolution returns the settlement record of a resolved market.
func (s *MarketService) Resolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	r, err := s.resolutions.GetByMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("market_service: resolution for %q: %w", marketID, err)
	}
	return r, nil
}

func (s *MarketService) publish(ctx context.Context, eventType string, payload map[string]any) {
	evt, err := json.Marshal(domain.Event{Type: eventType, At: time.Now().UTC(), Payload: payload})
	if err != nil {
		return
	}
	if pubErr := s.bus.Publish(ctx, domain.ChannelMarkets, evt); pubErr != nil {
		s.logger.WarnContext(ctx, "market_service: publish event failed",
			slog.String("event", eventType),
			slog.String("error", pubErr.Error()),
		)
	}
}
