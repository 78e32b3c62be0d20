package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolbet/poolbet/internal/domain"
)

type memResolutionStore struct {
	byMarket map[string]domain.Resolution
	byRound  map[string]domain.Resolution
}

func (s *memResolutionStore) GetByMarket(_ context.Context, marketID string) (domain.Resolution, error) {
	r, ok := s.byMarket[marketID]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memResolutionStore) GetByRound(_ context.Context, roundID string) (domain.Resolution, error) {
	r, ok := s.byRound[roundID]
	if !ok {
		return domain.Resolution{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memResolutionStore) ListRecent(context.Context, int) ([]domain.Resolution, error) {
	return nil, nil
}

func newMarketService(markets *memMarketStore, bus *memBus) *MarketService {
	return NewMarketService(markets, newMemStakeStore(), &memResolutionStore{}, bus, &memAudit{}, testLogger())
}

func TestCreateMarket(t *testing.T) {
	markets := newMemMarketStore()
	bus := newMemBus()
	svc := newMarketService(markets, bus)

	m, err := svc.Create(context.Background(), "Who wins?", []string{"yes", "no", "draw"}, 200)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, []string{"yes", "no", "draw"}, m.Options)

	events := bus.published(domain.ChannelMarkets)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventMarketCreated, events[0].Type)
}

func TestCreateMarketValidation(t *testing.T) {
	svc := newMarketService(newMemMarketStore(), newMemBus())
	ctx := context.Background()

	_, err := svc.Create(ctx, "one option", []string{"yes"}, 200)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)

	_, err = svc.Create(ctx, "duplicate", []string{"yes", "yes"}, 200)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)

	_, err = svc.Create(ctx, "empty option", []string{"yes", ""}, 200)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)

	_, err = svc.Create(ctx, "fee too high", []string{"yes", "no"}, 10_000)
	assert.ErrorIs(t, err, domain.ErrInvalidFeeRate)

	_, err = svc.Create(ctx, "negative fee", []string{"yes", "no"}, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidFeeRate)
}

func TestCloseMarket(t *testing.T) {
	markets := newMemMarketStore(openMarket())
	bus := newMemBus()
	svc := newMarketService(markets, bus)

	require.NoError(t, svc.Close(context.Background(), "m1"))

	m, err := svc.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, m.Status)

	// Closing again is a precondition failure, not a silent no-op.
	err = svc.Close(context.Background(), "m1")
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)

	events := bus.published(domain.ChannelMarkets)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventMarketClosed, events[0].Type)
}
