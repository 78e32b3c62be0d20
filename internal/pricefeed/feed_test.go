package pricefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolbet/poolbet/internal/domain"
)

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]domain.PricePoint
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: make(map[string]domain.PricePoint)}
}

func (c *memPriceCache) SetPrice(_ context.Context, asset string, price int64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = domain.PricePoint{Asset: asset, Price: price, At: ts}
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, asset string) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[asset]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.Price, p.At, nil
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"64250.17", 642_501_700},
		{"100", 1_000_000},
		{"100.02", 1_000_200},
		{"0.5", 5_000},
		{"1.23456789", 12_345}, // truncated past four decimals
		{" 42.0 ", 420_000},
	}
	for _, tc := range cases {
		got, err := ParsePrice(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParsePriceRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "-5", "1.2x"} {
		_, err := ParsePrice(in)
		assert.Error(t, err, in)
	}
}

func TestReaderStaleness(t *testing.T) {
	ctx := context.Background()
	cache := newMemPriceCache()
	reader := NewReader(cache, 10*time.Second)

	_, err := reader.Price(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	require.NoError(t, cache.SetPrice(ctx, "BTC", 642_501_700, time.Now()))
	price, err := reader.Price(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(642_501_700), price)

	require.NoError(t, cache.SetPrice(ctx, "BTC", 642_501_700, time.Now().Add(-time.Minute)))
	_, err = reader.Price(ctx, "BTC")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestFeedWritesCache(t *testing.T) {
	cache := newMemPriceCache()
	src := NewSimSource(map[string]int64{"BTC": 642_501_700}, 5*time.Millisecond, 10, testLogger())
	feed := NewFeed(src, cache, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = feed.Run(ctx)

	price, _, err := cache.GetPrice(context.Background(), "BTC")
	require.NoError(t, err)
	// Bounded walk: within half to double the start.
	assert.GreaterOrEqual(t, price, int64(642_501_700/2))
	assert.LessOrEqual(t, price, int64(642_501_700*2))
}
