// Package pricefeed supplies the reference prices that anchor fast rounds.
// A Source produces raw price ticks; the Feed persists them to the price
// cache and fans them out on the signal bus; the Reader serves lookups with a
// staleness bound so settlement never acts on a dead feed.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/poolbet/poolbet/internal/domain"
)

// TickHandler receives each price observation from a Source.
type TickHandler func(domain.PricePoint)

// Source produces price ticks for a set of assets until the context ends.
type Source interface {
	Run(ctx context.Context, h TickHandler) error
}

// Feed pumps a Source into the price cache and publishes each tick to the
// prices channel for WebSocket subscribers.
type Feed struct {
	source Source
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewFeed creates a Feed. bus may be nil when fan-out is not needed.
func NewFeed(source Source, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *Feed {
	return &Feed{
		source: source,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "pricefeed")),
	}
}

// Run consumes the source until the context is cancelled. Cache write
// failures are logged and skipped; a transiently unreachable cache must not
// kill the feed.
func (f *Feed) Run(ctx context.Context) error {
	f.logger.Info("price feed started")
	defer f.logger.Info("price feed stopped")

	return f.source.Run(ctx, func(p domain.PricePoint) {
		if err := f.cache.SetPrice(ctx, p.Asset, p.Price, p.At); err != nil {
			f.logger.Warn("price cache write failed",
				slog.String("asset", p.Asset),
				slog.String("error", err.Error()),
			)
			return
		}
		if f.bus == nil {
			return
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return
		}
		if err := f.bus.Publish(ctx, domain.ChannelPrices, payload); err != nil {
			f.logger.Debug("price publish failed", slog.String("error", err.Error()))
		}
	})
}

// Reader serves price lookups from the cache, rejecting observations older
// than maxAge. Round resolution treats a stale or missing price as
// unavailable and defers rather than guessing.
type Reader struct {
	cache  domain.PriceCache
	maxAge time.Duration
}

// NewReader creates a Reader with the given staleness bound.
func NewReader(cache domain.PriceCache, maxAge time.Duration) *Reader {
	return &Reader{cache: cache, maxAge: maxAge}
}

// Price returns the current reference price for an asset. It returns
// domain.ErrPriceUnavailable when no observation exists or the latest one is
// older than the staleness bound.
func (r *Reader) Price(ctx context.Context, asset string) (int64, error) {
	price, ts, err := r.cache.GetPrice(ctx, asset)
	if err != nil {
		if err == domain.ErrNotFound {
			return 0, domain.ErrPriceUnavailable
		}
		return 0, fmt.Errorf("pricefeed: read %s: %w", asset, err)
	}
	if time.Since(ts) > r.maxAge {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

// ParsePrice converts a decimal price string ("64250.17") to fixed-point
// minimal units at domain.PriceScale. Excess fractional digits are truncated.
func ParsePrice(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("pricefeed: empty price")
	}

	whole, frac, _ := strings.Cut(s, ".")
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pricefeed: parse price %q: %w", s, err)
	}
	if w < 0 {
		return 0, fmt.Errorf("pricefeed: negative price %q", s)
	}

	// Pad or truncate the fraction to exactly four digits.
	if len(frac) > 4 {
		frac = frac[:4]
	}
	for len(frac) < 4 {
		frac += "0"
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pricefeed: parse price %q: %w", s, err)
	}

	return w*domain.PriceScale + f, nil
}
