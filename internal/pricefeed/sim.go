package pricefeed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/poolbet/poolbet/internal/domain"
)

// SimSource generates a bounded random walk per asset. It stands in for the
// upstream feed in development and demo deployments where no real endpoint is
// configured.
type SimSource struct {
	assets   map[string]int64 // asset -> starting price in minimal units
	interval time.Duration
	driftBps int // max per-tick move, basis points of current price
	logger   *slog.Logger
}

// NewSimSource creates a SimSource emitting one tick per asset per interval.
func NewSimSource(assets map[string]int64, interval time.Duration, driftBps int, logger *slog.Logger) *SimSource {
	if driftBps <= 0 {
		driftBps = 10
	}
	return &SimSource{
		assets:   assets,
		interval: interval,
		driftBps: driftBps,
		logger:   logger.With(slog.String("component", "pricefeed_sim")),
	}
}

// Run emits ticks until the context is cancelled.
func (s *SimSource) Run(ctx context.Context, h TickHandler) error {
	current := make(map[string]int64, len(s.assets))
	floor := make(map[string]int64, len(s.assets))
	for asset, start := range s.assets {
		current[asset] = start
		// The walk stays within half to double the starting price.
		floor[asset] = start / 2
	}

	s.logger.Info("simulated price feed started", slog.Int("assets", len(s.assets)))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UTC()
			for asset, price := range current {
				next := s.step(price, floor[asset], s.assets[asset]*2)
				current[asset] = next
				h(domain.PricePoint{Asset: asset, Price: next, At: now})
			}
		}
	}
}

func (s *SimSource) step(price, lo, hi int64) int64 {
	// Uniform move in [-driftBps, +driftBps] of the current price.
	bps := int64(rand.Intn(2*s.driftBps+1) - s.driftBps)
	next := price + price*bps/10_000
	if next < lo {
		next = lo
	}
	if next > hi {
		next = hi
	}
	if next < 1 {
		next = 1
	}
	return next
}
