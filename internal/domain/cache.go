package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest reference-price observation per asset.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price int64, ts time.Time) error
	// GetPrice returns the last observed price and its timestamp. It returns
	// ErrNotFound when no observation exists for the asset.
	GetPrice(ctx context.Context, asset string) (int64, time.Time, error)
}

// LockManager provides distributed locks used to serialize settlement
// triggers per market/round. The lock is contention relief, not the
// correctness mechanism; the store transaction is.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld if another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds per-account operation rates.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is one durable message read from an event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes lifecycle and settlement events to subscribers
// (WebSocket hub, operations tooling) and appends them to durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
