package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/poolbet/poolbet/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// observation is a hash at "price:{asset}" with fields "price" (fixed-point
// minimal units, 4 decimals) and "ts" (Unix nanoseconds). Prices stay integer
// end to end; the cache never goes through float.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(asset string) string {
	return "price:" + asset
}

// SetPrice stores the latest observation for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price int64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatInt(price, 10),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice returns the last observed price and its timestamp. It returns
// domain.ErrNotFound when no observation exists for the asset. Staleness is
// the caller's concern; the cache just reports what it has.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (int64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price ts %s: %w", asset, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
