package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingTicker struct {
	ticks atomic.Int64
}

func (c *countingTicker) Tick(context.Context) {
	c.ticks.Add(1)
}

func TestSchedulerTicksImmediatelyAndPeriodically(t *testing.T) {
	target := &countingTicker{}
	s := New(target, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, target.ticks.Load(), int64(3), "one immediate tick plus interval ticks")
}
