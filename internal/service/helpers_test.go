package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poolbet/poolbet/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memBus records published events per channel.
type memBus struct {
	mu     sync.Mutex
	events map[string][]domain.Event
}

func newMemBus() *memBus {
	return &memBus{events: make(map[string][]domain.Event)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	var evt domain.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[channel] = append(b.events[channel], evt)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) published(channel string) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events[channel]...)
}

// memAudit records audit events.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail, CreatedAt: time.Now()})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

// memLocks grants every lock unless held is set.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: make(map[string]bool)} }

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// memLimiter allows everything unless deny is set.
type memLimiter struct{ deny bool }

func (l *memLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return !l.deny, nil
}

// fixedPrices serves static prices per asset.
type fixedPrices map[string]int64

func (p fixedPrices) Price(_ context.Context, asset string) (int64, error) {
	price, ok := p[asset]
	if !ok {
		return 0, domain.ErrPriceUnavailable
	}
	return price, nil
}

// memAlerter records operator notifications.
type memAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *memAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

// fakeSettlementStore applies plans to in-memory state with the same
// semantics as the postgres implementation: terminal states return the prior
// resolution, flips only move stakes out of active, and the whole plan
// applies or none of it does.
type fakeSettlementStore struct {
	mu sync.Mutex

	market domain.Market
	stakes map[string]*domain.Stake

	round       domain.Round
	roundStakes map[string]*domain.RoundStake

	entries     []domain.LedgerEntry
	resolutions map[string]domain.Resolution // keyed by market/round ID
}

func newFakeSettlementStore() *fakeSettlementStore {
	return &fakeSettlementStore{
		stakes:      make(map[string]*domain.Stake),
		roundStakes: make(map[string]*domain.RoundStake),
		resolutions: make(map[string]domain.Resolution),
	}
}

func (f *fakeSettlementStore) addStake(st domain.Stake) {
	f.stakes[st.ID] = &st
}

func (f *fakeSettlementStore) addRoundStake(st domain.RoundStake) {
	f.roundStakes[st.ID] = &st
}

func (f *fakeSettlementStore) activeStakes() []domain.Stake {
	var out []domain.Stake
	for _, st := range f.stakes {
		if st.Status == domain.StakeStatusActive {
			out = append(out, *st)
		}
	}
	return out
}

func (f *fakeSettlementStore) ResolveMarket(_ context.Context, marketID string, plan domain.ResolveMarketFunc) (domain.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.market.Status == domain.MarketStatusResolved || f.market.Status == domain.MarketStatusBlocked {
		return f.resolutions[marketID], nil
	}

	p, err := plan(f.market, f.activeStakes())
	if err != nil {
		return domain.Resolution{}, err
	}

	now := time.Now().UTC()
	for _, payout := range p.Payouts {
		st := f.stakes[payout.StakeID]
		st.Status = domain.StakeStatusWon
		st.SettledAt = &now
	}
	for _, id := range p.LostStakeIDs {
		st := f.stakes[id]
		st.Status = domain.StakeStatusLost
		st.SettledAt = &now
	}
	f.entries = append(f.entries, p.Entries...)
	f.market.Status = p.MarketStatus
	f.market.Outcome = &p.Outcome

	res := domain.Resolution{
		ID:        "res-" + marketID,
		MarketID:  marketID,
		Outcome:   p.Outcome,
		Summary:   p.Summary,
		CreatedAt: now,
	}
	f.resolutions[marketID] = res
	return res, nil
}

func (f *fakeSettlementStore) ResolveRound(_ context.Context, roundID string, plan domain.ResolveRoundFunc) (domain.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.round.Status == domain.RoundStatusResolved {
		return f.resolutions[roundID], nil
	}

	var active []domain.RoundStake
	for _, st := range f.roundStakes {
		if st.Status == domain.StakeStatusActive {
			active = append(active, *st)
		}
	}

	p, err := plan(f.round, active)
	if err != nil {
		return domain.Resolution{}, err
	}

	now := time.Now().UTC()
	for _, payout := range p.Payouts {
		f.roundStakes[payout.StakeID].Status = domain.StakeStatusWon
	}
	for _, id := range p.LostStakeIDs {
		f.roundStakes[id].Status = domain.StakeStatusLost
	}
	for _, refund := range p.Refunds {
		f.roundStakes[refund.StakeID].Status = domain.StakeStatusRefunded
	}
	f.entries = append(f.entries, p.Entries...)
	f.round.Status = domain.RoundStatusResolved
	f.round.ClosePrice = &p.ClosePrice
	outcome := p.Outcome
	f.round.Outcome = &outcome

	res := domain.Resolution{
		ID:        "res-" + roundID,
		RoundID:   roundID,
		Outcome:   string(p.Outcome),
		Summary:   p.Summary,
		CreatedAt: now,
	}
	f.resolutions[roundID] = res
	return res, nil
}

func (f *fakeSettlementStore) FinalizeStake(_ context.Context, stakeID string, plan domain.FinalizeStakeFunc) (domain.Stake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.stakes[stakeID]
	if !ok {
		return domain.Stake{}, domain.ErrNotFound
	}
	if st.Status != domain.StakeStatusActive {
		return domain.Stake{}, domain.ErrStakeNotActive
	}

	p, err := plan(*st, f.market, f.activeStakes())
	if err != nil {
		return domain.Stake{}, err
	}

	now := time.Now().UTC()
	st.Status = p.Status
	st.SettledAt = &now
	f.entries = append(f.entries, p.Entries...)
	return *st, nil
}

var _ domain.SettlementStore = (*fakeSettlementStore)(nil)
