package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolbet/poolbet/internal/domain"
)

type memRoundStore struct {
	mu      sync.Mutex
	rounds  map[string]domain.Round
	stakes  map[string]domain.RoundStake
	nextSeq map[string]int64
}

func newMemRoundStore() *memRoundStore {
	return &memRoundStore{
		rounds:  make(map[string]domain.Round),
		stakes:  make(map[string]domain.RoundStake),
		nextSeq: make(map[string]int64),
	}
}

func (s *memRoundStore) Create(_ context.Context, r domain.Round) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq[r.Asset]++
	r.Sequence = s.nextSeq[r.Asset]
	s.rounds[r.ID] = r
	return r, nil
}

func (s *memRoundStore) GetByID(_ context.Context, id string) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[id]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memRoundStore) CurrentByAsset(_ context.Context, asset string) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current *domain.Round
	for _, r := range s.rounds {
		if r.Asset != asset || r.Status == domain.RoundStatusResolved {
			continue
		}
		if current == nil || r.Sequence > current.Sequence {
			cp := r
			current = &cp
		}
	}
	if current == nil {
		return domain.Round{}, domain.ErrNotFound
	}
	return *current, nil
}

func (s *memRoundStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Round
	for _, r := range s.rounds {
		if r.Status != domain.RoundStatusResolved && !now.Before(r.CloseAt) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CloseAt.Before(due[j].CloseAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memRoundStore) MarkLocked(_ context.Context, now time.Time) ([]domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var locked []domain.Round
	for id, r := range s.rounds {
		if r.Status == domain.RoundStatusActive && !now.Before(r.LockAt) {
			r.Status = domain.RoundStatusLocked
			s.rounds[id] = r
			locked = append(locked, r)
		}
	}
	return locked, nil
}

func (s *memRoundStore) List(_ context.Context, asset string, _ domain.ListOpts) ([]domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Round
	for _, r := range s.rounds {
		if r.Asset == asset {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRoundStore) PlaceStake(_ context.Context, st domain.RoundStake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rounds[st.RoundID]
	if !ok {
		return domain.ErrNotFound
	}
	if !r.AcceptsStakes(time.Now()) {
		return domain.ErrRoundNotOpen
	}
	s.stakes[st.ID] = st
	return nil
}

func (s *memRoundStore) ListStakes(_ context.Context, roundID string, status domain.StakeStatus) ([]domain.RoundStake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RoundStake
	for _, st := range s.stakes {
		if st.RoundID == roundID && (status == "" || st.Status == status) {
			out = append(out, st)
		}
	}
	return out, nil
}

func newRoundService(rounds *memRoundStore, prices fixedPrices, bus *memBus) *RoundService {
	settler := NewSettlementService(newFakeSettlementStore(), newMemLocks(), prices, bus, &memAudit{}, nil,
		SettlementConfig{RoundFeeBps: 100, EpsilonBps: 1}, testLogger())
	cfg := RoundConfig{
		Assets:     []string{"BTC"},
		Duration:   time.Minute,
		LockWindow: 5 * time.Second,
	}
	return NewRoundService(rounds, settler, prices, &memLimiter{}, bus, cfg, testLogger())
}

func TestRoundConfigValidate(t *testing.T) {
	assert.NoError(t, RoundConfig{Duration: time.Minute, LockWindow: 5 * time.Second}.Validate())
	assert.Error(t, RoundConfig{Duration: 0}.Validate())
	assert.Error(t, RoundConfig{Duration: time.Minute, LockWindow: time.Minute}.Validate())
	assert.Error(t, RoundConfig{Duration: time.Minute, LockWindow: -time.Second}.Validate())
}

func TestOpenRound(t *testing.T) {
	rounds := newMemRoundStore()
	bus := newMemBus()
	svc := newRoundService(rounds, fixedPrices{"BTC": 642_501_700}, bus)

	r, err := svc.Open(context.Background(), "BTC")
	require.NoError(t, err)

	assert.Equal(t, int64(1), r.Sequence)
	assert.Equal(t, int64(642_501_700), r.OpenPrice)
	assert.Equal(t, domain.RoundStatusActive, r.Status)
	assert.True(t, r.LockAt.Before(r.CloseAt))
	assert.Equal(t, 55*time.Second, r.LockAt.Sub(r.OpenAt))

	next, err := svc.Open(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Sequence, "sequence is monotonic per asset")

	events := bus.published(domain.ChannelRounds)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventRoundOpened, events[0].Type)
}

func TestOpenRoundNoPrice(t *testing.T) {
	svc := newRoundService(newMemRoundStore(), fixedPrices{}, newMemBus())

	_, err := svc.Open(context.Background(), "BTC")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestPlaceRoundStake(t *testing.T) {
	rounds := newMemRoundStore()
	svc := newRoundService(rounds, fixedPrices{"BTC": 642_501_700}, newMemBus())

	r, err := svc.Open(context.Background(), "BTC")
	require.NoError(t, err)

	st, err := svc.PlaceStake(context.Background(), r.ID, "alice", domain.RoundSideUp, 500)
	require.NoError(t, err)
	assert.Equal(t, domain.StakeStatusActive, st.Status)

	_, err = svc.PlaceStake(context.Background(), r.ID, "alice", "sideways", 500)
	assert.ErrorIs(t, err, domain.ErrInvalidSide)

	_, err = svc.PlaceStake(context.Background(), r.ID, "alice", domain.RoundSideDown, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestPlaceRoundStakePastLock(t *testing.T) {
	rounds := newMemRoundStore()
	svc := newRoundService(rounds, fixedPrices{"BTC": 642_501_700}, newMemBus())

	r, err := svc.Open(context.Background(), "BTC")
	require.NoError(t, err)

	// Force the lock cutoff into the past.
	locked := rounds.rounds[r.ID]
	locked.LockAt = time.Now().Add(-time.Second)
	rounds.rounds[r.ID] = locked

	_, err = svc.PlaceStake(context.Background(), r.ID, "alice", domain.RoundSideUp, 500)
	assert.ErrorIs(t, err, domain.ErrRoundNotOpen)
}

func TestTickLocksAndRollsOver(t *testing.T) {
	rounds := newMemRoundStore()
	bus := newMemBus()
	svc := newRoundService(rounds, fixedPrices{"BTC": 642_501_700}, bus)

	// No live round yet: the first tick opens one.
	svc.Tick(context.Background())
	r, err := rounds.CurrentByAsset(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Sequence)

	// Push the round past its lock cutoff and tick again.
	r.LockAt = time.Now().Add(-time.Second)
	rounds.rounds[r.ID] = r
	svc.Tick(context.Background())

	r, err = rounds.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundStatusLocked, r.Status)

	var sawLocked bool
	for _, e := range bus.published(domain.ChannelRounds) {
		if e.Type == domain.EventRoundLocked {
			sawLocked = true
		}
	}
	assert.True(t, sawLocked)
}
