package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolbet/poolbet/internal/domain"
)

type memMarketStore struct {
	mu      sync.Mutex
	markets map[string]domain.Market
}

func newMemMarketStore(markets ...domain.Market) *memMarketStore {
	s := &memMarketStore{markets: make(map[string]domain.Market)}
	for _, m := range markets {
		s.markets[m.ID] = m
	}
	return s
}

func (s *memMarketStore) Create(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.markets[m.ID] = m
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) List(_ context.Context, status domain.MarketStatus, _ domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.markets {
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) Close(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusOpen {
		return domain.ErrMarketNotOpen
	}
	m.Status = domain.MarketStatusClosed
	s.markets[id] = m
	return nil
}

type memStakeStore struct {
	mu     sync.Mutex
	stakes map[string]domain.Stake
}

func newMemStakeStore(stakes ...domain.Stake) *memStakeStore {
	s := &memStakeStore{stakes: make(map[string]domain.Stake)}
	for _, st := range stakes {
		s.stakes[st.ID] = st
	}
	return s
}

func (s *memStakeStore) Place(_ context.Context, st domain.Stake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stakes[st.ID] = st
	return nil
}

func (s *memStakeStore) GetByID(_ context.Context, id string) (domain.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[id]
	if !ok {
		return domain.Stake{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *memStakeStore) ListByMarket(_ context.Context, marketID string, status domain.StakeStatus) ([]domain.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Stake
	for _, st := range s.stakes {
		if st.MarketID == marketID && (status == "" || st.Status == status) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memStakeStore) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.Stake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Stake
	for _, st := range s.stakes {
		if st.AccountID == accountID {
			out = append(out, st)
		}
	}
	return out, nil
}

func openMarket() domain.Market {
	return domain.Market{
		ID:      "m1",
		Title:   "test market",
		Options: []string{"yes", "no"},
		Status:  domain.MarketStatusOpen,
		FeeBps:  200,
	}
}

func newStakeService(markets *memMarketStore, stakes *memStakeStore, settle *fakeSettlementStore, limiter *memLimiter, cfg StakeConfig) *StakeService {
	return NewStakeService(stakes, markets, settle, limiter, newMemBus(), &memAudit{}, cfg, testLogger())
}

func TestPlaceStake(t *testing.T) {
	markets := newMemMarketStore(openMarket())
	stakes := newMemStakeStore(marketStake("existing", "bob", "no", 500))
	svc := newStakeService(markets, stakes, newFakeSettlementStore(), &memLimiter{}, StakeConfig{})

	st, err := svc.Place(context.Background(), "m1", "alice", "yes", 1000)
	require.NoError(t, err)

	assert.Equal(t, domain.StakeStatusActive, st.Status)
	assert.Equal(t, int64(1000), st.Amount)
	// As-if-resolved-now: pool yes=1000, no=500, fee 2% of 500 -> 1.49.
	assert.InDelta(t, 1.49, st.EntryMultiplier, 0.0001)

	stored, err := stakes.GetByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, stored.ID)
}

func TestPlaceStakeValidation(t *testing.T) {
	markets := newMemMarketStore(openMarket())
	svc := newStakeService(markets, newMemStakeStore(), newFakeSettlementStore(), &memLimiter{},
		StakeConfig{MinStake: 10, MaxStake: 10_000})

	ctx := context.Background()

	_, err := svc.Place(ctx, "m1", "alice", "yes", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Place(ctx, "m1", "alice", "yes", 5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Place(ctx, "m1", "alice", "yes", 20_000)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Place(ctx, "m1", "alice", "banana", 100)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)

	_, err = svc.Place(ctx, "missing", "alice", "yes", 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceStakeClosedMarket(t *testing.T) {
	m := openMarket()
	m.Status = domain.MarketStatusClosed
	svc := newStakeService(newMemMarketStore(m), newMemStakeStore(), newFakeSettlementStore(), &memLimiter{}, StakeConfig{})

	_, err := svc.Place(context.Background(), "m1", "alice", "yes", 100)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestPlaceStakeRateLimited(t *testing.T) {
	svc := newStakeService(newMemMarketStore(openMarket()), newMemStakeStore(), newFakeSettlementStore(),
		&memLimiter{deny: true}, StakeConfig{RatePerMinute: 5})

	_, err := svc.Place(context.Background(), "m1", "alice", "yes", 100)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestCancelStake(t *testing.T) {
	settle := newFakeSettlementStore()
	settle.market = openMarket()
	settle.addStake(marketStake("s1", "alice", "yes", 1000))

	svc := newStakeService(newMemMarketStore(openMarket()), newMemStakeStore(), settle, &memLimiter{},
		StakeConfig{PenaltyBps: 500}) // 5%

	result, err := svc.Cancel(context.Background(), "s1", "alice")
	require.NoError(t, err)

	assert.Equal(t, int64(950), result.Refund)
	assert.Equal(t, int64(50), result.Penalty)
	assert.Equal(t, result.Refund+result.Penalty, int64(1000), "cancellation conserves the stake amount")
	assert.Equal(t, domain.StakeStatusCancelled, settle.stakes["s1"].Status)

	var refund, penalty int64
	for _, e := range settle.entries {
		switch e.Reason {
		case domain.LedgerReasonStakeRefund:
			refund = e.Amount
		case domain.LedgerReasonPlatformFee:
			penalty = e.Amount
		}
	}
	assert.Equal(t, int64(950), refund)
	assert.Equal(t, int64(50), penalty)
}

func TestCancelStakeWrongAccount(t *testing.T) {
	settle := newFakeSettlementStore()
	settle.market = openMarket()
	settle.addStake(marketStake("s1", "alice", "yes", 1000))

	svc := newStakeService(newMemMarketStore(openMarket()), newMemStakeStore(), settle, &memLimiter{}, StakeConfig{})

	_, err := svc.Cancel(context.Background(), "s1", "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.StakeStatusActive, settle.stakes["s1"].Status)
}

func TestCancelStakeAlreadySettled(t *testing.T) {
	settle := newFakeSettlementStore()
	settle.market = openMarket()
	st := marketStake("s1", "alice", "yes", 1000)
	st.Status = domain.StakeStatusWon
	settle.addStake(st)

	svc := newStakeService(newMemMarketStore(openMarket()), newMemStakeStore(), settle, &memLimiter{}, StakeConfig{})

	_, err := svc.Cancel(context.Background(), "s1", "alice")
	assert.ErrorIs(t, err, domain.ErrStakeNotActive)
}

func TestCancelStakeClosedMarket(t *testing.T) {
	settle := newFakeSettlementStore()
	settle.market = openMarket()
	settle.market.Status = domain.MarketStatusClosed
	settle.addStake(marketStake("s1", "alice", "yes", 1000))

	svc := newStakeService(newMemMarketStore(openMarket()), newMemStakeStore(), settle, &memLimiter{}, StakeConfig{})

	_, err := svc.Cancel(context.Background(), "s1", "alice")
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestQuoteAndCashout(t *testing.T) {
	alice := marketStake("s1", "alice", "yes", 1000)
	bob := marketStake("s2", "bob", "no", 1000)

	settle := newFakeSettlementStore()
	settle.market = openMarket()
	settle.addStake(alice)
	settle.addStake(bob)

	stakes := newMemStakeStore(alice, bob)
	svc := newStakeService(newMemMarketStore(openMarket()), stakes, settle, &memLimiter{},
		StakeConfig{CashoutFeeBps: 300}) // 3%

	quote, err := svc.Quote(context.Background(), "s1")
	require.NoError(t, err)

	// As-if yes wins now: gross 1980, 3% fee 59, net 1921.
	assert.Equal(t, int64(1980), quote.Gross)
	assert.Equal(t, int64(59), quote.Fee)
	assert.Equal(t, int64(1921), quote.Net)
	assert.Equal(t, quote.Gross, quote.Fee+quote.Net)

	result, err := svc.Cashout(context.Background(), "s1", "alice")
	require.NoError(t, err)
	assert.Equal(t, quote.Net, result.Net, "pools unchanged, so execution matches the quote")
	assert.Equal(t, domain.StakeStatusCashedOut, settle.stakes["s1"].Status)

	// A second exit attempt finds nothing active.
	_, err = svc.Cashout(context.Background(), "s1", "alice")
	assert.ErrorIs(t, err, domain.ErrStakeNotActive)
}

func TestQuoteInactiveStake(t *testing.T) {
	st := marketStake("s1", "alice", "yes", 1000)
	st.Status = domain.StakeStatusCancelled

	svc := newStakeService(newMemMarketStore(openMarket()), newMemStakeStore(st), newFakeSettlementStore(), &memLimiter{}, StakeConfig{})

	_, err := svc.Quote(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrStakeNotActive)
}
