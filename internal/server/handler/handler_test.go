package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolbet/poolbet/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMarketService returns canned values per method.
type fakeMarketService struct {
	market     domain.Market
	resolution domain.Resolution
	stakes     []domain.Stake
	err        error
}

func (f *fakeMarketService) Create(ctx context.Context, title string, options []string, feeBps int) (domain.Market, error) {
	if f.err != nil {
		return domain.Market{}, f.err
	}
	return domain.Market{ID: "m-1", Title: title, Options: options, FeeBps: feeBps, Status: domain.MarketStatusOpen}, nil
}

func (f *fakeMarketService) Get(ctx context.Context, id string) (domain.Market, error) {
	return f.market, f.err
}

func (f *fakeMarketService) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Market{f.market}, nil
}

func (f *fakeMarketService) Close(ctx context.Context, id string) error { return f.err }

func (f *fakeMarketService) Stakes(ctx context.Context, marketID string, status domain.StakeStatus) ([]domain.Stake, error) {
	return f.stakes, f.err
}

func (f *fakeMarketService) Resolution(ctx context.Context, marketID string) (domain.Resolution, error) {
	return f.resolution, f.err
}

type fakeResolver struct {
	res domain.Resolution
	err error
}

func (f *fakeResolver) ResolveMarket(ctx context.Context, marketID, winning string) (domain.Resolution, error) {
	return f.res, f.err
}

func newRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	return httptest.NewRequest(method, target, &buf)
}

func TestCreateMarketHandler(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, &fakeResolver{}, testLogger())

	req := newRequest(t, http.MethodPost, "/api/markets", map[string]any{
		"title":   "Who wins?",
		"options": []string{"yes", "no"},
		"fee_bps": 200,
	})
	rec := httptest.NewRecorder()
	h.CreateMarket(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.Market
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Who wins?", got.Title)
	assert.Equal(t, []string{"yes", "no"}, got.Options)
}

func TestCreateMarketHandlerRejectsBadBody(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, &fakeResolver{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.CreateMarket(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidAmount, http.StatusBadRequest},
		{domain.ErrInvalidOption, http.StatusBadRequest},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrMarketNotOpen, http.StatusConflict},
		{domain.ErrAlreadyResolved, http.StatusConflict},
		{domain.ErrStakeNotActive, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusConflict},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrPriceUnavailable, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorStatus(tc.err), tc.err.Error())
	}
}

func TestResolveMarketHandlerConflict(t *testing.T) {
	h := NewMarketHandler(&fakeMarketService{}, &fakeResolver{err: domain.ErrLockHeld}, testLogger())

	req := newRequest(t, http.MethodPost, "/api/markets/m-1/resolve", map[string]any{"outcome": "yes"})
	req.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.ResolveMarket(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveMarketHandlerReturnsResolution(t *testing.T) {
	res := domain.Resolution{
		ID:       "res-1",
		MarketID: "m-1",
		Outcome:  "yes",
		Summary:  domain.SettlementSummary{TotalPool: 2000, Fee: 20},
	}
	h := NewMarketHandler(&fakeMarketService{}, &fakeResolver{res: res}, testLogger())

	req := newRequest(t, http.MethodPost, "/api/markets/m-1/resolve", map[string]any{"outcome": "yes"})
	req.SetPathValue("id", "m-1")
	rec := httptest.NewRecorder()
	h.ResolveMarket(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "res-1", got.ID)
	assert.Equal(t, int64(20), got.Summary.Fee)
}

type fakeStakeService struct {
	stake domain.Stake
	err   error
}

func (f *fakeStakeService) Place(ctx context.Context, marketID, accountID, option string, amount int64) (domain.Stake, error) {
	if f.err != nil {
		return domain.Stake{}, f.err
	}
	return domain.Stake{ID: "st-1", MarketID: marketID, AccountID: accountID, Option: option, Amount: amount, Status: domain.StakeStatusActive}, nil
}

func (f *fakeStakeService) Get(ctx context.Context, id string) (domain.Stake, error) {
	return f.stake, f.err
}

func (f *fakeStakeService) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Stake, error) {
	return nil, f.err
}

func (f *fakeStakeService) Cancel(ctx context.Context, stakeID, accountID string) (domain.CancelResult, error) {
	return domain.CancelResult{StakeID: stakeID, Refund: 950, Penalty: 50}, f.err
}

func (f *fakeStakeService) Quote(ctx context.Context, stakeID string) (domain.CashoutQuote, error) {
	return domain.CashoutQuote{StakeID: stakeID, Net: 1921, QuotedAt: time.Now().UTC()}, f.err
}

func (f *fakeStakeService) Cashout(ctx context.Context, stakeID, accountID string) (domain.CashoutResult, error) {
	return domain.CashoutResult{StakeID: stakeID, Net: 1921}, f.err
}

func TestPlaceStakeHandler(t *testing.T) {
	h := NewStakeHandler(&fakeStakeService{}, testLogger())

	req := newRequest(t, http.MethodPost, "/api/stakes", map[string]any{
		"market_id":  "m-1",
		"account_id": "acc-1",
		"option":     "yes",
		"amount":     1000,
	})
	rec := httptest.NewRecorder()
	h.PlaceStake(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got domain.Stake
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(1000), got.Amount)
}

func TestPlaceStakeHandlerRequiresIDs(t *testing.T) {
	h := NewStakeHandler(&fakeStakeService{}, testLogger())

	req := newRequest(t, http.MethodPost, "/api/stakes", map[string]any{"option": "yes"})
	rec := httptest.NewRecorder()
	h.PlaceStake(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceStakeHandlerRateLimited(t *testing.T) {
	h := NewStakeHandler(&fakeStakeService{err: domain.ErrRateLimited}, testLogger())

	req := newRequest(t, http.MethodPost, "/api/stakes", map[string]any{
		"market_id":  "m-1",
		"account_id": "acc-1",
		"option":     "yes",
		"amount":     1000,
	})
	rec := httptest.NewRecorder()
	h.PlaceStake(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCancelStakeHandler(t *testing.T) {
	h := NewStakeHandler(&fakeStakeService{}, testLogger())

	req := newRequest(t, http.MethodPost, "/api/stakes/st-1/cancel", map[string]any{"account_id": "acc-1"})
	req.SetPathValue("id", "st-1")
	rec := httptest.NewRecorder()
	h.CancelStake(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.CancelResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(950), got.Refund)
	assert.Equal(t, int64(50), got.Penalty)
}

func TestParseListOptsClampsLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/markets?limit=9999&offset=20", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 20, opts.Offset)

	req = httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	opts = parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}
