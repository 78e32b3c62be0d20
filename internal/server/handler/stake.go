package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/poolbet/poolbet/internal/domain"
)

// StakeService defines the methods that the stake handler requires from the
// service layer.
type StakeService interface {
	Place(ctx context.Context, marketID, accountID, option string, amount int64) (domain.Stake, error)
	Get(ctx context.Context, id string) (domain.Stake, error)
	ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.Stake, error)
	Cancel(ctx context.Context, stakeID, accountID string) (domain.CancelResult, error)
	Quote(ctx context.Context, stakeID string) (domain.CashoutQuote, error)
	Cashout(ctx context.Context, stakeID, accountID string) (domain.CashoutResult, error)
}

// StakeHandler serves stake-related HTTP endpoints.
type StakeHandler struct {
	stakes StakeService
	logger *slog.Logger
}

// NewStakeHandler creates a StakeHandler with the given service and logger.
func NewStakeHandler(stakes StakeService, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{
		stakes: stakes,
		logger: logger,
	}
}

// placeStakeRequest is the JSON body for stake placement.
type placeStakeRequest struct {
	MarketID  string `json:"market_id"`
	AccountID string `json:"account_id"`
	Option    string `json:"option"`
	Amount    int64  `json:"amount"`
}

// PlaceStake places a new stake on a market option.
// POST /api/stakes
func (h *StakeHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	var req placeStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MarketID == "" || req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "market_id and account_id are required")
		return
	}

	stake, err := h.stakes.Place(r.Context(), req.MarketID, req.AccountID, req.Option, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place stake", err)
		return
	}

	writeJSON(w, http.StatusCreated, stake)
}

// GetStake returns a single stake by its ID.
// GET /api/stakes/{id}
func (h *StakeHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing stake id")
		return
	}

	stake, err := h.stakes.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get stake", err)
		return
	}

	writeJSON(w, http.StatusOK, stake)
}

// ListStakes returns an account's stakes, newest first.
// GET /api/stakes?account=acc-1&limit=50&offset=0
func (h *StakeHandler) ListStakes(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	stakes, err := h.stakes.ListByAccount(r.Context(), account, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list stakes", err)
		return
	}
	if stakes == nil {
		stakes = []domain.Stake{}
	}

	writeJSON(w, http.StatusOK, listStakesResponse{Stakes: stakes})
}

// stakeActionRequest carries the acting account for cancel and cashout.
type stakeActionRequest struct {
	AccountID string `json:"account_id"`
}

// CancelStake cancels an active stake while its market is still open,
// refunding the amount minus the cancellation penalty.
// POST /api/stakes/{id}/cancel
func (h *StakeHandler) CancelStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing stake id")
		return
	}

	var req stakeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	result, err := h.stakes.Cancel(r.Context(), id, req.AccountID)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel stake", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// QuoteCashout returns a live cashout quote for an active stake. The quote is
// advisory: pools move with every placement.
// GET /api/stakes/{id}/quote
func (h *StakeHandler) QuoteCashout(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing stake id")
		return
	}

	quote, err := h.stakes.Quote(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote cashout", err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// CashoutStake exits an active stake early at its current pool value. The
// committed amount is recomputed inside the settlement transaction, so it can
// differ from the last quote.
// POST /api/stakes/{id}/cashout
func (h *StakeHandler) CashoutStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing stake id")
		return
	}

	var req stakeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	result, err := h.stakes.Cashout(r.Context(), id, req.AccountID)
	if err != nil {
		writeServiceError(w, r, h.logger, "cashout stake", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
