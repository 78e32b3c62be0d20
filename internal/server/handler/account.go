package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/poolbet/poolbet/internal/domain"
)

// AccountService defines the methods that the account handler requires from
// the service layer.
type AccountService interface {
	Deposit(ctx context.Context, accountID string, amount int64) (domain.LedgerEntry, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
}

// AccountHandler serves account and ledger HTTP endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and logger.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// depositRequest is the JSON body for a deposit.
type depositRequest struct {
	Amount int64 `json:"amount"`
}

// Deposit grants virtual currency to an account.
// POST /api/accounts/{id}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	entry, err := h.accounts.Deposit(r.Context(), id, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// Balance returns an account's current balance, the sum of its ledger entries.
// GET /api/accounts/{id}/balance
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	balance, err := h.accounts.Balance(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"balance":    balance,
	})
}

// listLedgerResponse wraps ledger listings.
type listLedgerResponse struct {
	Entries []domain.LedgerEntry `json:"entries"`
}

// History returns an account's ledger entries, newest first.
// GET /api/accounts/{id}/ledger?limit=50&offset=0
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	entries, err := h.accounts.History(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list ledger", err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, listLedgerResponse{Entries: entries})
}
