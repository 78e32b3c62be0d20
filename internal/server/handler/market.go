package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/poolbet/poolbet/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	Create(ctx context.Context, title string, options []string, feeBps int) (domain.Market, error)
	Get(ctx context.Context, id string) (domain.Market, error)
	List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	Close(ctx context.Context, id string) error
	Stakes(ctx context.Context, marketID string, status domain.StakeStatus) ([]domain.Stake, error)
	Resolution(ctx context.Context, marketID string) (domain.Resolution, error)
}

// MarketResolver triggers market settlement.
type MarketResolver interface {
	ResolveMarket(ctx context.Context, marketID, winning string) (domain.Resolution, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets  MarketService
	resolver MarketResolver
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, resolver MarketResolver, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		resolver: resolver,
		logger:   logger,
	}
}

// listMarketsResponse wraps the list endpoint output with its paging.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by status.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets, err := h.markets.List(r.Context(), status, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// createMarketRequest is the JSON body for market creation.
type createMarketRequest struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
	FeeBps  int      `json:"fee_bps"`
}

// CreateMarket opens a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	market, err := h.markets.Create(r.Context(), req.Title, req.Options, req.FeeBps)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// CloseMarket stops a market from accepting stakes.
// POST /api/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	if err := h.markets.Close(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, "close market", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "closed",
		"market_id": id,
	})
}

// resolveMarketRequest is the JSON body for resolution.
type resolveMarketRequest struct {
	Outcome string `json:"outcome"`
}

// ResolveMarket settles a closed market against the given outcome. Retries of
// an already-resolved market return the original resolution; a market whose
// winning option had no backers comes back blocked, visible in the summary.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req resolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Outcome == "" {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}

	res, err := h.resolver.ResolveMarket(r.Context(), id, req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// listStakesResponse wraps stake listings.
type listStakesResponse struct {
	Stakes []domain.Stake `json:"stakes"`
}

// ListMarketStakes returns a market's stakes, optionally filtered by status.
// GET /api/markets/{id}/stakes?status=active
func (h *MarketHandler) ListMarketStakes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	status := domain.StakeStatus(r.URL.Query().Get("status"))
	stakes, err := h.markets.Stakes(r.Context(), id, status)
	if err != nil {
		writeServiceError(w, r, h.logger, "list market stakes", err)
		return
	}
	if stakes == nil {
		stakes = []domain.Stake{}
	}

	writeJSON(w, http.StatusOK, listStakesResponse{Stakes: stakes})
}

// GetResolution returns the resolution record for a settled market.
// GET /api/markets/{id}/resolution
func (h *MarketHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	res, err := h.markets.Resolution(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get resolution", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
