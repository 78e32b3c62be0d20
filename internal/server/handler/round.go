package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/poolbet/poolbet/internal/domain"
)

// RoundService defines the methods that the round handler requires from the
// service layer.
type RoundService interface {
	Current(ctx context.Context, asset string) (domain.Round, error)
	Get(ctx context.Context, id string) (domain.Round, error)
	List(ctx context.Context, asset string, opts domain.ListOpts) ([]domain.Round, error)
	PlaceStake(ctx context.Context, roundID, accountID string, side domain.RoundSide, amount int64) (domain.RoundStake, error)
	Stakes(ctx context.Context, roundID string, status domain.StakeStatus) ([]domain.RoundStake, error)
}

// RoundResolutionReader looks up round resolution records.
type RoundResolutionReader interface {
	GetByRound(ctx context.Context, roundID string) (domain.Resolution, error)
}

// RoundHandler serves fast-round HTTP endpoints.
type RoundHandler struct {
	rounds      RoundService
	resolutions RoundResolutionReader
	logger      *slog.Logger
}

// NewRoundHandler creates a RoundHandler with the given services and logger.
func NewRoundHandler(rounds RoundService, resolutions RoundResolutionReader, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{
		rounds:      rounds,
		resolutions: resolutions,
		logger:      logger,
	}
}

// listRoundsResponse wraps round listings.
type listRoundsResponse struct {
	Rounds []domain.Round `json:"rounds"`
}

// ListRounds returns an asset's rounds, newest first.
// GET /api/rounds?asset=BTC-USD&limit=50&offset=0
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset query parameter required")
		return
	}

	rounds, err := h.rounds.List(r.Context(), asset, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list rounds", err)
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}

	writeJSON(w, http.StatusOK, listRoundsResponse{Rounds: rounds})
}

// CurrentRound returns the live round for an asset.
// GET /api/rounds/current?asset=BTC-USD
func (h *RoundHandler) CurrentRound(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset query parameter required")
		return
	}

	round, err := h.rounds.Current(r.Context(), asset)
	if err != nil {
		writeServiceError(w, r, h.logger, "get current round", err)
		return
	}

	writeJSON(w, http.StatusOK, round)
}

// GetRound returns a single round by its ID.
// GET /api/rounds/{id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing round id")
		return
	}

	round, err := h.rounds.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get round", err)
		return
	}

	writeJSON(w, http.StatusOK, round)
}

// placeRoundStakeRequest is the JSON body for a round stake.
type placeRoundStakeRequest struct {
	AccountID string `json:"account_id"`
	Side      string `json:"side"`
	Amount    int64  `json:"amount"`
}

// PlaceRoundStake backs one side of a live round. Placement closes at the
// round's lock time.
// POST /api/rounds/{id}/stakes
func (h *RoundHandler) PlaceRoundStake(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing round id")
		return
	}

	var req placeRoundStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	stake, err := h.rounds.PlaceStake(r.Context(), id, req.AccountID, domain.RoundSide(req.Side), req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place round stake", err)
		return
	}

	writeJSON(w, http.StatusCreated, stake)
}

// listRoundStakesResponse wraps round stake listings.
type listRoundStakesResponse struct {
	Stakes []domain.RoundStake `json:"stakes"`
}

// ListRoundStakes returns a round's stakes, optionally filtered by status.
// GET /api/rounds/{id}/stakes?status=active
func (h *RoundHandler) ListRoundStakes(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing round id")
		return
	}

	status := domain.StakeStatus(r.URL.Query().Get("status"))
	stakes, err := h.rounds.Stakes(r.Context(), id, status)
	if err != nil {
		writeServiceError(w, r, h.logger, "list round stakes", err)
		return
	}
	if stakes == nil {
		stakes = []domain.RoundStake{}
	}

	writeJSON(w, http.StatusOK, listRoundStakesResponse{Stakes: stakes})
}

// GetRoundResolution returns the resolution record for a settled round.
// GET /api/rounds/{id}/resolution
func (h *RoundHandler) GetRoundResolution(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing round id")
		return
	}

	res, err := h.resolutions.GetByRound(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get round resolution", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
