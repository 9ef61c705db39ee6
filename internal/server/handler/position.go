package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// mutation is a caller-scoped operation on one market.
type mutation func(ctx context.Context, caller common.Address, marketID uuid.UUID) (service.Receipt, error)

// PositionHandler serves per-user position endpoints.
type PositionHandler struct {
	svc    Settlement
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(svc Settlement, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{svc: svc, logger: logger}
}

type betRequest struct {
	Amount uint64 `json:"amount"`
	Side   string `json:"side"`
}

type positionResponse struct {
	domain.Position
	Claimable uint64 `json:"claimable"`
}

// OpenPosition creates an empty position for the caller.
// POST /api/markets/{id}/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	rcpt, err := h.svc.OpenPosition(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, rcpt)
}

// GetPosition returns a user's position and what it can currently claim.
// GET /api/markets/{id}/positions/{user}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r, "user")
	if !ok {
		return
	}
	pos, err := h.svc.GetPosition(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	claimable, err := h.svc.Claimable(r.Context(), id, user)
	if err != nil {
		writeServiceError(w, r, h.logger, "claimable", err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: pos, Claimable: claimable})
}

// PlaceBet stakes amount on one side.
// POST /api/markets/{id}/bets
func (h *PositionHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req betRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	rcpt, err := h.svc.PlaceBet(r.Context(), caller, id, req.Amount, side)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}

// CancelBet refunds the caller's shares before the market starts.
// POST /api/markets/{id}/cancel
func (h *PositionHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "cancel bet", h.svc.CancelBet)
}

// Claim pays out the caller's winnings.
// POST /api/markets/{id}/claim
func (h *PositionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "claim", h.svc.Claim)
}

func (h *PositionHandler) mutate(w http.ResponseWriter, r *http.Request, op string, fn mutation) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	rcpt, err := fn(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rcpt)
}
