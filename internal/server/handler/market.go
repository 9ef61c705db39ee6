package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// MarketHandler serves market endpoints.
type MarketHandler struct {
	svc    Settlement
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(svc Settlement, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{svc: svc, logger: logger}
}

type createMarketRequest struct {
	Symbol          string `json:"symbol"`
	FeedID          string `json:"feed_id"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// ListMarkets returns markets newest first.
// GET /api/markets?limit=&offset=&since=&until=
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.svc.ListMarkets(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket returns a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMarket opens a market for the signed caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rcpt, err := h.svc.CreateMarket(r.Context(), caller, service.CreateMarketRequest{
		Symbol:   req.Symbol,
		FeedID:   req.FeedID,
		Duration: time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, rcpt)
}

// Resolve settles an expired market against the oracle.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "resolve market", h.svc.Resolve)
}

// WithdrawFee pays the protocol fee once the timelock has passed.
// POST /api/markets/{id}/fee
func (h *MarketHandler) WithdrawFee(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "withdraw fee", h.svc.WithdrawFee)
}

// ListPositions returns every position held in a market.
// GET /api/markets/{id}/positions
func (h *MarketHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	positions, err := h.svc.ListPositions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListEntries returns the ledger entries that touched a market.
// GET /api/markets/{id}/entries
func (h *MarketHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.ListEntries(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list entries", err)
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetArchive returns the archived snapshot of a settled market.
// GET /api/markets/{id}/archive
func (h *MarketHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.LoadArchive(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "load archive", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *MarketHandler) mutate(w http.ResponseWriter, r *http.Request, op string, fn mutation) {
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
