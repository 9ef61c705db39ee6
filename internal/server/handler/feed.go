package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/service"
)

// FeedHandler serves the price feed registry.
type FeedHandler struct {
	svc    Settlement
	logger *slog.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(svc Settlement, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{svc: svc, logger: logger}
}

type registerFeedRequest struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Decimals uint8  `json:"decimals"`
}

type postPriceRequest struct {
	Price int64 `json:"price"`
	// PublishedAt is RFC 3339; empty means now.
	PublishedAt string `json:"published_at,omitempty"`
}

// ListFeeds returns every registered feed.
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.svc.ListFeeds(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list feeds", err)
		return
	}
	if feeds == nil {
		feeds = []domain.Feed{}
	}
	writeJSON(w, http.StatusOK, feeds)
}

// RegisterFeed adds a feed. Requires the feed admin role.
// POST /api/feeds
func (h *FeedHandler) RegisterFeed(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req registerFeedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var source common.Address
	if s := strings.TrimSpace(req.Source); s != "" {
		if !common.IsHexAddress(s) {
			writeError(w, http.StatusBadRequest, "invalid_input", "source must be a hex address")
			return
		}
		source = common.HexToAddress(s)
	}
	f, err := h.svc.RegisterFeed(r.Context(), caller, service.RegisterFeedRequest{
		ID:       req.ID,
		Source:   source,
		Decimals: req.Decimals,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "register feed", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// PostPrice records a manual price observation for a feed.
// POST /api/feeds/{id}/price
func (h *FeedHandler) PostPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req postPriceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var at time.Time
	if req.PublishedAt != "" {
		t, err := time.Parse(time.RFC3339, req.PublishedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "published_at must be RFC 3339")
			return
		}
		at = t
	}
	quote, err := h.svc.PostPrice(r.Context(), caller, r.PathValue("id"), req.Price, at)
	if err != nil {
		writeServiceError(w, r, h.logger, "post price", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
