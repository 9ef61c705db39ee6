package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// EventSource reads the durable event stream.
type EventSource interface {
	Recent(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves the event stream and audit log.
type EventHandler struct {
	svc    Settlement
	events EventSource
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. events may be nil when no
// durable stream is configured.
func NewEventHandler(svc Settlement, events EventSource, logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, events: events, logger: logger}
}

type streamEvent struct {
	StreamID string       `json:"stream_id"`
	Event    domain.Event `json:"event"`
}

type eventsResponse struct {
	Events []streamEvent `json:"events"`
	LastID string        `json:"last_id"`
}

// ListEvents pages through the event stream after the given ID.
// GET /api/events?after=&count=
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	resp := eventsResponse{Events: []streamEvent{}, LastID: after}
	if h.events == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	msgs, err := h.events.Recent(r.Context(), after, count)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	for _, msg := range msgs {
		resp.LastID = msg.ID
		var ev domain.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "skipping bad stream entry",
				slog.String("stream_id", msg.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		resp.Events = append(resp.Events, streamEvent{StreamID: msg.ID, Event: ev})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListAudit returns audit rows.
// GET /api/audit?limit=&offset=&since=&until=
func (h *EventHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.ListAudit(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if rows == nil {
		rows = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// MarketAudit returns one market's audit trail in commit order.
// GET /api/markets/{id}/audit?limit=
func (h *EventHandler) MarketAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	limit := 500
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 5000 {
			limit = n
		}
	}
	rows, err := h.svc.MarketAudit(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "market audit", err)
		return
	}
	if rows == nil {
		rows = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, rows)
}
