package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/pricebet/internal/domain"
	"github.com/alanyoungcy/pricebet/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// errorMapping is checked in order; the first sentinel err matches wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrPriceFetchFailed, http.StatusServiceUnavailable, "price_fetch_failed"},
	{domain.ErrPriceUnavailable, http.StatusServiceUnavailable, "price_unavailable"},
	{domain.ErrPriceStale, http.StatusServiceUnavailable, "price_stale"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrInsufficientUserFunds, http.StatusUnprocessableEntity, "insufficient_user_funds"},
	{domain.ErrInsufficientMarketFunds, http.StatusUnprocessableEntity, "insufficient_market_funds"},
	{domain.ErrFeedNotRegistered, http.StatusUnprocessableEntity, "feed_not_registered"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{domain.ErrMarketAlreadyResolved, http.StatusConflict, "market_already_resolved"},
	{domain.ErrTeamFeeAlreadyPaid, http.StatusConflict, "team_fee_already_paid"},
	{domain.ErrMarketAlreadyStarted, http.StatusConflict, "market_already_started"},
	{domain.ErrMarketNotActive, http.StatusUnprocessableEntity, "market_not_active"},
	{domain.ErrMarketNotResolved, http.StatusUnprocessableEntity, "market_not_resolved"},
	{domain.ErrMarketNotExpired, http.StatusUnprocessableEntity, "market_not_expired"},
	{domain.ErrTeamFeeTimelockNotExpired, http.StatusUnprocessableEntity, "team_fee_timelock_not_expired"},
	{domain.ErrEmptyPosition, http.StatusUnprocessableEntity, "empty_position"},
	{domain.ErrInitialPriceNotSet, http.StatusUnprocessableEntity, "initial_price_not_set"},
	{domain.ErrBetAmountTooLow, http.StatusBadRequest, "bet_amount_too_low"},
	{domain.ErrInvalidDuration, http.StatusBadRequest, "invalid_duration"},
	{domain.ErrInvalidSide, http.StatusBadRequest, "invalid_side"},
	{domain.ErrPositionMismatch, http.StatusBadRequest, "position_mismatch"},
	{domain.ErrAmountOverflow, http.StatusBadRequest, "amount_overflow"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

// writeServiceError maps a service error onto an HTTP response. Unknown
// errors are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, m.err.Error())
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("request_id", middleware.RequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// decodeJSON reads a JSON request body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// requireCaller returns the signed caller or writes 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "signed request required")
		return common.Address{}, false
	}
	return caller, true
}

// marketID parses the {id} path parameter.
func marketID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid market id")
		return uuid.Nil, false
	}
	return id, true
}

// addressParam parses a hex address path parameter.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := r.PathValue(name)
	if !common.IsHexAddress(v) {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid address "+strconv.Quote(v))
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// parseListOpts reads limit, offset, since and until from the query string.
// Defaults: limit=50 (max 500), offset=0. Times are RFC 3339.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	if t, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		opts.Since = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		opts.Until = &t
	}
	return opts
}
