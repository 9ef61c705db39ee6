package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerHandler serves account balances and deposits.
type LedgerHandler struct {
	svc    Settlement
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(svc Settlement, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, logger: logger}
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

// Balance returns an account's balance. The account is either a hex
// address or a market escrow account ("market:<id>").
// GET /api/ledger/{account}
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if common.IsHexAddress(account) {
		account = common.HexToAddress(account).Hex()
	} else if !strings.HasPrefix(account, "market:") {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown account format")
		return
	}
	bal, err := h.svc.Balance(r.Context(), account)
	if err != nil {
		writeServiceError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: bal})
}

// Deposit credits an account. Requires the ledger admin role.
// POST /api/ledger/deposit
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Account) {
		writeError(w, http.StatusBadRequest, "invalid_input", "account must be a hex address")
		return
	}
	account := common.HexToAddress(req.Account)
	bal, err := h.svc.Deposit(r.Context(), caller, account, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account.Hex(), Balance: bal})
}
