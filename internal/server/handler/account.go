package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// AccountService defines the ledger methods the account handler needs.
type AccountService interface {
	Balance(ctx context.Context, addr common.Address) *big.Int
	Faucet(ctx context.Context, addr common.Address) (*big.Int, error)
}

// AccountHandler serves balance and faucet endpoints.
type AccountHandler struct {
	svc    AccountService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(svc AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logHandler(logger, "account")}
}

// GetBalance returns the ledger balance of an account.
// GET /api/accounts/{address}/balance
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": weiString(h.svc.Balance(r.Context(), addr)),
	})
}

// Faucet mints development funds to an account.
// POST /api/accounts/{address}/faucet
func (h *AccountHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	balance, err := h.svc.Faucet(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "faucet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": weiString(balance),
	})
}
