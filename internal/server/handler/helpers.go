package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
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

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorResponse is the body of a rejected auction operation.
type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// statusFor maps a service error to its HTTP status. Zero means the error
// is not a known domain error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidIndex):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBidNotHighEnough):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAuctionAlreadyEnded),
		errors.Is(err, domain.ErrAuctionNotEnded),
		errors.Is(err, domain.ErrAuctionNotSettled),
		errors.Is(err, domain.ErrAuctionAlreadyFinalized),
		errors.Is(err, domain.ErrWinnerCannotWithdraw),
		errors.Is(err, domain.ErrNoFundsToWithdraw),
		errors.Is(err, domain.ErrTransferRejected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrFaucetClosed):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidBiddingTime),
		errors.Is(err, domain.ErrEmptyItem),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

// writeServiceError maps err to a status code. Unknown errors are logged
// and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if status := statusFor(err); status != 0 {
		writeJSON(w, status, errorResponse{Error: err.Error(), Retryable: domain.IsRetryable(err)})
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0. since/until take RFC3339 times.
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

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}
	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// addressParam parses a hex address path parameter, writing a 400 on
// failure.
func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := pathParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid "+name+" address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// requireCaller returns the authenticated caller, writing a 401 when the
// request carries none.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok || caller == (common.Address{}) {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderCaller+" header")
		return common.Address{}, false
	}
	return caller, true
}

// parseWei parses a non-negative decimal wei amount.
func parseWei(n json.Number) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(string(n), 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// weiString renders an amount for JSON. Amounts travel as decimal strings
// since wei values overflow float64.
func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
