package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/malbeclabs/revpool/pool/pkg/access"
	"github.com/malbeclabs/revpool/pool/pkg/ledger"
	"github.com/malbeclabs/revpool/pool/pkg/pool"
	"github.com/malbeclabs/revpool/pool/pkg/revenue"
	"github.com/malbeclabs/revpool/pool/pkg/roundclock"
	"github.com/malbeclabs/revpool/pool/pkg/settlement"
	"github.com/malbeclabs/revpool/pool/pkg/token"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errBadRequest = errors.New("bad request")

type statusRule struct {
	err    error
	status int
	code   string
}

// Order matters: token balance errors are wrapped in ErrTransferFailed.
var statusRules = []statusRule{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{pool.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{pool.ErrInvalidPoolInfo, http.StatusBadRequest, "invalid_pool_info"},
	{roundclock.ErrInvalidMaxDate, http.StatusBadRequest, "invalid_max_date"},
	{ledger.ErrInvalidDay, http.StatusBadRequest, "invalid_day"},
	{revenue.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{revenue.ErrInvalidPercent, http.StatusBadRequest, "invalid_percent"},
	{token.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
	{token.ErrInsufficientAllowance, http.StatusBadRequest, "insufficient_allowance"},
	{access.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{access.ErrNotWhitelisted, http.StatusForbidden, "not_whitelisted"},
	{pool.ErrUnknownRound, http.StatusNotFound, "unknown_round"},
	{roundclock.ErrUnknownRound, http.StatusNotFound, "unknown_round"},
	{ledger.ErrNothingToWithdraw, http.StatusConflict, "nothing_to_withdraw"},
	{settlement.ErrNothingToClaim, http.StatusConflict, "nothing_to_claim"},
	{revenue.ErrRoundAlreadyFinalized, http.StatusConflict, "round_already_finalized"},
	{token.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
}

// statusFor maps a pool error to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	for _, rule := range statusRules {
		if errors.Is(err, rule.err) {
			return rule.status, rule.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.Log(r.Context(), level, "server: request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, ErrorResponse{Error: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
