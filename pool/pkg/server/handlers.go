package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/revpool/pool/pkg/history"
	"github.com/malbeclabs/revpool/pool/pkg/pool"
	"github.com/malbeclabs/revpool/pool/pkg/roundclock"
	"github.com/malbeclabs/revpool/pool/pkg/settlement"
	"github.com/shopspring/decimal"
)

// CallerHeader carries the address the request acts for. Authentication of
// that address happens in front of this service.
const CallerHeader = "X-Caller-Address"

// Pool is the surface of *pool.Pool served over HTTP.
type Pool interface {
	DepositToken(ctx context.Context, caller common.Address, amount *big.Int) error
	WithdrawToken(ctx context.Context, caller common.Address) (*big.Int, error)
	AddWhitelist(ctx context.Context, caller, addr common.Address) error
	RemoveWhitelist(ctx context.Context, caller, addr common.Address) error
	UpdateMaxDate(ctx context.Context, caller common.Address, maxDate int) error
	DepositRevenue(ctx context.Context, caller common.Address, amount *big.Int) error
	UpdatePoolInfo(ctx context.Context, caller common.Address, u pool.PoolInfoUpdate) (history.Entry, error)
	CloseRound(ctx context.Context, caller common.Address) (roundclock.Round, error)
	ClaimReward(ctx context.Context, caller common.Address) (*big.Int, error)

	Whitelist() []common.Address
	PendingReward(user common.Address) *big.Int
	PendingShares(user common.Address) []settlement.Share
	StakeAmount(roundID uint64, day int, user common.Address) *big.Int
	TotalStake(roundID uint64, day int) *big.Int
	History(from uint64, limit int) []history.Entry
	CurrentRoundID() uint64
	CurrentDay() int
	MaxDate() int
	UserInfo(user common.Address) pool.UserInfo
	Round(roundID uint64) (pool.RoundInfo, error)
	TotalStaked() *big.Int
}

// Amount is a token amount in base units. It decodes from a JSON string or
// number and encodes as a string.
type Amount struct {
	*big.Int
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	v, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", b)
	}
	a.Int = v
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return []byte(strconv.Quote(a.String())), nil
}

type AmountRequest struct {
	Amount Amount `json:"amount"`
}

type AmountResponse struct {
	Amount Amount `json:"amount"`
}

type FinalizeRequest struct {
	WinLoss            decimal.Decimal `json:"win_loss"`
	TotalPlayedVolume  decimal.Decimal `json:"total_played_volume"`
	RevenueTokenSymbol string          `json:"revenue_token_symbol"`
	RevenueAmount      Amount          `json:"revenue_amount"`
	RevSharePercent    decimal.Decimal `json:"rev_share_percent"`
}

type MaxDateRequest struct {
	MaxDate int `json:"max_date"`
}

type CurrentRoundResponse struct {
	RoundID     uint64 `json:"round_id"`
	Day         int    `json:"day"`
	MaxDate     int    `json:"max_date"`
	TotalStaked Amount `json:"total_staked"`
}

type PendingResponse struct {
	Address common.Address     `json:"address"`
	Amount  Amount             `json:"amount"`
	Shares  []settlement.Share `json:"shares"`
}

type StakeResponse struct {
	RoundID uint64          `json:"round_id"`
	Day     int             `json:"day"`
	User    *common.Address `json:"user,omitempty"`
	Amount  Amount          `json:"amount"`
}

type WhitelistResponse struct {
	Addresses []common.Address `json:"addresses"`
}

func caller(r *http.Request) (common.Address, error) {
	v := r.Header.Get(CallerHeader)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: missing or invalid %s header", errBadRequest, CallerHeader)
	}
	return common.HexToAddress(v), nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	v := chi.URLParam(r, name)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", errBadRequest, v)
	}
	return common.HexToAddress(v), nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v := chi.URLParam(r, name)
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, v)
	}
	return n, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req AmountRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Pool.DepositToken(r.Context(), who, req.Amount.Int); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Pool.UserInfo(who))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.cfg.Pool.WithdrawToken(r.Context(), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: Amount{amount}})
}

func (s *Server) handleDepositRevenue(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req AmountRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Pool.DepositRevenue(r.Context(), who, req.Amount.Int); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	roundID, err := uintParam(r, "round")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req FinalizeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.cfg.Pool.UpdatePoolInfo(r.Context(), who, pool.PoolInfoUpdate{
		RoundID:            roundID,
		WinLoss:            req.WinLoss,
		TotalPlayedVolume:  req.TotalPlayedVolume,
		RevenueTokenSymbol: req.RevenueTokenSymbol,
		RevenueAmount:      req.RevenueAmount.Int,
		RevSharePercent:    req.RevSharePercent,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCloseRound(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	next, err := s.cfg.Pool.CloseRound(r.Context(), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := s.cfg.Pool.ClaimReward(r.Context(), who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountResponse{Amount: Amount{amount}})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	shares := s.cfg.Pool.PendingShares(addr)
	if shares == nil {
		shares = []settlement.Share{}
	}
	writeJSON(w, http.StatusOK, PendingResponse{
		Address: addr,
		Amount:  Amount{s.cfg.Pool.PendingReward(addr)},
		Shares:  shares,
	})
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentRoundResponse{
		RoundID:     s.cfg.Pool.CurrentRoundID(),
		Day:         s.cfg.Pool.CurrentDay(),
		MaxDate:     s.cfg.Pool.MaxDate(),
		TotalStaked: Amount{s.cfg.Pool.TotalStaked()},
	})
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	roundID, err := uintParam(r, "round")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.cfg.Pool.Round(roundID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	roundID, err := uintParam(r, "round")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	day, err := uintParam(r, "day")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.cfg.Pool.Round(roundID); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := StakeResponse{RoundID: roundID, Day: int(day)}
	if u := r.URL.Query().Get("user"); u != "" {
		if !common.IsHexAddress(u) {
			s.writeError(w, r, fmt.Errorf("%w: invalid user %q", errBadRequest, u))
			return
		}
		user := common.HexToAddress(u)
		resp.User = &user
		resp.Amount = Amount{s.cfg.Pool.StakeAmount(roundID, int(day), user)}
	} else {
		resp.Amount = Amount{s.cfg.Pool.TotalStake(roundID, int(day))}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		from  uint64
		limit = 100
		err   error
	)
	if v := q.Get("from"); v != "" {
		if from, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid from %q", errBadRequest, v))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > 1000 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be within [1, 1000]", errBadRequest))
			return
		}
	}
	entries := s.cfg.Pool.History(from, limit)
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Pool.UserInfo(addr))
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WhitelistResponse{Addresses: s.cfg.Pool.Whitelist()})
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	s.updateWhitelist(w, r, s.cfg.Pool.AddWhitelist)
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	s.updateWhitelist(w, r, s.cfg.Pool.RemoveWhitelist)
}

func (s *Server) updateWhitelist(w http.ResponseWriter, r *http.Request, apply func(context.Context, common.Address, common.Address) error) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := apply(r.Context(), who, addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaxDate(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req MaxDateRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Pool.UpdateMaxDate(r.Context(), who, req.MaxDate); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
