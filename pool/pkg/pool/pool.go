// Package pool composes the stake ledger, round clock, revenue accumulator,
// settlement engine and history store into a single-writer revenue sharing
// pool.
//
// Every operation runs under one mutex. Mutating operations check their
// preconditions, move tokens, then change in-memory state, so a failed token
// transfer leaves the pool exactly as it was. A transfer that was broadcast
// but not yet mined counts as done.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/revpool/pool/pkg/access"
	"github.com/malbeclabs/revpool/pool/pkg/history"
	"github.com/malbeclabs/revpool/pool/pkg/ledger"
	"github.com/malbeclabs/revpool/pool/pkg/metrics"
	"github.com/malbeclabs/revpool/pool/pkg/revenue"
	"github.com/malbeclabs/revpool/pool/pkg/roundclock"
	"github.com/malbeclabs/revpool/pool/pkg/settlement"
	"github.com/malbeclabs/revpool/pool/pkg/token"
	"github.com/shopspring/decimal"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Owner  common.Address
	// Address is the custody address that holds staked and reward tokens.
	Address      common.Address
	MaxDate      int
	Round0Start  time.Time
	StakingToken token.Token
	RewardToken  token.Token
	// RevenueToken is the token revenue is reported in. Defaults to the reward
	// token, which makes the swap strategy a pass-through.
	RevenueToken   common.Address
	Policy         access.Registry
	Strategy       revenue.RewardStrategy
	FinalizePolicy revenue.FinalizePolicy
	Journal        Journal // optional
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Owner == (common.Address{}) {
		return errors.New("owner is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("pool address is required")
	}
	if cfg.StakingToken == nil {
		return errors.New("staking token is required")
	}
	if cfg.RewardToken == nil {
		return errors.New("reward token is required")
	}
	if cfg.MaxDate < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxDate, cfg.MaxDate)
	}
	if cfg.MaxDate == 0 {
		cfg.MaxDate = roundclock.DefaultMaxDate
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Round0Start.IsZero() {
		cfg.Round0Start = cfg.Clock.Now()
	}
	if cfg.RevenueToken == (common.Address{}) {
		cfg.RevenueToken = cfg.RewardToken.Address()
	}
	if cfg.Policy == nil {
		cfg.Policy = access.NewList(cfg.Owner)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = revenue.PassThrough{}
	}
	return nil
}

// PoolInfoUpdate carries the externally computed metrics that finalize a round.
type PoolInfoUpdate struct {
	RoundID            uint64          `json:"round_id"`
	WinLoss            decimal.Decimal `json:"win_loss"`
	TotalPlayedVolume  decimal.Decimal `json:"total_played_volume"`
	RevenueTokenSymbol string          `json:"revenue_token_symbol"`
	RevenueAmount      *big.Int        `json:"revenue_amount"`
	RevSharePercent    decimal.Decimal `json:"rev_share_percent"`
}

// UserInfo is the per-address view of the pool.
type UserInfo struct {
	StakedAmount          *big.Int `json:"staked_amount"`
	HasClaimed            bool     `json:"has_claimed"`
	LastRoundClaimed      uint64   `json:"last_round_claimed"`
	PendingRoundsSnapshot []uint64 `json:"pending_rounds_snapshot"`
}

// RoundInfo is the read model of a single round.
type RoundInfo struct {
	Round               roundclock.Round `json:"round"`
	Current             bool             `json:"current"`
	Finalized           bool             `json:"finalized"`
	FinalDay            int              `json:"final_day,omitempty"`
	PoolInfo            revenue.PoolInfo `json:"pool_info"`
	TotalLuckyRevenue   *big.Int         `json:"total_lucky_revenue"`
	LuckyRewardPerRound *big.Int         `json:"lucky_reward_per_round"`
}

type Pool struct {
	log *slog.Logger
	cfg Config

	mu         sync.Mutex
	policy     access.Registry
	clock      *roundclock.Clock
	ledger     *ledger.Ledger
	revenue    *revenue.Accumulator
	settlement *settlement.Engine
	history    *history.Store
}

func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock, err := roundclock.New(roundclock.Config{Clock: cfg.Clock, Start: cfg.Round0Start, MaxDate: cfg.MaxDate})
	if err != nil {
		return nil, fmt.Errorf("failed to create round clock: %w", err)
	}
	l := ledger.New()
	if err := l.OpenRound(0, cfg.MaxDate); err != nil {
		return nil, fmt.Errorf("failed to open round 0: %w", err)
	}
	acc, err := revenue.New(cfg.FinalizePolicy)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		log:        cfg.Logger,
		cfg:        cfg,
		policy:     cfg.Policy,
		clock:      clock,
		ledger:     l,
		revenue:    acc,
		settlement: settlement.New(l, acc),
		history:    history.New(),
	}
	p.mu.Lock()
	p.advanceLocked()
	p.mu.Unlock()
	return p, nil
}

// advanceLocked opens every round whose start time has passed.
func (p *Pool) advanceLocked() {
	for _, r := range p.clock.Advance() {
		p.openRoundLocked(r)
	}
	metrics.CurrentRound.Set(float64(p.clock.Latest().ID))
}

func (p *Pool) openRoundLocked(r roundclock.Round) {
	if err := p.ledger.OpenRound(r.ID, r.MaxDate); err != nil {
		// The clock and ledger advance together, so this only fires on a
		// restored state that was already inconsistent.
		p.log.Error("pool: failed to open round", "round", r.ID, "error", err)
		return
	}
	p.log.Info("pool: round opened", "round", r.ID, "start", r.Start, "maxDate", r.MaxDate)
}

func (p *Pool) position() (uint64, int) {
	round := p.clock.Latest().ID
	return round, p.clock.CurrentDay(round)
}

func (p *Pool) authorize(caller common.Address, action access.Action) error {
	if !p.policy.IsAuthorized(caller, action) {
		return access.Denied(action)
	}
	return nil
}

func (p *Pool) observe(operation string, start time.Time, err *error) {
	metrics.RecordOperation(operation, time.Since(start), *err)
}

// commitLocked journals a committed mutation. Journal failures are logged and
// do not undo the mutation. The append outlives the caller's cancellation.
func (p *Pool) commitLocked(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)
	ev.ID = uuid.New()
	ev.At = p.clock.Now().UTC()
	metrics.Stakers.Set(float64(p.ledger.Stakers()))

	if p.cfg.Journal == nil {
		return
	}
	if err := p.cfg.Journal.Append(ctx, ev, p.snapshotLocked()); err != nil {
		metrics.JournalWritesTotal.WithLabelValues("error").Inc()
		// The whole event is logged so the movement can be reconciled by hand.
		p.log.Error("pool: failed to journal event", "event", ev.ID, "kind", ev.Kind, "caller", ev.Caller.Hex(),
			"round", ev.RoundID, "day", ev.Day, "amount", ev.Amount, "rounds", ev.Rounds, "pendingTx", ev.PendingTx, "error", err)
		return
	}
	metrics.JournalWritesTotal.WithLabelValues("success").Inc()
}

// committed filters a token error. A *token.PendingError means the
// transaction is already broadcast, so the movement is recorded and its hash
// returned for the journal.
func (p *Pool) committed(operation string, err error) (*common.Hash, error) {
	if err == nil {
		return nil, nil
	}
	var pending *token.PendingError
	if !errors.As(err, &pending) {
		return nil, err
	}
	metrics.PendingTransfersTotal.WithLabelValues(operation).Inc()
	p.log.Warn("pool: transfer pending, recording it", "operation", operation, "tx", pending.Tx.Hex(), "error", pending.Err)
	tx := pending.Tx
	return &tx, nil
}

// DepositToken stakes amount of the staking token for caller from today to the
// end of the current round.
func (p *Pool) DepositToken(ctx context.Context, caller common.Address, amount *big.Int) (err error) {
	defer p.observe("deposit", time.Now(), &err)
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	round, day := p.position()

	pendingTx, err := p.committed("deposit", p.cfg.StakingToken.TransferFrom(ctx, caller, p.cfg.Address, amount))
	if err != nil {
		return fmt.Errorf("failed to pull stake: %w", err)
	}
	if err := p.ledger.Deposit(caller, amount, round, day); err != nil {
		p.log.Error("pool: ledger rejected deposit after transfer", "user", caller.Hex(), "amount", amount, "error", err)
		return err
	}

	p.log.Info("pool: deposit", "user", caller.Hex(), "amount", amount, "round", round, "day", day)
	p.commitLocked(ctx, Event{Kind: EventDeposit, Caller: caller, RoundID: round, Day: day, Amount: new(big.Int).Set(amount), PendingTx: pendingTx})
	return nil
}

// WithdrawToken returns caller's full stake and removes it from today to the
// end of the current round.
func (p *Pool) WithdrawToken(ctx context.Context, caller common.Address) (_ *big.Int, err error) {
	defer p.observe("withdraw", time.Now(), &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	round, day := p.position()

	staked := p.ledger.UserInfo(caller).StakedAmount
	if staked.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	pendingTx, err := p.committed("withdraw", p.cfg.StakingToken.Transfer(ctx, caller, staked))
	if err != nil {
		return nil, fmt.Errorf("failed to return stake: %w", err)
	}
	amount, err := p.ledger.Withdraw(caller, round, day)
	if err != nil {
		p.log.Error("pool: ledger rejected withdraw after transfer", "user", caller.Hex(), "amount", staked, "error", err)
		return nil, err
	}

	p.log.Info("pool: withdraw", "user", caller.Hex(), "amount", amount, "round", round, "day", day)
	p.commitLocked(ctx, Event{Kind: EventWithdraw, Caller: caller, RoundID: round, Day: day, Amount: new(big.Int).Set(amount), PendingTx: pendingTx})
	return amount, nil
}

func (p *Pool) AddWhitelist(ctx context.Context, caller, addr common.Address) error {
	return p.setWhitelist(ctx, caller, addr, true)
}

func (p *Pool) RemoveWhitelist(ctx context.Context, caller, addr common.Address) error {
	return p.setWhitelist(ctx, caller, addr, false)
}

func (p *Pool) setWhitelist(ctx context.Context, caller, addr common.Address, add bool) (err error) {
	kind := EventWhitelistRemove
	if add {
		kind = EventWhitelistAdd
	}
	defer p.observe(string(kind), time.Now(), &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.authorize(caller, access.ActionManageWhitelist); err != nil {
		return err
	}
	p.advanceLocked()

	var changed bool
	if add {
		changed = p.policy.Add(addr)
	} else {
		changed = p.policy.Remove(addr)
	}
	if !changed {
		return nil
	}
	round, day := p.position()
	p.log.Info("pool: whitelist updated", "address", addr.Hex(), "added", add)
	p.commitLocked(ctx, Event{Kind: kind, Caller: caller, RoundID: round, Day: day, Target: &addr})
	return nil
}

func (p *Pool) IsWhitelisted(addr common.Address) bool {
	return p.policy.IsWhitelisted(addr)
}

// Whitelist returns every allow-listed address.
func (p *Pool) Whitelist() []common.Address {
	return p.policy.Members()
}

// UpdateMaxDate sets the day count of rounds that start after the call.
func (p *Pool) UpdateMaxDate(ctx context.Context, caller common.Address, maxDate int) (err error) {
	defer p.observe("update_max_date", time.Now(), &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.authorize(caller, access.ActionUpdateMaxDate); err != nil {
		return err
	}
	p.advanceLocked()
	if err := p.clock.SetMaxDate(maxDate); err != nil {
		return err
	}

	round, day := p.position()
	p.log.Info("pool: max date updated", "maxDate", maxDate, "round", round)
	p.commitLocked(ctx, Event{Kind: EventMaxDate, Caller: caller, RoundID: round, Day: day, Amount: big.NewInt(int64(maxDate))})
	return nil
}

// DepositRevenue adds amount of the reward token to the current round.
func (p *Pool) DepositRevenue(ctx context.Context, caller common.Address, amount *big.Int) (err error) {
	defer p.observe("deposit_revenue", time.Now(), &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.authorize(caller, access.ActionDepositRevenue); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p.advanceLocked()
	round, day := p.position()

	pendingTx, err := p.committed("deposit_revenue", p.cfg.RewardToken.TransferFrom(ctx, caller, p.cfg.Address, amount))
	if err != nil {
		return fmt.Errorf("failed to pull revenue: %w", err)
	}
	if err := p.revenue.DepositRevenue(round, amount); err != nil {
		p.log.Error("pool: accumulator rejected revenue after transfer", "amount", amount, "error", err)
		return err
	}

	p.log.Info("pool: revenue deposited", "reporter", caller.Hex(), "amount", amount, "round", round)
	p.commitLocked(ctx, Event{Kind: EventRevenue, Caller: caller, RoundID: round, Day: day, Amount: new(big.Int).Set(amount), PendingTx: pendingTx})
	return nil
}

// UpdatePoolInfo finalizes the metrics of a started round and records it in
// the history. The stake used for settlement is frozen at today's day when
// the round is still open and at its last day otherwise; stake written to the
// round afterwards does not share in its reward.
func (p *Pool) UpdatePoolInfo(ctx context.Context, caller common.Address, u PoolInfoUpdate) (_ history.Entry, err error) {
	defer p.observe("update_pool_info", time.Now(), &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.authorize(caller, access.ActionUpdatePoolInfo); err != nil {
		return history.Entry{}, err
	}
	p.advanceLocked()
	current, today := p.position()

	if u.RoundID > current || !p.ledger.HasRound(u.RoundID) {
		return history.Entry{}, fmt.Errorf("%w: %d (current %d)", ErrUnknownRound, u.RoundID, current)
	}
	if err := p.revenue.CheckFinalize(u.RoundID); err != nil {
		return history.Entry{}, err
	}
	info := revenue.PoolInfo{
		WinLoss:            u.WinLoss,
		TotalPlayedVolume:  u.TotalPlayedVolume,
		RevenueTokenSymbol: u.RevenueTokenSymbol,
		RevenueAmount:      u.RevenueAmount,
		RevSharePercent:    u.RevSharePercent,
	}
	if info.RevenueTokenSymbol == "" {
		info.RevenueTokenSymbol = p.cfg.RewardToken.Symbol()
	}
	if err := info.Validate(); err != nil {
		return history.Entry{}, fmt.Errorf("%w: %w", ErrInvalidPoolInfo, err)
	}

	balance, err := p.cfg.StakingToken.BalanceOf(ctx, p.cfg.Address)
	if err != nil {
		return history.Entry{}, fmt.Errorf("failed to read staking balance: %w", err)
	}
	info.DepositBalance = balance

	finalDay := p.ledger.MaxDate(u.RoundID)
	if u.RoundID == current {
		finalDay = today
	}
	lucky := p.revenue.TotalLuckyRevenue(u.RoundID)
	info.LuckyRevenue = lucky
	reward, err := p.cfg.Strategy.Reward(ctx, revenue.RewardInput{
		RoundID:      u.RoundID,
		Info:         info,
		LuckyRevenue: lucky,
		RevenueToken: p.cfg.RevenueToken,
		RewardToken:  p.cfg.RewardToken.Address(),
	})
	if err != nil {
		return history.Entry{}, fmt.Errorf("failed to derive reward with %s strategy: %w", p.cfg.Strategy.Name(), err)
	}

	now := p.clock.Now().UTC()
	if err := p.revenue.Finalize(u.RoundID, revenue.Finalization{Info: info, FinalDay: finalDay, Reward: reward, FinalizedAt: now}); err != nil {
		return history.Entry{}, err
	}
	if err := p.ledger.Settle(u.RoundID, finalDay); err != nil {
		p.log.Error("pool: failed to settle round stake", "round", u.RoundID, "finalDay", finalDay, "error", err)
		return history.Entry{}, err
	}
	entry := p.history.Record(history.Entry{
		RoundID:      u.RoundID,
		Info:         info,
		FinalDay:     finalDay,
		Reward:       p.revenue.LuckyRewardPerRound(u.RoundID),
		LuckyRevenue: lucky,
		TotalStake:   p.ledger.SettledTotal(u.RoundID, finalDay),
		FinalizedAt:  now,
	})

	p.log.Info("pool: round finalized", "round", u.RoundID, "finalDay", finalDay, "revenue", info.RevenueAmount, "reward", entry.Reward, "revision", entry.Revision)
	p.commitLocked(ctx, Event{Kind: EventFinalize, Caller: caller, RoundID: u.RoundID, Day: finalDay, Amount: new(big.Int).Set(entry.Reward)})
	return entry, nil
}

// CloseRound ends the current round now and opens the next one.
func (p *Pool) CloseRound(ctx context.Context, caller common.Address) (_ roundclock.Round, err error) {
	defer p.observe("close_round", time.Now(), &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.authorize(caller, access.ActionCloseRound); err != nil {
		return roundclock.Round{}, err
	}
	p.advanceLocked()
	closed, day := p.position()

	next := p.clock.CloseCurrent()
	p.openRoundLocked(next)
	metrics.CurrentRound.Set(float64(next.ID))

	p.log.Info("pool: round closed", "round", closed, "day", day, "next", next.ID)
	p.commitLocked(ctx, Event{Kind: EventCloseRound, Caller: caller, RoundID: closed, Day: day})
	return next, nil
}

// ClaimReward pays caller every unclaimed share of finalized past rounds.
func (p *Pool) ClaimReward(ctx context.Context, caller common.Address) (_ *big.Int, err error) {
	defer p.observe("claim", time.Now(), &err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	round, day := p.position()

	total, shares := p.settlement.Pending(caller, round)
	if total.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	rounds := make([]uint64, 0, len(shares))
	for _, s := range shares {
		rounds = append(rounds, s.RoundID)
	}

	pendingTx, err := p.committed("claim", p.cfg.RewardToken.Transfer(ctx, caller, total))
	if err != nil {
		return nil, fmt.Errorf("failed to pay reward: %w", err)
	}
	if err := p.settlement.MarkClaimed(caller, rounds); err != nil {
		p.log.Error("pool: failed to mark claim after payout", "user", caller.Hex(), "rounds", rounds, "error", err)
		return nil, err
	}

	p.log.Info("pool: reward claimed", "user", caller.Hex(), "amount", total, "rounds", rounds)
	p.commitLocked(ctx, Event{Kind: EventClaim, Caller: caller, RoundID: round, Day: day, Amount: new(big.Int).Set(total), Rounds: rounds, PendingTx: pendingTx})
	return total, nil
}

// PendingReward returns what ClaimReward would pay user now.
func (p *Pool) PendingReward(user common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	total, _ := p.settlement.Pending(user, p.clock.Latest().ID)
	return total
}

// PendingShares returns the per-round breakdown of PendingReward.
func (p *Pool) PendingShares(user common.Address) []settlement.Share {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	_, shares := p.settlement.Pending(user, p.clock.Latest().ID)
	return shares
}

func (p *Pool) StakeAmount(roundID uint64, day int, user common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.ledger.Stake(roundID, day, user)
}

func (p *Pool) TotalStake(roundID uint64, day int) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.ledger.TotalStake(roundID, day)
}

func (p *Pool) PoolInfo(roundID uint64) revenue.PoolInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revenue.PoolInfo(roundID)
}

func (p *Pool) History(from uint64, limit int) []history.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.List(from, limit)
}

func (p *Pool) LuckyRewardPerRound(roundID uint64) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revenue.LuckyRewardPerRound(roundID)
}

func (p *Pool) TotalLuckyRevenue(roundID uint64) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revenue.TotalLuckyRevenue(roundID)
}

func (p *Pool) CurrentRoundID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	return p.clock.Latest().ID
}

// CurrentDay returns the 1-based day of the current round.
func (p *Pool) CurrentDay() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	_, day := p.position()
	return day
}

// MaxDate returns the day count applied to the next round.
func (p *Pool) MaxDate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.MaxDate()
}

func (p *Pool) UserInfo(user common.Address) UserInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	claim := p.settlement.ClaimInfo(user)
	return UserInfo{
		StakedAmount:          p.ledger.UserInfo(user).StakedAmount,
		HasClaimed:            claim.HasClaimed,
		LastRoundClaimed:      claim.LastRoundClaimed,
		PendingRoundsSnapshot: claim.PendingRoundsSnapshot,
	}
}

// Round returns the read model of roundID.
func (p *Pool) Round(roundID uint64) (RoundInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()

	r, err := p.clock.Round(roundID)
	if err != nil {
		return RoundInfo{}, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	return RoundInfo{
		Round:               r,
		Current:             r.ID == p.clock.Latest().ID,
		Finalized:           p.revenue.IsFinalized(roundID),
		FinalDay:            p.revenue.FinalDay(roundID),
		PoolInfo:            p.revenue.PoolInfo(roundID),
		TotalLuckyRevenue:   p.revenue.TotalLuckyRevenue(roundID),
		LuckyRewardPerRound: p.revenue.LuckyRewardPerRound(roundID),
	}, nil
}

// StakingBalance returns the pool's staking token balance.
func (p *Pool) StakingBalance(ctx context.Context) (*big.Int, error) {
	balance, err := p.cfg.StakingToken.BalanceOf(ctx, p.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read staking balance: %w", err)
	}
	return balance, nil
}

// TotalStaked returns the sum of all live stakes.
func (p *Pool) TotalStaked() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.TotalStaked()
}
