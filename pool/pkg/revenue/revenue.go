// Package revenue accumulates reward tokens reported per round and holds the
// metrics that finalize each round.
package revenue

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FinalizePolicy decides what a second finalize of the same round does.
type FinalizePolicy int

const (
	// FinalizeOverwrite replaces the previous metrics of the round.
	FinalizeOverwrite FinalizePolicy = iota
	// FinalizeReject fails with ErrRoundAlreadyFinalized.
	FinalizeReject
)

func (p FinalizePolicy) String() string {
	switch p {
	case FinalizeOverwrite:
		return "overwrite"
	case FinalizeReject:
		return "reject"
	default:
		return fmt.Sprintf("FinalizePolicy(%d)", int(p))
	}
}

// ParseFinalizePolicy parses "overwrite" or "reject".
func ParseFinalizePolicy(s string) (FinalizePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return FinalizeOverwrite, nil
	case "reject":
		return FinalizeReject, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFinalizePolicy, s)
	}
}

// PoolInfo is the finalized metrics of a round.
type PoolInfo struct {
	WinLoss            decimal.Decimal `json:"win_loss"`
	TotalPlayedVolume  decimal.Decimal `json:"total_played_volume"`
	RevenueTokenSymbol string          `json:"revenue_token_symbol"`
	RevenueAmount      *big.Int        `json:"revenue_amount"`
	RevSharePercent    decimal.Decimal `json:"rev_share_percent"`
	// DepositBalance is the pool's staking token balance at finalize time.
	DepositBalance *big.Int `json:"deposit_balance"`
	// LuckyRevenue is the reward token deposited for the round at finalize
	// time.
	LuckyRevenue *big.Int `json:"lucky_revenue"`
}

// Validate checks the caller supplied fields.
func (p PoolInfo) Validate() error {
	if p.RevenueAmount == nil || p.RevenueAmount.Sign() < 0 {
		return fmt.Errorf("%w: revenue amount", ErrInvalidAmount)
	}
	if p.DepositBalance != nil && p.DepositBalance.Sign() < 0 {
		return fmt.Errorf("%w: deposit balance", ErrInvalidAmount)
	}
	if p.LuckyRevenue != nil && p.LuckyRevenue.Sign() < 0 {
		return fmt.Errorf("%w: lucky revenue", ErrInvalidAmount)
	}
	if p.RevSharePercent.IsNegative() || p.RevSharePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: %s", ErrInvalidPercent, p.RevSharePercent)
	}
	return nil
}

func (p PoolInfo) clone() PoolInfo {
	p.RevenueAmount = cloneInt(p.RevenueAmount)
	p.DepositBalance = cloneInt(p.DepositBalance)
	p.LuckyRevenue = cloneInt(p.LuckyRevenue)
	return p
}

// Finalization is the state fixed for a round by Finalize.
type Finalization struct {
	Info     PoolInfo `json:"info"`
	FinalDay int      `json:"final_day"`
	// Reward is the strategy result before clamping.
	Reward      *big.Int  `json:"reward"`
	FinalizedAt time.Time `json:"finalized_at"`
}

func (f Finalization) clone() Finalization {
	f.Info = f.Info.clone()
	f.Reward = cloneInt(f.Reward)
	return f
}

// Accumulator holds per-round revenue and finalize state. It is not safe for
// concurrent use.
type Accumulator struct {
	policy    FinalizePolicy
	lucky     map[uint64]*big.Int
	finalized map[uint64]Finalization
}

func New(policy FinalizePolicy) (*Accumulator, error) {
	if policy != FinalizeOverwrite && policy != FinalizeReject {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFinalizePolicy, int(policy))
	}
	return &Accumulator{
		policy:    policy,
		lucky:     make(map[uint64]*big.Int),
		finalized: make(map[uint64]Finalization),
	}, nil
}

// Policy returns the configured finalize policy.
func (a *Accumulator) Policy() FinalizePolicy {
	return a.policy
}

// DepositRevenue adds amount to the reward tokens available for roundID.
func (a *Accumulator) DepositRevenue(roundID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	total, ok := a.lucky[roundID]
	if !ok {
		total = new(big.Int)
		a.lucky[roundID] = total
	}
	total.Add(total, amount)
	return nil
}

// TotalLuckyRevenue returns the reward tokens deposited for roundID.
func (a *Accumulator) TotalLuckyRevenue(roundID uint64) *big.Int {
	return cloneInt(a.lucky[roundID])
}

// CheckFinalize reports whether Finalize would accept roundID under the
// configured policy without changing anything.
func (a *Accumulator) CheckFinalize(roundID uint64) error {
	if _, ok := a.finalized[roundID]; ok && a.policy == FinalizeReject {
		return fmt.Errorf("%w: %d", ErrRoundAlreadyFinalized, roundID)
	}
	return nil
}

// Finalize fixes the metrics, final day and reward of roundID.
func (a *Accumulator) Finalize(roundID uint64, f Finalization) error {
	if err := f.Info.Validate(); err != nil {
		return err
	}
	if f.FinalDay < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidDay, f.FinalDay)
	}
	if f.Reward == nil || f.Reward.Sign() < 0 {
		return fmt.Errorf("%w: reward", ErrInvalidAmount)
	}
	if err := a.CheckFinalize(roundID); err != nil {
		return err
	}
	a.finalized[roundID] = f.clone()
	return nil
}

// IsFinalized reports whether roundID has been finalized.
func (a *Accumulator) IsFinalized(roundID uint64) bool {
	_, ok := a.finalized[roundID]
	return ok
}

// Finalization returns the finalize state of roundID.
func (a *Accumulator) Finalization(roundID uint64) (Finalization, bool) {
	f, ok := a.finalized[roundID]
	if !ok {
		return Finalization{}, false
	}
	return f.clone(), true
}

// PoolInfo returns the finalized metrics of roundID, or a zero PoolInfo.
func (a *Accumulator) PoolInfo(roundID uint64) PoolInfo {
	f, ok := a.finalized[roundID]
	if !ok {
		return PoolInfo{RevenueAmount: new(big.Int), DepositBalance: new(big.Int), LuckyRevenue: new(big.Int)}
	}
	return f.Info.clone()
}

// FinalDay returns the day whose stake snapshot settles roundID, or 0.
func (a *Accumulator) FinalDay(roundID uint64) int {
	return a.finalized[roundID].FinalDay
}

// LuckyRewardPerRound returns the distributable amount of roundID: the
// strategy reward clamped to the reported revenue and to the tokens actually
// deposited. Unfinalized rounds distribute nothing.
func (a *Accumulator) LuckyRewardPerRound(roundID uint64) *big.Int {
	f, ok := a.finalized[roundID]
	if !ok {
		return new(big.Int)
	}
	out := minInt(f.Reward, f.Info.RevenueAmount)
	return minInt(out, a.TotalLuckyRevenue(roundID))
}

// FinalizedRounds returns every finalized round id in ascending order.
func (a *Accumulator) FinalizedRounds() []uint64 {
	ids := make([]uint64, 0, len(a.finalized))
	for id := range a.finalized {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func minInt(a, b *big.Int) *big.Int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
