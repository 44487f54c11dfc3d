// Package settlement computes each user's share of finalized rounds and
// records which rounds the user has been paid for.
package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNothingToClaim = errors.New("settlement: nothing to claim")

// StakeReader reads the stake a round's reward is split on.
type StakeReader interface {
	SettledStake(roundID uint64, day int, user common.Address) *big.Int
	SettledTotal(roundID uint64, day int) *big.Int
}

// RewardReader reads finalize state of rounds.
type RewardReader interface {
	FinalizedRounds() []uint64
	FinalDay(roundID uint64) int
	LuckyRewardPerRound(roundID uint64) *big.Int
}

// ClaimInfo is the per-user claim bookkeeping.
type ClaimInfo struct {
	// LastRoundClaimed is the highest round settled by any claim. Only
	// meaningful when HasClaimed is set.
	LastRoundClaimed uint64 `json:"last_round_claimed"`
	HasClaimed       bool   `json:"has_claimed"`
	// PendingRoundsSnapshot lists the rounds settled by the most recent claim.
	PendingRoundsSnapshot []uint64 `json:"pending_rounds_snapshot"`
}

// Share is one round's contribution to a pending reward.
type Share struct {
	RoundID uint64   `json:"round_id"`
	Amount  *big.Int `json:"amount"`
}

// Engine settles rewards. It is not safe for concurrent use.
type Engine struct {
	stakes  StakeReader
	rewards RewardReader
	claimed map[common.Address]map[uint64]struct{}
	info    map[common.Address]ClaimInfo
}

func New(stakes StakeReader, rewards RewardReader) *Engine {
	return &Engine{
		stakes:  stakes,
		rewards: rewards,
		claimed: make(map[common.Address]map[uint64]struct{}),
		info:    make(map[common.Address]ClaimInfo),
	}
}

// Pending returns the reward user can claim from finalized rounds before
// currentRoundID, with the per-round shares that make it up. Rounds where the
// user's share is zero are left out.
func (e *Engine) Pending(user common.Address, currentRoundID uint64) (*big.Int, []Share) {
	total := new(big.Int)
	var shares []Share
	for _, r := range e.rewards.FinalizedRounds() {
		if r >= currentRoundID {
			break
		}
		if e.Claimed(user, r) {
			continue
		}
		amount := e.share(user, r)
		if amount.Sign() == 0 {
			continue
		}
		total.Add(total, amount)
		shares = append(shares, Share{RoundID: r, Amount: amount})
	}
	return total, shares
}

// share is floor(userStake * reward / totalStake) at the round's final day.
func (e *Engine) share(user common.Address, roundID uint64) *big.Int {
	day := e.rewards.FinalDay(roundID)
	totalStake := e.stakes.SettledTotal(roundID, day)
	if totalStake.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(e.stakes.SettledStake(roundID, day, user), e.rewards.LuckyRewardPerRound(roundID))
	return out.Quo(out, totalStake)
}

// MarkClaimed moves each round of user to claimed. Already claimed rounds are
// left as they are.
func (e *Engine) MarkClaimed(user common.Address, rounds []uint64) error {
	if len(rounds) == 0 {
		return ErrNothingToClaim
	}
	set, ok := e.claimed[user]
	if !ok {
		set = make(map[uint64]struct{}, len(rounds))
		e.claimed[user] = set
	}
	info := e.info[user]
	snapshot := make([]uint64, 0, len(rounds))
	for _, r := range rounds {
		set[r] = struct{}{}
		snapshot = append(snapshot, r)
		if !info.HasClaimed || r > info.LastRoundClaimed {
			info.LastRoundClaimed = r
			info.HasClaimed = true
		}
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	info.PendingRoundsSnapshot = snapshot
	e.info[user] = info
	return nil
}

// Claimed reports whether user was paid for roundID.
func (e *Engine) Claimed(user common.Address, roundID uint64) bool {
	_, ok := e.claimed[user][roundID]
	return ok
}

// ClaimInfo returns the claim bookkeeping of user.
func (e *Engine) ClaimInfo(user common.Address) ClaimInfo {
	info := e.info[user]
	info.PendingRoundsSnapshot = append([]uint64(nil), info.PendingRoundsSnapshot...)
	return info
}

// State is the serializable form of an Engine.
type State struct {
	Claimed map[common.Address][]uint64  `json:"claimed"`
	Info    map[common.Address]ClaimInfo `json:"info"`
}

// Export returns a copy of the claim state.
func (e *Engine) Export() State {
	st := State{
		Claimed: make(map[common.Address][]uint64, len(e.claimed)),
		Info:    make(map[common.Address]ClaimInfo, len(e.info)),
	}
	for user, set := range e.claimed {
		rounds := make([]uint64, 0, len(set))
		for r := range set {
			rounds = append(rounds, r)
		}
		sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
		st.Claimed[user] = rounds
	}
	for user := range e.info {
		st.Info[user] = e.ClaimInfo(user)
	}
	return st
}

// Import replaces the claim state.
func (e *Engine) Import(st State) error {
	claimed := make(map[common.Address]map[uint64]struct{}, len(st.Claimed))
	for user, rounds := range st.Claimed {
		set := make(map[uint64]struct{}, len(rounds))
		for _, r := range rounds {
			set[r] = struct{}{}
		}
		claimed[user] = set
	}
	info := make(map[common.Address]ClaimInfo, len(st.Info))
	for user, ci := range st.Info {
		if _, ok := claimed[user]; !ok && ci.HasClaimed {
			return fmt.Errorf("settlement: claim info for %s without claimed rounds", user.Hex())
		}
		ci.PendingRoundsSnapshot = append([]uint64(nil), ci.PendingRoundsSnapshot...)
		info[user] = ci
	}
	e.claimed = claimed
	e.info = info
	return nil
}
