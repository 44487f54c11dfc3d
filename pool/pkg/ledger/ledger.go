// Package ledger tracks stake per user per day of each round.
//
// Every write is a suffix write: a deposit on day d adds to days d..maxDate
// and a withdrawal zeroes days d..maxDate, so a single point read answers
// "what was staked on day d" without replaying history. The ledger is not
// safe for concurrent use; callers serialize access.
package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserInfo is the per-address aggregate of live stake.
type UserInfo struct {
	StakedAmount *big.Int `json:"staked_amount"`
}

type round struct {
	maxDate int
	// opening holds each carried-over balance at the moment the round opened.
	opening      map[common.Address]*big.Int
	openingTotal *big.Int
	total        []*big.Int
	users        map[common.Address][]*big.Int
	settled      *basis
}

// basis is the stake of a round frozen on one day for reward settlement.
type basis struct {
	day   int
	total *big.Int
	users map[common.Address]*big.Int
}

// Ledger is the day-bucketed stake ledger.
type Ledger struct {
	rounds    map[uint64]*round
	live      map[common.Address]*big.Int
	latest    uint64
	hasLatest bool
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		rounds: make(map[uint64]*round),
		live:   make(map[common.Address]*big.Int),
	}
}

// OpenRound registers roundID with maxDate day buckets. Every user with a live
// balance carries it into the new round from day 1.
func (l *Ledger) OpenRound(roundID uint64, maxDate int) error {
	if maxDate < 1 {
		return fmt.Errorf("%w: max date %d", ErrInvalidDay, maxDate)
	}
	if _, ok := l.rounds[roundID]; ok {
		return fmt.Errorf("%w: %d", ErrRoundExists, roundID)
	}

	r := &round{
		maxDate:      maxDate,
		opening:      make(map[common.Address]*big.Int, len(l.live)),
		openingTotal: new(big.Int),
		total:        make([]*big.Int, maxDate),
		users:        make(map[common.Address][]*big.Int),
	}
	for addr, amount := range l.live {
		if amount.Sign() > 0 {
			r.opening[addr] = new(big.Int).Set(amount)
			r.openingTotal.Add(r.openingTotal, amount)
		}
	}
	for i := range r.total {
		r.total[i] = new(big.Int).Set(r.openingTotal)
	}
	l.rounds[roundID] = r
	if !l.hasLatest || roundID > l.latest {
		l.latest = roundID
		l.hasLatest = true
	}
	return nil
}

// HasRound reports whether roundID was opened.
func (l *Ledger) HasRound(roundID uint64) bool {
	_, ok := l.rounds[roundID]
	return ok
}

// MaxDate returns the number of day buckets of roundID, or 0 when unknown.
func (l *Ledger) MaxDate(roundID uint64) int {
	r, ok := l.rounds[roundID]
	if !ok {
		return 0
	}
	return r.maxDate
}

// LatestRound returns the most recently opened round.
func (l *Ledger) LatestRound() (uint64, bool) {
	return l.latest, l.hasLatest
}

// Deposit adds amount to user's stake and the round total for every day in
// [day, maxDate]. Days before day are untouched.
func (l *Ledger) Deposit(user common.Address, amount *big.Int, roundID uint64, day int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	r, err := l.writable(roundID, day)
	if err != nil {
		return err
	}

	stakes := r.userDays(user)
	for d := day - 1; d < r.maxDate; d++ {
		stakes[d].Add(stakes[d], amount)
		r.total[d].Add(r.total[d], amount)
	}

	l.liveOf(user).Add(l.liveOf(user), amount)
	return nil
}

// Withdraw removes the user's full live balance: the user's stake is zeroed
// for every day in [day, maxDate] and the round total reduced by what the user
// held on each of those days. It returns the withdrawn amount.
func (l *Ledger) Withdraw(user common.Address, roundID uint64, day int) (*big.Int, error) {
	staked := l.live[user]
	if staked == nil || staked.Sign() <= 0 {
		return nil, ErrNothingToWithdraw
	}
	r, err := l.writable(roundID, day)
	if err != nil {
		return nil, err
	}

	stakes := r.userDays(user)
	for d := day - 1; d < r.maxDate; d++ {
		prev := stakes[d]
		if r.total[d].Cmp(prev) < 0 {
			r.total[d].SetInt64(0)
		} else {
			r.total[d].Sub(r.total[d], prev)
		}
		stakes[d] = new(big.Int)
	}

	amount := new(big.Int).Set(staked)
	delete(l.live, user)
	return amount, nil
}

// Stake returns user's stake on day of roundID.
func (l *Ledger) Stake(roundID uint64, day int, user common.Address) *big.Int {
	r, ok := l.rounds[roundID]
	if !ok || day < 1 || day > r.maxDate {
		return new(big.Int)
	}
	if stakes, ok := r.users[user]; ok {
		return new(big.Int).Set(stakes[day-1])
	}
	if opening, ok := r.opening[user]; ok {
		return new(big.Int).Set(opening)
	}
	return new(big.Int)
}

// TotalStake returns the pool's total stake on day of roundID.
func (l *Ledger) TotalStake(roundID uint64, day int) *big.Int {
	r, ok := l.rounds[roundID]
	if !ok || day < 1 || day > r.maxDate {
		return new(big.Int)
	}
	return new(big.Int).Set(r.total[day-1])
}

// Settle freezes the stakes of roundID on day as the basis its reward is
// split on. Later writes to the round leave the basis unchanged. Settling
// again replaces it.
func (l *Ledger) Settle(roundID uint64, day int) error {
	r, ok := l.rounds[roundID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	if day < 1 || day > r.maxDate {
		return fmt.Errorf("%w: day %d of round %d (max %d)", ErrInvalidDay, day, roundID, r.maxDate)
	}

	b := &basis{
		day:   day,
		total: new(big.Int).Set(r.total[day-1]),
		users: make(map[common.Address]*big.Int),
	}
	for addr, amount := range r.opening {
		if _, ok := r.users[addr]; !ok && amount.Sign() > 0 {
			b.users[addr] = new(big.Int).Set(amount)
		}
	}
	for addr, stakes := range r.users {
		if stakes[day-1].Sign() > 0 {
			b.users[addr] = new(big.Int).Set(stakes[day-1])
		}
	}
	r.settled = b
	return nil
}

// SettledStake returns user's stake in the settlement basis of roundID. When
// the round was not settled on day it falls back to the live stake.
func (l *Ledger) SettledStake(roundID uint64, day int, user common.Address) *big.Int {
	b := l.basisOn(roundID, day)
	if b == nil {
		return l.Stake(roundID, day, user)
	}
	if amount, ok := b.users[user]; ok {
		return new(big.Int).Set(amount)
	}
	return new(big.Int)
}

// SettledTotal is the total stake counterpart of SettledStake.
func (l *Ledger) SettledTotal(roundID uint64, day int) *big.Int {
	b := l.basisOn(roundID, day)
	if b == nil {
		return l.TotalStake(roundID, day)
	}
	return new(big.Int).Set(b.total)
}

func (l *Ledger) basisOn(roundID uint64, day int) *basis {
	r, ok := l.rounds[roundID]
	if !ok || r.settled == nil || r.settled.day != day {
		return nil
	}
	return r.settled
}

// UserInfo returns the live stake aggregate for user.
func (l *Ledger) UserInfo(user common.Address) UserInfo {
	amount := new(big.Int)
	if live, ok := l.live[user]; ok {
		amount.Set(live)
	}
	return UserInfo{StakedAmount: amount}
}

// TotalStaked returns the sum of all live balances.
func (l *Ledger) TotalStaked() *big.Int {
	sum := new(big.Int)
	for _, amount := range l.live {
		sum.Add(sum, amount)
	}
	return sum
}

// Stakers returns the number of users with a live balance.
func (l *Ledger) Stakers() int {
	return len(l.live)
}

func (l *Ledger) writable(roundID uint64, day int) (*round, error) {
	r, ok := l.rounds[roundID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	if roundID != l.latest {
		return nil, fmt.Errorf("%w: %d (latest %d)", ErrStaleRound, roundID, l.latest)
	}
	if day < 1 || day > r.maxDate {
		return nil, fmt.Errorf("%w: day %d of round %d (max %d)", ErrInvalidDay, day, roundID, r.maxDate)
	}
	return r, nil
}

func (l *Ledger) liveOf(user common.Address) *big.Int {
	amount, ok := l.live[user]
	if !ok {
		amount = new(big.Int)
		l.live[user] = amount
	}
	return amount
}

// userDays materializes the per-day slice for user, seeded with the opening
// balance the user carried into the round.
func (r *round) userDays(user common.Address) []*big.Int {
	if stakes, ok := r.users[user]; ok {
		return stakes
	}
	stakes := make([]*big.Int, r.maxDate)
	for i := range stakes {
		stakes[i] = new(big.Int)
		if opening, ok := r.opening[user]; ok {
			stakes[i].Set(opening)
		}
	}
	r.users[user] = stakes
	return stakes
}
