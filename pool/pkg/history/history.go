// Package history keeps a read-only snapshot of every finalized round.
package history

import (
	"math/big"
	"sort"
	"time"

	"github.com/malbeclabs/revpool/pool/pkg/revenue"
)

// Entry is the snapshot of a round taken when it was finalized.
type Entry struct {
	RoundID  uint64           `json:"round_id"`
	Info     revenue.PoolInfo `json:"info"`
	FinalDay int              `json:"final_day"`
	// Reward is the distributable amount at finalize time.
	Reward       *big.Int  `json:"reward"`
	LuckyRevenue *big.Int  `json:"lucky_revenue"`
	TotalStake   *big.Int  `json:"total_stake"`
	FinalizedAt  time.Time `json:"finalized_at"`
	// Revision counts finalizations of the round, starting at 1.
	Revision int `json:"revision"`
}

func (e Entry) clone() Entry {
	e.Info.RevenueAmount = cloneInt(e.Info.RevenueAmount)
	e.Info.DepositBalance = cloneInt(e.Info.DepositBalance)
	e.Info.LuckyRevenue = cloneInt(e.Info.LuckyRevenue)
	e.Reward = cloneInt(e.Reward)
	e.LuckyRevenue = cloneInt(e.LuckyRevenue)
	e.TotalStake = cloneInt(e.TotalStake)
	return e
}

// Store is an in-memory history of finalized rounds. It is not safe for
// concurrent use.
type Store struct {
	entries map[uint64]Entry
}

func New() *Store {
	return &Store{entries: make(map[uint64]Entry)}
}

// Record stores e, replacing any previous entry of the same round. It returns
// the stored entry with its revision set.
func (s *Store) Record(e Entry) Entry {
	e = e.clone()
	e.Revision = s.entries[e.RoundID].Revision + 1
	s.entries[e.RoundID] = e
	return e.clone()
}

// Get returns the entry of roundID.
func (s *Store) Get(roundID uint64) (Entry, bool) {
	e, ok := s.entries[roundID]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// List returns up to limit entries with round id >= from, ordered by round.
// A limit <= 0 returns every remaining entry.
func (s *Store) List(from uint64, limit int) []Entry {
	ids := make([]uint64, 0, len(s.entries))
	for id := range s.entries {
		if id >= from {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entries[id].clone())
	}
	return out
}

// Len returns the number of recorded rounds.
func (s *Store) Len() int {
	return len(s.entries)
}

// Export returns every entry ordered by round.
func (s *Store) Export() []Entry {
	return s.List(0, 0)
}

// Import replaces the store contents.
func (s *Store) Import(entries []Entry) {
	s.entries = make(map[uint64]Entry, len(entries))
	for _, e := range entries {
		s.entries[e.RoundID] = e.clone()
	}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
