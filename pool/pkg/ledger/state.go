package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is the serializable form of the ledger.
type State struct {
	Rounds map[uint64]RoundState       `json:"rounds"`
	Live   map[common.Address]*big.Int `json:"live"`
}

// RoundState holds one round's buckets.
type RoundState struct {
	MaxDate int                           `json:"max_date"`
	Opening map[common.Address]*big.Int   `json:"opening,omitempty"`
	Total   []*big.Int                    `json:"total"`
	Users   map[common.Address][]*big.Int `json:"users,omitempty"`
	Settled *BasisState                   `json:"settled,omitempty"`
}

// BasisState is a round's frozen settlement stake.
type BasisState struct {
	Day   int                         `json:"day"`
	Total *big.Int                    `json:"total"`
	Users map[common.Address]*big.Int `json:"users,omitempty"`
}

// Export returns a deep copy of the ledger state.
func (l *Ledger) Export() State {
	st := State{
		Rounds: make(map[uint64]RoundState, len(l.rounds)),
		Live:   copyAmounts(l.live),
	}
	for id, r := range l.rounds {
		users := make(map[common.Address][]*big.Int, len(r.users))
		for addr, days := range r.users {
			users[addr] = copyDays(days)
		}
		rs := RoundState{
			MaxDate: r.maxDate,
			Opening: copyAmounts(r.opening),
			Total:   copyDays(r.total),
			Users:   users,
		}
		if b := r.settled; b != nil {
			rs.Settled = &BasisState{Day: b.day, Total: new(big.Int).Set(b.total), Users: copyAmounts(b.users)}
		}
		st.Rounds[id] = rs
	}
	return st
}

// Import replaces the ledger contents with st.
func (l *Ledger) Import(st State) error {
	rounds := make(map[uint64]*round, len(st.Rounds))
	var latest uint64
	for id, rs := range st.Rounds {
		if rs.MaxDate < 1 || len(rs.Total) != rs.MaxDate {
			return ErrInvalidDay
		}
		r := &round{
			maxDate:      rs.MaxDate,
			opening:      copyAmounts(rs.Opening),
			openingTotal: new(big.Int),
			total:        copyDays(rs.Total),
			users:        make(map[common.Address][]*big.Int, len(rs.Users)),
		}
		for _, amount := range r.opening {
			r.openingTotal.Add(r.openingTotal, amount)
		}
		for addr, days := range rs.Users {
			if len(days) != rs.MaxDate {
				return ErrInvalidDay
			}
			r.users[addr] = copyDays(days)
		}
		if bs := rs.Settled; bs != nil {
			if bs.Day < 1 || bs.Day > rs.MaxDate {
				return ErrInvalidDay
			}
			total := new(big.Int)
			if bs.Total != nil {
				total.Set(bs.Total)
			}
			r.settled = &basis{day: bs.Day, total: total, users: copyAmounts(bs.Users)}
		}
		rounds[id] = r
		if id > latest {
			latest = id
		}
	}

	l.rounds = rounds
	l.live = copyAmounts(st.Live)
	l.latest = latest
	l.hasLatest = len(rounds) > 0
	return nil
}

func copyAmounts(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for addr, amount := range in {
		if amount == nil {
			continue
		}
		out[addr] = new(big.Int).Set(amount)
	}
	return out
}

func copyDays(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, amount := range in {
		out[i] = new(big.Int)
		if amount != nil {
			out[i].Set(amount)
		}
	}
	return out
}
