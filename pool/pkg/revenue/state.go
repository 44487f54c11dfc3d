package revenue

import (
	"math/big"
	"sort"
)

// State is the serializable form of an Accumulator.
type State struct {
	Lucky     map[uint64]*big.Int     `json:"lucky"`
	Finalized map[uint64]Finalization `json:"finalized"`
}

// Export returns a deep copy of the accumulator state.
func (a *Accumulator) Export() State {
	st := State{
		Lucky:     make(map[uint64]*big.Int, len(a.lucky)),
		Finalized: make(map[uint64]Finalization, len(a.finalized)),
	}
	for id, v := range a.lucky {
		st.Lucky[id] = cloneInt(v)
	}
	for id, f := range a.finalized {
		st.Finalized[id] = f.clone()
	}
	return st
}

// Import replaces the accumulator state. The finalize policy is kept.
func (a *Accumulator) Import(st State) error {
	lucky := make(map[uint64]*big.Int, len(st.Lucky))
	for id, v := range st.Lucky {
		if v == nil || v.Sign() < 0 {
			return ErrInvalidAmount
		}
		lucky[id] = cloneInt(v)
	}
	finalized := make(map[uint64]Finalization, len(st.Finalized))
	for id, f := range st.Finalized {
		if err := f.Info.Validate(); err != nil {
			return err
		}
		finalized[id] = f.clone()
	}
	a.lucky = lucky
	a.finalized = finalized
	return nil
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
