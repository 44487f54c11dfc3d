package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/revpool/pool/pkg/history"
	"github.com/malbeclabs/revpool/pool/pkg/ledger"
	"github.com/malbeclabs/revpool/pool/pkg/revenue"
	"github.com/malbeclabs/revpool/pool/pkg/roundclock"
	"github.com/malbeclabs/revpool/pool/pkg/settlement"
)

// StateVersion is bumped whenever State changes shape.
const StateVersion = 1

// State is the complete persistent state of a pool.
type State struct {
	Version    int              `json:"version"`
	Clock      roundclock.State `json:"clock"`
	Ledger     ledger.State     `json:"ledger"`
	Revenue    revenue.State    `json:"revenue"`
	Settlement settlement.State `json:"settlement"`
	History    []history.Entry  `json:"history"`
	Whitelist  []common.Address `json:"whitelist"`
}

// Snapshot returns a copy of the pool state.
func (p *Pool) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() State {
	return State{
		Version:    StateVersion,
		Clock:      p.clock.Export(),
		Ledger:     p.ledger.Export(),
		Revenue:    p.revenue.Export(),
		Settlement: p.settlement.Export(),
		History:    p.history.Export(),
		Whitelist:  p.policy.Members(),
	}
}

// Restore replaces the pool state with st. Nothing changes when st is invalid.
func (p *Pool) Restore(st State) error {
	if st.Version != StateVersion {
		return fmt.Errorf("unsupported state version %d", st.Version)
	}

	clock, err := roundclock.New(roundclock.Config{Clock: p.cfg.Clock, Start: p.cfg.Round0Start, MaxDate: p.cfg.MaxDate})
	if err != nil {
		return err
	}
	if err := clock.Import(st.Clock); err != nil {
		return fmt.Errorf("failed to restore clock: %w", err)
	}
	l := ledger.New()
	if err := l.Import(st.Ledger); err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}
	if latest, ok := l.LatestRound(); !ok || latest != clock.Latest().ID {
		return fmt.Errorf("ledger latest round %d does not match clock round %d", latest, clock.Latest().ID)
	}
	acc, err := revenue.New(p.cfg.FinalizePolicy)
	if err != nil {
		return err
	}
	if err := acc.Import(st.Revenue); err != nil {
		return fmt.Errorf("failed to restore revenue: %w", err)
	}
	engine := settlement.New(l, acc)
	if err := engine.Import(st.Settlement); err != nil {
		return fmt.Errorf("failed to restore settlement: %w", err)
	}
	hist := history.New()
	hist.Import(st.History)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
	p.ledger = l
	p.revenue = acc
	p.settlement = engine
	p.history = hist
	p.policy.Replace(st.Whitelist)
	p.advanceLocked()

	p.log.Info("pool: state restored", "round", p.clock.Latest().ID, "stakers", p.ledger.Stakers(), "history", p.history.Len())
	return nil
}
