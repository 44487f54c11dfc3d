// Package roundclock maps wall-clock time onto rounds and days.
package roundclock

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Day is the length of one day bucket.
const Day = 24 * time.Hour

// DefaultMaxDate is the day count used when none is configured.
const DefaultMaxDate = 14

var (
	// ErrInvalidMaxDate indicates a day count below one.
	ErrInvalidMaxDate = errors.New("roundclock: invalid max date")

	// ErrUnknownRound indicates a round that was never materialized.
	ErrUnknownRound = errors.New("roundclock: unknown round")
)

// Round is a materialized round.
type Round struct {
	ID      uint64    `json:"id"`
	Start   time.Time `json:"start"`
	MaxDate int       `json:"max_date"`
}

// End returns the scheduled end of the round.
func (r Round) End() time.Time {
	return r.Start.Add(time.Duration(r.MaxDate) * Day)
}

type Config struct {
	Clock clockwork.Clock
	// Start is when round 0 begins; defaults to the clock's current time.
	Start   time.Time
	MaxDate int
}

func (cfg *Config) Validate() error {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxDate == 0 {
		cfg.MaxDate = DefaultMaxDate
	}
	if cfg.MaxDate < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxDate, cfg.MaxDate)
	}
	if cfg.Start.IsZero() {
		cfg.Start = cfg.Clock.Now()
	}
	return nil
}

// Clock tracks round boundaries. Rounds are materialized lazily by Advance;
// reads derive not-yet-materialized rounds from the current max date. Clock is
// not safe for concurrent use.
type Clock struct {
	clock   clockwork.Clock
	rounds  []Round
	maxDate int
}

func New(cfg Config) (*Clock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Clock{
		clock:   cfg.Clock,
		rounds:  []Round{{ID: 0, Start: cfg.Start.UTC(), MaxDate: cfg.MaxDate}},
		maxDate: cfg.MaxDate,
	}, nil
}

// Now returns the current time of the underlying clock.
func (c *Clock) Now() time.Time {
	return c.clock.Now()
}

// MaxDate returns the day count applied to rounds that start from now on.
func (c *Clock) MaxDate() int {
	return c.maxDate
}

// SetMaxDate changes the day count of every round that starts after the call.
// The current round keeps its own day count.
func (c *Clock) SetMaxDate(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxDate, n)
	}
	c.maxDate = n
	return nil
}

// Latest returns the most recently materialized round.
func (c *Clock) Latest() Round {
	return c.rounds[len(c.rounds)-1]
}

// Round returns the materialized round id.
func (c *Clock) Round(id uint64) (Round, error) {
	if id >= uint64(len(c.rounds)) {
		return Round{}, fmt.Errorf("%w: %d", ErrUnknownRound, id)
	}
	return c.rounds[id], nil
}

// Rounds returns every materialized round.
func (c *Clock) Rounds() []Round {
	out := make([]Round, len(c.rounds))
	copy(out, c.rounds)
	return out
}

// CurrentRoundID returns the round containing the clock's current time.
func (c *Clock) CurrentRoundID() uint64 {
	return c.RoundIDAt(c.clock.Now())
}

// RoundIDAt returns the round containing t. It does not materialize rounds.
func (c *Clock) RoundIDAt(t time.Time) uint64 {
	latest := c.Latest()
	end := latest.End()
	if t.Before(end) {
		return latest.ID
	}
	span := time.Duration(c.maxDate) * Day
	return latest.ID + 1 + uint64(t.Sub(end)/span)
}

// CurrentDay returns the 1-based day of roundID at the clock's current time.
func (c *Clock) CurrentDay(roundID uint64) int {
	return c.DayAt(roundID, c.clock.Now())
}

// DayAt returns floor((t - start) / day) + 1 clamped to [1, maxDate] of roundID.
func (c *Clock) DayAt(roundID uint64, t time.Time) int {
	r := c.roundFor(roundID)
	if t.Before(r.Start) {
		return 1
	}
	day := int(t.Sub(r.Start)/Day) + 1
	if day > r.MaxDate {
		return r.MaxDate
	}
	return day
}

// Advance materializes every round up to the one containing the current time
// and returns the newly opened rounds in order.
func (c *Clock) Advance() []Round {
	now := c.clock.Now()
	var opened []Round
	for {
		latest := c.Latest()
		end := latest.End()
		if now.Before(end) {
			return opened
		}
		next := Round{ID: latest.ID + 1, Start: end, MaxDate: c.maxDate}
		c.rounds = append(c.rounds, next)
		opened = append(opened, next)
	}
}

// CloseCurrent ends the latest round at the current time and opens the next
// one immediately. The closed round keeps its day count.
func (c *Clock) CloseCurrent() Round {
	now := c.clock.Now().UTC()
	next := Round{ID: c.Latest().ID + 1, Start: now, MaxDate: c.maxDate}
	c.rounds = append(c.rounds, next)
	return next
}

// roundFor returns the materialized round or derives a future one.
func (c *Clock) roundFor(id uint64) Round {
	if id < uint64(len(c.rounds)) {
		return c.rounds[id]
	}
	latest := c.Latest()
	span := time.Duration(c.maxDate) * Day
	ahead := id - latest.ID - 1
	return Round{
		ID:      id,
		Start:   latest.End().Add(time.Duration(ahead) * span),
		MaxDate: c.maxDate,
	}
}

// State is the serializable form of the clock.
type State struct {
	Rounds  []Round `json:"rounds"`
	MaxDate int     `json:"max_date"`
}

// Export returns a copy of the clock state.
func (c *Clock) Export() State {
	return State{Rounds: c.Rounds(), MaxDate: c.maxDate}
}

// Import replaces the clock state.
func (c *Clock) Import(st State) error {
	if len(st.Rounds) == 0 {
		return fmt.Errorf("%w: no rounds", ErrUnknownRound)
	}
	if st.MaxDate < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxDate, st.MaxDate)
	}
	for i, r := range st.Rounds {
		if r.ID != uint64(i) || r.MaxDate < 1 {
			return fmt.Errorf("%w: round %d at index %d", ErrUnknownRound, r.ID, i)
		}
	}
	c.rounds = make([]Round, len(st.Rounds))
	copy(c.rounds, st.Rounds)
	c.maxDate = st.MaxDate
	return nil
}
