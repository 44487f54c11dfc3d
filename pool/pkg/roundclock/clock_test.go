package roundclock

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func newClock(t *testing.T, maxDate int) (*Clock, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(start)
	c, err := New(Config{Clock: fc, Start: start, MaxDate: maxDate})
	require.NoError(t, err)
	return c, fc
}

func TestRevPool_RoundClock_Config(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		fc := clockwork.NewFakeClockAt(start)
		c, err := New(Config{Clock: fc})
		require.NoError(t, err)
		require.Equal(t, DefaultMaxDate, c.MaxDate())
		require.Equal(t, start, c.Latest().Start)
	})

	t.Run("rejects negative max date", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Clock: clockwork.NewFakeClock(), MaxDate: -1})
		require.ErrorIs(t, err, ErrInvalidMaxDate)
	})
}

func TestRevPool_RoundClock_CurrentRoundID(t *testing.T) {
	t.Parallel()

	c, fc := newClock(t, 14)
	require.Equal(t, uint64(0), c.CurrentRoundID())

	fc.Advance(14*Day - time.Second)
	require.Equal(t, uint64(0), c.CurrentRoundID())

	fc.Advance(time.Second)
	require.Equal(t, uint64(1), c.CurrentRoundID())

	// Derived without materializing.
	fc.Advance(30 * Day)
	require.Equal(t, uint64(3), c.CurrentRoundID())
	require.Len(t, c.Rounds(), 1)
}

func TestRevPool_RoundClock_CurrentDay(t *testing.T) {
	t.Parallel()

	c, fc := newClock(t, 14)
	require.Equal(t, 1, c.CurrentDay(0))

	fc.Advance(Day - time.Second)
	require.Equal(t, 1, c.CurrentDay(0))

	fc.Advance(time.Second)
	require.Equal(t, 2, c.CurrentDay(0))

	fc.Advance(12 * Day)
	require.Equal(t, 14, c.CurrentDay(0))

	// Clamped once the round has ended.
	fc.Advance(5 * Day)
	require.Equal(t, 14, c.CurrentDay(0))
	require.Equal(t, 5, c.CurrentDay(1))

	require.Equal(t, 1, c.DayAt(0, start.Add(-time.Hour)))
}

func TestRevPool_RoundClock_Advance(t *testing.T) {
	t.Parallel()

	c, fc := newClock(t, 2)
	require.Empty(t, c.Advance())

	fc.Advance(5 * Day)
	opened := c.Advance()
	require.Len(t, opened, 2)
	require.Equal(t, uint64(1), opened[0].ID)
	require.Equal(t, start.Add(2*Day), opened[0].Start)
	require.Equal(t, uint64(2), opened[1].ID)
	require.Equal(t, start.Add(4*Day), opened[1].Start)
	require.Equal(t, uint64(2), c.Latest().ID)
	require.Equal(t, 2, c.CurrentDay(2))

	require.Empty(t, c.Advance())
}

func TestRevPool_RoundClock_SetMaxDate(t *testing.T) {
	t.Parallel()

	c, fc := newClock(t, 14)
	require.ErrorIs(t, c.SetMaxDate(0), ErrInvalidMaxDate)

	require.NoError(t, c.SetMaxDate(7))
	require.Equal(t, 7, c.MaxDate())

	// The current round keeps its length.
	fc.Advance(10 * Day)
	require.Equal(t, uint64(0), c.CurrentRoundID())
	require.Equal(t, 11, c.CurrentDay(0))

	fc.Advance(4 * Day)
	opened := c.Advance()
	require.Len(t, opened, 1)
	require.Equal(t, 7, opened[0].MaxDate)

	fc.Advance(7 * Day)
	require.Equal(t, uint64(2), c.CurrentRoundID())
}

func TestRevPool_RoundClock_CloseCurrent(t *testing.T) {
	t.Parallel()

	c, fc := newClock(t, 14)
	fc.Advance(3*Day + time.Hour)

	next := c.CloseCurrent()
	require.Equal(t, uint64(1), next.ID)
	require.Equal(t, start.Add(3*Day+time.Hour), next.Start)
	require.Equal(t, uint64(1), c.CurrentRoundID())
	require.Equal(t, 1, c.CurrentDay(1))

	r0, err := c.Round(0)
	require.NoError(t, err)
	require.Equal(t, 14, r0.MaxDate)

	_, err = c.Round(5)
	require.ErrorIs(t, err, ErrUnknownRound)
}

func TestRevPool_RoundClock_ExportImport(t *testing.T) {
	t.Parallel()

	c, fc := newClock(t, 3)
	fc.Advance(7 * Day)
	c.Advance()
	require.NoError(t, c.SetMaxDate(5))

	st := c.Export()
	require.Len(t, st.Rounds, 3)

	restored, err := New(Config{Clock: fc, Start: start.Add(time.Hour), MaxDate: 9})
	require.NoError(t, err)
	require.NoError(t, restored.Import(st))
	require.Equal(t, c.Rounds(), restored.Rounds())
	require.Equal(t, 5, restored.MaxDate())
	require.Equal(t, c.CurrentRoundID(), restored.CurrentRoundID())

	require.ErrorIs(t, restored.Import(State{MaxDate: 3}), ErrUnknownRound)
	require.ErrorIs(t, restored.Import(State{Rounds: []Round{{ID: 1, MaxDate: 3}}, MaxDate: 3}), ErrUnknownRound)
	require.ErrorIs(t, restored.Import(State{Rounds: []Round{{ID: 0, MaxDate: 3}}}), ErrInvalidMaxDate)
}
