package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/revpool/pool/pkg/revenue"
	"github.com/malbeclabs/revpool/pool/pkg/roundclock"
	"github.com/malbeclabs/revpool/pool/pkg/token"
	tokentesting "github.com/malbeclabs/revpool/pool/pkg/token/testing"
	pooltesting "github.com/malbeclabs/revpool/utils/pkg/testing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const maxDate = 14

var (
	start = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolAddr = common.HexToAddress("0x0000000000000000000000000000000000000f00")
	alice    = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000ca401")

	lpAddr    = common.HexToAddress("0x00000000000000000000000000000000000001b0")
	luckyAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type recordingJournal struct {
	mu     sync.Mutex
	events []Event
	states []State
	err    error
}

func (j *recordingJournal) Append(_ context.Context, ev Event, st State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.events = append(j.events, ev)
	j.states = append(j.states, st)
	return nil
}

func (j *recordingJournal) kinds() []EventKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]EventKind, 0, len(j.events))
	for _, ev := range j.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (j *recordingJournal) last() Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.events[len(j.events)-1]
}

// ctxJournal fails appends whose context is already done.
type ctxJournal struct {
	appended int
}

func (j *ctxJournal) Append(ctx context.Context, _ Event, _ State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.appended++
	return nil
}

type fixture struct {
	pool    *Pool
	clock   *clockwork.FakeClock
	lp      *token.Memory
	lucky   *token.Memory
	journal *recordingJournal
}

type option func(*Config)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clockwork.NewFakeClockAt(start),
		lp:      token.NewMemory("LUCKY-BUSD", lpAddr, poolAddr),
		lucky:   token.NewMemory("LUCKY", luckyAddr, poolAddr),
		journal: &recordingJournal{},
	}
	for _, u := range []common.Address{owner, alice, bob, carol} {
		f.lp.Mint(u, ether(1000))
		f.lp.Approve(u, poolAddr, ether(1000))
		f.lucky.Mint(u, ether(1000))
		f.lucky.Approve(u, poolAddr, ether(1000))
	}
	cfg := Config{
		Logger:       pooltesting.NewLogger(),
		Clock:        f.clock,
		Owner:        owner,
		Address:      poolAddr,
		MaxDate:      maxDate,
		Round0Start:  start,
		StakingToken: f.lp,
		RewardToken:  f.lucky,
		Journal:      f.journal,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := New(cfg)
	require.NoError(t, err)
	f.pool = p
	return f
}

// newERC20 returns a chain-backed token whose receipts are awaited briefly.
func newERC20(t *testing.T, backend *tokentesting.Backend, symbol string, addr common.Address) *token.ERC20 {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok, err := token.NewERC20(context.Background(), token.ERC20Config{
		Logger:         pooltesting.NewLogger(),
		Backend:        backend,
		Address:        addr,
		Key:            key,
		ChainID:        big.NewInt(56),
		Symbol:         symbol,
		ReceiptTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return tok
}

func update(roundID uint64, revenueAmount *big.Int) PoolInfoUpdate {
	return PoolInfoUpdate{
		RoundID:            roundID,
		WinLoss:            decimal.NewFromInt(100),
		TotalPlayedVolume:  decimal.NewFromInt(50000),
		RevenueTokenSymbol: "BUSD",
		RevenueAmount:      revenueAmount,
		RevSharePercent:    decimal.NewFromInt(5),
	}
}

func (f *fixture) balance(t *testing.T, tok *token.Memory, addr common.Address) *big.Int {
	t.Helper()
	b, err := tok.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b
}

func TestRevPool_Pool_ConfigValidate(t *testing.T) {
	t.Parallel()

	lp := token.NewMemory("LP", lpAddr, poolAddr)
	lucky := token.NewMemory("LUCKY", luckyAddr, poolAddr)
	base := Config{
		Logger:       pooltesting.NewLogger(),
		Owner:        owner,
		Address:      poolAddr,
		StakingToken: lp,
		RewardToken:  lucky,
	}

	cfg := base
	require.NoError(t, cfg.Validate())
	require.Equal(t, roundclock.DefaultMaxDate, cfg.MaxDate)
	require.Equal(t, luckyAddr, cfg.RevenueToken)
	require.NotNil(t, cfg.Policy)
	require.Equal(t, "passthrough", cfg.Strategy.Name())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "logger", mutate: func(c *Config) { c.Logger = nil }, want: "logger is required"},
		{name: "owner", mutate: func(c *Config) { c.Owner = common.Address{} }, want: "owner is required"},
		{name: "address", mutate: func(c *Config) { c.Address = common.Address{} }, want: "pool address is required"},
		{name: "staking token", mutate: func(c *Config) { c.StakingToken = nil }, want: "staking token is required"},
		{name: "reward token", mutate: func(c *Config) { c.RewardToken = nil }, want: "reward token is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.EqualError(t, cfg.Validate(), tt.want)
		})
	}

	cfg = base
	cfg.MaxDate = -1
	require.ErrorIs(t, cfg.Validate(), ErrInvalidMaxDate)
}

func TestRevPool_Pool_DepositSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("same day", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(100)))
		for d := 1; d <= maxDate; d++ {
			require.Equal(t, "100", f.pool.StakeAmount(0, d, alice).String())
		}
		require.NoError(t, f.pool.DepositToken(ctx, bob, big.NewInt(100)))
		for d := 1; d <= maxDate; d++ {
			require.Equal(t, "200", f.pool.TotalStake(0, d).String())
		}
		require.Equal(t, "100", f.pool.UserInfo(alice).StakedAmount.String())
	})

	t.Run("two days later", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(100)))
		f.clock.Advance(2 * roundclock.Day)
		require.Equal(t, 3, f.pool.CurrentDay())
		require.NoError(t, f.pool.DepositToken(ctx, bob, big.NewInt(100)))

		for d := 1; d <= maxDate; d++ {
			if d <= 2 {
				require.Equal(t, "100", f.pool.TotalStake(0, d).String(), "day %d", d)
				require.Equal(t, "0", f.pool.StakeAmount(0, d, bob).String(), "day %d", d)
			} else {
				require.Equal(t, "200", f.pool.TotalStake(0, d).String(), "day %d", d)
			}
		}
	})

	t.Run("rejects invalid amounts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.ErrorIs(t, f.pool.DepositToken(ctx, alice, big.NewInt(0)), ErrInvalidAmount)
		require.ErrorIs(t, f.pool.DepositToken(ctx, alice, nil), ErrInvalidAmount)
		require.Empty(t, f.journal.kinds())
	})
}

func TestRevPool_Pool_Withdraw(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	_, err := f.pool.WithdrawToken(ctx, alice)
	require.ErrorIs(t, err, ErrNothingToWithdraw)

	require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(100)))
	require.NoError(t, f.pool.DepositToken(ctx, bob, big.NewInt(50)))
	f.clock.Advance(4 * roundclock.Day)

	got, err := f.pool.WithdrawToken(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "100", got.String())
	require.Equal(t, ether(1000).String(), f.balance(t, f.lp, alice).String())

	require.Equal(t, "100", f.pool.StakeAmount(0, 4, alice).String())
	require.Equal(t, "0", f.pool.StakeAmount(0, 5, alice).String())
	require.Equal(t, "150", f.pool.TotalStake(0, 4).String())
	require.Equal(t, "50", f.pool.TotalStake(0, 5).String())
	require.Equal(t, "0", f.pool.UserInfo(alice).StakedAmount.String())
	require.Equal(t, "50", f.pool.TotalStaked().String())
}

// Mirrors the three account scenario: 25/25/50 shares in round 0, then two
// accounts add stake and the third leaves in round 1.
func TestRevPool_Pool_MultiRoundScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	// Round 0.
	require.NoError(t, f.pool.DepositToken(ctx, owner, ether(1)))
	require.NoError(t, f.pool.DepositToken(ctx, bob, ether(1)))
	require.NoError(t, f.pool.DepositToken(ctx, carol, ether(2)))
	require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
	require.NoError(t, f.pool.DepositRevenue(ctx, owner, ether(100)))
	_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, ether(100)))
	require.NoError(t, err)

	// Round 0 is still open, so nothing is claimable yet.
	require.Equal(t, "0", f.pool.PendingReward(owner).String())
	_, err = f.pool.ClaimReward(ctx, owner)
	require.ErrorIs(t, err, ErrNothingToClaim)

	next, err := f.pool.CloseRound(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.ID)
	require.Equal(t, uint64(1), f.pool.CurrentRoundID())

	sum := new(big.Int)
	for user, want := range map[common.Address]*big.Int{owner: ether(25), bob: ether(25), carol: ether(50)} {
		pending := f.pool.PendingReward(user)
		require.Equal(t, want.String(), pending.String())

		before := f.balance(t, f.lucky, user)
		paid, err := f.pool.ClaimReward(ctx, user)
		require.NoError(t, err)
		require.Equal(t, pending.String(), paid.String())
		require.Equal(t, new(big.Int).Add(before, pending).String(), f.balance(t, f.lucky, user).String())
		require.Equal(t, "0", f.pool.PendingReward(user).String())
		sum.Add(sum, paid)
	}
	require.Equal(t, ether(100).String(), sum.String())

	info := f.pool.PoolInfo(0)
	require.True(t, info.WinLoss.Equal(decimal.NewFromInt(100)))
	require.Equal(t, ether(100).String(), info.LuckyRevenue.String())
	require.True(t, info.TotalPlayedVolume.Equal(decimal.NewFromInt(50000)))
	require.Equal(t, ether(100).String(), info.RevenueAmount.String())
	staking, err := f.pool.StakingBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, staking.String(), info.DepositBalance.String())

	// Round 1: stake carries over from round 0.
	require.Equal(t, ether(1).String(), f.pool.StakeAmount(1, 1, owner).String())
	require.NoError(t, f.pool.DepositToken(ctx, owner, ether(1)))
	require.NoError(t, f.pool.DepositToken(ctx, bob, ether(1)))
	withdrawn, err := f.pool.WithdrawToken(ctx, carol)
	require.NoError(t, err)
	require.Equal(t, ether(2).String(), withdrawn.String())

	require.NoError(t, f.pool.DepositRevenue(ctx, owner, ether(100)))
	_, err = f.pool.CloseRound(ctx, owner)
	require.NoError(t, err)
	up := update(1, ether(100))
	up.WinLoss = decimal.NewFromInt(50)
	up.TotalPlayedVolume = decimal.NewFromInt(25000)
	entry, err := f.pool.UpdatePoolInfo(ctx, owner, up)
	require.NoError(t, err)
	require.Equal(t, maxDate, entry.FinalDay)
	require.Equal(t, ether(4).String(), entry.TotalStake.String())

	require.Equal(t, ether(50).String(), f.pool.PendingReward(owner).String())
	require.Equal(t, ether(50).String(), f.pool.PendingReward(bob).String())
	require.Equal(t, "0", f.pool.PendingReward(carol).String())

	paid, err := f.pool.ClaimReward(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, ether(50).String(), paid.String())

	info = f.pool.PoolInfo(1)
	require.True(t, info.WinLoss.Equal(decimal.NewFromInt(50)))
	require.Equal(t, ether(100).String(), info.LuckyRevenue.String())
	staking, err = f.pool.StakingBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, staking.String(), info.DepositBalance.String())
	require.Equal(t, ether(4).String(), staking.String())

	hist := f.pool.History(0, 0)
	require.Len(t, hist, 2)
	require.Equal(t, uint64(0), hist[0].RoundID)
	require.Equal(t, uint64(1), hist[1].RoundID)
}

func TestRevPool_Pool_ClaimIsNotRepeatable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(10)))
	require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
	require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(90)))
	_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(90)))
	require.NoError(t, err)
	f.clock.Advance(maxDate * roundclock.Day)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.pool.ClaimReward(ctx, alice)
		}(i)
	}
	wg.Wait()

	var ok, nothing int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNothingToClaim):
			nothing++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, len(results)-1, nothing)
	require.Equal(t, new(big.Int).Add(ether(1000), big.NewInt(90)).String(), f.balance(t, f.lucky, alice).String())

	info := f.pool.UserInfo(alice)
	require.True(t, info.HasClaimed)
	require.Equal(t, uint64(0), info.LastRoundClaimed)
	require.Equal(t, []uint64{0}, info.PendingRoundsSnapshot)
}

func TestRevPool_Pool_TransferFailureLeavesStateIntact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("rpc unavailable")

	t.Run("deposit", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.lp.Fail(token.OpTransferFrom, boom)
		err := f.pool.DepositToken(ctx, alice, big.NewInt(100))
		require.ErrorIs(t, err, ErrTransferFailed)
		require.ErrorIs(t, err, boom)
		require.Equal(t, "0", f.pool.TotalStake(0, 1).String())
		require.Equal(t, "0", f.pool.UserInfo(alice).StakedAmount.String())
		require.Empty(t, f.journal.kinds())
	})

	t.Run("withdraw", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(100)))
		f.lp.Fail(token.OpTransfer, boom)
		_, err := f.pool.WithdrawToken(ctx, alice)
		require.ErrorIs(t, err, ErrTransferFailed)
		require.Equal(t, "100", f.pool.UserInfo(alice).StakedAmount.String())
		require.Equal(t, "100", f.pool.TotalStake(0, maxDate).String())
	})

	t.Run("revenue", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.pool.AddWhitelist(ctx, owner, bob))
		f.lucky.Fail(token.OpTransferFrom, boom)
		require.ErrorIs(t, f.pool.DepositRevenue(ctx, bob, big.NewInt(5)), ErrTransferFailed)
		require.Equal(t, "0", f.pool.TotalLuckyRevenue(0).String())
	})

	t.Run("claim", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(10)))
		require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
		require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(90)))
		_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(90)))
		require.NoError(t, err)
		_, err = f.pool.CloseRound(ctx, owner)
		require.NoError(t, err)

		f.lucky.Fail(token.OpTransfer, boom)
		_, err = f.pool.ClaimReward(ctx, alice)
		require.ErrorIs(t, err, ErrTransferFailed)
		require.Equal(t, "90", f.pool.PendingReward(alice).String())
		require.False(t, f.pool.UserInfo(alice).HasClaimed)

		f.lucky.Fail(token.OpTransfer, nil)
		paid, err := f.pool.ClaimReward(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, "90", paid.String())
	})
}

func TestRevPool_Pool_PendingTransferIsCommitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("claim", func(t *testing.T) {
		t.Parallel()
		backend := tokentesting.NewBackend("LUCKY")
		reward := newERC20(t, backend, "LUCKY", luckyAddr)
		f := newFixture(t, func(cfg *Config) { cfg.RewardToken = reward })

		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(10)))
		require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
		require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(90)))
		_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(90)))
		require.NoError(t, err)
		_, err = f.pool.CloseRound(ctx, owner)
		require.NoError(t, err)
		require.Len(t, backend.Sent(), 1)

		backend.SetPending(true)
		claimCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		paid, err := f.pool.ClaimReward(claimCtx, alice)
		require.NoError(t, err)
		require.Equal(t, "90", paid.String())
		require.Equal(t, "0", f.pool.PendingReward(alice).String())

		_, err = f.pool.ClaimReward(claimCtx, alice)
		require.ErrorIs(t, err, ErrNothingToClaim)
		_, err = f.pool.ClaimReward(ctx, alice)
		require.ErrorIs(t, err, ErrNothingToClaim)

		sent := backend.Sent()
		require.Len(t, sent, 2)
		ev := f.journal.last()
		require.Equal(t, EventClaim, ev.Kind)
		require.NotNil(t, ev.PendingTx)
		require.Equal(t, sent[1].Hash(), *ev.PendingTx)
	})

	t.Run("withdraw", func(t *testing.T) {
		t.Parallel()
		backend := tokentesting.NewBackend("LUCKY-BUSD")
		stake := newERC20(t, backend, "LUCKY-BUSD", lpAddr)
		f := newFixture(t, func(cfg *Config) { cfg.StakingToken = stake })

		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(100)))
		require.Nil(t, f.journal.last().PendingTx)

		backend.SetPending(true)
		withdrawCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		got, err := f.pool.WithdrawToken(withdrawCtx, alice)
		require.NoError(t, err)
		require.Equal(t, "100", got.String())
		require.Equal(t, "0", f.pool.UserInfo(alice).StakedAmount.String())

		_, err = f.pool.WithdrawToken(ctx, alice)
		require.ErrorIs(t, err, ErrNothingToWithdraw)
		require.Len(t, backend.Sent(), 2)
	})

	t.Run("deposit", func(t *testing.T) {
		t.Parallel()
		backend := tokentesting.NewBackend("LUCKY-BUSD")
		backend.SetPending(true)
		stake := newERC20(t, backend, "LUCKY-BUSD", lpAddr)
		f := newFixture(t, func(cfg *Config) { cfg.StakingToken = stake })

		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(100)))
		require.Equal(t, "100", f.pool.UserInfo(alice).StakedAmount.String())
		require.Equal(t, "100", f.pool.TotalStake(0, 1).String())

		sent := backend.Sent()
		require.Len(t, sent, 1)
		ev := f.journal.last()
		require.Equal(t, EventDeposit, ev.Kind)
		require.Equal(t, sent[0].Hash(), *ev.PendingTx)
	})

	t.Run("reverted transfer still fails", func(t *testing.T) {
		t.Parallel()
		backend := tokentesting.NewBackend("LUCKY-BUSD")
		backend.SetReceiptStatus(types.ReceiptStatusFailed)
		stake := newERC20(t, backend, "LUCKY-BUSD", lpAddr)
		f := newFixture(t, func(cfg *Config) { cfg.StakingToken = stake })

		err := f.pool.DepositToken(ctx, alice, big.NewInt(100))
		require.ErrorIs(t, err, ErrTransferFailed)
		require.Equal(t, "0", f.pool.UserInfo(alice).StakedAmount.String())
		require.Empty(t, f.journal.kinds())
	})
}

// Stake added on the finalize day after finalize is not part of the round's
// settlement, and the history entry reports the stake that was split.
func TestRevPool_Pool_FinalizeFreezesSettlementStake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(10)))
	require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
	require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(90)))
	entry, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(90)))
	require.NoError(t, err)
	require.Equal(t, 1, entry.FinalDay)
	require.Equal(t, "10", entry.TotalStake.String())

	require.NoError(t, f.pool.DepositToken(ctx, bob, big.NewInt(90)))
	require.Equal(t, "100", f.pool.TotalStake(0, 1).String())
	_, err = f.pool.CloseRound(ctx, owner)
	require.NoError(t, err)

	hist := f.pool.History(0, 1)
	require.Len(t, hist, 1)
	require.Equal(t, "10", hist[0].TotalStake.String())

	alicePending := f.pool.PendingReward(alice)
	bobPending := f.pool.PendingReward(bob)
	require.Equal(t, "90", alicePending.String())
	require.Equal(t, "0", bobPending.String())
	require.Equal(t, hist[0].Reward.String(), new(big.Int).Add(alicePending, bobPending).String())

	// The frozen stake survives a restart.
	restored := newFixture(t)
	require.NoError(t, restored.pool.Restore(f.pool.Snapshot()))
	require.Equal(t, "90", restored.pool.PendingReward(alice).String())
	require.Equal(t, "0", restored.pool.PendingReward(bob).String())
}

func TestRevPool_Pool_FinalizePolicies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("overwrite", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
		require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(100)))

		first, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(100)))
		require.NoError(t, err)
		require.Equal(t, 1, first.Revision)

		second, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(40)))
		require.NoError(t, err)
		require.Equal(t, 2, second.Revision)
		require.Equal(t, "40", f.pool.PoolInfo(0).RevenueAmount.String())
		require.Equal(t, "40", f.pool.LuckyRewardPerRound(0).String())
		require.Len(t, f.pool.History(0, 0), 1)
	})

	t.Run("reject", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(c *Config) { c.FinalizePolicy = revenue.FinalizeReject })
		require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
		require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(100)))

		_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(100)))
		require.NoError(t, err)
		_, err = f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(40)))
		require.ErrorIs(t, err, ErrRoundAlreadyFinalized)
		require.Equal(t, "100", f.pool.PoolInfo(0).RevenueAmount.String())
	})

	t.Run("future round and bad input", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.pool.UpdatePoolInfo(ctx, owner, update(1, big.NewInt(100)))
		require.ErrorIs(t, err, ErrUnknownRound)

		bad := update(0, big.NewInt(100))
		bad.RevSharePercent = decimal.NewFromInt(120)
		_, err = f.pool.UpdatePoolInfo(ctx, owner, bad)
		require.ErrorIs(t, err, ErrInvalidPoolInfo)

		_, err = f.pool.UpdatePoolInfo(ctx, owner, update(0, nil))
		require.ErrorIs(t, err, ErrInvalidPoolInfo)
	})
}

func TestRevPool_Pool_RewardStrategies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name     string
		strategy revenue.RewardStrategy
		want     string
	}{
		{name: "passthrough", strategy: revenue.PassThrough{}, want: "80"},
		{name: "revshare", strategy: revenue.RevShare{}, want: "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(c *Config) { c.Strategy = tt.strategy })
			require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(1)))
			require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
			require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(80)))

			_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(100)))
			require.NoError(t, err)
			got := f.pool.LuckyRewardPerRound(0)
			require.Equal(t, tt.want, got.String())
			require.LessOrEqual(t, got.Cmp(f.pool.PoolInfo(0).RevenueAmount), 0)
		})
	}
}

func TestRevPool_Pool_AccessControl(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.pool.AddWhitelist(ctx, alice, alice), ErrNotOwner)
	require.ErrorIs(t, f.pool.RemoveWhitelist(ctx, alice, owner), ErrNotOwner)
	require.ErrorIs(t, f.pool.UpdateMaxDate(ctx, alice, 7), ErrNotOwner)
	_, err := f.pool.UpdatePoolInfo(ctx, alice, update(0, big.NewInt(1)))
	require.ErrorIs(t, err, ErrNotOwner)
	_, err = f.pool.CloseRound(ctx, alice)
	require.ErrorIs(t, err, ErrNotOwner)
	require.ErrorIs(t, f.pool.DepositRevenue(ctx, alice, big.NewInt(1)), ErrNotWhitelisted)
	require.ErrorIs(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(1)), ErrNotWhitelisted)

	require.NoError(t, f.pool.AddWhitelist(ctx, owner, alice))
	require.True(t, f.pool.IsWhitelisted(alice))
	require.ErrorIs(t, f.pool.DepositRevenue(ctx, alice, big.NewInt(0)), ErrInvalidAmount)
	require.NoError(t, f.pool.DepositRevenue(ctx, alice, big.NewInt(1)))
	require.Equal(t, []common.Address{alice}, f.pool.Whitelist())

	require.NoError(t, f.pool.RemoveWhitelist(ctx, owner, alice))
	require.False(t, f.pool.IsWhitelisted(alice))
	require.ErrorIs(t, f.pool.DepositRevenue(ctx, alice, big.NewInt(1)), ErrNotWhitelisted)
}

func TestRevPool_Pool_RoundsFollowTheClock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(30)))
	require.NoError(t, f.pool.DepositToken(ctx, bob, big.NewInt(10)))
	require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
	require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(100)))

	require.ErrorIs(t, f.pool.UpdateMaxDate(ctx, owner, 0), ErrInvalidMaxDate)
	require.NoError(t, f.pool.UpdateMaxDate(ctx, owner, 7))
	require.Equal(t, 7, f.pool.MaxDate())

	// The current round keeps its 14 days.
	f.clock.Advance(13 * roundclock.Day)
	require.Equal(t, uint64(0), f.pool.CurrentRoundID())
	require.Equal(t, maxDate, f.pool.CurrentDay())

	f.clock.Advance(roundclock.Day)
	require.Equal(t, uint64(1), f.pool.CurrentRoundID())
	require.Equal(t, 1, f.pool.CurrentDay())

	// Finalizing an ended round snapshots its last day.
	entry, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(100)))
	require.NoError(t, err)
	require.Equal(t, maxDate, entry.FinalDay)
	require.Equal(t, "75", f.pool.PendingReward(alice).String())
	require.Equal(t, "25", f.pool.PendingReward(bob).String())

	round, err := f.pool.Round(1)
	require.NoError(t, err)
	require.True(t, round.Current)
	require.Equal(t, 7, round.Round.MaxDate)
	require.Equal(t, "30", f.pool.StakeAmount(1, 7, alice).String())

	f.clock.Advance(7 * roundclock.Day)
	require.Equal(t, uint64(2), f.pool.CurrentRoundID())

	_, err = f.pool.Round(9)
	require.ErrorIs(t, err, ErrUnknownRound)
}

func TestRevPool_Pool_Journal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("records committed mutations", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(10)))
		require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
		require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
		require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(90)))
		_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(90)))
		require.NoError(t, err)
		_, err = f.pool.CloseRound(ctx, owner)
		require.NoError(t, err)
		_, err = f.pool.ClaimReward(ctx, alice)
		require.NoError(t, err)
		_, err = f.pool.WithdrawToken(ctx, alice)
		require.NoError(t, err)

		require.Equal(t, []EventKind{
			EventDeposit, EventWhitelistAdd, EventRevenue, EventFinalize, EventCloseRound, EventClaim, EventWithdraw,
		}, f.journal.kinds())

		claim := f.journal.events[5]
		require.Equal(t, alice, claim.Caller)
		require.Equal(t, "90", claim.Amount.String())
		require.Equal(t, []uint64{0}, claim.Rounds)
		require.NotEqual(t, claim.ID, f.journal.events[4].ID)
		require.Equal(t, start, claim.At)

		last := f.journal.states[len(f.journal.states)-1]
		require.Equal(t, StateVersion, last.Version)
		require.Len(t, last.History, 1)
	})

	t.Run("append outlives a cancelled caller", func(t *testing.T) {
		t.Parallel()
		j := &ctxJournal{}
		f := newFixture(t, func(cfg *Config) { cfg.Journal = j })
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		require.NoError(t, f.pool.DepositToken(cancelled, alice, big.NewInt(10)))
		require.Equal(t, 1, j.appended)
	})

	t.Run("errors do not roll back", func(t *testing.T) {
		t.Parallel()
		var logs bytes.Buffer
		f := newFixture(t, func(cfg *Config) {
			cfg.Logger = slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelError}))
		})
		f.journal.err = errors.New("database down")
		require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(10)))
		require.Equal(t, "10", f.pool.UserInfo(alice).StakedAmount.String())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
		require.Equal(t, "pool: failed to journal event", entry["msg"])
		require.Equal(t, string(EventDeposit), entry["kind"])
		require.Equal(t, alice.Hex(), entry["caller"])
		require.EqualValues(t, 10, entry["amount"])
		require.EqualValues(t, 1, entry["day"])
		require.Equal(t, "database down", entry["error"])
	})
}

func TestRevPool_Pool_SnapshotRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.pool.DepositToken(ctx, alice, big.NewInt(30)))
	require.NoError(t, f.pool.DepositToken(ctx, bob, big.NewInt(10)))
	require.NoError(t, f.pool.AddWhitelist(ctx, owner, owner))
	require.NoError(t, f.pool.DepositRevenue(ctx, owner, big.NewInt(100)))
	_, err := f.pool.UpdatePoolInfo(ctx, owner, update(0, big.NewInt(100)))
	require.NoError(t, err)
	_, err = f.pool.CloseRound(ctx, owner)
	require.NoError(t, err)
	_, err = f.pool.ClaimReward(ctx, alice)
	require.NoError(t, err)
	require.NoError(t, f.pool.UpdateMaxDate(ctx, owner, 5))

	raw, err := json.Marshal(f.pool.Snapshot())
	require.NoError(t, err)
	var st State
	require.NoError(t, json.Unmarshal(raw, &st))

	restored := newFixture(t)
	require.NoError(t, restored.pool.Restore(st))

	require.Equal(t, uint64(1), restored.pool.CurrentRoundID())
	require.Equal(t, 5, restored.pool.MaxDate())
	require.Equal(t, "0", restored.pool.PendingReward(alice).String())
	require.Equal(t, "25", restored.pool.PendingReward(bob).String())
	require.Equal(t, "30", restored.pool.StakeAmount(1, 3, alice).String())
	require.Equal(t, "40", restored.pool.TotalStake(0, maxDate).String())
	require.True(t, restored.pool.IsWhitelisted(owner))
	require.Len(t, restored.pool.History(0, 0), 1)
	require.True(t, restored.pool.PoolInfo(0).RevSharePercent.Equal(decimal.NewFromInt(5)))
	require.Equal(t, []uint64{0}, restored.pool.UserInfo(alice).PendingRoundsSnapshot)

	st.Version = 99
	require.Error(t, restored.pool.Restore(st))
}
