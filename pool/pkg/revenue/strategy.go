package revenue

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RewardInput is what a strategy sees when a round is finalized.
type RewardInput struct {
	RoundID      uint64
	Info         PoolInfo
	LuckyRevenue *big.Int
	RevenueToken common.Address
	RewardToken  common.Address
}

// RewardStrategy derives the reward amount of a round at finalize time.
type RewardStrategy interface {
	Name() string
	Reward(ctx context.Context, in RewardInput) (*big.Int, error)
}

// Quoter converts an amount of tokenIn into tokenOut at current market rates.
type Quoter interface {
	Quote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error)
}

// PassThrough distributes the reward tokens deposited for the round.
type PassThrough struct{}

func (PassThrough) Name() string { return "passthrough" }

func (PassThrough) Reward(_ context.Context, in RewardInput) (*big.Int, error) {
	return cloneInt(in.LuckyRevenue), nil
}

// RevShare distributes revenueAmount * revSharePercent / 100, truncated.
type RevShare struct{}

func (RevShare) Name() string { return "revshare" }

func (RevShare) Reward(_ context.Context, in RewardInput) (*big.Int, error) {
	if err := in.Info.Validate(); err != nil {
		return nil, err
	}
	share := decimal.NewFromBigInt(in.Info.RevenueAmount, 0).
		Mul(in.Info.RevSharePercent).
		Div(decimal.NewFromInt(100))
	return share.BigInt(), nil
}

// SwapQuote converts the reported revenue into the reward token through a
// quoter. When both tokens are the same the revenue passes through.
type SwapQuote struct {
	Quoter Quoter
}

func (SwapQuote) Name() string { return "swap" }

func (s SwapQuote) Reward(ctx context.Context, in RewardInput) (*big.Int, error) {
	if err := in.Info.Validate(); err != nil {
		return nil, err
	}
	if in.Info.RevenueAmount.Sign() == 0 || in.RevenueToken == in.RewardToken {
		return cloneInt(in.Info.RevenueAmount), nil
	}
	if s.Quoter == nil {
		return nil, ErrQuoterRequired
	}
	out, err := s.Quoter.Quote(ctx, in.Info.RevenueAmount, in.RevenueToken, in.RewardToken)
	if err != nil {
		return nil, fmt.Errorf("failed to quote revenue for round %d: %w", in.RoundID, err)
	}
	if out == nil || out.Sign() < 0 {
		return nil, fmt.Errorf("%w: quote", ErrInvalidAmount)
	}
	return out, nil
}

// NewStrategy returns the strategy registered under name. quoter is only
// needed for "swap".
func NewStrategy(name string, quoter Quoter) (RewardStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "passthrough":
		return PassThrough{}, nil
	case "revshare":
		return RevShare{}, nil
	case "swap":
		if quoter == nil {
			return nil, ErrQuoterRequired
		}
		return SwapQuote{Quoter: quoter}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}
