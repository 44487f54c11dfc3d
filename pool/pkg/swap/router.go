// Package swap quotes token conversions through a UniswapV2-style router such
// as PancakeSwap.
package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const routerABI = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

var ErrEmptyQuote = errors.New("swap: router returned no amounts")

type RouterConfig struct {
	Caller  bind.ContractCaller
	Address common.Address
	// Via is an optional intermediate token, usually the wrapped native coin,
	// used when no direct pair exists.
	Via common.Address
}

func (cfg *RouterConfig) Validate() error {
	if cfg.Caller == nil {
		return errors.New("caller is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("router address is required")
	}
	return nil
}

// Router quotes amounts with getAmountsOut.
type Router struct {
	cfg      RouterConfig
	contract *bind.BoundContract
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router abi: %w", err)
	}
	return &Router{
		cfg:      cfg,
		contract: bind.NewBoundContract(cfg.Address, parsed, cfg.Caller, nil, nil),
	}, nil
}

// Path returns the swap path from tokenIn to tokenOut.
func (r *Router) Path(tokenIn, tokenOut common.Address) []common.Address {
	if r.cfg.Via == (common.Address{}) || r.cfg.Via == tokenIn || r.cfg.Via == tokenOut {
		return []common.Address{tokenIn, tokenOut}
	}
	return []common.Address{tokenIn, r.cfg.Via, tokenOut}
}

// Quote returns how much tokenOut the router gives for amountIn of tokenIn.
func (r *Router) Quote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error) {
	if tokenIn == tokenOut {
		return new(big.Int).Set(amountIn), nil
	}
	path := r.Path(tokenIn, tokenOut)
	var out []any
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAmountsOut", amountIn, path); err != nil {
		return nil, fmt.Errorf("failed to call getAmountsOut: %w", err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAmountsOut result %T", out[0])
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("%w: got %d amounts for path of %d", ErrEmptyQuote, len(amounts), len(path))
	}
	return amounts[len(amounts)-1], nil
}
