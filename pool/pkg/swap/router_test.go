package swap

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	busd   = common.HexToAddress("0x00000000000000000000000000000000000000b5")
	lucky  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	wbnb   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	router = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

// fakeCaller prices every hop at rate/100.
type fakeCaller struct {
	rate     int64
	lastPath []common.Address
	err      error
	short    bool
}

func (f *fakeCaller) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, err
	}
	method := parsed.Methods["getAmountsOut"]
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(args[0].(*big.Int))
	f.lastPath = args[1].([]common.Address)

	amounts := []*big.Int{new(big.Int).Set(amount)}
	for range f.lastPath[1:] {
		amount = new(big.Int).Div(new(big.Int).Mul(amount, big.NewInt(f.rate)), big.NewInt(100))
		amounts = append(amounts, amount)
	}
	if f.short {
		amounts = amounts[:1]
	}
	return method.Outputs.Pack(amounts)
}

func newRouter(t *testing.T, caller *fakeCaller, via common.Address) *Router {
	t.Helper()
	r, err := NewRouter(RouterConfig{Caller: caller, Address: router, Via: via})
	require.NoError(t, err)
	return r
}

func TestRevPool_Swap_Config(t *testing.T) {
	t.Parallel()

	_, err := NewRouter(RouterConfig{Address: router})
	require.EqualError(t, err, "caller is required")
	_, err = NewRouter(RouterConfig{Caller: &fakeCaller{}})
	require.EqualError(t, err, "router address is required")
}

func TestRevPool_Swap_Quote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("direct pair", func(t *testing.T) {
		t.Parallel()
		caller := &fakeCaller{rate: 50}
		r := newRouter(t, caller, common.Address{})
		out, err := r.Quote(ctx, big.NewInt(1000), busd, lucky)
		require.NoError(t, err)
		require.Equal(t, "500", out.String())
		require.Equal(t, []common.Address{busd, lucky}, caller.lastPath)
	})

	t.Run("through wrapped native", func(t *testing.T) {
		t.Parallel()
		caller := &fakeCaller{rate: 50}
		r := newRouter(t, caller, wbnb)
		out, err := r.Quote(ctx, big.NewInt(1000), busd, lucky)
		require.NoError(t, err)
		require.Equal(t, "250", out.String())
		require.Equal(t, []common.Address{busd, wbnb, lucky}, caller.lastPath)

		require.Equal(t, []common.Address{wbnb, lucky}, r.Path(wbnb, lucky))
	})

	t.Run("same token", func(t *testing.T) {
		t.Parallel()
		caller := &fakeCaller{rate: 50}
		r := newRouter(t, caller, wbnb)
		out, err := r.Quote(ctx, big.NewInt(1000), busd, busd)
		require.NoError(t, err)
		require.Equal(t, "1000", out.String())
		require.Nil(t, caller.lastPath)
	})

	t.Run("call error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("execution reverted")
		r := newRouter(t, &fakeCaller{err: boom}, common.Address{})
		_, err := r.Quote(ctx, big.NewInt(1000), busd, lucky)
		require.ErrorIs(t, err, boom)
	})

	t.Run("short result", func(t *testing.T) {
		t.Parallel()
		r := newRouter(t, &fakeCaller{rate: 50, short: true}, common.Address{})
		_, err := r.Quote(ctx, big.NewInt(1000), busd, lucky)
		require.ErrorIs(t, err, ErrEmptyQuote)
	})
}
