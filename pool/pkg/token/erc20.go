package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABI = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var parsedERC20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse abi: %v", err))
	}
	return parsed
}

// Backend is the chain access the ERC20 adapter needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type ERC20Config struct {
	Logger  *slog.Logger
	Backend Backend
	Address common.Address
	// Key signs transfers and is the custody address of the pool.
	Key     *ecdsa.PrivateKey
	ChainID *big.Int
	// Symbol is read from the contract when empty.
	Symbol         string
	ReceiptTimeout time.Duration
}

func (cfg *ERC20Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("token address is required")
	}
	if cfg.Key == nil {
		return errors.New("custody key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return errors.New("chain id is required")
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	return nil
}

// ERC20 is a Token backed by a deployed ERC20 contract.
type ERC20 struct {
	log      *slog.Logger
	cfg      ERC20Config
	contract *bind.BoundContract
	custody  common.Address
	symbol   string
}

func NewERC20(ctx context.Context, cfg ERC20Config) (*ERC20, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &ERC20{
		log:      cfg.Logger,
		cfg:      cfg,
		contract: bind.NewBoundContract(cfg.Address, parsedERC20, cfg.Backend, cfg.Backend, cfg.Backend),
		custody:  crypto.PubkeyToAddress(cfg.Key.PublicKey),
		symbol:   cfg.Symbol,
	}
	if t.symbol == "" {
		var out []any
		if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "symbol"); err != nil {
			return nil, fmt.Errorf("failed to read token symbol: %w", err)
		}
		symbol, ok := out[0].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected symbol type %T", out[0])
		}
		t.symbol = symbol
	}
	return t, nil
}

func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Address() common.Address { return t.cfg.Address }

// Custody returns the address that signs transfers.
func (t *ERC20) Custody() common.Address { return t.custody }

func (t *ERC20) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out []any
	if err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", addr); err != nil {
		return nil, fmt.Errorf("failed to read balance of %s: %w", addr.Hex(), err)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", out[0])
	}
	return balance, nil
}

func (t *ERC20) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInvalidAmount)
	}
	return t.transact(ctx, "transfer", to, amount)
}

func (t *ERC20) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInvalidAmount)
	}
	return t.transact(ctx, "transferFrom", from, to, amount)
}

// transact sends a transaction and waits for its receipt. The caller's
// cancellation is not propagated: once the node accepts the transaction the
// transfer is committed, and a missing receipt yields a *PendingError.
func (t *ERC20) transact(ctx context.Context, method string, params ...any) error {
	opts, err := bind.NewKeyedTransactorWithChainID(t.cfg.Key, t.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	sendCtx, cancelSend := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.ReceiptTimeout)
	defer cancelSend()
	opts.Context = sendCtx

	tx, err := t.contract.Transact(opts, method, params...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransferFailed, method, err)
	}
	t.log.Debug("token: transaction sent", "token", t.symbol, "method", method, "tx", tx.Hash().Hex())

	waitCtx, cancelWait := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.ReceiptTimeout)
	defer cancelWait()
	receipt, err := bind.WaitMined(waitCtx, t.cfg.Backend, tx)
	if err != nil {
		t.log.Warn("token: receipt not seen", "token", t.symbol, "method", method, "tx", tx.Hash().Hex(), "error", err)
		return &PendingError{Tx: tx.Hash(), Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s reverted in %s", ErrTransferFailed, method, tx.Hash().Hex())
	}
	t.log.Info("token: transfer mined", "token", t.symbol, "method", method, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}
