package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Op names a Memory operation for failure injection.
type Op string

const (
	OpTransfer     Op = "transfer"
	OpTransferFrom Op = "transferFrom"
	OpBalanceOf    Op = "balanceOf"
)

// Memory is an in-process token ledger used in dev mode and tests. The holder
// is the address the token treats as the pool: Transfer debits it and
// TransferFrom spends allowances granted to it.
type Memory struct {
	symbol  string
	address common.Address
	holder  common.Address

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	failures   map[Op]error
}

func NewMemory(symbol string, address, holder common.Address) *Memory {
	return &Memory{
		symbol:     symbol,
		address:    address,
		holder:     holder,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		failures:   make(map[Op]error),
	}
}

func (m *Memory) Symbol() string          { return m.symbol }
func (m *Memory) Address() common.Address { return m.address }

// Mint credits amount to addr.
func (m *Memory) Mint(addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceLocked(addr).Add(m.balanceLocked(addr), amount)
}

// Approve lets spender pull up to amount from owner.
func (m *Memory) Approve(owner, spender common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.allowances[owner]; !ok {
		m.allowances[owner] = make(map[common.Address]*big.Int)
	}
	m.allowances[owner][spender] = new(big.Int).Set(amount)
}

// Allowance returns what spender may still pull from owner.
func (m *Memory) Allowance(owner, spender common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Fail makes every subsequent op return err until cleared with a nil err.
func (m *Memory) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpTransferFrom]; err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInvalidAmount)
	}
	allowance := m.allowances[from][m.holder]
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInsufficientAllowance)
	}
	if err := m.moveLocked(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

func (m *Memory) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpTransfer]; err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInvalidAmount)
	}
	return m.moveLocked(m.holder, to, amount)
}

func (m *Memory) BalanceOf(_ context.Context, addr common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpBalanceOf]; err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.balanceLocked(addr)), nil
}

func (m *Memory) moveLocked(from, to common.Address, amount *big.Int) error {
	src := m.balanceLocked(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %w", ErrTransferFailed, ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := m.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

func (m *Memory) balanceLocked(addr common.Address) *big.Int {
	b, ok := m.balances[addr]
	if !ok {
		b = new(big.Int)
		m.balances[addr] = b
	}
	return b
}
