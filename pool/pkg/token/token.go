// Package token moves staking and reward tokens in and out of the pool.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTransferFailed wraps every failure of a token movement.
	ErrTransferFailed = errors.New("token: transfer failed")

	// ErrTransferPending marks a transfer that was broadcast but not seen in a
	// block before the wait ended. It may still be mined.
	ErrTransferPending = errors.New("token: transfer pending")

	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: invalid amount")
)

// Token is an ERC20-style token held in custody by the pool. Transfer sends
// from the pool; TransferFrom pulls from an address that approved the pool.
type Token interface {
	Symbol() string
	Address() common.Address
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
}

// PendingError is returned for a transfer whose transaction was accepted by
// the node but whose receipt did not arrive in time. Callers must treat the
// movement as done.
type PendingError struct {
	Tx  common.Hash
	Err error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrTransferPending, e.Tx.Hex(), e.Err)
}

func (e *PendingError) Unwrap() []error {
	return []error{ErrTransferPending, e.Err}
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
