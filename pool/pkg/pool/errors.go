package pool

import (
	"errors"

	"github.com/malbeclabs/revpool/pool/pkg/access"
	"github.com/malbeclabs/revpool/pool/pkg/ledger"
	"github.com/malbeclabs/revpool/pool/pkg/revenue"
	"github.com/malbeclabs/revpool/pool/pkg/roundclock"
	"github.com/malbeclabs/revpool/pool/pkg/settlement"
	"github.com/malbeclabs/revpool/pool/pkg/token"
)

var (
	ErrInvalidAmount   = errors.New("pool: amount must be positive")
	ErrInvalidPoolInfo = errors.New("pool: invalid pool info")
	ErrUnknownRound    = errors.New("pool: round has not started")

	ErrNothingToWithdraw     = ledger.ErrNothingToWithdraw
	ErrNothingToClaim        = settlement.ErrNothingToClaim
	ErrNotOwner              = access.ErrNotOwner
	ErrNotWhitelisted        = access.ErrNotWhitelisted
	ErrRoundAlreadyFinalized = revenue.ErrRoundAlreadyFinalized
	ErrInvalidMaxDate        = roundclock.ErrInvalidMaxDate
	ErrTransferFailed        = token.ErrTransferFailed
)
