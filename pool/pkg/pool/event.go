package pool

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventKind string

const (
	EventDeposit         EventKind = "deposit"
	EventWithdraw        EventKind = "withdraw"
	EventWhitelistAdd    EventKind = "whitelist_add"
	EventWhitelistRemove EventKind = "whitelist_remove"
	EventMaxDate         EventKind = "max_date"
	EventRevenue         EventKind = "revenue"
	EventFinalize        EventKind = "finalize"
	EventCloseRound      EventKind = "close_round"
	EventClaim           EventKind = "claim"
)

// Event describes one committed mutation.
type Event struct {
	ID      uuid.UUID      `json:"id"`
	Kind    EventKind      `json:"kind"`
	Caller  common.Address `json:"caller"`
	RoundID uint64         `json:"round_id"`
	Day     int            `json:"day"`
	// Amount is the token amount moved, or the new max date for EventMaxDate.
	Amount *big.Int `json:"amount,omitempty"`
	// Target is the address affected by allow-list changes.
	Target *common.Address `json:"target,omitempty"`
	Rounds []uint64        `json:"rounds,omitempty"`
	// PendingTx is set when the token transfer was broadcast but its receipt
	// was not seen.
	PendingTx *common.Hash `json:"pending_tx,omitempty"`
	At        time.Time    `json:"at"`
}

// Journal persists committed mutations together with the state they produced.
type Journal interface {
	Append(ctx context.Context, ev Event, st State) error
}
