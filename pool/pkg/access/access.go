// Package access decides which callers may run operator-gated pool actions.
package access

import (
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner       = errors.New("access: caller is not the owner")
	ErrNotWhitelisted = errors.New("access: caller is not whitelisted")
)

// Action is a gated pool operation.
type Action string

const (
	ActionManageWhitelist Action = "manage_whitelist"
	ActionUpdateMaxDate   Action = "update_max_date"
	ActionUpdatePoolInfo  Action = "update_pool_info"
	ActionCloseRound      Action = "close_round"
	ActionDepositRevenue  Action = "deposit_revenue"
)

// Policy authorizes callers for actions.
type Policy interface {
	IsAuthorized(caller common.Address, action Action) bool
}

// Registry is a Policy with an editable allow-list.
type Registry interface {
	Policy
	IsWhitelisted(addr common.Address) bool
	Add(addr common.Address) bool
	Remove(addr common.Address) bool
	Members() []common.Address
	Replace(members []common.Address)
}

// Denied returns the error reported when action is refused.
func Denied(action Action) error {
	if action == ActionDepositRevenue {
		return ErrNotWhitelisted
	}
	return ErrNotOwner
}

// List is an owner plus allow-list policy. The owner may run every action;
// allow-listed addresses may only deposit revenue.
type List struct {
	owner common.Address

	mu        sync.RWMutex
	whitelist map[common.Address]struct{}
}

var _ Registry = (*List)(nil)

func NewList(owner common.Address, whitelisted ...common.Address) *List {
	l := &List{owner: owner, whitelist: make(map[common.Address]struct{}, len(whitelisted))}
	for _, addr := range whitelisted {
		l.whitelist[addr] = struct{}{}
	}
	return l
}

func (l *List) Owner() common.Address {
	return l.owner
}

func (l *List) IsOwner(addr common.Address) bool {
	return addr == l.owner
}

func (l *List) IsAuthorized(caller common.Address, action Action) bool {
	if action == ActionDepositRevenue {
		return l.IsWhitelisted(caller)
	}
	return l.IsOwner(caller)
}

func (l *List) IsWhitelisted(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.whitelist[addr]
	return ok
}

// Add puts addr on the allow-list. It reports whether membership changed.
func (l *List) Add(addr common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.whitelist[addr]; ok {
		return false
	}
	l.whitelist[addr] = struct{}{}
	return true
}

// Remove takes addr off the allow-list. It reports whether membership changed.
func (l *List) Remove(addr common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.whitelist[addr]; !ok {
		return false
	}
	delete(l.whitelist, addr)
	return true
}

// Members returns the allow-list sorted by address.
func (l *List) Members() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]common.Address, 0, len(l.whitelist))
	for addr := range l.whitelist {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Replace sets the allow-list to exactly members.
func (l *List) Replace(members []common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.whitelist = make(map[common.Address]struct{}, len(members))
	for _, addr := range members {
		l.whitelist[addr] = struct{}{}
	}
}
