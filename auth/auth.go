// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package auth gates privileged ledger operations behind a management
// address with a two-step handover, and tracks which callers an account has
// authorized to claim on its behalf.
package auth

import (
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
)

var (
	// ErrNotManagement is returned when a privileged call comes from anyone
	// but the current management.
	ErrNotManagement = errors.New("caller is not management")

	// ErrNotPendingManagement is returned when a handover is accepted by
	// anyone but the proposed candidate.
	ErrNotPendingManagement = errors.New("caller is not pending management")

	// ErrNotAuthorized is returned when a caller acts on an account that has
	// not authorized it.
	ErrNotAuthorized = errors.New("caller is not authorized for account")
)

// Auth holds the management and claimer-allowlist state of one ledger module.
type Auth struct {
	management *stor.Address
	pending    *stor.Address
	claimers   *stor.Mapping[stor.CompositeKey, bool]
}

// New creates the auth module bound to the given address.
func New(addr drip.Address, st *state.State) *Auth {
	context := stor.NewContext(addr, st)
	return &Auth{
		management: stor.NewAddress(context, stor.Slot("management")),
		pending:    stor.NewAddress(context, stor.Slot("pending-management")),
		claimers:   stor.NewMapping[stor.CompositeKey, bool](context, stor.Slot("claimers")),
	}
}

// Init sets the initial management. It only takes effect while no management
// is set.
func (a *Auth) Init(management drip.Address) error {
	current, err := a.management.Get()
	if err != nil {
		return err
	}
	if !current.IsZero() {
		return errors.New("management already set")
	}
	a.management.Set(&management)
	return nil
}

// Management returns the current management address.
func (a *Auth) Management() (drip.Address, error) {
	return a.management.Get()
}

// PendingManagement returns the proposed management candidate, zero if none.
func (a *Auth) PendingManagement() (drip.Address, error) {
	return a.pending.Get()
}

// Require returns ErrNotManagement unless the caller is the current management.
func (a *Auth) Require(caller drip.Address) error {
	management, err := a.management.Get()
	if err != nil {
		return err
	}
	if caller != management {
		return ErrNotManagement
	}
	return nil
}

// ProposeManagement starts a handover to candidate. Only management may call.
// Passing the zero address cancels a pending handover.
func (a *Auth) ProposeManagement(caller, candidate drip.Address) error {
	if err := a.Require(caller); err != nil {
		return err
	}
	if candidate.IsZero() {
		a.pending.Set(nil)
	} else {
		a.pending.Set(&candidate)
	}
	return nil
}

// AcceptManagement completes a handover. Only the pending candidate may call.
func (a *Auth) AcceptManagement(caller drip.Address) error {
	pending, err := a.pending.Get()
	if err != nil {
		return err
	}
	if pending.IsZero() || caller != pending {
		return ErrNotPendingManagement
	}
	a.management.Set(&pending)
	a.pending.Set(nil)
	return nil
}

// SetClaimer records whether claimer may claim on behalf of account.
func (a *Auth) SetClaimer(account, claimer drip.Address, allowed bool) error {
	key := stor.CompositeKey{A: account, B: claimer}
	if !allowed {
		return a.claimers.Clear(key)
	}
	return a.claimers.Set(key, true)
}

// IsClaimer reports whether caller may claim for account. Accounts always
// may claim for themselves.
func (a *Auth) IsClaimer(account, caller drip.Address) (bool, error) {
	if account == caller {
		return true, nil
	}
	return a.claimers.Get(stor.CompositeKey{A: account, B: caller})
}

// RequireClaimer returns ErrNotAuthorized unless caller may claim for account.
func (a *Auth) RequireClaimer(account, caller drip.Address) error {
	ok, err := a.IsClaimer(account, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthorized
	}
	return nil
}
