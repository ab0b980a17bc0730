// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package stor provides typed storage cells over the ledger state, similar to
// the storage layout of a smart contract: every ledger module owns an address
// and lays out its durable fields in named slots under it.
package stor

import (
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/state"
)

// Context binds a module address to a state instance.
type Context struct {
	address drip.Address
	state   *state.State
}

// NewContext creates a storage context for the module at the given address.
func NewContext(address drip.Address, state *state.State) *Context {
	return &Context{
		address: address,
		state:   state,
	}
}

// Address returns the owning module address.
func (c *Context) Address() drip.Address {
	return c.address
}

// State returns the underlying state.
func (c *Context) State() *state.State {
	return c.state
}

// Slot converts a field name into its storage slot position.
func Slot(name string) drip.Bytes32 {
	return drip.BytesToBytes32([]byte(name))
}
