// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package params holds governed configuration values keyed by well-known
// slots, such as expiration windows and bounty rates.
package params

import (
	"math/big"

	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
)

// Params is the governed key/value store of the ledger.
type Params struct {
	context *stor.Context
}

// New creates the params module bound to the given address.
func New(addr drip.Address, st *state.State) *Params {
	return &Params{context: stor.NewContext(addr, st)}
}

// Get returns the value stored under key, zero if unset.
func (p *Params) Get(key drip.Bytes32) (*big.Int, error) {
	storage, err := p.context.State().GetStorage(p.context.Address(), key)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(storage.Bytes()), nil
}

// Set stores value under key.
func (p *Params) Set(key drip.Bytes32, value *big.Int) {
	p.context.State().SetStorage(p.context.Address(), key, drip.BytesToBytes32(value.Bytes()))
}

// GetUint64 returns the value stored under key as a uint64.
func (p *Params) GetUint64(key drip.Bytes32) (uint64, error) {
	v, err := p.Get(key)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// GetAddress returns the value stored under key as an address.
func (p *Params) GetAddress(key drip.Bytes32) (drip.Address, error) {
	storage, err := p.context.State().GetStorage(p.context.Address(), key)
	if err != nil {
		return drip.Address{}, err
	}
	return drip.BytesToAddress(storage.Bytes()), nil
}

// SetAddress stores an address under key.
func (p *Params) SetAddress(key drip.Bytes32, addr drip.Address) {
	p.context.State().SetStorage(p.context.Address(), key, drip.BytesToBytes32(addr.Bytes()))
}
