// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stor

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/drip-labs/drip/drip"
)

// Uint256 is a storage cell holding an unsigned big integer, truncated to 256
// bits on write.
type Uint256 struct {
	context *Context
	pos     drip.Bytes32
}

// NewUint256 creates a cell at the given slot position.
func NewUint256(context *Context, pos drip.Bytes32) *Uint256 {
	return &Uint256{context: context, pos: pos}
}

// Get returns the stored value, zero if unset.
func (u *Uint256) Get() (*big.Int, error) {
	storage, err := u.context.state.GetStorage(u.context.address, u.pos)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(storage.Bytes()), nil
}

// Set stores the given value.
func (u *Uint256) Set(value *big.Int) {
	u.context.state.SetStorage(u.context.address, u.pos, drip.BytesToBytes32(value.Bytes()))
}

// Add increases the stored value.
func (u *Uint256) Add(value *big.Int) error {
	stored, err := u.Get()
	if err != nil {
		return err
	}
	u.Set(stored.Add(stored, value))
	return nil
}

// Sub decreases the stored value. Going below zero is an error, the cell is
// left untouched in that case.
func (u *Uint256) Sub(value *big.Int) error {
	stored, err := u.Get()
	if err != nil {
		return err
	}
	if stored.Cmp(value) < 0 {
		return errors.New("storage cell underflow")
	}
	u.Set(stored.Sub(stored, value))
	return nil
}

// Uint64 is a storage cell holding a uint64, used for epoch cursors and counts.
type Uint64 struct {
	context *Context
	pos     drip.Bytes32
}

// NewUint64 creates a cell at the given slot position.
func NewUint64(context *Context, pos drip.Bytes32) *Uint64 {
	return &Uint64{context: context, pos: pos}
}

// Get returns the stored value, zero if unset.
func (u *Uint64) Get() (uint64, error) {
	storage, err := u.context.state.GetStorage(u.context.address, u.pos)
	if err != nil {
		return 0, err
	}
	return new(big.Int).SetBytes(storage.Bytes()).Uint64(), nil
}

// Set stores the given value.
func (u *Uint64) Set(value uint64) {
	u.context.state.SetStorage(u.context.address, u.pos, drip.BytesToBytes32(new(big.Int).SetUint64(value).Bytes()))
}

// Address is a storage cell holding an address.
type Address struct {
	context *Context
	pos     drip.Bytes32
}

// NewAddress creates a cell at the given slot position.
func NewAddress(context *Context, pos drip.Bytes32) *Address {
	return &Address{context: context, pos: pos}
}

// Get returns the stored address, zero if unset.
func (a *Address) Get() (drip.Address, error) {
	storage, err := a.context.state.GetStorage(a.context.address, a.pos)
	if err != nil {
		return drip.Address{}, err
	}
	return drip.BytesToAddress(storage.Bytes()), nil
}

// Set stores the given address, nil clears the cell.
func (a *Address) Set(addr *drip.Address) {
	var storage drip.Bytes32
	if addr != nil {
		storage = drip.BytesToBytes32(addr.Bytes())
	}
	a.context.state.SetStorage(a.context.address, a.pos, storage)
}

// Bytes32 is a storage cell holding a [32]byte.
type Bytes32 struct {
	context *Context
	pos     drip.Bytes32
}

// NewBytes32 creates a cell at the given slot position.
func NewBytes32(context *Context, pos drip.Bytes32) *Bytes32 {
	return &Bytes32{context: context, pos: pos}
}

// Get returns the stored value.
func (b *Bytes32) Get() (drip.Bytes32, error) {
	return b.context.state.GetStorage(b.context.address, b.pos)
}

// Set stores the given value, nil clears the cell.
func (b *Bytes32) Set(value *drip.Bytes32) {
	if value == nil {
		value = &drip.Bytes32{}
	}
	b.context.state.SetStorage(b.context.address, b.pos, *value)
}
