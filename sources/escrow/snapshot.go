// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package escrow distributes rewards to snapshotted time-locked positions
// with a linearly decaying boost. Positions live in an external escrow; the
// snapshot only counts while the live lock still covers it.
package escrow

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/packing"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
)

// LiveEscrow is the external escrow consulted to validate snapshots.
type LiveEscrow interface {
	Locked(account drip.Address) (amount *big.Int, end uint64, err error)
}

// Position is a snapshotted lock: principal, the epoch until which the boost
// decays, and the lock's unlock timestamp.
type Position struct {
	Amount      *big.Int
	BoostEpochs uint64
	UnlockTime  uint64
}

// IsZero reports whether the position is empty.
func (p *Position) IsZero() bool {
	return p.Amount.Sign() == 0
}

// Snapshot stores administrator-recorded positions and validates them
// against the live escrow.
type Snapshot struct {
	context   *stor.Context
	auth      *auth.Auth
	live      LiveEscrow
	positions *stor.Mapping[drip.Address, drip.Bytes32]
}

// NewSnapshot creates the snapshot store bound to the given address.
func NewSnapshot(addr drip.Address, st *state.State, au *auth.Auth, live LiveEscrow) *Snapshot {
	context := stor.NewContext(addr, st)
	return &Snapshot{
		context:   context,
		auth:      au,
		live:      live,
		positions: stor.NewMapping[drip.Address, drip.Bytes32](context, stor.Slot("positions")),
	}
}

// Set records an account's snapshot. Only management may call.
func (s *Snapshot) Set(caller, account drip.Address, amount *big.Int, boostEpochs, unlockTime uint64) error {
	if err := s.auth.Require(caller); err != nil {
		return err
	}
	a, overflow := uint256.FromBig(amount)
	if overflow {
		return errors.New("amount exceeds storage width")
	}
	word, err := packing.LockState.Pack(a, uint256.NewInt(boostEpochs), uint256.NewInt(unlockTime))
	if err != nil {
		return errors.Wrap(err, "failed to pack snapshot")
	}
	return s.positions.Set(account, drip.BytesToBytes32(word.Bytes()))
}

// Get returns the raw snapshot, regardless of the live lock.
func (s *Snapshot) Get(account drip.Address) (*Position, error) {
	raw, err := s.positions.Get(account)
	if err != nil {
		return nil, err
	}
	word := new(uint256.Int).SetBytes(raw.Bytes())
	return &Position{
		Amount:      packing.LockState.Field(word, 0).ToBig(),
		BoostEpochs: packing.LockState.Field(word, 1).Uint64(),
		UnlockTime:  packing.LockState.Field(word, 2).Uint64(),
	}, nil
}

// Locked returns the snapshot while the live lock still covers it, and a
// zero position otherwise. A shrunk or shortened live lock invalidates the
// snapshot entirely.
func (s *Snapshot) Locked(account drip.Address) (*Position, error) {
	pos, err := s.Get(account)
	if err != nil {
		return nil, err
	}
	if pos.IsZero() {
		return pos, nil
	}
	amount, end, err := s.live.Locked(account)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(pos.Amount) < 0 || end < pos.UnlockTime {
		return &Position{Amount: new(big.Int)}, nil
	}
	return pos, nil
}
