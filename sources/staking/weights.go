// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staking

import (
	"math/big"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
	"github.com/drip-labs/drip/stream"
	"github.com/drip-labs/drip/token"
)

// RampLength is the window over which a fresh position's weight grows from
// zero to its full balance.
const RampLength = drip.EpochLength

// Weights translates vault share movements into ramped weights on the
// streaming distributor. It implements Hooks.
type Weights struct {
	context *stor.Context
	auth    *auth.Auth
	dist    *stream.Distributor
	instant *stor.Mapping[drip.Address, bool]
}

// NewWeights creates the reporter bound to the given address.
func NewWeights(addr drip.Address, st *state.State, au *auth.Auth, dist *stream.Distributor) *Weights {
	context := stor.NewContext(addr, st)
	return &Weights{
		context: context,
		auth:    au,
		dist:    dist,
		instant: stor.NewMapping[drip.Address, bool](context, stor.Slot("instant-withdrawals")),
	}
}

// SetInstantWithdrawal allowlists an account to bypass withdrawal streams.
// Only management may call.
func (w *Weights) SetInstantWithdrawal(caller, account drip.Address, allowed bool) error {
	if err := w.auth.Require(caller); err != nil {
		return err
	}
	if !allowed {
		return w.instant.Clear(account)
	}
	return w.instant.Set(account, true)
}

// InstantWithdrawal reports whether the account may bypass its stream.
func (w *Weights) InstantWithdrawal(account drip.Address) (bool, error) {
	return w.instant.Get(account)
}

// Stake grows the receiver's weight.
func (w *Weights) Stake(_, receiver drip.Address, amount *big.Int, now uint64) error {
	return w.increase(receiver, amount, now)
}

// Unstake shrinks the owner's weight.
func (w *Weights) Unstake(owner drip.Address, amount *big.Int, now uint64) error {
	return w.decrease(owner, amount, now)
}

// Transfer moves weight between accounts.
func (w *Weights) Transfer(_, from, to drip.Address, amount *big.Int, now uint64) error {
	if err := w.decrease(from, amount, now); err != nil {
		return err
	}
	return w.increase(to, amount, now)
}

// increase adds to an account's balance. The running timestamp becomes a
// balance-weighted average of old and new deposit times so small top-ups
// cannot reset ramp progress disproportionately.
func (w *Weights) increase(account drip.Address, amount *big.Int, now uint64) error {
	ts, balance, err := w.dist.PackedWeight(account)
	if err != nil {
		return err
	}
	newBalance := new(big.Int).Add(balance, amount)
	newTime := now
	if balance.Sign() > 0 && now > ts {
		elapsed := min(now-ts, RampLength)
		shift := new(big.Int).Mul(balance, new(big.Int).SetUint64(elapsed))
		shift.Div(shift, newBalance)
		newTime = now - shift.Uint64()
	}
	return w.dist.UpdateWeight(account, newBalance, newTime, now)
}

// decrease removes from an account's balance, resetting the timestamp to the
// no-position sentinel when it hits zero.
func (w *Weights) decrease(account drip.Address, amount *big.Int, now uint64) error {
	ts, balance, err := w.dist.PackedWeight(account)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return token.ErrInsufficientBalance
	}
	newBalance := new(big.Int).Sub(balance, amount)
	if newBalance.Sign() == 0 {
		ts = 0
	}
	return w.dist.UpdateWeight(account, newBalance, ts, now)
}

// AccountWeight derives the account's ramped weight at the start of an
// epoch. Positions updated at or after the epoch start fall back to the
// previous packed snapshot, which still reflects the epoch boundary.
func (w *Weights) AccountWeight(account drip.Address, epochIdx uint64) (*big.Int, error) {
	clock := w.dist.Clock()
	ts, balance, err := w.dist.PackedWeight(account)
	if err != nil {
		return nil, err
	}
	if balance.Sign() > 0 && ts >= clock.Start(epochIdx) {
		ts, balance, err = w.dist.PreviousPackedWeight(account)
		if err != nil {
			return nil, err
		}
	}
	return ComputeWeight(clock, ts, balance, epochIdx), nil
}

// ComputeWeight derives the ramped weight of a packed (timestamp, balance)
// position at the start of an epoch. Pure, so historical weights can always
// be re-derived from stored words.
func ComputeWeight(clock *epoch.Clock, ts uint64, balance *big.Int, epochIdx uint64) *big.Int {
	if balance.Sign() == 0 {
		return new(big.Int)
	}
	start := clock.Start(epochIdx)
	if start <= ts {
		return new(big.Int)
	}
	elapsed := min(start-ts, RampLength)
	weight := new(big.Int).Mul(balance, new(big.Int).SetUint64(elapsed))
	return weight.Div(weight, new(big.Int).SetUint64(RampLength))
}
