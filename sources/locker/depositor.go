// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package locker wraps scaled liquid-locker positions: per-bucket depositors
// converting underlying into staked units at a fixed scale, and a distributor
// splitting boosted epoch rewards over the buckets by governed shares.
package locker

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/log"
	"github.com/drip-labs/drip/metrics"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
	"github.com/drip-labs/drip/token"
)

var logger = log.WithContext("pkg", "locker")

var (
	metricDeposits  = metrics.LazyLoadCounter("locker_deposits_total")
	metricUnstakes  = metrics.LazyLoadCounter("locker_unstakes_total")
	metricWithdraws = metrics.LazyLoadCounter("locker_withdrawals_total")
)

// StreamDuration is how long an unstake stream takes to fully release.
const StreamDuration = drip.EpochLength

var (
	// ErrExceedsWithdrawable is returned when a withdrawal outruns what the
	// stream has released so far.
	ErrExceedsWithdrawable = errors.New("exceeds withdrawable amount")

	// ErrUnevenAmount is returned when an underlying amount is not a whole
	// multiple of the depositor's scale.
	ErrUnevenAmount = errors.New("amount not a multiple of scale")
)

// Hooks receives balance-affecting depositor events, in staked units.
type Hooks interface {
	Stake(caller, receiver drip.Address, amount *big.Int, now uint64) error
	Unstake(owner drip.Address, amount *big.Int, now uint64) error
	Transfer(caller, from, to drip.Address, amount *big.Int, now uint64) error
}

// unstakeStream releases Total staked units linearly over StreamDuration.
type unstakeStream struct {
	Start   uint64
	Total   *big.Int
	Claimed *big.Int
}

func (s *unstakeStream) remaining() *big.Int {
	if s.Total == nil {
		return new(big.Int)
	}
	return new(big.Int).Sub(s.Total, s.Claimed)
}

func (s *unstakeStream) released(now uint64) *big.Int {
	if s.Total == nil || s.Total.Sign() == 0 || now < s.Start {
		return new(big.Int)
	}
	elapsed := min(now-s.Start, StreamDuration)
	r := new(big.Int).Mul(s.Total, new(big.Int).SetUint64(elapsed))
	return r.Div(r, new(big.Int).SetUint64(StreamDuration))
}

// Depositor takes a liquid locker's token at a fixed scale and mints staked
// units: scale underlying per unit. Unstaking starts a withdrawal stream in
// staked units, paid back out as underlying.
type Depositor struct {
	context    *stor.Context
	underlying *token.Token
	staked     *token.Token
	scale      uint64
	auth       *auth.Auth
	hooks      Hooks
	streams    *stor.Mapping[drip.Address, *unstakeStream]
}

// NewDepositor creates a depositor bound to the given address.
func NewDepositor(addr drip.Address, st *state.State, underlying *token.Token, scale uint64, au *auth.Auth) *Depositor {
	context := stor.NewContext(addr, st)
	return &Depositor{
		context:    context,
		underlying: underlying,
		staked:     token.New(addr, st),
		scale:      scale,
		auth:       au,
		streams:    stor.NewMapping[drip.Address, *unstakeStream](context, stor.Slot("unstake-streams")),
	}
}

// Address returns the depositor's ledger address.
func (d *Depositor) Address() drip.Address {
	return d.context.Address()
}

// Staked returns the staked-unit ledger.
func (d *Depositor) Staked() *token.Token {
	return d.staked
}

// Scale returns how much underlying backs one staked unit.
func (d *Depositor) Scale() uint64 {
	return d.scale
}

// SetHooks replaces the hooks target. Only management may call.
func (d *Depositor) SetHooks(caller drip.Address, hooks Hooks) error {
	if err := d.auth.Require(caller); err != nil {
		return err
	}
	d.hooks = hooks
	return nil
}

// Streams returns an account's unstake stream as (start, total, claimed),
// all in staked units.
func (d *Depositor) Streams(account drip.Address) (uint64, *big.Int, *big.Int, error) {
	s, err := d.streams.Get(account)
	if err != nil {
		return 0, nil, nil, err
	}
	if s.Total == nil {
		return 0, new(big.Int), new(big.Int), nil
	}
	return s.Start, s.Total, s.Claimed, nil
}

// toStaked converts an underlying amount into whole staked units.
func (d *Depositor) toStaked(amount *big.Int) (*big.Int, error) {
	scale := new(big.Int).SetUint64(d.scale)
	units, rem := new(big.Int).QuoRem(amount, scale, new(big.Int))
	if rem.Sign() != 0 {
		return nil, ErrUnevenAmount
	}
	return units, nil
}

// Deposit pulls the caller's underlying and mints receiver staked units at
// the depositor's scale.
func (d *Depositor) Deposit(caller, receiver drip.Address, amount *big.Int, now uint64) error {
	units, err := d.toStaked(amount)
	if err != nil {
		return err
	}
	self := d.context.Address()
	if err := d.underlying.TransferFrom(self, caller, self, amount); err != nil {
		return err
	}
	if err := d.staked.Mint(receiver, units); err != nil {
		return err
	}
	metricDeposits().Add(1)
	if d.hooks == nil {
		return nil
	}
	return d.hooks.Stake(caller, receiver, units, now)
}

// Unstake burns staked units into a withdrawal stream. An existing stream's
// unreleased remainder is merged into the new one, restarting the clock.
func (d *Depositor) Unstake(owner drip.Address, units *big.Int, now uint64) error {
	if err := d.staked.Burn(owner, units); err != nil {
		return err
	}
	s, err := d.streams.Get(owner)
	if err != nil {
		return err
	}
	total := s.remaining()
	total.Add(total, units)
	err = d.streams.Set(owner, &unstakeStream{Start: now, Total: total, Claimed: new(big.Int)})
	if err != nil {
		return err
	}
	metricUnstakes().Add(1)
	logger.Debug("unstaked", "owner", owner, "units", units, "streaming", total)
	if d.hooks == nil {
		return nil
	}
	return d.hooks.Unstake(owner, units, now)
}

// MaxWithdraw returns how much underlying the account's stream has released
// and not yet claimed.
func (d *Depositor) MaxWithdraw(account drip.Address, now uint64) (*big.Int, error) {
	units, err := d.MaxRedeem(account, now)
	if err != nil {
		return nil, err
	}
	return units.Mul(units, new(big.Int).SetUint64(d.scale)), nil
}

// MaxRedeem is MaxWithdraw in staked units.
func (d *Depositor) MaxRedeem(account drip.Address, now uint64) (*big.Int, error) {
	s, err := d.streams.Get(account)
	if err != nil {
		return nil, err
	}
	released := s.released(now)
	if s.Claimed == nil || released.Cmp(s.Claimed) <= 0 {
		return new(big.Int), nil
	}
	return released.Sub(released, s.Claimed), nil
}

// Withdraw pays out underlying from the owner's stream. A third party needs
// staked-unit allowance from the owner.
func (d *Depositor) Withdraw(caller drip.Address, amount *big.Int, receiver, owner drip.Address, now uint64) error {
	units, err := d.toStaked(amount)
	if err != nil {
		return err
	}
	return d.Redeem(caller, units, receiver, owner, now)
}

// Redeem is Withdraw in staked units.
func (d *Depositor) Redeem(caller drip.Address, units *big.Int, receiver, owner drip.Address, now uint64) error {
	if caller != owner {
		if err := d.staked.SpendAllowance(owner, caller, units); err != nil {
			return err
		}
	}
	s, err := d.streams.Get(owner)
	if err != nil {
		return err
	}
	released := s.released(now)
	if s.Claimed == nil || new(big.Int).Add(s.Claimed, units).Cmp(released) > 0 {
		return ErrExceedsWithdrawable
	}
	s.Claimed.Add(s.Claimed, units)
	if err := d.streams.Set(owner, s); err != nil {
		return err
	}
	metricWithdraws().Add(1)
	amount := new(big.Int).Mul(units, new(big.Int).SetUint64(d.scale))
	return d.underlying.Transfer(d.context.Address(), receiver, amount)
}

// Transfer moves staked units and notifies the hooks.
func (d *Depositor) Transfer(caller, to drip.Address, units *big.Int, now uint64) error {
	if err := d.staked.Transfer(caller, to, units); err != nil {
		return err
	}
	if d.hooks == nil {
		return nil
	}
	return d.hooks.Transfer(caller, caller, to, units, now)
}

// TransferFrom moves staked units on behalf of an approved spender and
// notifies the hooks.
func (d *Depositor) TransferFrom(caller, from, to drip.Address, units *big.Int, now uint64) error {
	if err := d.staked.TransferFrom(caller, from, to, units); err != nil {
		return err
	}
	if d.hooks == nil {
		return nil
	}
	return d.hooks.Transfer(caller, from, to, units, now)
}
