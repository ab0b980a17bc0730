// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package staking holds the staking vault and its ramped-balance weight
// reporting. Staked underlying mints shares one to one; unstaking moves
// shares into a withdrawal stream releasing linearly over one epoch length.
package staking

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

var logger = log.WithContext("pkg", "staking")

var (
	metricStakes    = metrics.LazyLoadCounter("staking_stakes_total")
	metricUnstakes  = metrics.LazyLoadCounter("staking_unstakes_total")
	metricWithdraws = metrics.LazyLoadCounter("staking_withdrawals_total")
)

// StreamDuration is how long a withdrawal stream takes to fully release.
const StreamDuration = drip.EpochLength

// ErrExceedsWithdrawable is returned when a withdrawal outruns what the
// stream has released so far.
var ErrExceedsWithdrawable = errors.New("exceeds withdrawable amount")

// Hooks receives balance-affecting vault events. The weight reporter
// implements it; the vault also consults it for the instant-withdrawal
// allowlist.
type Hooks interface {
	Stake(caller, receiver drip.Address, amount *big.Int, now uint64) error
	Unstake(owner drip.Address, amount *big.Int, now uint64) error
	Transfer(caller, from, to drip.Address, amount *big.Int, now uint64) error
	InstantWithdrawal(account drip.Address) (bool, error)
}

// withdrawalStream releases Total linearly over StreamDuration from Start.
type withdrawalStream struct {
	Start   uint64
	Total   *big.Int
	Claimed *big.Int
}

func (s *withdrawalStream) remaining() *big.Int {
	if s.Total == nil {
		return new(big.Int)
	}
	return new(big.Int).Sub(s.Total, s.Claimed)
}

func (s *withdrawalStream) released(now uint64) *big.Int {
	if s.Total == nil || s.Total.Sign() == 0 || now < s.Start {
		return new(big.Int)
	}
	elapsed := min(now-s.Start, StreamDuration)
	r := new(big.Int).Mul(s.Total, new(big.Int).SetUint64(elapsed))
	return r.Div(r, new(big.Int).SetUint64(StreamDuration))
}

// Vault is the staking vault. Shares are a plain asset ledger bound to the
// vault's own address.
type Vault struct {
	context    *stor.Context
	underlying *token.Token
	shares     *token.Token
	auth       *auth.Auth
	hooks      Hooks
	streams    *stor.Mapping[drip.Address, *withdrawalStream]
}

// New creates the vault bound to the given address.
func New(addr drip.Address, st *state.State, underlying *token.Token, au *auth.Auth) *Vault {
	context := stor.NewContext(addr, st)
	return &Vault{
		context:    context,
		underlying: underlying,
		shares:     token.New(addr, st),
		auth:       au,
		streams:    stor.NewMapping[drip.Address, *withdrawalStream](context, stor.Slot("withdrawal-streams")),
	}
}

// Address returns the vault's ledger address.
func (v *Vault) Address() drip.Address {
	return v.context.Address()
}

// Shares returns the share ledger.
func (v *Vault) Shares() *token.Token {
	return v.shares
}

// SetHooks replaces the hooks target. Only management may call.
func (v *Vault) SetHooks(caller drip.Address, hooks Hooks) error {
	if err := v.auth.Require(caller); err != nil {
		return err
	}
	v.hooks = hooks
	return nil
}

// Streams returns an account's withdrawal stream as (start, total, claimed).
func (v *Vault) Streams(account drip.Address) (uint64, *big.Int, *big.Int, error) {
	s, err := v.streams.Get(account)
	if err != nil {
		return 0, nil, nil, err
	}
	if s.Total == nil {
		return 0, new(big.Int), new(big.Int), nil
	}
	return s.Start, s.Total, s.Claimed, nil
}

// Deposit stakes the caller's underlying and mints receiver the same amount
// of shares.
func (v *Vault) Deposit(caller, receiver drip.Address, amount *big.Int, now uint64) error {
	self := v.context.Address()
	if err := v.underlying.TransferFrom(self, caller, self, amount); err != nil {
		return err
	}
	if err := v.shares.Mint(receiver, amount); err != nil {
		return err
	}
	metricStakes().Add(1)
	if v.hooks == nil {
		return nil
	}
	return v.hooks.Stake(caller, receiver, amount, now)
}

// Unstake burns shares into a withdrawal stream. An existing stream's
// unreleased remainder is merged into the new one, restarting the clock.
func (v *Vault) Unstake(owner drip.Address, amount *big.Int, now uint64) error {
	if err := v.shares.Burn(owner, amount); err != nil {
		return err
	}
	s, err := v.streams.Get(owner)
	if err != nil {
		return err
	}
	total := s.remaining()
	total.Add(total, amount)
	err = v.streams.Set(owner, &withdrawalStream{Start: now, Total: total, Claimed: new(big.Int)})
	if err != nil {
		return err
	}
	metricUnstakes().Add(1)
	logger.Debug("unstaked", "owner", owner, "amount", amount, "streaming", total)
	if v.hooks == nil {
		return nil
	}
	return v.hooks.Unstake(owner, amount, now)
}

// MaxWithdraw returns how much underlying the account could withdraw right
// now: the released part of its stream, or its full position when the hooks
// allowlist it for instant withdrawal.
func (v *Vault) MaxWithdraw(account drip.Address, now uint64) (*big.Int, error) {
	s, err := v.streams.Get(account)
	if err != nil {
		return nil, err
	}
	instant, err := v.instant(account)
	if err != nil {
		return nil, err
	}
	if instant {
		bal, err := v.shares.BalanceOf(account)
		if err != nil {
			return nil, err
		}
		return bal.Add(bal, s.remaining()), nil
	}
	released := s.released(now)
	if s.Claimed == nil || released.Cmp(s.Claimed) <= 0 {
		return new(big.Int), nil
	}
	return released.Sub(released, s.Claimed), nil
}

func (v *Vault) instant(account drip.Address) (bool, error) {
	if v.hooks == nil {
		return false, nil
	}
	return v.hooks.InstantWithdrawal(account)
}

// Withdraw pays out underlying from the owner's stream. A third party needs
// share allowance from the owner. Instant-allowlisted owners may withdraw
// beyond the stream: the excess burns shares directly and counts as an
// unstake.
func (v *Vault) Withdraw(caller drip.Address, amount *big.Int, receiver, owner drip.Address, now uint64) error {
	if caller != owner {
		if err := v.shares.SpendAllowance(owner, caller, amount); err != nil {
			return err
		}
	}
	s, err := v.streams.Get(owner)
	if err != nil {
		return err
	}
	instant, err := v.instant(owner)
	if err != nil {
		return err
	}
	if instant {
		if err := v.withdrawInstant(owner, s, amount, now); err != nil {
			return err
		}
	} else {
		released := s.released(now)
		if s.Claimed == nil || new(big.Int).Add(s.Claimed, amount).Cmp(released) > 0 {
			return ErrExceedsWithdrawable
		}
		s.Claimed.Add(s.Claimed, amount)
		if err := v.storeStream(owner, s); err != nil {
			return err
		}
	}
	metricWithdraws().Add(1)
	return v.underlying.Transfer(v.context.Address(), receiver, amount)
}

// withdrawInstant consumes the stream remainder first, then burns shares for
// the excess, which fires the unstake hook.
func (v *Vault) withdrawInstant(owner drip.Address, s *withdrawalStream, amount *big.Int, now uint64) error {
	fromStream := s.remaining()
	if fromStream.Cmp(amount) > 0 {
		fromStream.Set(amount)
	}
	if fromStream.Sign() > 0 {
		s.Claimed.Add(s.Claimed, fromStream)
		if err := v.storeStream(owner, s); err != nil {
			return err
		}
	}
	extra := new(big.Int).Sub(amount, fromStream)
	if extra.Sign() == 0 {
		return nil
	}
	if err := v.shares.Burn(owner, extra); err != nil {
		return err
	}
	if v.hooks == nil {
		return nil
	}
	return v.hooks.Unstake(owner, extra, now)
}

func (v *Vault) storeStream(owner drip.Address, s *withdrawalStream) error {
	if s.Claimed.Cmp(s.Total) == 0 {
		return v.streams.Clear(owner)
	}
	return v.streams.Set(owner, s)
}

// Transfer moves shares and notifies the hooks.
func (v *Vault) Transfer(caller, to drip.Address, amount *big.Int, now uint64) error {
	if err := v.shares.Transfer(caller, to, amount); err != nil {
		return err
	}
	if v.hooks == nil {
		return nil
	}
	return v.hooks.Transfer(caller, caller, to, amount, now)
}

// TransferFrom moves shares on behalf of an approved spender and notifies
// the hooks.
func (v *Vault) TransferFrom(caller, from, to drip.Address, amount *big.Int, now uint64) error {
	if err := v.shares.TransferFrom(caller, from, to, amount); err != nil {
		return err
	}
	if v.hooks == nil {
		return nil
	}
	return v.hooks.Transfer(caller, from, to, amount, now)
}
