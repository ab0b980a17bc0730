// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package token is the asset ledger used for the reward and stake assets.
// A failed transfer aborts the whole surrounding operation.
package token

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the sender's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when a transferFrom exceeds the approval.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrNegativeAmount is returned for negative amounts anywhere.
	ErrNegativeAmount = errors.New("negative amount")
)

// Token holds balances, allowances and total supply of one asset.
type Token struct {
	balances   *stor.Mapping[drip.Address, *big.Int]
	allowances *stor.Mapping[stor.CompositeKey, *big.Int]
	supply     *stor.Uint256
}

// New creates the asset ledger bound to the given address.
func New(addr drip.Address, st *state.State) *Token {
	context := stor.NewContext(addr, st)
	return &Token{
		balances:   stor.NewMapping[drip.Address, *big.Int](context, stor.Slot("balances")),
		allowances: stor.NewMapping[stor.CompositeKey, *big.Int](context, stor.Slot("allowances")),
		supply:     stor.NewUint256(context, stor.Slot("total-supply")),
	}
}

// TotalSupply returns the minted supply.
func (t *Token) TotalSupply() (*big.Int, error) {
	return t.supply.Get()
}

// BalanceOf returns the balance of addr, zero if none.
func (t *Token) BalanceOf(addr drip.Address) (*big.Int, error) {
	return t.balances.Get(addr)
}

// Mint credits addr with new supply.
func (t *Token) Mint(addr drip.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := t.balances.Get(addr)
	if err != nil {
		return err
	}
	if err := t.balances.Set(addr, bal.Add(bal, amount)); err != nil {
		return err
	}
	return t.supply.Add(amount)
}

// Burn destroys amount of addr's balance.
func (t *Token) Burn(addr drip.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal, err := t.balances.Get(addr)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := t.balances.Set(addr, bal.Sub(bal, amount)); err != nil {
		return err
	}
	return t.supply.Sub(amount)
}

// Transfer moves amount from one account to another. A zero amount is a no-op.
func (t *Token) Transfer(from, to drip.Address, amount *big.Int) error {
	switch amount.Sign() {
	case -1:
		return ErrNegativeAmount
	case 0:
		return nil
	}
	fromBal, err := t.balances.Get(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := t.balances.Set(from, fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := t.balances.Get(to)
	if err != nil {
		return err
	}
	return t.balances.Set(to, toBal.Add(toBal, amount))
}

// Approve lets spender move up to amount of owner's balance.
func (t *Token) Approve(owner, spender drip.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	return t.allowances.Set(stor.CompositeKey{A: owner, B: spender}, amount)
}

// Allowance returns what spender may still move from owner.
func (t *Token) Allowance(owner, spender drip.Address) (*big.Int, error) {
	return t.allowances.Get(stor.CompositeKey{A: owner, B: spender})
}

// SpendAllowance consumes part of an approval without moving any balance.
// Used where the balance movement takes another form, such as withdrawal
// streams.
func (t *Token) SpendAllowance(owner, spender drip.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	key := stor.CompositeKey{A: owner, B: spender}
	allowance, err := t.allowances.Get(key)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	return t.allowances.Set(key, allowance.Sub(allowance, amount))
}

// TransferFrom moves amount from `from` to `to` on behalf of spender,
// consuming the approval.
func (t *Token) TransferFrom(spender, from, to drip.Address, amount *big.Int) error {
	switch amount.Sign() {
	case -1:
		return ErrNegativeAmount
	case 0:
		return nil
	}
	if spender != from {
		key := stor.CompositeKey{A: from, B: spender}
		allowance, err := t.allowances.Get(key)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		if err := t.allowances.Set(key, allowance.Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return t.Transfer(from, to, amount)
}
