// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staking

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/lvldb"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/token"
)

var (
	deployer = drip.BytesToAddress([]byte("deployer"))
	alice    = drip.BytesToAddress([]byte("alice"))
	bob      = drip.BytesToAddress([]byte("bob"))
	unit     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(unit, big.NewInt(n))
}

type hookEvent struct {
	caller, from, to drip.Address
	amount           *big.Int
}

type mockHooks struct {
	lastStake    hookEvent
	lastUnstake  hookEvent
	lastTransfer hookEvent
	instant      map[drip.Address]bool
}

func newMockHooks() *mockHooks {
	return &mockHooks{instant: make(map[drip.Address]bool)}
}

func (m *mockHooks) Stake(caller, receiver drip.Address, amount *big.Int, _ uint64) error {
	m.lastStake = hookEvent{caller: caller, to: receiver, amount: amount}
	return nil
}

func (m *mockHooks) Unstake(owner drip.Address, amount *big.Int, _ uint64) error {
	m.lastUnstake = hookEvent{from: owner, amount: amount}
	return nil
}

func (m *mockHooks) Transfer(caller, from, to drip.Address, amount *big.Int, _ uint64) error {
	m.lastTransfer = hookEvent{caller: caller, from: from, to: to, amount: amount}
	return nil
}

func (m *mockHooks) InstantWithdrawal(account drip.Address) (bool, error) {
	return m.instant[account], nil
}

type vaultFixture struct {
	vault *Vault
	yfi   *token.Token
	hooks *mockHooks
}

func newVaultFixture(t *testing.T) *vaultFixture {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	st := state.New(db)

	yfi := token.New(drip.BytesToAddress([]byte("yfi")), st)
	au := auth.New(drip.BytesToAddress([]byte("vault")), st)
	require.NoError(t, au.Init(deployer))
	vault := New(drip.BytesToAddress([]byte("vault")), st, yfi, au)

	hooks := newMockHooks()
	require.NoError(t, vault.SetHooks(deployer, hooks))
	return &vaultFixture{vault: vault, yfi: yfi, hooks: hooks}
}

func (f *vaultFixture) stake(t *testing.T, staker, receiver drip.Address, amount *big.Int, now uint64) {
	require.NoError(t, f.yfi.Mint(staker, amount))
	require.NoError(t, f.yfi.Approve(staker, f.vault.Address(), amount))
	require.NoError(t, f.vault.Deposit(staker, receiver, amount, now))
}

func (f *vaultFixture) maxWithdraw(t *testing.T, account drip.Address, now uint64) *big.Int {
	m, err := f.vault.MaxWithdraw(account, now)
	require.NoError(t, err)
	return m
}

func TestVaultDeposit(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, bob, unit, 0)

	supply, err := f.vault.Shares().TotalSupply()
	require.NoError(t, err)
	assert.Equal(t, unit, supply)
	bal, err := f.vault.Shares().BalanceOf(bob)
	require.NoError(t, err)
	assert.Equal(t, unit, bal)
	held, err := f.yfi.BalanceOf(f.vault.Address())
	require.NoError(t, err)
	assert.Equal(t, unit, held)

	assert.Equal(t, hookEvent{caller: alice, to: bob, amount: unit}, f.hooks.lastStake)
}

func TestVaultUnstake(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(3), 0)

	require.NoError(t, f.vault.Unstake(alice, units(2), 1000))

	supply, err := f.vault.Shares().TotalSupply()
	require.NoError(t, err)
	assert.Equal(t, unit, supply)
	bal, err := f.vault.Shares().BalanceOf(alice)
	require.NoError(t, err)
	assert.Equal(t, unit, bal)

	start, total, claimed, err := f.vault.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), start)
	assert.Equal(t, units(2), total)
	assert.Equal(t, int64(0), claimed.Int64())

	assert.Equal(t, hookEvent{from: alice, amount: units(2)}, f.hooks.lastUnstake)

	assert.ErrorIs(t, f.vault.Unstake(alice, units(2), 1000), token.ErrInsufficientBalance)
}

func TestVaultWithdrawStream(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(4), 0)
	require.NoError(t, f.vault.Unstake(alice, units(4), 0))

	assert.Equal(t, int64(0), f.maxWithdraw(t, alice, 0).Int64())
	assert.Equal(t, unit, f.maxWithdraw(t, alice, StreamDuration/4))

	require.NoError(t, f.vault.Withdraw(alice, unit, bob, alice, StreamDuration/4))
	_, _, claimed, err := f.vault.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, unit, claimed)
	assert.Equal(t, int64(0), f.maxWithdraw(t, alice, StreamDuration/4).Int64())
	bal, err := f.yfi.BalanceOf(bob)
	require.NoError(t, err)
	assert.Equal(t, unit, bal)

	// the stream keeps releasing
	assert.Equal(t, unit, f.maxWithdraw(t, alice, StreamDuration/2))
	assert.ErrorIs(t,
		f.vault.Withdraw(alice, units(2), bob, alice, StreamDuration/2),
		ErrExceedsWithdrawable)

	// fully released after the stream duration
	assert.Equal(t, units(3), f.maxWithdraw(t, alice, 2*StreamDuration))
	require.NoError(t, f.vault.Withdraw(alice, units(3), alice, alice, 2*StreamDuration))
	assert.Equal(t, int64(0), f.maxWithdraw(t, alice, 2*StreamDuration).Int64())
}

func TestVaultWithdrawFrom(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(4), 0)
	require.NoError(t, f.vault.Unstake(alice, units(4), 0))

	require.NoError(t, f.vault.Shares().Approve(alice, bob, units(3)))
	require.NoError(t, f.vault.Withdraw(bob, unit, deployer, alice, StreamDuration))

	allowance, err := f.vault.Shares().Allowance(alice, bob)
	require.NoError(t, err)
	assert.Equal(t, units(2), allowance)
	bal, err := f.yfi.BalanceOf(deployer)
	require.NoError(t, err)
	assert.Equal(t, unit, bal)

	assert.ErrorIs(t,
		f.vault.Withdraw(bob, units(3), deployer, alice, StreamDuration),
		token.ErrInsufficientAllowance)
}

func TestVaultUnstakeMerge(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(4), 0)
	require.NoError(t, f.vault.Unstake(alice, units(3), 0))

	now := StreamDuration * 3 / 4
	require.NoError(t, f.vault.Withdraw(alice, units(2), alice, alice, now))

	// the unreleased remainder folds into the fresh stream
	require.NoError(t, f.vault.Unstake(alice, unit, now))
	start, total, claimed, err := f.vault.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, now, start)
	assert.Equal(t, units(2), total)
	assert.Equal(t, int64(0), claimed.Int64())
	assert.Equal(t, int64(0), f.maxWithdraw(t, alice, now).Int64())
}

func TestVaultInstantWithdraw(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(3), 0)
	assert.Equal(t, int64(0), f.maxWithdraw(t, alice, 0).Int64())

	f.hooks.instant[alice] = true
	assert.Equal(t, units(3), f.maxWithdraw(t, alice, 0))

	require.NoError(t, f.vault.Withdraw(alice, units(2), alice, alice, 0))
	supply, err := f.vault.Shares().TotalSupply()
	require.NoError(t, err)
	assert.Equal(t, unit, supply)
	_, total, _, err := f.vault.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total.Int64())
	assert.Equal(t, unit, f.maxWithdraw(t, alice, 0))

	// bypassing the stream counts as an unstake
	assert.Equal(t, hookEvent{from: alice, amount: units(2)}, f.hooks.lastUnstake)
}

func TestVaultInstantToggle(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(5), 0)
	require.NoError(t, f.vault.Unstake(alice, units(2), 0))

	f.hooks.instant[alice] = true
	require.NoError(t, f.vault.Withdraw(alice, unit, alice, alice, StreamDuration/4))
	start, total, claimed, err := f.vault.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, units(2), total)
	assert.Equal(t, unit, claimed)
	assert.Equal(t, units(4), f.maxWithdraw(t, alice, StreamDuration/4))

	// toggled off, the stream has already been over-claimed
	f.hooks.instant[alice] = false
	assert.Equal(t, int64(0), f.maxWithdraw(t, alice, StreamDuration/4).Int64())
	assert.ErrorIs(t,
		f.vault.Withdraw(alice, mulDivTest(unit, 1, 2), alice, alice, StreamDuration/4),
		ErrExceedsWithdrawable)

	require.NoError(t, f.vault.Withdraw(alice, mulDivTest(unit, 1, 2), alice, alice, StreamDuration*3/4))
	_, _, claimed, err = f.vault.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, mulDivTest(unit, 3, 2), claimed)
}

func TestVaultInstantBeyondStream(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(3), 0)
	require.NoError(t, f.vault.Unstake(alice, unit, 0))

	f.hooks.instant[alice] = true
	require.NoError(t, f.vault.Withdraw(alice, units(2), alice, alice, StreamDuration/2))

	// the stream is consumed and the excess burns shares
	supply, err := f.vault.Shares().TotalSupply()
	require.NoError(t, err)
	assert.Equal(t, unit, supply)
	_, total, _, err := f.vault.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total.Int64())
	assert.Equal(t, hookEvent{from: alice, amount: unit}, f.hooks.lastUnstake)
}

func TestVaultTransferHooks(t *testing.T) {
	f := newVaultFixture(t)
	f.stake(t, alice, alice, units(3), 0)

	require.NoError(t, f.vault.Transfer(alice, bob, unit, 0))
	assert.Equal(t, hookEvent{caller: alice, from: alice, to: bob, amount: unit}, f.hooks.lastTransfer)
	bal, err := f.vault.Shares().BalanceOf(bob)
	require.NoError(t, err)
	assert.Equal(t, unit, bal)

	require.NoError(t, f.vault.Shares().Approve(bob, deployer, unit))
	require.NoError(t, f.vault.TransferFrom(deployer, bob, alice, unit, 0))
	assert.Equal(t, hookEvent{caller: deployer, from: bob, to: alice, amount: unit}, f.hooks.lastTransfer)
}

func TestVaultSetHooksPermission(t *testing.T) {
	f := newVaultFixture(t)
	assert.ErrorIs(t, f.vault.SetHooks(alice, newMockHooks()), auth.ErrNotManagement)
}

func mulDivTest(v *big.Int, num, den int64) *big.Int {
	r := new(big.Int).Mul(v, big.NewInt(num))
	return r.Div(r, big.NewInt(den))
}
