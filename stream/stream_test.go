// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stream

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/distributor"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/lvldb"
	"github.com/drip-labs/drip/params"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/token"
)

const epochLength = drip.EpochLength

var (
	deployer = drip.BytesToAddress([]byte("deployer"))
	alice    = drip.BytesToAddress([]byte("alice"))
	bob      = drip.BytesToAddress([]byte("bob"))
	treasury = drip.BytesToAddress([]byte("treasury"))
	unit     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func mulDiv(v *big.Int, num, den int64) *big.Int {
	r := new(big.Int).Mul(v, big.NewInt(num))
	return r.Div(r, big.NewInt(den))
}

func dustTimes(n int64) *big.Int {
	return new(big.Int).Mul(drip.DustWeight, big.NewInt(n))
}

type fixture struct {
	dist  *Distributor
	agg   *distributor.Aggregator
	asset *token.Token
	au    *auth.Auth
	par   *params.Params
}

func newFixture(t *testing.T) *fixture {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	st := state.New(db)

	asset := token.New(drip.BytesToAddress([]byte("reward")), st)
	clock, err := epoch.NewClock(0, epochLength)
	require.NoError(t, err)

	aggAddr := drip.BytesToAddress([]byte("agg"))
	aggAuth := auth.New(aggAddr, st)
	require.NoError(t, aggAuth.Init(deployer))
	agg := distributor.New(aggAddr, st, clock, asset, aggAuth)

	streamAddr := drip.BytesToAddress([]byte("stream"))
	streamAuth := auth.New(streamAddr, st)
	require.NoError(t, streamAuth.Init(deployer))

	par := params.New(drip.BytesToAddress([]byte("params")), st)
	par.Set(drip.KeyExpirationEpochs, drip.InitialExpirationEpochs)
	par.Set(drip.KeyReclaimBounty, drip.InitialReclaimBounty)
	par.SetAddress(drip.KeyReclaimRecipient, treasury)

	dist := New(streamAddr, st, clock, asset, streamAuth, par, agg)
	agg.Bind(streamAddr, dist)
	require.NoError(t, agg.AddComponent(deployer, streamAddr, 1, 1, drip.ComponentsSentinel, 0))

	return &fixture{dist: dist, agg: agg, asset: asset, au: streamAuth, par: par}
}

func (f *fixture) deposit(t *testing.T, epochIdx uint64, amount *big.Int, now uint64) {
	require.NoError(t, f.asset.Mint(deployer, amount))
	require.NoError(t, f.asset.Approve(deployer, f.agg.Address(), amount))
	require.NoError(t, f.agg.Deposit(deployer, epochIdx, amount, now))
}

func (f *fixture) pending(t *testing.T, account drip.Address, now uint64) *big.Int {
	require.NoError(t, f.dist.SyncAccount(account, now))
	p, err := f.dist.PendingRewards(account)
	require.NoError(t, err)
	return p
}

func TestStreamOneAccount(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 0, unit, 0)
	require.NoError(t, f.dist.UpdateWeight(alice, drip.DustWeight, 0, 0))

	// the epoch 0 reward is claimed at the boundary and streams over epoch 1
	synced, err := f.dist.Sync(epochLength)
	require.NoError(t, err)
	assert.True(t, synced)
	offset, reward, err := f.dist.StreamState()
	require.NoError(t, err)
	assert.Equal(t, epochLength, offset)
	assert.Equal(t, unit, reward)

	// alice holds half the total, the dust floor absorbs the rest
	assert.Equal(t, mulDiv(unit, 1, 4), f.pending(t, alice, epochLength*3/2))

	wantIntegral := new(big.Int).Mul(mulDiv(unit, 1, 2), drip.Precision)
	wantIntegral.Div(wantIntegral, dustTimes(2))
	integral, err := f.dist.Integral()
	require.NoError(t, err)
	assert.Equal(t, wantIntegral, integral)

	assert.Equal(t, mulDiv(unit, 1, 2), f.pending(t, alice, 2*epochLength))

	amount, err := f.dist.Claim(alice, alice, alice, 2*epochLength)
	require.NoError(t, err)
	assert.Equal(t, mulDiv(unit, 1, 2), amount)
	bal, err := f.asset.BalanceOf(alice)
	require.NoError(t, err)
	assert.Equal(t, mulDiv(unit, 1, 2), bal)
	p, err := f.dist.PendingRewards(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Int64())
}

func TestStreamTwoAccounts(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 0, unit, 0)
	require.NoError(t, f.dist.UpdateWeight(alice, drip.DustWeight, 0, 0))

	// bob joins mid-stream with twice alice's weight
	require.NoError(t, f.dist.UpdateWeight(bob, dustTimes(2), epochLength*3/2, epochLength*3/2))

	assert.Equal(t, mulDiv(unit, 3, 8), f.pending(t, alice, 2*epochLength))
	assert.Equal(t, mulDiv(unit, 1, 4), f.pending(t, bob, 2*epochLength))

	count, err := f.dist.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
	epochIdx, weight, err := f.dist.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), epochIdx)
	assert.Equal(t, dustTimes(2), weight)
	epochIdx, weight, err = f.dist.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), epochIdx)
	assert.Equal(t, dustTimes(4), weight)
}

func TestWeightCheckpoints(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dist.UpdateWeight(alice, drip.DustWeight, 0, 0))
	require.NoError(t, f.dist.UpdateWeight(alice, dustTimes(3), epochLength/2, epochLength/2))

	// same epoch, the checkpoint is rewritten in place
	count, err := f.dist.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	_, weight, err := f.dist.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, dustTimes(4), weight)

	require.NoError(t, f.dist.UpdateWeight(alice, dustTimes(5), epochLength+1, epochLength+1))
	count, err = f.dist.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
	epochIdx, weight, err := f.dist.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), epochIdx)
	assert.Equal(t, dustTimes(6), weight)

	ts, weight, err := f.dist.PackedWeight(alice)
	require.NoError(t, err)
	assert.Equal(t, epochLength+1, ts)
	assert.Equal(t, dustTimes(5), weight)

	// crossing into a new epoch preserves the prior pair
	ts, weight, err = f.dist.PreviousPackedWeight(alice)
	require.NoError(t, err)
	assert.Equal(t, epochLength/2, ts)
	assert.Equal(t, dustTimes(3), weight)
}

func TestClaimAuthorization(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, 0, unit, 0)
	require.NoError(t, f.dist.UpdateWeight(alice, drip.DustWeight, 0, 0))

	_, err := f.dist.Claim(bob, alice, bob, 2*epochLength)
	assert.ErrorIs(t, err, auth.ErrNotAuthorized)

	require.NoError(t, f.au.SetClaimer(alice, bob, true))

	amount, err := f.dist.Claim(bob, alice, bob, 2*epochLength)
	require.NoError(t, err)
	assert.Equal(t, mulDiv(unit, 1, 2), amount)
	bal, err := f.asset.BalanceOf(bob)
	require.NoError(t, err)
	assert.Equal(t, mulDiv(unit, 1, 2), bal)
}

func TestReclaimExpired(t *testing.T) {
	f := newFixture(t)
	f.par.Set(drip.KeyExpirationEpochs, big.NewInt(1))
	f.deposit(t, 0, unit, 0)
	require.NoError(t, f.dist.UpdateWeight(alice, drip.DustWeight, 0, 0))

	// nothing expired yet while epoch 1 is still streaming
	_, err := f.dist.Reclaim(bob, alice, epochLength*3/2)
	assert.ErrorIs(t, err, ErrNothingExpired)

	amount, err := f.dist.Reclaim(bob, alice, 2*epochLength)
	require.NoError(t, err)
	assert.Equal(t, mulDiv(unit, 1, 2), amount)

	// 100 bps bounty to the caller, remainder to the governed recipient
	bounty := mulDiv(amount, 100, 10_000)
	bal, err := f.asset.BalanceOf(bob)
	require.NoError(t, err)
	assert.Equal(t, bounty, bal)
	bal, err = f.asset.BalanceOf(treasury)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(amount, bounty), bal)

	// the swept slice is gone for the account
	claimed, err := f.dist.Claim(alice, alice, alice, 2*epochLength)
	require.NoError(t, err)
	assert.Equal(t, int64(0), claimed.Int64())

	_, err = f.dist.Reclaim(bob, alice, 2*epochLength)
	assert.ErrorIs(t, err, ErrNothingExpired)
}

// Every deposited token ends up claimed, pending or absorbed by the dust
// floor; nothing is minted or lost along the way.
func TestRewardConservation(t *testing.T) {
	f := newFixture(t)
	deposited := new(big.Int).Mul(unit, big.NewInt(4))

	f.deposit(t, 0, unit, 0)
	require.NoError(t, f.dist.UpdateWeight(alice, drip.DustWeight, 0, 0))
	f.deposit(t, 1, new(big.Int).Mul(unit, big.NewInt(3)), epochLength)

	// bob joins halfway through the epoch 0 stream with twice alice's weight
	require.NoError(t, f.dist.UpdateWeight(bob, dustTimes(2), epochLength*3/2, epochLength*3/2))

	// alice claims mid-stream, the rest settles at the end of epoch 2
	claimed, err := f.dist.Claim(alice, alice, alice, epochLength*5/2)
	require.NoError(t, err)
	assert.Equal(t, mulDiv(unit, 3, 4), claimed)

	alicePending := f.pending(t, alice, 3*epochLength)
	bobPending := f.pending(t, bob, 3*epochLength)
	assert.Equal(t, mulDiv(unit, 3, 8), alicePending)
	assert.Equal(t, mulDiv(unit, 7, 4), bobPending)

	// both epoch rewards were pulled downstream in full
	aggBal, err := f.asset.BalanceOf(f.agg.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(0), aggBal.Int64())

	distBal, err := f.asset.BalanceOf(f.dist.Address())
	require.NoError(t, err)
	assert.Equal(t, deposited, new(big.Int).Add(claimed, distBal))

	// the distributor holds every pending balance, the excess is the dust share
	residual := new(big.Int).Sub(distBal, alicePending)
	residual.Sub(residual, bobPending)
	assert.Equal(t, mulDiv(unit, 9, 8), residual)

	total := new(big.Int).Add(claimed, alicePending)
	total.Add(total, bobPending)
	total.Add(total, residual)
	assert.Equal(t, deposited, total)
}

func TestBoundedStreamSync(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dist.UpdateWeight(alice, drip.DustWeight, 0, 0))

	backlog := (drip.MaxSyncIterations + 10) * epochLength
	synced, err := f.dist.Sync(backlog)
	require.NoError(t, err)
	assert.False(t, synced)
	offset, _, err := f.dist.StreamState()
	require.NoError(t, err)
	assert.Equal(t, drip.MaxSyncIterations*epochLength, offset)

	synced, err = f.dist.Sync(backlog)
	require.NoError(t, err)
	assert.True(t, synced)
	offset, _, err = f.dist.StreamState()
	require.NoError(t, err)
	assert.Equal(t, backlog, offset)
}
