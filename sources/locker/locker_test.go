// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package locker

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/distributor"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/lvldb"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/token"
)

const epochLength = drip.EpochLength

var (
	deployer = drip.BytesToAddress([]byte("deployer"))
	alice    = drip.BytesToAddress([]byte("alice"))
	bob      = drip.BytesToAddress([]byte("bob"))
	unit     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	scales = []uint64{1, 4, 1}
)

// governed per-bucket shares: [1, 1, 2] units
func bucketShares() []*big.Int {
	return []*big.Int{
		new(big.Int).Set(unit),
		new(big.Int).Set(unit),
		new(big.Int).Mul(unit, big.NewInt(2)),
	}
}

func sharesSum() *big.Int {
	return new(big.Int).Mul(unit, big.NewInt(4))
}

type lockerFixture struct {
	dist       *Distributor
	depositors []*Depositor
	tokens     []*token.Token
	reward     *token.Token
	agg        *distributor.Aggregator
	au         *auth.Auth
}

func newLockerFixture(t *testing.T, genesis uint64) *lockerFixture {
	db, err := lvldb.NewMem()
	require.NoError(t, err)
	st := state.New(db)

	reward := token.New(drip.BytesToAddress([]byte("reward")), st)
	clock, err := epoch.NewClock(genesis, epochLength)
	require.NoError(t, err)

	aggAddr := drip.BytesToAddress([]byte("agg"))
	aggAuth := auth.New(aggAddr, st)
	require.NoError(t, aggAuth.Init(deployer))
	agg := distributor.New(aggAddr, st, clock, reward, aggAuth)

	distAddr := drip.BytesToAddress([]byte("ll-dist"))
	au := auth.New(distAddr, st)
	require.NoError(t, au.Init(deployer))
	dist := New(distAddr, st, clock, reward, au, agg, uint64(len(scales)), drip.BoostLength)
	require.NoError(t, dist.SetUnboostedWeights(deployer, bucketShares()))
	agg.Bind(distAddr, dist)
	require.NoError(t, agg.AddComponent(deployer, distAddr, 1, 1, drip.ComponentsSentinel, genesis))

	f := &lockerFixture{dist: dist, reward: reward, agg: agg, au: au}
	for i, scale := range scales {
		tok := token.New(drip.BytesToAddress([]byte(fmt.Sprintf("ll-token-%d", i))), st)
		dep := NewDepositor(drip.BytesToAddress([]byte(fmt.Sprintf("ll-depositor-%d", i))), st, tok, scale, au)
		require.NoError(t, dep.SetHooks(deployer, dist.BucketHooks(uint64(i))))
		f.tokens = append(f.tokens, tok)
		f.depositors = append(f.depositors, dep)
	}
	return f
}

func (f *lockerFixture) deposit(t *testing.T, bucket int, account drip.Address, amount *big.Int, now uint64) {
	require.NoError(t, f.tokens[bucket].Mint(account, amount))
	require.NoError(t, f.tokens[bucket].Approve(account, f.depositors[bucket].Address(), amount))
	require.NoError(t, f.depositors[bucket].Deposit(account, account, amount, now))
}

func (f *lockerFixture) reward0(t *testing.T, amount *big.Int, now uint64) {
	require.NoError(t, f.reward.Mint(deployer, amount))
	require.NoError(t, f.reward.Approve(deployer, f.agg.Address(), amount))
	require.NoError(t, f.agg.Deposit(deployer, 0, amount, now))
}

// scale * n, in underlying
func scaled(bucket int, n *big.Int) *big.Int {
	return new(big.Int).Mul(n, new(big.Int).SetUint64(scales[bucket]))
}

func TestDepositorDeposit(t *testing.T) {
	f := newLockerFixture(t, 0)
	dep := f.depositors[1]
	amount := new(big.Int).Mul(unit, big.NewInt(4))
	f.deposit(t, 1, alice, amount, 0)

	bal, err := f.tokens[1].BalanceOf(dep.Address())
	require.NoError(t, err)
	assert.Equal(t, amount, bal)
	staked, err := dep.Staked().BalanceOf(alice)
	require.NoError(t, err)
	assert.Equal(t, unit, staked)

	require.NoError(t, f.tokens[1].Mint(alice, big.NewInt(5)))
	require.NoError(t, f.tokens[1].Approve(alice, dep.Address(), big.NewInt(5)))
	assert.ErrorIs(t, dep.Deposit(alice, alice, big.NewInt(5), 0), ErrUnevenAmount)
}

func TestDepositorUnstakeWithdraw(t *testing.T) {
	f := newLockerFixture(t, 0)
	dep := f.depositors[1]
	f.deposit(t, 1, alice, new(big.Int).Mul(unit, big.NewInt(4)), 0)

	// one staked unit into the stream
	require.NoError(t, dep.Unstake(alice, unit, 0))
	start, total, claimed, err := dep.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)
	assert.Equal(t, unit, total)
	assert.Equal(t, int64(0), claimed.Int64())

	now := uint64(StreamDuration / 4)
	maxW, err := dep.MaxWithdraw(alice, now)
	require.NoError(t, err)
	assert.Equal(t, unit, maxW)
	maxR, err := dep.MaxRedeem(alice, now)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Div(unit, big.NewInt(4)), maxR)

	require.NoError(t, dep.Withdraw(alice, unit, bob, alice, now))
	_, _, claimed, err = dep.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Div(unit, big.NewInt(4)), claimed)
	bal, err := f.tokens[1].BalanceOf(bob)
	require.NoError(t, err)
	assert.Equal(t, unit, bal)
	maxW, err = dep.MaxWithdraw(alice, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxW.Int64())

	// cant outrun the stream
	err = dep.Withdraw(alice, unit, bob, alice, now)
	assert.ErrorIs(t, err, ErrExceedsWithdrawable)

	// fully released after the stream duration
	now = 2 * StreamDuration
	maxW, err = dep.MaxWithdraw(alice, now)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(unit, big.NewInt(3)), maxW)
}

func TestDepositorWithdrawFrom(t *testing.T) {
	f := newLockerFixture(t, 0)
	dep := f.depositors[1]
	f.deposit(t, 1, alice, new(big.Int).Mul(unit, big.NewInt(4)), 0)
	require.NoError(t, dep.Unstake(alice, unit, 0))

	now := uint64(StreamDuration)
	quarter := new(big.Int).Div(unit, big.NewInt(4))
	require.NoError(t, dep.Staked().Approve(alice, bob, new(big.Int).Mul(quarter, big.NewInt(3))))
	require.NoError(t, dep.Withdraw(bob, unit, deployer, alice, now))
	allowance, err := dep.Staked().Allowance(alice, bob)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(quarter, big.NewInt(2)), allowance)
	bal, err := f.tokens[1].BalanceOf(deployer)
	require.NoError(t, err)
	assert.Equal(t, unit, bal)

	// allowance gates third-party withdrawals
	err = dep.Withdraw(bob, new(big.Int).Mul(unit, big.NewInt(3)), deployer, alice, now)
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)
}

func TestDepositorUnstakeMerge(t *testing.T) {
	f := newLockerFixture(t, 0)
	dep := f.depositors[1]
	f.deposit(t, 1, alice, new(big.Int).Mul(unit, big.NewInt(4)), 0)

	quarter := new(big.Int).Div(unit, big.NewInt(4))
	require.NoError(t, dep.Unstake(alice, new(big.Int).Mul(quarter, big.NewInt(3)), 0))
	now := uint64(StreamDuration * 3 / 4)
	require.NoError(t, dep.Withdraw(alice, new(big.Int).Mul(unit, big.NewInt(2)), alice, alice, now))

	// unreleased remainder merges into the fresh stream
	require.NoError(t, dep.Unstake(alice, quarter, now))
	start, total, claimed, err := dep.Streams(alice)
	require.NoError(t, err)
	assert.Equal(t, now, start)
	assert.Equal(t, new(big.Int).Mul(quarter, big.NewInt(2)), total)
	assert.Equal(t, int64(0), claimed.Int64())
	maxW, err := dep.MaxWithdraw(alice, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxW.Int64())
}

func TestLockerStakes(t *testing.T) {
	for bucket := range scales {
		t.Run(fmt.Sprintf("bucket-%d", bucket), func(t *testing.T) {
			f := newLockerFixture(t, 0)

			_, staked, err := f.dist.Staked(uint64(bucket), alice)
			require.NoError(t, err)
			assert.Equal(t, int64(0), staked.Int64())
			_, total, err := f.dist.TotalStaked(uint64(bucket))
			require.NoError(t, err)
			assert.Equal(t, drip.DustWeight, total)

			f.deposit(t, bucket, alice, scaled(bucket, unit), 0)
			_, staked, err = f.dist.Staked(uint64(bucket), alice)
			require.NoError(t, err)
			assert.Equal(t, unit, staked)
			_, total, err = f.dist.TotalStaked(uint64(bucket))
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Add(drip.DustWeight, unit), total)

			// same epoch: no previous snapshot yet
			f.deposit(t, bucket, alice, scaled(bucket, new(big.Int).Mul(unit, big.NewInt(2))), 0)
			_, staked, err = f.dist.Staked(uint64(bucket), alice)
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Mul(unit, big.NewInt(3)), staked)
			_, previous, err := f.dist.PreviousStaked(uint64(bucket), alice)
			require.NoError(t, err)
			assert.Equal(t, int64(0), previous.Int64())

			// next epoch rolls the snapshots
			f.deposit(t, bucket, alice, scaled(bucket, unit), epochLength)
			_, staked, err = f.dist.Staked(uint64(bucket), alice)
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Mul(unit, big.NewInt(4)), staked)
			_, previous, err = f.dist.PreviousStaked(uint64(bucket), alice)
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Mul(unit, big.NewInt(3)), previous)
			_, total, err = f.dist.TotalStaked(uint64(bucket))
			require.NoError(t, err)
			want := new(big.Int).Mul(unit, big.NewInt(4))
			assert.Equal(t, want.Add(want, drip.DustWeight), total)
			_, previousTotal, err := f.dist.PreviousTotalStaked(uint64(bucket))
			require.NoError(t, err)
			want = new(big.Int).Mul(unit, big.NewInt(3))
			assert.Equal(t, want.Add(want, drip.DustWeight), previousTotal)
		})
	}
}

func TestLockerDepositBeforeGenesis(t *testing.T) {
	f := newLockerFixture(t, epochLength)
	require.NoError(t, f.tokens[0].Mint(alice, unit))
	require.NoError(t, f.tokens[0].Approve(alice, f.depositors[0].Address(), unit))
	err := f.depositors[0].Deposit(alice, alice, unit, epochLength/2)
	assert.ErrorIs(t, err, epoch.ErrBeforeGenesis)
}

func TestLockerBoostedWeight(t *testing.T) {
	f := newLockerFixture(t, 0)
	sum := sharesSum()

	weight, err := f.dist.SyncTotalWeight(0)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(sum, big.NewInt(2)), weight)

	half := drip.BoostLength / 2
	weight, err = f.dist.SyncTotalWeight(half)
	require.NoError(t, err)
	want := new(big.Int).Mul(sum, big.NewInt(3))
	assert.Equal(t, want.Div(want, big.NewInt(2)), weight)

	weight, err = f.dist.SyncTotalWeight(drip.BoostLength)
	require.NoError(t, err)
	assert.Equal(t, sum, weight)
	weight, err = f.dist.SyncTotalWeight(10 * drip.BoostLength)
	require.NoError(t, err)
	assert.Equal(t, sum, weight)
}

func TestLockerRewards(t *testing.T) {
	for bucket := range scales {
		t.Run(fmt.Sprintf("bucket-%d", bucket), func(t *testing.T) {
			f := newLockerFixture(t, 0)
			b := uint64(bucket)

			f.deposit(t, bucket, alice, scaled(bucket, drip.DustWeight), 0)
			f.reward0(t, unit, 0)

			// bucket slice of the epoch 0 deposit
			shares := bucketShares()
			epochReward := new(big.Int).Mul(unit, shares[bucket])
			epochReward.Div(epochReward, sharesSum())

			ts := epochLength * 3 / 2
			f.deposit(t, bucket, alice, scaled(bucket, drip.DustWeight), ts)
			require.NoError(t, f.tokens[bucket].Mint(alice, scaled(bucket, drip.DustWeight)))
			require.NoError(t, f.tokens[bucket].Approve(alice, f.depositors[bucket].Address(), scaled(bucket, drip.DustWeight)))
			require.NoError(t, f.depositors[bucket].Deposit(alice, bob, scaled(bucket, drip.DustWeight), ts))

			weight, err := f.agg.EpochTotalWeight(0)
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Mul(sharesSum(), big.NewInt(2)), weight)
			offset, reward, err := f.dist.CurrentRewards(b)
			require.NoError(t, err)
			assert.Equal(t, ts, offset)
			assert.Equal(t, epochReward, reward)

			// halfway through epoch 1 over the dust floor plus alice's stake
			integral := new(big.Int).Div(epochReward, big.NewInt(2))
			integral.Mul(integral, drip.Precision)
			integral.Div(integral, new(big.Int).Mul(drip.DustWeight, big.NewInt(2)))
			got, err := f.dist.RewardIntegral(b)
			require.NoError(t, err)
			assert.Equal(t, integral, got)
			got, err = f.dist.AccountRewardIntegral(b, alice)
			require.NoError(t, err)
			assert.Equal(t, integral, got)
			pending, err := f.dist.PendingRewards(alice)
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Div(epochReward, big.NewInt(4)), pending)

			// rest of the epoch over the doubled stakes
			require.NoError(t, f.dist.SyncRewards(b, alice, 2*epochLength))
			require.NoError(t, f.dist.SyncRewards(b, bob, 2*epochLength))
			step := new(big.Int).Div(epochReward, big.NewInt(2))
			step.Mul(step, drip.Precision)
			step.Div(step, new(big.Int).Mul(drip.DustWeight, big.NewInt(4)))
			integral.Add(integral, step)
			got, err = f.dist.RewardIntegral(b)
			require.NoError(t, err)
			assert.Equal(t, integral, got)
			pending, err = f.dist.PendingRewards(alice)
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Div(epochReward, big.NewInt(2)), pending)
			pending, err = f.dist.PendingRewards(bob)
			require.NoError(t, err)
			assert.Equal(t, new(big.Int).Div(epochReward, big.NewInt(8)), pending)
		})
	}
}

func TestLockerTransferStakes(t *testing.T) {
	f := newLockerFixture(t, 0)
	dep := f.depositors[0]
	f.deposit(t, 0, alice, unit, 0)

	require.NoError(t, dep.Transfer(alice, bob, new(big.Int).Div(unit, big.NewInt(4)), 0))
	_, staked, err := f.dist.Staked(0, alice)
	require.NoError(t, err)
	want := new(big.Int).Mul(unit, big.NewInt(3))
	assert.Equal(t, want.Div(want, big.NewInt(4)), staked)
	_, staked, err = f.dist.Staked(0, bob)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Div(unit, big.NewInt(4)), staked)

	// transfers never move the bucket total
	_, total, err := f.dist.TotalStaked(0)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Add(drip.DustWeight, unit), total)
}

func TestLockerClaim(t *testing.T) {
	f := newLockerFixture(t, 0)
	f.deposit(t, 0, alice, drip.DustWeight, 0)
	f.reward0(t, unit, 0)

	epochReward := new(big.Int).Div(unit, big.NewInt(4))

	// only authorized claimers may act for others
	_, err := f.dist.Claim(deployer, alice, deployer, 2*epochLength)
	assert.ErrorIs(t, err, auth.ErrNotAuthorized)

	got, err := f.dist.Claim(alice, alice, bob, 2*epochLength)
	require.NoError(t, err)
	want := new(big.Int).Div(epochReward, big.NewInt(2))
	assert.Equal(t, want, got)
	bal, err := f.reward.BalanceOf(bob)
	require.NoError(t, err)
	assert.Equal(t, want, bal)

	pending, err := f.dist.PendingRewards(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Int64())
}
