// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package stream implements the per-account reward accounting shared by the
// downstream distributors: a cumulative reward-per-weight integral advanced
// by linearly releasing each epoch's reward over the following epoch, plus
// per-account integral snapshots turning it into claimable balances.
package stream

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/distributor"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/log"
	"github.com/drip-labs/drip/metrics"
	"github.com/drip-labs/drip/packing"
	"github.com/drip-labs/drip/params"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
	"github.com/drip-labs/drip/token"
)

var logger = log.WithContext("pkg", "stream")

var (
	metricSyncs    = metrics.LazyLoadCounter("stream_syncs_total")
	metricClaims   = metrics.LazyLoadCounter("stream_claims_total")
	metricReclaims = metrics.LazyLoadCounter("stream_reclaims_total")
)

var (
	// ErrNotSynced is returned when the epoch backlog exceeds the per-call
	// iteration bound. Progress is kept, callers retry.
	ErrNotSynced = errors.New("not fully synchronized")

	// ErrWeightUnderflow is returned when a weight decrease exceeds the
	// stored weight. The ledger is in an invalid state if this happens.
	ErrWeightUnderflow = errors.New("weight underflow")
)

// Upstream is where the distributor claims its apportioned epoch rewards.
type Upstream interface {
	Claim(component drip.Address, now uint64) (epochIdx uint64, weight, amount *big.Int, err error)
	Cursor(component drip.Address) (uint64, error)
}

// Distributor tracks account weights, streams claimed epoch rewards into the
// integral and accrues pending balances per account.
type Distributor struct {
	context  *stor.Context
	clock    *epoch.Clock
	asset    *token.Token
	auth     *auth.Auth
	params   *params.Params
	upstream Upstream

	packed         *stor.Mapping[drip.Address, drip.Bytes32]
	previousPacked *stor.Mapping[drip.Address, drip.Bytes32]
	entries        *stor.Mapping[stor.UintKey, *weightEntry]
	entryCount     *stor.Uint64

	streamOffset *stor.Uint64
	streamReward *stor.Uint256

	integral        *stor.Uint256
	epochIntegrals  *stor.Mapping[stor.UintKey, *big.Int]
	accountIntegral *stor.Mapping[drip.Address, *big.Int]
	pending         *stor.Mapping[drip.Address, *big.Int]
}

// weightEntry checkpoints the total weight as of an epoch. A new entry is
// only written when the total changes in a later epoch.
type weightEntry struct {
	Epoch  uint64
	Weight *big.Int
}

// New creates a streaming distributor bound to the given address. The
// upstream may be nil during wiring and set later via SetUpstream.
func New(addr drip.Address, st *state.State, clock *epoch.Clock, asset *token.Token, au *auth.Auth, par *params.Params, upstream Upstream) *Distributor {
	context := stor.NewContext(addr, st)
	return &Distributor{
		context:         context,
		clock:           clock,
		asset:           asset,
		auth:            au,
		params:          par,
		upstream:        upstream,
		packed:          stor.NewMapping[drip.Address, drip.Bytes32](context, stor.Slot("packed-weights")),
		previousPacked:  stor.NewMapping[drip.Address, drip.Bytes32](context, stor.Slot("previous-packed-weights")),
		entries:         stor.NewMapping[stor.UintKey, *weightEntry](context, stor.Slot("total-weight-entries")),
		entryCount:      stor.NewUint64(context, stor.Slot("total-weight-cursor")),
		streamOffset:    stor.NewUint64(context, stor.Slot("stream-offset")),
		streamReward:    stor.NewUint256(context, stor.Slot("stream-reward")),
		integral:        stor.NewUint256(context, stor.Slot("reward-integral")),
		epochIntegrals:  stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("epoch-integrals")),
		accountIntegral: stor.NewMapping[drip.Address, *big.Int](context, stor.Slot("account-integrals")),
		pending:         stor.NewMapping[drip.Address, *big.Int](context, stor.Slot("pending-rewards")),
	}
}

// SetUpstream binds the upstream aggregator.
func (d *Distributor) SetUpstream(upstream Upstream) {
	d.upstream = upstream
}

// Address returns the distributor's ledger address, its component identity
// upstream.
func (d *Distributor) Address() drip.Address {
	return d.context.Address()
}

// Clock returns the epoch clock.
func (d *Distributor) Clock() *epoch.Clock {
	return d.clock
}

// PackedWeight returns an account's stored (timestamp, weight) pair.
func (d *Distributor) PackedWeight(account drip.Address) (uint64, *big.Int, error) {
	return d.unpackFor(d.packed, account)
}

// PreviousPackedWeight returns the account's pair as of the epoch before its
// last update.
func (d *Distributor) PreviousPackedWeight(account drip.Address) (uint64, *big.Int, error) {
	return d.unpackFor(d.previousPacked, account)
}

func (d *Distributor) unpackFor(m *stor.Mapping[drip.Address, drip.Bytes32], account drip.Address) (uint64, *big.Int, error) {
	raw, err := m.Get(account)
	if err != nil {
		return 0, nil, err
	}
	word := new(uint256.Int).SetBytes(raw.Bytes())
	ts := packing.TimeBalance.Field(word, 0)
	weight := packing.TimeBalance.Field(word, 1)
	return ts.Uint64(), weight.ToBig(), nil
}

func (d *Distributor) storePacked(account drip.Address, ts uint64, weight *big.Int) error {
	w, overflow := uint256.FromBig(weight)
	if overflow {
		return errors.New("weight exceeds storage width")
	}
	word, err := packing.TimeBalance.Pack(uint256.NewInt(ts), w)
	if err != nil {
		return errors.Wrap(err, "failed to pack weight")
	}
	return d.packed.Set(account, drip.BytesToBytes32(word.Bytes()))
}

// EntryCount returns the number of total-weight checkpoints.
func (d *Distributor) EntryCount() (uint64, error) {
	return d.entryCount.Get()
}

// Entry returns the i-th total-weight checkpoint.
func (d *Distributor) Entry(i uint64) (uint64, *big.Int, error) {
	e, err := d.entries.Get(stor.UintKey(i))
	if err != nil {
		return 0, nil, err
	}
	if e.Weight == nil {
		return 0, new(big.Int), nil
	}
	return e.Epoch, e.Weight, nil
}

// TotalWeightAt returns the total weight in effect during the given epoch.
// The total always carries the dust floor so integral folds never divide by
// zero.
func (d *Distributor) TotalWeightAt(epochIdx uint64) (*big.Int, error) {
	count, err := d.entryCount.Get()
	if err != nil {
		return nil, err
	}
	for i := count; i > 0; i-- {
		e, err := d.entries.Get(stor.UintKey(i - 1))
		if err != nil {
			return nil, err
		}
		if e.Epoch <= epochIdx {
			return new(big.Int).Set(e.Weight), nil
		}
	}
	return new(big.Int).Set(drip.DustWeight), nil
}

// SyncTotalWeight reports the epoch's total weight to the upstream
// aggregator during finalization.
func (d *Distributor) SyncTotalWeight(epochIdx uint64) (*big.Int, error) {
	return d.TotalWeightAt(epochIdx)
}

// StreamState returns the seconds since genesis of the last stream sync and
// the reward currently streaming.
func (d *Distributor) StreamState() (uint64, *big.Int, error) {
	offset, err := d.streamOffset.Get()
	if err != nil {
		return 0, nil, err
	}
	reward, err := d.streamReward.Get()
	if err != nil {
		return 0, nil, err
	}
	return offset, reward, nil
}

// Integral returns the cumulative reward-per-weight integral.
func (d *Distributor) Integral() (*big.Int, error) {
	return d.integral.Get()
}

// EpochIntegral returns the integral snapshot taken at the end of an epoch's
// streaming window.
func (d *Distributor) EpochIntegral(epochIdx uint64) (*big.Int, error) {
	return d.epochIntegrals.Get(stor.UintKey(epochIdx))
}

// PendingRewards returns the account's accrued, unclaimed balance as of its
// last sync.
func (d *Distributor) PendingRewards(account drip.Address) (*big.Int, error) {
	return d.pending.Get(account)
}

// AccountIntegral returns the account's integral snapshot.
func (d *Distributor) AccountIntegral(account drip.Address) (*big.Int, error) {
	return d.accountIntegral.Get(account)
}

// Sync advances the stream up to now, claiming finalized epoch rewards from
// upstream as their streaming windows open. Returns true once caught up.
func (d *Distributor) Sync(now uint64) (bool, error) {
	err := d.syncStream(now)
	if errors.Is(err, ErrNotSynced) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// syncStream walks the stream from its last offset to now, epoch window by
// epoch window. The reward claimed for epoch N unlocks linearly over epoch
// N+1; each unlocked slice is folded into the integral against the total
// weight in effect at that point.
func (d *Distributor) syncStream(now uint64) error {
	target, err := d.clock.SinceGenesis(now)
	if err != nil {
		return err
	}
	offset, err := d.streamOffset.Get()
	if err != nil {
		return err
	}
	if offset >= target {
		return nil
	}
	reward, err := d.streamReward.Get()
	if err != nil {
		return err
	}

	length := d.clock.Length()
	var iterations uint64
	for offset < target {
		if iterations == drip.MaxSyncIterations {
			d.streamOffset.Set(offset)
			d.streamReward.Set(reward)
			return ErrNotSynced
		}
		iterations++

		epochIdx := offset / length
		epochStart := epochIdx * length
		epochEnd := epochStart + length
		step := min(target, epochEnd)

		if reward.Sign() > 0 {
			unlocked := unlockedAt(reward, step-epochStart, length)
			unlocked.Sub(unlocked, unlockedAt(reward, offset-epochStart, length))
			if unlocked.Sign() > 0 {
				total, err := d.TotalWeightAt(epochIdx)
				if err != nil {
					return err
				}
				fold := unlocked.Mul(unlocked, drip.Precision)
				fold.Div(fold, total)
				if err := d.integral.Add(fold); err != nil {
					return err
				}
			}
		}
		offset = step

		if offset == epochEnd {
			integral, err := d.integral.Get()
			if err != nil {
				return err
			}
			if err := d.epochIntegrals.Set(stor.UintKey(epochIdx), integral); err != nil {
				return err
			}
			reward, err = d.claimUpTo(epochIdx, now)
			if err != nil {
				return err
			}
		}
		metricSyncs().Add(1)
	}
	d.streamOffset.Set(offset)
	d.streamReward.Set(reward)
	return nil
}

// unlockedAt returns the reward slice released after elapsed seconds of the
// streaming window. Computed from the window start so the full reward is
// released exactly at the boundary.
func unlockedAt(reward *big.Int, elapsed, length uint64) *big.Int {
	u := new(big.Int).Mul(reward, new(big.Int).SetUint64(elapsed))
	return u.Div(u, new(big.Int).SetUint64(length))
}

// claimUpTo collects every upstream epoch claim with a cursor at or below
// epochIdx. Amounts of epochs missed earlier stream late rather than never.
func (d *Distributor) claimUpTo(epochIdx uint64, now uint64) (*big.Int, error) {
	total := new(big.Int)
	if d.upstream == nil {
		return total, nil
	}
	self := d.context.Address()
	for {
		cursor, err := d.upstream.Cursor(self)
		if err != nil {
			return nil, err
		}
		if cursor > epochIdx {
			return total, nil
		}
		_, _, amount, err := d.upstream.Claim(self, now)
		if err != nil {
			// Not attached upstream, or the upstream itself lags behind.
			// Anything unclaimed streams at the next boundary instead.
			if errors.Is(err, distributor.ErrNotComponent) || errors.Is(err, distributor.ErrNotFinalized) {
				return total, nil
			}
			return nil, errors.Wrap(err, "failed to claim upstream")
		}
		total.Add(total, amount)
	}
}

// SyncAccount folds the integral gap since the account's last snapshot into
// its pending balance. The stream is always advanced first.
func (d *Distributor) SyncAccount(account drip.Address, now uint64) error {
	if err := d.syncStream(now); err != nil {
		return err
	}
	return d.settleAccount(account)
}

func (d *Distributor) settleAccount(account drip.Address) error {
	integral, err := d.integral.Get()
	if err != nil {
		return err
	}
	snapshot, err := d.accountIntegral.Get(account)
	if err != nil {
		return err
	}
	if integral.Cmp(snapshot) > 0 {
		_, weight, err := d.PackedWeight(account)
		if err != nil {
			return err
		}
		if weight.Sign() > 0 {
			delta := new(big.Int).Sub(integral, snapshot)
			delta.Mul(delta, weight)
			delta.Div(delta, drip.Precision)
			pending, err := d.pending.Get(account)
			if err != nil {
				return err
			}
			if err := d.pending.Set(account, pending.Add(pending, delta)); err != nil {
				return err
			}
		}
	}
	return d.accountIntegral.Set(account, integral)
}

// UpdateWeight moves an account to a new weight, keeping the total-weight
// checkpoints and the previous-epoch snapshot consistent. The timestamp is
// policy-specific and supplied by the weight source. The account is settled
// first so the old weight earns up to this instant.
func (d *Distributor) UpdateWeight(account drip.Address, newWeight *big.Int, ts, now uint64) error {
	if err := d.SyncAccount(account, now); err != nil {
		return err
	}
	current, err := d.clock.Index(now)
	if err != nil {
		return err
	}

	oldTs, oldWeight, err := d.PackedWeight(account)
	if err != nil {
		return err
	}
	if oldWeight.Sign() > 0 || oldTs != 0 {
		lastEpoch, err := d.clock.Index(oldTs)
		if err == nil && lastEpoch < current {
			raw, err := d.packed.Get(account)
			if err != nil {
				return err
			}
			if err := d.previousPacked.Set(account, raw); err != nil {
				return err
			}
		}
	}
	if err := d.storePacked(account, ts, newWeight); err != nil {
		return err
	}

	diff := new(big.Int).Sub(newWeight, oldWeight)
	if diff.Sign() == 0 {
		return nil
	}
	return d.shiftTotal(current, diff)
}

// shiftTotal applies a signed weight change to the current epoch's total,
// appending a checkpoint when rolling into a new epoch.
func (d *Distributor) shiftTotal(current uint64, diff *big.Int) error {
	count, err := d.entryCount.Get()
	if err != nil {
		return err
	}
	last := &weightEntry{Epoch: 0, Weight: new(big.Int).Set(drip.DustWeight)}
	if count > 0 {
		last, err = d.entries.Get(stor.UintKey(count - 1))
		if err != nil {
			return err
		}
	}

	weight := new(big.Int).Add(last.Weight, diff)
	if weight.Cmp(drip.DustWeight) < 0 {
		return ErrWeightUnderflow
	}
	if count > 0 && last.Epoch == current {
		return d.entries.Set(stor.UintKey(count-1), &weightEntry{Epoch: current, Weight: weight})
	}
	d.entryCount.Set(count + 1)
	return d.entries.Set(stor.UintKey(count), &weightEntry{Epoch: current, Weight: weight})
}
