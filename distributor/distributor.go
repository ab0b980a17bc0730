// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package distributor implements the top-level epoch aggregator: it takes
// reward deposits per epoch and apportions each finalized epoch's reward
// across the registered components in proportion to their reported weight.
package distributor

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/log"
	"github.com/drip-labs/drip/metrics"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
	"github.com/drip-labs/drip/token"
)

var logger = log.WithContext("pkg", "distributor")

var (
	metricDeposits     = metrics.LazyLoadCounter("distributor_deposits_total")
	metricSyncedEpochs = metrics.LazyLoadCounter("distributor_synced_epochs_total")
	metricClaims       = metrics.LazyLoadCounter("distributor_claims_total")
	metricEpochLag     = metrics.LazyLoadGauge("distributor_epoch_lag")
)

var (
	// ErrPastEpoch is returned when depositing into an already started finalization window.
	ErrPastEpoch = errors.New("epoch already passed")

	// ErrNotFinalized is returned when claiming an epoch that has not been finalized yet.
	ErrNotFinalized = errors.New("epoch not finalized")

	// ErrNotComponent is returned when a claim comes from an address that never was a component.
	ErrNotComponent = errors.New("not a component")

	// ErrNotSynced is returned when an operation needs a fully caught-up
	// ledger but the iteration bound was reached first. Callers retry.
	ErrNotSynced = errors.New("not fully synchronized")

	// ErrUnknownSource is returned when a registered component has no weight
	// source implementation bound.
	ErrUnknownSource = errors.New("no weight source bound for component")
)

// WeightSource reports a component's total weight for a finalized epoch.
// Implementations may settle their own internal epoch state when polled.
type WeightSource interface {
	SyncTotalWeight(epochIdx uint64) (*big.Int, error)
}

// PullSource supplies additional reward for an epoch. It transfers the
// returned amount into the aggregator before returning.
type PullSource interface {
	Pull(epochIdx uint64) (*big.Int, error)
}

// Aggregator distributes deposited rewards across registered components.
type Aggregator struct {
	context *stor.Context
	clock   *epoch.Clock
	asset   *token.Token
	auth    *auth.Auth

	lastEpoch        *stor.Uint64
	numComponents    *stor.Uint64
	components       *stor.Mapping[drip.Address, *componentRecord]
	epochRewards     *stor.Mapping[stor.UintKey, *big.Int]
	epochTotalWeight *stor.Mapping[stor.UintKey, *big.Int]
	epochWeights     *stor.Mapping[stor.CompositeKey, *big.Int]

	sources map[drip.Address]WeightSource
	pull    PullSource
}

type componentRecord struct {
	Next        drip.Address
	LastClaimed uint64
	ScaleNum    uint64
	ScaleDen    uint64
	Registered  bool
}

// New creates an aggregator bound to the given address.
func New(addr drip.Address, st *state.State, clock *epoch.Clock, asset *token.Token, au *auth.Auth) *Aggregator {
	context := stor.NewContext(addr, st)
	return &Aggregator{
		context:          context,
		clock:            clock,
		asset:            asset,
		auth:             au,
		lastEpoch:        stor.NewUint64(context, stor.Slot("last-epoch")),
		numComponents:    stor.NewUint64(context, stor.Slot("num-components")),
		components:       stor.NewMapping[drip.Address, *componentRecord](context, stor.Slot("components")),
		epochRewards:     stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("epoch-rewards")),
		epochTotalWeight: stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("epoch-total-weight")),
		epochWeights:     stor.NewMapping[stor.CompositeKey, *big.Int](context, stor.Slot("epoch-weights")),
		sources:          make(map[drip.Address]WeightSource),
	}
}

// Address returns the aggregator's ledger address.
func (a *Aggregator) Address() drip.Address {
	return a.context.Address()
}

// Bind attaches the weight source implementation of a component address.
// Binding is runtime wiring, registry membership lives in state.
func (a *Aggregator) Bind(component drip.Address, source WeightSource) {
	a.sources[component] = source
}

// SetPull configures the upstream pull source. Nil means none.
func (a *Aggregator) SetPull(caller drip.Address, pull PullSource) error {
	if err := a.auth.Require(caller); err != nil {
		return err
	}
	a.pull = pull
	return nil
}

// LastEpoch returns the first epoch that has not been finalized yet.
func (a *Aggregator) LastEpoch() (uint64, error) {
	return a.lastEpoch.Get()
}

// EpochRewards returns the reward scheduled for an epoch.
func (a *Aggregator) EpochRewards(epochIdx uint64) (*big.Int, error) {
	return a.epochRewards.Get(stor.UintKey(epochIdx))
}

// EpochTotalWeight returns the finalized total weight of an epoch.
func (a *Aggregator) EpochTotalWeight(epochIdx uint64) (*big.Int, error) {
	return a.epochTotalWeight.Get(stor.UintKey(epochIdx))
}

// EpochWeight returns a component's finalized scaled weight for an epoch.
func (a *Aggregator) EpochWeight(component drip.Address, epochIdx uint64) (*big.Int, error) {
	return a.epochWeights.Get(stor.CompositeKey{A: component, B: stor.UintKey(epochIdx)})
}

// Deposit schedules reward for the given epoch, pulling the asset from the
// caller. The epoch must be the current one or later.
func (a *Aggregator) Deposit(caller drip.Address, epochIdx uint64, amount *big.Int, now uint64) error {
	current, err := a.clock.Index(now)
	if err != nil {
		return err
	}
	if epochIdx < current {
		return ErrPastEpoch
	}
	if err := a.asset.TransferFrom(a.context.Address(), caller, a.context.Address(), amount); err != nil {
		return errors.Wrap(err, "failed to collect deposit")
	}
	if err := a.addEpochReward(epochIdx, amount); err != nil {
		return err
	}
	metricDeposits().Add(1)
	logger.Debug("reward deposited", "epoch", epochIdx, "amount", amount)
	return nil
}

func (a *Aggregator) addEpochReward(epochIdx uint64, amount *big.Int) error {
	key := stor.UintKey(epochIdx)
	reward, err := a.epochRewards.Get(key)
	if err != nil {
		return err
	}
	return a.epochRewards.Set(key, reward.Add(reward, amount))
}

// Sync finalizes completed epochs in order, at most drip.MaxSyncIterations
// per call. It returns true once fully caught up; false means call again.
//
// Finalizing an epoch polls every registered component for its total weight,
// applies the component scale, optionally pulls extra reward from upstream
// and rolls the reward forward if nobody carried weight.
func (a *Aggregator) Sync(now uint64) (bool, error) {
	current, err := a.clock.Index(now)
	if err != nil {
		return false, err
	}
	last, err := a.lastEpoch.Get()
	if err != nil {
		return false, err
	}
	defer func() {
		synced, _ := a.lastEpoch.Get()
		metricEpochLag().Set(int64(current - synced))
	}()

	var iterations uint64
	for ; last < current; last++ {
		if iterations == drip.MaxSyncIterations {
			return false, nil
		}
		iterations++
		if err := a.finalize(last); err != nil {
			return false, err
		}
		a.lastEpoch.Set(last + 1)
		metricSyncedEpochs().Add(1)
	}
	return true, nil
}

func (a *Aggregator) finalize(epochIdx uint64) error {
	total := new(big.Int)
	err := a.iterate(func(component drip.Address, rec *componentRecord) error {
		source, ok := a.sources[component]
		if !ok {
			return errors.Wrapf(ErrUnknownSource, "component %v", component)
		}
		weight, err := source.SyncTotalWeight(epochIdx)
		if err != nil {
			return errors.Wrap(err, "failed to sync component weight")
		}
		scaled := new(big.Int).Mul(weight, new(big.Int).SetUint64(rec.ScaleNum))
		scaled.Div(scaled, new(big.Int).SetUint64(rec.ScaleDen))
		if err := a.epochWeights.Set(stor.CompositeKey{A: component, B: stor.UintKey(epochIdx)}, scaled); err != nil {
			return err
		}
		total.Add(total, scaled)
		return nil
	})
	if err != nil {
		return err
	}

	if a.pull != nil {
		pulled, err := a.pull.Pull(epochIdx)
		if err != nil {
			return errors.Wrap(err, "failed to pull upstream reward")
		}
		if pulled.Sign() > 0 {
			if err := a.addEpochReward(epochIdx, pulled); err != nil {
				return err
			}
		}
	}

	if total.Sign() == 0 {
		// nobody carried weight, roll the reward forward
		reward, err := a.epochRewards.Get(stor.UintKey(epochIdx))
		if err != nil {
			return err
		}
		if reward.Sign() > 0 {
			if err := a.addEpochReward(epochIdx+1, reward); err != nil {
				return err
			}
			if err := a.epochRewards.Clear(stor.UintKey(epochIdx)); err != nil {
				return err
			}
			logger.Info("epoch reward rolled forward", "epoch", epochIdx, "amount", reward)
		}
		return nil
	}
	if err := a.epochTotalWeight.Set(stor.UintKey(epochIdx), total); err != nil {
		return err
	}
	logger.Debug("epoch finalized", "epoch", epochIdx, "totalWeight", total)
	return nil
}

// Cursor returns the next epoch a component would claim.
func (a *Aggregator) Cursor(component drip.Address) (uint64, error) {
	rec, err := a.components.Get(component)
	if err != nil {
		return 0, err
	}
	return rec.LastClaimed, nil
}

// Claim pays out the caller component's share of its next unclaimed epoch.
// Epochs are claimed strictly in order; the claim cursor survives removal
// from the registry. It returns the claimed epoch, the component's finalized
// weight in it and the amount paid.
func (a *Aggregator) Claim(component drip.Address, now uint64) (uint64, *big.Int, *big.Int, error) {
	if _, err := a.Sync(now); err != nil {
		return 0, nil, nil, err
	}

	rec, err := a.components.Get(component)
	if err != nil {
		return 0, nil, nil, err
	}
	if !rec.Registered {
		return 0, nil, nil, ErrNotComponent
	}

	epochIdx := rec.LastClaimed
	last, err := a.lastEpoch.Get()
	if err != nil {
		return 0, nil, nil, err
	}
	if epochIdx >= last {
		return 0, nil, nil, ErrNotFinalized
	}

	weight, err := a.EpochWeight(component, epochIdx)
	if err != nil {
		return 0, nil, nil, err
	}
	amount := new(big.Int)
	if weight.Sign() > 0 {
		total, err := a.EpochTotalWeight(epochIdx)
		if err != nil {
			return 0, nil, nil, err
		}
		reward, err := a.EpochRewards(epochIdx)
		if err != nil {
			return 0, nil, nil, err
		}
		amount.Mul(reward, weight)
		amount.Div(amount, total)
	}

	rec.LastClaimed = epochIdx + 1
	if err := a.components.Set(component, rec); err != nil {
		return 0, nil, nil, err
	}
	if amount.Sign() > 0 {
		if err := a.asset.Transfer(a.context.Address(), component, amount); err != nil {
			return 0, nil, nil, errors.Wrap(err, "failed to pay out claim")
		}
	}
	metricClaims().Add(1)
	logger.Debug("component claimed", "component", component, "epoch", epochIdx, "amount", amount)
	return epochIdx, weight, amount, nil
}
