// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package escrow

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
	"github.com/drip-labs/drip/stream"
	"github.com/drip-labs/drip/token"
)

var logger = log.WithContext("pkg", "escrow")

var (
	metricMigrations = metrics.LazyLoadCounter("escrow_migrations_total")
	metricClaims     = metrics.LazyLoadCounter("escrow_claims_total")
	metricReports    = metrics.LazyLoadCounter("escrow_reports_total")
)

var (
	// ErrNoPosition is returned when the account has no valid position to act on.
	ErrNoPosition = errors.New("no position")

	// ErrAlreadyMigrated is returned on a second migration of the same account.
	ErrAlreadyMigrated = errors.New("already migrated")

	// ErrStillValid is returned when a report targets a position the live
	// escrow still covers.
	ErrStillValid = errors.New("position still valid")
)

// epochTotals is the aggregate (weight, slope) standing at one epoch. Weight
// includes the dust floor; slope is the per-epoch decay applied on advancing.
type epochTotals struct {
	Weight *big.Int
	Slope  *big.Int
}

// lockPosition is a migrated snapshot with the unlock converted to an epoch.
type lockPosition struct {
	amount      *big.Int
	boostEpochs uint64
	unlockEpoch uint64
}

func (p *lockPosition) isZero() bool {
	return p.amount.Sign() == 0
}

// Distributor apportions upstream epoch rewards across migrated lock
// positions. Unlike the streaming distributor it walks epochs per account:
// an epoch's payout is reward×weight/total, released linearly over the epoch
// after it.
type Distributor struct {
	context  *stor.Context
	clock    *epoch.Clock
	asset    *token.Token
	auth     *auth.Auth
	params   *params.Params
	snapshot *Snapshot
	upstream stream.Upstream

	positions     *stor.Mapping[drip.Address, drip.Bytes32]
	totals        *stor.Mapping[stor.UintKey, *epochTotals]
	lastTotals    *stor.Uint64
	slopeChanges  *stor.Mapping[stor.UintKey, *big.Int]
	amountChanges *stor.Mapping[stor.UintKey, *big.Int]
	epochRewards  *stor.Mapping[stor.UintKey, *big.Int]
	claimCursor   *stor.Mapping[drip.Address, uint64]
	claimedSoFar  *stor.Mapping[drip.Address, *big.Int]
}

// New creates the escrow distributor bound to the given address.
func New(addr drip.Address, st *state.State, clock *epoch.Clock, asset *token.Token, au *auth.Auth, par *params.Params, snapshot *Snapshot, upstream stream.Upstream) *Distributor {
	context := stor.NewContext(addr, st)
	return &Distributor{
		context:       context,
		clock:         clock,
		asset:         asset,
		auth:          au,
		params:        par,
		snapshot:      snapshot,
		upstream:      upstream,
		positions:     stor.NewMapping[drip.Address, drip.Bytes32](context, stor.Slot("migrated-positions")),
		totals:        stor.NewMapping[stor.UintKey, *epochTotals](context, stor.Slot("epoch-totals")),
		lastTotals:    stor.NewUint64(context, stor.Slot("last-totals-epoch")),
		slopeChanges:  stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("slope-changes")),
		amountChanges: stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("amount-changes")),
		epochRewards:  stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("epoch-rewards")),
		claimCursor:   stor.NewMapping[drip.Address, uint64](context, stor.Slot("claim-cursors")),
		claimedSoFar:  stor.NewMapping[drip.Address, *big.Int](context, stor.Slot("claimed-of-streaming-epoch")),
	}
}

// Address returns the distributor's ledger address.
func (d *Distributor) Address() drip.Address {
	return d.context.Address()
}

// ComputeWeight derives a position's weight at an epoch: principal plus a
// boost of slope per remaining epoch, where the boost runs out at
// boostEpochs or at unlock, whichever comes first. Zero from the unlock
// epoch on. Pure.
func ComputeWeight(amount *big.Int, boostEpochs, unlockEpoch, epochIdx uint64) *big.Int {
	if amount.Sign() == 0 || epochIdx >= unlockEpoch {
		return new(big.Int)
	}
	remaining := unlockEpoch - epochIdx
	if boostEpochs <= epochIdx {
		remaining = 0
	} else if boost := boostEpochs - epochIdx; boost < remaining {
		remaining = boost
	}
	slope := new(big.Int).Div(amount, new(big.Int).SetUint64(drip.MaxLockEpochs))
	weight := new(big.Int).Mul(slope, new(big.Int).SetUint64(remaining))
	return weight.Add(weight, amount)
}

// TotalWeights returns the aggregate (weight, slope) standing at an epoch
// that has been synced.
func (d *Distributor) TotalWeights(epochIdx uint64) (*big.Int, *big.Int, error) {
	entry, err := d.totals.Get(stor.UintKey(epochIdx))
	if err != nil {
		return nil, nil, err
	}
	if entry.Weight == nil {
		return new(big.Int), new(big.Int), nil
	}
	return entry.Weight, entry.Slope, nil
}

// EpochRewards returns the reward claimed from upstream for an epoch.
func (d *Distributor) EpochRewards(epochIdx uint64) (*big.Int, error) {
	return d.epochRewards.Get(stor.UintKey(epochIdx))
}

// SyncTotalWeight advances the aggregate totals up to the given epoch and
// returns its total weight. The upstream aggregator polls this during
// finalization.
func (d *Distributor) SyncTotalWeight(epochIdx uint64) (*big.Int, error) {
	entry, err := d.advance(epochIdx)
	if err != nil {
		return nil, err
	}
	return entry.Weight, nil
}

// advance applies per-epoch slope decay and the expiry buckets up to the
// target epoch. Totals for every crossed epoch are stored for later claims.
func (d *Distributor) advance(to uint64) (*epochTotals, error) {
	last, err := d.lastTotals.Get()
	if err != nil {
		return nil, err
	}
	entry, err := d.totals.Get(stor.UintKey(last))
	if err != nil {
		return nil, err
	}
	if entry.Weight == nil {
		entry = &epochTotals{Weight: new(big.Int).Set(drip.DustWeight), Slope: new(big.Int)}
		if err := d.totals.Set(stor.UintKey(last), entry); err != nil {
			return nil, err
		}
	}
	if to <= last {
		stored, err := d.totals.Get(stor.UintKey(to))
		if err != nil {
			return nil, err
		}
		return stored, nil
	}
	for e := last; e < to; e++ {
		next := e + 1
		entry.Weight.Sub(entry.Weight, entry.Slope)
		expired, err := d.amountChanges.Get(stor.UintKey(next))
		if err != nil {
			return nil, err
		}
		entry.Weight.Sub(entry.Weight, expired)
		ended, err := d.slopeChanges.Get(stor.UintKey(next))
		if err != nil {
			return nil, err
		}
		entry.Slope.Sub(entry.Slope, ended)
		if entry.Weight.Cmp(drip.DustWeight) < 0 || entry.Slope.Sign() < 0 {
			return nil, errors.New("total weight underflow")
		}
		if err := d.totals.Set(stor.UintKey(next), entry); err != nil {
			return nil, err
		}
	}
	d.lastTotals.Set(to)
	return entry, nil
}

func (d *Distributor) position(account drip.Address) (*lockPosition, error) {
	raw, err := d.positions.Get(account)
	if err != nil {
		return nil, err
	}
	word := new(uint256.Int).SetBytes(raw.Bytes())
	return &lockPosition{
		amount:      packing.LockState.Field(word, 0).ToBig(),
		boostEpochs: packing.LockState.Field(word, 1).Uint64(),
		unlockEpoch: packing.LockState.Field(word, 2).Uint64(),
	}, nil
}

func (d *Distributor) storePosition(account drip.Address, pos *lockPosition) error {
	if pos == nil {
		return d.positions.Clear(account)
	}
	amount, overflow := uint256.FromBig(pos.amount)
	if overflow {
		return errors.New("amount exceeds storage width")
	}
	word, err := packing.LockState.Pack(amount, uint256.NewInt(pos.boostEpochs), uint256.NewInt(pos.unlockEpoch))
	if err != nil {
		return errors.Wrap(err, "failed to pack position")
	}
	return d.positions.Set(account, drip.BytesToBytes32(word.Bytes()))
}

// Position returns the migrated position as (amount, boostEpochs, unlockEpoch).
func (d *Distributor) Position(account drip.Address) (*big.Int, uint64, uint64, error) {
	pos, err := d.position(account)
	if err != nil {
		return nil, 0, 0, err
	}
	return pos.amount, pos.boostEpochs, pos.unlockEpoch, nil
}

// Migrate pulls the caller's validated snapshot into the distributor,
// folding its weight and future expiries into the aggregate totals from the
// current epoch on.
func (d *Distributor) Migrate(caller drip.Address, now uint64) error {
	existing, err := d.position(caller)
	if err != nil {
		return err
	}
	if !existing.isZero() {
		return ErrAlreadyMigrated
	}
	snap, err := d.snapshot.Locked(caller)
	if err != nil {
		return err
	}
	if snap.IsZero() {
		return ErrNoPosition
	}
	current, err := d.clock.Index(now)
	if err != nil {
		return err
	}
	unlockEpoch, err := d.clock.Index(snap.UnlockTime)
	if err != nil {
		return err
	}
	if current >= unlockEpoch {
		return ErrNoPosition
	}
	pos := &lockPosition{amount: snap.Amount, boostEpochs: snap.BoostEpochs, unlockEpoch: unlockEpoch}

	entry, err := d.advance(current)
	if err != nil {
		return err
	}
	weight := ComputeWeight(pos.amount, pos.boostEpochs, pos.unlockEpoch, current)
	entry.Weight.Add(entry.Weight, weight)

	boostEnd := min(pos.boostEpochs, pos.unlockEpoch)
	if boostEnd > current {
		slope := new(big.Int).Div(pos.amount, new(big.Int).SetUint64(drip.MaxLockEpochs))
		entry.Slope.Add(entry.Slope, slope)
		ended, err := d.slopeChanges.Get(stor.UintKey(boostEnd))
		if err != nil {
			return err
		}
		if err := d.slopeChanges.Set(stor.UintKey(boostEnd), ended.Add(ended, slope)); err != nil {
			return err
		}
	}
	expired, err := d.amountChanges.Get(stor.UintKey(pos.unlockEpoch))
	if err != nil {
		return err
	}
	if err := d.amountChanges.Set(stor.UintKey(pos.unlockEpoch), expired.Add(expired, pos.amount)); err != nil {
		return err
	}
	if err := d.totals.Set(stor.UintKey(current), entry); err != nil {
		return err
	}

	if err := d.storePosition(caller, pos); err != nil {
		return err
	}
	if err := d.claimCursor.Set(caller, current); err != nil {
		return err
	}
	metricMigrations().Add(1)
	logger.Debug("migrated position", "account", caller, "amount", pos.amount, "unlockEpoch", pos.unlockEpoch)
	return nil
}

// pullRewards claims every finalized epoch the upstream still owes us and
// records it. Returns the next epoch an upstream claim would cover.
func (d *Distributor) pullRewards(now uint64) (uint64, error) {
	current, err := d.clock.Index(now)
	if err != nil {
		return 0, err
	}
	if d.upstream == nil {
		return 0, nil
	}
	self := d.context.Address()
	for {
		cursor, err := d.upstream.Cursor(self)
		if err != nil {
			return 0, err
		}
		if cursor >= current {
			return cursor, nil
		}
		epochIdx, _, amount, err := d.upstream.Claim(self, now)
		if err != nil {
			if errors.Is(err, distributor.ErrNotComponent) || errors.Is(err, distributor.ErrNotFinalized) {
				return cursor, nil
			}
			return 0, errors.Wrap(err, "failed to claim upstream")
		}
		if err := d.epochRewards.Set(stor.UintKey(epochIdx), amount); err != nil {
			return 0, err
		}
	}
}

// Claim walks the account's unclaimed epochs and pays out its share of each,
// streaming the most recent finished epoch linearly over the current one.
// The caller must be the account or one of its authorized claimers.
func (d *Distributor) Claim(caller, account drip.Address, now uint64) (*big.Int, error) {
	if err := d.auth.RequireClaimer(account, caller); err != nil {
		return nil, err
	}
	amount, err := d.settle(account, now)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := d.asset.Transfer(d.context.Address(), account, amount); err != nil {
		return nil, err
	}
	metricClaims().Add(1)
	return amount, nil
}

// settle computes and consumes everything the account can claim right now,
// advancing its cursor and partial-epoch bookkeeping.
func (d *Distributor) settle(account drip.Address, now uint64) (*big.Int, error) {
	pos, err := d.position(account)
	if err != nil {
		return nil, err
	}
	if pos.isZero() {
		return nil, ErrNoPosition
	}
	current, err := d.clock.Index(now)
	if err != nil {
		return nil, err
	}
	if _, err := d.advance(current); err != nil {
		return nil, err
	}
	available, err := d.pullRewards(now)
	if err != nil {
		return nil, err
	}

	cursor, err := d.claimCursor.Get(account)
	if err != nil {
		return nil, err
	}
	partial, err := d.claimedSoFar.Get(account)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for e := cursor; e < current && e < available; e++ {
		share, err := d.epochShare(pos, e)
		if err != nil {
			return nil, err
		}
		if e+1 < current {
			// fully streamed
			share.Sub(share, partial)
			total.Add(total, share)
			partial = new(big.Int)
			cursor = e + 1
			continue
		}
		// epoch e is still releasing over the current epoch
		elapsed := now - d.clock.Start(e+1)
		streamed := share.Mul(share, new(big.Int).SetUint64(elapsed))
		streamed.Div(streamed, new(big.Int).SetUint64(d.clock.Length()))
		total.Add(total, new(big.Int).Sub(streamed, partial))
		partial = streamed
	}
	if err := d.claimCursor.Set(account, cursor); err != nil {
		return nil, err
	}
	if err := d.claimedSoFar.Set(account, partial); err != nil {
		return nil, err
	}
	return total, nil
}

// epochShare is the account's cut of one epoch's reward.
func (d *Distributor) epochShare(pos *lockPosition, epochIdx uint64) (*big.Int, error) {
	weight := ComputeWeight(pos.amount, pos.boostEpochs, pos.unlockEpoch, epochIdx)
	if weight.Sign() == 0 {
		return weight, nil
	}
	reward, err := d.epochRewards.Get(stor.UintKey(epochIdx))
	if err != nil {
		return nil, err
	}
	totalWeight, _, err := d.TotalWeights(epochIdx)
	if err != nil {
		return nil, err
	}
	share := new(big.Int).Mul(reward, weight)
	return share.Div(share, totalWeight), nil
}

// Report removes an account whose live lock no longer covers its migrated
// snapshot. Its weight leaves the totals from the current epoch on, and its
// unclaimed accrual is paid out minus a bounty: the bounty to the reporter,
// the remainder to the governed report recipient.
func (d *Distributor) Report(caller, account drip.Address, now uint64) (*big.Int, error) {
	pos, err := d.position(account)
	if err != nil {
		return nil, err
	}
	if pos.isZero() {
		return nil, ErrNoPosition
	}
	live, err := d.snapshot.Locked(account)
	if err != nil {
		return nil, err
	}
	if !live.IsZero() {
		return nil, ErrStillValid
	}
	current, err := d.clock.Index(now)
	if err != nil {
		return nil, err
	}
	amount, err := d.settle(account, now)
	if err != nil {
		return nil, err
	}

	entry, err := d.advance(current)
	if err != nil {
		return nil, err
	}
	weight := ComputeWeight(pos.amount, pos.boostEpochs, pos.unlockEpoch, current)
	if weight.Sign() > 0 {
		entry.Weight.Sub(entry.Weight, weight)
		boostEnd := min(pos.boostEpochs, pos.unlockEpoch)
		if boostEnd > current {
			slope := new(big.Int).Div(pos.amount, new(big.Int).SetUint64(drip.MaxLockEpochs))
			entry.Slope.Sub(entry.Slope, slope)
			ended, err := d.slopeChanges.Get(stor.UintKey(boostEnd))
			if err != nil {
				return nil, err
			}
			if err := d.slopeChanges.Set(stor.UintKey(boostEnd), ended.Sub(ended, slope)); err != nil {
				return nil, err
			}
		}
		expired, err := d.amountChanges.Get(stor.UintKey(pos.unlockEpoch))
		if err != nil {
			return nil, err
		}
		if err := d.amountChanges.Set(stor.UintKey(pos.unlockEpoch), expired.Sub(expired, pos.amount)); err != nil {
			return nil, err
		}
		if err := d.totals.Set(stor.UintKey(current), entry); err != nil {
			return nil, err
		}
	}

	if err := d.storePosition(account, nil); err != nil {
		return nil, err
	}
	if err := d.claimCursor.Clear(account); err != nil {
		return nil, err
	}
	if err := d.claimedSoFar.Clear(account); err != nil {
		return nil, err
	}

	if amount.Sign() > 0 {
		bountyRate, err := d.params.Get(drip.KeyReportBounty)
		if err != nil {
			return nil, err
		}
		recipient, err := d.params.GetAddress(drip.KeyReportRecipient)
		if err != nil {
			return nil, err
		}
		bounty := new(big.Int).Mul(amount, bountyRate)
		bounty.Div(bounty, new(big.Int).SetUint64(drip.BasisPoints))
		self := d.context.Address()
		if bounty.Sign() > 0 {
			if err := d.asset.Transfer(self, caller, bounty); err != nil {
				return nil, err
			}
		}
		remainder := new(big.Int).Sub(amount, bounty)
		if remainder.Sign() > 0 {
			if err := d.asset.Transfer(self, recipient, remainder); err != nil {
				return nil, err
			}
		}
	}
	metricReports().Add(1)
	logger.Info("reported invalidated position", "account", account, "reporter", caller, "forfeited", amount)
	return amount, nil
}
