// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package locker

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/distributor"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/metrics"
	"github.com/drip-labs/drip/packing"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
	"github.com/drip-labs/drip/stream"
	"github.com/drip-labs/drip/token"
)

var (
	metricSyncs  = metrics.LazyLoadCounter("locker_syncs_total")
	metricClaims = metrics.LazyLoadCounter("locker_claims_total")
)

var (
	// ErrNotSynced is returned when a bucket's epoch backlog exceeds the
	// per-call iteration bound. Progress is kept, callers retry.
	ErrNotSynced = errors.New("not fully synchronized")

	// ErrBadBucket is returned for a bucket index out of range.
	ErrBadBucket = errors.New("no such bucket")

	// ErrBadWeights is returned when the unboosted weight list does not
	// cover every bucket.
	ErrBadWeights = errors.New("bad weight list")

	// ErrStakeUnderflow is returned when a stake decrease exceeds the
	// stored amount. The ledger is in an invalid state if this happens.
	ErrStakeUnderflow = errors.New("stake underflow")
)

// rewardStream is one bucket's streaming state: seconds since genesis of the
// last sync, the next upstream epoch record to consume, and the reward
// currently releasing.
type rewardStream struct {
	Offset uint64
	Cursor uint64
	Reward *big.Int
}

// Distributor splits the boosted upstream rewards over a fixed set of
// depositor buckets by governed unboosted weights. The reported upstream
// weight starts doubled and decays to the plain sum over the boost length.
// Within a bucket each epoch's slice streams over the following epoch into a
// reward-per-stake integral; pending balances are shared across buckets.
type Distributor struct {
	context  *stor.Context
	clock    *epoch.Clock
	asset    *token.Token
	auth     *auth.Auth
	upstream stream.Upstream

	bucketCount uint64
	boostLength uint64

	unboosted    *stor.Mapping[stor.UintKey, *big.Int]
	unboostedSum *stor.Uint256

	packed         *stor.Mapping[stor.CompositeKey, drip.Bytes32]
	previousPacked *stor.Mapping[stor.CompositeKey, drip.Bytes32]
	totalPacked    *stor.Mapping[stor.UintKey, drip.Bytes32]
	previousTotal  *stor.Mapping[stor.UintKey, drip.Bytes32]

	streams      *stor.Mapping[stor.UintKey, *rewardStream]
	epochRewards *stor.Mapping[stor.UintKey, *big.Int]

	integrals       *stor.Mapping[stor.UintKey, *big.Int]
	accountIntegral *stor.Mapping[stor.CompositeKey, *big.Int]
	pending         *stor.Mapping[drip.Address, *big.Int]
}

// New creates a locker distributor with the given number of buckets. The
// upstream may be nil during wiring and set later via SetUpstream.
func New(addr drip.Address, st *state.State, clock *epoch.Clock, asset *token.Token, au *auth.Auth, upstream stream.Upstream, bucketCount, boostLength uint64) *Distributor {
	context := stor.NewContext(addr, st)
	return &Distributor{
		context:         context,
		clock:           clock,
		asset:           asset,
		auth:            au,
		upstream:        upstream,
		bucketCount:     bucketCount,
		boostLength:     boostLength,
		unboosted:       stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("unboosted-weights")),
		unboostedSum:    stor.NewUint256(context, stor.Slot("unboosted-weight-sum")),
		packed:          stor.NewMapping[stor.CompositeKey, drip.Bytes32](context, stor.Slot("packed-stakes")),
		previousPacked:  stor.NewMapping[stor.CompositeKey, drip.Bytes32](context, stor.Slot("previous-packed-stakes")),
		totalPacked:     stor.NewMapping[stor.UintKey, drip.Bytes32](context, stor.Slot("packed-total-stakes")),
		previousTotal:   stor.NewMapping[stor.UintKey, drip.Bytes32](context, stor.Slot("previous-packed-total-stakes")),
		streams:         stor.NewMapping[stor.UintKey, *rewardStream](context, stor.Slot("reward-streams")),
		epochRewards:    stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("epoch-rewards")),
		integrals:       stor.NewMapping[stor.UintKey, *big.Int](context, stor.Slot("reward-integrals")),
		accountIntegral: stor.NewMapping[stor.CompositeKey, *big.Int](context, stor.Slot("account-integrals")),
		pending:         stor.NewMapping[drip.Address, *big.Int](context, stor.Slot("pending-rewards")),
	}
}

// SetUpstream binds the upstream aggregator.
func (d *Distributor) SetUpstream(upstream stream.Upstream) {
	d.upstream = upstream
}

// Address returns the distributor's ledger address, its component identity
// upstream.
func (d *Distributor) Address() drip.Address {
	return d.context.Address()
}

// BucketCount returns the number of depositor buckets.
func (d *Distributor) BucketCount() uint64 {
	return d.bucketCount
}

// BucketHooks returns the depositor hooks bound to one bucket.
func (d *Distributor) BucketHooks(bucket uint64) Hooks {
	return &bucketHooks{d: d, bucket: bucket}
}

type bucketHooks struct {
	d      *Distributor
	bucket uint64
}

func (h *bucketHooks) Stake(caller, receiver drip.Address, amount *big.Int, now uint64) error {
	return h.d.Stake(h.bucket, receiver, amount, now)
}

func (h *bucketHooks) Unstake(owner drip.Address, amount *big.Int, now uint64) error {
	return h.d.Unstake(h.bucket, owner, amount, now)
}

func (h *bucketHooks) Transfer(caller, from, to drip.Address, amount *big.Int, now uint64) error {
	return h.d.Transfer(h.bucket, from, to, amount, now)
}

// SetUnboostedWeights sets one weight per bucket. Only management may call.
func (d *Distributor) SetUnboostedWeights(caller drip.Address, weights []*big.Int) error {
	if err := d.auth.Require(caller); err != nil {
		return err
	}
	if uint64(len(weights)) != d.bucketCount {
		return ErrBadWeights
	}
	sum := new(big.Int)
	for i, w := range weights {
		if err := d.unboosted.Set(stor.UintKey(i), w); err != nil {
			return err
		}
		sum.Add(sum, w)
	}
	d.unboostedSum.Set(sum)
	return nil
}

// UnboostedWeight returns one bucket's governed weight.
func (d *Distributor) UnboostedWeight(bucket uint64) (*big.Int, error) {
	if bucket >= d.bucketCount {
		return nil, ErrBadBucket
	}
	return d.unboosted.Get(stor.UintKey(bucket))
}

// SyncTotalWeight reports the epoch's boosted weight to the upstream
// aggregator: twice the unboosted sum at genesis, decaying linearly to the
// plain sum over the boost length.
func (d *Distributor) SyncTotalWeight(epochIdx uint64) (*big.Int, error) {
	sum, err := d.unboostedSum.Get()
	if err != nil {
		return nil, err
	}
	boosted := new(big.Int).SetUint64(2*d.boostLength - min(epochIdx, d.boostLength))
	boosted.Mul(boosted, sum)
	return boosted.Div(boosted, new(big.Int).SetUint64(d.boostLength)), nil
}

// Staked returns an account's stored (timestamp, stake) pair for a bucket.
func (d *Distributor) Staked(bucket uint64, account drip.Address) (uint64, *big.Int, error) {
	return d.unpack(d.packed, bucketKey(bucket, account))
}

// PreviousStaked returns the pair as of the epoch before its last update.
func (d *Distributor) PreviousStaked(bucket uint64, account drip.Address) (uint64, *big.Int, error) {
	return d.unpack(d.previousPacked, bucketKey(bucket, account))
}

// TotalStaked returns a bucket's (timestamp, stake) total. The total always
// carries the dust floor so integral folds never divide by zero.
func (d *Distributor) TotalStaked(bucket uint64) (uint64, *big.Int, error) {
	ts, amount, err := d.unpackUint(d.totalPacked, stor.UintKey(bucket))
	if err != nil {
		return 0, nil, err
	}
	if amount.Sign() == 0 {
		amount.Set(drip.DustWeight)
	}
	return ts, amount, nil
}

// PreviousTotalStaked returns the bucket total as of the epoch before its
// last change.
func (d *Distributor) PreviousTotalStaked(bucket uint64) (uint64, *big.Int, error) {
	ts, amount, err := d.unpackUint(d.previousTotal, stor.UintKey(bucket))
	if err != nil {
		return 0, nil, err
	}
	if amount.Sign() == 0 {
		amount.Set(drip.DustWeight)
	}
	return ts, amount, nil
}

func bucketKey(bucket uint64, account drip.Address) stor.CompositeKey {
	return stor.CompositeKey{A: stor.UintKey(bucket), B: account}
}

func (d *Distributor) unpack(m *stor.Mapping[stor.CompositeKey, drip.Bytes32], key stor.CompositeKey) (uint64, *big.Int, error) {
	raw, err := m.Get(key)
	if err != nil {
		return 0, nil, err
	}
	return splitPacked(raw)
}

func (d *Distributor) unpackUint(m *stor.Mapping[stor.UintKey, drip.Bytes32], key stor.UintKey) (uint64, *big.Int, error) {
	raw, err := m.Get(key)
	if err != nil {
		return 0, nil, err
	}
	return splitPacked(raw)
}

func splitPacked(raw drip.Bytes32) (uint64, *big.Int, error) {
	word := new(uint256.Int).SetBytes(raw.Bytes())
	ts := packing.TimeBalance.Field(word, 0)
	amount := packing.TimeBalance.Field(word, 1)
	return ts.Uint64(), amount.ToBig(), nil
}

func packWord(ts uint64, amount *big.Int) (drip.Bytes32, error) {
	a, overflow := uint256.FromBig(amount)
	if overflow {
		return drip.Bytes32{}, errors.New("stake exceeds storage width")
	}
	word, err := packing.TimeBalance.Pack(uint256.NewInt(ts), a)
	if err != nil {
		return drip.Bytes32{}, errors.Wrap(err, "failed to pack stake")
	}
	return drip.BytesToBytes32(word.Bytes()), nil
}

// CurrentRewards returns a bucket's stream state: seconds since genesis of
// the last sync and the reward currently streaming.
func (d *Distributor) CurrentRewards(bucket uint64) (uint64, *big.Int, error) {
	s, err := d.streams.Get(stor.UintKey(bucket))
	if err != nil {
		return 0, nil, err
	}
	if s.Reward == nil {
		return s.Offset, new(big.Int), nil
	}
	return s.Offset, s.Reward, nil
}

// RewardIntegral returns a bucket's cumulative reward-per-stake integral.
func (d *Distributor) RewardIntegral(bucket uint64) (*big.Int, error) {
	return d.integrals.Get(stor.UintKey(bucket))
}

// AccountRewardIntegral returns an account's integral snapshot for a bucket.
func (d *Distributor) AccountRewardIntegral(bucket uint64, account drip.Address) (*big.Int, error) {
	return d.accountIntegral.Get(bucketKey(bucket, account))
}

// PendingRewards returns the account's accrued, unclaimed balance across all
// buckets as of its last sync.
func (d *Distributor) PendingRewards(account drip.Address) (*big.Int, error) {
	return d.pending.Get(account)
}

// EpochRewards returns the upstream reward recorded for an epoch, before the
// per-bucket split.
func (d *Distributor) EpochRewards(epochIdx uint64) (*big.Int, error) {
	return d.epochRewards.Get(stor.UintKey(epochIdx))
}

// SyncRewards advances a bucket's stream and folds the integral gap into the
// account's pending balance.
func (d *Distributor) SyncRewards(bucket uint64, account drip.Address, now uint64) error {
	if bucket >= d.bucketCount {
		return ErrBadBucket
	}
	if err := d.syncBucket(bucket, now); err != nil {
		return err
	}
	return d.settleAccount(bucket, account)
}

// syncBucket walks a bucket's stream from its last offset to now, epoch
// window by epoch window. An epoch's slice unlocks linearly over the next
// epoch against the bucket's total stake.
func (d *Distributor) syncBucket(bucket uint64, now uint64) error {
	target, err := d.clock.SinceGenesis(now)
	if err != nil {
		return err
	}
	s, err := d.streams.Get(stor.UintKey(bucket))
	if err != nil {
		return err
	}
	if s.Reward == nil {
		s.Reward = new(big.Int)
	}
	if s.Offset >= target {
		return nil
	}

	length := d.clock.Length()
	var iterations uint64
	for s.Offset < target {
		if iterations == drip.MaxSyncIterations {
			if err := d.streams.Set(stor.UintKey(bucket), s); err != nil {
				return err
			}
			return ErrNotSynced
		}
		iterations++

		epochIdx := s.Offset / length
		epochStart := epochIdx * length
		epochEnd := epochStart + length
		step := min(target, epochEnd)

		if s.Reward.Sign() > 0 {
			unlocked := unlockedAt(s.Reward, step-epochStart, length)
			unlocked.Sub(unlocked, unlockedAt(s.Reward, s.Offset-epochStart, length))
			if unlocked.Sign() > 0 {
				_, total, err := d.TotalStaked(bucket)
				if err != nil {
					return err
				}
				integral, err := d.integrals.Get(stor.UintKey(bucket))
				if err != nil {
					return err
				}
				fold := unlocked.Mul(unlocked, drip.Precision)
				fold.Div(fold, total)
				if err := d.integrals.Set(stor.UintKey(bucket), integral.Add(integral, fold)); err != nil {
					return err
				}
			}
		}
		s.Offset = step

		if s.Offset == epochEnd {
			reward, err := d.consumeRewards(bucket, s, epochIdx, now)
			if err != nil {
				return err
			}
			s.Reward = reward
		}
		metricSyncs().Add(1)
	}
	return d.streams.Set(stor.UintKey(bucket), s)
}

func unlockedAt(reward *big.Int, elapsed, length uint64) *big.Int {
	u := new(big.Int).Mul(reward, new(big.Int).SetUint64(elapsed))
	return u.Div(u, new(big.Int).SetUint64(length))
}

// consumeRewards claims outstanding upstream epochs and returns the bucket's
// slice of every record up to epochIdx it has not consumed yet. Epochs the
// upstream has not finalized stay queued and stream late rather than never.
func (d *Distributor) consumeRewards(bucket uint64, s *rewardStream, epochIdx, now uint64) (*big.Int, error) {
	total := new(big.Int)
	if d.upstream == nil {
		return total, nil
	}
	available, err := d.claimThrough(epochIdx, now)
	if err != nil {
		return nil, err
	}
	weight, err := d.unboosted.Get(stor.UintKey(bucket))
	if err != nil {
		return nil, err
	}
	sum, err := d.unboostedSum.Get()
	if err != nil {
		return nil, err
	}
	for ; s.Cursor <= epochIdx && s.Cursor < available; s.Cursor++ {
		reward, err := d.epochRewards.Get(stor.UintKey(s.Cursor))
		if err != nil {
			return nil, err
		}
		if reward.Sign() == 0 || sum.Sign() == 0 {
			continue
		}
		slice := new(big.Int).Mul(reward, weight)
		total.Add(total, slice.Div(slice, sum))
	}
	return total, nil
}

// claimThrough pulls every upstream claim with a cursor at or below epochIdx
// into the shared epoch record. Returns the next unclaimed upstream epoch.
func (d *Distributor) claimThrough(epochIdx, now uint64) (uint64, error) {
	self := d.context.Address()
	for {
		cursor, err := d.upstream.Cursor(self)
		if err != nil {
			return 0, err
		}
		if cursor > epochIdx {
			return cursor, nil
		}
		e, _, amount, err := d.upstream.Claim(self, now)
		if err != nil {
			if errors.Is(err, distributor.ErrNotComponent) || errors.Is(err, distributor.ErrNotFinalized) {
				return cursor, nil
			}
			return 0, errors.Wrap(err, "failed to claim upstream")
		}
		if err := d.epochRewards.Set(stor.UintKey(e), amount); err != nil {
			return 0, err
		}
	}
}

func (d *Distributor) settleAccount(bucket uint64, account drip.Address) error {
	integral, err := d.integrals.Get(stor.UintKey(bucket))
	if err != nil {
		return err
	}
	key := bucketKey(bucket, account)
	snapshot, err := d.accountIntegral.Get(key)
	if err != nil {
		return err
	}
	if integral.Cmp(snapshot) > 0 {
		_, staked, err := d.Staked(bucket, account)
		if err != nil {
			return err
		}
		if staked.Sign() > 0 {
			delta := new(big.Int).Sub(integral, snapshot)
			delta.Mul(delta, staked)
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
	return d.accountIntegral.Set(key, integral)
}

// Stake adds staked units to an account's bucket position.
func (d *Distributor) Stake(bucket uint64, receiver drip.Address, amount *big.Int, now uint64) error {
	return d.shiftStake(bucket, receiver, amount, false, now)
}

// Unstake removes staked units from an account's bucket position.
func (d *Distributor) Unstake(bucket uint64, owner drip.Address, amount *big.Int, now uint64) error {
	return d.shiftStake(bucket, owner, amount, true, now)
}

// Transfer moves staked units between accounts within a bucket. The total is
// unchanged.
func (d *Distributor) Transfer(bucket uint64, from, to drip.Address, amount *big.Int, now uint64) error {
	if bucket >= d.bucketCount {
		return ErrBadBucket
	}
	if err := d.shiftAccount(bucket, from, amount, true, now); err != nil {
		return err
	}
	return d.shiftAccount(bucket, to, amount, false, now)
}

// shiftStake applies a stake change to the account and the bucket total.
func (d *Distributor) shiftStake(bucket uint64, account drip.Address, amount *big.Int, dec bool, now uint64) error {
	if bucket >= d.bucketCount {
		return ErrBadBucket
	}
	if err := d.shiftAccount(bucket, account, amount, dec, now); err != nil {
		return err
	}
	current, err := d.clock.Index(now)
	if err != nil {
		return err
	}

	ts, total, err := d.TotalStaked(bucket)
	if err != nil {
		return err
	}
	lastEpoch, err := d.clock.Index(ts)
	if err == nil && lastEpoch < current {
		raw, err := d.totalPacked.Get(stor.UintKey(bucket))
		if err != nil {
			return err
		}
		if raw.IsZero() {
			// dust floor only, never explicitly stored
			raw, err = packWord(ts, total)
			if err != nil {
				return err
			}
		}
		if err := d.previousTotal.Set(stor.UintKey(bucket), raw); err != nil {
			return err
		}
	}
	if dec {
		if total.Cmp(amount) < 0 {
			return ErrStakeUnderflow
		}
		total.Sub(total, amount)
	} else {
		total.Add(total, amount)
	}
	word, err := packWord(now, total)
	if err != nil {
		return err
	}
	return d.totalPacked.Set(stor.UintKey(bucket), word)
}

// shiftAccount settles the account at its old stake, then applies the change
// and rolls the previous-epoch snapshot when crossing into a new epoch.
func (d *Distributor) shiftAccount(bucket uint64, account drip.Address, amount *big.Int, dec bool, now uint64) error {
	if err := d.SyncRewards(bucket, account, now); err != nil {
		return err
	}
	current, err := d.clock.Index(now)
	if err != nil {
		return err
	}

	key := bucketKey(bucket, account)
	ts, staked, err := d.unpack(d.packed, key)
	if err != nil {
		return err
	}
	if staked.Sign() > 0 || ts != 0 {
		lastEpoch, err := d.clock.Index(ts)
		if err == nil && lastEpoch < current {
			raw, err := d.packed.Get(key)
			if err != nil {
				return err
			}
			if err := d.previousPacked.Set(key, raw); err != nil {
				return err
			}
		}
	}
	if dec {
		if staked.Cmp(amount) < 0 {
			return ErrStakeUnderflow
		}
		staked.Sub(staked, amount)
	} else {
		staked.Add(staked, amount)
	}
	word, err := packWord(now, staked)
	if err != nil {
		return err
	}
	return d.packed.Set(key, word)
}

// Claim settles the account across every bucket and pays its pending balance
// to the recipient. The caller must be the account or one of its authorized
// claimers.
func (d *Distributor) Claim(caller, account, recipient drip.Address, now uint64) (*big.Int, error) {
	if err := d.auth.RequireClaimer(account, caller); err != nil {
		return nil, err
	}
	for b := uint64(0); b < d.bucketCount; b++ {
		if err := d.SyncRewards(b, account, now); err != nil {
			return nil, err
		}
	}
	amount, err := d.pending.Get(account)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := d.pending.Clear(account); err != nil {
		return nil, err
	}
	if err := d.asset.Transfer(d.context.Address(), recipient, amount); err != nil {
		return nil, err
	}
	metricClaims().Add(1)
	logger.Debug("claimed", "account", account, "recipient", recipient, "amount", amount)
	return amount, nil
}
