// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package ledger wires the full distribution system over one state and puts
// a single-writer transaction boundary around it: every mutating operation
// runs under the mutex against a checkpoint and is reverted wholesale on
// error, so no partial effects ever reach the store.
package ledger

import (
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/claimer"
	"github.com/drip-labs/drip/distributor"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/epoch"
	"github.com/drip-labs/drip/kv"
	"github.com/drip-labs/drip/log"
	"github.com/drip-labs/drip/params"
	"github.com/drip-labs/drip/sources/escrow"
	"github.com/drip-labs/drip/sources/locker"
	"github.com/drip-labs/drip/sources/staking"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stream"
	"github.com/drip-labs/drip/token"
)

var logger = log.WithContext("pkg", "ledger")

// Well-known ledger addresses of the wired modules.
var (
	AddrReward       = drip.BytesToAddress([]byte("drip.reward"))
	AddrParams       = drip.BytesToAddress([]byte("drip.params"))
	AddrAggregator   = drip.BytesToAddress([]byte("drip.aggregator"))
	AddrVault        = drip.BytesToAddress([]byte("drip.staking.vault"))
	AddrWeights      = drip.BytesToAddress([]byte("drip.staking.weights"))
	AddrStakingDist  = drip.BytesToAddress([]byte("drip.staking.distributor"))
	AddrSnapshot     = drip.BytesToAddress([]byte("drip.escrow.snapshot"))
	AddrEscrowOracle = drip.BytesToAddress([]byte("drip.escrow.oracle"))
	AddrEscrowDist   = drip.BytesToAddress([]byte("drip.escrow.distributor"))
	AddrLockerDist   = drip.BytesToAddress([]byte("drip.locker.distributor"))
	AddrClaimer      = drip.BytesToAddress([]byte("drip.claimer"))
)

// DepositorAddress returns the well-known address of one locker bucket's
// depositor.
func DepositorAddress(bucket uint64) drip.Address {
	return drip.BytesToAddress(append([]byte("drip.locker.depositor"), byte(bucket)))
}

// Config shapes a fresh ledger. Zero scale lists default to a single 1:1
// bucket.
type Config struct {
	Genesis      uint64
	EpochLength  uint64
	BoostLength  uint64
	Management   drip.Address
	LockerScales []uint64
}

func (c *Config) sanitize() error {
	if c.EpochLength == 0 {
		c.EpochLength = drip.EpochLength
	}
	if c.BoostLength == 0 {
		c.BoostLength = drip.BoostLength
	}
	if len(c.LockerScales) == 0 {
		c.LockerScales = []uint64{1}
	}
	for _, s := range c.LockerScales {
		if s == 0 {
			return errors.New("zero locker scale")
		}
	}
	if c.Management.IsZero() {
		return errors.New("management address not set")
	}
	return nil
}

// Ledger is the assembled system.
type Ledger struct {
	mu    sync.Mutex
	state *state.State
	clock *epoch.Clock

	reward     *token.Token
	params     *params.Params
	auth       *auth.Auth
	agg        *distributor.Aggregator
	vault      *staking.Vault
	weights    *staking.Weights
	staking    *stream.Distributor
	snapshot   *escrow.Snapshot
	oracle     *EscrowOracle
	escrow     *escrow.Distributor
	locker     *locker.Distributor
	depositors []*locker.Depositor
	claimer    *claimer.Claimer
}

// New assembles the system over the given store, bootstrapping management,
// governed parameters and the component registry on first use.
func New(store kv.GetPutter, cfg Config) (*Ledger, error) {
	if err := cfg.sanitize(); err != nil {
		return nil, err
	}
	st := state.New(store)
	clock, err := epoch.NewClock(cfg.Genesis, cfg.EpochLength)
	if err != nil {
		return nil, err
	}

	l := &Ledger{state: st, clock: clock}
	l.reward = token.New(AddrReward, st)
	l.params = params.New(AddrParams, st)
	l.auth = auth.New(AddrAggregator, st)
	l.agg = distributor.New(AddrAggregator, st, clock, l.reward, l.auth)
	l.staking = stream.New(AddrStakingDist, st, clock, l.reward, l.auth, l.params, l.agg)
	l.vault = staking.New(AddrVault, st, l.reward, l.auth)
	l.weights = staking.NewWeights(AddrWeights, st, l.auth, l.staking)
	l.oracle = NewEscrowOracle(AddrEscrowOracle, st, l.auth)
	l.snapshot = escrow.NewSnapshot(AddrSnapshot, st, l.auth, l.oracle)
	l.escrow = escrow.New(AddrEscrowDist, st, clock, l.reward, l.auth, l.params, l.snapshot, l.agg)
	l.locker = locker.New(AddrLockerDist, st, clock, l.reward, l.auth, l.agg, uint64(len(cfg.LockerScales)), cfg.BoostLength)
	for i, scale := range cfg.LockerScales {
		dep := locker.NewDepositor(DepositorAddress(uint64(i)), st, l.reward, scale, l.auth)
		l.depositors = append(l.depositors, dep)
	}
	l.claimer = claimer.New(AddrClaimer, st, l.auth)

	l.agg.Bind(AddrStakingDist, l.staking)
	l.agg.Bind(AddrEscrowDist, l.escrow)
	l.agg.Bind(AddrLockerDist, l.locker)
	l.claimer.Bind(AddrStakingDist, l.staking)
	l.claimer.Bind(AddrLockerDist, l.locker)

	if err := l.bootstrap(cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// bootstrap initializes governed state once, committing only on success.
func (l *Ledger) bootstrap(cfg Config) error {
	management, err := l.auth.Management()
	if err != nil {
		return err
	}
	fresh := management.IsZero()
	if fresh {
		management = cfg.Management
		rev := l.state.NewCheckpoint()
		if err := l.auth.Init(management); err != nil {
			l.state.RevertTo(rev)
			return err
		}
		l.params.Set(drip.KeyExpirationEpochs, drip.InitialExpirationEpochs)
		l.params.Set(drip.KeyReclaimBounty, drip.InitialReclaimBounty)
		l.params.Set(drip.KeyReportBounty, drip.InitialReportBounty)
		l.params.SetAddress(drip.KeyReclaimRecipient, management)
		l.params.SetAddress(drip.KeyReportRecipient, management)
		if err := l.state.Commit(); err != nil {
			return err
		}
		logger.Info("bootstrapped fresh ledger", "management", management, "genesis", cfg.Genesis)
	}
	// hook bindings are in-memory and rebuilt on every start
	if err := l.vault.SetHooks(management, l.weights); err != nil {
		return err
	}
	for i, dep := range l.depositors {
		if err := dep.SetHooks(management, l.locker.BucketHooks(uint64(i))); err != nil {
			return err
		}
	}
	return nil
}

// run executes a mutation against a checkpoint, reverting it on error.
func (l *Ledger) run(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rev := l.state.NewCheckpoint()
	if err := fn(); err != nil {
		l.state.RevertTo(rev)
		return err
	}
	return l.state.Commit()
}

// runValue is run for operations returning a value.
func runValue[T any](l *Ledger, fn func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rev := l.state.NewCheckpoint()
	value, err := fn()
	if err != nil {
		l.state.RevertTo(rev)
		var zero T
		return zero, err
	}
	return value, l.state.Commit()
}

// view executes a read under the lock, dropping any incidental journal.
func view[T any](l *Ledger, fn func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rev := l.state.NewCheckpoint()
	value, err := fn()
	l.state.RevertTo(rev)
	return value, err
}

// Clock returns the epoch clock.
func (l *Ledger) Clock() *epoch.Clock {
	return l.clock
}

// Reward returns the reward asset ledger. Mutations must go through the
// ledger operations.
func (l *Ledger) Reward() *token.Token {
	return l.reward
}

// Snapshot returns the escrow snapshot view.
func (l *Ledger) Snapshot() *escrow.Snapshot {
	return l.snapshot
}

// Depositors returns the locker bucket depositors.
func (l *Ledger) Depositors() []*locker.Depositor {
	return l.depositors
}

// Deposit adds reward asset to an epoch's pot.
func (l *Ledger) Deposit(caller drip.Address, epochIdx uint64, amount *big.Int, now uint64) error {
	return l.run(func() error { return l.agg.Deposit(caller, epochIdx, amount, now) })
}

// Sync catches the aggregator up. Returns true once fully synced.
func (l *Ledger) Sync(now uint64) (bool, error) {
	return runValue(l, func() (bool, error) { return l.agg.Sync(now) })
}

// Mint issues reward asset. Only management may call.
func (l *Ledger) Mint(caller, account drip.Address, amount *big.Int) error {
	return l.run(func() error {
		if err := l.auth.Require(caller); err != nil {
			return err
		}
		return l.reward.Mint(account, amount)
	})
}

// Approve sets a reward asset allowance for the caller.
func (l *Ledger) Approve(caller, spender drip.Address, amount *big.Int) error {
	return l.run(func() error { return l.reward.Approve(caller, spender, amount) })
}

// TransferReward moves reward asset between accounts.
func (l *Ledger) TransferReward(caller, to drip.Address, amount *big.Int) error {
	return l.run(func() error { return l.reward.Transfer(caller, to, amount) })
}

// AddComponent registers a weight source with the aggregator.
func (l *Ledger) AddComponent(caller, component drip.Address, scaleNum, scaleDen uint64, prev drip.Address, now uint64) error {
	return l.run(func() error {
		return l.agg.AddComponent(caller, component, scaleNum, scaleDen, prev, now)
	})
}

// RemoveComponent unlinks a weight source.
func (l *Ledger) RemoveComponent(caller, component, prev drip.Address) error {
	return l.run(func() error { return l.agg.RemoveComponent(caller, component, prev) })
}

// Stake deposits reward asset into the staking vault for receiver.
func (l *Ledger) Stake(caller, receiver drip.Address, amount *big.Int, now uint64) error {
	return l.run(func() error { return l.vault.Deposit(caller, receiver, amount, now) })
}

// Unstake starts a withdrawal stream from the staking vault.
func (l *Ledger) Unstake(caller drip.Address, amount *big.Int, now uint64) error {
	return l.run(func() error { return l.vault.Unstake(caller, amount, now) })
}

// Withdraw pays released underlying out of the caller's vault stream.
func (l *Ledger) Withdraw(caller drip.Address, amount *big.Int, receiver, owner drip.Address, now uint64) error {
	return l.run(func() error { return l.vault.Withdraw(caller, amount, receiver, owner, now) })
}

// ClaimStaking pays the account's pending staking rewards to recipient.
func (l *Ledger) ClaimStaking(caller, account, recipient drip.Address, now uint64) (*big.Int, error) {
	return runValue(l, func() (*big.Int, error) { return l.staking.Claim(caller, account, recipient, now) })
}

// Reclaim sweeps an account's expired staking reward slices.
func (l *Ledger) Reclaim(caller, account drip.Address, now uint64) (*big.Int, error) {
	return runValue(l, func() (*big.Int, error) { return l.staking.Reclaim(caller, account, now) })
}

// SetEscrowLock feeds the escrow oracle. Only management may call.
func (l *Ledger) SetEscrowLock(caller, account drip.Address, amount *big.Int, end uint64) error {
	return l.run(func() error { return l.oracle.SetLocked(caller, account, amount, end) })
}

// SetSnapshot records an escrow position snapshot. Only management may call.
func (l *Ledger) SetSnapshot(caller, account drip.Address, amount *big.Int, boostEpochs, unlockTime uint64) error {
	return l.run(func() error { return l.snapshot.Set(caller, account, amount, boostEpochs, unlockTime) })
}

// Migrate folds the caller's snapshotted escrow position into the escrow
// distributor.
func (l *Ledger) Migrate(caller drip.Address, now uint64) error {
	return l.run(func() error { return l.escrow.Migrate(caller, now) })
}

// ClaimEscrow pays an escrow account everything claimable right now.
func (l *Ledger) ClaimEscrow(caller, account drip.Address, now uint64) (*big.Int, error) {
	return runValue(l, func() (*big.Int, error) { return l.escrow.Claim(caller, account, now) })
}

// Report removes an escrow position whose live lock no longer covers it.
func (l *Ledger) Report(caller, account drip.Address, now uint64) (*big.Int, error) {
	return runValue(l, func() (*big.Int, error) { return l.escrow.Report(caller, account, now) })
}

// LockerDeposit converts underlying into a bucket's staked units.
func (l *Ledger) LockerDeposit(bucket uint64, caller, receiver drip.Address, amount *big.Int, now uint64) error {
	dep, err := l.depositor(bucket)
	if err != nil {
		return err
	}
	return l.run(func() error { return dep.Deposit(caller, receiver, amount, now) })
}

// LockerUnstake starts a bucket withdrawal stream.
func (l *Ledger) LockerUnstake(bucket uint64, caller drip.Address, units *big.Int, now uint64) error {
	dep, err := l.depositor(bucket)
	if err != nil {
		return err
	}
	return l.run(func() error { return dep.Unstake(caller, units, now) })
}

// LockerWithdraw pays released underlying out of a bucket stream.
func (l *Ledger) LockerWithdraw(bucket uint64, caller drip.Address, amount *big.Int, receiver, owner drip.Address, now uint64) error {
	dep, err := l.depositor(bucket)
	if err != nil {
		return err
	}
	return l.run(func() error { return dep.Withdraw(caller, amount, receiver, owner, now) })
}

func (l *Ledger) depositor(bucket uint64) (*locker.Depositor, error) {
	if bucket >= uint64(len(l.depositors)) {
		return nil, locker.ErrBadBucket
	}
	return l.depositors[bucket], nil
}

// Claim fans the caller's claim out over the registered claimer components.
func (l *Ledger) Claim(caller, recipient drip.Address, now uint64) (*big.Int, error) {
	return runValue(l, func() (*big.Int, error) { return l.claimer.Claim(caller, recipient, now) })
}

// AddClaimerComponent appends a component to the fan-in claimer.
func (l *Ledger) AddClaimerComponent(caller, component drip.Address) error {
	return l.run(func() error { return l.claimer.AddComponent(caller, component) })
}

// SetClaimer allows or revokes a claimer for the caller's rewards.
func (l *Ledger) SetClaimer(caller, claimerAddr drip.Address, allowed bool) error {
	return l.run(func() error { return l.auth.SetClaimer(caller, claimerAddr, allowed) })
}

// SetInstantWithdrawal toggles the vault instant-withdrawal allowlist.
func (l *Ledger) SetInstantWithdrawal(caller, account drip.Address, allowed bool) error {
	return l.run(func() error { return l.weights.SetInstantWithdrawal(caller, account, allowed) })
}

// SetUnboostedWeights sets the locker bucket shares.
func (l *Ledger) SetUnboostedWeights(caller drip.Address, weights []*big.Int) error {
	return l.run(func() error { return l.locker.SetUnboostedWeights(caller, weights) })
}

// ProposeManagement starts a management handover.
func (l *Ledger) ProposeManagement(caller, candidate drip.Address) error {
	return l.run(func() error { return l.auth.ProposeManagement(caller, candidate) })
}

// AcceptManagement completes a management handover.
func (l *Ledger) AcceptManagement(caller drip.Address) error {
	return l.run(func() error { return l.auth.AcceptManagement(caller) })
}

// CurrentEpoch returns the epoch index at now.
func (l *Ledger) CurrentEpoch(now uint64) (uint64, error) {
	return l.clock.Index(now)
}

// LastEpoch returns the next epoch the aggregator will finalize.
func (l *Ledger) LastEpoch() (uint64, error) {
	return view(l, func() (uint64, error) { return l.agg.LastEpoch() })
}

// EpochRewards returns the pot deposited for an epoch.
func (l *Ledger) EpochRewards(epochIdx uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.agg.EpochRewards(epochIdx) })
}

// EpochTotalWeight returns the finalized total weight of an epoch.
func (l *Ledger) EpochTotalWeight(epochIdx uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.agg.EpochTotalWeight(epochIdx) })
}

// EpochWeight returns a component's finalized scaled weight for an epoch.
func (l *Ledger) EpochWeight(component drip.Address, epochIdx uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.agg.EpochWeight(component, epochIdx) })
}

// NumComponents returns the registry size.
func (l *Ledger) NumComponents() (uint64, error) {
	return view(l, func() (uint64, error) { return l.agg.NumComponents() })
}

// Components returns a component's registry record.
func (l *Ledger) Components(addr drip.Address) (distributor.Component, error) {
	return view(l, func() (distributor.Component, error) { return l.agg.Components(addr) })
}

// BalanceOf returns an account's reward asset balance.
func (l *Ledger) BalanceOf(account drip.Address) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.reward.BalanceOf(account) })
}

// PendingStaking returns the account's staking rewards pending as of now.
func (l *Ledger) PendingStaking(account drip.Address, now uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) {
		if err := l.staking.SyncAccount(account, now); err != nil {
			return nil, err
		}
		return l.staking.PendingRewards(account)
	})
}

// PendingLocker returns the account's locker rewards pending as of now.
func (l *Ledger) PendingLocker(account drip.Address, now uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) {
		for b := uint64(0); b < l.locker.BucketCount(); b++ {
			if err := l.locker.SyncRewards(b, account, now); err != nil {
				return nil, err
			}
		}
		return l.locker.PendingRewards(account)
	})
}

// StakedBalance returns the account's vault share balance.
func (l *Ledger) StakedBalance(account drip.Address) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.vault.Shares().BalanceOf(account) })
}

// MaxWithdraw returns how much the account's vault stream has released.
func (l *Ledger) MaxWithdraw(account drip.Address, now uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.vault.MaxWithdraw(account, now) })
}

// StakingWeight returns the account's ramped staking weight at the start of
// an epoch.
func (l *Ledger) StakingWeight(account drip.Address, epochIdx uint64) (*big.Int, error) {
	return view(l, func() (*big.Int, error) { return l.weights.AccountWeight(account, epochIdx) })
}
