// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stream

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/stor"
)

// ErrNothingExpired is returned when a reclaim targets an epoch with no
// expired balance for the account.
var ErrNothingExpired = errors.New("nothing expired")

// Claim pays out the account's accrued rewards to the recipient. The caller
// must be the account itself or one of its authorized claimers. A zero
// balance is a no-op.
func (d *Distributor) Claim(caller, account, recipient drip.Address, now uint64) (*big.Int, error) {
	if err := d.auth.RequireClaimer(account, caller); err != nil {
		return nil, err
	}
	if err := d.SyncAccount(account, now); err != nil {
		return nil, err
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

// Reclaim sweeps an account's share of rewards it left unclaimed past the
// expiration window. The expired slice is the integral gap from the
// account's snapshot to the end of the expired epoch's stream. A bounty cut
// goes to the caller, the remainder to the governed reclaim recipient. The
// account's snapshot advances so the slice cannot be claimed again.
func (d *Distributor) Reclaim(caller, account drip.Address, now uint64) (*big.Int, error) {
	if err := d.syncStream(now); err != nil {
		return nil, err
	}
	current, err := d.clock.Index(now)
	if err != nil {
		return nil, err
	}
	expiration, err := d.params.GetUint64(drip.KeyExpirationEpochs)
	if err != nil {
		return nil, err
	}
	if current < expiration {
		return nil, ErrNothingExpired
	}
	expired := current - expiration

	boundary, err := d.epochIntegrals.Get(stor.UintKey(expired))
	if err != nil {
		return nil, err
	}
	snapshot, err := d.accountIntegral.Get(account)
	if err != nil {
		return nil, err
	}
	if boundary.Cmp(snapshot) <= 0 {
		return nil, ErrNothingExpired
	}
	_, weight, err := d.PackedWeight(account)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Sub(boundary, snapshot)
	amount.Mul(amount, weight)
	amount.Div(amount, drip.Precision)

	pending, err := d.pending.Get(account)
	if err != nil {
		return nil, err
	}
	amount.Add(amount, pending)
	if amount.Sign() == 0 {
		return nil, ErrNothingExpired
	}
	if err := d.pending.Clear(account); err != nil {
		return nil, err
	}
	if err := d.accountIntegral.Set(account, boundary); err != nil {
		return nil, err
	}

	bountyRate, err := d.params.Get(drip.KeyReclaimBounty)
	if err != nil {
		return nil, err
	}
	recipient, err := d.params.GetAddress(drip.KeyReclaimRecipient)
	if err != nil {
		return nil, err
	}
	bounty := new(big.Int).Mul(amount, bountyRate)
	bounty.Div(bounty, new(big.Int).SetUint64(drip.BasisPoints))
	remainder := new(big.Int).Sub(amount, bounty)

	self := d.context.Address()
	if bounty.Sign() > 0 {
		if err := d.asset.Transfer(self, caller, bounty); err != nil {
			return nil, err
		}
	}
	if remainder.Sign() > 0 {
		if err := d.asset.Transfer(self, recipient, remainder); err != nil {
			return nil, err
		}
	}
	metricReclaims().Add(1)
	logger.Info("reclaimed expired rewards",
		"account", account, "epoch", expired, "amount", amount, "bounty", bounty)
	return amount, nil
}
