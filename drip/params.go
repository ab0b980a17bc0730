// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package drip

import "math/big"

// Constants of the reward ledger.
const (
	// EpochLength duration of one reward epoch in seconds.
	EpochLength uint64 = 14 * 24 * 60 * 60

	// MaxComponents caps registry size, keeping the weight summation loop bounded.
	MaxComponents uint64 = 32

	// MaxSyncIterations bounds epoch catch-up per call. A backlog larger than
	// this leaves the ledger partially synchronized and the caller retries.
	MaxSyncIterations uint64 = 128

	// MaxLockEpochs longest possible escrow lock, in epochs. Determines the
	// boost slope of locked positions.
	MaxLockEpochs uint64 = 104

	// BoostLength number of epochs over which the locker boost decays from 2x to 1x.
	BoostLength uint64 = 104

	// BasisPoints denominator of bounty fractions.
	BasisPoints uint64 = 10_000
)

var (
	// Precision fixed-point scale of reward integrals.
	Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

	// DustWeight floor added to every total weight figure so integrals never
	// divide by zero once a source is live.
	DustWeight = big.NewInt(1e12)

	// ComponentsSentinel head of every component registry.
	ComponentsSentinel = MustParseAddress("0x1111111111111111111111111111111111111111")
)

// Keys of governed params.
var (
	KeyExpirationEpochs = BytesToBytes32([]byte("expiration-epochs"))
	KeyReclaimBounty    = BytesToBytes32([]byte("reclaim-bounty"))
	KeyReclaimRecipient = BytesToBytes32([]byte("reclaim-recipient"))
	KeyReportBounty     = BytesToBytes32([]byte("report-bounty"))
	KeyReportRecipient  = BytesToBytes32([]byte("report-recipient"))

	// InitialExpirationEpochs epochs after which unclaimed rewards become reclaimable.
	InitialExpirationEpochs = big.NewInt(26)
	// InitialReclaimBounty basis points paid to the reclaim caller.
	InitialReclaimBounty = big.NewInt(100)
	// InitialReportBounty basis points paid for reporting an invalidated position.
	InitialReportBounty = big.NewInt(500)
)
