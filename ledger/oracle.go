// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import (
	"math/big"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
)

// escrowLock mirrors one observed external lock.
type escrowLock struct {
	Amount *big.Int
	End    uint64
}

// EscrowOracle is a management-fed view of external escrow locks, used as
// the live side of the snapshot when no other source is wired in.
type EscrowOracle struct {
	auth  *auth.Auth
	locks *stor.Mapping[drip.Address, *escrowLock]
}

// NewEscrowOracle creates the oracle bound to the given address.
func NewEscrowOracle(addr drip.Address, st *state.State, au *auth.Auth) *EscrowOracle {
	context := stor.NewContext(addr, st)
	return &EscrowOracle{
		auth:  au,
		locks: stor.NewMapping[drip.Address, *escrowLock](context, stor.Slot("escrow-locks")),
	}
}

// SetLocked records an account's observed lock. Only management may call.
func (o *EscrowOracle) SetLocked(caller, account drip.Address, amount *big.Int, end uint64) error {
	if err := o.auth.Require(caller); err != nil {
		return err
	}
	if amount.Sign() == 0 && end == 0 {
		return o.locks.Clear(account)
	}
	return o.locks.Set(account, &escrowLock{Amount: amount, End: end})
}

// Locked returns the account's recorded lock.
func (o *EscrowOracle) Locked(account drip.Address) (*big.Int, uint64, error) {
	l, err := o.locks.Get(account)
	if err != nil {
		return nil, 0, err
	}
	if l.Amount == nil {
		return new(big.Int), l.End, nil
	}
	return l.Amount, l.End, nil
}
