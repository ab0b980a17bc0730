// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package accounts exposes per-account balances and pending rewards over REST.
package accounts

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/api/restutil"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/ledger"
)

type Accounts struct {
	ledger *ledger.Ledger
}

func New(l *ledger.Ledger) *Accounts {
	return &Accounts{ledger: l}
}

// Account is the balance view of one address.
type Account struct {
	Balance     math.HexOrDecimal256 `json:"balance"`
	Staked      math.HexOrDecimal256 `json:"staked"`
	MaxWithdraw math.HexOrDecimal256 `json:"maxWithdraw"`
	Weight      math.HexOrDecimal256 `json:"weight"`
}

// Pending is the unclaimed reward view of one address.
type Pending struct {
	Staking math.HexOrDecimal256 `json:"staking"`
	Locker  math.HexOrDecimal256 `json:"locker"`
	Total   math.HexOrDecimal256 `json:"total"`
}

func parseAddress(req *http.Request) (drip.Address, error) {
	addr, err := drip.ParseAddress(mux.Vars(req)["address"])
	if err != nil {
		return drip.Address{}, restutil.BadRequest(errors.WithMessage(err, "address"))
	}
	return *addr, nil
}

func (a *Accounts) handleGetAccount(w http.ResponseWriter, req *http.Request) error {
	addr, err := parseAddress(req)
	if err != nil {
		return err
	}
	now := uint64(time.Now().Unix())

	balance, err := a.ledger.BalanceOf(addr)
	if err != nil {
		return err
	}
	staked, err := a.ledger.StakedBalance(addr)
	if err != nil {
		return err
	}
	maxWithdraw, err := a.ledger.MaxWithdraw(addr, now)
	if err != nil {
		return err
	}
	current, err := a.ledger.CurrentEpoch(now)
	if err != nil {
		return err
	}
	weight, err := a.ledger.StakingWeight(addr, current)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, &Account{
		Balance:     math.HexOrDecimal256(*balance),
		Staked:      math.HexOrDecimal256(*staked),
		MaxWithdraw: math.HexOrDecimal256(*maxWithdraw),
		Weight:      math.HexOrDecimal256(*weight),
	})
}

func (a *Accounts) handleGetPending(w http.ResponseWriter, req *http.Request) error {
	addr, err := parseAddress(req)
	if err != nil {
		return err
	}
	now := uint64(time.Now().Unix())

	staking, err := a.ledger.PendingStaking(addr, now)
	if err != nil {
		return err
	}
	locker, err := a.ledger.PendingLocker(addr, now)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(staking, locker)
	return restutil.WriteJSON(w, &Pending{
		Staking: math.HexOrDecimal256(*staking),
		Locker:  math.HexOrDecimal256(*locker),
		Total:   math.HexOrDecimal256(*total),
	})
}

func (a *Accounts) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/{address}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(a.handleGetAccount))
	sub.Path("/{address}/pending").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(a.handleGetPending))
}
