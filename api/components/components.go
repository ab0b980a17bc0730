// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package components exposes the reward component registry over REST.
package components

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/api/restutil"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/ledger"
)

type Components struct {
	ledger *ledger.Ledger
}

func New(l *ledger.Ledger) *Components {
	return &Components{ledger: l}
}

// Entry is the registry view of one component.
type Entry struct {
	Address     drip.Address `json:"address"`
	LastClaimed uint64       `json:"lastClaimed"`
	ScaleNum    uint64       `json:"scaleNum"`
	ScaleDen    uint64       `json:"scaleDen"`
}

func (c *Components) handleList(w http.ResponseWriter, req *http.Request) error {
	count, err := c.ledger.NumComponents()
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, count)
	cursor := drip.ComponentsSentinel
	for uint64(len(entries)) < count {
		rec, err := c.ledger.Components(cursor)
		if err != nil {
			return err
		}
		if rec.Next == drip.ComponentsSentinel || rec.Next.IsZero() {
			break
		}
		next, err := c.ledger.Components(rec.Next)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Address:     rec.Next,
			LastClaimed: next.LastClaimed,
			ScaleNum:    next.ScaleNum,
			ScaleDen:    next.ScaleDen,
		})
		cursor = rec.Next
	}
	return restutil.WriteJSON(w, entries)
}

func (c *Components) handleGet(w http.ResponseWriter, req *http.Request) error {
	addr, err := drip.ParseAddress(mux.Vars(req)["address"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "address"))
	}
	rec, err := c.ledger.Components(*addr)
	if err != nil {
		return err
	}
	if rec.Next.IsZero() {
		return restutil.NotFound(errors.New("not a component"))
	}
	return restutil.WriteJSON(w, &Entry{
		Address:     *addr,
		LastClaimed: rec.LastClaimed,
		ScaleNum:    rec.ScaleNum,
		ScaleDen:    rec.ScaleDen,
	})
}

func (c *Components) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(c.handleList))
	sub.Path("/{address}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(c.handleGet))
}
