// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package epochs exposes finalized and in-progress epoch records over REST.
package epochs

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/api/restutil"
	"github.com/drip-labs/drip/cache"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/ledger"
)

const summaryCacheSize = 256

type Epochs struct {
	ledger *ledger.Ledger
	// summaries of finalized epochs are immutable
	summaries *cache.LRU
}

func New(l *ledger.Ledger) *Epochs {
	summaries, err := cache.NewLRU(summaryCacheSize)
	if err != nil {
		panic(err)
	}
	return &Epochs{
		ledger:    l,
		summaries: summaries,
	}
}

// Summary is one epoch's schedule and finalized totals.
type Summary struct {
	Index       uint64                `json:"index"`
	Start       uint64                `json:"start"`
	End         uint64                `json:"end"`
	Rewards     math.HexOrDecimal256  `json:"rewards"`
	TotalWeight *math.HexOrDecimal256 `json:"totalWeight"`
	Finalized   bool                  `json:"finalized"`
}

func (e *Epochs) summary(index uint64) (*Summary, error) {
	clock := e.ledger.Clock()
	last, err := e.ledger.LastEpoch()
	if err != nil {
		return nil, err
	}

	rewards, err := e.ledger.EpochRewards(index)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		Index:     index,
		Start:     clock.Start(index),
		End:       clock.Start(index + 1),
		Rewards:   math.HexOrDecimal256(*rewards),
		Finalized: index < last,
	}
	if summary.Finalized {
		total, err := e.ledger.EpochTotalWeight(index)
		if err != nil {
			return nil, err
		}
		summary.TotalWeight = (*math.HexOrDecimal256)(new(big.Int).Set(total))
	}
	return summary, nil
}

func (e *Epochs) handleGetEpoch(w http.ResponseWriter, req *http.Request) error {
	index, err := strconv.ParseUint(mux.Vars(req)["index"], 10, 64)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "index"))
	}

	last, err := e.ledger.LastEpoch()
	if err != nil {
		return err
	}
	if index < last {
		cached, err := e.summaries.GetOrLoad(index, func(interface{}) (interface{}, error) {
			return e.summary(index)
		})
		if err != nil {
			return err
		}
		return restutil.WriteJSON(w, cached)
	}

	summary, err := e.summary(index)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, summary)
}

func (e *Epochs) handleGetCurrent(w http.ResponseWriter, req *http.Request) error {
	now := uint64(time.Now().Unix())
	index, err := e.ledger.CurrentEpoch(now)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "before genesis"))
	}
	summary, err := e.summary(index)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, summary)
}

func (e *Epochs) handleGetWeight(w http.ResponseWriter, req *http.Request) error {
	index, err := strconv.ParseUint(mux.Vars(req)["index"], 10, 64)
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "index"))
	}
	component, err := drip.ParseAddress(mux.Vars(req)["address"])
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "address"))
	}

	weight, err := e.ledger.EpochWeight(*component, index)
	if err != nil {
		return err
	}
	return restutil.WriteJSON(w, restutil.M{
		"component": component,
		"index":     index,
		"weight":    (*math.HexOrDecimal256)(weight),
	})
}

func (e *Epochs) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/current").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(e.handleGetCurrent))
	sub.Path("/{index}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(e.handleGetEpoch))
	sub.Path("/{index}/weights/{address}").Methods(http.MethodGet).HandlerFunc(restutil.WrapHandlerFunc(e.handleGetWeight))
}
