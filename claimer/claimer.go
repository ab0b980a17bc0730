// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package claimer fans a single claim out over an ordered list of reward
// components, collecting everything an account has accrued across the
// distributors into one transfer.
package claimer

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/drip-labs/drip/auth"
	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/log"
	"github.com/drip-labs/drip/metrics"
	"github.com/drip-labs/drip/state"
	"github.com/drip-labs/drip/stor"
)

var logger = log.WithContext("pkg", "claimer")

var metricClaims = metrics.LazyLoadCounter("claimer_claims_total")

var (
	// ErrBadIndex is returned for a component index out of range.
	ErrBadIndex = errors.New("no component at index")

	// ErrNoComponents is returned when removing from an empty list.
	ErrNoComponents = errors.New("no components")

	// ErrNotBound is returned when a registered component address has no
	// bound source.
	ErrNotBound = errors.New("component not bound")
)

// Component is a distributor the claimer can collect from on an account's
// behalf.
type Component interface {
	Claim(caller, account, recipient drip.Address, now uint64) (*big.Int, error)
}

// Claimer holds the ordered component list.
type Claimer struct {
	context    *stor.Context
	auth       *auth.Auth
	count      *stor.Uint64
	components *stor.Mapping[stor.UintKey, drip.Address]
	sources    map[drip.Address]Component
}

// New creates a claimer bound to the given address.
func New(addr drip.Address, st *state.State, au *auth.Auth) *Claimer {
	context := stor.NewContext(addr, st)
	return &Claimer{
		context:    context,
		auth:       au,
		count:      stor.NewUint64(context, stor.Slot("num-components")),
		components: stor.NewMapping[stor.UintKey, drip.Address](context, stor.Slot("components")),
		sources:    make(map[drip.Address]Component),
	}
}

// Bind attaches the source implementation behind a component address.
func (c *Claimer) Bind(addr drip.Address, source Component) {
	c.sources[addr] = source
}

// NumComponents returns the number of registered components.
func (c *Claimer) NumComponents() (uint64, error) {
	return c.count.Get()
}

// Components returns the component address at an index, zero when out of
// range.
func (c *Claimer) Components(i uint64) (drip.Address, error) {
	return c.components.Get(stor.UintKey(i))
}

// AddComponent appends a component. Only management may call.
func (c *Claimer) AddComponent(caller, component drip.Address) error {
	if err := c.auth.Require(caller); err != nil {
		return err
	}
	count, err := c.count.Get()
	if err != nil {
		return err
	}
	if err := c.components.Set(stor.UintKey(count), component); err != nil {
		return err
	}
	c.count.Set(count + 1)
	logger.Debug("added component", "component", component, "index", count)
	return nil
}

// ReplaceComponent swaps the component at an index. Only management may call.
func (c *Claimer) ReplaceComponent(caller drip.Address, i uint64, component drip.Address) error {
	if err := c.auth.Require(caller); err != nil {
		return err
	}
	count, err := c.count.Get()
	if err != nil {
		return err
	}
	if i >= count {
		return ErrBadIndex
	}
	return c.components.Set(stor.UintKey(i), component)
}

// RemoveComponent pops the last component. Only management may call.
func (c *Claimer) RemoveComponent(caller drip.Address) error {
	if err := c.auth.Require(caller); err != nil {
		return err
	}
	count, err := c.count.Get()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNoComponents
	}
	if err := c.components.Clear(stor.UintKey(count - 1)); err != nil {
		return err
	}
	c.count.Set(count - 1)
	return nil
}

// Claim collects the caller's rewards from every component in order, paid to
// the recipient. Returns the total amount.
func (c *Claimer) Claim(caller, recipient drip.Address, now uint64) (*big.Int, error) {
	count, err := c.count.Get()
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for i := uint64(0); i < count; i++ {
		addr, err := c.components.Get(stor.UintKey(i))
		if err != nil {
			return nil, err
		}
		source, ok := c.sources[addr]
		if !ok {
			return nil, errors.Wrapf(ErrNotBound, "component %v", addr)
		}
		amount, err := source.Claim(caller, caller, recipient, now)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to claim component %v", addr)
		}
		total.Add(total, amount)
	}
	metricClaims().Add(1)
	logger.Debug("claimed", "account", caller, "recipient", recipient, "amount", total)
	return total, nil
}
