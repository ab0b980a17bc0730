// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package distributor

import (
	"github.com/pkg/errors"

	"github.com/drip-labs/drip/drip"
)

// The registry is a singly-linked cycle through the sentinel address.
// Insertion and removal are O(1) given the predecessor; iteration order is
// deterministic. Removed components keep their claim cursor so dangling
// claims stay honored.

var (
	// ErrRegistryFull is returned when adding beyond drip.MaxComponents.
	ErrRegistryFull = errors.New("component registry full")

	// ErrNotLinked is returned when the given predecessor does not point at
	// the expected component.
	ErrNotLinked = errors.New("predecessor mismatch")

	// ErrAlreadyComponent is returned when adding an address already in the registry.
	ErrAlreadyComponent = errors.New("already a component")

	// ErrInvalidScale is returned for scale fractions with a zero term.
	ErrInvalidScale = errors.New("invalid component scale")
)

// Component is the registry view of one entry.
type Component struct {
	Next        drip.Address
	LastClaimed uint64
	ScaleNum    uint64
	ScaleDen    uint64
	Registered  bool
}

// Components returns the registry entry of an address. The sentinel's entry
// holds the list head.
func (a *Aggregator) Components(addr drip.Address) (Component, error) {
	if addr == drip.ComponentsSentinel {
		head, err := a.head()
		if err != nil {
			return Component{}, err
		}
		return Component{Next: head}, nil
	}
	rec, err := a.components.Get(addr)
	if err != nil {
		return Component{}, err
	}
	return Component(*rec), nil
}

// NumComponents returns the registry size.
func (a *Aggregator) NumComponents() (uint64, error) {
	return a.numComponents.Get()
}

// head returns the first component, the sentinel itself when empty.
func (a *Aggregator) head() (drip.Address, error) {
	rec, err := a.components.Get(drip.ComponentsSentinel)
	if err != nil {
		return drip.Address{}, err
	}
	if rec.Next.IsZero() {
		return drip.ComponentsSentinel, nil
	}
	return rec.Next, nil
}

func (a *Aggregator) setNext(addr, next drip.Address) error {
	rec, err := a.components.Get(addr)
	if err != nil {
		return err
	}
	rec.Next = next
	return a.components.Set(addr, rec)
}

// iterate walks the registry in list order.
func (a *Aggregator) iterate(cb func(component drip.Address, rec *componentRecord) error) error {
	cursor, err := a.head()
	if err != nil {
		return err
	}
	for cursor != drip.ComponentsSentinel {
		rec, err := a.components.Get(cursor)
		if err != nil {
			return err
		}
		if err := cb(cursor, rec); err != nil {
			return err
		}
		cursor = rec.Next
	}
	return nil
}

// AddComponent splices a component into the registry after prev, which is
// either the sentinel or an active component. A re-added component keeps its
// old claim cursor; a fresh one is backdated to the previous epoch so it
// participates from now on without claiming history it did not earn.
func (a *Aggregator) AddComponent(caller, component drip.Address, scaleNum, scaleDen uint64, prev drip.Address, now uint64) error {
	if err := a.auth.Require(caller); err != nil {
		return err
	}
	if scaleNum == 0 || scaleDen == 0 {
		return ErrInvalidScale
	}
	if component.IsZero() || component == drip.ComponentsSentinel {
		return errors.New("invalid component address")
	}

	count, err := a.numComponents.Get()
	if err != nil {
		return err
	}
	if count >= drip.MaxComponents {
		return ErrRegistryFull
	}

	rec, err := a.components.Get(component)
	if err != nil {
		return err
	}
	if !rec.Next.IsZero() {
		return ErrAlreadyComponent
	}

	current, err := a.clock.Index(now)
	if err != nil {
		return err
	}
	if current > 0 && rec.LastClaimed < current-1 {
		rec.LastClaimed = current - 1
	}
	rec.ScaleNum = scaleNum
	rec.ScaleDen = scaleDen
	rec.Registered = true

	if prev == drip.ComponentsSentinel {
		head, err := a.head()
		if err != nil {
			return err
		}
		rec.Next = head
		if err := a.setNext(drip.ComponentsSentinel, component); err != nil {
			return err
		}
	} else {
		prevRec, err := a.components.Get(prev)
		if err != nil {
			return err
		}
		if prevRec.Next.IsZero() {
			return ErrNotComponent
		}
		rec.Next = prevRec.Next
		prevRec.Next = component
		if err := a.components.Set(prev, prevRec); err != nil {
			return err
		}
	}
	if err := a.components.Set(component, rec); err != nil {
		return err
	}
	a.numComponents.Set(count + 1)
	logger.Info("component added", "component", component, "scaleNum", scaleNum, "scaleDen", scaleDen)
	return nil
}

// RemoveComponent unlinks a component given its predecessor. The claim
// cursor is kept, the scale is cleared.
func (a *Aggregator) RemoveComponent(caller, component, prev drip.Address) error {
	if err := a.auth.Require(caller); err != nil {
		return err
	}
	rec, err := a.components.Get(component)
	if err != nil {
		return err
	}
	if rec.Next.IsZero() {
		return ErrNotComponent
	}

	prevRec, err := a.Components(prev)
	if err != nil {
		return err
	}
	if prevRec.Next != component {
		return ErrNotLinked
	}

	next := rec.Next
	if prev == drip.ComponentsSentinel {
		if next == drip.ComponentsSentinel {
			// list is empty again
			next = drip.Address{}
		}
		if err := a.setNext(drip.ComponentsSentinel, next); err != nil {
			return err
		}
	} else if err := a.setNext(prev, next); err != nil {
		return err
	}

	rec.Next = drip.Address{}
	rec.ScaleNum = 0
	rec.ScaleDen = 0
	if err := a.components.Set(component, rec); err != nil {
		return err
	}

	count, err := a.numComponents.Get()
	if err != nil {
		return err
	}
	a.numComponents.Set(count - 1)
	logger.Info("component removed", "component", component)
	return nil
}

// SetComponentScale updates the scale fraction of an active component.
func (a *Aggregator) SetComponentScale(caller, component drip.Address, scaleNum, scaleDen uint64) error {
	if err := a.auth.Require(caller); err != nil {
		return err
	}
	if scaleNum == 0 || scaleDen == 0 {
		return ErrInvalidScale
	}
	rec, err := a.components.Get(component)
	if err != nil {
		return err
	}
	if rec.Next.IsZero() {
		return ErrNotComponent
	}
	rec.ScaleNum = scaleNum
	rec.ScaleDen = scaleDen
	return a.components.Set(component, rec)
}
