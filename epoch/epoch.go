// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package epoch converts wall-clock time into monotonic epoch indexes.
package epoch

import (
	"github.com/pkg/errors"
)

// ErrBeforeGenesis is returned when a timestamp predates the clock's genesis.
// The clock never clamps; callers that can observe pre-genesis time must
// handle this explicitly.
var ErrBeforeGenesis = errors.New("timestamp before genesis")

// Clock derives epoch indexes from a fixed genesis instant and epoch length.
// Index(now) = (now - genesis) / length, floor division. Indexes are
// monotonic for monotonic time and never decrease within an operation.
type Clock struct {
	genesis uint64
	length  uint64
}

// NewClock creates a clock. The epoch length must be nonzero.
func NewClock(genesis, length uint64) (*Clock, error) {
	if length == 0 {
		return nil, errors.New("epoch length must be nonzero")
	}
	return &Clock{genesis: genesis, length: length}, nil
}

// Genesis returns the genesis timestamp.
func (c *Clock) Genesis() uint64 { return c.genesis }

// Length returns the epoch length in seconds.
func (c *Clock) Length() uint64 { return c.length }

// Index returns the epoch index containing the given timestamp.
func (c *Clock) Index(now uint64) (uint64, error) {
	if now < c.genesis {
		return 0, ErrBeforeGenesis
	}
	return (now - c.genesis) / c.length, nil
}

// SinceGenesis returns the seconds elapsed since genesis.
func (c *Clock) SinceGenesis(now uint64) (uint64, error) {
	if now < c.genesis {
		return 0, ErrBeforeGenesis
	}
	return now - c.genesis, nil
}

// Start returns the timestamp at which the given epoch begins.
func (c *Clock) Start(index uint64) uint64 {
	return c.genesis + index*c.length
}

// Offset returns the seconds elapsed within the epoch containing now.
func (c *Clock) Offset(now uint64) (uint64, error) {
	if now < c.genesis {
		return 0, ErrBeforeGenesis
	}
	return (now - c.genesis) % c.length, nil
}
