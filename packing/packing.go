// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package packing packs fixed-width unsigned fields into one 256-bit word.
//
// A Layout lists field widths from the most significant field down. Packing
// and unpacking are exact inverses for in-width values; a field exceeding
// its declared width is an error, never a silent truncation.
package packing

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Layout describes how fields share a 256-bit word.
type Layout struct {
	widths []uint
	shifts []uint
	masks  []uint256.Int
}

// NewLayout builds a layout from field widths, most significant first.
// Widths must be nonzero and sum to at most 256.
func NewLayout(widths ...uint) (*Layout, error) {
	if len(widths) == 0 {
		return nil, errors.New("layout needs at least one field")
	}
	var total uint
	for i, w := range widths {
		if w == 0 {
			return nil, errors.Errorf("field %d has zero width", i)
		}
		total += w
	}
	if total > 256 {
		return nil, errors.Errorf("field widths sum to %d, exceeding 256", total)
	}

	l := &Layout{
		widths: append([]uint{}, widths...),
		shifts: make([]uint, len(widths)),
		masks:  make([]uint256.Int, len(widths)),
	}
	shift := total
	for i, w := range widths {
		shift -= w
		l.shifts[i] = shift
		// mask = (1 << w) - 1
		m := uint256.NewInt(1)
		m.Lsh(m, w)
		m.SubUint64(m, 1)
		l.masks[i] = *m
	}
	return l, nil
}

// MustNewLayout is NewLayout that panics on error, for package-level layouts.
func MustNewLayout(widths ...uint) *Layout {
	l, err := NewLayout(widths...)
	if err != nil {
		panic(err)
	}
	return l
}

// Fields returns the number of fields in the layout.
func (l *Layout) Fields() int { return len(l.widths) }

// Width returns the bit width of field i.
func (l *Layout) Width(i int) uint { return l.widths[i] }

// Pack combines fields into a single word, most significant field first.
func (l *Layout) Pack(fields ...*uint256.Int) (*uint256.Int, error) {
	if len(fields) != len(l.widths) {
		return nil, errors.Errorf("layout has %d fields, got %d", len(l.widths), len(fields))
	}
	word := new(uint256.Int)
	for i, f := range fields {
		if f.BitLen() > int(l.widths[i]) {
			return nil, errors.Errorf("field %d exceeds %d bits", i, l.widths[i])
		}
		var shifted uint256.Int
		shifted.Lsh(f, l.shifts[i])
		word.Or(word, &shifted)
	}
	return word, nil
}

// PackUint64 packs fields given as uint64 values.
func (l *Layout) PackUint64(fields ...uint64) (*uint256.Int, error) {
	big := make([]*uint256.Int, len(fields))
	for i, f := range fields {
		big[i] = uint256.NewInt(f)
	}
	return l.Pack(big...)
}

// Unpack splits a word into its fields, most significant first.
func (l *Layout) Unpack(word *uint256.Int) []*uint256.Int {
	fields := make([]*uint256.Int, len(l.widths))
	for i := range l.widths {
		f := new(uint256.Int)
		f.Rsh(word, l.shifts[i])
		f.And(f, &l.masks[i])
		fields[i] = f
	}
	return fields
}

// Field extracts a single field from a word.
func (l *Layout) Field(word *uint256.Int, i int) *uint256.Int {
	f := new(uint256.Int)
	f.Rsh(word, l.shifts[i])
	f.And(f, &l.masks[i])
	return f
}

// Layouts used by the weight sources.
var (
	// TimeBalance holds a ramp timestamp over a balance.
	TimeBalance = MustNewLayout(144, 112)

	// LockState holds a locked amount, a boost epoch and an unlock epoch.
	LockState = MustNewLayout(128, 64, 64)
)
