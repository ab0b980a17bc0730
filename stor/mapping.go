// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stor

import (
	"encoding/binary"
	"reflect"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/drip-labs/drip/drip"
)

// Key is anything usable as a mapping key.
type Key interface {
	Bytes() []byte
}

// UintKey adapts an integer, typically an epoch index, into a mapping key.
type UintKey uint64

// Bytes returns the big-endian encoding of the key.
func (k UintKey) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(k))
	return b[:]
}

// CompositeKey joins two keys, for mappings indexed by (address, epoch) pairs.
type CompositeKey struct {
	A Key
	B Key
}

// Bytes returns the concatenation of both parts.
func (k CompositeKey) Bytes() []byte {
	return append(append([]byte{}, k.A.Bytes()...), k.B.Bytes()...)
}

// Mapping is a key/value storage abstraction, similar to a mapping in
// Solidity. Values are RLP encoded; an absent value decodes as the zero value.
type Mapping[K Key, V any] struct {
	context *Context
	basePos drip.Bytes32
}

// NewMapping creates a mapping rooted at the given slot position.
func NewMapping[K Key, V any](context *Context, pos drip.Bytes32) *Mapping[K, V] {
	return &Mapping[K, V]{context: context, basePos: pos}
}

func (m *Mapping[K, V]) position(key K) drip.Bytes32 {
	return drip.Blake2b(key.Bytes(), m.basePos.Bytes())
}

// Get loads the value stored under key.
// Pointer-typed values are allocated so callers never receive a nil pointer.
func (m *Mapping[K, V]) Get(key K) (value V, err error) {
	err = m.context.state.DecodeStorage(m.context.address, m.position(key), func(raw []byte) error {
		if reflect.ValueOf(&value).Elem().Kind() == reflect.Ptr {
			value = reflect.New(reflect.TypeOf(value).Elem()).Interface().(V)
		}
		if len(raw) == 0 {
			return nil
		}
		return rlp.DecodeBytes(raw, &value)
	})
	return
}

// Set stores value under key.
func (m *Mapping[K, V]) Set(key K, value V) error {
	return m.context.state.EncodeStorage(m.context.address, m.position(key), func() ([]byte, error) {
		return rlp.EncodeToBytes(value)
	})
}

// Clear removes the value stored under key.
func (m *Mapping[K, V]) Clear(key K) error {
	return m.context.state.EncodeStorage(m.context.address, m.position(key), func() ([]byte, error) {
		return nil, nil
	})
}
