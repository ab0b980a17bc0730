// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru"

	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/kv"
	"github.com/drip-labs/drip/stackedmap"
)

// storage slots are persisted under blake2b("s" ++ address ++ key).
var slotPrefix = []byte("s")

// Error is the error caused by state access failure.
type Error struct {
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state: %v", e.cause)
}

type storageKey struct {
	addr drip.Address
	key  drip.Bytes32
}

func (k storageKey) persistent() drip.Bytes32 {
	return drip.Blake2b(slotPrefix, k.addr.Bytes(), k.key.Bytes())
}

// State manages the ledger state with checkpoint/revert semantics.
// All mutations live in journaled revisions until Commit flushes them to the
// underlying key-value store.
type State struct {
	kv    kv.GetPutter
	cache *lru.Cache // persisted leaf cache, survives commits
	sm    *stackedmap.StackedMap
}

// New create a state object backed by the given key-value store.
func New(store kv.GetPutter) *State {
	cache, _ := lru.New(1024)
	state := State{
		kv:    store,
		cache: cache,
	}
	state.sm = stackedmap.New(func(key any) (any, bool, error) {
		return state.loadStorage(key.(storageKey))
	})
	// base revision, so mutations are legal before the first checkpoint
	state.sm.Push()
	return &state
}

// loadStorage reads a raw storage leaf from the backing store.
func (s *State) loadStorage(key storageKey) (any, bool, error) {
	pk := key.persistent()
	if cached, ok := s.cache.Get(pk); ok {
		return cached.(rlp.RawValue), true, nil
	}
	data, err := s.kv.Get(pk.Bytes())
	if err != nil {
		if s.kv.IsNotFound(err) {
			s.cache.Add(pk, rlp.RawValue(nil))
			return rlp.RawValue(nil), true, nil
		}
		return nil, false, err
	}
	raw := rlp.RawValue(data)
	s.cache.Add(pk, raw)
	return raw, true, nil
}

// GetStorage returns storage value for the given address and key.
func (s *State) GetStorage(addr drip.Address, key drip.Bytes32) (drip.Bytes32, error) {
	raw, err := s.GetRawStorage(addr, key)
	if err != nil {
		return drip.Bytes32{}, err
	}
	if len(raw) == 0 {
		return drip.Bytes32{}, nil
	}
	kind, content, _, err := rlp.Split(raw)
	if err != nil {
		return drip.Bytes32{}, &Error{err}
	}
	if kind == rlp.List {
		// special case for rlp list, it should be customized storage value
		// return hash of raw data
		return drip.Blake2b(raw), nil
	}
	return drip.BytesToBytes32(content), nil
}

// SetStorage set storage value for the given address and key.
func (s *State) SetStorage(addr drip.Address, key, value drip.Bytes32) {
	if value.IsZero() {
		s.SetRawStorage(addr, key, nil)
		return
	}
	v, _ := rlp.EncodeToBytes(bytes.TrimLeft(value[:], "\x00"))
	s.SetRawStorage(addr, key, v)
}

// GetRawStorage returns storage value in rlp raw for given address and key.
func (s *State) GetRawStorage(addr drip.Address, key drip.Bytes32) (rlp.RawValue, error) {
	data, _, err := s.sm.Get(storageKey{addr, key})
	if err != nil {
		return nil, &Error{err}
	}
	return data.(rlp.RawValue), nil
}

// SetRawStorage set storage value in rlp raw.
func (s *State) SetRawStorage(addr drip.Address, key drip.Bytes32, raw rlp.RawValue) {
	s.sm.Put(storageKey{addr, key}, raw)
}

// EncodeStorage set storage value encoded by given enc method.
// Error returned by enc will be wrapped as state error.
func (s *State) EncodeStorage(addr drip.Address, key drip.Bytes32, enc func() ([]byte, error)) error {
	raw, err := enc()
	if err != nil {
		return &Error{err}
	}
	s.SetRawStorage(addr, key, raw)
	return nil
}

// DecodeStorage get and decode storage value.
// Error returned by dec will be wrapped as state error.
func (s *State) DecodeStorage(addr drip.Address, key drip.Bytes32, dec func([]byte) error) error {
	raw, err := s.GetRawStorage(addr, key)
	if err != nil {
		return err
	}
	if err := dec(raw); err != nil {
		return &Error{err}
	}
	return nil
}

// NewCheckpoint makes a checkpoint of current state.
// It returns revision of the checkpoint.
func (s *State) NewCheckpoint() int {
	return s.sm.Push()
}

// RevertTo reverts state to the given revision, undoing all mutations made
// since the matching NewCheckpoint call.
func (s *State) RevertTo(revision int) {
	s.sm.PopTo(revision)
}

// Commit flushes all journaled mutations to the backing store in one batch
// and resets the journal. The state stays usable afterwards.
func (s *State) Commit() error {
	batch := s.kv.NewBatch()

	// later puts win; collect the final value per slot first
	final := make(map[storageKey]rlp.RawValue)
	s.sm.Journal(func(key, value any) bool {
		final[key.(storageKey)] = value.(rlp.RawValue)
		return true
	})

	for key, raw := range final {
		pk := key.persistent()
		if len(raw) == 0 {
			if err := batch.Delete(pk.Bytes()); err != nil {
				return &Error{err}
			}
		} else {
			if err := batch.Put(pk.Bytes(), raw); err != nil {
				return &Error{err}
			}
		}
		s.cache.Add(pk, raw)
	}

	if err := batch.Write(); err != nil {
		return &Error{err}
	}

	s.sm.PopTo(0)
	s.sm.Push()
	return nil
}
