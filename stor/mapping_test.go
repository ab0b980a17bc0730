// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stor

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drip-labs/drip/drip"
	"github.com/drip-labs/drip/lvldb"
	"github.com/drip-labs/drip/state"
)

func newContext(t *testing.T) *Context {
	t.Helper()
	store, err := lvldb.NewMem()
	require.NoError(t, err)
	return NewContext(drip.BytesToAddress([]byte("module")), state.New(store))
}

type entry struct {
	Balance *big.Int
	Epoch   uint64
	Next    *drip.Address `rlp:"nil"`
}

func TestMappingStruct(t *testing.T) {
	ctx := newContext(t)
	m := NewMapping[drip.Address, *entry](ctx, Slot("entries"))

	key := drip.BytesToAddress([]byte("acc1"))

	// missing values decode as allocated zero values
	got, err := m.Get(key)
	assert.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Balance)

	next := drip.BytesToAddress([]byte("acc2"))
	assert.NoError(t, m.Set(key, &entry{big.NewInt(42), 3, &next}))

	got, err = m.Get(key)
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(42), got.Balance)
	assert.Equal(t, uint64(3), got.Epoch)
	require.NotNil(t, got.Next)
	assert.Equal(t, next, *got.Next)

	assert.NoError(t, m.Clear(key))
	got, err = m.Get(key)
	assert.NoError(t, err)
	assert.Nil(t, got.Balance)
}

func TestMappingKeysIndependent(t *testing.T) {
	ctx := newContext(t)
	m := NewMapping[drip.Address, *entry](ctx, Slot("entries"))
	other := NewMapping[drip.Address, *entry](ctx, Slot("others"))

	key := drip.BytesToAddress([]byte("acc1"))
	assert.NoError(t, m.Set(key, &entry{Balance: big.NewInt(1), Epoch: 1}))

	got, err := other.Get(key)
	assert.NoError(t, err)
	assert.Nil(t, got.Balance)
}

func TestUint256Cell(t *testing.T) {
	ctx := newContext(t)
	cell := NewUint256(ctx, Slot("supply"))

	v, err := cell.Get()
	assert.NoError(t, err)
	assert.Zero(t, v.Sign())

	cell.Set(big.NewInt(100))
	assert.NoError(t, cell.Add(big.NewInt(20)))
	assert.NoError(t, cell.Sub(big.NewInt(50)))

	v, err = cell.Get()
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(70), v)

	// underflow is rejected and leaves the cell untouched
	assert.Error(t, cell.Sub(big.NewInt(71)))
	v, _ = cell.Get()
	assert.Equal(t, big.NewInt(70), v)
}

func TestAddressCell(t *testing.T) {
	ctx := newContext(t)
	cell := NewAddress(ctx, Slot("management"))

	got, err := cell.Get()
	assert.NoError(t, err)
	assert.True(t, got.IsZero())

	addr := drip.BytesToAddress([]byte("mgmt"))
	cell.Set(&addr)
	got, _ = cell.Get()
	assert.Equal(t, addr, got)

	cell.Set(nil)
	got, _ = cell.Get()
	assert.True(t, got.IsZero())
}

func TestUint64Cell(t *testing.T) {
	ctx := newContext(t)
	cell := NewUint64(ctx, Slot("cursor"))

	v, err := cell.Get()
	assert.NoError(t, err)
	assert.Zero(t, v)

	cell.Set(41)
	v, _ = cell.Get()
	assert.Equal(t, uint64(41), v)
}
