// Copyright (c) 2026 The Drip developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package stackedmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drip-labs/drip/stackedmap"
)

func TestStackedMap(t *testing.T) {
	src := make(map[string]string)
	src["base"] = "from-src"

	sm := stackedmap.New(func(key any) (any, bool, error) {
		v, ok := src[key.(string)]
		return v, ok, nil
	})

	sm.Push()
	sm.Put("k1", "v1")

	v, ok, err := sm.Get("k1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	v, ok, _ = sm.Get("base")
	assert.True(t, ok)
	assert.Equal(t, "from-src", v)

	depth := sm.Push()
	sm.Put("k1", "v1'")
	sm.Put("k2", "v2")

	v, _, _ = sm.Get("k1")
	assert.Equal(t, "v1'", v)

	sm.PopTo(depth)
	v, _, _ = sm.Get("k1")
	assert.Equal(t, "v1", v)

	_, ok, _ = sm.Get("k2")
	assert.False(t, ok)

	sm.Pop()
	_, ok, _ = sm.Get("k1")
	assert.False(t, ok)
	assert.Zero(t, sm.Depth())
}

func TestStackedMapJournal(t *testing.T) {
	sm := stackedmap.New(func(_ any) (any, bool, error) {
		return nil, false, nil
	})

	sm.Push()
	sm.Put("a", 1)
	sm.Push()
	sm.Put("b", 2)
	sm.Put("a", 3)

	var keys []string
	sm.Journal(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	assert.Equal(t, []string{"a", "b", "a"}, keys)

	// early stop
	keys = keys[:0]
	sm.Journal(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return false
	})
	assert.Equal(t, []string{"a"}, keys)
}
