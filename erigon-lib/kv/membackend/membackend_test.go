// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package membackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

func TestBackendGetMiss(t *testing.T) {
	b := New()
	_, ok, err := b.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendSeedAndGet(t *testing.T) {
	b := New()
	b.Seed(map[string][]byte{"k": []byte("v")})

	v, ok, err := b.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestFullStorageRootAppliesAndDeletes(t *testing.T) {
	b := New()
	b.Seed(map[string][]byte{"a": []byte("1")})

	_, _, err := b.FullStorageRoot([]kv.Delta{
		{Key: []byte("a"), Value: nil},
		{Key: []byte("b"), Value: []byte("2")},
	}, nil)
	require.NoError(t, err)

	_, ok, err := b.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok, "a deleted key must be absent from the backend, not present with a nil value")

	v, ok, err := b.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(v))
}

func TestNextKey(t *testing.T) {
	b := New()
	b.Seed(map[string][]byte{"a": []byte("1"), "c": []byte("3")})

	next, ok, err := b.NextKey([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", string(next))

	_, ok, err = b.NextKey([]byte("c"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChildStorageIsolated(t *testing.T) {
	b := New()
	info := kv.NewDefaultChildInfo([]byte("child-a"))

	_, _, err := b.FullStorageRoot(nil, []kv.ChildDelta{
		{Info: info, Delta: []kv.Delta{{Key: []byte("k"), Value: []byte("child-v")}}},
	})
	require.NoError(t, err)

	_, ok, err := b.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok, "a child-trie write must not leak into the main trie")

	v, ok, err := b.GetChild(info, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "child-v", string(v))
}
