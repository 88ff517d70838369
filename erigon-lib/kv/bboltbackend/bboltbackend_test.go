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

package bboltbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := Open(dir, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpenAcquiresExclusiveLock(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(dir, 0)
	require.NoError(t, err)
	defer b.Close()

	_, err = Open(dir, 0)
	assert.Error(t, err, "a second Open of the same directory must fail while the first is still held")
}

func TestFullStorageRootAndGet(t *testing.T) {
	b := openTestBackend(t)

	_, txn, err := b.FullStorageRoot([]kv.Delta{
		{Key: []byte("a"), Value: []byte("1")},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, txn.Apply())

	v, ok, err := b.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestFullStorageRootDeleteRemovesKey(t *testing.T) {
	b := openTestBackend(t)

	_, _, err := b.FullStorageRoot([]kv.Delta{{Key: []byte("a"), Value: []byte("1")}}, nil)
	require.NoError(t, err)
	_, _, err = b.FullStorageRoot([]kv.Delta{{Key: []byte("a"), Value: nil}}, nil)
	require.NoError(t, err)

	_, ok, err := b.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNextKeyCursor(t *testing.T) {
	b := openTestBackend(t)
	_, _, err := b.FullStorageRoot([]kv.Delta{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("c"), Value: []byte("3")},
	}, nil)
	require.NoError(t, err)

	next, ok, err := b.NextKey([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", string(next))
}

func TestChildStorageRoundTrip(t *testing.T) {
	b := openTestBackend(t)
	info := kv.NewDefaultChildInfo([]byte("contract-a"))

	_, _, err := b.FullStorageRoot(nil, []kv.ChildDelta{
		{Info: info, Delta: []kv.Delta{{Key: []byte("k"), Value: []byte("v")}}},
	})
	require.NoError(t, err)

	v, ok, err := b.GetChild(info, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestCacheInvalidatedOnWrite(t *testing.T) {
	b := openTestBackend(t)
	_, _, err := b.FullStorageRoot([]kv.Delta{{Key: []byte("a"), Value: []byte("1")}}, nil)
	require.NoError(t, err)

	_, ok, err := b.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = b.FullStorageRoot([]kv.Delta{{Key: []byte("a"), Value: []byte("2")}}, nil)
	require.NoError(t, err)

	v, ok, err := b.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(v), "a cached stale value must be invalidated by a subsequent write")
}
