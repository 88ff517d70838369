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

// Package membackend is an in-memory kv.Backend, the Go analogue of
// Substrate's test-only InMemoryBackend: it never hashes anything, it
// just answers Get/NextKey/FullStorageRoot against a google/btree-ordered
// map. Intended for tests, not production use (state does not survive
// process exit).
package membackend

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

type kvItem struct {
	key   []byte
	value []byte
}

func (a kvItem) Less(than btree.Item) bool {
	return bytes.Compare(a.key, than.(kvItem).key) < 0
}

// Store is a single btree-ordered key space, shared by the main trie and
// every child trie of a Backend.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

func newStore() *Store {
	return &Store{tree: btree.New(32)}
}

func (s *Store) get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(kvItem{key: key})
	if item == nil {
		return nil, false
	}
	return item.(kvItem).value, true
}

func (s *Store) set(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(kvItem{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (s *Store) delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Delete(kvItem{key: key})
}

func (s *Store) next(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var nextKey []byte
	found := false
	s.tree.AscendGreaterOrEqual(kvItem{key: key}, func(it btree.Item) bool {
		cand := it.(kvItem)
		if bytes.Equal(cand.key, key) {
			return true // skip key itself, keep scanning
		}
		nextKey = append([]byte(nil), cand.key...)
		found = true
		return false
	})
	return nextKey, found
}

// Backend implements kv.Backend entirely in memory.
type Backend struct {
	main     *Store
	children map[string]*Store
	mu       sync.RWMutex
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{main: newStore(), children: make(map[string]*Store)}
}

// Seed pre-populates the main trie, as a convenience for tests that need
// a backend with existing committed state.
func (b *Backend) Seed(kvs map[string][]byte) {
	for k, v := range kvs {
		b.main.set([]byte(k), v)
	}
}

func (b *Backend) childStore(info kv.ChildInfo) *Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := string(info.StorageKey())
	s, ok := b.children[key]
	if !ok {
		s = newStore()
		b.children[key] = s
	}
	return s
}

func (b *Backend) Get(key []byte) ([]byte, bool, error) {
	v, ok := b.main.get(key)
	return v, ok, nil
}

func (b *Backend) GetChild(info kv.ChildInfo, key []byte) ([]byte, bool, error) {
	v, ok := b.childStore(info).get(key)
	return v, ok, nil
}

func (b *Backend) NextKey(key []byte) ([]byte, bool, error) {
	k, ok := b.main.next(key)
	return k, ok, nil
}

// FullStorageRoot applies delta/childDelta directly to the in-memory
// stores and returns an opaque marker root (not a cryptographic hash:
// that work is explicitly out of scope for the overlay and its test
// backend alike) plus a no-op Transaction, since the mutation already
// happened synchronously.
func (b *Backend) FullStorageRoot(delta []kv.Delta, childDelta []kv.ChildDelta) ([]byte, kv.Transaction, error) {
	for _, d := range delta {
		if d.Value == nil {
			b.main.delete(d.Key)
			continue
		}
		b.main.set(d.Key, d.Value)
	}
	for _, cd := range childDelta {
		store := b.childStore(cd.Info)
		for _, d := range cd.Delta {
			if d.Value == nil {
				store.delete(d.Key)
				continue
			}
			store.set(d.Key, d.Value)
		}
	}
	return []byte("membackend-root"), noopTxn{}, nil
}

type noopTxn struct{}

func (noopTxn) Apply() error { return nil }
