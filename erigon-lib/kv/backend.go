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

// Package kv defines the collaborator interfaces the storage overlay
// consults but never implements itself: the backend key-value store, the
// child-storage descriptor, and the statistics sink.
package kv

// Delta is a single main-trie mutation, in the shape the overlay hands
// to Backend.FullStorageRoot: a nil Value means the key was deleted.
type Delta struct {
	Key   []byte
	Value []byte
}

// ChildDelta bundles one child trie's mutations with its descriptor.
type ChildDelta struct {
	Info  ChildInfo
	Delta []Delta
}

// Backend is the read-only key-value store the overlay sits on top of.
// The overlay never mutates it directly: absence of a key in the overlay
// means "ask Backend", and the resulting transaction object produced by
// FullStorageRoot is only ever stored, never interpreted, by the overlay.
type Backend interface {
	// Get returns the value stored under key in the main trie, or
	// ok == false if the key is absent from the backend entirely.
	Get(key []byte) (value []byte, ok bool, err error)

	// GetChild returns the value stored under key in the given child
	// trie, or ok == false if absent.
	GetChild(info ChildInfo, key []byte) (value []byte, ok bool, err error)

	// NextKey returns the lexicographically smallest backend key that
	// is strictly greater than key, or ok == false if none exists.
	NextKey(key []byte) (nextKey []byte, ok bool, err error)

	// FullStorageRoot folds delta and childDelta into the backend's
	// existing state and returns an opaque root and a Transaction the
	// caller can later apply. The overlay treats both as caller-owned
	// values; it performs no hashing or trie work of its own.
	FullStorageRoot(delta []Delta, childDelta []ChildDelta) (root []byte, txn Transaction, err error)
}

// Transaction is an opaque handle to a pending write against Backend,
// produced by FullStorageRoot and carried verbatim into StorageChanges.
type Transaction interface {
	// Apply commits the transaction to the backend. Not called by the
	// overlay itself; it is exposed for whatever consumes StorageChanges.
	Apply() error
}

// ChildType distinguishes the kinds of child trie a ChildInfo can name.
// Substrate's overlayed_changes.rs has exactly one variant
// (ParentKeyId); a second reserved value leaves room for a future child
// trie kind without widening the ChildInfo contract.
type ChildType uint8

const (
	ChildTypeParentKeyID ChildType = iota + 1
	childTypeReserved
)

// ChildInfo identifies one child storage trie by its storage key and
// type tag.
type ChildInfo struct {
	storageKey []byte
	childType  ChildType
}

// NewDefaultChildInfo builds a ChildInfo of the only child type this
// overlay currently understands.
func NewDefaultChildInfo(storageKey []byte) ChildInfo {
	return ChildInfo{storageKey: append([]byte(nil), storageKey...), childType: ChildTypeParentKeyID}
}

// StorageKey returns the child trie's identifying key.
func (c ChildInfo) StorageKey() []byte { return c.storageKey }

// Type returns the child trie's type tag.
func (c ChildInfo) Type() ChildType { return c.childType }

// TryUpdate reports whether other can be merged into c, i.e. they name
// the same storage key and agree on child type. A false return is a
// fatal consistency violation: two incompatible descriptors are trying
// to share one child-storage-key slot.
func (c ChildInfo) TryUpdate(other ChildInfo) bool {
	return string(c.storageKey) == string(other.storageKey) && c.childType == other.childType
}

// Stats receives opaque size tallies from the overlay. It never
// influences overlay behavior.
type Stats interface {
	TallyReadModified(size uint64)
	TallyWriteOverlay(size uint64)
}

// NopStats discards every tally. Useful for tests and callers that do
// not care about overlay metrics.
type NopStats struct{}

func (NopStats) TallyReadModified(uint64) {}
func (NopStats) TallyWriteOverlay(uint64) {}
