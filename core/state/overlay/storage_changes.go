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

package overlay

import (
	"fmt"

	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

// StorageChanges is the passive transport aggregate handed off once an
// overlay is fully drained: the main and child deltas, the backend
// transaction and opaque root produced by FullStorageRoot, and the
// (optional) changes-trie transaction. It has no behavior of its own;
// callers apply Transaction (and ChangesTrieTransaction.Txn, if
// present) however their own pipeline sees fit.
type StorageChanges struct {
	MainStorageChanges     []kv.Delta
	ChildStorageChanges    []kv.ChildDelta
	Transaction            kv.Transaction
	TransactionStorageRoot []byte
	ChangesTrieTransaction *ChangesTrieTransaction
}

// TransactionCache memoizes the backend transaction and (optional)
// changes-trie transaction across repeated StorageRoot /
// ChangesTrieRoot / DrainStorageChanges calls against the same block,
// the same role Substrate's StorageTransactionCache plays: computing a
// storage root is not free, and a caller may need the root long before
// it is ready to drain the overlay.
type TransactionCache struct {
	transaction               kv.Transaction
	transactionStorageRoot    []byte
	changesTrieTransaction    *ChangesTrieTransaction
	changesTrieTransactionSet bool
}

// Reset clears every cached value, forcing the next StorageRoot /
// ChangesTrieRoot call to recompute from scratch.
func (c *TransactionCache) Reset() {
	*c = TransactionCache{}
}

// StorageRoot computes (or returns the cached) root and backend
// transaction for everything this overlay currently holds, across the
// main trie and every child trie.
func (o *Overlay) StorageRoot(backend kv.Backend, cache *TransactionCache) ([]byte, error) {
	if cache.transaction != nil {
		return cache.transactionStorageRoot, nil
	}

	delta := entriesToDeltas(o.top.Changes())
	var childDeltas []kv.ChildDelta
	for _, cc := range o.children {
		childDeltas = append(childDeltas, kv.ChildDelta{
			Info:  cc.info,
			Delta: entriesToDeltas(cc.cs.Changes()),
		})
	}

	root, txn, err := backend.FullStorageRoot(delta, childDeltas)
	if err != nil {
		return nil, fmt.Errorf("overlay: computing storage root: %w", err)
	}
	cache.transaction = txn
	cache.transactionStorageRoot = root
	return root, nil
}

// ChangesTrieRoot builds (or returns the cached) changes-trie root via
// builder. A nil builder, or one that returns a nil transaction,
// records "no changes trie" in cache and returns a nil root.
func (o *Overlay) ChangesTrieRoot(backend kv.Backend, builder ChangesTrieBuilder, parentHash []byte, cache *TransactionCache) ([]byte, error) {
	if cache.changesTrieTransactionSet {
		if cache.changesTrieTransaction == nil {
			return nil, nil
		}
		return cache.changesTrieTransaction.Root, nil
	}
	if builder == nil {
		builder = NoChangesTrie{}
	}

	ctt, err := builder.Build(backend, o, parentHash)
	if err != nil {
		return nil, fmt.Errorf("overlay: building changes trie: %w", err)
	}
	cache.changesTrieTransaction = ctt
	cache.changesTrieTransactionSet = true
	if ctt == nil {
		return nil, nil
	}
	return ctt.Root, nil
}

// DrainStorageChanges computes the storage root and changes-trie root
// if not already cached, then empties the overlay (main trie and every
// child trie) and returns everything as a StorageChanges. It requires
// depth 0 on the main trie and on every child trie: draining mid
// transaction would silently discard in-progress nested writes.
func (o *Overlay) DrainStorageChanges(backend kv.Backend, builder ChangesTrieBuilder, parentHash []byte, cache *TransactionCache) (*StorageChanges, error) {
	o.requireZeroDepth("drain storage changes")

	root, err := o.StorageRoot(backend, cache)
	if err != nil {
		return nil, err
	}
	if _, err := o.ChangesTrieRoot(backend, builder, parentHash, cache); err != nil {
		return nil, err
	}

	main, children := o.drainCommitted()

	return &StorageChanges{
		MainStorageChanges:     main,
		ChildStorageChanges:    children,
		Transaction:            cache.transaction,
		TransactionStorageRoot: root,
		ChangesTrieTransaction: cache.changesTrieTransaction,
	}, nil
}

func (o *Overlay) drainCommitted() ([]kv.Delta, []kv.ChildDelta) {
	main := o.top.DrainCommitted()
	var children []kv.ChildDelta
	for _, cc := range o.children {
		children = append(children, kv.ChildDelta{Info: cc.info, Delta: cc.cs.DrainCommitted()})
	}
	o.children = make(map[string]*childChangeset)
	return main, children
}

func entriesToDeltas(entries []ChangeEntry) []kv.Delta {
	deltas := make([]kv.Delta, 0, len(entries))
	for _, e := range entries {
		deltas = append(deltas, kv.Delta{Key: e.Key, Value: derefOrNil(e.Value.CurrentValue())})
	}
	return deltas
}
