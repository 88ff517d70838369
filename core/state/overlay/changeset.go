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
	"bytes"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

// btreeDegree mirrors the degree membackend.Store uses for its own
// ordered key space; a Changeset has the same access pattern (point
// lookups interleaved with ordered successor scans).
const btreeDegree = 32

// changeEntry is the btree.Item stored for one changed key.
type changeEntry struct {
	key   []byte
	value *LayeredValue
}

func (e *changeEntry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*changeEntry).key) < 0
}

// ChangeEntry is a snapshot of one key's current layered value, handed
// out by Changes and the NextKeyChange family. The set of entries is
// fixed when it is returned, but Value points at the Changeset's own
// LayeredValue, so later writes to that key are visible through it.
type ChangeEntry struct {
	Key   []byte
	Value *LayeredValue
}

// Changeset is one ordered key space (the main trie, or one child
// trie) with its own nested-transaction depth. It is the Go shape of
// Substrate's OverlayedMap: an ordered btree of LayeredValue plus a
// stack of per-depth dirty-key sets that double as the "does a frame
// for this key already exist at this depth" oracle, so commit/rollback
// never has to scan the whole map.
type Changeset struct {
	changes   *btree.BTree
	dirtyKeys []map[string][]byte
}

// NewChangeset returns an empty Changeset at depth 0.
func NewChangeset() *Changeset {
	return &Changeset{changes: btree.New(btreeDegree)}
}

// Depth reports the number of currently open nested transactions.
func (cs *Changeset) Depth() int {
	return len(cs.dirtyKeys)
}

func (cs *Changeset) get(key []byte) (*LayeredValue, bool) {
	item := cs.changes.Get(&changeEntry{key: key})
	if item == nil {
		return nil, false
	}
	return item.(*changeEntry).value, true
}

func (cs *Changeset) getOrCreate(key []byte) *LayeredValue {
	if lv, ok := cs.get(key); ok {
		return lv
	}
	lv := newLayeredValue()
	cs.changes.ReplaceOrInsert(&changeEntry{key: append([]byte(nil), key...), value: lv})
	return lv
}

// markDirty records key as touched at the current depth, returning
// true the first time it is touched in this transaction. Called with
// no open transaction (depth 0) it always returns false: there is no
// nested frame to distinguish "first write" from "overwrite".
func (cs *Changeset) markDirty(key []byte) bool {
	if len(cs.dirtyKeys) == 0 {
		return false
	}
	top := cs.dirtyKeys[len(cs.dirtyKeys)-1]
	k := string(key)
	if _, exists := top[k]; exists {
		return false
	}
	top[k] = append([]byte(nil), key...)
	return true
}

// Set records a direct write of value (nil for delete) at key. When
// atExtrinsic is non-nil the extrinsic index is recorded against the
// frame that now carries value.
func (cs *Changeset) Set(key []byte, value *[]byte, atExtrinsic *uint32) {
	firstWriteInTx := cs.markDirty(key)
	lv := cs.getOrCreate(key)

	var frame *valueFrame
	if firstWriteInTx || lv.depth() == 0 {
		frame = lv.pushFrame(value)
	} else {
		frame = lv.topFrame()
		frame.value = value
	}
	if atExtrinsic != nil {
		frame.extrinsics.Add(*atExtrinsic)
	}
}

// Modify returns the top frame for key, suitable for in-place mutation
// by the caller (e.g. read-modify-write of an account's storage
// value). If this is the first touch of key in the current
// transaction, a new frame is pushed by cloning the previous depth's
// value (or invoking init if there was no previous value at all).
func (cs *Changeset) Modify(key []byte, atExtrinsic *uint32, init func() []byte) *valueFrame {
	firstWriteInTx := cs.markDirty(key)
	lv := cs.getOrCreate(key)

	var frame *valueFrame
	if firstWriteInTx || lv.depth() == 0 {
		if lv.depth() > 0 {
			frame = lv.pushFrame(cloneBytesPtr(lv.frames[lv.depth()-1].value))
		} else {
			initial := init()
			frame = lv.pushFrame(&initial)
		}
	} else {
		frame = lv.topFrame()
	}
	if atExtrinsic != nil {
		frame.extrinsics.Add(*atExtrinsic)
	}
	return frame
}

// StartTransaction opens a new nested transaction.
func (cs *Changeset) StartTransaction() {
	cs.dirtyKeys = append(cs.dirtyKeys, make(map[string][]byte))
}

// RollbackTransaction discards every write made since the matching
// StartTransaction: each touched key's deepest frame is popped, and
// keys left with no frames at all (and no enclosing transaction still
// holding one) are removed from the changeset entirely.
func (cs *Changeset) RollbackTransaction() {
	if len(cs.dirtyKeys) == 0 {
		logrus.Error("overlay: rollback called with no open transaction")
		panic(ErrUnbalancedTransaction)
	}
	top := cs.dirtyKeys[len(cs.dirtyKeys)-1]
	cs.dirtyKeys = cs.dirtyKeys[:len(cs.dirtyKeys)-1]

	for _, key := range top {
		lv, ok := cs.get(key)
		if !ok {
			continue
		}
		lv.popFrame()
		if lv.depth() == 0 {
			cs.changes.Delete(&changeEntry{key: key})
		}
	}
}

// CommitTransaction absorbs every write made since the matching
// StartTransaction into the enclosing depth (or, at depth 1, makes it
// the new baseline). A key touched at this depth that was not dirty at
// the parent depth is left alone: the parent adopts this depth's frame
// as its own, so there is nothing to merge. A key that was already
// dirty at the parent depth has its top frame popped and folded into
// the parent's frame.
func (cs *Changeset) CommitTransaction() {
	if len(cs.dirtyKeys) == 0 {
		logrus.Error("overlay: commit called with no open transaction")
		panic(ErrUnbalancedTransaction)
	}
	top := cs.dirtyKeys[len(cs.dirtyKeys)-1]
	cs.dirtyKeys = cs.dirtyKeys[:len(cs.dirtyKeys)-1]

	for _, key := range top {
		lv, ok := cs.get(key)
		if !ok {
			continue
		}

		var mergeNeeded bool
		if len(cs.dirtyKeys) > 0 {
			parentTop := cs.dirtyKeys[len(cs.dirtyKeys)-1]
			k := string(key)
			if _, exists := parentTop[k]; exists {
				// Parent already owns a frame for this key (e.g. it
				// wrote to it before opening this nested transaction);
				// fold this depth's frame into that one.
				mergeNeeded = true
			} else {
				// Parent adopts this depth's frame as its own; no
				// separate parent frame exists yet, so nothing to fold.
				parentTop[k] = key
				mergeNeeded = false
			}
		} else {
			mergeNeeded = lv.depth() > 1
		}
		if !mergeNeeded {
			continue
		}

		dropped := lv.popFrame()
		parent := lv.topFrame()
		parent.value = dropped.value
		parent.extrinsics.Or(dropped.extrinsics)
	}
}

// ClearPrefix deletes every currently-known key with the given prefix.
// Keys present only in the backend (never touched by this overlay) are
// not enumerated here; the caller is responsible for combining this
// with a backend-side prefix scan if backend-only keys must be cleared
// too (see Overlay.ClearPrefix).
func (cs *Changeset) ClearPrefix(prefix []byte, atExtrinsic *uint32) {
	var matched [][]byte
	cs.changes.AscendGreaterOrEqual(&changeEntry{key: prefix}, func(item btree.Item) bool {
		e := item.(*changeEntry)
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}
		matched = append(matched, e.key)
		return true
	})
	for _, key := range matched {
		cs.Set(key, nil, atExtrinsic)
	}
}

// NextKeyChange returns the lexicographically smallest changed key
// strictly greater than key, along with its layered value.
func (cs *Changeset) NextKeyChange(key []byte) (nextKey []byte, value *LayeredValue, ok bool) {
	cs.changes.AscendGreaterOrEqual(&changeEntry{key: key}, func(item btree.Item) bool {
		e := item.(*changeEntry)
		if bytes.Equal(e.key, key) {
			return true
		}
		nextKey, value, ok = e.key, e.value, true
		return false
	})
	return
}

// Changes returns a point-in-time snapshot of every key this changeset
// currently knows about, in ascending order.
func (cs *Changeset) Changes() []ChangeEntry {
	entries := make([]ChangeEntry, 0, cs.changes.Len())
	cs.changes.Ascend(func(item btree.Item) bool {
		e := item.(*changeEntry)
		entries = append(entries, ChangeEntry{Key: e.key, Value: e.value})
		return true
	})
	return entries
}

// DrainCommitted empties the changeset and returns every key's final
// value as a kv.Delta list, in ascending key order. It requires depth
// 0: draining with an open transaction would silently discard
// in-progress work.
func (cs *Changeset) DrainCommitted() []kv.Delta {
	if len(cs.dirtyKeys) != 0 {
		panic(ErrDrainAtNonZeroDepth)
	}
	deltas := make([]kv.Delta, 0, cs.changes.Len())
	cs.changes.Ascend(func(item btree.Item) bool {
		e := item.(*changeEntry)
		deltas = append(deltas, kv.Delta{Key: e.key, Value: derefOrNil(e.value.CurrentValue())})
		return true
	})
	cs.changes.Clear(false)
	return deltas
}
