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

// Package overlay implements a transactional, in-memory changeset that
// sits in front of a kv.Backend: a read of a key the overlay has never
// touched reports "unknown" so the caller can consult the backend,
// writes accumulate in nested transaction frames until committed
// or rolled back, and the whole thing can be drained into a
// StorageChanges ready to apply to the backend. It is the Go
// counterpart of Substrate's OverlayedChanges: single-owner,
// non-persistent, and deliberately ignorant of hashing or trie work,
// which it leaves entirely to kv.Backend.
package overlay

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/erigontech/erigon-overlay/erigon-lib/common/math"
	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

// extrinsicIndexKey is the well-known main-trie key the current block's
// executing extrinsic index is recorded under, mirroring Substrate's
// EXTRINSIC_INDEX well-known key.
var extrinsicIndexKey = []byte(":extrinsic_index")

// noExtrinsicIndex is the sentinel returned by ExtrinsicIndex when no
// extrinsic index has been set for the current block, or extrinsic
// collection is disabled. It reuses the teacher's integer-limits
// package rather than redeclaring math.MaxUint32 locally.
const noExtrinsicIndex uint32 = math.MaxUint32

// childChangeset pairs one child trie's Changeset with the descriptor
// that named it.
type childChangeset struct {
	cs   *Changeset
	info kv.ChildInfo
}

// Overlay is the main entry point: one main-trie Changeset, a lazily
// populated set of child-trie Changesets, and a switch controlling
// whether extrinsic indices are tracked at all (most callers running
// outside block execution have collectExtrinsics off).
type Overlay struct {
	top               *Changeset
	children          map[string]*childChangeset
	collectExtrinsics bool
	stats             kv.Stats
}

// New returns an empty Overlay. A nil stats is replaced with
// kv.NopStats.
func New(stats kv.Stats) *Overlay {
	if stats == nil {
		stats = kv.NopStats{}
	}
	return &Overlay{
		top:      NewChangeset(),
		children: make(map[string]*childChangeset),
		stats:    stats,
	}
}

// SetCollectExtrinsics toggles extrinsic-index tracking.
func (o *Overlay) SetCollectExtrinsics(on bool) {
	o.collectExtrinsics = on
}

// Depth reports the number of currently open nested transactions.
func (o *Overlay) Depth() int {
	return o.top.Depth()
}

// extrinsicIndexOrNil returns the value a write should record into its
// extrinsics set: nil when collection is disabled (nothing is
// recorded), and otherwise always a non-nil index — falling back to
// the NO_EXTRINSIC_INDEX sentinel itself when collection is on but no
// SetExtrinsicIndex call has happened yet, per spec.md's extrinsic_index
// contract and the original source's extrinsic_changes_are_collected
// test (a write made before the first SetExtrinsicIndex records
// {NO_EXTRINSIC_INDEX}, not an empty set).
func (o *Overlay) extrinsicIndexOrNil() *uint32 {
	if !o.collectExtrinsics {
		return nil
	}
	idx := o.ExtrinsicIndex()
	return &idx
}

// Storage returns the overlay's opinion of key in the main trie.
// known == false means the overlay has never touched key; the caller
// must fall through to the backend.
func (o *Overlay) Storage(key []byte) (value *[]byte, known bool) {
	lv, ok := o.top.get(key)
	if !ok {
		return nil, false
	}
	v := lv.CurrentValue()
	o.stats.TallyReadModified(sizeOf(v))
	return v, true
}

// SetStorage records a direct write to key in the main trie.
func (o *Overlay) SetStorage(key []byte, value *[]byte) {
	o.stats.TallyWriteOverlay(sizeOf(value))
	o.top.Set(key, value, o.extrinsicIndexOrNil())
}

func (o *Overlay) childChangesetFor(info kv.ChildInfo) *childChangeset {
	key := string(info.StorageKey())
	cc, ok := o.children[key]
	if !ok {
		cc = &childChangeset{cs: NewChangeset(), info: info}
		// Catch the new child Changeset up to the overlay's current
		// depth: every Changeset in an Overlay must share identical
		// depth, or the very next CommitTransaction/RollbackTransaction
		// fan-out panics with ErrUnbalancedTransaction on this child.
		for i := 0; i < o.Depth(); i++ {
			cc.cs.StartTransaction()
		}
		o.children[key] = cc
		return cc
	}
	if !cc.info.TryUpdate(info) {
		logrus.WithField("storageKey", key).Error("overlay: incompatible child info for storage key")
		panic(ErrIncompatibleChildInfo)
	}
	return cc
}

// ChildStorage returns the overlay's opinion of key in the named child
// trie. known == false means the caller must fall through to the
// backend's GetChild.
func (o *Overlay) ChildStorage(info kv.ChildInfo, key []byte) (value *[]byte, known bool) {
	cc, ok := o.children[string(info.StorageKey())]
	if !ok {
		return nil, false
	}
	if !cc.info.TryUpdate(info) {
		panic(ErrIncompatibleChildInfo)
	}
	lv, ok := cc.cs.get(key)
	if !ok {
		return nil, false
	}
	v := lv.CurrentValue()
	o.stats.TallyReadModified(sizeOf(v))
	return v, true
}

// SetChildStorage records a direct write to key in the named child
// trie.
func (o *Overlay) SetChildStorage(info kv.ChildInfo, key []byte, value *[]byte) {
	o.stats.TallyWriteOverlay(sizeOf(value))
	o.childChangesetFor(info).cs.Set(key, value, o.extrinsicIndexOrNil())
}

// ClearChildStorage deletes every key this overlay currently knows
// about in the named child trie. Like Changeset.ClearPrefix, this only
// reaches keys already present in the overlay's child changeset; keys
// that exist only in the backend are left untouched.
func (o *Overlay) ClearChildStorage(info kv.ChildInfo) {
	cc := o.childChangesetFor(info)
	atExtrinsic := o.extrinsicIndexOrNil()
	for _, entry := range cc.cs.Changes() {
		cc.cs.Set(entry.Key, nil, atExtrinsic)
	}
}

// ClearPrefix deletes every currently-known main-trie key with the
// given prefix.
func (o *Overlay) ClearPrefix(prefix []byte) {
	o.top.ClearPrefix(prefix, o.extrinsicIndexOrNil())
}

// ClearChildPrefix deletes every currently-known key with the given
// prefix in the named child trie.
func (o *Overlay) ClearChildPrefix(info kv.ChildInfo, prefix []byte) {
	o.childChangesetFor(info).cs.ClearPrefix(prefix, o.extrinsicIndexOrNil())
}

// StartTransaction opens a new nested transaction across the main
// trie and every child trie touched so far.
func (o *Overlay) StartTransaction() {
	o.top.StartTransaction()
	for _, cc := range o.children {
		cc.cs.StartTransaction()
	}
}

// RollbackTransaction discards the innermost open transaction's writes
// across the main trie and every child trie.
func (o *Overlay) RollbackTransaction() {
	o.top.RollbackTransaction()
	for _, cc := range o.children {
		cc.cs.RollbackTransaction()
	}
}

// CommitTransaction absorbs the innermost open transaction's writes
// into its enclosing depth, across the main trie and every child trie.
func (o *Overlay) CommitTransaction() {
	o.top.CommitTransaction()
	for _, cc := range o.children {
		cc.cs.CommitTransaction()
	}
}

// CommitProspective commits every currently open nested transaction
// down to depth 0. Substrate's commit_prospective/discard_prospective
// are not a second transaction axis distinct from the ordinary
// start/commit/rollback triple (an Open Question in the distilled
// spec); this overlay resolves it as a loop over the ordinary
// per-level commit, based on how the original's own test suite drives
// the two APIs interchangeably. See DESIGN.md.
func (o *Overlay) CommitProspective() {
	for o.Depth() > 0 {
		o.CommitTransaction()
	}
}

// DiscardProspective rolls back every currently open nested
// transaction down to depth 0. See CommitProspective.
func (o *Overlay) DiscardProspective() {
	for o.Depth() > 0 {
		o.RollbackTransaction()
	}
}

// ExtrinsicIndex returns the extrinsic index most recently recorded by
// SetExtrinsicIndex, or noExtrinsicIndex if none has been set (or
// extrinsic collection is off).
func (o *Overlay) ExtrinsicIndex() uint32 {
	if !o.collectExtrinsics {
		return noExtrinsicIndex
	}
	lv, ok := o.top.get(extrinsicIndexKey)
	if !ok {
		return noExtrinsicIndex
	}
	v := lv.CurrentValue()
	if v == nil || len(*v) != 4 {
		return noExtrinsicIndex
	}
	return binary.BigEndian.Uint32(*v)
}

// SetExtrinsicIndex records the currently executing extrinsic's index
// and clears the extrinsic set of the index key's current frame, so the
// bookkeeping write itself is not attributed to any extrinsic:
// subsequent writes made before the next SetExtrinsicIndex call are
// attributed to this index.
func (o *Overlay) SetExtrinsicIndex(index uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, index)
	frame := o.top.Modify(extrinsicIndexKey, nil, func() []byte { return nil })
	frame.value = &buf
	frame.extrinsics.Clear()
}

func sizeOf(v *[]byte) uint64 {
	if v == nil {
		return 0
	}
	return uint64(len(*v))
}

// ChildInfos returns the descriptors of every child trie this overlay
// has touched, in no particular order.
func (o *Overlay) ChildInfos() []kv.ChildInfo {
	infos := make([]kv.ChildInfo, 0, len(o.children))
	for _, cc := range o.children {
		infos = append(infos, cc.info)
	}
	return infos
}

// Changes returns a snapshot of the main trie's currently known keys.
func (o *Overlay) Changes() []ChangeEntry {
	return o.top.Changes()
}

// ChildChanges returns a snapshot of the named child trie's currently
// known keys, or nil if the overlay has never touched that child trie.
func (o *Overlay) ChildChanges(info kv.ChildInfo) []ChangeEntry {
	cc, ok := o.children[string(info.StorageKey())]
	if !ok {
		return nil
	}
	return cc.cs.Changes()
}

// NextStorageKeyChange returns the smallest main-trie key strictly
// greater than key that this overlay currently knows about.
func (o *Overlay) NextStorageKeyChange(key []byte) ([]byte, *LayeredValue, bool) {
	return o.top.NextKeyChange(key)
}

// NextChildStorageKeyChange returns the smallest key strictly greater
// than key that this overlay currently knows about in the named child
// trie.
func (o *Overlay) NextChildStorageKeyChange(info kv.ChildInfo, key []byte) ([]byte, *LayeredValue, bool) {
	cc, ok := o.children[string(info.StorageKey())]
	if !ok {
		return nil, nil, false
	}
	return cc.cs.NextKeyChange(key)
}

func (o *Overlay) requireZeroDepth(op string) {
	if o.Depth() != 0 {
		panic(fmt.Errorf("%s: %w", op, ErrDrainAtNonZeroDepth))
	}
	for key, cc := range o.children {
		if cc.cs.Depth() != 0 {
			panic(fmt.Errorf("%s: child %q: %w", op, key, ErrDrainAtNonZeroDepth))
		}
	}
}
