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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

func bytesPtr(s string) *[]byte {
	b := []byte(s)
	return &b
}

func TestOverlayBasicSetGet(t *testing.T) {
	o := New(nil)

	_, known := o.Storage([]byte("alice"))
	assert.False(t, known, "untouched key must report unknown, not a nil value")

	o.SetStorage([]byte("alice"), bytesPtr("100"))
	v, known := o.Storage([]byte("alice"))
	require.True(t, known)
	require.NotNil(t, v)
	assert.Equal(t, "100", string(*v))
}

func TestOverlayDeleteIsDistinctFromUnknown(t *testing.T) {
	o := New(nil)
	o.SetStorage([]byte("alice"), nil)

	v, known := o.Storage([]byte("alice"))
	require.True(t, known)
	assert.Nil(t, v)
}

func TestRollbackCancelsWrites(t *testing.T) {
	o := New(nil)
	o.SetStorage([]byte("alice"), bytesPtr("100"))

	o.StartTransaction()
	o.SetStorage([]byte("alice"), bytesPtr("200"))
	o.SetStorage([]byte("bob"), bytesPtr("50"))
	o.RollbackTransaction()

	v, known := o.Storage([]byte("alice"))
	require.True(t, known)
	assert.Equal(t, "100", string(*v))

	_, known = o.Storage([]byte("bob"))
	assert.False(t, known, "a key only ever touched inside the rolled-back transaction must vanish")
}

func TestCommitAbsorbsWrites(t *testing.T) {
	o := New(nil)
	o.SetStorage([]byte("alice"), bytesPtr("100"))

	o.StartTransaction()
	o.SetStorage([]byte("alice"), bytesPtr("200"))
	o.CommitTransaction()

	v, known := o.Storage([]byte("alice"))
	require.True(t, known)
	assert.Equal(t, "200", string(*v))
	assert.Equal(t, 0, o.Depth())
}

func TestNestingAssociativity(t *testing.T) {
	a := New(nil)
	a.SetStorage([]byte("k"), bytesPtr("v0"))
	a.StartTransaction()
	a.SetStorage([]byte("k"), bytesPtr("v1"))
	a.StartTransaction()
	a.SetStorage([]byte("k"), bytesPtr("v2"))
	a.CommitTransaction()
	a.CommitTransaction()

	b := New(nil)
	b.SetStorage([]byte("k"), bytesPtr("v0"))
	b.SetStorage([]byte("k"), bytesPtr("v2"))

	va, _ := a.Storage([]byte("k"))
	vb, _ := b.Storage([]byte("k"))
	assert.Equal(t, string(*vb), string(*va))
}

func TestLastWriteWinsWithinDepth(t *testing.T) {
	o := New(nil)
	o.StartTransaction()
	o.SetStorage([]byte("k"), bytesPtr("first"))
	o.SetStorage([]byte("k"), bytesPtr("second"))
	o.CommitTransaction()

	v, _ := o.Storage([]byte("k"))
	assert.Equal(t, "second", string(*v))
}

func TestClearPrefixIsIdempotent(t *testing.T) {
	o := New(nil)
	o.SetStorage([]byte("acc:1:balance"), bytesPtr("10"))
	o.SetStorage([]byte("acc:1:nonce"), bytesPtr("1"))
	o.SetStorage([]byte("acc:2:balance"), bytesPtr("20"))

	o.ClearPrefix([]byte("acc:1:"))
	o.ClearPrefix([]byte("acc:1:")) // idempotent: clearing twice must not panic or change the result

	v, known := o.Storage([]byte("acc:1:balance"))
	require.True(t, known)
	assert.Nil(t, v)

	v, known = o.Storage([]byte("acc:2:balance"))
	require.True(t, known)
	assert.Equal(t, "20", string(*v))
}

func TestChildStorageIsolatedFromMain(t *testing.T) {
	o := New(nil)
	info := kv.NewDefaultChildInfo([]byte("contract-a"))

	o.SetStorage([]byte("k"), bytesPtr("main-value"))
	o.SetChildStorage(info, []byte("k"), bytesPtr("child-value"))

	mainVal, _ := o.Storage([]byte("k"))
	childVal, _ := o.ChildStorage(info, []byte("k"))
	assert.Equal(t, "main-value", string(*mainVal))
	assert.Equal(t, "child-value", string(*childVal))
}

func TestEquivalentChildInfoReused(t *testing.T) {
	o := New(nil)
	infoA := kv.NewDefaultChildInfo([]byte("same-key"))
	o.SetChildStorage(infoA, []byte("k"), bytesPtr("v"))

	assert.NotPanics(t, func() {
		o.SetChildStorage(kv.NewDefaultChildInfo([]byte("same-key")), []byte("k2"), bytesPtr("v2"))
	})
}

func TestChildStorageFirstTouchedMidTransactionStaysBalanced(t *testing.T) {
	o := New(nil)
	info := kv.NewDefaultChildInfo([]byte("contract-a"))

	o.StartTransaction()
	o.SetChildStorage(info, []byte("k"), bytesPtr("v"))
	assert.NotPanics(t, func() { o.RollbackTransaction() })
	assert.Equal(t, 0, o.Depth())

	o.StartTransaction()
	o.StartTransaction()
	o.SetChildStorage(info, []byte("k2"), bytesPtr("v2"))
	assert.NotPanics(t, func() { o.CommitTransaction() })
	assert.NotPanics(t, func() { o.CommitTransaction() })
}

func TestUnbalancedTransactionPanics(t *testing.T) {
	o := New(nil)
	assert.PanicsWithError(t, ErrUnbalancedTransaction.Error(), func() {
		o.CommitTransaction()
	})
	assert.PanicsWithError(t, ErrUnbalancedTransaction.Error(), func() {
		o.RollbackTransaction()
	})
}

func TestExtrinsicIndexTracking(t *testing.T) {
	o := New(nil)
	o.SetCollectExtrinsics(true)

	o.SetExtrinsicIndex(0)
	o.SetStorage([]byte("k"), bytesPtr("v0"))
	o.SetExtrinsicIndex(1)
	o.SetStorage([]byte("k"), bytesPtr("v1"))

	lv, ok := o.top.get([]byte("k"))
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{0, 1}, lv.Extrinsics())
	assert.Equal(t, uint32(1), o.ExtrinsicIndex())
}

func TestExtrinsicIndexRecordsSentinelBeforeFirstSet(t *testing.T) {
	o := New(nil)
	o.SetCollectExtrinsics(true)

	o.SetStorage([]byte("k"), bytesPtr("v0"))

	lv, ok := o.top.get([]byte("k"))
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{noExtrinsicIndex}, lv.Extrinsics())
}

func TestExtrinsicIndexDisabledByDefault(t *testing.T) {
	o := New(nil)
	assert.Equal(t, noExtrinsicIndex, o.ExtrinsicIndex())
}

func TestCommitProspectiveClosesAllLevels(t *testing.T) {
	o := New(nil)
	o.StartTransaction()
	o.SetStorage([]byte("k"), bytesPtr("v1"))
	o.StartTransaction()
	o.SetStorage([]byte("k"), bytesPtr("v2"))
	require.Equal(t, 2, o.Depth())

	o.CommitProspective()
	assert.Equal(t, 0, o.Depth())
	v, _ := o.Storage([]byte("k"))
	assert.Equal(t, "v2", string(*v))
}

func TestDiscardProspectiveClosesAllLevels(t *testing.T) {
	o := New(nil)
	o.SetStorage([]byte("k"), bytesPtr("base"))
	o.StartTransaction()
	o.SetStorage([]byte("k"), bytesPtr("v1"))
	o.StartTransaction()
	o.SetStorage([]byte("k"), bytesPtr("v2"))

	o.DiscardProspective()
	assert.Equal(t, 0, o.Depth())
	v, _ := o.Storage([]byte("k"))
	assert.Equal(t, "base", string(*v))
}

func TestNextStorageKeyChange(t *testing.T) {
	o := New(nil)
	o.SetStorage([]byte("a"), bytesPtr("1"))
	o.SetStorage([]byte("c"), bytesPtr("3"))
	o.SetStorage([]byte("e"), bytesPtr("5"))

	next, lv, ok := o.NextStorageKeyChange([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, "c", string(next))
	assert.Equal(t, "3", string(*lv.CurrentValue()))

	_, _, ok = o.NextStorageKeyChange([]byte("e"))
	assert.False(t, ok)
}

func TestChangesetDrainCommittedRequiresZeroDepth(t *testing.T) {
	cs := NewChangeset()
	cs.StartTransaction()
	assert.PanicsWithError(t, ErrDrainAtNonZeroDepth.Error(), func() {
		cs.DrainCommitted()
	})
}

func TestChangesetDrainCommittedEmptiesAndReturnsDeltas(t *testing.T) {
	cs := NewChangeset()
	cs.Set([]byte("a"), bytesPtr("1"), nil)
	cs.Set([]byte("b"), nil, nil)

	deltas := cs.DrainCommitted()
	require.Len(t, deltas, 2)
	assert.Equal(t, []byte("a"), deltas[0].Key)
	assert.Equal(t, []byte("1"), deltas[0].Value)
	assert.Equal(t, []byte("b"), deltas[1].Key)
	assert.Nil(t, deltas[1].Value)

	assert.Empty(t, cs.Changes())
}

func TestChangesetCommitDepthOneLeavesSingleFrame(t *testing.T) {
	cs := NewChangeset()
	cs.StartTransaction()
	cs.Set([]byte("k"), bytesPtr("v"), nil)
	cs.CommitTransaction()

	lv, ok := cs.get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, 1, lv.depth())
}
