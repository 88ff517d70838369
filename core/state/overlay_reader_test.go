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

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/erigon-overlay/core/state/overlay"
	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
	"github.com/erigontech/erigon-overlay/erigon-lib/kv/membackend"
)

func bp(s string) *[]byte {
	b := []byte(s)
	return &b
}

func TestOverlayStateReaderFallsThroughToBackend(t *testing.T) {
	backend := membackend.New()
	backend.Seed(map[string][]byte{"k": []byte("backend-value")})

	ov := overlay.New(nil)
	r := NewOverlayStateReader(ov, backend)

	v, err := r.ReadStorage([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "backend-value", string(v))
}

func TestOverlayStateReaderPrefersOverlay(t *testing.T) {
	backend := membackend.New()
	backend.Seed(map[string][]byte{"k": []byte("backend-value")})

	ov := overlay.New(nil)
	ov.SetStorage([]byte("k"), bp("overlay-value"))
	r := NewOverlayStateReader(ov, backend)

	v, err := r.ReadStorage([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "overlay-value", string(v))
}

func TestOverlayStateReaderOverlayDeleteShadowsBackend(t *testing.T) {
	backend := membackend.New()
	backend.Seed(map[string][]byte{"k": []byte("backend-value")})

	ov := overlay.New(nil)
	ov.SetStorage([]byte("k"), nil)
	r := NewOverlayStateReader(ov, backend)

	v, err := r.ReadStorage([]byte("k"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOverlayStateReaderUnknownKeyReturnsNil(t *testing.T) {
	backend := membackend.New()
	ov := overlay.New(nil)
	r := NewOverlayStateReader(ov, backend)

	v, err := r.ReadStorage([]byte("missing"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOverlayStateReaderChildStorage(t *testing.T) {
	backend := membackend.New()
	info := kv.NewDefaultChildInfo([]byte("child-a"))

	ov := overlay.New(nil)
	ov.SetChildStorage(info, []byte("k"), bp("v"))
	r := NewOverlayStateReader(ov, backend)

	v, err := r.ReadChildStorage(info, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestOverlayStateReaderSetOverlayAndBackend(t *testing.T) {
	r := NewOverlayStateReader(overlay.New(nil), membackend.New())
	newOv := overlay.New(nil)
	newOv.SetStorage([]byte("k"), bp("new"))
	r.SetOverlay(newOv)

	v, err := r.ReadStorage([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(v))
}
