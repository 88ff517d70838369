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

// Package state adapts core/state/overlay into a read path shaped like
// the teacher's HistoryReaderV3: a small resettable reader that a
// caller re-points at a different overlay/backend pair per block,
// rather than constructing fresh on every read.
package state

import (
	"fmt"

	"github.com/erigontech/erigon-overlay/core/state/overlay"
	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

// OverlayStateReader answers storage reads against an overlay.Overlay
// first, falling through to a kv.Backend on any key the overlay has
// never touched. It plays the same role HistoryReaderV3 plays in the
// teacher: reusable across many reads, reset between blocks via
// SetOverlay/SetBackend rather than reallocated.
type OverlayStateReader struct {
	ov      *overlay.Overlay
	backend kv.Backend
	trace   bool

	// childKeyBuf is not read or written by any method of the reader.
	childKeyBuf []byte
}

// NewOverlayStateReader returns a reader over ov and backend. Either
// may be nil initially and supplied later via SetOverlay/SetBackend.
func NewOverlayStateReader(ov *overlay.Overlay, backend kv.Backend) *OverlayStateReader {
	return &OverlayStateReader{ov: ov, backend: backend}
}

func (r *OverlayStateReader) String() string {
	if r.ov == nil {
		return "overlay:<none>"
	}
	return fmt.Sprintf("overlay depth:%d", r.ov.Depth())
}

// SetOverlay re-points the reader at a different overlay, e.g. when
// moving on to the next block's in-progress state.
func (r *OverlayStateReader) SetOverlay(ov *overlay.Overlay) { r.ov = ov }

// SetBackend re-points the reader at a different backend.
func (r *OverlayStateReader) SetBackend(b kv.Backend) { r.backend = b }

// SetTrace toggles per-read debug logging to stdout, as HistoryReaderV3 does.
func (r *OverlayStateReader) SetTrace(trace bool) { r.trace = trace }

// ReadStorage resolves key against the overlay, falling through to the
// backend if the overlay has no opinion on it.
func (r *OverlayStateReader) ReadStorage(key []byte) ([]byte, error) {
	if v, known := r.ov.Storage(key); known {
		if r.trace {
			fmt.Printf("ReadStorage [%x] => [%x] (overlay)\n", key, derefTraceValue(v))
		}
		return derefValue(v), nil
	}
	v, ok, err := r.backend.Get(key)
	if err != nil {
		return nil, fmt.Errorf("ReadStorage(%x): %w", key, err)
	}
	if r.trace {
		status := "miss"
		if ok {
			status = "backend"
		}
		fmt.Printf("ReadStorage [%x] => [%x] (%s)\n", key, v, status)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

// ReadChildStorage resolves key in the named child trie against the
// overlay, falling through to the backend's GetChild.
func (r *OverlayStateReader) ReadChildStorage(info kv.ChildInfo, key []byte) ([]byte, error) {
	if v, known := r.ov.ChildStorage(info, key); known {
		if r.trace {
			fmt.Printf("ReadChildStorage [%x][%x] => [%x] (overlay)\n", info.StorageKey(), key, derefTraceValue(v))
		}
		return derefValue(v), nil
	}
	v, ok, err := r.backend.GetChild(info, key)
	if err != nil {
		return nil, fmt.Errorf("ReadChildStorage(%x,%x): %w", info.StorageKey(), key, err)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

func derefValue(v *[]byte) []byte {
	if v == nil {
		return nil
	}
	return *v
}

func derefTraceValue(v *[]byte) []byte {
	if v == nil {
		return []byte("<deleted>")
	}
	return *v
}
