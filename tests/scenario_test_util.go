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

// Package tests holds JSON-driven conformance scenarios for the
// storage overlay, the same shape the teacher's EVM StateTest vectors
// use (a json field parsed via UnmarshalJSON, replayed by a Run
// method) adapted to this module's own domain: op scripts against an
// overlay/backend pair instead of transaction execution traces.
package tests

import (
	"encoding/json"
	"fmt"

	"github.com/erigontech/erigon-overlay/core/state/overlay"
	"github.com/erigontech/erigon-overlay/erigon-lib/kv/membackend"
)

// OverlayScenario is one scripted sequence of overlay operations
// replayed against a freshly seeded in-memory backend, with a set of
// expected post-conditions.
type OverlayScenario struct {
	json scenarioJSON
}

type scenarioJSON struct {
	Seed map[string]string   `json:"seed"`
	Ops  []scenarioOp        `json:"ops"`
	Post map[string]*string  `json:"post"`
}

type scenarioOp struct {
	Op     string  `json:"op"`
	Key    string  `json:"key,omitempty"`
	Value  *string `json:"value,omitempty"`
	Prefix string  `json:"prefix,omitempty"`
}

func (s *OverlayScenario) UnmarshalJSON(in []byte) error {
	return json.Unmarshal(in, &s.json)
}

// Run replays the scenario's ops against a fresh membackend-backed
// overlay and checks every post-condition, returning the first
// mismatch (operation failure or wrong post value) it finds.
func (s *OverlayScenario) Run() error {
	backend := membackend.New()
	if len(s.json.Seed) > 0 {
		seed := make(map[string][]byte, len(s.json.Seed))
		for k, v := range s.json.Seed {
			seed[k] = []byte(v)
		}
		backend.Seed(seed)
	}

	ov := overlay.New(nil)
	for i, op := range s.json.Ops {
		if err := applyOp(ov, op); err != nil {
			return fmt.Errorf("op %d (%s %s): %w", i, op.Op, op.Key, err)
		}
	}

	for key, want := range s.json.Post {
		got, err := resolve(ov, backend, key)
		if err != nil {
			return fmt.Errorf("post %q: %w", key, err)
		}
		if want == nil {
			if got != nil {
				return fmt.Errorf("post %q: want deleted/absent, got %q", key, *got)
			}
			continue
		}
		if got == nil {
			return fmt.Errorf("post %q: want %q, got absent", key, *want)
		}
		if string(got) != *want {
			return fmt.Errorf("post %q: want %q, got %q", key, *want, string(got))
		}
	}
	return nil
}

func resolve(ov *overlay.Overlay, backend *membackend.Backend, key string) ([]byte, error) {
	if v, known := ov.Storage([]byte(key)); known {
		if v == nil {
			return nil, nil
		}
		return *v, nil
	}
	v, ok, err := backend.Get([]byte(key))
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

func applyOp(ov *overlay.Overlay, op scenarioOp) error {
	switch op.Op {
	case "set":
		ov.SetStorage([]byte(op.Key), stringPtrToBytesPtr(op.Value))
	case "delete":
		ov.SetStorage([]byte(op.Key), nil)
	case "clearPrefix":
		ov.ClearPrefix([]byte(op.Prefix))
	case "start":
		ov.StartTransaction()
	case "commit":
		ov.CommitTransaction()
	case "rollback":
		ov.RollbackTransaction()
	case "commitProspective":
		ov.CommitProspective()
	case "discardProspective":
		ov.DiscardProspective()
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	return nil
}

func stringPtrToBytesPtr(s *string) *[]byte {
	if s == nil {
		return nil
	}
	b := []byte(*s)
	return &b
}
