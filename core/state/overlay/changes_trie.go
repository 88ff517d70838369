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

import "github.com/erigontech/erigon-overlay/erigon-lib/kv"

// ChangesTrieTransaction bundles a changes-trie root with the backend
// transaction needed to persist it, exactly mirroring the shape of the
// main FullStorageRoot result.
type ChangesTrieTransaction struct {
	Root []byte
	Txn  kv.Transaction
}

// ChangesTrieBuilder builds an (optional) changes trie from the
// overlay's recorded extrinsic indices. Building and hashing a changes
// trie is out of scope for this module (see DESIGN.md): the
// overlay only needs somewhere to plug one in, so DrainStorageChanges
// can carry its output without knowing anything about its internals.
type ChangesTrieBuilder interface {
	Build(backend kv.Backend, ov *Overlay, parentHash []byte) (*ChangesTrieTransaction, error)
}

// NoChangesTrie is the default ChangesTrieBuilder: it builds nothing.
// Used whenever a caller has no changes-trie collaborator to offer.
type NoChangesTrie struct{}

func (NoChangesTrie) Build(kv.Backend, *Overlay, []byte) (*ChangesTrieTransaction, error) {
	return nil, nil
}
