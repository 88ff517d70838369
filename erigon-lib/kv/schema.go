// Copyright 2021 The Erigon Authors
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

package kv

// SchemaVersion identifies the on-disk bucket layout a bboltbackend.Backend
// was created with, the same role DBSchemaVersion plays for Erigon's
// chaindata: bump it whenever a bucket is added, renamed, or its key
// format changes.
const SchemaVersion = "v1"

const (
	// MainBucket holds the committed main-trie key/value pairs:
	// key -> value. Absence of a key means "never written".
	MainBucket = "Main"

	// ChildBucketPrefix + child-storage-key names one bucket per child
	// trie, same key/value layout as MainBucket.
	ChildBucketPrefix = "Child/"

	// ChildInfoBucket records child-storage-key -> child type byte for
	// every child trie written. Nothing in this module reads it back.
	ChildInfoBucket = "ChildInfo"

	// MetaBucket stores store-level bookkeeping; currently only the
	// schema version.
	MetaBucket = "Meta"
)

// MetaSchemaVersionKey is the MetaBucket key the schema version is
// stored under.
var MetaSchemaVersionKey = []byte("schemaVersion")
