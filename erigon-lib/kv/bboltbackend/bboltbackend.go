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

// Package bboltbackend is the reference, disk-backed kv.Backend. It
// stands in for the teacher's mdbx-go chaindata store: same "ordered
// key-value store with native cursors" shape, a library whose Go API
// this package's author could actually ground calls on.
package bboltbackend

import (
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/gofrs/flock"

	"github.com/erigontech/erigon-overlay/erigon-lib/kv"
)

// Backend is a kv.Backend backed by a single bbolt file, with a process
// lock enforcing the "single-owner" invariant the overlay above it
// assumes (spec §5), and an LRU of resolved reads so repeat lookups of
// the same rarely-changing keys skip the bbolt transaction entirely.
type Backend struct {
	db    *bolt.DB
	lock  *flock.Flock
	cache *lru.Cache[string, []byte]
}

// Open opens (creating if absent) a bbolt-backed store at dir, after
// acquiring an exclusive file lock at dir/LOCK. cacheSize is the number
// of resolved main-trie reads kept in the LRU; 0 disables caching.
func Open(dir string, cacheSize int) (*Backend, error) {
	lock := flock.New(filepath.Join(dir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("bboltbackend: acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("bboltbackend: %s is already owned by another process", dir)
	}

	db, err := bolt.Open(filepath.Join(dir, "overlay.db"), 0o600, nil)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("bboltbackend: opening db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(kv.MainBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(kv.ChildInfoBucket)); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(kv.MetaBucket))
		if err != nil {
			return err
		}
		return meta.Put(kv.MetaSchemaVersionKey, []byte(kv.SchemaVersion))
	})
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("bboltbackend: initializing schema: %w", err)
	}

	var cache *lru.Cache[string, []byte]
	if cacheSize > 0 {
		cache, err = lru.New[string, []byte](cacheSize)
		if err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("bboltbackend: building read cache: %w", err)
		}
	}

	return &Backend{db: db, lock: lock, cache: cache}, nil
}

// Close releases the bbolt file and the process lock.
func (b *Backend) Close() error {
	dbErr := b.db.Close()
	lockErr := b.lock.Unlock()
	if dbErr != nil {
		return dbErr
	}
	return lockErr
}

func childBucketName(info kv.ChildInfo) string {
	return kv.ChildBucketPrefix + string(info.StorageKey())
}

func (b *Backend) Get(key []byte) ([]byte, bool, error) {
	if b.cache != nil {
		if v, ok := b.cache.Get(string(key)); ok {
			return v, v != nil, nil
		}
	}
	var value []byte
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(kv.MainBucket)).Get(key)
		if v != nil {
			value = append([]byte{}, v...)
			ok = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if b.cache != nil {
		b.cache.Add(string(key), value)
	}
	return value, ok, nil
}

func (b *Backend) GetChild(info kv.ChildInfo, key []byte) ([]byte, bool, error) {
	var value []byte
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(childBucketName(info)))
		if bucket == nil {
			return nil
		}
		v := bucket.Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return value, ok, err
}

func (b *Backend) NextKey(key []byte) ([]byte, bool, error) {
	var next []byte
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(kv.MainBucket)).Cursor()
		k, _ := c.Seek(key)
		if k != nil && string(k) == string(key) {
			k, _ = c.Next()
		}
		if k != nil {
			next = append([]byte(nil), k...)
			ok = true
		}
		return nil
	})
	return next, ok, err
}

// FullStorageRoot applies delta/childDelta to the bbolt file inside one
// write transaction and returns that transaction's commit as the
// Transaction handle; the "root" is an opaque marker, never a real trie
// hash (hashing is out of scope, see kv.Backend).
func (b *Backend) FullStorageRoot(delta []kv.Delta, childDelta []kv.ChildDelta) ([]byte, kv.Transaction, error) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		main := tx.Bucket([]byte(kv.MainBucket))
		for _, d := range delta {
			if d.Value == nil {
				if err := main.Delete(d.Key); err != nil {
					return err
				}
				continue
			}
			if err := main.Put(d.Key, d.Value); err != nil {
				return err
			}
		}
		childInfo := tx.Bucket([]byte(kv.ChildInfoBucket))
		for _, cd := range childDelta {
			name := childBucketName(cd.Info)
			bucket, err := tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return err
			}
			if err := childInfo.Put(cd.Info.StorageKey(), []byte{byte(cd.Info.Type())}); err != nil {
				return err
			}
			for _, d := range cd.Delta {
				if d.Value == nil {
					if err := bucket.Delete(d.Key); err != nil {
						return err
					}
					continue
				}
				if err := bucket.Put(d.Key, d.Value); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bboltbackend: applying storage root delta: %w", err)
	}
	if b.cache != nil {
		for _, d := range delta {
			b.cache.Remove(string(d.Key))
		}
	}
	return []byte("bboltbackend-root"), alreadyAppliedTxn{}, nil
}

// alreadyAppliedTxn satisfies kv.Transaction for a backend that applies
// mutations synchronously inside FullStorageRoot itself.
type alreadyAppliedTxn struct{}

func (alreadyAppliedTxn) Apply() error { return nil }
