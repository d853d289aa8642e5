// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package omapcache caches resolved object-map lookups for the lifetime of
// one Volume.Open, so repeated catalog B-tree descents (which re-resolve
// the same handful of hot OIDs on every path lookup) don't re-walk the
// OMAP B-tree each time. Backed by an in-memory pebble.DB keyed by the
// xxhash of the OID, matching the teacher go.mod's pebble/xxhash pairing.
package omapcache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

// Cache is a read-through cache for oid -> physical block number. It is not
// safe for concurrent use, matching the single-threaded-per-handle model
// the rest of this module assumes.
type Cache struct {
	db *pebble.DB
}

func New() *Cache {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		// an in-memory pebble.DB cannot fail to open; a cache that can't
		// open degrades to always-miss rather than propagating an error
		// through every OMAP resolution call.
		return &Cache{}
	}
	return &Cache{db: db}
}

func key(oid uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], oid)
	h := xxhash.Sum64(b[:])
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], h)
	return k[:]
}

func (c *Cache) Get(oid uint64) (uint64, bool) {
	if c.db == nil {
		return 0, false
	}
	v, closer, err := c.db.Get(key(oid))
	if err != nil {
		return 0, false
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(v), true
}

func (c *Cache) Put(oid, paddr uint64) {
	if c.db == nil {
		return
	}
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], paddr)
	_ = c.db.Set(key(oid), v[:], pebble.NoSync)
}

func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
