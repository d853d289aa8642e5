// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"
	"log/slog"

	"github.com/elliotnunn/dmgkit/internal/apfs/omapcache"
)

// omap is a resolved object map: a physical B-tree (children addressed by
// raw block number) mapping virtual OIDs to physical block numbers.
type omap struct {
	src       blockReaderAt
	blockSize uint32
	treeOID   uint64 // root node's own block number (physical, no indirection)
	verify    bool
	cache     *omapcache.Cache
}

func openOMAP(src blockReaderAt, blockSize uint32, omapOID uint64, verify bool) (*omap, error) {
	buf, obj, err := readObject(src, blockSize, omapOID, verify)
	if err != nil {
		return nil, errIO("reading object map", err)
	}
	if obj.Type&objTypeMask != objTypeOmap {
		return nil, errStructure("object at omap oid is not an object map")
	}
	treeOID := binary.LittleEndian.Uint64(buf[64:72]) // om_tree_oid, physical block of omap b-tree root

	return &omap{
		src:       src,
		blockSize: blockSize,
		treeOID:   treeOID,
		verify:    verify,
		cache:     omapcache.New(),
	}, nil
}

// resolve looks up oid and returns its physical block number, choosing the
// highest-xid mapping when more than one exists for that oid (spec.md
// §4.3's OMAP lookup rule).
func (m *omap) resolve(oid uint64) (uint64, error) {
	if paddr, ok := m.cache.Get(oid); ok {
		return paddr, nil
	}

	paddr, err := m.resolveUncached(oid)
	if err != nil {
		return 0, err
	}
	m.cache.Put(oid, paddr)
	return paddr, nil
}

func (m *omap) resolveUncached(oid uint64) (uint64, error) {
	node, err := m.descend(m.treeOID, oid)
	if err != nil {
		return 0, err
	}

	var bestXID uint64
	var bestPaddr uint64
	found := false
	for _, rec := range node.Records {
		kOID := binary.LittleEndian.Uint64(rec.Key[0:8])
		kXID := binary.LittleEndian.Uint64(rec.Key[8:16])
		if kOID != oid {
			continue
		}
		if !found || kXID > bestXID {
			bestXID = kXID
			bestPaddr = binary.LittleEndian.Uint64(rec.Value[8:16])
			found = true
		}
	}

	if !found {
		return 0, errNotFound("oid not present in object map")
	}
	return bestPaddr, nil
}

// descend walks the physical OMAP B-tree from block root to the leaf that
// would contain the highest-xid entry for oid, comparing keys by OID only
// per spec.md's explicit instruction, then falls back to scanning the
// whole resulting leaf for the actual xid-ranked match.
func (m *omap) descend(block uint64, oid uint64) (*btreeNode, error) {
	buf, _, err := readObject(m.src, m.blockSize, block, m.verify)
	if err != nil {
		return nil, err
	}
	node, err := decodeBtreeNode(buf)
	if err != nil {
		return nil, err
	}
	if node.IsLeaf {
		return node, nil
	}

	var next uint64
	found := false
	for _, rec := range node.Records {
		kOID := binary.LittleEndian.Uint64(rec.Key[0:8])
		if kOID <= oid {
			next = childOID(rec)
			found = true
		} else {
			break
		}
	}
	if !found {
		if len(node.Records) == 0 {
			return nil, errStructure("empty omap index node")
		}
		next = childOID(node.Records[0])
	}

	slog.Debug("omap descend", "oid", oid, "level", node.Level, "child", next)
	return m.descend(next, oid)
}
