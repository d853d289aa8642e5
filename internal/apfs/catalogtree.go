// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"bytes"
	"encoding/binary"
)

// catalogTree is the per-volume (virtual, omap-indirected) B-tree holding
// inode, directory and file-extent records, per spec.md §4.3.
type catalogTree struct {
	src       blockReaderAt
	blockSize uint32
	omap      *omap
	rootOID   uint64 // virtual oid, resolved through omap on every descent
	verify    bool
}

func openCatalogTree(src blockReaderAt, blockSize uint32, omap *omap, rootOID uint64, verify bool) *catalogTree {
	return &catalogTree{src: src, blockSize: blockSize, omap: omap, rootOID: rootOID, verify: verify}
}

func (t *catalogTree) readNode(virtualOID uint64) (*btreeNode, error) {
	paddr, err := t.omap.resolve(virtualOID)
	if err != nil {
		return nil, err
	}
	buf, _, err := readObject(t.src, t.blockSize, paddr, t.verify)
	if err != nil {
		return nil, err
	}
	return decodeBtreeNode(buf)
}

// recordKeyPrefix splits a catalog record key's packed obj_id_and_type word.
func recordKeyPrefix(key []byte) (oid uint64, typ uint8) {
	return splitObjIDAndType(binary.LittleEndian.Uint64(key[0:8]))
}

// cmpOIDType orders strictly by obj_id, then by type, per spec.md §4.3:
// implementers MUST split and compare as (obj_id, type) pairs, never as
// the packed 64-bit word directly (type occupies the high bits, so a raw
// integer compare would sort by type first).
func cmpOIDType(oidA uint64, typA uint8, oidB uint64, typB uint8) int {
	if oidA != oidB {
		return sign64(int64(oidA) - int64(oidB))
	}
	return int(typA) - int(typB)
}

// scanFrom walks the tree in key order, calling fn for every leaf record
// whose (obj_id, type) is >= (targetOID, targetType), stopping early when
// fn returns false or the tree is exhausted. Index subtrees entirely below
// the target are pruned using the next sibling key as an upper bound.
func (t *catalogTree) scanFrom(targetOID uint64, targetType uint8, fn func(key, val []byte) bool) error {
	_, err := t.walk(t.rootOID, targetOID, targetType, fn)
	return err
}

func (t *catalogTree) walk(nodeOID uint64, targetOID uint64, targetType uint8, fn func(key, val []byte) bool) (stopped bool, err error) {
	node, err := t.readNode(nodeOID)
	if err != nil {
		return false, err
	}

	if node.IsLeaf {
		for _, rec := range node.Records {
			oid, typ := recordKeyPrefix(rec.Key)
			if cmpOIDType(oid, typ, targetOID, targetType) < 0 {
				continue
			}
			if !fn(rec.Key, rec.Value) {
				return true, nil
			}
		}
		return false, nil
	}

	for i, rec := range node.Records {
		if i+1 < len(node.Records) {
			nOID, nTyp := recordKeyPrefix(node.Records[i+1].Key)
			if cmpOIDType(nOID, nTyp, targetOID, targetType) < 0 {
				continue // this whole child's key range is below target
			}
		}
		stopped, err := t.walk(childOID(rec), targetOID, targetType, fn)
		if err != nil {
			return false, err
		}
		if stopped {
			return true, nil
		}
	}
	return false, nil
}

// exactSearch returns the value for the record whose key is byte-identical
// to key, scanning the candidate run sharing key's (obj_id, type) prefix.
func (t *catalogTree) exactSearch(key []byte) ([]byte, error) {
	targetOID, targetType := recordKeyPrefix(key)
	var result []byte
	err := t.scanFrom(targetOID, targetType, func(k, v []byte) bool {
		if bytes.Equal(k, key) {
			result = v
			return false
		}
		oid, typ := recordKeyPrefix(k)
		return oid == targetOID && typ == targetType
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errNotFound("catalog record not present")
	}
	return result, nil
}

// catalogSearch looks up the exact-match record for (oid, typ) plus any
// extra key suffix (used for FILE_EXTENT lookups keyed by logical address).
func (v *Volume) catalogSearch(oid uint64, typ uint8, extra []byte) ([]byte, error) {
	key := make([]byte, 8+len(extra))
	binary.LittleEndian.PutUint64(key[0:8], objIDAndType(oid, typ))
	copy(key[8:], extra)
	return v.catalog.exactSearch(key)
}
