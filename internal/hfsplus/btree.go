// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	btNodeLeaf   = int8(-1)
	btNodeIndex  = int8(0)
	btNodeHeader = int8(1)
	btNodeMap    = int8(2)
)

// bTree is a generalized HFS+ B-tree: node_size-aligned nodes in a system
// file's fork, navigable by a caller-supplied key comparator. It covers
// both the catalog and extents-overflow trees (spec.md §4.2).
type bTree struct {
	fork          io.ReaderAt // the system file's fork, already flattened to logical offsets
	nodeSize      int
	rootNode      uint32
	firstLeafNode uint32
}

func openBTree(fork io.ReaderAt) (*bTree, error) {
	head := make([]byte, 512)
	if _, err := fork.ReadAt(head, 0); err != nil {
		return nil, errIO("reading b-tree header node", err)
	}
	kind := int8(head[8])
	if kind != btNodeHeader {
		return nil, errStructure("b-tree header node has wrong kind")
	}

	rootNode := binary.BigEndian.Uint32(head[16:20])
	firstLeafNode := binary.BigEndian.Uint32(head[24:28])
	nodeSize := int(binary.BigEndian.Uint16(head[32:34]))
	if nodeSize < 512 {
		return nil, errStructure("b-tree node size too small")
	}

	return &bTree{fork: fork, nodeSize: nodeSize, rootNode: rootNode, firstLeafNode: firstLeafNode}, nil
}

// bNode is one decoded node: its kind and the raw byte slice of each record,
// each still including its own key-length prefix.
type bNode struct {
	Kind       int8
	Height     uint8
	NumRecords uint16
	FLink      uint32
	Records    [][]byte
}

func (t *bTree) readNode(id uint32) (*bNode, error) {
	buf := make([]byte, t.nodeSize)
	if _, err := t.fork.ReadAt(buf, int64(id)*int64(t.nodeSize)); err != nil {
		return nil, errIO("reading b-tree node", err)
	}

	n := &bNode{
		FLink:      binary.BigEndian.Uint32(buf[0:4]),
		Kind:       int8(buf[8]),
		Height:     buf[9],
		NumRecords: binary.BigEndian.Uint16(buf[10:12]),
	}

	cnt := int(n.NumRecords)
	lowlimit, highlimit := 14, t.nodeSize-2*(cnt+1)
	if highlimit < lowlimit {
		return nil, errStructure("b-tree node record count overflows node")
	}

	offsetAt := func(i int) int {
		return int(binary.BigEndian.Uint16(buf[t.nodeSize-2-2*i:]))
	}

	n.Records = make([][]byte, 0, cnt)
	prev := lowlimit
	for i := 0; i < cnt; i++ {
		start := offsetAt(i)
		end := offsetAt(i + 1)
		if start < prev || start > end || end > highlimit {
			return nil, errStructure("b-tree record offset out of range")
		}
		n.Records = append(n.Records, buf[start:end])
		prev = end
	}

	return n, nil
}

// keyCmp compares a search target against a stored record's key portion
// (which begins at record[2:], the key length having already been consumed
// from record[0:2]) returning <0, 0, >0 per the usual convention.
type keyCmp func(record []byte) int

var errBTreeNotFound = errors.New("b-tree record not found")

// search implements spec.md §4.2's search algorithm: at an index node, find
// the last record with cmp>=0 (target >= stored key) and follow it (falling
// back to the first child if every record compares greater); at a leaf,
// linear scan until an exact match or the first greater record.
func (t *bTree) search(cmp keyCmp) ([]byte, error) {
	id := t.rootNode
	for {
		node, err := t.readNode(id)
		if err != nil {
			return nil, err
		}

		if node.Kind == btNodeLeaf {
			for _, rec := range node.Records {
				kl := int(binary.BigEndian.Uint16(rec[0:2]))
				key := rec[2 : 2+kl]
				c := cmp(key)
				if c == 0 {
					return rec[2+kl:], nil
				}
				if c < 0 {
					break
				}
			}
			return nil, errBTreeNotFound
		}

		if node.Kind != btNodeIndex {
			return nil, errStructure("unexpected b-tree node kind during search")
		}

		var next uint32
		found := false
		for _, rec := range node.Records {
			kl := int(binary.BigEndian.Uint16(rec[0:2]))
			key := rec[2 : 2+kl]
			if cmp(key) >= 0 {
				next = binary.BigEndian.Uint32(rec[2+kl:])
				found = true
			} else {
				break
			}
		}
		if !found {
			if len(node.Records) == 0 {
				return nil, errStructure("empty index node")
			}
			rec := node.Records[0]
			kl := int(binary.BigEndian.Uint16(rec[0:2]))
			next = binary.BigEndian.Uint32(rec[2+kl:])
		}
		id = next
	}
}

// findLeafForParent descends to the leaf that would contain (parentCNID,"")
// for directory listing, using the same last-record>=key rule.
func (t *bTree) findLeafForParent(cmp keyCmp) (uint32, error) {
	id := t.rootNode
	for {
		node, err := t.readNode(id)
		if err != nil {
			return 0, err
		}
		if node.Kind == btNodeLeaf {
			return id, nil
		}
		if node.Kind != btNodeIndex {
			return 0, errStructure("unexpected b-tree node kind during descent")
		}

		var next uint32
		found := false
		for _, rec := range node.Records {
			kl := int(binary.BigEndian.Uint16(rec[0:2]))
			key := rec[2 : 2+kl]
			if cmp(key) >= 0 {
				next = binary.BigEndian.Uint32(rec[2+kl:])
				found = true
			} else {
				break
			}
		}
		if !found {
			rec := node.Records[0]
			kl := int(binary.BigEndian.Uint16(rec[0:2]))
			next = binary.BigEndian.Uint32(rec[2+kl:])
		}
		id = next
	}
}

// scanFrom walks leaf nodes via forward links starting at leafID, calling
// visit(key, value) for every record, stopping as soon as visit returns
// false (used to stop a directory listing once parent_cnid is exceeded).
func (t *bTree) scanFrom(leafID uint32, visit func(key, value []byte) bool) error {
	id := leafID
	for id != 0 {
		node, err := t.readNode(id)
		if err != nil {
			return err
		}
		for _, rec := range node.Records {
			kl := int(binary.BigEndian.Uint16(rec[0:2]))
			key := rec[2 : 2+kl]
			value := rec[2+kl:]
			if !visit(key, value) {
				return nil
			}
		}
		id = node.FLink
	}
	return nil
}
