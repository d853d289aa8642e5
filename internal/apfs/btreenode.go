// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import "encoding/binary"

const (
	btnodeRoot    = 0x0001
	btnodeLeaf    = 0x0002
	btnodeFixedKV = 0x0004

	btreeInfoSize = 40
	btnHeaderSize = 56 // object header (32) + btn_* fields (24)
)

type nloc struct {
	Off uint16
	Len uint16
}

func parseNloc(b []byte) nloc {
	return nloc{Off: binary.LittleEndian.Uint16(b[0:2]), Len: binary.LittleEndian.Uint16(b[2:4])}
}

// btreeNodeRecord is one decoded (key, value) pair. For an index node the
// value is always an 8-byte child OID (spec.md §4.3).
type btreeNodeRecord struct {
	Key   []byte
	Value []byte
}

// btreeNode is a decoded APFS B-tree node: root or non-root, leaf or index,
// fixed- or variable-length key/value pairs, per spec.md §4.3's layout.
type btreeNode struct {
	Obj     objPhys
	Flags   uint16
	Level   uint16
	NumKeys uint32
	IsRoot  bool
	IsLeaf  bool
	Records []btreeNodeRecord
}

func decodeBtreeNode(buf []byte) (*btreeNode, error) {
	if len(buf) < btnHeaderSize {
		return nil, errStructure("b-tree node shorter than header")
	}
	obj := parseObjPhys(buf)
	flags := binary.LittleEndian.Uint16(buf[32:34])
	level := binary.LittleEndian.Uint16(buf[34:36])
	nkeys := binary.LittleEndian.Uint32(buf[36:40])
	tableSpace := parseNloc(buf[40:44])

	n := &btreeNode{
		Obj:     obj,
		Flags:   flags,
		Level:   level,
		NumKeys: nkeys,
		IsRoot:  flags&btnodeRoot != 0,
		IsLeaf:  flags&btnodeLeaf != 0,
	}

	valAreaEnd := len(buf)
	if n.IsRoot {
		valAreaEnd -= btreeInfoSize
	}
	if valAreaEnd < btnHeaderSize {
		return nil, errStructure("b-tree node value area underflows header")
	}

	tocStart := btnHeaderSize + int(tableSpace.Off)
	keyAreaStart := tocStart + int(tableSpace.Len)

	fixed := flags&btnodeFixedKV != 0
	n.Records = make([]btreeNodeRecord, 0, nkeys)

	if fixed {
		const entrySize = 4 // kvoff_t: 2-byte key offset, 2-byte value offset
		keyLen, valLen := fixedKVSizes(n.IsLeaf)
		for i := uint32(0); i < nkeys; i++ {
			entry := buf[tocStart+int(i)*entrySize:]
			kOff := binary.LittleEndian.Uint16(entry[0:2])
			vOff := binary.LittleEndian.Uint16(entry[2:4])

			keyStart := keyAreaStart + int(kOff)
			key := buf[keyStart : keyStart+keyLen]

			if n.IsLeaf {
				valStart := valAreaEnd - int(vOff)
				if valStart < 0 || valStart+valLen > len(buf) {
					return nil, errStructure("fixed-kv value offset out of range")
				}
				n.Records = append(n.Records, btreeNodeRecord{Key: key, Value: buf[valStart : valStart+valLen]})
			} else {
				valStart := valAreaEnd - int(vOff)
				n.Records = append(n.Records, btreeNodeRecord{Key: key, Value: buf[valStart : valStart+8]})
			}
		}
	} else {
		const entrySize = 8 // kvloc_t: (key off,len) + (val off,len), 2 bytes each
		for i := uint32(0); i < nkeys; i++ {
			entry := buf[tocStart+int(i)*entrySize:]
			kOff := binary.LittleEndian.Uint16(entry[0:2])
			kLen := binary.LittleEndian.Uint16(entry[2:4])
			vOff := binary.LittleEndian.Uint16(entry[4:6])
			vLen := binary.LittleEndian.Uint16(entry[6:8])

			keyStart := keyAreaStart + int(kOff)
			if keyStart+int(kLen) > len(buf) {
				return nil, errStructure("variable-kv key offset out of range")
			}
			key := buf[keyStart : keyStart+int(kLen)]

			if !n.IsLeaf {
				vLen = 8 // internal-node values are always an 8-byte child OID
			}
			valStart := valAreaEnd - int(vOff)
			if valStart < 0 || valStart+int(vLen) > len(buf) {
				return nil, errStructure("variable-kv value offset out of range")
			}
			n.Records = append(n.Records, btreeNodeRecord{Key: key, Value: buf[valStart : valStart+int(vLen)]})
		}
	}

	return n, nil
}

// fixedKVSizes returns the OMAP's fixed key/value sizes — the only
// fixed-kv tree this module walks (spec.md §4.3's OMAP B-tree).
func fixedKVSizes(isLeaf bool) (keyLen, valLen int) {
	if isLeaf {
		return 16, 16
	}
	return 16, 8 // index nodes: omap key, child OID value
}

func childOID(rec btreeNodeRecord) uint64 {
	return binary.LittleEndian.Uint64(rec.Value[0:8])
}
