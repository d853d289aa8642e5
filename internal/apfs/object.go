// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import "encoding/binary"

const objectHeaderSize = 32

// objPhys mirrors obj_phys_t: every APFS on-disk object begins with this
// 32-byte header. Grounded on deploymenttheory-go-apfs's NxO field parsing
// in container_superblock_reader.go, generalized to any object type.
type objPhys struct {
	Checksum uint64
	OID      uint64
	XID      uint64
	Type     uint32
	Subtype  uint32
}

const (
	objTypeMask       = 0x0000FFFF
	objTypeNXSuperblock = 0x00000001
	objTypeBtree        = 0x00000002
	objTypeBtreeNode    = 0x00000003
	objTypeOmap         = 0x0000000B
	objTypeFSSuperblock = 0x0000000D
)

func parseObjPhys(b []byte) objPhys {
	return objPhys{
		Checksum: binary.LittleEndian.Uint64(b[0:8]),
		OID:      binary.LittleEndian.Uint64(b[8:16]),
		XID:      binary.LittleEndian.Uint64(b[16:24]),
		Type:     binary.LittleEndian.Uint32(b[24:28]),
		Subtype:  binary.LittleEndian.Uint32(b[28:32]),
	}
}

// readObject reads one blockSize-aligned block and verifies its checksum.
func readObject(src blockReaderAt, blockSize uint32, block uint64, verify bool) ([]byte, objPhys, error) {
	buf := make([]byte, blockSize)
	if _, err := src.ReadAt(buf, int64(block)*int64(blockSize)); err != nil {
		return nil, objPhys{}, errIO("reading block", err)
	}
	if verify && !verifyChecksum(buf) {
		return nil, objPhys{}, errChecksum("fletcher-64 mismatch")
	}
	return buf, parseObjPhys(buf), nil
}

// blockReaderAt is the minimal contract the APFS engine needs of its
// backing partition stream.
type blockReaderAt interface {
	ReadAt(p []byte, off int64) (int, error)
}
