// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package udif

import (
	"encoding/binary"
)

const kolySize = 512

// kolyTrailer is the 512-byte trailer found at end-512 of every UDIF image.
// All integers are big-endian.
type kolyTrailer struct {
	Version        uint32
	Flags          uint32
	DataForkOffset uint64
	DataForkLength uint64
	XMLOffset      uint64
	XMLLength      uint64
	SectorCount    uint64

	DataChecksumType uint32
	DataChecksum     uint32 // zero means "absent", matching spec.md's type==0 rule
	MasterChecksumType uint32
	MasterChecksum     uint32
}

// parseKoly reads the trailer laid out as:
//
//	0    magic "koly"
//	4    version
//	8    header size
//	12   flags
//	16   running data-fork offset
//	24   data-fork offset
//	32   data-fork length
//	40   rsrc-fork offset
//	48   rsrc-fork length
//	56   segment number / count
//	64   segment UUID (16)
//	80   data-fork checksum type
//	84   data-fork checksum bit size
//	88   data-fork checksum array (128 bytes, first 4 = CRC32 when type==2)
//	216  xml offset
//	224  xml length
//	232  reserved (120)
//	352  master checksum type
//	356  master checksum bit size
//	360  master checksum array (128 bytes)
//	488  image variant
//	492  sector count
func parseKoly(b []byte) (*kolyTrailer, error) {
	if len(b) != kolySize {
		return nil, errStructure("koly trailer must be 512 bytes")
	}
	if string(b[0:4]) != "koly" {
		return nil, errMagic("missing koly magic")
	}

	be := binary.BigEndian
	t := &kolyTrailer{
		Version:        be.Uint32(b[4:8]),
		Flags:          be.Uint32(b[12:16]),
		DataForkOffset: be.Uint64(b[24:32]),
		DataForkLength: be.Uint64(b[32:40]),
		XMLOffset:      be.Uint64(b[216:224]),
		XMLLength:      be.Uint64(b[224:232]),
		SectorCount:    be.Uint64(b[492:500]),

		DataChecksumType:   be.Uint32(b[80:84]),
		MasterChecksumType: be.Uint32(b[352:356]),
	}
	t.DataChecksum = readChecksumSlot(b[88:216], t.DataChecksumType)
	t.MasterChecksum = readChecksumSlot(b[360:488], t.MasterChecksumType)

	return t, nil
}

// readChecksumSlot returns the big-endian CRC32 word at the start of a
// 128-byte checksum region, or 0 if the slot's type says "absent".
//
// type==2 means CRC32; type==0 means absent. Any other type is treated as
// absent too since this engine only verifies CRC32.
func readChecksumSlot(region []byte, typ uint32) uint32 {
	if typ != 2 {
		return 0
	}
	return binary.BigEndian.Uint32(region[:4])
}
