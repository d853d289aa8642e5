// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	nxMagic  = 0x4253584E // "NXSB" read little-endian
	apsbMagic = 0x42535041 // "APSB" read little-endian

	nxMaxFileSystems = 100
)

// nxSuperblock mirrors nx_superblock_t, the container superblock.
// Grounded on deploymenttheory-go-apfs's container_superblock_reader.go
// field layout, decoded with binary.LittleEndian per spec.md §4.3.
type nxSuperblock struct {
	Obj objPhys

	BlockSize    uint32
	BlockCount   uint64
	UUID         uuid.UUID
	XPDescBlocks uint32
	XPDescBase   uint64
	OmapOID      uint64
	FSOIDs       [nxMaxFileSystems]uint64
}

func parseNXSuperblock(b []byte) (*nxSuperblock, error) {
	if len(b) < 184+nxMaxFileSystems*8 {
		return nil, errStructure("container superblock truncated")
	}
	obj := parseObjPhys(b)
	magic := binary.LittleEndian.Uint32(b[32:36])
	if magic != nxMagic {
		return nil, errMagic("container superblock magic mismatch")
	}

	nx := &nxSuperblock{
		Obj:          obj,
		BlockSize:    binary.LittleEndian.Uint32(b[36:40]),
		BlockCount:   binary.LittleEndian.Uint64(b[40:48]),
		XPDescBlocks: binary.LittleEndian.Uint32(b[104:108]) &^ (1 << 31), // high bit marks non-contiguous layout, unsupported here
		XPDescBase:   binary.LittleEndian.Uint64(b[112:120]),
		OmapOID:      binary.LittleEndian.Uint64(b[160:168]),
	}
	copy(nx.UUID[:], b[72:88])

	for i := 0; i < nxMaxFileSystems; i++ {
		nx.FSOIDs[i] = binary.LittleEndian.Uint64(b[184+i*8 : 192+i*8])
	}

	return nx, nil
}

// readCheckpointSuperblock scans the checkpoint descriptor area
// [xp_desc_base, xp_desc_base+xp_desc_blocks) for valid NXSB blocks and
// returns the one with the highest xid, per spec.md §4.3 "Volume open"
// step 2.
func readCheckpointSuperblock(src blockReaderAt, base *nxSuperblock) (*nxSuperblock, error) {
	var best *nxSuperblock

	for i := uint32(0); i < base.XPDescBlocks; i++ {
		block := base.XPDescBase + uint64(i)
		buf, obj, err := readObject(src, base.BlockSize, block, true)
		if err != nil {
			continue // a bad/foreign checkpoint slot is skipped, not fatal
		}
		if obj.Type&objTypeMask != objTypeNXSuperblock {
			continue
		}
		sb, err := parseNXSuperblock(buf)
		if err != nil {
			continue
		}
		if best == nil || sb.Obj.XID > best.Obj.XID {
			best = sb
		}
	}

	if best == nil {
		return base, nil // single-superblock container, no checkpoint area to beat it
	}
	return best, nil
}
