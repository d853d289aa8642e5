// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"
	"strings"
)

const (
	apfsMaxHist    = 8
	apfsVolnameLen = 256
)

// volumeSuperblock mirrors apfs_superblock_t, the per-volume (APSB)
// superblock. Field offsets are grounded on deploymenttheory-go-apfs's
// parseVolumeSuperblock in volume_superblock_reader.go.
type volumeSuperblock struct {
	Obj objPhys

	OmapOID     uint64
	RootTreeOID uint64
	VolName     string
}

func parseVolumeSuperblock(b []byte) (*volumeSuperblock, error) {
	const minLen = 248 // through apfs_root_tree_oid
	if len(b) < minLen {
		return nil, errStructure("volume superblock truncated")
	}
	obj := parseObjPhys(b)
	if binary.LittleEndian.Uint32(b[32:36]) != apsbMagic {
		return nil, errMagic("volume superblock magic mismatch")
	}

	omapOID := binary.LittleEndian.Uint64(b[232:240])
	rootTreeOID := binary.LittleEndian.Uint64(b[240:248])

	volName := ""
	nameOff := 440
	if nameOff+apfsVolnameLen <= len(b) {
		raw := b[nameOff : nameOff+apfsVolnameLen]
		if i := indexZero(raw); i >= 0 {
			raw = raw[:i]
		}
		volName = string(raw)
	}

	return &volumeSuperblock{
		Obj:         obj,
		OmapOID:     omapOID,
		RootTreeOID: rootTreeOID,
		VolName:     strings.TrimRight(volName, "\x00"),
	}, nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
