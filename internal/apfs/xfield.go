// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import "encoding/binary"

const xfieldTypeDstream = 8 // APFS_INO_EXT_TYPE_DSTREAM

// dstreamLogicalSize extracts the logical (uncompressed, sparse-aware) file
// size from an inode's xfield blob, per spec.md §4.3: "a 4-byte
// (num_exts, used_data) blob header, then num_exts records of
// (x_type, x_flags, x_size), then concatenated field-data payloads each
// rounded up to an 8-byte boundary. The DSTREAM extension's first u64 is
// the logical size."
func dstreamLogicalSize(xfields []byte) (uint64, bool) {
	if len(xfields) < 4 {
		return 0, false
	}
	numExts := int(binary.LittleEndian.Uint16(xfields[0:2]))

	type xentry struct {
		typ  uint8
		size uint16
	}
	entries := make([]xentry, 0, numExts)
	off := 4
	for i := 0; i < numExts; i++ {
		if off+4 > len(xfields) {
			return 0, false
		}
		entries = append(entries, xentry{
			typ:  xfields[off],
			size: binary.LittleEndian.Uint16(xfields[off+2 : off+4]),
		})
		off += 4
	}

	dataOff := off
	for _, e := range entries {
		padded := int(e.size)
		if rem := padded % 8; rem != 0 {
			padded += 8 - rem
		}
		if e.typ == xfieldTypeDstream {
			if dataOff+8 > len(xfields) {
				return 0, false
			}
			return binary.LittleEndian.Uint64(xfields[dataOff : dataOff+8]), true
		}
		dataOff += padded
	}
	return 0, false
}
