// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"github.com/elliotnunn/dmgkit/internal/multireaderat"
)

// extentPart adapts one physical file extent into a multireaderat.SizeReaderAt,
// structurally identical to the HFS+ fork reader's extent parts built by
// makeForkReader in internal/hfsplus/extents.go.
type extentPart struct {
	src       blockReaderAt
	blockSize uint32
	physBlock uint64
	length    int64
}

func (p *extentPart) Size() int64 { return p.length }

func (p *extentPart) ReadAt(buf []byte, off int64) (int, error) {
	base := int64(p.physBlock)*int64(p.blockSize) + off
	return p.src.ReadAt(buf, base)
}

// gatherFileExtents range-scans every FILE_EXTENT record owned by dstreamOID,
// in catalog (and therefore logical-address) order.
func gatherFileExtents(catalog *catalogTree, dstreamOID uint64) ([]fileExtent, error) {
	var extents []fileExtent
	err := catalog.scanFrom(dstreamOID, recTypeFileExtent, func(key, val []byte) bool {
		oid, _ := decodeFileExtentKey(key)
		if oid != dstreamOID {
			return false
		}
		extents = append(extents, decodeFileExtentValue(val))
		return true
	})
	return extents, err
}

func makeForkReader(src blockReaderAt, blockSize uint32, extents []fileExtent, logicalSize uint64) multireaderat.SizeReaderAt {
	parts := make([]multireaderat.SizeReaderAt, 0, len(extents))
	var total uint64
	for _, e := range extents {
		length := e.Length
		if total+length > logicalSize {
			if logicalSize <= total {
				length = 0
			} else {
				length = logicalSize - total
			}
		}
		parts = append(parts, &extentPart{src: src, blockSize: blockSize, physBlock: e.PhysBlock, length: int64(length)})
		total += length
	}
	return multireaderat.New(parts...)
}
