// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"encoding/binary"
	"io"

	"github.com/elliotnunn/dmgkit/internal/multireaderat"
)

const (
	forkTypeData     = 0x00
	forkTypeResource = 0xFF
)

// extentsOverflowKey orders purely numerically: (fileID, forkType, startBlock).
func extentsOverflowKey(fileID uint32, forkType uint8, startBlock uint32) keyCmp {
	return func(key []byte) int {
		kForkType := key[0]
		kFileID := binary.BigEndian.Uint32(key[2:6])
		kStartBlock := binary.BigEndian.Uint32(key[6:10])
		switch {
		case fileID != kFileID:
			return sign64(int64(fileID) - int64(kFileID))
		case forkType != kForkType:
			return int(forkType) - int(kForkType)
		default:
			return sign64(int64(startBlock) - int64(kStartBlock))
		}
	}
}

func sign64(v int64) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

func decodeExtentRecord(b []byte) [8]extentDescriptor {
	var rec [8]extentDescriptor
	for i := 0; i < 8; i++ {
		rec[i] = extentDescriptor{
			StartBlock: binary.BigEndian.Uint32(b[i*8 : i*8+4]),
			BlockCount: binary.BigEndian.Uint32(b[i*8+4 : i*8+8]),
		}
	}
	return rec
}

// gatherExtents flattens a fork's inline extents plus, if needed, its
// overflow extents (chased through the extents B-tree) into a single list,
// stopping once total blocks cover logicalSize (spec.md §4.2 "File content
// read").
func gatherExtents(extentsTree *bTree, blockSize uint32, fileID uint32, forkType uint8, fd forkDescriptor) ([]extentDescriptor, error) {
	var all []extentDescriptor
	var blocksSoFar uint32

	for _, e := range fd.Extents {
		if e.BlockCount == 0 {
			continue
		}
		all = append(all, e)
		blocksSoFar += e.BlockCount
	}

	for uint64(blocksSoFar)*uint64(blockSize) < fd.LogicalSize {
		if extentsTree == nil {
			return nil, errStructure("fork exceeds inline extents but has no extents b-tree to chase")
		}
		val, err := extentsTree.search(extentsOverflowKey(fileID, forkType, blocksSoFar))
		if err != nil {
			return nil, errStructure("missing overflow extent record")
		}
		more := decodeExtentRecord(val)
		added := false
		for _, e := range more {
			if e.BlockCount == 0 {
				continue
			}
			all = append(all, e)
			blocksSoFar += e.BlockCount
			added = true
		}
		if !added {
			return nil, errStructure("overflow extent record is empty")
		}
	}

	return all, nil
}

// makeForkReader builds a streaming Read+Seek view over a fork by
// translating each extent to a partition byte range via the volume's block
// size, then clipping the tail to the fork's exact logical size.
func makeForkReader(partition io.ReaderAt, blockSize uint32, extents []extentDescriptor, logicalSize uint64) multireaderat.SizeReaderAt {
	parts := make([]multireaderat.SizeReaderAt, 0, len(extents))
	var remaining = logicalSize
	for _, e := range extents {
		if remaining == 0 {
			break
		}
		length := uint64(e.BlockCount) * uint64(blockSize)
		if length > remaining {
			length = remaining
		}
		off := int64(e.StartBlock) * int64(blockSize)
		parts = append(parts, io.NewSectionReader(partition, off, int64(length)))
		remaining -= length
	}
	return multireaderat.New(parts...)
}
