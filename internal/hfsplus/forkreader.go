// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"io"

	"github.com/elliotnunn/dmgkit/internal/multireaderat"
)

// ForkReader is the streaming Read+Seek view spec.md §4.2 describes: a flat
// extent table built once, then served by multireaderat's generic
// discontiguous-range reader. A read spanning multiple extents, or a
// seek-then-reread, both work for free because multireaderat already
// handles that.
type ForkReader = io.ReadSeekCloser

func openFork(partition io.ReaderAt, blockSize uint32, extentsTree *bTree, fileID uint32, forkType uint8, fd forkDescriptor) (ForkReader, int64, error) {
	extents, err := gatherExtents(extentsTree, blockSize, fileID, forkType, fd)
	if err != nil {
		return nil, 0, err
	}
	sra := makeForkReader(partition, blockSize, extents, fd.LogicalSize)
	return multireaderat.NewReadSeeker(sra), sra.Size(), nil
}
