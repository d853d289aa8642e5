// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package apfs reads a single, unencrypted, unsnapshotted APFS volume
// straight off its backing partition stream: container superblock,
// checkpoint scan, object maps, and the per-volume catalog B-tree.
// Structurally the counterpart of internal/hfsplus, built against the
// same multireaderat fork-reading plumbing.
package apfs

import (
	"io"
	"time"

	"github.com/elliotnunn/dmgkit/internal/multireaderat"
)

// Volume is an open, read-only APFS volume.
type Volume struct {
	src       blockReaderAt
	blockSize uint32
	catalog   *catalogTree
	name      string
	verify    bool
}

// Open walks spec.md §4.3's "Volume open" sequence: read block 0's NXSB,
// scan the checkpoint-descriptor area for the highest-xid superblock,
// resolve the container OMAP, take the first non-zero fs_oids[] entry,
// read its APSB, resolve the volume's own OMAP, and land on the catalog
// B-tree root. verify turns on Fletcher-64 checksum validation of every
// object read along the way.
func Open(partition io.ReaderAt, verify bool) (*Volume, error) {
	src := blockReaderAt(partition)

	probe := make([]byte, 4096)
	if _, err := src.ReadAt(probe, 0); err != nil {
		return nil, errIO("reading block 0", err)
	}
	base, err := parseNXSuperblock(probe)
	if err != nil {
		return nil, err
	}
	if verify && !verifyChecksum(probe) {
		return nil, errChecksum("container superblock checksum mismatch")
	}

	nx, err := readCheckpointSuperblock(src, base)
	if err != nil {
		return nil, err
	}

	containerOmap, err := openOMAP(src, nx.BlockSize, nx.OmapOID, verify)
	if err != nil {
		return nil, err
	}

	var fsOID uint64
	for _, oid := range nx.FSOIDs {
		if oid != 0 {
			fsOID = oid
			break
		}
	}
	if fsOID == 0 {
		return nil, errNotFound("container has no volumes")
	}

	fsBlock, err := containerOmap.resolve(fsOID)
	if err != nil {
		return nil, errIO("resolving volume superblock", err)
	}
	apsbBuf, _, err := readObject(src, nx.BlockSize, fsBlock, verify)
	if err != nil {
		return nil, err
	}
	apsb, err := parseVolumeSuperblock(apsbBuf)
	if err != nil {
		return nil, err
	}

	fsOmap, err := openOMAP(src, nx.BlockSize, apsb.OmapOID, verify)
	if err != nil {
		return nil, err
	}

	catalog := openCatalogTree(src, nx.BlockSize, fsOmap, apsb.RootTreeOID, verify)

	return &Volume{
		src:       src,
		blockSize: nx.BlockSize,
		catalog:   catalog,
		name:      apsb.VolName,
		verify:    verify,
	}, nil
}

// Name returns the volume's UTF-8 name, read from the APSB.
func (v *Volume) Name() string { return v.name }

// FileInfo is the metadata Stat returns for one catalog entry.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Stat resolves path and returns its metadata.
func (v *Volume) Stat(path string) (*FileInfo, error) {
	in, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	return v.statInode(in), nil
}

func (v *Volume) statInode(in *inode) *FileInfo {
	isDir := isDirInode(in)
	size := int64(in.UncompressedSize)
	if logical, ok := dstreamLogicalSize(in.XFields); ok {
		size = int64(logical)
	}
	return &FileInfo{Size: size, ModTime: in.ModTime, IsDir: isDir}
}

// OpenFork returns a streaming reader over path's data fork.
func (v *Volume) OpenFork(path string) (io.ReadSeekCloser, error) {
	in, err := v.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if isDirInode(in) {
		return nil, errNotADirectory("cannot read data fork of a directory")
	}

	logicalSize := in.UncompressedSize
	if logical, ok := dstreamLogicalSize(in.XFields); ok {
		logicalSize = logical
	}
	extents, err := gatherFileExtents(v.catalog, in.PrivateID)
	if err != nil {
		return nil, err
	}
	reader := makeForkReader(v.src, v.blockSize, extents, logicalSize)
	return multireaderat.NewReadSeeker(reader), nil
}

// ReadFile reads path's entire data fork into memory.
func (v *Volume) ReadFile(path string) ([]byte, error) {
	r, err := v.OpenFork(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
