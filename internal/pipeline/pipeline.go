// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package pipeline composes the image-format engines into the one chain
// most callers actually want: open a .dmg, pick its main partition, and
// mount whichever filesystem it holds. It stops there deliberately —
// unwrapping an installer payload (XAR, pbzx, cpio) from the files this
// hands back is the caller's job, using the internal/pbzx package directly.
package pipeline

import (
	"bytes"
	"fmt"
	"os"

	"github.com/elliotnunn/dmgkit/internal/apfs"
	"github.com/elliotnunn/dmgkit/internal/hfsplus"
	"github.com/elliotnunn/dmgkit/internal/udif"
)

// Filesystem is the common surface both engines satisfy: enough to locate
// and read a file inside the mounted volume. It is deliberately narrow —
// hfsplus.Volume and apfs.Volume diverge on resource-fork and metadata
// details that a caller wanting those should use the concrete engine
// package for directly.
type Filesystem interface {
	// ReadFile returns the full contents of the data fork (HFS+) or file
	// (APFS) at path.
	ReadFile(path string) ([]byte, error)

	// IsDir reports whether path names a directory.
	IsDir(path string) (bool, error)
}

type hfsplusFilesystem struct {
	v *hfsplus.Volume
}

func (f hfsplusFilesystem) ReadFile(path string) ([]byte, error) {
	return f.v.ReadFile(path)
}

func (f hfsplusFilesystem) IsDir(path string) (bool, error) {
	e, err := f.v.Stat(path)
	if err != nil {
		return false, err
	}
	return e.IsDir, nil
}

type apfsFilesystem struct {
	v *apfs.Volume
}

func (f apfsFilesystem) ReadFile(path string) ([]byte, error) {
	return f.v.ReadFile(path)
}

func (f apfsFilesystem) IsDir(path string) (bool, error) {
	fi, err := f.v.Stat(path)
	if err != nil {
		return false, err
	}
	return fi.IsDir, nil
}

// OpenMainFilesystem opens the UDIF image at dmgPath, selects its main
// partition (preferring HFS/HFSX, then APFS — see udif.MainPartitionID),
// decompresses it, and mounts the result with whichever engine matches its
// declared kind. The whole decompressed partition is read into memory: this
// helper targets the common "hand me the main filesystem" case, not
// streaming access to multi-gigabyte images.
func OpenMainFilesystem(dmgPath string) (Filesystem, error) {
	f, err := os.Open(dmgPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: opening %q: %w", dmgPath, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("pipeline: stat %q: %w", dmgPath, err)
	}

	r, err := udif.Open(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("pipeline: opening udif image: %w", err)
	}

	id, err := r.MainPartitionID()
	if err != nil {
		return nil, fmt.Errorf("pipeline: selecting main partition: %w", err)
	}

	var kind udif.PartitionKind
	for _, p := range r.Partitions() {
		if p.ID == id {
			kind = p.Kind
			break
		}
	}

	data, err := r.DecompressPartition(id)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decompressing partition %d: %w", id, err)
	}
	part := bytes.NewReader(data)

	switch kind {
	case udif.KindHFS:
		v, err := hfsplus.Open(part)
		if err != nil {
			return nil, fmt.Errorf("pipeline: opening hfs+ volume: %w", err)
		}
		return hfsplusFilesystem{v: v}, nil
	case udif.KindAPFS:
		v, err := apfs.Open(part, true)
		if err != nil {
			return nil, fmt.Errorf("pipeline: opening apfs volume: %w", err)
		}
		return apfsFilesystem{v: v}, nil
	default:
		return nil, fmt.Errorf("pipeline: partition %d has no supported filesystem (kind %v)", id, kind)
	}
}
