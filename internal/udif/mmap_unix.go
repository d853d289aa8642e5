// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build unix

package udif

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// OpenFile opens path and, when mmap is requested, maps it read-only rather
// than going through buffered os.File reads — the zero-copy path the
// teacher's per-OS fileid_*.go split models for other syscalls.
func OpenFile(path string, useMmap bool, opts ...Option) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errIO("opening image", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errIO("statting image", err)
	}

	if !useMmap {
		r, err := Open(f, info.Size(), opts...)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return r, f.Close, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, nil, errIO("mmap image", err)
	}
	mr := mmapReaderAt(data)
	r, err := Open(mr, info.Size(), opts...)
	close := func() error {
		err1 := unix.Munmap(data)
		err2 := f.Close()
		if err1 != nil {
			return err1
		}
		return err2
	}
	if err != nil {
		close()
		return nil, nil, err
	}
	return r, close, nil
}

type mmapReaderAt []byte

func (m mmapReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
