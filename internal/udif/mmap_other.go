// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build !unix

package udif

import "os"

// OpenFile opens path with plain buffered os.File reads; mmap is a unix-only
// optimization (spec.md's core contract never requires it).
func OpenFile(path string, _ bool, opts ...Option) (*Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errIO("opening image", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errIO("statting image", err)
	}
	r, err := Open(f, info.Size(), opts...)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f.Close, nil
}
