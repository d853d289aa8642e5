// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package multireaderat stitches together discontiguous byte ranges of a
// backing io.ReaderAt into a single logical io.ReaderAt/io.Reader/io.Seeker,
// the way a file's extent list is stitched into a contiguous stream. Both
// the HFS+ and APFS fork readers in this module are built on it.
package multireaderat

import (
	"errors"
	"io"
)

// SizeReaderAt is an io.ReaderAt that also knows its own logical length,
// the shape every fork reader and sub-extent in this module is built to.
type SizeReaderAt interface {
	io.ReaderAt
	Size() int64
}

// New concatenates parts end to end into one SizeReaderAt. A zero-length
// part is permitted and contributes nothing.
func New(parts ...SizeReaderAt) SizeReaderAt {
	nonEmpty := make([]SizeReaderAt, 0, len(parts))
	offsets := make([]int64, 0, len(parts))
	var total int64
	for _, p := range parts {
		if p.Size() == 0 {
			continue
		}
		offsets = append(offsets, total)
		nonEmpty = append(nonEmpty, p)
		total += p.Size()
	}
	return &multi{parts: nonEmpty, offsets: offsets, size: total}
}

type multi struct {
	parts   []SizeReaderAt
	offsets []int64 // offsets[i] is where parts[i] begins in the logical stream
	size    int64
}

func (m *multi) Size() int64 { return m.size }

func (m *multi) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errOffset
	}
	if off >= m.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	// locate the first part containing off
	i := 0
	for i < len(m.parts) && m.offsets[i]+m.parts[i].Size() <= off {
		i++
	}

	n := 0
	for n < len(p) && i < len(m.parts) {
		partOff := off + int64(n) - m.offsets[i]
		avail := m.parts[i].Size() - partOff
		want := int64(len(p) - n)
		if want > avail {
			want = avail
		}
		got, err := m.parts[i].ReadAt(p[n:int64(n)+want], partOff)
		n += got
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		if int64(got) < want {
			return n, io.ErrUnexpectedEOF
		}
		i++
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// NewReadSeeker wraps a SizeReaderAt with Read/Seek, the shape fork readers
// expose to callers that want a plain io.ReadSeeker over a file's data.
func NewReadSeeker(r SizeReaderAt) io.ReadSeekCloser {
	return &readSeeker{r: r}
}

type readSeeker struct {
	r   SizeReaderAt
	pos int64
}

func (rs *readSeeker) Read(p []byte) (int, error) {
	n, err := rs.r.ReadAt(p, rs.pos)
	rs.pos += int64(n)
	return n, err
}

func (rs *readSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += rs.pos
	case io.SeekEnd:
		offset += rs.r.Size()
	default:
		return 0, errWhence
	}
	if offset < 0 {
		return 0, errOffset
	}
	rs.pos = offset
	return offset, nil
}

func (rs *readSeeker) Close() error { return nil }

var errWhence = errors.New("multireaderat: invalid whence")
var errOffset = errors.New("multireaderat: invalid offset")
