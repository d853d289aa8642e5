// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package pbzx decodes Apple's chunked streaming-compression wrapper: a
// 12-byte header followed by a sequence of (u_size, c_size, bytes)
// chunks, each either stored verbatim or XZ-compressed. Used to unwrap
// the payload inside a XAR-hosted .pkg's Payload member, as the last
// stage of the pipeline this module implements.
package pbzx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/therootcompany/xz"
)

const magic = "pbzx"

// Header is the 12-byte PBZX preamble: a 4-byte magic and an 8-byte
// big-endian flags word (its bits are not interpreted by this package).
type Header struct {
	Flags uint64
}

// ReadHeader consumes and validates the 12-byte PBZX preamble.
func ReadHeader(r io.Reader) (Header, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return Header{}, fmt.Errorf("pbzx: reading magic: %w", err)
	}
	if string(m[:]) != magic {
		return Header{}, errBadMagic
	}

	var flagsBuf [8]byte
	if _, err := io.ReadFull(r, flagsBuf[:]); err != nil {
		return Header{}, fmt.Errorf("pbzx: reading flags: %w", err)
	}
	return Header{Flags: binary.BigEndian.Uint64(flagsBuf[:])}, nil
}

// readChunkHeader reads one chunk's (u_size, c_size) pair. end is true
// when the stream's (0, 0) terminator is read, or when r hits EOF before
// any bytes of a new chunk header are read.
func readChunkHeader(r io.Reader) (uSize, cSize uint64, end bool, err error) {
	var uBuf [8]byte
	n, err := io.ReadFull(r, uBuf[:])
	if err == io.EOF && n == 0 {
		return 0, 0, true, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("pbzx: reading chunk u_size: %w", err)
	}
	uSize = binary.BigEndian.Uint64(uBuf[:])

	var cBuf [8]byte
	if _, err := io.ReadFull(r, cBuf[:]); err != nil {
		return 0, 0, false, fmt.Errorf("pbzx: reading chunk c_size: %w", err)
	}
	cSize = binary.BigEndian.Uint64(cBuf[:])

	if uSize == 0 && cSize == 0 {
		return 0, 0, true, nil
	}
	return uSize, cSize, false, nil
}

// decodeChunkInto decodes one chunk's raw bytes (stored or XZ-compressed)
// into dst, which must have length exactly uSize.
func decodeChunkInto(uSize, cSize uint64, raw []byte, dst []byte) error {
	if cSize == uSize {
		copy(dst, raw)
		return nil
	}

	xr, err := xz.NewReader(bytes.NewReader(raw), xz.DefaultDictMax)
	if err != nil {
		return fmt.Errorf("pbzx: opening xz chunk: %w", err)
	}
	n, err := io.ReadFull(xr, dst)
	if err != nil {
		return fmt.Errorf("pbzx: decoding xz chunk: %w", err)
	}
	if uint64(n) != uSize {
		return errShortXZ
	}
	return nil
}

// DecompressTo streams the decoded CPIO bytes to w, one chunk at a time,
// using O(largest chunk) memory. It reports the total number of bytes
// written.
func DecompressTo(r io.Reader, w io.Writer) (int64, error) {
	var total int64
	for {
		uSize, cSize, end, err := readChunkHeader(r)
		if err != nil {
			return total, err
		}
		if end {
			return total, nil
		}

		raw := make([]byte, cSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return total, fmt.Errorf("pbzx: reading chunk body: %w", err)
		}

		dst := make([]byte, uSize)
		if err := decodeChunkInto(uSize, cSize, raw, dst); err != nil {
			return total, err
		}
		n, err := w.Write(dst)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}

// Decompress reads the whole PBZX body (after the 12-byte header) and
// returns the decoded CPIO bytes.
func Decompress(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := DecompressTo(r, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type rawChunk struct {
	uSize, cSize uint64
	raw          []byte
}

// DecompressParallel reads every chunk's header and raw bytes into memory
// in source order, then XZ-decodes them concurrently, writing each
// chunk's output into its own pre-computed slice of a single pre-sized
// buffer so concatenation needs no further copying. This is the one
// fork-join suspension point spec.md's concurrency model allows: every
// decode must finish before the result is returned.
func DecompressParallel(r io.Reader) ([]byte, error) {
	var chunks []rawChunk
	var total uint64
	for {
		uSize, cSize, end, err := readChunkHeader(r)
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
		raw := make([]byte, cSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("pbzx: reading chunk body: %w", err)
		}
		chunks = append(chunks, rawChunk{uSize: uSize, cSize: cSize, raw: raw})
		total += uSize
	}

	out := make([]byte, total)
	offsets := make([]uint64, len(chunks))
	var off uint64
	for i, c := range chunks {
		offsets[i] = off
		off += c.uSize
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c rawChunk) {
			defer wg.Done()
			dst := out[offsets[i] : offsets[i]+c.uSize]
			if err := decodeChunkInto(c.uSize, c.cSize, c.raw, dst); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(i, c)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
