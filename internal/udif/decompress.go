// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package udif

import (
	"io"

	"github.com/klauspost/compress/bzip2"
	"github.com/klauspost/compress/zlib"
)

// LZFSEDecoder is the external collaborator contract from spec.md §6:
// "(input, output_buffer) -> Result<decoded_len>", where the caller
// guarantees output_buffer >= 2x the expected uncompressed size.
type LZFSEDecoder interface {
	Decode(input []byte, output []byte) (decodedLen int, err error)
}

// unsupportedLZFSE is the default: no pure-Go LZFSE/LZVN decoder exists in
// the dependency pack, so out of the box these block types fail the way
// spec.md §4.1 prescribes for ADC ("fail with Unsupported"). A caller that
// links a real decoder (e.g. via cgo) supplies one through WithLZFSEDecoder.
type unsupportedLZFSE struct{}

func (unsupportedLZFSE) Decode([]byte, []byte) (int, error) {
	return 0, errUnsupported("no LZFSE/LZVN decoder configured")
}

// decodeBlock writes exactly dstLen bytes to dst, decoding one block run.
// dataFork is the data-fork region of the image (offsets in a run's
// CompressedOffset are relative to its base).
func decodeBlock(dataFork io.ReaderAt, run blockRun, dst []byte, dstLen int64, lzfse LZFSEDecoder) error {
	switch run.Type {
	case runZeroFill, runComment, runEnd:
		for i := range dst {
			dst[i] = 0
		}
		return nil

	case runRaw, runIgnore:
		clen := int64(run.CompressedLength)
		if clen > dstLen {
			clen = dstLen
		}
		if _, err := io.ReadFull(io.NewSectionReader(dataFork, int64(run.CompressedOffset), clen), dst[:clen]); err != nil {
			return errIO("reading raw block", err)
		}
		for i := clen; i < dstLen; i++ {
			dst[i] = 0
		}
		return nil

	case runZlib:
		src := io.NewSectionReader(dataFork, int64(run.CompressedOffset), int64(run.CompressedLength))
		zr, err := zlib.NewReader(src)
		if err != nil {
			return errStructure("zlib block header invalid")
		}
		defer zr.Close()
		return readFullLoop(zr, dst)

	case runBzip2:
		src := io.NewSectionReader(dataFork, int64(run.CompressedOffset), int64(run.CompressedLength))
		br := bzip2.NewReader(src)
		return readFullLoop(br, dst)

	case runLZFSE, runLZVN:
		comp := make([]byte, run.CompressedLength)
		if _, err := io.ReadFull(io.NewSectionReader(dataFork, int64(run.CompressedOffset), int64(run.CompressedLength)), comp); err != nil {
			return errIO("reading LZFSE block", err)
		}
		// The decoder requires headroom beyond the declared output (spec.md §4.1).
		scratch := make([]byte, 2*dstLen)
		n, err := lzfse.Decode(comp, scratch)
		if err != nil {
			return err
		}
		if int64(n) < dstLen {
			return errStructure("LZFSE block decoded short")
		}
		copy(dst, scratch[:dstLen])
		return nil

	case runADC:
		return errUnsupported("ADC compression is not supported")

	default:
		return errUnsupported("unknown block run type")
	}
}

// readFullLoop drives a decoder until dst is full. io.ReadFull already loops
// internally across short reads, which is exactly the discipline spec.md
// §4.1 requires ("loop until dst_len bytes produced").
func readFullLoop(r io.Reader, dst []byte) error {
	if _, err := io.ReadFull(r, dst); err != nil {
		return errIO("decompressing block", err)
	}
	return nil
}
