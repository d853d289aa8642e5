// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package udif implements a read-only decoder for Apple's UDIF (.dmg)
// compressed disk-image container: the koly trailer, the per-partition
// "mish" block map, and block-by-block decompression to a buffer or writer.
package udif

import (
	"hash/crc32"
	"io"
	"strings"

	"github.com/elliotnunn/dmgkit/internal/sectionreader"
)

// PartitionKind classifies a partition by its plist "Name" field.
type PartitionKind int

const (
	KindOther PartitionKind = iota
	KindHFS
	KindAPFS
)

// PartitionInfo is the public, read-only view of one partition.
type PartitionInfo struct {
	Name             string
	ID               int
	Kind             PartitionKind
	SectorCount      uint64
	UncompressedSize int64
	CompressedSize   int64
}

type partition struct {
	info PartitionInfo
	m    *blockMap
}

// Reader is an opened UDIF image. It is not safe for concurrent use: every
// Reader owns exclusive access to the underlying ReaderAt for its lifetime
// (spec.md §5).
type Reader struct {
	src        io.ReaderAt
	trailer    *kolyTrailer
	partitions []partition
	lzfse      LZFSEDecoder
	cache      *blockCache
}

// Option configures Open.
type Option func(*options)

type options struct {
	verifyChecksums bool
	plistParser     PlistParser
	lzfse           LZFSEDecoder
	cacheBlocks     int
}

func defaultOptions() *options {
	return &options{
		verifyChecksums: true,
		plistParser:     defaultPlistParser,
		lzfse:           unsupportedLZFSE{},
		cacheBlocks:     256,
	}
}

// WithVerifyChecksums controls whether Open verifies the data-fork and
// master CRC32 checksums. Both are verified by default; spec.md §4.1 treats
// either mismatch as fatal unless the caller opts out.
func WithVerifyChecksums(v bool) Option {
	return func(o *options) { o.verifyChecksums = v }
}

// WithPlistParser overrides the default XML plist reader.
func WithPlistParser(p PlistParser) Option {
	return func(o *options) { o.plistParser = p }
}

// WithLZFSEDecoder installs a real LZFSE/LZVN decoder; without one those
// block types fail with KindUnsupportedCompression.
func WithLZFSEDecoder(d LZFSEDecoder) Option {
	return func(o *options) { o.lzfse = d }
}

// WithBlockCacheSize sets how many decompressed blocks are memoized across
// all partitions. Zero disables the cache.
func WithBlockCacheSize(n int) Option {
	return func(o *options) { o.cacheBlocks = n }
}

// Open parses the koly trailer and plist of src, verifying checksums unless
// disabled.
func Open(src io.ReaderAt, size int64, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if size < kolySize {
		return nil, errStructure("image too small to contain a koly trailer")
	}

	var trailerBuf [kolySize]byte
	if _, err := src.ReadAt(trailerBuf[:], size-kolySize); err != nil {
		return nil, errIO("reading koly trailer", err)
	}
	trailer, err := parseKoly(trailerBuf[:])
	if err != nil {
		return nil, err
	}

	xmlBuf := make([]byte, trailer.XMLLength)
	if _, err := src.ReadAt(xmlBuf, int64(trailer.XMLOffset)); err != nil {
		return nil, errIO("reading plist", err)
	}
	entries, err := o.plistParser(xmlBuf)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		src:     src,
		trailer: trailer,
		lzfse:   o.lzfse,
	}
	if o.cacheBlocks > 0 {
		r.cache = newBlockCache(o.cacheBlocks)
	}

	for _, e := range entries {
		m, err := parseMish(e.Mish)
		if err != nil {
			return nil, err
		}
		uncompressed := int64(m.SectorCount) * 512
		compressed := int64(0)
		for _, run := range m.Runs {
			if run.Type == runRaw || run.Type == runZlib || run.Type == runBzip2 || run.Type == runLZFSE || run.Type == runLZVN {
				compressed += int64(run.CompressedLength)
			}
		}
		r.partitions = append(r.partitions, partition{
			info: PartitionInfo{
				Name:             e.Name,
				ID:               e.ID,
				Kind:             classifyPartition(e.Name),
				SectorCount:      m.SectorCount,
				UncompressedSize: uncompressed,
				CompressedSize:   compressed,
			},
			m: m,
		})
	}

	if o.verifyChecksums {
		if err := r.verifyDataForkChecksum(size); err != nil {
			return nil, err
		}
		if err := r.verifyMasterChecksum(); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func classifyPartition(name string) PartitionKind {
	switch {
	case strings.Contains(name, "Apple_HFS"):
		return KindHFS
	case strings.Contains(name, "Apple_APFS"):
		return KindAPFS
	default:
		return KindOther
	}
}

// verifyDataForkChecksum checks the whole-data-fork CRC32 recorded in the
// koly trailer. A zero/absent checksum is skipped (spec.md §4.1).
func (r *Reader) verifyDataForkChecksum(fileSize int64) error {
	if r.trailer.DataChecksumType != 2 || r.trailer.DataChecksum == 0 {
		return nil
	}
	h := crc32.NewIEEE()
	sr := io.NewSectionReader(r.src, int64(r.trailer.DataForkOffset), int64(r.trailer.DataForkLength))
	if _, err := io.Copy(h, sr); err != nil {
		return errIO("hashing data fork", err)
	}
	actual := h.Sum32()
	if actual != r.trailer.DataChecksum {
		return errChecksum("data-fork checksum mismatch", r.trailer.DataChecksum, actual)
	}
	return nil
}

// verifyMasterChecksum is the CRC32 over the 4-byte checksums of every
// partition, concatenated in partition order (spec.md §4.1). It only
// verifies partitions whose own checksum is present.
func (r *Reader) verifyMasterChecksum() error {
	if r.trailer.MasterChecksumType != 2 {
		return nil
	}
	h := crc32.NewIEEE()
	var buf [4]byte
	for _, p := range r.partitions {
		sum := partitionChecksum(p.m)
		if sum == 0 {
			continue
		}
		be4(buf[:], sum)
		h.Write(buf[:])
	}
	actual := h.Sum32()
	if actual != r.trailer.MasterChecksum {
		return errChecksum("master checksum mismatch", r.trailer.MasterChecksum, actual)
	}
	return nil
}

func be4(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// partitionChecksum returns the mish blob's own CRC32 checksum (spec.md §3),
// or 0 ("absent") when its type isn't 2. verifyMasterChecksum folds this
// value into the master CRC32 over every partition's checksum.
func partitionChecksum(m *blockMap) uint32 {
	if m.ChecksumType != 2 {
		return 0
	}
	return m.Checksum
}

// PartitionSummary is one row of a Summary: the subset of PartitionInfo a
// human-facing listing cares about, grounded on dpp-tool's cmd_info.rs.
type PartitionSummary struct {
	Name           string
	ID             int
	Kind           PartitionKind
	SectorCount    uint64
	CompressedSize int64
}

// Summary is a structured, formatting-free description of an opened image,
// the data dpp-tool's "info" command prints — producing the table is left
// to a CLI layer outside this package's scope.
type Summary struct {
	Partitions []PartitionSummary
}

// Summary reports every partition's name, id, kind, sector count and
// compressed size, in plist order.
func (r *Reader) Summary() Summary {
	s := Summary{Partitions: make([]PartitionSummary, len(r.partitions))}
	for i, p := range r.partitions {
		s.Partitions[i] = PartitionSummary{
			Name:           p.info.Name,
			ID:             p.info.ID,
			Kind:           p.info.Kind,
			SectorCount:    p.info.SectorCount,
			CompressedSize: p.info.CompressedSize,
		}
	}
	return s
}

// Partitions returns every partition's metadata in plist order.
func (r *Reader) Partitions() []PartitionInfo {
	out := make([]PartitionInfo, len(r.partitions))
	for i, p := range r.partitions {
		out[i] = p.info
	}
	return out
}

// partitionByID finds a partition by its plist ID.
func (r *Reader) partitionByID(id int) (*partition, error) {
	for i := range r.partitions {
		if r.partitions[i].info.ID == id {
			return &r.partitions[i], nil
		}
	}
	return nil, errNoPartition("no such partition id")
}

// MainPartitionID prefers HFS/HFSX, then APFS, then the largest partition.
func (r *Reader) MainPartitionID() (int, error) {
	if len(r.partitions) == 0 {
		return 0, errNoPartition("image has no partitions")
	}
	for _, p := range r.partitions {
		if p.info.Kind == KindHFS {
			return p.info.ID, nil
		}
	}
	for _, p := range r.partitions {
		if p.info.Kind == KindAPFS {
			return p.info.ID, nil
		}
	}
	best := r.partitions[0]
	for _, p := range r.partitions[1:] {
		if p.info.UncompressedSize > best.info.UncompressedSize {
			best = p
		}
	}
	return best.info.ID, nil
}

// HFSPartitionID returns only an HFS/HFSX partition, failing otherwise.
func (r *Reader) HFSPartitionID() (int, error) {
	for _, p := range r.partitions {
		if p.info.Kind == KindHFS {
			return p.info.ID, nil
		}
	}
	return 0, errNoPartition("image has no HFS/HFSX partition")
}

// DecompressPartition materializes an entire partition into memory.
func (r *Reader) DecompressPartition(id int) ([]byte, error) {
	p, err := r.partitionByID(id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int64(p.m.SectorCount)*512)
	if _, err := r.decompressInto(p, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecompressPartitionTo streams a partition one block at a time, never
// holding the whole partition in memory.
func (r *Reader) DecompressPartitionTo(id int, w io.Writer) (int64, error) {
	p, err := r.partitionByID(id)
	if err != nil {
		return 0, err
	}
	return r.streamTo(p, w)
}

// decompressInto decodes every run of p directly into buf, which must be
// sized sectorCount*512. Holes in logical sector space are zero-padded.
func (r *Reader) decompressInto(p *partition, buf []byte) (int64, error) {
	base := int64(p.m.FirstSector) * 512
	dataFork := sectionreader.Section(r.src, int64(r.trailer.DataForkOffset), int64(r.trailer.DataForkLength))

	pos := int64(0)
	for i, run := range p.m.Runs {
		dstOff := int64(run.SectorNumber)*512 - base
		dstLen := int64(run.SectorCount) * 512
		if dstOff > pos {
			for j := pos; j < dstOff; j++ {
				buf[j] = 0
			}
		}
		if dstOff < 0 || dstOff+dstLen > int64(len(buf)) {
			return 0, errStructure("block run falls outside partition bounds")
		}

		if cached, ok := r.cacheGet(p, i); ok {
			copy(buf[dstOff:dstOff+dstLen], cached)
		} else {
			if err := decodeBlock(dataFork, run, buf[dstOff:dstOff+dstLen], dstLen, r.lzfse); err != nil {
				return 0, err
			}
			r.cachePut(p, i, append([]byte(nil), buf[dstOff:dstOff+dstLen]...))
		}
		pos = dstOff + dstLen
	}
	for j := pos; j < int64(len(buf)); j++ {
		buf[j] = 0
	}
	return int64(len(buf)), nil
}

// streamTo decodes block-by-block directly to w, emitting zero padding for
// holes in logical sector space (spec.md §4.1/§5).
func (r *Reader) streamTo(p *partition, w io.Writer) (int64, error) {
	dataFork := sectionreader.Section(r.src, int64(r.trailer.DataForkOffset), int64(r.trailer.DataForkLength))
	base := int64(p.m.FirstSector) * 512
	total := int64(p.m.SectorCount) * 512

	var written int64
	zero := make([]byte, 64*1024)
	writeZeros := func(n int64) error {
		for n > 0 {
			chunk := n
			if chunk > int64(len(zero)) {
				chunk = int64(len(zero))
			}
			if _, err := w.Write(zero[:chunk]); err != nil {
				return errIO("writing zero padding", err)
			}
			n -= chunk
			written += chunk
		}
		return nil
	}

	for i, run := range p.m.Runs {
		dstOff := int64(run.SectorNumber)*512 - base
		dstLen := int64(run.SectorCount) * 512
		if dstOff > written {
			if err := writeZeros(dstOff - written); err != nil {
				return written, err
			}
		}

		buf := make([]byte, dstLen)
		if cached, ok := r.cacheGet(p, i); ok {
			copy(buf, cached)
		} else {
			if err := decodeBlock(dataFork, run, buf, dstLen, r.lzfse); err != nil {
				return written, err
			}
			r.cachePut(p, i, append([]byte(nil), buf...))
		}
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, errIO("writing decoded block", err)
		}
	}

	if written < total {
		if err := writeZeros(total - written); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (r *Reader) cacheGet(p *partition, run int) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.get(p.info.ID, run)
}

func (r *Reader) cachePut(p *partition, run int, data []byte) {
	if r.cache == nil {
		return
	}
	r.cache.put(p.info.ID, run, data)
}
