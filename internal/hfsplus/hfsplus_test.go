// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package hfsplus

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// fabricate builds a minimal HFS+ volume: one root-level file "test.bin"
// holding payload (exactly one inline extent), a header-only extents
// B-tree, and a catalog B-tree of one header node plus one leaf node.
func fabricate(t *testing.T, payload []byte, caseSensitive bool) []byte {
	t.Helper()
	const blockSize = 512

	totalBlocks := 116
	buf := make([]byte, totalBlocks*blockSize)

	// volume header at 1024
	vh := buf[1024:1536]
	if caseSensitive {
		binary.BigEndian.PutUint16(vh[0:2], 0x4858) // "HX"
		binary.BigEndian.PutUint16(vh[2:4], 5)
	} else {
		binary.BigEndian.PutUint16(vh[0:2], 0x482B) // "H+"
		binary.BigEndian.PutUint16(vh[2:4], 4)
	}
	binary.BigEndian.PutUint32(vh[40:44], blockSize)
	binary.BigEndian.PutUint32(vh[44:48], uint32(totalBlocks))

	putFork := func(dst []byte, logicalSize uint64, startBlock, count uint32) {
		binary.BigEndian.PutUint64(dst[0:8], logicalSize)
		binary.BigEndian.PutUint32(dst[12:16], count)
		binary.BigEndian.PutUint32(dst[16:20], startBlock)
		binary.BigEndian.PutUint32(dst[20:24], count)
	}
	putFork(vh[192:272], blockSize, 10, 1) // extents file: 1 block at block 10
	putFork(vh[272:352], 2*blockSize, 11, 2) // catalog file: 2 blocks at block 11

	// extents b-tree: header node only (block 10), kind=header
	extHeader := buf[10*blockSize : 11*blockSize]
	extHeader[8] = 1 // kind = header node
	binary.BigEndian.PutUint16(extHeader[32:34], blockSize)

	// catalog b-tree header node (block 11, fork-local node 0)
	catHeader := buf[11*blockSize : 12*blockSize]
	catHeader[8] = 1 // kind = header
	binary.BigEndian.PutUint32(catHeader[16:20], 1) // rootNode = fork-local node 1
	binary.BigEndian.PutUint32(catHeader[24:28], 1) // firstLeafNode = 1
	binary.BigEndian.PutUint16(catHeader[32:34], blockSize)

	// catalog leaf node (block 12, fork-local node 1)
	leaf := buf[12*blockSize : 13*blockSize]
	leaf[8] = 0xFF // kind = leaf (int8 -1)
	binary.BigEndian.PutUint16(leaf[10:12], 1) // numRecords = 1

	name := "test.bin"
	units := encodeUTF16(name)
	key := make([]byte, 6+2*len(units))
	binary.BigEndian.PutUint32(key[0:4], cnidRootFolder)
	binary.BigEndian.PutUint16(key[4:6], uint16(len(units)))
	for i, u := range units {
		binary.BigEndian.PutUint16(key[6+2*i:8+2*i], u)
	}

	val := make([]byte, 248)
	binary.BigEndian.PutUint16(val[0:2], recFile)
	binary.BigEndian.PutUint32(val[8:12], 99) // fileID
	binary.BigEndian.PutUint64(val[88:96], uint64(len(payload)))
	binary.BigEndian.PutUint32(val[100:104], 1)   // dataFork.totalBlocks
	binary.BigEndian.PutUint32(val[104:108], 100) // dataFork.extents[0].startBlock
	blocksForPayload := uint32((len(payload) + blockSize - 1) / blockSize)
	binary.BigEndian.PutUint32(val[108:112], blocksForPayload) // extents[0].blockCount

	rec := make([]byte, 2+len(key)+len(val))
	binary.BigEndian.PutUint16(rec[0:2], uint16(len(key)))
	copy(rec[2:], key)
	copy(rec[2+len(key):], val)

	recStart := 14
	recEnd := recStart + len(rec)
	copy(leaf[recStart:recEnd], rec)
	binary.BigEndian.PutUint16(leaf[blockSize-2:blockSize], uint16(recStart))
	binary.BigEndian.PutUint16(leaf[blockSize-4:blockSize-2], uint16(recEnd))

	// file payload at block 100
	copy(buf[100*blockSize:], payload)

	return buf
}

func TestOpenAndReadFile(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 8192)
	image := fabricate(t, payload, false)

	v, err := Open(bytes.NewReader(image))
	if err != nil {
		t.Fatal(err)
	}

	got, err := v.ReadFile("test.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read %d bytes, want %d matching payload", len(got), len(payload))
	}
}

func TestCaseInsensitiveLookupOnHFSPlus(t *testing.T) {
	payload := []byte("hello")
	image := fabricate(t, payload, false)

	v, err := Open(bytes.NewReader(image))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Stat("TEST.BIN"); err != nil {
		t.Fatalf("expected case-insensitive match on HFS+, got %v", err)
	}
}

func TestCaseSensitiveLookupOnHFSX(t *testing.T) {
	payload := []byte("hello")
	image := fabricate(t, payload, true)

	v, err := Open(bytes.NewReader(image))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Stat("TEST.BIN"); err == nil {
		t.Fatal("expected case-sensitive miss on HFSX")
	}
	if _, err := v.Stat("test.bin"); err != nil {
		t.Fatalf("expected exact-case hit on HFSX: %v", err)
	}
}

func TestForkReaderIdempotence(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 3000)
	image := fabricate(t, payload, false)

	v, err := Open(bytes.NewReader(image))
	if err != nil {
		t.Fatal(err)
	}

	r, size, err := v.OpenFork("test.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	first := make([]byte, size)
	if _, err := io.ReadFull(r, first); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	second := make([]byte, size)
	if _, err := io.ReadFull(r, second); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) || !bytes.Equal(first, payload) {
		t.Fatal("ForkReader reread diverges from first read or materialized payload")
	}
}

func TestStatMissingFile(t *testing.T) {
	image := fabricate(t, []byte("x"), false)
	v, err := Open(bytes.NewReader(image))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Stat("nope.txt"); err == nil {
		t.Fatal("expected FileNotFound")
	}
}
