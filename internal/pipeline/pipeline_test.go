// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pipeline

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
)

// fabricateHFSPlusVolume builds the same minimal single-file HFS+ volume
// internal/hfsplus's own fixture does: root file "test.bin" holding
// payload via one inline extent, header-only extents B-tree, one-leaf
// catalog B-tree.
func fabricateHFSPlusVolume(payload []byte) []byte {
	const blockSize = 512
	totalBlocks := 116
	buf := make([]byte, totalBlocks*blockSize)

	vh := buf[1024:1536]
	binary.BigEndian.PutUint16(vh[0:2], 0x482B) // "H+"
	binary.BigEndian.PutUint16(vh[2:4], 4)
	binary.BigEndian.PutUint32(vh[40:44], blockSize)
	binary.BigEndian.PutUint32(vh[44:48], uint32(totalBlocks))

	putFork := func(dst []byte, logicalSize uint64, startBlock, count uint32) {
		binary.BigEndian.PutUint64(dst[0:8], logicalSize)
		binary.BigEndian.PutUint32(dst[12:16], count)
		binary.BigEndian.PutUint32(dst[16:20], startBlock)
		binary.BigEndian.PutUint32(dst[20:24], count)
	}
	putFork(vh[192:272], blockSize, 10, 1)
	putFork(vh[272:352], 2*blockSize, 11, 2)

	extHeader := buf[10*blockSize : 11*blockSize]
	extHeader[8] = 1
	binary.BigEndian.PutUint16(extHeader[32:34], blockSize)

	catHeader := buf[11*blockSize : 12*blockSize]
	catHeader[8] = 1
	binary.BigEndian.PutUint32(catHeader[16:20], 1)
	binary.BigEndian.PutUint32(catHeader[24:28], 1)
	binary.BigEndian.PutUint16(catHeader[32:34], blockSize)

	leaf := buf[12*blockSize : 13*blockSize]
	leaf[8] = 0xFF
	binary.BigEndian.PutUint16(leaf[10:12], 1)

	name := "test.bin"
	units := make([]uint16, len(name))
	for i, r := range name {
		units[i] = uint16(r)
	}
	key := make([]byte, 6+2*len(units))
	binary.BigEndian.PutUint32(key[0:4], 2) // root folder CNID
	binary.BigEndian.PutUint16(key[4:6], uint16(len(units)))
	for i, u := range units {
		binary.BigEndian.PutUint16(key[6+2*i:8+2*i], u)
	}

	val := make([]byte, 248)
	binary.BigEndian.PutUint16(val[0:2], 2) // kHFSPlusFileRecord
	binary.BigEndian.PutUint32(val[8:12], 99)
	binary.BigEndian.PutUint64(val[88:96], uint64(len(payload)))
	binary.BigEndian.PutUint32(val[100:104], 1)
	binary.BigEndian.PutUint32(val[104:108], 100)
	blocksForPayload := uint32((len(payload) + blockSize - 1) / blockSize)
	binary.BigEndian.PutUint32(val[108:112], blocksForPayload)

	rec := make([]byte, 2+len(key)+len(val))
	binary.BigEndian.PutUint16(rec[0:2], uint16(len(key)))
	copy(rec[2:], key)
	copy(rec[2+len(key):], val)

	recStart := 14
	recEnd := recStart + len(rec)
	copy(leaf[recStart:recEnd], rec)
	binary.BigEndian.PutUint16(leaf[blockSize-2:blockSize], uint16(recStart))
	binary.BigEndian.PutUint16(leaf[blockSize-4:blockSize-2], uint16(recEnd))

	copy(buf[100*blockSize:], payload)
	return buf
}

// fabricateDMG wraps a raw partition image in a minimal, uncompressed
// (run type 1 == "raw") UDIF container tagged Apple_HFS, matching the
// byte layout internal/udif's own fixture uses.
func fabricateDMG(partition []byte, kindName string) []byte {
	const (
		runRaw  = 0x00000001
		kolySz  = 512
		mishHdr = 204
	)
	sectorCount := len(partition) / 512

	dataFork := append([]byte(nil), partition...)

	var run bytes.Buffer
	writeU32 := func(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); run.Write(b[:]) }
	writeU64 := func(v uint64) { var b [8]byte; binary.BigEndian.PutUint64(b[:], v); run.Write(b[:]) }
	writeU32(runRaw)
	writeU32(0)
	writeU64(0)
	writeU64(uint64(sectorCount))
	writeU64(0)
	writeU64(uint64(len(dataFork)))

	mish := make([]byte, mishHdr+len(run.Bytes()))
	copy(mish[0:4], "mish")
	binary.BigEndian.PutUint64(mish[16:24], uint64(sectorCount))
	binary.BigEndian.PutUint32(mish[200:204], 1)
	copy(mish[mishHdr:], run.Bytes())

	data := base64.StdEncoding.EncodeToString(mish)
	xml := []byte(`<?xml version="1.0"?>
<plist version="1.0"><dict>
<key>resource-fork</key>
<dict>
<key>blkx</key>
<array>
<dict>
<key>Attributes</key><string>0x0050</string>
<key>Name</key><string>` + kindName + `</string>
<key>ID</key><string>0</string>
<key>Data</key><string>` + data + `</string>
</dict>
</array>
</dict>
</dict></plist>`)

	total := len(dataFork) + len(xml) + kolySz
	image := make([]byte, total)
	copy(image, dataFork)
	copy(image[len(dataFork):], xml)

	trailer := make([]byte, kolySz)
	copy(trailer[0:4], "koly")
	binary.BigEndian.PutUint64(trailer[216:224], uint64(len(dataFork)))
	binary.BigEndian.PutUint64(trailer[224:232], uint64(len(xml)))
	binary.BigEndian.PutUint64(trailer[492:500], uint64(sectorCount))
	binary.BigEndian.PutUint32(trailer[80:84], 2) // CRC32 data checksum
	h := crc32.NewIEEE()
	h.Write(dataFork)
	binary.BigEndian.PutUint32(trailer[88:92], h.Sum32())

	copy(image[len(dataFork)+len(xml):], trailer)
	return image
}

func TestOpenMainFilesystemHFSPlus(t *testing.T) {
	payload := []byte("hello from the pipeline")
	volume := fabricateHFSPlusVolume(payload)
	image := fabricateDMG(volume, "Apple_HFS")

	path := filepath.Join(t.TempDir(), "test.dmg")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}

	fs, err := OpenMainFilesystem(path)
	if err != nil {
		t.Fatalf("OpenMainFilesystem: %v", err)
	}

	got, err := fs.ReadFile("test.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}

	isDir, err := fs.IsDir("test.bin")
	if err != nil {
		t.Fatalf("IsDir: %v", err)
	}
	if isDir {
		t.Fatal("test.bin reported as a directory")
	}
}

func TestOpenMainFilesystemNoImage(t *testing.T) {
	if _, err := OpenMainFilesystem(filepath.Join(t.TempDir(), "missing.dmg")); err == nil {
		t.Fatal("expected an error opening a nonexistent file")
	}
}
