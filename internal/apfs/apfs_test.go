// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package apfs

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

const fxBlockSize = 4096

// memImage is a flat byte-addressable backing store for the fixtures
// below, standing in for an on-disk partition.
type memImage struct{ data []byte }

func newMemImage(blocks uint64) *memImage {
	return &memImage{data: make([]byte, blocks*fxBlockSize)}
}

func (m *memImage) block(i uint64) []byte {
	return m.data[i*fxBlockSize : (i+1)*fxBlockSize]
}

func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type fixedEntry struct {
	oid, xid, paddr uint64
}

// buildFixedKVLeaf fabricates a single-node (root + leaf) fixed-kv B-tree,
// the shape every OMAP in this fixture uses.
func buildFixedKVLeaf(entries []fixedEntry) []byte {
	buf := make([]byte, fxBlockSize)
	binary.LittleEndian.PutUint16(buf[32:34], btnodeRoot|btnodeLeaf|btnodeFixedKV)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(len(entries)))

	const tocEntrySize, keyLen, valLen = 4, 16, 16
	tocLen := tocEntrySize * len(entries)
	binary.LittleEndian.PutUint16(buf[40:42], 0)
	binary.LittleEndian.PutUint16(buf[42:44], uint16(tocLen))

	tocStart := btnHeaderSize
	keyAreaStart := tocStart + tocLen
	valAreaEnd := fxBlockSize - btreeInfoSize

	for i, e := range entries {
		kOff := i * keyLen
		kStart := keyAreaStart + kOff
		binary.LittleEndian.PutUint64(buf[kStart:kStart+8], e.oid)
		binary.LittleEndian.PutUint64(buf[kStart+8:kStart+16], e.xid)

		vOff := (i + 1) * valLen
		vStart := valAreaEnd - vOff
		binary.LittleEndian.PutUint64(buf[vStart+8:vStart+16], e.paddr)

		tEntry := tocStart + i*tocEntrySize
		binary.LittleEndian.PutUint16(buf[tEntry:tEntry+2], uint16(kOff))
		binary.LittleEndian.PutUint16(buf[tEntry+2:tEntry+4], uint16(vOff))
	}
	return buf
}

type catalogRecord struct {
	key, val []byte
}

// buildVariableKVLeaf fabricates a single-node (root + leaf) variable-kv
// B-tree holding pre-encoded catalog records, in ascending order.
func buildVariableKVLeaf(records []catalogRecord) []byte {
	buf := make([]byte, fxBlockSize)
	binary.LittleEndian.PutUint16(buf[32:34], btnodeRoot|btnodeLeaf)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(len(records)))

	const tocEntrySize = 8
	tocLen := tocEntrySize * len(records)
	binary.LittleEndian.PutUint16(buf[40:42], 0)
	binary.LittleEndian.PutUint16(buf[42:44], uint16(tocLen))

	tocStart := btnHeaderSize
	keyAreaStart := tocStart + tocLen
	valAreaEnd := fxBlockSize - btreeInfoSize

	kOff, vOffFromEnd := 0, 0
	for i, rec := range records {
		kStart := keyAreaStart + kOff
		copy(buf[kStart:kStart+len(rec.key)], rec.key)

		vOffFromEnd += len(rec.val)
		vStart := valAreaEnd - vOffFromEnd
		copy(buf[vStart:vStart+len(rec.val)], rec.val)

		tEntry := tocStart + i*tocEntrySize
		binary.LittleEndian.PutUint16(buf[tEntry:tEntry+2], uint16(kOff))
		binary.LittleEndian.PutUint16(buf[tEntry+2:tEntry+4], uint16(len(rec.key)))
		binary.LittleEndian.PutUint16(buf[tEntry+4:tEntry+6], uint16(vOffFromEnd))
		binary.LittleEndian.PutUint16(buf[tEntry+6:tEntry+8], uint16(len(rec.val)))

		kOff += len(rec.key)
	}
	return buf
}

func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func catKey(oid uint64, typ uint8, suffix []byte) []byte {
	k := make([]byte, 8, 8+len(suffix))
	binary.LittleEndian.PutUint64(k, objIDAndType(oid, typ))
	return append(k, suffix...)
}

func dstreamXFields(logicalSize uint64) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], 1) // num_exts
	entry := append(le16(0), le16(8)...)     // we only need typ byte below, overwritten
	entry[0] = xfieldTypeDstream
	b = append(b, entry...)
	b = append(b, le64(logicalSize)...)
	return b
}

// fabricate builds a minimal single-volume APFS container containing one
// root directory with a single file "hello.txt".
//
// Block layout:
//
//	0  NXSB
//	1  container object map (object header only)
//	2  APSB (volume superblock)
//	3  volume object map (object header only)
//	4  catalog root node (INODE x2, DIR_REC, FILE_EXTENT)
//	5  file data
//	10 container omap's b-tree root
//	11 volume omap's b-tree root
func fabricate(t *testing.T) *memImage {
	t.Helper()
	const fileData = "hello world"

	img := newMemImage(16)

	nx := img.block(0)
	binary.LittleEndian.PutUint32(nx[32:36], nxMagic)
	binary.LittleEndian.PutUint32(nx[36:40], fxBlockSize)
	binary.LittleEndian.PutUint64(nx[40:48], 16)
	binary.LittleEndian.PutUint64(nx[160:168], 1) // container omap oid = block 1
	binary.LittleEndian.PutUint64(nx[184:192], 500) // fs_oids[0], virtual

	om := img.block(1)
	binary.LittleEndian.PutUint32(om[24:28], objTypeOmap)
	binary.LittleEndian.PutUint64(om[64:72], 10) // om_tree_oid
	copy(img.block(10), buildFixedKVLeaf([]fixedEntry{{oid: 500, xid: 1, paddr: 2}}))

	apsb := img.block(2)
	binary.LittleEndian.PutUint32(apsb[32:36], apsbMagic)
	binary.LittleEndian.PutUint64(apsb[232:240], 3)   // apfs_omap_oid
	binary.LittleEndian.PutUint64(apsb[240:248], 600) // apfs_root_tree_oid, virtual
	copy(apsb[440:], "TestVolume")

	vom := img.block(3)
	binary.LittleEndian.PutUint32(vom[24:28], objTypeOmap)
	binary.LittleEndian.PutUint64(vom[64:72], 11)
	copy(img.block(11), buildFixedKVLeaf([]fixedEntry{{oid: 600, xid: 1, paddr: 4}}))

	rootInodeVal := make([]byte, 92) // private_id 0: a directory has no dstream

	fileXFields := dstreamXFields(uint64(len(fileData)))
	fileInodeVal := make([]byte, 92)
	binary.LittleEndian.PutUint64(fileInodeVal[8:16], 100) // private_id (dstream oid)
	fileInodeVal = append(fileInodeVal, fileXFields...)

	dirRecVal := append(le64(5), append(le64(0), le16(0)...)...) // file_id=5, date_added=0, flags=0

	records := []catalogRecord{
		{key: catKey(2, recTypeInode, nil), val: rootInodeVal},
		{key: catKey(2, recTypeDirRec, append(le32(10), []byte("hello.txt\x00")...)), val: dirRecVal},
		{key: catKey(5, recTypeInode, nil), val: fileInodeVal},
		{key: catKey(100, recTypeFileExtent, le64(0)), val: append(le64(uint64(len(fileData))), append(le64(5), le64(0)...)...)},
	}
	copy(img.block(4), buildVariableKVLeaf(records))

	copy(img.block(5), fileData)

	return img
}

func TestOpenAndStatRoot(t *testing.T) {
	img := fabricate(t)
	v, err := Open(img, false)
	require.NoError(t, err)
	require.Equal(t, "TestVolume", v.Name())

	fi, err := v.Stat("")
	require.NoError(t, err)
	require.True(t, fi.IsDir)
}

func TestReadDirAndStatFile(t *testing.T) {
	img := fabricate(t)
	v, err := Open(img, false)
	require.NoError(t, err)

	entries, err := v.ReadDir("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name)
	require.False(t, entries[0].IsDir)

	fi, err := v.Stat("hello.txt")
	require.NoError(t, err)
	require.False(t, fi.IsDir)
	require.EqualValues(t, 11, fi.Size)
}

func TestReadFile(t *testing.T) {
	img := fabricate(t)
	v, err := Open(img, false)
	require.NoError(t, err)

	data, err := v.ReadFile("hello.txt")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestStatMissingFile(t *testing.T) {
	img := fabricate(t)
	v, err := Open(img, false)
	require.NoError(t, err)

	_, err = v.Stat("nope.txt")
	require.Error(t, err)
}
