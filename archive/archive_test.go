package archive_test

import (
	"bytes"
	"crypto/md5" //nolint:gosec // test fixture keys are MD5 by wire format
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdp/keg/archive"
)

const (
	blockSize   = 4096
	entryStride = 24
)

func buildEntry(buf *bytes.Buffer, key [16]byte, size, offset uint32) {
	buf.Write(key[:])
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], size)
	binary.BigEndian.PutUint32(b[4:8], offset)
	buf.Write(b[:])
}

func keyFromString(s string) [16]byte {
	sum := md5.Sum([]byte(s)) //nolint:gosec // test fixture
	return sum
}

// buildIndex constructs a valid archive index file (body padded to one
// block, plus tail) from a list of (key, size, offset) triples.
func buildIndex(t *testing.T, entries [][3]any) []byte {
	t.Helper()
	var body bytes.Buffer
	for _, e := range entries {
		key := e[0].([16]byte)
		size := e[1].(uint32)
		offset := e[2].(uint32)
		buildEntry(&body, key, size, offset)
	}
	// pad to a full block with zeros (empty trailing entries)
	for body.Len()%blockSize != 0 {
		body.WriteByte(0)
	}

	bodyBytes := body.Bytes()
	sum := md5.Sum(bodyBytes) //nolint:gosec // test fixture

	var out bytes.Buffer
	out.Write(bodyBytes)
	var tail [28]byte
	binary.BigEndian.PutUint32(tail[0:4], blockSize)
	binary.BigEndian.PutUint32(tail[4:8], entryStride)
	copy(tail[8:24], sum[:])
	binary.BigEndian.PutUint32(tail[24:28], uint32(len(bodyBytes))) //nolint:gosec // test fixture
	out.Write(tail[:])
	return out.Bytes()
}

func TestParseIndexEmptyHasZeroEntriesTailVerifies(t *testing.T) {
	data := buildIndex(t, nil)
	idx, err := archive.Parse(data, "archkey")
	require.NoError(t, err)
	assert.Empty(t, idx.Entries)
}

func TestParseIndexEntries(t *testing.T) {
	k1 := keyFromString("entry-1")
	k2 := keyFromString("entry-2")
	data := buildIndex(t, [][3]any{
		{k1, uint32(100), uint32(0)},
		{k2, uint32(200), uint32(100)},
	})

	idx, err := archive.Parse(data, "archkey")
	require.NoError(t, err)
	require.Len(t, idx.Entries, 2)
	assert.Equal(t, hex.EncodeToString(k1[:]), idx.Entries[0].KeyHex())
	assert.Equal(t, uint32(100), idx.Entries[1].Offset)
}

func TestParseIndexTailMismatch(t *testing.T) {
	data := buildIndex(t, [][3]any{{keyFromString("x"), uint32(1), uint32(0)}})
	data[0] ^= 0xFF // corrupt body after the tail was computed

	_, err := archive.Parse(data, "archkey")
	assert.ErrorIs(t, err, archive.ErrIntegrity)
}

func TestSynthesizeGroupFirstArchiveWins(t *testing.T) {
	dup := keyFromString("dup")
	idx1 := mustParse(t, buildIndex(t, [][3]any{{dup, uint32(10), uint32(0)}}), "a1")
	idx2 := mustParse(t, buildIndex(t, [][3]any{{dup, uint32(99), uint32(500)}}), "a2")

	g := archive.Synthesize("group1", []string{"a1", "a2"}, []*archive.Index{idx1, idx2})

	archiveKey, size, offset, ok := g.Lookup(hex.EncodeToString(dup[:]))
	require.True(t, ok)
	assert.Equal(t, "a1", archiveKey)
	assert.Equal(t, uint32(10), size)
	assert.Equal(t, uint32(0), offset)
}

func mustParse(t *testing.T, data []byte, key string) *archive.Index {
	t.Helper()
	idx, err := archive.Parse(data, key)
	require.NoError(t, err)
	return idx
}

type memSource []byte

func (m memSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m[off:])
	if n < len(p) {
		return n, errShort
	}
	return n, nil
}

var errShort = assert.AnError

func TestExtractEntryVerifiesMD5(t *testing.T) {
	content := []byte("archived file body")
	key := md5.Sum(content) //nolint:gosec // test fixture
	keyHex := hex.EncodeToString(key[:])

	archBytes := append([]byte("padding--"), content...)
	src := memSource(archBytes)

	got, err := archive.ExtractEntry(src, keyHex, uint32(len(content)), uint32(len("padding--")))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestExtractEntryCorruptionDetected(t *testing.T) {
	content := []byte("archived file body")
	key := md5.Sum(content) //nolint:gosec // test fixture
	keyHex := hex.EncodeToString(key[:])

	corrupted := append([]byte{}, content...)
	corrupted[0] ^= 0xFF
	src := memSource(corrupted)

	_, err := archive.ExtractEntry(src, keyHex, uint32(len(corrupted)), 0)
	assert.ErrorIs(t, err, archive.ErrIntegrity)
}

func TestExtractBatchGroupsAdjacentEntries(t *testing.T) {
	a := []byte("AAAA")
	b := []byte("BBBBBB")
	var buf bytes.Buffer
	buf.Write(a)
	buf.Write(b)
	src := memSource(buf.Bytes())

	keyA := md5.Sum(a) //nolint:gosec // test fixture
	keyB := md5.Sum(b) //nolint:gosec // test fixture

	entries := []archive.BatchEntry[string]{
		{KeyHex: hex.EncodeToString(keyB[:]), Size: uint32(len(b)), Offset: uint32(len(a)), Label: "b"},
		{KeyHex: hex.EncodeToString(keyA[:]), Size: uint32(len(a)), Offset: 0, Label: "a"},
	}

	results, err := archive.ExtractBatch(src, entries)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byLabel := map[string][]byte{}
	for _, r := range results {
		byLabel[r.Label] = r.Data
	}
	assert.Equal(t, a, byLabel["a"])
	assert.Equal(t, b, byLabel["b"])
}
