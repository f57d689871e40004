package store_test

import (
	"crypto/md5" //nolint:gosec // test fixture keys are MD5 by wire format
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdp/keg/store"
)

func keyOf(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // test fixture
	return fmt.Sprintf("%x", sum)
}

func TestWriteThenHasAndOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	data := []byte("# hello config\nkey = value\n")
	key := keyOf(data)

	require.NoError(t, s.Write(store.KindConfig, key, strings.NewReader(string(data)), store.WriteOptions{}))

	assert.True(t, s.HasConfig(key))
	f, err := s.OpenObject(store.KindConfig, key)
	require.NoError(t, err)
	defer f.Close()

	got := make([]byte, len(data))
	_, err = f.Read(got)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	data := []byte("some bytes")
	wrongKey := keyOf([]byte("different bytes"))

	err = s.Write(store.KindData, wrongKey, strings.NewReader(string(data)), store.WriteOptions{})
	assert.ErrorIs(t, err, store.ErrIntegrity)
	assert.False(t, s.HasData(wrongKey))

	// the .keg_temp sibling is left for the repair sweep, not cleaned up
	rel, _ := filepath.Rel(dir, dir)
	_ = rel
	matches, _ := filepath.Glob(filepath.Join(dir, "objects", "data", "*", "*", "*.keg_temp"))
	assert.Len(t, matches, 1)
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	_, err = s.OpenObject(store.KindData, "00112233445566778899aabbccddeeff")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepRemovesStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	stray := filepath.Join(dir, "objects", "data", "ab", "cd", "abcd1234.keg_temp")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0o755))
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o644))

	report, err := s.Sweep(false)
	require.NoError(t, err)
	assert.Equal(t, []string{stray}, report.StaleTempFilesRemoved)
	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepWithVerifyRemovesCorruptObjects(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	data := []byte("original content")
	key := keyOf(data)
	require.NoError(t, s.Write(store.KindConfig, key, strings.NewReader(string(data)), store.WriteOptions{}))

	path, err := filepath.Glob(filepath.Join(dir, "objects", "config", "*", "*", key))
	require.NoError(t, err)
	require.Len(t, path, 1)
	require.NoError(t, os.WriteFile(path[0], []byte("corrupted content"), 0o644))

	report, err := s.Sweep(true)
	require.NoError(t, err)
	assert.Equal(t, path, report.CorruptObjectsRemoved)
	assert.False(t, s.HasConfig(key))
}

// indexEntry is one fixed-size record in a test archive index.
type indexEntry struct {
	key    [16]byte
	size   uint32
	offset uint32
}

// buildIndex encodes a minimal one-block archive index: fixed-size entries
// followed by a self-verifying tail, mirroring the on-wire layout the
// archive package parses.
func buildIndex(entries []indexEntry) []byte {
	const entryBytes = 24
	body := make([]byte, 0, len(entries)*entryBytes)
	for _, e := range entries {
		rec := make([]byte, entryBytes)
		copy(rec[0:16], e.key[:])
		binary.BigEndian.PutUint32(rec[16:20], e.size)
		binary.BigEndian.PutUint32(rec[20:24], e.offset)
		body = append(body, rec...)
	}
	bodyMD5 := md5.Sum(body) //nolint:gosec // test fixture
	tail := make([]byte, 28)
	binary.BigEndian.PutUint32(tail[0:4], uint32(len(body))) // one block holding every entry
	binary.BigEndian.PutUint32(tail[4:8], entryBytes)
	copy(tail[8:24], bodyMD5[:])
	binary.BigEndian.PutUint32(tail[24:28], uint32(len(body)))
	return append(body, tail...)
}

func TestWriteIndexVerifiesTailNotKeyEquality(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	entryKey := md5.Sum([]byte("entry bytes")) //nolint:gosec // test fixture
	index := buildIndex([]indexEntry{{key: entryKey, size: 11, offset: 0}})

	// The index's own body essentially never MD5s to the archive key it's
	// named after; Write must accept it anyway, proven by the tail MD5
	// rather than by index-body-equals-key.
	archiveKey := keyOf([]byte("some archive body"))
	require.NoError(t, s.Write(store.KindData, archiveKey, strings.NewReader(string(index)), store.WriteOptions{IsIndex: true}))
	assert.True(t, s.HasIndex(archiveKey))

	f, err := s.OpenIndex(store.KindData, archiveKey)
	require.NoError(t, err)
	defer f.Close()
}

func TestWriteIndexRejectsMalformedTail(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	err = s.Write(store.KindData, keyOf([]byte("archive body")), strings.NewReader("not a real index"), store.WriteOptions{IsIndex: true})
	assert.ErrorIs(t, err, store.ErrIntegrity)
}

func TestSweepWithVerifyLocatesCorruptArchiveEntries(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	first := []byte("AAAA")    // offset 0, size 4
	second := []byte("BBBBBB") // offset 4, size 6
	archiveBody := append(append([]byte{}, first...), second...)
	archiveKey := keyOf(archiveBody)

	require.NoError(t, s.Write(store.KindData, archiveKey, strings.NewReader(string(archiveBody)), store.WriteOptions{}))

	path, err := filepath.Glob(filepath.Join(dir, "objects", "data", "*", "*", archiveKey))
	require.NoError(t, err)
	require.Len(t, path, 1)

	firstSum := md5.Sum(first)   //nolint:gosec // test fixture
	secondSum := md5.Sum(second) //nolint:gosec // test fixture
	var firstKey, secondKey [16]byte
	copy(firstKey[:], firstSum[:])
	copy(secondKey[:], secondSum[:])

	index := buildIndex([]indexEntry{
		{key: firstKey, size: uint32(len(first)), offset: 0},
		{key: secondKey, size: uint32(len(second)), offset: uint32(len(first))},
	})
	require.NoError(t, s.Write(store.KindData, archiveKey, strings.NewReader(string(index)), store.WriteOptions{IsIndex: true}))

	// Corrupt only the "BBBBBB" entry's byte range; "AAAA" stays intact.
	corrupted := append(append([]byte{}, first...), []byte("XBBBBB")...)
	require.NoError(t, os.WriteFile(path[0], corrupted, 0o644))

	report, err := s.Sweep(true)
	require.NoError(t, err)
	require.Equal(t, path, report.CorruptObjectsRemoved)
	require.Len(t, report.CorruptEntries, 1)
	assert.Equal(t, fmt.Sprintf("%x", secondKey), report.CorruptEntries[0].EntryKeyHex)
	assert.Equal(t, archiveKey, report.CorruptEntries[0].ArchiveKey)
	assert.Equal(t, uint32(len(first)), report.CorruptEntries[0].Offset)
	assert.Equal(t, uint32(len(second)), report.CorruptEntries[0].Size)
}
