package blte_test

import (
	"bytes"
	"compress/zlib"
	"crypto/md5" //nolint:gosec // test constructs BLTE chunk checksums, which are MD5 by wire format
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdp/keg/blte"
)

// TestZeroHeaderRawChunk exercises spec scenario 4: a single-chunk BLTE of
// mode 'N' with payload "hello".
func TestZeroHeaderRawChunk(t *testing.T) {
	envelope := []byte{0x42, 0x4C, 0x54, 0x45, 0x00, 0x00, 0x00, 0x00, 0x4E, 'h', 'e', 'l', 'l', 'o'}

	got, err := blte.Decode(envelope)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func buildChunk(mode blte.Mode, payload []byte) (chunkBytes []byte, info blte.ChunkInfo) {
	body := append([]byte{byte(mode)}, payload...)
	sum := md5.Sum(body) //nolint:gosec // BLTE wire format checksum
	return body, blte.ChunkInfo{
		CompressedSize:   uint32(len(body)), //nolint:gosec // test data is small
		DecompressedSize: uint32(len(payload)),
		MD5:              sum,
	}
}

func buildMultiChunk(t *testing.T, chunks [][]byte, infos []blte.ChunkInfo) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(blte.Magic[:])

	headerSize := 12 + 24*len(infos)
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(headerSize)) //nolint:gosec // test data is small
	buf.Write(sizeBuf[:])

	buf.WriteByte(0) // flags
	count := len(infos)
	buf.Write([]byte{byte(count >> 16), byte(count >> 8), byte(count)})

	for _, info := range infos {
		var b [24]byte
		binary.BigEndian.PutUint32(b[0:4], info.CompressedSize)
		binary.BigEndian.PutUint32(b[4:8], info.DecompressedSize)
		copy(b[8:24], info.MD5[:])
		buf.Write(b[:])
	}
	for _, c := range chunks {
		buf.Write(c)
	}
	return buf.Bytes()
}

func TestMultiChunkRawRoundTrip(t *testing.T) {
	c1, i1 := buildChunk(blte.ModeRaw, []byte("hello "))
	c2, i2 := buildChunk(blte.ModeRaw, []byte("world"))
	envelope := buildMultiChunk(t, [][]byte{c1, c2}, []blte.ChunkInfo{i1, i2})

	got, err := blte.Decode(envelope)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestZlibChunkDecompressedLengthMatchesDeclared(t *testing.T) {
	plain := bytes.Repeat([]byte("ngdp"), 100)
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	c1, i1 := buildChunk(blte.ModeZlib, compressed.Bytes())
	// buildChunk declares the payload length; a Z chunk declares the
	// length of its decompressed output instead.
	i1.DecompressedSize = uint32(len(plain))
	envelope := buildMultiChunk(t, [][]byte{c1}, []blte.ChunkInfo{i1})

	got, err := blte.Decode(envelope)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
	assert.Len(t, got, int(i1.DecompressedSize))
}

func TestChunkIntegrityFailure(t *testing.T) {
	c1, i1 := buildChunk(blte.ModeRaw, []byte("hello"))
	c1[len(c1)-1] ^= 0xFF // corrupt one byte after computing the checksum
	envelope := buildMultiChunk(t, [][]byte{c1}, []blte.ChunkInfo{i1})

	_, err := blte.Decode(envelope)
	assert.ErrorIs(t, err, blte.ErrIntegrity)
}

func TestEncryptedChunk(t *testing.T) {
	c1, i1 := buildChunk(blte.ModeEncrypted, []byte("ciphertext"))
	envelope := buildMultiChunk(t, [][]byte{c1}, []blte.ChunkInfo{i1})

	_, err := blte.Decode(envelope)
	assert.ErrorIs(t, err, blte.ErrEncryptedChunk)
}

func TestParseHeaderZeroHeader(t *testing.T) {
	hdr, err := blte.ParseHeader([]byte{0x42, 0x4C, 0x54, 0x45, 0x00, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hdr.HeaderSize)
	assert.Empty(t, hdr.Chunks)
}

func TestParseHeaderBadMagic(t *testing.T) {
	_, err := blte.ParseHeader([]byte{'X', 'X', 'X', 'X', 0, 0, 0, 0})
	assert.ErrorIs(t, err, blte.ErrMalformed)
}

func TestNestedFrame(t *testing.T) {
	innerC, innerI := buildChunk(blte.ModeRaw, []byte("nested"))
	inner := buildMultiChunk(t, [][]byte{innerC}, []blte.ChunkInfo{innerI})

	outerC, outerI := buildChunk(blte.ModeFrame, inner)
	outer := buildMultiChunk(t, [][]byte{outerC}, []blte.ChunkInfo{outerI})

	got, err := blte.Decode(outer)
	require.NoError(t, err)
	assert.Equal(t, []byte("nested"), got)
}
