// Package encoding parses the encoding file: the binary table mapping
// content keys (logical file identity) to encoded keys (on-disk
// identity), plus each entry's declared size.
//
// The core only needs one capability from this format: resolve a content
// key to its encoded key. The on-disk layout below is this
// implementation's own binary table — magic, count, then entries sorted
// by content key for O(log n) lookup — satisfying that capability
// without committing to the original game client's exact page layout.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// Magic identifies an encoding file.
var Magic = [2]byte{'E', 'N'}

const entrySize = 16 + 16 + 8 // content key + encoded key + size

// ErrMalformed is returned for a structurally invalid encoding file.
var ErrMalformed = errors.New("encoding: malformed")

// Entry maps one content key to its encoded key and declared size.
type Entry struct {
	ContentKey [16]byte
	EncodedKey [16]byte
	Size       uint64
}

// File is a parsed encoding file, sorted by content key.
type File struct {
	Entries []Entry
}

// Parse parses an encoding file's bytes.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short file", ErrMalformed)
	}
	if data[0] != Magic[0] || data[1] != Magic[1] {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	count := binary.BigEndian.Uint32(data[4:8])
	want := 8 + int(count)*entrySize
	if want != len(data) {
		return nil, fmt.Errorf("%w: length %d does not match %d entries", ErrMalformed, len(data), count)
	}

	entries := make([]Entry, count)
	off := 8
	for i := range entries {
		copy(entries[i].ContentKey[:], data[off:off+16])
		copy(entries[i].EncodedKey[:], data[off+16:off+32])
		entries[i].Size = binary.BigEndian.Uint64(data[off+32 : off+40])
		off += entrySize
	}
	return &File{Entries: entries}, nil
}

// Lookup resolves a content key to its encoded key and size.
func (f *File) Lookup(contentKey [16]byte) (encodedKey [16]byte, size uint64, ok bool) {
	i := sort.Search(len(f.Entries), func(i int) bool {
		return bytes.Compare(f.Entries[i].ContentKey[:], contentKey[:]) >= 0
	})
	if i >= len(f.Entries) || f.Entries[i].ContentKey != contentKey {
		return [16]byte{}, 0, false
	}
	return f.Entries[i].EncodedKey, f.Entries[i].Size, true
}

// Encode serializes entries (which must already be sorted by content key)
// back into the binary format, for tests and for external ingestion.
func Encode(entries []Entry) []byte {
	buf := make([]byte, 8+len(entries)*entrySize)
	buf[0], buf[1] = Magic[0], Magic[1]
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(entries))) //nolint:gosec // entry counts are small

	off := 8
	for _, e := range entries {
		copy(buf[off:off+16], e.ContentKey[:])
		copy(buf[off+16:off+32], e.EncodedKey[:])
		binary.BigEndian.PutUint64(buf[off+32:off+40], e.Size)
		off += entrySize
	}
	return buf
}
