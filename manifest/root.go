package manifest

import (
	"encoding/binary"
	"fmt"
)

// RootMagic identifies a root file.
var RootMagic = [2]byte{'R', 'T'}

// RootEntry associates a content key with the locale and content flags
// that select it among variants of the same logical file.
type RootEntry struct {
	ContentKey   [16]byte
	LocaleFlags  uint32
	ContentFlags uint32
}

// Root is a parsed root file. The core does not need root's full variant
// -selection semantics; it only needs to enumerate content keys that a
// build references, so installers can verify they're resolvable through
// encoding before fetch.
type Root struct {
	Entries []RootEntry
}

// ParseRoot parses a root file's bytes.
func ParseRoot(data []byte) (*Root, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short root file", ErrMalformed)
	}
	if data[0] != RootMagic[0] || data[1] != RootMagic[1] {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	count := binary.BigEndian.Uint32(data[4:8])
	const stride = 16 + 4 + 4
	want := 8 + int(count)*stride
	if want != len(data) {
		return nil, fmt.Errorf("%w: length %d does not match %d entries", ErrMalformed, len(data), count)
	}

	entries := make([]RootEntry, count)
	off := 8
	for i := range entries {
		copy(entries[i].ContentKey[:], data[off:off+16])
		entries[i].LocaleFlags = binary.BigEndian.Uint32(data[off+16 : off+20])
		entries[i].ContentFlags = binary.BigEndian.Uint32(data[off+20 : off+24])
		off += stride
	}
	return &Root{Entries: entries}, nil
}

// ContentKeys returns every content key the root file references, for
// the fetch planner's resolvability check against the encoding file.
func (r *Root) ContentKeys() [][16]byte {
	keys := make([][16]byte, len(r.Entries))
	for i, e := range r.Entries {
		keys[i] = e.ContentKey
	}
	return keys
}

// EncodeRoot serializes a Root back into the binary format, for tests
// and for external ingestion.
func EncodeRoot(r *Root) []byte {
	buf := append([]byte{}, RootMagic[0], RootMagic[1], 0, 0)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(r.Entries))) //nolint:gosec // entry counts are small
	buf = append(buf, count[:]...)
	for _, e := range r.Entries {
		buf = append(buf, e.ContentKey[:]...)
		var flags [8]byte
		binary.BigEndian.PutUint32(flags[0:4], e.LocaleFlags)
		binary.BigEndian.PutUint32(flags[4:8], e.ContentFlags)
		buf = append(buf, flags[:]...)
	}
	return buf
}
