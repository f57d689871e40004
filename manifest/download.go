package manifest

import (
	"encoding/binary"
	"fmt"
)

// DownloadMagic identifies a download file.
var DownloadMagic = [2]byte{'D', 'L'}

// DownloadEntry is one prioritized download record: an encoded key the
// client should fetch eagerly, ordered by Priority (lower first).
type DownloadEntry struct {
	EncodedKey [16]byte
	Size       uint32
	Priority   uint8
}

// Download is a parsed download file. Like install, the core only needs
// enough of this format to drive eager prefetch of high-priority content
// without applying the file's full per-entry flag semantics.
type Download struct {
	Entries []DownloadEntry
}

// ParseDownload parses a download file's bytes.
func ParseDownload(data []byte) (*Download, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short download file", ErrMalformed)
	}
	if data[0] != DownloadMagic[0] || data[1] != DownloadMagic[1] {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	count := binary.BigEndian.Uint32(data[4:8])
	const stride = 16 + 4 + 1
	want := 8 + int(count)*stride
	if want != len(data) {
		return nil, fmt.Errorf("%w: length %d does not match %d entries", ErrMalformed, len(data), count)
	}

	entries := make([]DownloadEntry, count)
	off := 8
	for i := range entries {
		copy(entries[i].EncodedKey[:], data[off:off+16])
		entries[i].Size = binary.BigEndian.Uint32(data[off+16 : off+20])
		entries[i].Priority = data[off+20]
		off += stride
	}
	return &Download{Entries: entries}, nil
}

// ByPriority returns entries ordered lowest-priority-value-first, the
// order a prefetcher should walk them in.
func (d *Download) ByPriority() []DownloadEntry {
	out := make([]DownloadEntry, len(d.Entries))
	copy(out, d.Entries)
	// Small N in practice (thousands at most), so a stable insertion sort
	// suffices; entries of equal priority keep their manifest order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority < out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// EncodeDownload serializes a Download back into the binary format, for
// tests and for external ingestion.
func EncodeDownload(d *Download) []byte {
	buf := append([]byte{}, DownloadMagic[0], DownloadMagic[1], 0, 0)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(d.Entries))) //nolint:gosec // entry counts are small
	buf = append(buf, count[:]...)
	for _, e := range d.Entries {
		buf = append(buf, e.EncodedKey[:]...)
		var sizePriority [5]byte
		binary.BigEndian.PutUint32(sizePriority[0:4], e.Size)
		sizePriority[4] = e.Priority
		buf = append(buf, sizePriority[:]...)
	}
	return buf
}
