// Package manifest parses the install, root, download, and patch
// manifest files.
//
// The core only needs one capability out of the install file: tag-filtered
// iteration yielding (filename, content_key, size) triples.
// Root, download, and patch files get the same reduced treatment: this
// package exposes just enough of each to drive fetch planning and
// installation, not a full reimplementation of every manifest's schema.
package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
)

// InstallMagic identifies an install file.
var InstallMagic = [2]byte{'I', 'N'}

// ErrMalformed is returned for a structurally invalid manifest file.
var ErrMalformed = errors.New("manifest: malformed")

// InstallEntry is one file record in an install manifest.
type InstallEntry struct {
	Filename   string
	ContentKey [16]byte
	Size       uint32
	Tags       uint64 // bitmask into Install.Tags
}

// Install is a parsed install-manifest: the tag dictionary and the file
// entries that reference it.
type Install struct {
	Tags    []string // bit index i corresponds to Tags[i]
	Entries []InstallEntry
}

// ParseInstall parses an install file's bytes.
func ParseInstall(data []byte) (*Install, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short install file", ErrMalformed)
	}
	if data[0] != InstallMagic[0] || data[1] != InstallMagic[1] {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	tagCount := binary.BigEndian.Uint16(data[2:4])
	entryCount := binary.BigEndian.Uint32(data[4:8])
	if tagCount > 64 {
		return nil, fmt.Errorf("%w: too many tags (%d, max 64)", ErrMalformed, tagCount)
	}

	off := 8
	tags := make([]string, tagCount)
	for i := range tags {
		name, next, err := readString(data, off)
		if err != nil {
			return nil, err
		}
		tags[i] = name
		off = next
	}

	entries := make([]InstallEntry, entryCount)
	for i := range entries {
		name, next, err := readString(data, off)
		if err != nil {
			return nil, err
		}
		off = next

		if off+16+4+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated entry %d", ErrMalformed, i)
		}
		var ck [16]byte
		copy(ck[:], data[off:off+16])
		off += 16
		size := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		mask := binary.BigEndian.Uint64(data[off : off+8])
		off += 8

		entries[i] = InstallEntry{Filename: name, ContentKey: ck, Size: size, Tags: mask}
	}

	return &Install{Tags: tags, Entries: entries}, nil
}

// TagBit returns the bit index for a named tag, or -1 if the install file
// carries no such tag.
func (in *Install) TagBit(name string) int {
	for i, t := range in.Tags {
		if t == name {
			return i
		}
	}
	return -1
}

// All iterates every entry regardless of tag.
func (in *Install) All() iter.Seq[InstallEntry] {
	return func(yield func(InstallEntry) bool) {
		for _, e := range in.Entries {
			if !yield(e) {
				return
			}
		}
	}
}

// FilterByTags iterates entries that carry every one of the named tags.
// An unknown tag name matches nothing.
func (in *Install) FilterByTags(tags ...string) iter.Seq[InstallEntry] {
	var want uint64
	for _, t := range tags {
		bit := in.TagBit(t)
		if bit < 0 {
			return func(func(InstallEntry) bool) {}
		}
		want |= 1 << uint(bit)
	}
	return func(yield func(InstallEntry) bool) {
		for _, e := range in.Entries {
			if e.Tags&want == want {
				if !yield(e) {
					return
				}
			}
		}
	}
}

// EncodeInstall serializes an Install back into the binary format, for
// tests and for external ingestion.
func EncodeInstall(in *Install) []byte {
	var buf []byte
	buf = append(buf, InstallMagic[0], InstallMagic[1])
	var hdr [6]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(len(in.Tags))) //nolint:gosec // tag counts are small
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(in.Entries))) //nolint:gosec // entry counts are small
	buf = append(buf, hdr[:]...)

	for _, t := range in.Tags {
		buf = appendString(buf, t)
	}
	for _, e := range in.Entries {
		buf = appendString(buf, e.Filename)
		buf = append(buf, e.ContentKey[:]...)
		var sizeTags [12]byte
		binary.BigEndian.PutUint32(sizeTags[0:4], e.Size)
		binary.BigEndian.PutUint64(sizeTags[4:12], e.Tags)
		buf = append(buf, sizeTags[:]...)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s))) //nolint:gosec // filenames and tag names are short
	buf = append(buf, n[:]...)
	return append(buf, s...)
}

func readString(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", 0, fmt.Errorf("%w: truncated string length", ErrMalformed)
	}
	n := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if off+n > len(data) {
		return "", 0, fmt.Errorf("%w: truncated string", ErrMalformed)
	}
	return string(data[off : off+n]), off + n, nil
}
