package archive

import "encoding/binary"

// GroupEntry is one merged entry in an archive group: the archive it
// lives in (by index into the group's archive-key list), plus size and
// offset within that archive.
type GroupEntry struct {
	ArchiveIndex uint32 // index into the archive-key list the group was built from
	Size         uint32
	Offset       uint32
}

// Group maps entry keys to their (archive, size, offset) location across
// an ordered set of archives.
type Group struct {
	Key      string
	Entries  map[string]GroupEntry // hex entry key -> location
	Archives []string              // archive keys, in cdn-config.archives order
}

// ParseGroup parses a standalone group-index object: the same body/tail
// layout as an archive index, but each entry carries an extra 4-byte
// big-endian archive-index reference.
func ParseGroup(data []byte, key string, archives []string) (*Group, error) {
	if len(data) < tailBytes {
		return nil, ErrMalformed
	}
	body := data[:len(data)-tailBytes]
	tail, err := parseTail(data[len(data)-tailBytes:])
	if err != nil {
		return nil, err
	}
	if err := verifyBody(body, tail); err != nil {
		return nil, err
	}

	entries := map[string]GroupEntry{}
	perBlock := tail.BlockSize / tail.EntryStride
	for off := uint32(0); off < uint32(len(body)); off += tail.BlockSize { //nolint:gosec // bounded by body length
		blockEnd := off + tail.BlockSize
		if blockEnd > uint32(len(body)) { //nolint:gosec // bounded by body length
			blockEnd = uint32(len(body)) //nolint:gosec // bounded by body length
		}
		block := body[off:blockEnd]
		for i := uint32(0); i < perBlock; i++ {
			start := i * tail.EntryStride
			end := start + tail.EntryStride
			if end > uint32(len(block)) { //nolint:gosec // bounded by block length
				break
			}
			raw := block[start:end]
			if isZero(raw) {
				continue
			}
			ge, keyHex, err := decodeGroupEntry(raw)
			if err != nil {
				return nil, err
			}
			if _, exists := entries[keyHex]; !exists {
				entries[keyHex] = ge
			}
		}
	}
	return &Group{Key: key, Entries: entries, Archives: archives}, nil
}

func decodeGroupEntry(raw []byte) (GroupEntry, string, error) {
	if len(raw) < groupEntryBytes {
		return GroupEntry{}, "", ErrMalformed
	}
	entry, err := decodeEntry(raw[:entryBytes])
	if err != nil {
		return GroupEntry{}, "", err
	}
	archiveIdx := binary.BigEndian.Uint32(raw[entryBytes:groupEntryBytes])
	return GroupEntry{ArchiveIndex: archiveIdx, Size: entry.Size, Offset: entry.Offset}, entry.KeyHex(), nil
}

// Synthesize builds a Group by merging each archive's already-parsed
// index, in the order archives are given. On duplicate entry keys across
// archives, the first occurrence wins, mirroring cdn-config.archives'
// load order.
func Synthesize(groupKey string, archiveKeys []string, indices []*Index) *Group {
	entries := map[string]GroupEntry{}
	for i, idx := range indices {
		for _, e := range idx.Entries {
			keyHex := e.KeyHex()
			if _, exists := entries[keyHex]; exists {
				continue
			}
			entries[keyHex] = GroupEntry{
				ArchiveIndex: uint32(i), //nolint:gosec // archive counts are small
				Size:         e.Size,
				Offset:       e.Offset,
			}
		}
	}
	return &Group{Key: groupKey, Entries: entries, Archives: archiveKeys}
}

// Lookup resolves an entry key to its archive key, size, and offset.
func (g *Group) Lookup(entryKeyHex string) (archiveKey string, size, offset uint32, ok bool) {
	ge, exists := g.Entries[entryKeyHex]
	if !exists {
		return "", 0, 0, false
	}
	if int(ge.ArchiveIndex) >= len(g.Archives) {
		return "", 0, 0, false
	}
	return g.Archives[ge.ArchiveIndex], ge.Size, ge.Offset, true
}

func verifyBody(body []byte, tail Tail) error {
	if tail.BodyLen != uint32(len(body)) { //nolint:gosec // bounded by file size
		return ErrMalformed
	}
	if md5Sum(body) != tail.BodyMD5 {
		return ErrIntegrity
	}
	return nil
}
