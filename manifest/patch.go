package manifest

import (
	"encoding/binary"
	"fmt"
)

// PatchMagic identifies a patch manifest file (the per-build binary
// referenced by build-config's "patch" key, distinct from patch-config's
// text patch-entry list).
var PatchMagic = [2]byte{'P', 'T'}

// PatchManifestEntry pairs an old and new content key with the size of
// the patch blob that transforms between them.
type PatchManifestEntry struct {
	OldContentKey [16]byte
	NewContentKey [16]byte
	PatchSize     uint32
}

// PatchManifest is a parsed patch file. The core catalogues these pairs
// without applying the referenced ZBSDIFF1 patches (spec: "patch indices
// are fetched and catalogued but not applied").
type PatchManifest struct {
	Entries []PatchManifestEntry
}

// ParsePatchManifest parses a patch file's bytes.
func ParsePatchManifest(data []byte) (*PatchManifest, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short patch file", ErrMalformed)
	}
	if data[0] != PatchMagic[0] || data[1] != PatchMagic[1] {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	count := binary.BigEndian.Uint32(data[4:8])
	const stride = 16 + 16 + 4
	want := 8 + int(count)*stride
	if want != len(data) {
		return nil, fmt.Errorf("%w: length %d does not match %d entries", ErrMalformed, len(data), count)
	}

	entries := make([]PatchManifestEntry, count)
	off := 8
	for i := range entries {
		copy(entries[i].OldContentKey[:], data[off:off+16])
		copy(entries[i].NewContentKey[:], data[off+16:off+32])
		entries[i].PatchSize = binary.BigEndian.Uint32(data[off+32 : off+36])
		off += stride
	}
	return &PatchManifest{Entries: entries}, nil
}
