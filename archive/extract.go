package archive

import (
	"crypto/md5" //nolint:gosec // entry keys are MD5 by wire format
	"encoding/hex"
	"fmt"
	"io"
)

// Source provides random access to one archive's bytes, e.g. an *os.File
// opened from the object store.
type Source interface {
	io.ReaderAt
}

// ExtractEntry reads exactly size bytes at offset from src and verifies
// them against entryKeyHex by MD5, returning the raw (possibly
// BLTE-framed) bytes. Callers needing decoded content pass the result to
// the blte package.
func ExtractEntry(src Source, entryKeyHex string, size, offset uint32) ([]byte, error) {
	buf := make([]byte, size)
	n, err := src.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("archive: read entry %s: %w", entryKeyHex, err)
	}
	if uint32(n) != size { //nolint:gosec // n is non-negative and bounded by size
		return nil, fmt.Errorf("archive: short read for entry %s: got %d of %d bytes", entryKeyHex, n, size)
	}

	sum := md5.Sum(buf) //nolint:gosec // entry keys are MD5 by wire format
	if hex.EncodeToString(sum[:]) != entryKeyHex {
		return nil, fmt.Errorf("%w: entry %s", ErrIntegrity, entryKeyHex)
	}
	return buf, nil
}

// GetFileByKey resolves entryKeyHex through the group to its archive,
// opens that archive via open, and extracts and verifies its bytes.
//
// open is called with the resolved archive key and must return a Source
// positioned over the whole archive body (e.g. the object store's open
// object) and a function that closes it; GetFileByKey calls that close
// function itself once the extract is done.
func GetFileByKey(g *Group, entryKeyHex string, open func(archiveKey string) (Source, func() error, error)) ([]byte, error) {
	archiveKey, size, offset, ok := g.Lookup(entryKeyHex)
	if !ok {
		return nil, fmt.Errorf("archive: entry %s not found in group %s", entryKeyHex, g.Key)
	}
	src, closeFn, err := open(archiveKey)
	if err != nil {
		return nil, err
	}
	defer closeFn() //nolint:errcheck // best-effort close after a successful extract

	return ExtractEntry(src, entryKeyHex, size, offset)
}
