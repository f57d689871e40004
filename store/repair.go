package store

import (
	"crypto/md5" //nolint:gosec // content keys are MD5 by wire format
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ngdp/keg/archive"
)

// RepairReport summarizes a Sweep.
type RepairReport struct {
	// StaleTempFilesRemoved lists .keg_temp files left by interrupted
	// writes that were removed.
	StaleTempFilesRemoved []string
	// CorruptObjectsRemoved lists finalized objects whose bytes no
	// longer MD5 to their filename; only populated when Sweep is run
	// with Verify.
	CorruptObjectsRemoved []string
	// CorruptEntries lists, for each corrupt object that is itself an
	// archive with a parseable sibling index, the individual entries
	// whose byte range no longer MD5s to their own key — a finer-grained
	// report than CorruptObjectsRemoved for archives, where one damaged
	// region only invalidates some of the files packed inside it. Empty
	// when the corrupt object has no index (a loose object is wholly
	// one entry, so CorruptObjectsRemoved already names it precisely).
	CorruptEntries []CorruptEntry
}

// CorruptEntry names one archive entry whose extracted bytes failed
// MD5 verification against its own key, found while sweeping a corrupt
// archive object.
type CorruptEntry struct {
	ArchiveKey  string
	EntryKeyHex string
	Offset      uint32
	Size        uint32
}

// Sweep performs the integrity-repair operation named in the data model's
// lifecycle: it collects orphaned ".keg_temp" files left by interrupted or
// cancelled writes, and — when verify is true — removes any finalized
// object whose content no longer MD5s to its filename.
//
// Deletion is the only way objects are ever removed from the store.
func (s *Store) Sweep(verify bool) (*RepairReport, error) {
	report := &RepairReport{}
	root := filepath.Join(s.root, "objects")

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, tempSuffix) {
			if rmErr := os.Remove(path); rmErr == nil {
				report.StaleTempFilesRemoved = append(report.StaleTempFilesRemoved, path)
			}
			return nil
		}
		if strings.HasSuffix(path, ".index") {
			return nil // index tails self-verify separately; see archive package
		}
		if !verify {
			return nil
		}
		data, key, corrupt, err := objectCorrupt(path)
		if err != nil {
			return err
		}
		if !corrupt {
			return nil
		}
		report.CorruptEntries = append(report.CorruptEntries, locateCorruptEntries(path, key, data)...)
		if rmErr := os.Remove(path); rmErr == nil {
			report.CorruptObjectsRemoved = append(report.CorruptObjectsRemoved, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: sweep: %w", err)
	}
	return report, nil
}

// objectCorrupt reads a finalized object and reports whether its bytes no
// longer MD5 to its filename, returning the bytes read so the caller can
// locate the individual entries affected without a second read.
func objectCorrupt(path string) (data []byte, key string, corrupt bool, err error) {
	key = filepath.Base(path)
	data, err = os.ReadFile(path) //nolint:gosec // path comes from a directory walk of the store root
	if err != nil {
		return nil, "", false, err
	}
	sum := md5.Sum(data) //nolint:gosec // content keys are MD5 by wire format
	return data, key, fmt.Sprintf("%x", sum) != key, nil
}

// locateCorruptEntries checks whether the corrupt object at path is an
// archive with a parseable sibling index, and if so, recomputes each
// entry's MD5 against the already-read (corrupt) bytes to report which
// specific entries were damaged, rather than only the archive as a
// whole.
func locateCorruptEntries(path, archiveKey string, data []byte) []CorruptEntry {
	indexData, err := os.ReadFile(path + ".index") //nolint:gosec // sibling of a path from a directory walk of the store root
	if err != nil {
		return nil
	}
	idx, err := archive.Parse(indexData, archiveKey)
	if err != nil {
		return nil
	}

	var out []CorruptEntry
	for _, e := range idx.Entries {
		end := uint64(e.Offset) + uint64(e.Size)
		if end > uint64(len(data)) {
			out = append(out, CorruptEntry{ArchiveKey: archiveKey, EntryKeyHex: e.KeyHex(), Offset: e.Offset, Size: e.Size})
			continue
		}
		sum := md5.Sum(data[e.Offset:end]) //nolint:gosec // entry keys are MD5 by wire format
		if fmt.Sprintf("%x", sum) != e.KeyHex() {
			out = append(out, CorruptEntry{ArchiveKey: archiveKey, EntryKeyHex: e.KeyHex(), Offset: e.Offset, Size: e.Size})
		}
	}
	return out
}
