// Package store implements the content-addressed local object store: a
// partitioned on-disk layout under an objects/ root, atomic temp-then-
// rename writes, and existence/open/write operations keyed by content key.
package store

import (
	"bytes"
	"crypto/md5" //nolint:gosec // content keys are MD5 by wire format, not used for security
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ngdp/keg/archive"
	"github.com/ngdp/keg/internal/partition"
)

// Kind is a closed variant naming an object category. Each kind maps to a
// fixed subdirectory of the store root.
type Kind byte

const (
	KindConfig Kind = iota
	KindData
	KindPatch
)

func (k Kind) dir() string {
	switch k {
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindPatch:
		return "patch"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned when an object does not exist locally.
var ErrNotFound = errors.New("store: not found")

// ErrIntegrity is returned when a written object's bytes do not MD5 to the
// key it was written under.
var ErrIntegrity = errors.New("store: integrity check failed")

// tempSuffix is appended to the final path while a write is in flight.
const tempSuffix = ".keg_temp"

// Store is a directory tree rooted at Root, holding objects/config,
// objects/data, and objects/patch subdirectories, each partitioned by the
// leading hex bytes of the object's content key.
type Store struct {
	root   string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store operations. Defaults to a
// discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (and, if necessary, creates) a store rooted at dir.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store: root directory is empty")
	}
	s := &Store{root: dir}
	for _, opt := range opts {
		opt(s)
	}
	for _, kind := range []Kind{KindConfig, KindData, KindPatch} {
		if err := os.MkdirAll(filepath.Join(dir, "objects", kind.dir()), 0o755); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	return s, nil
}

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// path returns the on-disk path for key under kind, without the .index
// suffix.
func (s *Store) path(kind Kind, key string) (string, error) {
	rel, err := partition.Path(key)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	return filepath.Join(s.root, "objects", kind.dir(), rel), nil
}

// Has reports whether a completed object exists for key under kind.
func (s *Store) Has(kind Kind, key string) bool {
	path, err := s.path(kind, key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// HasConfig reports whether a config object exists for key.
func (s *Store) HasConfig(key string) bool { return s.Has(KindConfig, key) }

// HasData reports whether a data (archive) object exists for key.
func (s *Store) HasData(key string) bool { return s.Has(KindData, key) }

// HasPatch reports whether a patch object exists for key.
func (s *Store) HasPatch(key string) bool { return s.Has(KindPatch, key) }

// HasIndex reports whether an archive index exists for key.
func (s *Store) HasIndex(key string) bool {
	path, err := s.indexPath(KindData, key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// HasPatchIndex reports whether a patch index exists for key.
func (s *Store) HasPatchIndex(key string) bool {
	path, err := s.indexPath(KindPatch, key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *Store) indexPath(kind Kind, key string) (string, error) {
	path, err := s.path(kind, key)
	if err != nil {
		return "", err
	}
	return path + ".index", nil
}

// OpenObject returns a readable handle to the object under kind keyed by key.
// The caller must Close it. Returns ErrNotFound if the object is absent.
func (s *Store) OpenObject(kind Kind, key string) (*os.File, error) {
	path, err := s.path(kind, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from a hex content key, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: %s/%s: %w", kind.dir(), key, ErrNotFound)
		}
		return nil, fmt.Errorf("store: %w", err)
	}
	return f, nil
}

// OpenIndex opens the archive or patch index for key.
func (s *Store) OpenIndex(kind Kind, key string) (*os.File, error) {
	path, err := s.indexPath(kind, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from a hex content key, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: %s/%s.index: %w", kind.dir(), key, ErrNotFound)
		}
		return nil, fmt.Errorf("store: %w", err)
	}
	return f, nil
}

// WriteOptions controls how Write verifies an incoming object.
type WriteOptions struct {
	// BLTEFramed indicates the object is a BLTE envelope. Verification
	// still hashes the raw envelope bytes written to disk — BLTE-framed
	// objects are named by their envelope's MD5, not by the MD5 of their
	// decoded content, so the check is identical in mechanism; the flag
	// exists to make that choice explicit at call sites.
	BLTEFramed bool
	// IsIndex writes to <key>.index instead of <key>.
	IsIndex bool
}

// Write streams r into the store under kind, keyed by key.
//
// Bytes are written to a "<path>.keg_temp" sibling, fsynced, and verified
// before being renamed atomically into place. A failed write leaves the
// .keg_temp file for the integrity-repair sweep to collect; Write does not
// clean it up itself.
//
// A non-index object is proven by key==md5(body): key is its own content
// address. An index is not — it is stored as "<archiveKey>.index", so its
// own body almost never MD5s to the archive's key. An index instead proves
// itself: its 28-byte tail carries a length-prefixed MD5 of the entry table
// that precedes it, so IsIndex writes are verified by parsing that tail
// instead of comparing the whole body's hash to key.
func (s *Store) Write(kind Kind, key string, r io.Reader, opts WriteOptions) error {
	path, err := s.path(kind, key)
	if err != nil {
		return err
	}
	if opts.IsIndex {
		path += ".index"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	tmpPath := path + tempSuffix
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // fixed perms for cache objects
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	var body bytes.Buffer
	w := io.Writer(tmp)
	if opts.IsIndex {
		w = io.MultiWriter(tmp, &body)
	}

	sum, writeErr := copyAndHash(w, r)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("store: writing %s: %w", key, writeErr)
	}

	if opts.IsIndex {
		if _, err := archive.Parse(body.Bytes(), key); err != nil {
			s.log().Error("integrity check failed on index write", "key", key, "error", err)
			return fmt.Errorf("store: %s.index: %w", key, ErrIntegrity)
		}
	} else if !hashEqualsKey(sum, key) {
		s.log().Error("integrity check failed on write", "kind", kind.dir(), "key", key)
		return fmt.Errorf("store: %s: %w", key, ErrIntegrity)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store: renaming %s into place: %w", key, err)
	}
	return nil
}

func copyAndHash(w io.Writer, r io.Reader) (hash.Hash, error) {
	h := md5.New() //nolint:gosec // content keys are MD5 by wire format
	mw := io.MultiWriter(w, h)
	if _, err := io.Copy(mw, r); err != nil {
		return nil, err
	}
	return h, nil
}

func hashEqualsKey(h hash.Hash, key string) bool {
	return fmt.Sprintf("%x", h.Sum(nil)) == key
}
