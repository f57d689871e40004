package keg

import (
	"errors"

	"github.com/ngdp/keg/archive"
	"github.com/ngdp/keg/blte"
	"github.com/ngdp/keg/catalog"
	"github.com/ngdp/keg/cdn"
	"github.com/ngdp/keg/store"
)

// Errors re-exported from store.
var (
	// ErrNotFound is returned when a requested object or catalog row is
	// absent locally.
	ErrNotFound = store.ErrNotFound

	// ErrIntegrity is returned when a fetched or ingested object's bytes
	// do not hash to the key it was requested under.
	ErrIntegrity = store.ErrIntegrity
)

// Errors re-exported from blte.
var (
	// ErrMalformed is returned for a structurally invalid BLTE envelope.
	ErrMalformed = blte.ErrMalformed

	// ErrEncryptedChunk is returned when decoding reaches an encrypted
	// chunk; the client detects and reports the condition but cannot
	// decrypt it.
	ErrEncryptedChunk = blte.ErrEncryptedChunk
)

// Errors re-exported from archive.
var (
	// ErrArchiveMalformed is returned for a structurally invalid archive
	// or group index.
	ErrArchiveMalformed = archive.ErrMalformed

	// ErrArchiveIntegrity is returned when an archive index's tail MD5, or
	// an extracted entry's MD5, fails to verify.
	ErrArchiveIntegrity = archive.ErrIntegrity
)

// Errors re-exported from catalog.
var (
	// ErrNoMatch is returned when a version query matches no rows.
	ErrNoMatch = catalog.ErrNoMatch
)

// ErrAmbiguous is returned when a version query matches more than one
// distinct (build_config, cdn_config) pair.
type ErrAmbiguous = catalog.ErrAmbiguous

// NetworkError wraps a transport-level or HTTP-status failure against a
// CDN or catalog remote.
type NetworkError = cdn.NetworkError

// ErrConflict marks two install entries that name the same target
// filename but resolve to different content keys. Install does not return
// it: the first entry is kept, and each error in InstallReport.Conflicts
// wraps ErrConflict.
var ErrConflict = errors.New("keg: conflicting install entries for one filename")
