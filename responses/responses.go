// Package responses is the relational side-store for cached catalog
// responses: raw response bodies are kept under responses/<kind>/<digest>,
// and a sqlite-backed table records (remote, path, timestamp, digest,
// source) so a given (remote, path) can carry multiple historical
// digests, with the latest distinct-content one authoritative.
//
// Backed by github.com/mattn/go-sqlite3 for the embedded bookkeeping
// store.
package responses

import (
	"context"
	"crypto/md5" //nolint:gosec // content-addressing, not a security boundary
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Source records whether a response entered the store by network fetch
// or by external ingestion.
type Source string

const (
	SourceNetwork  Source = "network"
	SourceIngested Source = "ingested"
)

// Store is the relational+raw-file side-store for catalog responses.
type Store struct {
	root   string
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open opens (creating if absent) the responses side-store rooted at
// dir/responses, with its sqlite sidecar at dir/responses.db.
func Open(dir string, opts ...Option) (*Store, error) {
	root := filepath.Join(dir, "responses")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("responses: create root: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "responses.db"))
	if err != nil {
		return nil, fmt.Errorf("responses: open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("responses: migrate: %w", err)
	}

	s := &Store{root: root, db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS responses (
	remote    TEXT NOT NULL,
	path      TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	digest    TEXT NOT NULL,
	source    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_responses_remote_path ON responses(remote, path, timestamp);

CREATE TABLE IF NOT EXISTS catalog_rows (
	remote          TEXT NOT NULL,
	response_digest TEXT NOT NULL,
	row_number      INTEGER NOT NULL,
	row_data        TEXT NOT NULL,
	PRIMARY KEY (remote, response_digest, row_number)
);
`

func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record ingests one raw catalog response: writes the body under
// responses/<kind>/<digest> (skipping the write if that digest's body is
// already present) and appends one row to the responses table.
func (s *Store) Record(ctx context.Context, remote, kind, path string, body []byte, src Source, at time.Time) (digest string, err error) {
	sum := md5.Sum(body)
	digest = hex.EncodeToString(sum[:])

	dir := filepath.Join(s.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("responses: create kind dir: %w", err)
	}
	target := filepath.Join(dir, digest)
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(target, body, 0o644); err != nil {
			return "", fmt.Errorf("responses: write body: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("responses: stat body: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO responses (remote, path, timestamp, digest, source) VALUES (?, ?, ?, ?, ?)`,
		remote, path, at.Unix(), digest, string(src))
	if err != nil {
		return "", fmt.Errorf("responses: insert: %w", err)
	}

	s.log().Debug("recorded catalog response", "remote", remote, "path", path, "digest", digest, "source", src)
	return digest, nil
}

// LatestDigest returns the most recent digest recorded for (remote, path).
// If consecutive fetches produced byte-identical bodies, those share a
// digest already (content addressing collapses them), so this is simply
// the most recent row.
func (s *Store) LatestDigest(ctx context.Context, remote, path string) (string, bool, error) {
	var digest string
	err := s.db.QueryRowContext(ctx,
		`SELECT digest FROM responses WHERE remote = ? AND path = ? ORDER BY timestamp DESC, rowid DESC LIMIT 1`,
		remote, path).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("responses: query latest: %w", err)
	}
	return digest, true, nil
}

// OpenBody opens the raw body for a recorded (kind, digest) pair for reading.
func (s *Store) OpenBody(kind, digest string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.root, kind, digest))
}

// PutCatalogRow caches one parsed catalog row under (remote,
// response_digest, row_number), so catalog parses need not be repeated
// against an already-ingested response.
func (s *Store) PutCatalogRow(ctx context.Context, remote, responseDigest string, rowNumber int, rowData string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO catalog_rows (remote, response_digest, row_number, row_data) VALUES (?, ?, ?, ?)`,
		remote, responseDigest, rowNumber, rowData)
	if err != nil {
		return fmt.Errorf("responses: put catalog row: %w", err)
	}
	return nil
}

// CatalogRows returns every cached row for (remote, responseDigest),
// ordered by row number.
func (s *Store) CatalogRows(ctx context.Context, remote, responseDigest string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_data FROM catalog_rows WHERE remote = ? AND response_digest = ? ORDER BY row_number ASC`,
		remote, responseDigest)
	if err != nil {
		return nil, fmt.Errorf("responses: query catalog rows: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("responses: scan catalog row: %w", err)
		}
		out = append(out, data)
	}
	return out, rows.Err()
}
