// Package integration end-to-end exercises Client.Fetch and Client.Install
// against a hand-built NGDP fixture: a versions/cdns catalog pair, one
// build's worth of configs and manifests, a loose data object, and an
// archive with a real index, all served over an in-process httptest
// server the way fetch and cdn's own package tests already do.
package integration

import (
	"crypto/md5" //nolint:gosec // test fixture keys only
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"

	"github.com/ngdp/keg/encoding"
	"github.com/ngdp/keg/internal/partition"
	"github.com/ngdp/keg/manifest"
	"github.com/ngdp/keg/psv"
)

// fixtureServer is an in-memory NGDP remote: catalog text at top-level
// paths, objects at "<cdnPath>/<kind>/<aa>/<bb>/<hexkey>".
type fixtureServer struct {
	cdnPath string
	paths   map[string][]byte
}

func newFixtureServer(cdnPath string) *fixtureServer {
	return &fixtureServer{cdnPath: cdnPath, paths: map[string][]byte{}}
}

func keyOf(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return fmt.Sprintf("%x", sum)
}

func (s *fixtureServer) putCatalog(name string, body []byte) {
	s.paths["/"+name] = body
}

func (s *fixtureServer) putConfig(body []byte) string {
	return s.putObject("config", body)
}

func (s *fixtureServer) putData(body []byte) string {
	return s.putObject("data", body)
}

func (s *fixtureServer) putObject(kind string, body []byte) string {
	key := keyOf(body)
	p, _ := partition.Path(key)
	s.paths["/"+s.cdnPath+"/"+kind+"/"+p] = body
	return key
}

// putIndex serves body as the ".index" sibling of an archive keyed by
// archiveKey — an index is addressed by the archive it describes, not by
// its own content, so it can't go through putObject.
func (s *fixtureServer) putIndex(kind, archiveKey string, body []byte) {
	p, _ := partition.Path(archiveKey)
	s.paths["/"+s.cdnPath+"/"+kind+"/"+p+".index"] = body
}

// archiveEntry is one packed file inside a fixture archive.
type archiveEntry struct {
	key  [16]byte
	data []byte
}

// buildArchive concatenates each entry's bytes back to back and returns
// the archive body alongside its index (entry table + self-verifying
// tail), the same fixed-size-entries-then-tail layout the archive
// package parses.
func buildArchive(entries []archiveEntry) (body, index []byte) {
	const entryBytes = 24
	var offset uint32
	table := make([]byte, 0, len(entries)*entryBytes)
	for _, e := range entries {
		rec := make([]byte, entryBytes)
		copy(rec[0:16], e.key[:])
		binary.BigEndian.PutUint32(rec[16:20], uint32(len(e.data))) //nolint:gosec // test fixture
		binary.BigEndian.PutUint32(rec[20:24], offset)
		table = append(table, rec...)
		body = append(body, e.data...)
		offset += uint32(len(e.data)) //nolint:gosec // test fixture
	}
	bodyMD5 := md5.Sum(table) //nolint:gosec // test fixture
	tail := make([]byte, 28)
	binary.BigEndian.PutUint32(tail[0:4], uint32(len(table))) // one block holding every entry
	binary.BigEndian.PutUint32(tail[4:8], entryBytes)
	copy(tail[8:24], bodyMD5[:])
	binary.BigEndian.PutUint32(tail[24:28], uint32(len(table)))
	index = append(table, tail...)
	return body, index
}

func (s *fixtureServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.paths[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	})
}

// buildFixture populates a fixtureServer with one build: one installed
// file materialized from a loose data object and a second materialized
// from inside an archive, resolved through an encoding file, an install
// manifest, and a real archive index, plus root and download manifests
// built through the same Encode helpers the core round-trips with.
func buildFixture(cdnPath string) (srv *fixtureServer) {
	srv = newFixtureServer(cdnPath)

	fileBody := []byte("hello from the cdn\n")
	srv.putData(fileBody)
	// The fixture never BLTE-transforms content, so a file's encoded key
	// (its on-disk identity) is simply its own content key.
	fileContentKey := md5.Sum(fileBody) //nolint:gosec

	archivedBody := []byte("extra content packed inside an archive\n")
	archivedContentKey := md5.Sum(archivedBody) //nolint:gosec
	archiveBody, archiveIndex := buildArchive([]archiveEntry{{key: archivedContentKey, data: archivedBody}})
	archiveKey := srv.putData(archiveBody)
	srv.putIndex("data", archiveKey, archiveIndex)

	// Entries are listed in ascending content-key order (5d5b... before
	// efc3...), as encoding.Encode requires for Lookup's binary search.
	enc := &encoding.File{Entries: []encoding.Entry{
		{ContentKey: archivedContentKey, EncodedKey: archivedContentKey, Size: uint64(len(archivedBody))},
		{ContentKey: fileContentKey, EncodedKey: fileContentKey, Size: uint64(len(fileBody))},
	}}
	encodingKey := srv.putData(encoding.Encode(enc.Entries))

	install := &manifest.Install{
		Entries: []manifest.InstallEntry{
			{Filename: "README.txt", ContentKey: fileContentKey, Size: uint32(len(fileBody))},
			{Filename: "extra/packed.txt", ContentKey: archivedContentKey, Size: uint32(len(archivedBody))},
		},
	}
	installKey := srv.putData(manifest.EncodeInstall(install))

	root := &manifest.Root{Entries: []manifest.RootEntry{
		{ContentKey: fileContentKey},
		{ContentKey: archivedContentKey},
	}}
	rootKey := srv.putData(manifest.EncodeRoot(root))

	download := &manifest.Download{Entries: []manifest.DownloadEntry{
		{EncodedKey: fileContentKey, Size: uint32(len(fileBody)), Priority: 1},
		{EncodedKey: archivedContentKey, Size: uint32(len(archivedBody)), Priority: 0},
	}}
	downloadKey := srv.putData(manifest.EncodeDownload(download))

	buildConfigBody := []byte(fmt.Sprintf(
		"# build config\nencoding = %s %s\nroot = %s\ninstall = %s\ndownload = %s\n",
		encodingKey, encodingKey, rootKey, installKey, downloadKey))
	buildConfigKey := srv.putConfig(buildConfigBody)

	cdnConfigBody := []byte(fmt.Sprintf("# cdn config\narchives = %s\n", archiveKey))
	cdnConfigKey := srv.putConfig(cdnConfigBody)

	versionsDoc := &psv.Document{
		Header: []psv.Column{
			{Name: "Region", Type: "STRING", Size: 0},
			{Name: "BuildConfig", Type: "HEX", Size: 16},
			{Name: "CDNConfig", Type: "HEX", Size: 16},
			{Name: "BuildID", Type: "DEC", Size: 4},
			{Name: "VersionsName", Type: "STRING", Size: 0},
			{Name: "ProductConfig", Type: "HEX", Size: 16},
		},
		Rows: []psv.Row{{
			"Region":        "us",
			"BuildConfig":   buildConfigKey,
			"CDNConfig":     cdnConfigKey,
			"BuildID":       "1",
			"VersionsName":  "1.0.0.1",
			"ProductConfig": "",
		}},
	}
	var vb strings.Builder
	_ = psv.Serialize(&vb, versionsDoc.Header, versionsDoc.Rows)
	srv.putCatalog("versions", []byte(vb.String()))

	// Servers is left empty: the test forces CDN selection to the fixture
	// server's own URL, so the row only needs to parse, not resolve.
	cdnsDoc := &psv.Document{
		Header: []psv.Column{
			{Name: "Name", Type: "STRING", Size: 0},
			{Name: "Path", Type: "STRING", Size: 0},
			{Name: "Hosts", Type: "STRING", Size: 0},
			{Name: "Servers", Type: "STRING", Size: 0},
			{Name: "ConfigPath", Type: "STRING", Size: 0},
		},
		Rows: []psv.Row{{
			"Name":       "us",
			"Path":       cdnPath,
			"Hosts":      "",
			"Servers":    "",
			"ConfigPath": cdnPath,
		}},
	}
	var cb strings.Builder
	_ = psv.Serialize(&cb, cdnsDoc.Header, cdnsDoc.Rows)
	srv.putCatalog("cdns", []byte(cb.String()))

	return srv
}
