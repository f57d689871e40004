package responses_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdp/keg/responses"
)

func TestRecordThenLatestDigest(t *testing.T) {
	dir := t.TempDir()
	s, err := responses.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Unix(1000, 0)

	digest1, err := s.Record(ctx, "http://example.com", "versions", "/versions", []byte("v1"), responses.SourceNetwork, now)
	require.NoError(t, err)

	digest2, err := s.Record(ctx, "http://example.com", "versions", "/versions", []byte("v2"), responses.SourceNetwork, now.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, digest1, digest2)

	latest, ok, err := s.LatestDigest(ctx, "http://example.com", "/versions")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, digest2, latest)

	rc, err := s.OpenBody("versions", latest)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(body))
}

func TestLatestDigestNoRows(t *testing.T) {
	dir := t.TempDir()
	s, err := responses.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.LatestDigest(context.Background(), "http://example.com", "/versions")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogRowCache(t *testing.T) {
	dir := t.TempDir()
	s, err := responses.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.PutCatalogRow(ctx, "http://example.com", "deadbeef", 0, `{"Region":"us"}`))
	require.NoError(t, s.PutCatalogRow(ctx, "http://example.com", "deadbeef", 1, `{"Region":"eu"}`))

	rows, err := s.CatalogRows(ctx, "http://example.com", "deadbeef")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, `{"Region":"us"}`, rows[0])
	assert.Equal(t, `{"Region":"eu"}`, rows[1])
}

func TestRecordDeduplicatesIdenticalBodies(t *testing.T) {
	dir := t.TempDir()
	s, err := responses.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	d1, err := s.Record(ctx, "r", "cdns", "/cdns", []byte("same"), responses.SourceNetwork, time.Unix(1, 0))
	require.NoError(t, err)
	d2, err := s.Record(ctx, "r", "cdns", "/cdns", []byte("same"), responses.SourceIngested, time.Unix(2, 0))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
