package manifest_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngdp/keg/manifest"
)

func buildInstall(t *testing.T, tags []string, entries []manifest.InstallEntry) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, manifest.InstallMagic[0], manifest.InstallMagic[1])
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(tags)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(entries)))
	for _, tag := range tags {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(tag)))
		buf = append(buf, tag...)
	}
	for _, e := range entries {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Filename)))
		buf = append(buf, e.Filename...)
		buf = append(buf, e.ContentKey[:]...)
		buf = binary.BigEndian.AppendUint32(buf, e.Size)
		buf = binary.BigEndian.AppendUint64(buf, e.Tags)
	}
	return buf
}

func TestParseInstallAndFilterByTags(t *testing.T) {
	var winKey, macKey [16]byte
	winKey[0] = 0xAA
	macKey[0] = 0xBB

	data := buildInstall(t, []string{"Windows", "enUS"}, []manifest.InstallEntry{
		{Filename: "Wow.exe", ContentKey: winKey, Size: 100, Tags: 1<<0 | 1<<1},
		{Filename: "World.app", ContentKey: macKey, Size: 200, Tags: 1 << 1},
	})

	in, err := manifest.ParseInstall(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"Windows", "enUS"}, in.Tags)
	assert.Len(t, in.Entries, 2)

	var gotNames []string
	for e := range in.FilterByTags("Windows") {
		gotNames = append(gotNames, e.Filename)
	}
	assert.Equal(t, []string{"Wow.exe"}, gotNames)

	gotNames = nil
	for e := range in.FilterByTags("enUS") {
		gotNames = append(gotNames, e.Filename)
	}
	assert.Equal(t, []string{"Wow.exe", "World.app"}, gotNames)
}

func TestFilterByTagsUnknownTagMatchesNothing(t *testing.T) {
	data := buildInstall(t, []string{"Windows"}, nil)
	in, err := manifest.ParseInstall(data)
	require.NoError(t, err)

	count := 0
	for range in.FilterByTags("Mac") {
		count++
	}
	assert.Zero(t, count)
}

func TestEncodeInstallRoundTrips(t *testing.T) {
	var winKey [16]byte
	winKey[0] = 0xAA
	in := &manifest.Install{
		Tags: []string{"Windows", "enUS"},
		Entries: []manifest.InstallEntry{
			{Filename: "Wow.exe", ContentKey: winKey, Size: 100, Tags: 1<<0 | 1<<1},
		},
	}

	data := manifest.EncodeInstall(in)
	assert.Equal(t, buildInstall(t, in.Tags, in.Entries), data)

	parsed, err := manifest.ParseInstall(data)
	require.NoError(t, err)
	assert.Equal(t, in, parsed)
}

func TestParseInstallBadMagic(t *testing.T) {
	data := buildInstall(t, nil, nil)
	data[0] = 'X'
	_, err := manifest.ParseInstall(data)
	assert.ErrorIs(t, err, manifest.ErrMalformed)
}

func buildRoot(entries []manifest.RootEntry) []byte {
	var buf []byte
	buf = append(buf, manifest.RootMagic[0], manifest.RootMagic[1], 0, 0)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.ContentKey[:]...)
		buf = binary.BigEndian.AppendUint32(buf, e.LocaleFlags)
		buf = binary.BigEndian.AppendUint32(buf, e.ContentFlags)
	}
	return buf
}

func TestParseRootContentKeys(t *testing.T) {
	var k1, k2 [16]byte
	k1[0], k2[0] = 1, 2
	data := buildRoot([]manifest.RootEntry{
		{ContentKey: k1, LocaleFlags: 1, ContentFlags: 2},
		{ContentKey: k2, LocaleFlags: 1, ContentFlags: 2},
	})

	r, err := manifest.ParseRoot(data)
	require.NoError(t, err)
	assert.Equal(t, [][16]byte{k1, k2}, r.ContentKeys())
}

func buildDownload(entries []manifest.DownloadEntry) []byte {
	var buf []byte
	buf = append(buf, manifest.DownloadMagic[0], manifest.DownloadMagic[1], 0, 0)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.EncodedKey[:]...)
		buf = binary.BigEndian.AppendUint32(buf, e.Size)
		buf = append(buf, e.Priority)
	}
	return buf
}

func TestDownloadByPriority(t *testing.T) {
	var k1, k2, k3 [16]byte
	data := buildDownload([]manifest.DownloadEntry{
		{EncodedKey: k1, Priority: 5},
		{EncodedKey: k2, Priority: 1},
		{EncodedKey: k3, Priority: 3},
	})

	d, err := manifest.ParseDownload(data)
	require.NoError(t, err)

	ordered := d.ByPriority()
	require.Len(t, ordered, 3)
	assert.Equal(t, uint8(1), ordered[0].Priority)
	assert.Equal(t, uint8(3), ordered[1].Priority)
	assert.Equal(t, uint8(5), ordered[2].Priority)
}

func TestParsePatchManifest(t *testing.T) {
	var old, nw [16]byte
	old[0], nw[0] = 1, 2
	var buf []byte
	buf = append(buf, manifest.PatchMagic[0], manifest.PatchMagic[1], 0, 0)
	buf = binary.BigEndian.AppendUint32(buf, 1)
	buf = append(buf, old[:]...)
	buf = append(buf, nw[:]...)
	buf = binary.BigEndian.AppendUint32(buf, 12345)

	pm, err := manifest.ParsePatchManifest(buf)
	require.NoError(t, err)
	require.Len(t, pm.Entries, 1)
	assert.Equal(t, uint32(12345), pm.Entries[0].PatchSize)
}
