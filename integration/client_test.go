package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keg "github.com/ngdp/keg"
	"github.com/ngdp/keg/config"
	"github.com/ngdp/keg/store"
)

// TestFetchAndInstall drives a full Client.Fetch followed by Client.Install
// against a hand-built single-build fixture: one loose data object and
// one file packed inside a real archive with a real index, both resolved
// through an encoding file and an install manifest.
func TestFetchAndInstall(t *testing.T) {
	const cdnPath = "tpr/wow"
	srv := buildFixture(cdnPath)
	httpSrv := httptest.NewServer(srv.handler())
	defer httpSrv.Close()

	storeDir := t.TempDir()
	client, err := keg.NewClient(storeDir, keg.WithForcedCDNURL(httpSrv.URL+"/"+cdnPath))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.AddRemote("test", httpSrv.URL))

	ctx := context.Background()
	result, err := client.Fetch(ctx, "test", keg.FetchOptions{})
	require.NoError(t, err)
	require.Empty(t, result.Plan.Warnings)
	require.Len(t, result.Versions.Rows, 1)

	row := result.Versions.Rows[0]

	buildConfigFile, err := client.Store().OpenObject(store.KindConfig, row.BuildConfig)
	require.NoError(t, err)
	defer buildConfigFile.Close()
	buildConfigParsed, err := config.Parse(buildConfigFile)
	require.NoError(t, err)
	bc, err := config.ParseBuildConfig(buildConfigParsed)
	require.NoError(t, err)

	cdnConfigFile, err := client.Store().OpenObject(store.KindConfig, row.CDNConfig)
	require.NoError(t, err)
	defer cdnConfigFile.Close()
	cdnConfigParsed, err := config.Parse(cdnConfigFile)
	require.NoError(t, err)
	cc, err := config.ParseCDNConfig(cdnConfigParsed)
	require.NoError(t, err)

	require.Equal(t, 1, result.Plan.IndicesFetched)
	require.Equal(t, 1, result.Plan.ArchivesFetched)

	destDir := t.TempDir()
	report, err := client.Install(ctx, bc, cc, destDir, keg.InstallOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Installed)
	assert.Empty(t, report.Conflicts)

	installed, err := os.ReadFile(filepath.Join(destDir, "README.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello from the cdn\n", string(installed))

	archived, err := os.ReadFile(filepath.Join(destDir, "extra", "packed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "extra content packed inside an archive\n", string(archived))
}
