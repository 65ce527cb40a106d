package command

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/process"
)

func testDispatcher(t *testing.T) (*Dispatcher, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"latest": map[string]string{"release": "1.20.4", "snapshot": "24w01a"},
			"versions": []map[string]any{
				{"id": "1.20.4", "type": "release", "url": "http://unused/v.json"},
				{"id": "24w01a", "type": "snapshot", "url": "http://unused/v.json"},
				{"id": "b1.8.1", "type": "old_beta", "url": "http://unused/v.json"},
				{"id": "a1.2.6", "type": "old_alpha", "url": "http://unused/v.json"},
			},
		})
	}))
	t.Cleanup(server.Close)

	dataDir := t.TempDir()
	cfg := &config.Config{
		DataDir:      dataDir,
		InstancesDir: filepath.Join(dataDir, "instances"),
		AssetsDir:    filepath.Join(dataDir, "assets"),
		LibrariesDir: filepath.Join(dataDir, "libraries"),
		VersionsDir:  filepath.Join(dataDir, "versions"),
		JavaDir:      filepath.Join(dataDir, "java"),
		CacheDir:     filepath.Join(dataDir, "cache"),
	}

	d, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	d.mojang.SetManifestURL(server.URL + "/manifest.json")
	return d, server
}

func TestGetAvailableVersions_Categorized(t *testing.T) {
	d, _ := testDispatcher(t)

	result := d.GetAvailableVersions(context.Background(), false)
	require.True(t, result.Success, result.Error)

	assert.Len(t, result.Versions.Release, 1)
	assert.Len(t, result.Versions.Snapshot, 1)
	assert.Len(t, result.Versions.OldBeta, 1)
	assert.Len(t, result.Versions.OldAlpha, 1)
	assert.Equal(t, "1.20.4", result.Versions.Latest.Release)
}

func TestLaunchGame_RequiresVersion(t *testing.T) {
	d, _ := testDispatcher(t)

	result := d.LaunchGame(context.Background(), LaunchOptions{Username: "Player"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "InvalidOptions")
}

func TestLaunchInstance_Unknown(t *testing.T) {
	d, _ := testDispatcher(t)

	result := d.LaunchInstance(context.Background(), "ghost")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "PathNotFound")
}

func TestLaunchInstance_Broken(t *testing.T) {
	d, _ := testDispatcher(t)

	require.NoError(t, d.store.Create(&core.Instance{
		ID: "busted", Name: "Busted", MinecraftVersion: "1.20.4", Broken: true,
	}))

	result := d.LaunchInstance(context.Background(), "busted")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "InvalidProfile")
}

func TestGetGameState_Idle(t *testing.T) {
	d, _ := testDispatcher(t)

	st := d.GetGameState()
	assert.Equal(t, process.StateIdle, st.State)
	assert.False(t, st.IsRunning)
	assert.Equal(t, 0, st.PID)
}

func TestStopGame_NothingRunning(t *testing.T) {
	d, _ := testDispatcher(t)

	result := d.StopGame()
	assert.False(t, result.Success)
}

func TestImportModpack_MissingFile(t *testing.T) {
	d, _ := testDispatcher(t)

	result := d.ImportModpack(context.Background(), "/nonexistent/pack.mrpack")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "PathNotFound")
}

func TestInstancesAndPlaytime(t *testing.T) {
	d, _ := testDispatcher(t)

	require.NoError(t, d.store.Create(&core.Instance{
		ID: "pack-a", Name: "Pack A", MinecraftVersion: "1.20.4",
	}))

	list := d.GetInstances()
	require.True(t, list.Success)
	require.Len(t, list.Instances, 1)

	result := d.UpdateModpackPlaytime("pack-a", 42)
	require.True(t, result.Success)

	inst, ok := d.store.Get("pack-a")
	require.True(t, ok)
	assert.Equal(t, int64(42), inst.TotalPlayTimeMinutes)

	del := d.DeleteInstance("pack-a")
	require.True(t, del.Success)
	assert.Empty(t, d.GetInstances().Instances)
}
