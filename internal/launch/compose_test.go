package launch

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/core"
)

func testInput(t *testing.T) ComposeInput {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &config.Config{
		DataDir:      dataDir,
		AssetsDir:    filepath.Join(dataDir, "assets"),
		LibrariesDir: filepath.Join(dataDir, "libraries"),
		VersionsDir:  filepath.Join(dataDir, "versions"),
		Brand:        "launchcore",
	}

	// Materialize the files the classpath references.
	libPath := filepath.Join(cfg.LibrariesDir, "com", "example", "lib", "1.0", "lib-1.0.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(libPath), 0755))
	require.NoError(t, os.WriteFile(libPath, []byte("jar"), 0644))

	jarPath := filepath.Join(cfg.VersionsDir, "1.20.4", "1.20.4.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(jarPath), 0755))
	require.NoError(t, os.WriteFile(jarPath, []byte("client"), 0644))

	details := &core.VersionDetails{
		ID:        "1.20.4",
		Type:      core.VersionTypeRelease,
		MainClass: "net.minecraft.client.main.Main",
		AssetIndex: core.AssetIndexRef{ID: "12"},
		Libraries: []core.Library{
			{
				Name: "com.example:lib:1.0",
				Downloads: &core.LibraryDownloads{
					Artifact: &core.Artifact{Path: "com/example/lib/1.0/lib-1.0.jar"},
				},
			},
		},
	}

	return ComposeInput{
		Config:     cfg,
		Details:    details,
		Profile:    core.NewOfflineProfile("Player"),
		JavaMajor:  17,
		GameDir:    dataDir,
		NativesDir: cfg.NativesDir("1.20.4"),
		MinMemory:  "1G",
		MaxMemory:  "4G",
	}
}

func TestCompose_Ordering(t *testing.T) {
	in := testInput(t)
	args, err := Compose(in)
	require.NoError(t, err)

	mainIdx := slices.Index(args, "net.minecraft.client.main.Main")
	require.GreaterOrEqual(t, mainIdx, 0, "main class must be present")

	cpIdx := slices.Index(args, "-cp")
	require.GreaterOrEqual(t, cpIdx, 0)
	assert.Less(t, cpIdx, mainIdx, "classpath precedes main class")

	userIdx := slices.Index(args, "--username")
	assert.Greater(t, userIdx, mainIdx, "game args follow main class")
}

func TestCompose_HeapOverrides(t *testing.T) {
	in := testInput(t)
	in.MinMemory = "2G"
	in.MaxMemory = "6G"

	args, err := Compose(in)
	require.NoError(t, err)

	assert.Contains(t, args, "-Xms2G")
	assert.Contains(t, args, "-Xmx6G")
}

func TestCompose_GCByJavaMajor(t *testing.T) {
	in := testInput(t)

	in.JavaMajor = 17
	args, err := Compose(in)
	require.NoError(t, err)
	assert.Contains(t, args, "-XX:+UseG1GC")
	assert.Contains(t, args, "-XX:G1HeapRegionSize=32M")
	assert.Contains(t, args, "-XX:MaxGCPauseMillis=50")

	in.JavaMajor = 8
	args, err = Compose(in)
	require.NoError(t, err)
	assert.Contains(t, args, "-XX:+UseConcMarkSweepGC")
	assert.NotContains(t, args, "-XX:+UseG1GC")
}

func TestCompose_Log4ShellMitigation(t *testing.T) {
	args, err := Compose(testInput(t))
	require.NoError(t, err)
	assert.Contains(t, args, "-Dlog4j2.formatMsgNoLookups=true")
}

func TestCompose_GameArguments(t *testing.T) {
	in := testInput(t)
	in.WindowWidth = 1280
	in.WindowHeight = 720
	in.Server = &Server{Host: "mc.example.com", Port: 25565}

	args, err := Compose(in)
	require.NoError(t, err)

	find := func(flag string) string {
		i := slices.Index(args, flag)
		require.GreaterOrEqual(t, i, 0, "missing %s", flag)
		require.Less(t, i+1, len(args))
		return args[i+1]
	}

	assert.Equal(t, "Player", find("--username"))
	assert.Equal(t, "1.20.4", find("--version"))
	assert.Equal(t, "12", find("--assetIndex"))
	assert.Equal(t, core.OfflineUUID("Player"), find("--uuid"))
	assert.Equal(t, "null", find("--accessToken"))
	assert.Equal(t, "legacy", find("--userType"))
	assert.Equal(t, "launchcore", find("--versionType"))
	assert.Equal(t, "1280", find("--width"))
	assert.Equal(t, "720", find("--height"))
	assert.Equal(t, "mc.example.com", find("--server"))
	assert.Equal(t, "25565", find("--port"))
}

func TestCompose_Fullscreen(t *testing.T) {
	in := testInput(t)
	in.Fullscreen = true
	in.WindowWidth = 1280
	in.WindowHeight = 720

	args, err := Compose(in)
	require.NoError(t, err)

	assert.Contains(t, args, "--fullscreen")
	assert.NotContains(t, args, "--width")
}

func TestCompose_MissingLibraryAborts(t *testing.T) {
	in := testInput(t)
	in.Details.Libraries = append(in.Details.Libraries, core.Library{
		Name: "com.example:gone:1.0",
		Downloads: &core.LibraryDownloads{
			Artifact: &core.Artifact{Path: "com/example/gone/1.0/gone-1.0.jar"},
		},
	})

	_, err := Compose(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PathNotFound")
}

func TestCompose_ClasspathSeparator(t *testing.T) {
	args, err := Compose(testInput(t))
	require.NoError(t, err)

	i := slices.Index(args, "-cp")
	require.GreaterOrEqual(t, i, 0)
	cp := args[i+1]
	parts := strings.Split(cp, string(os.PathListSeparator))
	assert.Len(t, parts, 2, "library + client jar")
	assert.True(t, strings.HasSuffix(parts[len(parts)-1], "1.20.4.jar"),
		"client jar comes last")
}

func TestAutoTuneHeap(t *testing.T) {
	tests := []struct {
		ramGB, mods      int
		wantMin, wantMax string
	}{
		{4, 0, "1G", "2G"},
		{8, 0, "2G", "3G"},
		{8, 60, "2G", "4G"},
		{16, 0, "2G", "4G"},
		{16, 150, "2G", "6G"},
		{32, 0, "3G", "6G"},
		{32, 200, "3G", "8G"},
	}
	for _, tt := range tests {
		min, max := autoTuneHeap(tt.ramGB, tt.mods)
		if min != tt.wantMin || max != tt.wantMax {
			t.Errorf("autoTuneHeap(%d, %d) = (%s, %s), want (%s, %s)",
				tt.ramGB, tt.mods, min, max, tt.wantMin, tt.wantMax)
		}
	}
}

func TestCompose_LoaderDocumentUsesBaseClientJar(t *testing.T) {
	in := testInput(t)
	in.Details.ID = "1.20.4-fabric-0.16.5"
	in.Details.InheritsFrom = "1.20.4"

	args, err := Compose(in)
	require.NoError(t, err)

	i := slices.Index(args, "-cp")
	cp := args[i+1]
	assert.Contains(t, cp, filepath.Join("1.20.4", "1.20.4.jar"),
		"loader document resolves the vanilla client jar")
}
