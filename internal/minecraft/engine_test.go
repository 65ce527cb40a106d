package minecraft

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocksmiths/launchcore/internal/api"
	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/download"
)

func hashOf(b []byte) string {
	h := sha1.Sum(b)
	return hex.EncodeToString(h[:])
}

// fixture spins up one httptest server serving a complete tiny version:
// manifest, version document, client jar, one library, one asset.
type fixture struct {
	server    *httptest.Server
	cfg       *config.Config
	engine    *Engine
	requests  int64
	clientJar []byte
	assetData []byte
	libData   []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		clientJar: []byte("client jar bytes"),
		assetData: []byte("asset object bytes"),
		libData:   []byte("library jar bytes"),
	}

	mux := http.NewServeMux()
	var baseURL string

	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"latest": map[string]string{"release": "1.20.4", "snapshot": "24w01a"},
			"versions": []map[string]any{
				{"id": "1.20.4", "type": "release", "url": baseURL + "/version.json", "sha1": "x"},
			},
		})
	})

	assetIndex := map[string]any{
		"objects": map[string]any{
			"minecraft/sounds/foo.ogg": map[string]any{
				"hash": hashOf(fx.assetData),
				"size": len(fx.assetData),
			},
		},
	}
	indexBytes, _ := json.Marshal(assetIndex)

	mux.HandleFunc("/version.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":        "1.20.4",
			"type":      "release",
			"mainClass": "net.minecraft.client.main.Main",
			"assets":    "12",
			"assetIndex": map[string]any{
				"id":   "12",
				"sha1": hashOf(indexBytes),
				"size": len(indexBytes),
				"url":  baseURL + "/assetindex.json",
			},
			"downloads": map[string]any{
				"client": map[string]any{
					"path": "", "sha1": hashOf(fx.clientJar), "size": len(fx.clientJar),
					"url": baseURL + "/client.jar",
				},
			},
			"libraries": []map[string]any{
				{
					"name": "com.example:lib:1.0",
					"downloads": map[string]any{
						"artifact": map[string]any{
							"path": "com/example/lib/1.0/lib-1.0.jar",
							"sha1": hashOf(fx.libData),
							"size": len(fx.libData),
							"url":  baseURL + "/lib.jar",
						},
					},
				},
			},
			"javaVersion": map[string]any{"component": "java-runtime-gamma", "majorVersion": 17},
		})
	})

	mux.HandleFunc("/assetindex.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write(indexBytes)
	})

	mux.HandleFunc("/client.jar", func(w http.ResponseWriter, r *http.Request) { w.Write(fx.clientJar) })
	mux.HandleFunc("/lib.jar", func(w http.ResponseWriter, r *http.Request) { w.Write(fx.libData) })
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// asset CDN: /<hh>/<hash>
		if filepath.Base(filepath.Dir(r.URL.Path)) == hashOf(fx.assetData)[:2] {
			w.Write(fx.assetData)
			return
		}
		http.NotFound(w, r)
	})

	counting := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&fx.requests, 1)
		mux.ServeHTTP(w, r)
	})

	fx.server = httptest.NewServer(counting)
	t.Cleanup(fx.server.Close)
	baseURL = fx.server.URL

	dataDir := t.TempDir()
	fx.cfg = &config.Config{
		DataDir:      dataDir,
		InstancesDir: filepath.Join(dataDir, "instances"),
		AssetsDir:    filepath.Join(dataDir, "assets"),
		LibrariesDir: filepath.Join(dataDir, "libraries"),
		VersionsDir:  filepath.Join(dataDir, "versions"),
		JavaDir:      filepath.Join(dataDir, "java"),
		CacheDir:     filepath.Join(dataDir, "cache"),
	}
	require.NoError(t, fx.cfg.EnsureDirs())

	mojang := api.NewMojangClient(nil)
	mojang.SetManifestURL(fx.server.URL + "/manifest.json")

	SetAssetBaseURL(fx.server.URL)
	t.Cleanup(func() { SetAssetBaseURL("https://resources.download.minecraft.net") })

	fx.engine = NewEngine(fx.cfg, download.NewManager(nil), mojang, nil)
	return fx
}

func TestEnsureVersion_FreshStore(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.engine.EnsureVersion(context.Background(), "1.20.4", nil))

	// Version document persisted
	_, err := os.Stat(filepath.Join(fx.cfg.VersionsDir, "1.20.4", "1.20.4.json"))
	assert.NoError(t, err)

	// Client jar present with matching hash
	jar, err := os.ReadFile(fx.engine.ClientJarPath("1.20.4"))
	require.NoError(t, err)
	assert.Equal(t, fx.clientJar, jar)

	// Library at its manifest-relative path
	lib, err := os.ReadFile(filepath.Join(fx.cfg.LibrariesDir, "com", "example", "lib", "1.0", "lib-1.0.jar"))
	require.NoError(t, err)
	assert.Equal(t, fx.libData, lib)

	// Asset object at its content-addressed path
	hash := hashOf(fx.assetData)
	obj, err := os.ReadFile(filepath.Join(fx.cfg.AssetsDir, "objects", hash[:2], hash))
	require.NoError(t, err)
	assert.Equal(t, fx.assetData, obj)
}

func TestEnsureVersion_Idempotent(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.engine.EnsureVersion(context.Background(), "1.20.4", nil))
	after := atomic.LoadInt64(&fx.requests)

	// Second run with an intact store performs zero network requests:
	// the document is local, the jar hashes clean, libraries and assets
	// validate in place.
	require.NoError(t, fx.engine.EnsureVersion(context.Background(), "1.20.4", nil))
	assert.Equal(t, after, atomic.LoadInt64(&fx.requests),
		"intact store must not hit the network")
}

func TestEnsureVersion_RepairsCorruptAsset(t *testing.T) {
	fx := newFixture(t)

	ctx := context.Background()
	require.NoError(t, fx.engine.EnsureVersion(ctx, "1.20.4", nil))

	// Flip bits in the stored object
	hash := hashOf(fx.assetData)
	objPath := filepath.Join(fx.cfg.AssetsDir, "objects", hash[:2], hash)
	require.NoError(t, os.WriteFile(objPath, []byte("corrupted!"), 0644))

	require.NoError(t, fx.engine.EnsureVersion(ctx, "1.20.4", nil))

	restored, err := os.ReadFile(objPath)
	require.NoError(t, err)
	assert.Equal(t, fx.assetData, restored, "corrupt asset must be re-downloaded")
}

func TestEnsureVersion_UnknownVersion(t *testing.T) {
	fx := newFixture(t)

	err := fx.engine.EnsureVersion(context.Background(), "0.0.0-nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnknownVersion")
}

func TestPrepareNatives(t *testing.T) {
	fx := newFixture(t)

	// Build a native jar with one shared object and metadata noise.
	ext := ".so"
	if runtime.GOOS == "windows" {
		ext = ".dll"
	} else if runtime.GOOS == "darwin" {
		ext = ".dylib"
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	so, _ := zw.Create("liblwjgl" + ext)
	so.Write([]byte("native code"))
	meta, _ := zw.Create("META-INF/MANIFEST.MF")
	meta.Write([]byte("Manifest-Version: 1.0"))
	txt, _ := zw.Create("README.txt")
	txt.Write([]byte("not a native"))
	require.NoError(t, zw.Close())

	jarRel := filepath.Join("org", "lwjgl", "lwjgl-natives", "3.3.3", "natives.jar")
	jarPath := filepath.Join(fx.cfg.LibrariesDir, jarRel)
	require.NoError(t, os.MkdirAll(filepath.Dir(jarPath), 0755))
	require.NoError(t, os.WriteFile(jarPath, buf.Bytes(), 0644))

	details := &core.VersionDetails{
		ID: "1.20.4",
		Libraries: []core.Library{
			{
				Name: "org.lwjgl:lwjgl:3.3.3",
				Downloads: &core.LibraryDownloads{
					Classifiers: map[string]*core.Artifact{
						core.NativeClassifier(): {Path: filepath.ToSlash(jarRel)},
					},
				},
			},
		},
	}

	nativesDir := fx.cfg.NativesDir("1.20.4")

	// Stale content from a previous launch must be cleared.
	require.NoError(t, os.MkdirAll(nativesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(nativesDir, "stale"+ext), []byte("old"), 0644))

	require.NoError(t, fx.engine.PrepareNatives(details, nativesDir))

	entries, err := os.ReadDir(nativesDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"liblwjgl" + ext}, names,
		"only shared objects survive; stale and metadata entries do not")
}

func TestPrepareNatives_EmptyIsNotFatal(t *testing.T) {
	fx := newFixture(t)

	details := &core.VersionDetails{ID: "1.20.4"}
	nativesDir := fx.cfg.NativesDir("1.20.4")
	assert.NoError(t, fx.engine.PrepareNatives(details, nativesDir))
}
