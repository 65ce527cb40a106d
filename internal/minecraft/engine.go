// Package minecraft materializes game versions: version documents, the
// client jar, libraries, natives, and the content-addressed asset store.
package minecraft

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/blocksmiths/launchcore/internal/api"
	"github.com/blocksmiths/launchcore/internal/cache"
	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/download"
	"github.com/blocksmiths/launchcore/internal/events"
	"github.com/blocksmiths/launchcore/internal/launcher"
)

const (
	assetConcurrency   = 3
	libraryConcurrency = 3

	// assetTolerance is the fraction of the asset index that must be
	// resident before a launch may proceed.
	assetTolerance = 0.99
)

// assetBaseURL is where missing asset objects are fetched from.
var assetBaseURL = "https://resources.download.minecraft.net"

// Engine ensures a Minecraft version is fully materialized on disk.
type Engine struct {
	cfg     *config.Config
	dl      *download.Manager
	mojang  *api.MojangClient
	objects *cache.ObjectStore
	logger  *slog.Logger
}

// NewEngine creates an asset acquisition engine.
func NewEngine(cfg *config.Config, dl *download.Manager, mojang *api.MojangClient, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		dl:      dl,
		mojang:  mojang,
		objects: cache.NewObjectStore(filepath.Join(cfg.AssetsDir, "objects")),
		logger:  logger,
	}
}

// AssetBaseURL is the CDN root for asset objects; variable for tests.
func (e *Engine) AssetBaseURL() string { return assetBaseURL }

// SetAssetBaseURL overrides the asset CDN root, used by tests.
func SetAssetBaseURL(u string) { assetBaseURL = u }

// EnsureVersion materializes versionID completely: version document,
// client jar, libraries, asset index, and asset objects. Idempotent; an
// intact store performs no network requests for assets or libraries.
func (e *Engine) EnsureVersion(ctx context.Context, versionID string, op *events.Handle) error {
	details, err := e.ResolveDetails(ctx, versionID)
	if err != nil {
		return err
	}

	if err := e.ensureClientJar(ctx, details); err != nil {
		return err
	}

	if err := e.EnsureLibraries(ctx, details, op); err != nil {
		return err
	}

	if err := e.EnsureAssets(ctx, details, op); err != nil {
		return err
	}

	return nil
}

// ResolveDetails returns the version document for versionID, fetching and
// persisting it at versions/<id>/<id>.json when absent. (Phase A)
func (e *Engine) ResolveDetails(ctx context.Context, versionID string) (*core.VersionDetails, error) {
	docPath := e.versionDocPath(versionID)

	if data, err := os.ReadFile(docPath); err == nil {
		var details core.VersionDetails
		if err := json.Unmarshal(data, &details); err == nil {
			return &details, nil
		}
		e.logger.Warn("corrupt version document, refetching", "version", versionID)
		os.Remove(docPath)
	}

	version, err := e.mojang.FindVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	details, err := e.mojang.GetVersionDetails(ctx, version)
	if err != nil {
		return nil, err
	}

	if err := e.persistDetails(details); err != nil {
		return nil, err
	}

	return details, nil
}

// LoadLocalDetails reads a version document that already exists on disk,
// as written by EnsureVersion or a modloader install.
func (e *Engine) LoadLocalDetails(versionID string) (*core.VersionDetails, error) {
	data, err := os.ReadFile(e.versionDocPath(versionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, launcher.New(launcher.KindUnknownVersion, "version document missing: %s", versionID)
		}
		return nil, err
	}
	var details core.VersionDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, launcher.Wrap(launcher.KindUnknownVersion, err, "parsing version document %s", versionID)
	}
	return &details, nil
}

// PersistDetails writes a version document under versions/<id>/<id>.json.
// Used for augmented modloader documents as well as vanilla ones.
func (e *Engine) PersistDetails(details *core.VersionDetails) error {
	return e.persistDetails(details)
}

// ClientJarPath returns the on-disk path of a version's client jar.
func (e *Engine) ClientJarPath(versionID string) string {
	return filepath.Join(e.cfg.VersionsDir, versionID, versionID+".jar")
}

// ensureClientJar fetches <id>.jar when absent or hash-mismatched. (Phase B)
func (e *Engine) ensureClientJar(ctx context.Context, details *core.VersionDetails) error {
	client := details.Downloads.Client
	if client == nil {
		// Loader documents have no client download; the vanilla base owns it.
		return nil
	}

	_, err := e.dl.Fetch(ctx, download.Request{
		URL:     client.URL,
		Dest:    e.ClientJarPath(details.ID),
		SHA1:    client.SHA1,
		Size:    client.Size,
		Timeout: 5 * time.Minute,
	})
	return err
}

// EnsureLibraries fetches every rule-admitted library artifact missing
// from the libraries tree, plus native classifier artifacts. (Phase C)
func (e *Engine) EnsureLibraries(ctx context.Context, details *core.VersionDetails, op *events.Handle) error {
	osName := core.MojangOS()

	var requests []download.Request
	for i := range details.Libraries {
		lib := &details.Libraries[i]
		if !lib.Applies(osName) {
			continue
		}
		if lib.Downloads == nil {
			continue
		}

		if a := lib.Downloads.Artifact; a != nil && a.URL != "" {
			requests = append(requests, download.Request{
				URL:  a.URL,
				Dest: filepath.Join(e.cfg.LibrariesDir, filepath.FromSlash(a.Path)),
				SHA1: a.SHA1,
				Size: a.Size,
			})
		}
		if a := lib.NativeArtifact(); a != nil && a.URL != "" {
			requests = append(requests, download.Request{
				URL:  a.URL,
				Dest: filepath.Join(e.cfg.LibrariesDir, filepath.FromSlash(a.Path)),
				SHA1: a.SHA1,
				Size: a.Size,
			})
		}
	}

	if len(requests) == 0 {
		return nil
	}

	var done int32
	result := e.dl.FetchAll(ctx, requests, libraryConcurrency, func(req download.Request, cached bool, err error) {
		n := int(atomic.AddInt32(&done, 1))
		op.Update(n, len(requests), fmt.Sprintf("Libraries %d/%d", n, len(requests)))
	})

	if result.Failed > 0 {
		// A missing library aborts the launch.
		return launcher.Wrap(launcher.KindDownloadFailed, result.Errors[0],
			"%d of %d libraries failed", result.Failed, len(requests))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.logger.Info("libraries ready", "total", len(requests), "cached", result.Cached)
	return nil
}

// EnsureAssets fetches the asset index when absent, then walks it,
// re-downloading missing or corrupt objects. (Phases E and F)
func (e *Engine) EnsureAssets(ctx context.Context, details *core.VersionDetails, op *events.Handle) error {
	index, err := e.ensureAssetIndex(ctx, details)
	if err != nil {
		return err
	}

	total := len(index.Objects)
	if total == 0 {
		return nil
	}

	// Walk the index, validating resident objects and collecting the rest.
	var missing []core.AssetObject
	validated := 0
	for _, obj := range index.Objects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.objects.Has(obj.Hash, obj.Size) {
			validated++
			op.Update(validated, total, fmt.Sprintf("Validating assets %d/%d", validated, total))
			continue
		}
		missing = append(missing, obj)
	}

	if len(missing) == 0 {
		e.logger.Info("asset store intact", "objects", total)
		return nil
	}

	e.logger.Info("fetching assets", "missing", len(missing), "total", total)

	var requests []download.Request
	seen := make(map[string]bool, len(missing))
	for _, obj := range missing {
		if seen[obj.Hash] {
			continue
		}
		seen[obj.Hash] = true
		requests = append(requests, download.Request{
			URL:  fmt.Sprintf("%s/%s/%s", assetBaseURL, obj.Hash[:2], obj.Hash),
			Dest: e.objects.Path(obj.Hash),
			SHA1: obj.Hash,
			Size: obj.Size,
		})
	}

	progress := int32(validated)
	result := e.dl.FetchAll(ctx, requests, assetConcurrency, func(req download.Request, cached bool, err error) {
		n := int(atomic.AddInt32(&progress, 1))
		op.Update(n, total, fmt.Sprintf("Downloading assets %d/%d", n, total))
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	if result.Failed > 0 {
		resident := total - result.Failed
		if float64(resident)/float64(total) >= assetTolerance {
			e.logger.Warn("launching with incomplete assets",
				"failed", result.Failed, "resident", resident, "total", total)
			return nil
		}
		return launcher.Wrap(launcher.KindDownloadFailed, result.Errors[0],
			"%d of %d assets failed", result.Failed, total)
	}

	return nil
}

// ensureAssetIndex fetches assets/indexes/<id>.json when absent and
// parses it.
func (e *Engine) ensureAssetIndex(ctx context.Context, details *core.VersionDetails) (*core.AssetIndex, error) {
	ref := details.AssetIndex
	if ref.ID == "" {
		return &core.AssetIndex{}, nil
	}

	indexPath := filepath.Join(e.cfg.AssetsDir, "indexes", ref.ID+".json")
	if _, err := e.dl.Fetch(ctx, download.Request{
		URL:  ref.URL,
		Dest: indexPath,
		SHA1: ref.SHA1,
		Size: ref.Size,
	}); err != nil {
		return nil, fmt.Errorf("fetching asset index: %w", err)
	}

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("reading asset index: %w", err)
	}

	var index core.AssetIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing asset index: %w", err)
	}
	return &index, nil
}

func (e *Engine) versionDocPath(versionID string) string {
	return filepath.Join(e.cfg.VersionsDir, versionID, versionID+".json")
}

func (e *Engine) persistDetails(details *core.VersionDetails) error {
	docPath := e.versionDocPath(details.ID)
	if err := os.MkdirAll(filepath.Dir(docPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := docPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, docPath)
}
