package mrpack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/download"
	"github.com/blocksmiths/launchcore/internal/events"
	"github.com/blocksmiths/launchcore/internal/launcher"
	"github.com/blocksmiths/launchcore/internal/minecraft"
)

const (
	modConcurrency = 3

	// savedIndexName is the pack index kept inside the instance directory
	// so updates can diff against the installed file set.
	savedIndexName = "mrpack.index.json"
)

// Installer materializes .mrpack archives into instances.
type Installer struct {
	cfg        *config.Config
	dl         *download.Manager
	engine     *minecraft.Engine
	store      *core.InstanceStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewInstaller creates a modpack installer.
func NewInstaller(cfg *config.Config, dl *download.Manager, engine *minecraft.Engine, store *core.InstanceStore, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{
		cfg:        cfg,
		dl:         dl,
		engine:     engine,
		store:      store,
		httpClient: newLoaderHTTPClient(),
		logger:     logger,
	}
}

// InstallResult reports a finished install.
type InstallResult struct {
	InstanceID string
	Instance   *core.Instance
}

// Install materializes a .mrpack archive as a new instance. displayName
// overrides the pack's declared name when non-empty.
func (inst *Installer) Install(ctx context.Context, archivePath, displayName string, op *events.Handle) (*InstallResult, error) {
	idx, err := ParseArchive(archivePath)
	if err != nil {
		return nil, err
	}

	name := displayName
	if name == "" {
		name = idx.Name
	}

	op.Stage("Preparing instance")
	id := inst.store.UniqueID(name)
	instDir := filepath.Join(inst.store.Dir(), id)
	if err := os.MkdirAll(instDir, 0755); err != nil {
		return nil, launcher.Wrap(launcher.KindPermissionDenied, err, "creating instance directory")
	}

	record := &core.Instance{
		ID:          id,
		Name:        name,
		Description: idx.Summary,
		Directory:   instDir,
		VersionID:   idx.VersionID,
		DateAdded:   time.Now(),
	}

	if err := inst.materialize(ctx, idx, archivePath, instDir, record, nil, op); err != nil {
		// Leave the partial directory in place, flagged broken, so the
		// install can be retried or the user can delete it.
		record.Broken = true
		_ = inst.store.Create(record)
		return nil, err
	}

	if err := inst.store.Create(record); err != nil {
		return nil, err
	}

	inst.logger.Info("modpack installed", "instance", id, "minecraft", record.MinecraftVersion,
		"loader", record.Modloader.Kind)
	return &InstallResult{InstanceID: id, Instance: record}, nil
}

// InstallURL fetches a .mrpack from a URL into a temp file and installs it.
func (inst *Installer) InstallURL(ctx context.Context, url, displayName string, op *events.Handle) (*InstallResult, error) {
	tmpDir, err := os.MkdirTemp("", "launchcore-mrpack-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	op.Stage("Downloading modpack")
	archivePath := filepath.Join(tmpDir, "pack.mrpack")
	if _, err := inst.dl.Fetch(ctx, download.Request{
		URL:     url,
		Dest:    archivePath,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return nil, err
	}

	return inst.Install(ctx, archivePath, displayName, op)
}

// Update re-materializes an existing instance from a newer archive.
// Files present in the old index but absent from the new one are removed;
// overrides are reapplied.
func (inst *Installer) Update(ctx context.Context, instanceID, archivePath string, op *events.Handle) error {
	record, ok := inst.store.Get(instanceID)
	if !ok {
		return launcher.New(launcher.KindPathNotFound, "instance not found: %s", instanceID)
	}

	idx, err := ParseArchive(archivePath)
	if err != nil {
		return err
	}

	oldIdx := inst.loadSavedIndex(record.Directory)

	if err := inst.materialize(ctx, idx, archivePath, record.Directory, record, oldIdx, op); err != nil {
		record.Broken = true
		_ = inst.store.Update(record)
		return err
	}

	record.Broken = false
	record.HasUpdate = false
	record.VersionID = idx.VersionID
	return inst.store.Update(record)
}

// materialize runs install steps 2-6 against instDir, mutating record
// with the resolved versions and final size.
func (inst *Installer) materialize(ctx context.Context, idx *Index, archivePath, instDir string, record *core.Instance, oldIdx *Index, op *events.Handle) error {
	mcVersion, err := idx.MinecraftVersion()
	if err != nil {
		return err
	}
	loaderKind, loaderVersion, err := idx.Loader()
	if err != nil {
		return err
	}

	record.MinecraftVersion = mcVersion
	record.Modloader = core.Modloader{Kind: loaderKind, Version: loaderVersion}

	op.Stage("Installing Minecraft " + mcVersion)
	if err := inst.engine.EnsureVersion(ctx, mcVersion, op); err != nil {
		return err
	}

	if loaderKind != core.LoaderVanilla {
		op.Stage(fmt.Sprintf("Installing %s %s", loaderKind, loaderVersion))
		if _, err := inst.InstallLoader(ctx, loaderKind, mcVersion, loaderVersion, op); err != nil {
			return err
		}
	}

	op.Stage("Downloading mods")
	if err := inst.installFiles(ctx, idx, instDir, op); err != nil {
		return err
	}

	if oldIdx != nil {
		inst.removeStaleFiles(oldIdx, idx, instDir)
	}

	op.Stage("Applying overrides")
	if err := applyOverrides(archivePath, instDir); err != nil {
		return err
	}

	if err := inst.saveIndex(idx, instDir); err != nil {
		return err
	}

	record.SizeBytes = dirSize(instDir)
	return nil
}

// installFiles fetches every client-supported pack file, first-success
// across its download URLs, with bounded concurrency.
func (inst *Installer) installFiles(ctx context.Context, idx *Index, instDir string, op *events.Handle) error {
	var files []File
	for _, f := range idx.Files {
		switch f.ClientSupport() {
		case "unsupported":
			continue
		case "optional":
			// Optional client files install by default; configurable.
			if inst.cfg.SkipOptionalMods {
				continue
			}
		}
		files = append(files, f)
	}

	if len(files) == 0 {
		return nil
	}

	var done int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(modConcurrency)

	for i := range files {
		f := files[i]
		g.Go(func() error {
			dest := filepath.Join(instDir, filepath.FromSlash(f.Path))

			var lastErr error
			for _, url := range f.Downloads {
				_, err := inst.dl.Fetch(gctx, download.Request{
					URL:  url,
					Dest: dest,
					SHA1: f.Hashes.SHA1,
					Size: f.FileSize,
				})
				if err == nil {
					lastErr = nil
					break
				}
				lastErr = err
			}
			if lastErr != nil {
				return launcher.Wrap(launcher.KindDownloadFailed, lastErr, "fetching %s", f.Path)
			}

			n := int(atomic.AddInt32(&done, 1))
			op.Update(n, len(files), fmt.Sprintf("Mods %d/%d", n, len(files)))
			return nil
		})
	}

	return g.Wait()
}

// removeStaleFiles deletes files declared by the old index but absent
// from the new one.
func (inst *Installer) removeStaleFiles(oldIdx, newIdx *Index, instDir string) {
	current := make(map[string]bool, len(newIdx.Files))
	for _, f := range newIdx.Files {
		current[f.Path] = true
	}

	for _, f := range oldIdx.Files {
		if current[f.Path] {
			continue
		}
		path := filepath.Join(instDir, filepath.FromSlash(f.Path))
		if err := os.Remove(path); err == nil {
			inst.logger.Info("removed stale pack file", "path", f.Path)
		}
	}
}

// applyOverrides copies the archive's overrides/ then client-overrides/
// trees into the instance directory; pack files win over existing ones.
func applyOverrides(archivePath, instDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return launcher.Wrap(launcher.KindMalformedArchive, err, "reopening archive")
	}
	defer r.Close()

	for _, prefix := range []string{"overrides/", "client-overrides/"} {
		for _, f := range r.File {
			if !strings.HasPrefix(f.Name, prefix) || f.FileInfo().IsDir() {
				continue
			}
			rel := strings.TrimPrefix(f.Name, prefix)
			if rel == "" || strings.Contains(rel, "..") {
				continue
			}
			target := filepath.Join(instDir, filepath.FromSlash(rel))
			if err := extractZipFile(f, target); err != nil {
				return launcher.Wrap(launcher.KindMalformedArchive, err, "extracting override %s", f.Name)
			}
		}
	}

	return nil
}

func extractZipFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func (inst *Installer) saveIndex(idx *Index, instDir string) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(instDir, savedIndexName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (inst *Installer) loadSavedIndex(instDir string) *Index {
	data, err := os.ReadFile(filepath.Join(instDir, savedIndexName))
	if err != nil {
		return nil
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil
	}
	return &idx
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
