// Package command exposes the invocable API surface consumed by the UI.
// All dependencies are constructed at startup and threaded through the
// dispatcher; there is no module-level mutable state.
package command

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blocksmiths/launchcore/internal/api"
	"github.com/blocksmiths/launchcore/internal/cache"
	"github.com/blocksmiths/launchcore/internal/config"
	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/download"
	"github.com/blocksmiths/launchcore/internal/events"
	"github.com/blocksmiths/launchcore/internal/java"
	"github.com/blocksmiths/launchcore/internal/launch"
	"github.com/blocksmiths/launchcore/internal/launcher"
	"github.com/blocksmiths/launchcore/internal/minecraft"
	"github.com/blocksmiths/launchcore/internal/mrpack"
	"github.com/blocksmiths/launchcore/internal/process"
)

// Dispatcher routes commands from the UI boundary into the core.
type Dispatcher struct {
	cfg      *config.Config
	bus      *events.Bus
	registry *events.Registry

	mojang    *api.MojangClient
	modrinth  *api.ModrinthClient
	dl        *download.Manager
	engine    *minecraft.Engine
	resolver  *java.Resolver
	store     *core.InstanceStore
	installer *mrpack.Installer
	sup       *process.Supervisor

	logger *slog.Logger
}

// New wires the full component graph for a game directory.
func New(cfg *config.Config, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	respCache, err := cache.NewResponseCache(filepath.Join(cfg.CacheDir, "responses"), cache.DefaultTTL)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	registry := events.NewRegistry(bus)

	dl := download.NewManager(logger)
	mojang := api.NewMojangClient(respCache)
	modrinth := api.NewModrinthClient(respCache)
	engine := minecraft.NewEngine(cfg, dl, mojang, logger)
	resolver := java.NewResolver(cfg.JavaDir, logger)

	store := core.NewInstanceStore(cfg.InstancesDir)
	if err := store.Load(); err != nil {
		return nil, err
	}

	installer := mrpack.NewInstaller(cfg, dl, engine, store, logger)
	sup := process.NewSupervisor(bus, store, logger)

	return &Dispatcher{
		cfg:       cfg,
		bus:       bus,
		registry:  registry,
		mojang:    mojang,
		modrinth:  modrinth,
		dl:        dl,
		engine:    engine,
		resolver:  resolver,
		store:     store,
		installer: installer,
		sup:       sup,
		logger:    logger,
	}, nil
}

// Bus returns the event bus the UI subscribes to.
func (d *Dispatcher) Bus() *events.Bus { return d.bus }

// Close releases background resources. A running game keeps running.
func (d *Dispatcher) Close() {
	d.sup.Close()
	d.registry.Close()
	d.bus.Close()
}

// --- get-available-versions ---

// VersionsResult categorizes the available versions.
type VersionsResult struct {
	Success  bool                     `json:"success"`
	Versions *api.CategorizedVersions `json:"versions,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// GetAvailableVersions lists installable versions by channel.
func (d *Dispatcher) GetAvailableVersions(ctx context.Context, forceRefresh bool) VersionsResult {
	versions, err := d.mojang.GetCategorizedVersions(ctx, forceRefresh)
	if err != nil {
		return VersionsResult{Error: err.Error()}
	}
	return VersionsResult{Success: true, Versions: versions}
}

// --- launch-game / launch-instance ---

// LaunchOptions is the fixed option record for launch-game. Callers fill
// the typed fields directly (the CLI from its flags); no key/value option
// document is decoded here.
type LaunchOptions struct {
	Version      string `json:"version"`
	Username     string `json:"username"`
	MinMemory    string `json:"minMemory,omitempty"`
	MaxMemory    string `json:"maxMemory,omitempty"`
	WindowWidth  int    `json:"windowWidth,omitempty"`
	WindowHeight int    `json:"windowHeight,omitempty"`
	Fullscreen   bool   `json:"fullscreen,omitempty"`
	ServerHost   string `json:"serverHost,omitempty"`
	ServerPort   int    `json:"serverPort,omitempty"`
}

// LaunchResult reports a launch attempt.
type LaunchResult struct {
	Success bool   `json:"success"`
	PID     int    `json:"pid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LaunchGame launches a bare vanilla version.
func (d *Dispatcher) LaunchGame(ctx context.Context, opts LaunchOptions) LaunchResult {
	if opts.Version == "" {
		return LaunchResult{Error: launcher.New(launcher.KindInvalidOptions, "version is required").Error()}
	}

	pid, err := d.launch(ctx, launchPlan{
		versionID:   opts.Version,
		mcVersion:   opts.Version,
		gameDir:     d.cfg.DataDir,
		profileName: opts.Username,
		opts:        opts,
	})
	if err != nil {
		d.bus.Publish(events.LaunchErrorEvent{Err: err})
		return LaunchResult{Error: err.Error()}
	}
	return LaunchResult{Success: true, PID: pid}
}

// LaunchInstance launches an installed modpack instance.
func (d *Dispatcher) LaunchInstance(ctx context.Context, instanceID string) LaunchResult {
	inst, ok := d.store.Get(instanceID)
	if !ok {
		return LaunchResult{Error: launcher.New(launcher.KindPathNotFound, "instance not found: %s", instanceID).Error()}
	}
	if inst.Broken {
		return LaunchResult{Error: launcher.New(launcher.KindInvalidProfile, "instance %s is broken", instanceID).Error()}
	}

	pid, err := d.launch(ctx, launchPlan{
		versionID:   inst.LaunchVersionID(),
		mcVersion:   inst.MinecraftVersion,
		gameDir:     inst.Directory,
		instanceID:  inst.ID,
		profileName: "",
		opts: LaunchOptions{
			MinMemory:    d.cfg.MinMemory,
			MaxMemory:    d.cfg.MaxMemory,
			WindowWidth:  d.cfg.WindowWidth,
			WindowHeight: d.cfg.WindowHeight,
			Fullscreen:   d.cfg.Fullscreen,
		},
	})
	if err != nil {
		d.bus.Publish(events.LaunchErrorEvent{Err: err})
		return LaunchResult{Error: err.Error()}
	}
	return LaunchResult{Success: true, PID: pid}
}

type launchPlan struct {
	versionID   string // version document to launch (may be a loader doc)
	mcVersion   string // vanilla base version
	gameDir     string
	instanceID  string
	profileName string
	opts        LaunchOptions
}

// launch runs the full pipeline: ensure binaries, resolve java, extract
// natives, compose arguments, spawn.
func (d *Dispatcher) launch(ctx context.Context, plan launchPlan) (int, error) {
	op := d.registry.Begin("launch", "Preparing "+plan.versionID)
	defer func() {
		// Complete is a no-op if the operation already failed.
		op.Complete("launch handed to supervisor")
	}()

	op.Stage("Verifying game files")
	if err := d.engine.EnsureVersion(ctx, plan.mcVersion, op); err != nil {
		op.Fail(err)
		return 0, err
	}

	details, err := d.engine.LoadLocalDetails(plan.versionID)
	if err != nil {
		op.Fail(err)
		return 0, err
	}

	// Loader documents carry extra libraries beyond the vanilla set;
	// re-verify them so a pruned libraries tree heals before composition.
	if plan.versionID != plan.mcVersion {
		if err := d.engine.EnsureLibraries(ctx, details, op); err != nil {
			op.Fail(err)
			return 0, err
		}
	}

	op.Stage("Resolving Java")
	minMajor := details.JavaVersion.MajorVersion
	sel, err := d.resolver.Resolve(ctx, minMajor, plan.mcVersion)
	if err != nil {
		op.Fail(err)
		return 0, err
	}
	d.bus.Publish(events.LaunchDebugEvent{
		Message: "using java " + sel.Path,
	})

	op.Stage("Extracting natives")
	nativesDir := d.cfg.NativesDir(plan.mcVersion)
	if err := d.engine.PrepareNatives(details, nativesDir); err != nil {
		op.Fail(err)
		return 0, err
	}

	profile := core.NewOfflineProfile(plan.profileName)

	args, err := launch.Compose(launch.ComposeInput{
		Config:       d.cfg,
		Details:      details,
		Profile:      profile,
		JavaMajor:    sel.MajorVersion,
		GameDir:      plan.gameDir,
		NativesDir:   nativesDir,
		MinMemory:    plan.opts.MinMemory,
		MaxMemory:    plan.opts.MaxMemory,
		ModCount:     countMods(plan.gameDir),
		WindowWidth:  plan.opts.WindowWidth,
		WindowHeight: plan.opts.WindowHeight,
		Fullscreen:   plan.opts.Fullscreen,
		Server:       serverFrom(plan.opts),
		ExtraJVMArgs: d.cfg.ExtraJVMArgs,
	})
	if err != nil {
		op.Fail(err)
		return 0, err
	}

	op.Stage("Starting game")
	pid, err := d.sup.Start(ctx, process.LaunchSpec{
		JavaPath:   sel.Path,
		Args:       args,
		Dir:        plan.gameDir,
		InstanceID: plan.instanceID,
		Metadata: map[string]string{
			"version":  plan.versionID,
			"player":   profile.Name,
			"instance": plan.instanceID,
		},
	})
	if err != nil {
		op.Fail(err)
		return 0, err
	}

	return pid, nil
}

// --- stop-game / get-game-state ---

// StopResult reports a stop-game call.
type StopResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StopGame runs the graceful-then-forceful stop protocol.
func (d *Dispatcher) StopGame() StopResult {
	if err := d.sup.Stop(); err != nil {
		return StopResult{Error: err.Error()}
	}
	return StopResult{Success: true}
}

// GetGameState returns the supervisor status snapshot.
func (d *Dispatcher) GetGameState() process.Status {
	return d.sup.Status()
}

// --- modpack search / install ---

// SearchResult wraps a modpack search response.
type SearchResult struct {
	Success  bool            `json:"success"`
	Modpacks []api.SearchHit `json:"modpacks"`
	Error    string          `json:"error,omitempty"`
}

// SearchModpacks queries Modrinth for modpacks.
func (d *Dispatcher) SearchModpacks(ctx context.Context, opts api.SearchOptions) SearchResult {
	result, err := d.modrinth.SearchModpacks(ctx, opts)
	if err != nil {
		return SearchResult{Error: err.Error()}
	}
	return SearchResult{Success: true, Modpacks: result.Hits}
}

// ModpackVersionsResult lists a modpack's published versions.
type ModpackVersionsResult struct {
	Success  bool                 `json:"success"`
	Versions []api.ProjectVersion `json:"versions"`
	Error    string               `json:"error,omitempty"`
}

// GetModpackVersions lists versions of a Modrinth modpack.
func (d *Dispatcher) GetModpackVersions(ctx context.Context, modpackID string) ModpackVersionsResult {
	versions, err := d.modrinth.GetProjectVersions(ctx, modpackID)
	if err != nil {
		return ModpackVersionsResult{Error: err.Error()}
	}
	return ModpackVersionsResult{Success: true, Versions: versions}
}

// InstallModpackResult reports an install.
type InstallModpackResult struct {
	Success    bool   `json:"success"`
	InstanceID string `json:"instanceId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// InstallModpack resolves a Modrinth modpack version and installs it.
// versionID empty selects the latest version.
func (d *Dispatcher) InstallModpack(ctx context.Context, modpackID, versionID, displayName string) InstallModpackResult {
	op := d.registry.Begin("install-modpack", modpackID)

	var version *api.ProjectVersion
	var err error
	if versionID != "" {
		version, err = d.modrinth.GetVersion(ctx, versionID)
	} else {
		var versions []api.ProjectVersion
		versions, err = d.modrinth.GetProjectVersions(ctx, modpackID)
		if err == nil && len(versions) == 0 {
			err = launcher.New(launcher.KindPathNotFound, "modpack %s has no versions", modpackID)
		}
		if err == nil {
			version = &versions[0]
		}
	}
	if err != nil {
		op.Fail(err)
		return InstallModpackResult{Error: err.Error()}
	}

	file := version.PrimaryFile()
	if file == nil {
		err := launcher.New(launcher.KindPathNotFound, "version %s has no files", version.ID)
		op.Fail(err)
		return InstallModpackResult{Error: err.Error()}
	}

	if displayName == "" {
		project, perr := d.modrinth.GetProject(ctx, modpackID)
		if perr == nil {
			displayName = project.Title
		}
	}

	result, err := d.installer.InstallURL(ctx, file.URL, displayName, op)
	if err != nil {
		op.Fail(err)
		return InstallModpackResult{Error: err.Error()}
	}

	// Record provenance for update checks.
	result.Instance.ProjectID = modpackID
	result.Instance.VersionID = version.ID
	result.Instance.IconURL = iconFor(ctx, d.modrinth, modpackID)
	_ = d.store.Update(result.Instance)

	op.Complete("installed " + result.InstanceID)
	return InstallModpackResult{Success: true, InstanceID: result.InstanceID}
}

// ImportModpack installs a local .mrpack file.
func (d *Dispatcher) ImportModpack(ctx context.Context, path string) InstallModpackResult {
	if _, err := os.Stat(path); err != nil {
		return InstallModpackResult{Error: launcher.Wrap(launcher.KindPathNotFound, err, "mrpack not found").Error()}
	}

	op := d.registry.Begin("import-modpack", filepath.Base(path))
	result, err := d.installer.Install(ctx, path, "", op)
	if err != nil {
		op.Fail(err)
		return InstallModpackResult{Error: err.Error()}
	}
	op.Complete("imported " + result.InstanceID)
	return InstallModpackResult{Success: true, InstanceID: result.InstanceID}
}

// ImportModpackURL installs a .mrpack fetched from a URL.
func (d *Dispatcher) ImportModpackURL(ctx context.Context, url, displayName string) InstallModpackResult {
	op := d.registry.Begin("import-modpack", url)
	result, err := d.installer.InstallURL(ctx, url, displayName, op)
	if err != nil {
		op.Fail(err)
		return InstallModpackResult{Error: err.Error()}
	}
	op.Complete("imported " + result.InstanceID)
	return InstallModpackResult{Success: true, InstanceID: result.InstanceID}
}

// --- instance management ---

// InstancesResult lists installed instances.
type InstancesResult struct {
	Success   bool             `json:"success"`
	Instances []*core.Instance `json:"instances"`
}

// GetInstances lists installed instances, most recently played first.
func (d *Dispatcher) GetInstances() InstancesResult {
	return InstancesResult{Success: true, Instances: d.store.List()}
}

// DeleteInstance removes an instance and its directory.
func (d *Dispatcher) DeleteInstance(instanceID string) StopResult {
	st := d.sup.Status()
	busy := st.State == process.StateLaunching || st.State == process.StateRunning
	if busy && st.Metadata != nil && st.Metadata["instance"] == instanceID {
		return StopResult{Error: launcher.New(launcher.KindInvalidOptions,
			"instance %s is running", instanceID).Error()}
	}
	if err := d.store.Delete(instanceID); err != nil {
		return StopResult{Error: err.Error()}
	}
	return StopResult{Success: true}
}

// UpdateModpackPlaytime adds playtime minutes to an instance.
func (d *Dispatcher) UpdateModpackPlaytime(instanceID string, minutes int64) StopResult {
	if err := d.store.AddPlaytime(instanceID, minutes); err != nil {
		return StopResult{Error: err.Error()}
	}
	return StopResult{Success: true}
}

func serverFrom(opts LaunchOptions) *launch.Server {
	if opts.ServerHost == "" {
		return nil
	}
	return &launch.Server{Host: opts.ServerHost, Port: opts.ServerPort}
}

// countMods feeds the heap auto-tune heuristic.
func countMods(gameDir string) int {
	entries, err := os.ReadDir(filepath.Join(gameDir, "mods"))
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".jar" {
			count++
		}
	}
	return count
}

func iconFor(ctx context.Context, client *api.ModrinthClient, modpackID string) string {
	project, err := client.GetProject(ctx, modpackID)
	if err != nil {
		return ""
	}
	return project.IconURL
}
