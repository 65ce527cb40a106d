package java

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/blocksmiths/launchcore/internal/launcher"
)

const (
	// cacheValidity is how long a cached java path is trusted before
	// it must re-validate.
	cacheValidity = 7 * 24 * time.Hour

	// fallbackMajor is attempted when the required major cannot be obtained.
	fallbackMajor = 17
)

// Selection is a resolved Java runtime
type Selection struct {
	Path         string `json:"path"`
	MajorVersion int    `json:"majorVersion"`
}

type cacheEntry struct {
	Path         string    `json:"path"`
	MajorVersion int       `json:"majorVersion"`
	Timestamp    time.Time `json:"timestamp"`
}

// Resolver selects a Java executable for a Minecraft version, downloading
// a bundled JRE when nothing on the system qualifies.
type Resolver struct {
	detector   *Detector
	downloader *Downloader
	logger     *slog.Logger

	javaDir   string // where bundled runtimes are installed
	cachePath string
}

// NewResolver creates a resolver. javaDir holds bundled runtimes and the
// persistent path cache.
func NewResolver(javaDir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		detector:   NewDetector(),
		downloader: NewDownloader(logger),
		logger:     logger,
		javaDir:    javaDir,
		cachePath:  filepath.Join(javaDir, "java-cache.json"),
	}
}

// Downloader exposes the underlying runtime downloader.
func (r *Resolver) Downloader() *Downloader { return r.downloader }

// RequiredMajor maps a Minecraft version to the Java major it needs.
// 1.17 nominally runs on 16 but is treated as 17 for compatibility;
// 1.18 and newer require 17; everything older runs on 8.
func RequiredMajor(mcVersion string) int {
	v, err := semver.NewVersion(normalizeMC(mcVersion))
	if err != nil {
		// Snapshots and odd ids: assume a modern runtime
		return fallbackMajor
	}

	switch {
	case v.Major() == 1 && v.Minor() >= 18:
		return 17
	case v.Major() == 1 && v.Minor() == 17:
		return 17 // 16 nominal, bumped for compatibility
	default:
		return 8
	}
}

// Resolve finds a Java executable with major >= minMajor. When mcVersion is
// given and minMajor is zero, the requirement is derived from the version.
func (r *Resolver) Resolve(ctx context.Context, minMajor int, mcVersion string) (*Selection, error) {
	if minMajor <= 0 {
		if mcVersion == "" {
			minMajor = 8
		} else {
			minMajor = RequiredMajor(mcVersion)
		}
	}

	// 1. Persistent cache, if still valid and the path still probes
	if sel := r.fromCache(minMajor); sel != nil {
		return sel, nil
	}

	// 2-5. System detection (PATH, JAVA_HOME, common dirs, official runtimes)
	if inst := r.detector.FindBest(minMajor); inst != nil {
		sel := &Selection{Path: inst.Path, MajorVersion: inst.MajorVersion}
		r.saveCache(sel)
		r.logger.Info("selected system java", "path", sel.Path, "major", sel.MajorVersion)
		return sel, nil
	}

	// Previously downloaded bundled runtime
	if exe, err := FindJavaExecutable(filepath.Join(r.javaDir, strconv.Itoa(minMajor))); err == nil {
		if inst := r.detector.Validate(exe); inst != nil {
			sel := &Selection{Path: inst.Path, MajorVersion: inst.MajorVersion}
			r.saveCache(sel)
			return sel, nil
		}
	}

	// 6. Download a bundled JRE
	sel, err := r.download(ctx, minMajor)
	if err == nil {
		return sel, nil
	}
	r.logger.Warn("bundled runtime download failed", "major", minMajor, "error", err)

	if minMajor != fallbackMajor {
		if sel, fbErr := r.download(ctx, fallbackMajor); fbErr == nil {
			return sel, nil
		}
	}

	return nil, launcher.Wrap(launcher.KindJavaUnavailable, err,
		"no java %d installation found and download failed", minMajor)
}

func (r *Resolver) download(ctx context.Context, major int) (*Selection, error) {
	exe, err := r.downloader.DownloadRuntime(ctx, major, r.javaDir, func(msg string) {
		r.logger.Info("java download", "status", msg)
	})
	if err != nil {
		return nil, err
	}

	inst := r.detector.Validate(exe)
	if inst == nil {
		return nil, launcher.New(launcher.KindJavaUnavailable, "downloaded runtime failed validation: %s", exe)
	}

	sel := &Selection{Path: inst.Path, MajorVersion: inst.MajorVersion}
	r.saveCache(sel)
	return sel, nil
}

// fromCache returns the cached selection when it is younger than the
// validity window, satisfies minMajor, and still validates.
func (r *Resolver) fromCache(minMajor int) *Selection {
	data, err := os.ReadFile(r.cachePath)
	if err != nil {
		return nil
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}
	if time.Since(entry.Timestamp) > cacheValidity {
		return nil
	}
	if entry.MajorVersion < minMajor {
		return nil
	}

	inst := r.detector.Validate(entry.Path)
	if inst == nil || inst.MajorVersion < minMajor {
		return nil
	}
	return &Selection{Path: entry.Path, MajorVersion: inst.MajorVersion}
}

// saveCache persists the selection via temp+rename.
func (r *Resolver) saveCache(sel *Selection) {
	if err := os.MkdirAll(r.javaDir, 0755); err != nil {
		return
	}
	data, err := json.Marshal(cacheEntry{
		Path:         sel.Path,
		MajorVersion: sel.MajorVersion,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return
	}
	tmp := r.cachePath + ".tmp"
	if os.WriteFile(tmp, data, 0644) == nil {
		os.Rename(tmp, r.cachePath)
	}
}

// normalizeMC pads two-segment Minecraft versions ("1.18") for semver.
func normalizeMC(v string) string {
	dots := 0
	for _, c := range v {
		if c == '.' {
			dots++
		}
	}
	if dots == 1 {
		return v + ".0"
	}
	return v
}
