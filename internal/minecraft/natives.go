package minecraft

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/launcher"
)

// sharedObjectExts are the archive entries kept during native extraction.
var sharedObjectExts = []string{".so", ".dylib", ".jnilib", ".dll"}

// PrepareNatives clears and rebuilds the natives directory for a version
// from its native classifier artifacts. Must run after EnsureLibraries and
// before any launch argument referencing java.library.path is built.
func (e *Engine) PrepareNatives(details *core.VersionDetails, nativesDir string) error {
	if err := os.RemoveAll(nativesDir); err != nil {
		return launcher.Wrap(launcher.KindNativeExtractionFailed, err, "clearing natives dir")
	}
	if err := os.MkdirAll(nativesDir, 0755); err != nil {
		return launcher.Wrap(launcher.KindNativeExtractionFailed, err, "creating natives dir")
	}

	osName := core.MojangOS()
	extracted := 0

	for i := range details.Libraries {
		lib := &details.Libraries[i]
		if !lib.Applies(osName) {
			continue
		}
		artifact := lib.NativeArtifact()
		if artifact == nil {
			continue
		}

		jarPath := filepath.Join(e.cfg.LibrariesDir, filepath.FromSlash(artifact.Path))
		n, err := extractNatives(jarPath, nativesDir)
		if err != nil {
			return launcher.Wrap(launcher.KindNativeExtractionFailed, err,
				"extracting %s", lib.Name)
		}
		extracted += n
	}

	if extracted == 0 {
		// Versions since 1.19 ship natives as plain classpath libraries,
		// so an empty directory is not fatal.
		e.logger.Warn("no natives extracted", "version", details.ID)
	} else {
		e.logger.Info("natives extracted", "version", details.ID, "files", extracted)
	}

	return nil
}

// extractNatives unpacks the shared-object entries of one native jar into
// dest, flat, discarding metadata entries.
func extractNatives(jarPath, dest string) (int, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	count := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(f.Name, "META-INF/") {
			continue
		}
		if !isSharedObject(f.Name) {
			continue
		}

		target := filepath.Join(dest, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return count, err
		}

		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
		if err != nil {
			rc.Close()
			return count, err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func isSharedObject(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range sharedObjectExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	// Versioned unix sonames like libfoo.so.1
	return strings.Contains(lower, ".so.")
}
