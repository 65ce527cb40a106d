// Package mrpack installs Modrinth-format modpacks: archive parsing, file
// resolution, modloader installation, and override application.
package mrpack

import (
	"archive/zip"
	"encoding/json"
	"io"
	"strings"

	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/launcher"
)

const indexFileName = "modrinth.index.json"

// Index is the parsed modrinth.index.json document.
type Index struct {
	FormatVersion int               `json:"formatVersion"`
	Game          string            `json:"game"`
	VersionID     string            `json:"versionId"`
	Name          string            `json:"name"`
	Summary       string            `json:"summary,omitempty"`
	Files         []File            `json:"files"`
	Dependencies  map[string]string `json:"dependencies"`
}

// File is one declared pack file.
type File struct {
	Path      string   `json:"path"`
	Hashes    Hashes   `json:"hashes"`
	Env       *Env     `json:"env,omitempty"`
	Downloads []string `json:"downloads"`
	FileSize  int64    `json:"fileSize"`
}

// Hashes carries the declared checksums.
type Hashes struct {
	SHA1   string `json:"sha1"`
	SHA512 string `json:"sha512,omitempty"`
}

// Env declares per-side support: required, optional, or unsupported.
type Env struct {
	Client string `json:"client"`
	Server string `json:"server"`
}

// ClientSupport returns the file's client-side support level, defaulting
// to required when the pack omits env.
func (f *File) ClientSupport() string {
	if f.Env == nil || f.Env.Client == "" {
		return "required"
	}
	return f.Env.Client
}

// MinecraftVersion returns the pack's required Minecraft version.
func (idx *Index) MinecraftVersion() (string, error) {
	v, ok := idx.Dependencies["minecraft"]
	if !ok || v == "" {
		return "", launcher.New(launcher.KindMissingDependency, "pack declares no minecraft version")
	}
	return v, nil
}

// Loader returns the declared modloader and its version. Packs with only
// a minecraft dependency are vanilla.
func (idx *Index) Loader() (core.LoaderType, string, error) {
	for key, version := range idx.Dependencies {
		if key == "minecraft" {
			continue
		}
		kind, ok := core.ParseLoader(key)
		if !ok {
			return "", "", launcher.New(launcher.KindUnsupportedLoader, "unknown loader dependency %q", key)
		}
		return kind, version, nil
	}
	return core.LoaderVanilla, "", nil
}

// ParseArchive opens a .mrpack (ZIP) and decodes its index.
func ParseArchive(path string) (*Index, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, launcher.Wrap(launcher.KindMalformedArchive, err, "opening %s", path)
	}
	defer r.Close()

	return parseIndex(&r.Reader)
}

func parseIndex(r *zip.Reader) (*Index, error) {
	for _, f := range r.File {
		if f.Name != indexFileName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, launcher.Wrap(launcher.KindMalformedArchive, err, "opening index")
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, launcher.Wrap(launcher.KindMalformedArchive, err, "reading index")
		}

		var idx Index
		if err := json.Unmarshal(data, &idx); err != nil {
			return nil, launcher.Wrap(launcher.KindMalformedArchive, err, "parsing index")
		}
		if idx.FormatVersion != 1 {
			return nil, launcher.New(launcher.KindMalformedArchive,
				"unsupported format version %d", idx.FormatVersion)
		}
		if err := validatePaths(&idx); err != nil {
			return nil, err
		}
		return &idx, nil
	}

	return nil, launcher.New(launcher.KindMalformedArchive, "archive has no %s", indexFileName)
}

// validatePaths rejects file paths escaping the instance directory.
func validatePaths(idx *Index) error {
	for _, f := range idx.Files {
		clean := strings.ReplaceAll(f.Path, "\\", "/")
		if strings.HasPrefix(clean, "/") || strings.Contains(clean, "..") {
			return launcher.New(launcher.KindMalformedArchive, "unsafe file path %q", f.Path)
		}
	}
	return nil
}
