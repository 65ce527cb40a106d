package mrpack

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/download"
	"github.com/blocksmiths/launchcore/internal/events"
	"github.com/blocksmiths/launchcore/internal/launcher"
)

// Loader metadata endpoints. Fabric and Quilt publish merged launch
// profiles; Forge and NeoForge embed a version document in their
// installer jars.
var (
	fabricMetaURL = "https://meta.fabricmc.net/v2/versions/loader/%s/%s/profile/json"
	quiltMetaURL  = "https://meta.quiltmc.org/v3/versions/loader/%s/%s/profile/json"

	forgeInstallerURL    = "https://maven.minecraftforge.net/net/minecraftforge/forge/%[1]s-%[2]s/forge-%[1]s-%[2]s-installer.jar"
	neoforgeInstallerURL = "https://maven.neoforged.net/releases/net/neoforged/neoforge/%[1]s/neoforge-%[1]s-installer.jar"
)

// loaderProfile is the subset of a Fabric/Quilt launch profile we consume.
type loaderProfile struct {
	ID           string          `json:"id"`
	InheritsFrom string          `json:"inheritsFrom"`
	MainClass    string          `json:"mainClass"`
	Arguments    *core.Arguments `json:"arguments,omitempty"`
	Libraries    []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"libraries"`
}

// installerVersionDoc is the version.json embedded in Forge/NeoForge
// installer jars.
type installerVersionDoc struct {
	ID           string          `json:"id"`
	InheritsFrom string          `json:"inheritsFrom"`
	MainClass    string          `json:"mainClass"`
	Arguments    *core.Arguments `json:"arguments,omitempty"`
	Libraries    []core.Library  `json:"libraries"`
}

// InstallLoader resolves the loader's metadata, merges its libraries over
// the vanilla version document, persists the augmented document under
// versions/<mc>-<loader>-<ver>/, and fetches the loader libraries.
// Returns the augmented version id.
func (inst *Installer) InstallLoader(ctx context.Context, kind core.LoaderType, mcVersion, loaderVersion string, op *events.Handle) (string, error) {
	vanilla, err := inst.engine.LoadLocalDetails(mcVersion)
	if err != nil {
		return "", err
	}

	var merged *core.VersionDetails
	switch kind {
	case core.LoaderFabric:
		merged, err = inst.mergeMetaProfile(ctx, fmt.Sprintf(fabricMetaURL, mcVersion, loaderVersion), vanilla)
	case core.LoaderQuilt:
		merged, err = inst.mergeMetaProfile(ctx, fmt.Sprintf(quiltMetaURL, mcVersion, loaderVersion), vanilla)
	case core.LoaderForge:
		merged, err = inst.mergeInstallerJar(ctx, fmt.Sprintf(forgeInstallerURL, mcVersion, loaderVersion), vanilla)
	case core.LoaderNeoForge:
		merged, err = inst.mergeInstallerJar(ctx, fmt.Sprintf(neoforgeInstallerURL, loaderVersion), vanilla)
	default:
		return "", launcher.New(launcher.KindUnsupportedLoader, "cannot install loader %q", kind)
	}
	if err != nil {
		return "", err
	}

	merged.ID = fmt.Sprintf("%s-%s-%s", mcVersion, kind, loaderVersion)
	merged.InheritsFrom = mcVersion

	if err := inst.engine.PersistDetails(merged); err != nil {
		return "", err
	}

	if err := inst.engine.EnsureLibraries(ctx, merged, op); err != nil {
		return "", err
	}

	return merged.ID, nil
}

// mergeMetaProfile fetches a Fabric/Quilt launch profile and merges it
// over the vanilla document. Profile libraries carry maven coordinates
// plus a repository base URL.
func (inst *Installer) mergeMetaProfile(ctx context.Context, url string, vanilla *core.VersionDetails) (*core.VersionDetails, error) {
	var profile loaderProfile
	if err := getJSON(ctx, inst.httpClient, url, &profile); err != nil {
		return nil, launcher.Wrap(launcher.KindDownloadFailed, err, "fetching loader profile")
	}
	if profile.MainClass == "" {
		return nil, launcher.New(launcher.KindUnsupportedLoader, "loader profile has no main class")
	}

	merged := *vanilla
	merged.MainClass = profile.MainClass

	var loaderLibs []core.Library
	for _, lib := range profile.Libraries {
		path, err := core.MavenPath(lib.Name)
		if err != nil {
			return nil, launcher.Wrap(launcher.KindUnsupportedLoader, err, "loader library %q", lib.Name)
		}
		base := lib.URL
		if base == "" {
			base = "https://maven.fabricmc.net/"
		}
		loaderLibs = append(loaderLibs, core.Library{
			Name: lib.Name,
			Downloads: &core.LibraryDownloads{
				Artifact: &core.Artifact{
					Path: path,
					URL:  joinURL(base, path),
				},
			},
		})
	}
	// Loader libraries come first so their classes win on the classpath.
	merged.Libraries = append(loaderLibs, vanilla.Libraries...)
	merged.Arguments = mergeArguments(vanilla.Arguments, profile.Arguments)

	return &merged, nil
}

// mergeInstallerJar downloads a Forge/NeoForge installer jar, extracts the
// embedded version.json, and merges it over the vanilla document.
func (inst *Installer) mergeInstallerJar(ctx context.Context, url string, vanilla *core.VersionDetails) (*core.VersionDetails, error) {
	tmpDir, err := os.MkdirTemp("", "launchcore-installer-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	jarPath := filepath.Join(tmpDir, "installer.jar")
	if _, err := inst.dl.Fetch(ctx, download.Request{
		URL:     url,
		Dest:    jarPath,
		Timeout: 5 * time.Minute,
	}); err != nil {
		return nil, err
	}

	doc, err := readInstallerVersionDoc(jarPath)
	if err != nil {
		return nil, err
	}

	merged := *vanilla
	merged.MainClass = doc.MainClass

	var loaderLibs []core.Library
	for _, lib := range doc.Libraries {
		if lib.Downloads == nil || lib.Downloads.Artifact == nil || lib.Downloads.Artifact.URL == "" {
			// Installer-generated artifacts (client patches) are out of
			// reach without running the installer; skip them.
			continue
		}
		loaderLibs = append(loaderLibs, lib)
	}
	merged.Libraries = append(loaderLibs, vanilla.Libraries...)
	merged.Arguments = mergeArguments(vanilla.Arguments, doc.Arguments)

	return &merged, nil
}

func readInstallerVersionDoc(jarPath string) (*installerVersionDoc, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return nil, launcher.Wrap(launcher.KindMalformedArchive, err, "opening installer jar")
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "version.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		var doc installerVersionDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, launcher.Wrap(launcher.KindMalformedArchive, err, "parsing installer version.json")
		}
		if doc.MainClass == "" {
			return nil, launcher.New(launcher.KindUnsupportedLoader, "installer version.json has no main class")
		}
		return &doc, nil
	}

	return nil, launcher.New(launcher.KindUnsupportedLoader, "installer jar has no version.json")
}

// mergeArguments appends loader arguments after the vanilla ones.
func mergeArguments(vanilla, loader *core.Arguments) *core.Arguments {
	if loader == nil {
		return vanilla
	}
	if vanilla == nil {
		return loader
	}
	return &core.Arguments{
		Game: append(append([]interface{}{}, vanilla.Game...), loader.Game...),
		JVM:  append(append([]interface{}{}, vanilla.JVM...), loader.JVM...),
	}
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	if base[len(base)-1] == '/' {
		return base + path
	}
	return base + "/" + path
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func newLoaderHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second
	return retryClient.StandardClient()
}
