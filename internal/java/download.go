package java

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// Downloader fetches bundled JREs from Eclipse Adoptium, falling back to
// pinned GitHub release URLs when the API is unreachable.
type Downloader struct {
	client *retryablehttp.Client
	logger *slog.Logger

	apiBase string
}

// githubFallbacks maps "major/os/arch" to a pinned Temurin release asset.
// Used only when the Adoptium API cannot be reached.
var githubFallbacks = map[string]string{
	"8/linux/x64":      "https://github.com/adoptium/temurin8-binaries/releases/download/jdk8u422-b05/OpenJDK8U-jre_x64_linux_hotspot_8u422b05.tar.gz",
	"8/windows/x64":    "https://github.com/adoptium/temurin8-binaries/releases/download/jdk8u422-b05/OpenJDK8U-jre_x64_windows_hotspot_8u422b05.zip",
	"8/mac/x64":        "https://github.com/adoptium/temurin8-binaries/releases/download/jdk8u422-b05/OpenJDK8U-jre_x64_mac_hotspot_8u422b05.tar.gz",
	"17/linux/x64":     "https://github.com/adoptium/temurin17-binaries/releases/download/jdk-17.0.12%2B7/OpenJDK17U-jre_x64_linux_hotspot_17.0.12_7.tar.gz",
	"17/linux/aarch64": "https://github.com/adoptium/temurin17-binaries/releases/download/jdk-17.0.12%2B7/OpenJDK17U-jre_aarch64_linux_hotspot_17.0.12_7.tar.gz",
	"17/windows/x64":   "https://github.com/adoptium/temurin17-binaries/releases/download/jdk-17.0.12%2B7/OpenJDK17U-jre_x64_windows_hotspot_17.0.12_7.zip",
	"17/mac/x64":       "https://github.com/adoptium/temurin17-binaries/releases/download/jdk-17.0.12%2B7/OpenJDK17U-jre_x64_mac_hotspot_17.0.12_7.tar.gz",
	"17/mac/aarch64":   "https://github.com/adoptium/temurin17-binaries/releases/download/jdk-17.0.12%2B7/OpenJDK17U-jre_aarch64_mac_hotspot_17.0.12_7.tar.gz",
	"21/linux/x64":     "https://github.com/adoptium/temurin21-binaries/releases/download/jdk-21.0.4%2B7/OpenJDK21U-jre_x64_linux_hotspot_21.0.4_7.tar.gz",
	"21/linux/aarch64": "https://github.com/adoptium/temurin21-binaries/releases/download/jdk-21.0.4%2B7/OpenJDK21U-jre_aarch64_linux_hotspot_21.0.4_7.tar.gz",
	"21/windows/x64":   "https://github.com/adoptium/temurin21-binaries/releases/download/jdk-21.0.4%2B7/OpenJDK21U-jre_x64_windows_hotspot_21.0.4_7.zip",
	"21/mac/x64":       "https://github.com/adoptium/temurin21-binaries/releases/download/jdk-21.0.4%2B7/OpenJDK21U-jre_x64_mac_hotspot_21.0.4_7.tar.gz",
	"21/mac/aarch64":   "https://github.com/adoptium/temurin21-binaries/releases/download/jdk-21.0.4%2B7/OpenJDK21U-jre_aarch64_mac_hotspot_21.0.4_7.tar.gz",
}

// NewDownloader creates a new Java downloader
func NewDownloader(logger *slog.Logger) *Downloader {
	client := retryablehttp.NewClient()
	client.Logger = nil
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client:  client,
		logger:  logger,
		apiBase: "https://api.adoptium.net",
	}
}

// SetAPIBase overrides the Adoptium API root.
func (d *Downloader) SetAPIBase(u string) { d.apiBase = u }

// DownloadRuntime downloads and extracts the requested Java version.
// Returns the path to the java executable.
func (d *Downloader) DownloadRuntime(ctx context.Context, version int, destBaseDir string, progressCb func(string)) (string, error) {
	if progressCb == nil {
		progressCb = func(string) {}
	}

	progressCb(fmt.Sprintf("Resolving Java %d...", version))
	downloadURL, filename, err := d.resolveAdoptiumURL(ctx, version)
	if err != nil {
		d.logger.Warn("adoptium api unreachable, trying pinned fallback", "error", err)
		downloadURL, filename, err = d.fallbackURL(version)
		if err != nil {
			return "", fmt.Errorf("resolving java %d: %w", version, err)
		}
	}

	versionDir := filepath.Join(destBaseDir, fmt.Sprintf("%d", version))
	if err := os.MkdirAll(versionDir, 0755); err != nil {
		return "", fmt.Errorf("creating dir: %w", err)
	}

	downloadPath := filepath.Join(versionDir, filename)

	progressCb(fmt.Sprintf("Downloading Java %d...", version))
	if err := d.downloadFile(ctx, downloadURL, downloadPath); err != nil {
		return "", fmt.Errorf("downloading runtime: %w", err)
	}
	defer os.Remove(downloadPath)

	progressCb("Extracting Java runtime...")
	if err := d.extractArchive(downloadPath, versionDir); err != nil {
		return "", fmt.Errorf("extracting archive: %w", err)
	}

	return FindJavaExecutable(versionDir)
}

func (d *Downloader) resolveAdoptiumURL(ctx context.Context, version int) (string, string, error) {
	osName, arch := adoptiumPlatform()

	url := fmt.Sprintf("%s/v3/assets/feature_releases/%d/ga?architecture=%s&heap_size=normal&image_type=jre&jvm_impl=hotspot&os=%s&page=0&page_size=1&project=jdk&sort_method=DEFAULT&sort_order=DESC&vendor=eclipse",
		d.apiBase, version, arch, osName)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", "", fmt.Errorf("api returned status %d", resp.StatusCode)
	}

	var releases []struct {
		Binaries []struct {
			Package struct {
				Link string `json:"link"`
				Name string `json:"name"`
			} `json:"package"`
		} `json:"binaries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return "", "", err
	}

	if len(releases) == 0 || len(releases[0].Binaries) == 0 {
		return "", "", fmt.Errorf("no releases found for java %d on %s/%s", version, osName, arch)
	}

	pkg := releases[0].Binaries[0].Package
	return pkg.Link, pkg.Name, nil
}

func (d *Downloader) fallbackURL(version int) (string, string, error) {
	osName, arch := adoptiumPlatform()
	key := fmt.Sprintf("%d/%s/%s", version, osName, arch)
	url, ok := githubFallbacks[key]
	if !ok {
		return "", "", fmt.Errorf("no fallback runtime for %s", key)
	}
	return url, filepath.Base(strings.ReplaceAll(url, "%2B", "+")), nil
}

func (d *Downloader) downloadFile(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

func (d *Downloader) extractArchive(src, dest string) error {
	if strings.HasSuffix(src, ".zip") {
		return extractZip(src, dest)
	}
	return extractTarGz(src, dest)
}

// extractTarGz unpacks a tar.gz runtime archive, stripping the single
// top-level directory so bin/ lives directly under dest.
func extractTarGz(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		relPath := stripTopLevel(header.Name)
		if relPath == "" {
			continue
		}

		target := filepath.Join(dest, relPath)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Symlink(header.Linkname, target)
		}
	}
	return nil
}

// extractZip unpacks a zip runtime archive with the same top-level strip.
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		relPath := stripTopLevel(f.Name)
		if relPath == "" {
			continue
		}

		target := filepath.Join(dest, relPath)

		if f.FileInfo().IsDir() {
			os.MkdirAll(target, 0755)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}

		outFile, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}
		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// stripTopLevel drops the archive's first path component (e.g.
// "jdk-21.0.4+7-jre/bin/java" -> "bin/java"). Archives use forward slashes.
func stripTopLevel(name string) string {
	name = strings.TrimPrefix(name, "./")
	idx := strings.Index(name, "/")
	if idx < 0 {
		return ""
	}
	rel := name[idx+1:]
	if rel == "" {
		return ""
	}
	return filepath.FromSlash(rel)
}

// FindJavaExecutable locates bin/java under an extracted runtime directory.
func FindJavaExecutable(dir string) (string, error) {
	if path := findJavaUnder(dir); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("java executable not found in %s", dir)
}

func adoptiumPlatform() (osName, arch string) {
	osName = runtime.GOOS
	if osName == "darwin" {
		osName = "mac"
	}

	arch = runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x64"
	case "arm64":
		arch = "aarch64"
	}
	return osName, arch
}
