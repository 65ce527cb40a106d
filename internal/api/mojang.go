// Package api contains HTTP clients for external metadata services.
// The version manifest and Modrinth project lookups go through the shared
// response cache when one is configured; other requests always hit the network.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/blocksmiths/launchcore/internal/cache"
	"github.com/blocksmiths/launchcore/internal/core"
	"github.com/blocksmiths/launchcore/internal/launcher"
)

const (
	mojangVersionManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

	// UserAgent identifies the launcher to metadata services.
	UserAgent = "blocksmiths/launchcore/1.0 (github.com/blocksmiths/launchcore)"
)

// MojangClient handles Mojang meta service interactions
type MojangClient struct {
	httpClient  *http.Client
	cache       *cache.ResponseCache
	manifestURL string
}

// NewMojangClient creates a Mojang meta client backed by the response cache.
func NewMojangClient(respCache *cache.ResponseCache) *MojangClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second

	return &MojangClient{
		httpClient:  retryClient.StandardClient(),
		cache:       respCache,
		manifestURL: mojangVersionManifestURL,
	}
}

// SetManifestURL overrides the manifest endpoint, used by tests.
func (c *MojangClient) SetManifestURL(u string) { c.manifestURL = u }

// GetVersionManifest fetches the version manifest, honoring the cache
// unless forceRefresh is set.
func (c *MojangClient) GetVersionManifest(ctx context.Context, forceRefresh bool) (*core.VersionManifest, error) {
	if !forceRefresh && c.cache != nil {
		var cached core.VersionManifest
		if c.cache.Get(c.manifestURL, &cached) {
			return &cached, nil
		}
	}

	var manifest core.VersionManifest
	if err := c.getJSON(ctx, c.manifestURL, &manifest); err != nil {
		return nil, fmt.Errorf("fetching version manifest: %w", err)
	}

	if c.cache != nil {
		_ = c.cache.Put(c.manifestURL, &manifest)
	}
	return &manifest, nil
}

// FindVersion locates a version entry by id.
func (c *MojangClient) FindVersion(ctx context.Context, id string) (*core.Version, error) {
	manifest, err := c.GetVersionManifest(ctx, false)
	if err != nil {
		return nil, err
	}

	for _, v := range manifest.Versions {
		if v.ID == id {
			return &v, nil
		}
	}

	return nil, launcher.New(launcher.KindUnknownVersion, "version not found: %s", id)
}

// GetVersionDetails fetches the full version document from the
// manifest-provided URL.
func (c *MojangClient) GetVersionDetails(ctx context.Context, version *core.Version) (*core.VersionDetails, error) {
	var details core.VersionDetails
	if err := c.getJSON(ctx, version.URL, &details); err != nil {
		return nil, fmt.Errorf("fetching version details: %w", err)
	}
	return &details, nil
}

// CategorizedVersions groups manifest entries by release channel.
type CategorizedVersions struct {
	Release  []core.Version      `json:"release"`
	Snapshot []core.Version      `json:"snapshot"`
	OldBeta  []core.Version      `json:"old_beta"`
	OldAlpha []core.Version      `json:"old_alpha"`
	Latest   core.LatestVersions `json:"latest"`
}

// GetCategorizedVersions groups available versions for the command boundary.
func (c *MojangClient) GetCategorizedVersions(ctx context.Context, forceRefresh bool) (*CategorizedVersions, error) {
	manifest, err := c.GetVersionManifest(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	out := &CategorizedVersions{Latest: manifest.Latest}
	for _, v := range manifest.Versions {
		switch v.Type {
		case core.VersionTypeRelease:
			out.Release = append(out.Release, v)
		case core.VersionTypeSnapshot:
			out.Snapshot = append(out.Snapshot, v)
		case core.VersionTypeOldBeta:
			out.OldBeta = append(out.OldBeta, v)
		case core.VersionTypeOldAlpha:
			out.OldAlpha = append(out.OldAlpha, v)
		}
	}
	return out, nil
}

func (c *MojangClient) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
