// Modrinth client backing modpack search, version listing, and installs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/blocksmiths/launchcore/internal/cache"
)

const modrinthBaseURL = "https://api.modrinth.com/v2"

// ModrinthClient handles Modrinth API interactions
type ModrinthClient struct {
	httpClient *http.Client
	baseURL    string
	cache      *cache.ResponseCache
}

// NewModrinthClient creates a Modrinth API client.
func NewModrinthClient(respCache *cache.ResponseCache) *ModrinthClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	retryClient.HTTPClient.Timeout = 30 * time.Second

	return &ModrinthClient{
		httpClient: retryClient.StandardClient(),
		baseURL:    modrinthBaseURL,
		cache:      respCache,
	}
}

// SetBaseURL overrides the API root, used by tests.
func (c *ModrinthClient) SetBaseURL(u string) { c.baseURL = u }

// Project represents a Modrinth project (modpack)
type Project struct {
	ID           string   `json:"id"`
	Slug         string   `json:"slug"`
	ProjectType  string   `json:"project_type"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Categories   []string `json:"categories"`
	ClientSide   string   `json:"client_side"`
	ServerSide   string   `json:"server_side"`
	Downloads    int      `json:"downloads"`
	IconURL      string   `json:"icon_url"`
	GameVersions []string `json:"game_versions"`
	Loaders      []string `json:"loaders"`
}

// ProjectVersion represents a specific version of a project
type ProjectVersion struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	Name          string        `json:"name"`
	VersionNumber string        `json:"version_number"`
	GameVersions  []string      `json:"game_versions"`
	VersionType   string        `json:"version_type"`
	Loaders       []string      `json:"loaders"`
	Files         []VersionFile `json:"files"`
	Published     string        `json:"published"`
	Downloads     int           `json:"downloads"`
}

// VersionFile represents a downloadable file of a project version
type VersionFile struct {
	Hashes   FileHashes `json:"hashes"`
	URL      string     `json:"url"`
	Filename string     `json:"filename"`
	Primary  bool       `json:"primary"`
	Size     int64      `json:"size"`
}

// FileHashes contains file checksums
type FileHashes struct {
	SHA1   string `json:"sha1"`
	SHA512 string `json:"sha512"`
}

// SearchResult represents a search response
type SearchResult struct {
	Hits      []SearchHit `json:"hits"`
	Offset    int         `json:"offset"`
	Limit     int         `json:"limit"`
	TotalHits int         `json:"total_hits"`
}

// SearchHit represents a single search result
type SearchHit struct {
	ProjectID    string   `json:"project_id"`
	ProjectType  string   `json:"project_type"`
	Slug         string   `json:"slug"`
	Author       string   `json:"author"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Categories   []string `json:"categories"`
	Versions     []string `json:"versions"`
	Downloads    int      `json:"downloads"`
	IconURL      string   `json:"icon_url"`
	DateModified string   `json:"date_modified"`
	ClientSide   string   `json:"client_side"`
	ServerSide   string   `json:"server_side"`
}

// SearchOptions configures a modpack search query
type SearchOptions struct {
	Query       string
	GameVersion string
	Category    string
	Loader      string
	Sort        string // relevance, downloads, follows, newest, updated
	Limit       int
	Offset      int
}

// SearchModpacks searches Modrinth for modpack projects.
func (c *ModrinthClient) SearchModpacks(ctx context.Context, opts SearchOptions) (*SearchResult, error) {
	params := url.Values{}
	if opts.Query != "" {
		params.Set("query", opts.Query)
	}
	if opts.Sort != "" {
		params.Set("index", opts.Sort)
	}
	if opts.Offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", opts.Offset))
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	} else {
		params.Set("limit", "20")
	}

	facets := [][]string{{"project_type:modpack"}}
	if opts.Loader != "" {
		facets = append(facets, []string{fmt.Sprintf("categories:%s", opts.Loader)})
	}
	if opts.Category != "" {
		facets = append(facets, []string{fmt.Sprintf("categories:%s", opts.Category)})
	}
	if opts.GameVersion != "" {
		facets = append(facets, []string{fmt.Sprintf("versions:%s", opts.GameVersion)})
	}
	facetJSON, _ := json.Marshal(facets)
	params.Set("facets", string(facetJSON))

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	var result SearchResult
	if err := c.getJSON(ctx, reqURL, &result); err != nil {
		return nil, fmt.Errorf("searching modpacks: %w", err)
	}
	return &result, nil
}

// GetProject fetches a project by ID or slug.
func (c *ModrinthClient) GetProject(ctx context.Context, idOrSlug string) (*Project, error) {
	reqURL := fmt.Sprintf("%s/project/%s", c.baseURL, url.PathEscape(idOrSlug))

	if c.cache != nil {
		var cached Project
		if c.cache.Get(reqURL, &cached) {
			return &cached, nil
		}
	}

	var project Project
	if err := c.getJSON(ctx, reqURL, &project); err != nil {
		return nil, fmt.Errorf("fetching project: %w", err)
	}
	if c.cache != nil {
		_ = c.cache.Put(reqURL, &project)
	}
	return &project, nil
}

// GetProjectVersions fetches all versions of a project.
func (c *ModrinthClient) GetProjectVersions(ctx context.Context, projectID string) ([]ProjectVersion, error) {
	reqURL := fmt.Sprintf("%s/project/%s/version", c.baseURL, url.PathEscape(projectID))

	var versions []ProjectVersion
	if err := c.getJSON(ctx, reqURL, &versions); err != nil {
		return nil, fmt.Errorf("fetching versions: %w", err)
	}
	return versions, nil
}

// GetVersion fetches a specific project version.
func (c *ModrinthClient) GetVersion(ctx context.Context, versionID string) (*ProjectVersion, error) {
	reqURL := fmt.Sprintf("%s/version/%s", c.baseURL, url.PathEscape(versionID))

	var version ProjectVersion
	if err := c.getJSON(ctx, reqURL, &version); err != nil {
		return nil, fmt.Errorf("fetching version: %w", err)
	}
	return &version, nil
}

// PrimaryFile returns the version's primary file, falling back to the first.
func (v *ProjectVersion) PrimaryFile() *VersionFile {
	for i := range v.Files {
		if v.Files[i].Primary {
			return &v.Files[i]
		}
	}
	if len(v.Files) > 0 {
		return &v.Files[0]
	}
	return nil
}

func (c *ModrinthClient) getJSON(ctx context.Context, reqURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found: %s", reqURL)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}
