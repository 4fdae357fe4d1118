// Package index provides a client for the package index JSON API.
package index

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/git-pkgs/requirements/client"
	"github.com/git-pkgs/requirements/internal/manifest"
)

// DefaultURL is the public package index.
const DefaultURL = "https://pypi.org"

// Client queries a package index for project metadata.
type Client struct {
	baseURL string
	http    *client.Client
	urls    *URLs
}

// New creates an index client. If baseURL is empty the public index is
// used; if c is nil, client.DefaultClient() is used.
func New(baseURL string, c *client.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if c == nil {
		c = client.DefaultClient()
	}
	i := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    c,
	}
	i.urls = &URLs{baseURL: i.baseURL}
	return i
}

// BaseURL returns the index URL the client queries.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URLs returns the URL builder for this index.
func (c *Client) URLs() *URLs {
	return c.urls
}

// Package is project-level metadata from the index.
type Package struct {
	Name        string
	Description string
	Homepage    string
	Repository  string
	License     string
}

// Version is one released version of a package.
type Version struct {
	Number      string
	PublishedAt time.Time
	Yanked      bool
	Integrity   string // sha256-...
	DownloadURL string
	Filename    string
}

// Release is per-version metadata, including declared dependencies.
type Release struct {
	Version      Version
	RequiresDist []string
}

// Dependency is one entry of a release's requires_dist, split into its
// PEP 508 components.
type Dependency struct {
	Name       string
	Specifiers string // "*" when unconstrained
	Marker     string // environment marker, "" when unconditional
}

type packageResponse struct {
	Info     infoBlock                `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
}

type infoBlock struct {
	Name         string            `json:"name"`
	Summary      string            `json:"summary"`
	HomePage     string            `json:"home_page"`
	License      string            `json:"license"`
	Version      string            `json:"version"`
	ProjectURLs  map[string]string `json:"project_urls"`
	RequiresDist []string          `json:"requires_dist"`
}

type releaseFile struct {
	Digests     map[string]string `json:"digests"`
	Filename    string            `json:"filename"`
	URL         string            `json:"url"`
	UploadTime  string            `json:"upload_time"`
	Yanked      bool              `json:"yanked"`
	PackageType string            `json:"packagetype"`
}

type versionInfoResponse struct {
	Info infoBlock     `json:"info"`
	URLs []releaseFile `json:"urls"`
}

// FetchPackage retrieves project metadata.
func (c *Client) FetchPackage(ctx context.Context, name string) (*Package, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", c.baseURL, name)

	var resp packageResponse
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return nil, c.notFound(err, name, "")
	}

	return &Package{
		Name:        manifest.NormalizeName(resp.Info.Name),
		Description: resp.Info.Summary,
		Homepage:    extractHomepage(resp.Info.ProjectURLs, resp.Info.HomePage),
		Repository:  extractRepoURL(resp.Info.ProjectURLs, resp.Info.HomePage),
		License:     resp.Info.License,
	}, nil
}

// FetchVersions retrieves all released versions of a package.
func (c *Client) FetchVersions(ctx context.Context, name string) ([]Version, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", c.baseURL, name)

	var resp packageResponse
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return nil, c.notFound(err, name, "")
	}

	versions := make([]Version, 0, len(resp.Releases))
	for num, files := range resp.Releases {
		versions = append(versions, versionFromFiles(num, files))
	}
	return versions, nil
}

// FetchRelease retrieves metadata for one version, including its
// declared dependencies.
func (c *Client) FetchRelease(ctx context.Context, name, version string) (*Release, error) {
	url := fmt.Sprintf("%s/pypi/%s/%s/json", c.baseURL, name, version)

	var resp versionInfoResponse
	if err := c.http.GetJSON(ctx, url, &resp); err != nil {
		return nil, c.notFound(err, name, version)
	}

	return &Release{
		Version:      versionFromFiles(version, resp.URLs),
		RequiresDist: resp.Info.RequiresDist,
	}, nil
}

// FetchDependencies retrieves a release's dependencies with their
// PEP 508 components split out.
func (c *Client) FetchDependencies(ctx context.Context, name, version string) ([]Dependency, error) {
	release, err := c.FetchRelease(ctx, name, version)
	if err != nil {
		return nil, err
	}

	deps := make([]Dependency, 0, len(release.RequiresDist))
	for _, req := range release.RequiresDist {
		depName, specifiers, marker := ParsePEP508(req)
		deps = append(deps, Dependency{
			Name:       manifest.NormalizeName(depName),
			Specifiers: specifiers,
			Marker:     marker,
		})
	}
	return deps, nil
}

func (c *Client) notFound(err error, name, version string) error {
	if httpErr, ok := err.(*client.HTTPError); ok && httpErr.IsNotFound() {
		return &client.NotFoundError{Name: name, Version: version}
	}
	return err
}

func versionFromFiles(num string, files []releaseFile) Version {
	v := Version{Number: num}
	if len(files) == 0 {
		return v
	}

	// Prefer the sdist; wheels list first on recent uploads.
	file := files[0]
	for _, f := range files {
		if f.PackageType == "sdist" {
			file = f
			break
		}
	}

	if file.UploadTime != "" {
		v.PublishedAt, _ = time.Parse("2006-01-02T15:04:05", file.UploadTime)
	}
	v.Yanked = file.Yanked
	v.DownloadURL = file.URL
	v.Filename = file.Filename
	if sha256, ok := file.Digests["sha256"]; ok {
		v.Integrity = "sha256-" + sha256
	}
	return v
}

func extractRepoURL(projectURLs map[string]string, homePage string) string {
	priorityKeys := []string{"Repository", "Source", "Source Code", "Code"}
	for _, key := range priorityKeys {
		if url, ok := projectURLs[key]; ok && url != "" {
			if isRepoURL(url) {
				return url
			}
		}
	}

	for _, url := range projectURLs {
		if isRepoURL(url) && !strings.Contains(url, "github.com/sponsors") {
			return url
		}
	}

	if isRepoURL(homePage) {
		return homePage
	}

	return ""
}

func extractHomepage(projectURLs map[string]string, homePage string) string {
	if homePage != "" {
		return homePage
	}
	if url, ok := projectURLs["Homepage"]; ok {
		return url
	}
	if url, ok := projectURLs["Home"]; ok {
		return url
	}
	return ""
}

func isRepoURL(url string) bool {
	return strings.Contains(url, "github.com") ||
		strings.Contains(url, "gitlab.com") ||
		strings.Contains(url, "bitbucket.org") ||
		strings.Contains(url, "codeberg.org")
}

var pep508NameRegex = regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9._]*[A-Za-z0-9]|[A-Za-z0-9])(\s*\[.*?\])?`)

// ParsePEP508 splits a requires_dist entry into name, version
// specifiers, and environment marker.
func ParsePEP508(dep string) (name, specifiers, marker string) {
	parts := strings.SplitN(dep, ";", 2)
	nameAndVersion := strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		marker = strings.TrimSpace(parts[1])
	}

	match := pep508NameRegex.FindStringSubmatch(nameAndVersion)
	if match != nil {
		name = strings.TrimSpace(match[1])
		specifiers = strings.TrimSpace(nameAndVersion[len(match[0]):])
		specifiers = strings.Trim(specifiers, "()")
		specifiers = strings.TrimSpace(specifiers)
	} else {
		name = nameAndVersion
	}

	if idx := strings.Index(name, "["); idx != -1 {
		name = name[:idx]
	}

	if specifiers == "" {
		specifiers = "*"
	}

	return
}

// URLs builds index-facing URLs for a package.
type URLs struct {
	baseURL string
}

// Project returns the index project page.
func (u *URLs) Project(name, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/project/%s/%s/", u.baseURL, name, version)
	}
	return fmt.Sprintf("%s/project/%s/", u.baseURL, name)
}

// Documentation returns the hosted documentation URL.
func (u *URLs) Documentation(name, version string) string {
	if version != "" {
		return fmt.Sprintf("https://%s.readthedocs.io/en/%s/", name, version)
	}
	return fmt.Sprintf("https://%s.readthedocs.io/", name)
}

// PURL returns the package URL.
func (u *URLs) PURL(name, version string) string {
	normalized := manifest.NormalizeName(name)
	if version != "" {
		return fmt.Sprintf("pkg:pypi/%s@%s", normalized, version)
	}
	return fmt.Sprintf("pkg:pypi/%s", normalized)
}
