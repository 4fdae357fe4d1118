// Package install materializes the packages declared in a requirements
// manifest into an isolated environment directory.
package install

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/requirements/fetch"
	"github.com/git-pkgs/requirements/internal/index"
	"github.com/git-pkgs/requirements/internal/manifest"
	"github.com/git-pkgs/requirements/internal/vcs"
)

// Installer downloads every declared distribution into a target
// directory. Filesystem population is its only side effect.
type Installer struct {
	idx           *index.Client
	fetcher       fetch.Interface
	pythonVersion string
	envVars       map[string]string
}

// Option configures an Installer.
type Option func(*Installer)

// WithFetcher sets a custom distribution fetcher.
func WithFetcher(f fetch.Interface) Option {
	return func(i *Installer) {
		i.fetcher = f
	}
}

// WithPythonVersion records the interpreter version in the environment
// fingerprint.
func WithPythonVersion(v string) Option {
	return func(i *Installer) {
		i.pythonVersion = v
	}
}

// WithEnvVars sets the environment variables whose hash goes into the
// environment fingerprint.
func WithEnvVars(vars map[string]string) Option {
	return func(i *Installer) {
		i.envVars = vars
	}
}

// New creates an Installer. If no fetcher is configured, a
// circuit-breaking fetcher with default settings is used.
func New(idx *index.Client, opts ...Option) *Installer {
	i := &Installer{idx: idx}
	for _, opt := range opts {
		opt(i)
	}
	if i.fetcher == nil {
		i.fetcher = fetch.NewCircuitBreakerFetcher(fetch.NewFetcher())
	}
	return i
}

// Install validates the manifest, downloads a distribution for every
// record into dir, and writes the environment fingerprint. On any
// failure the directory is left as-is and the fingerprint is withheld,
// so IsObsolete reports the environment as needing a rebuild.
func (i *Installer) Install(ctx context.Context, f *manifest.File, dir string) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating environment directory: %w", err)
	}

	for _, record := range f.Records() {
		if err := i.installRecord(ctx, record, dir); err != nil {
			return fmt.Errorf("installing %s: %w", record.Normalized(), err)
		}
	}

	return i.writeFingerprint(f, dir)
}

// Verify checks that every record's distribution is reachable upstream
// without downloading anything.
func (i *Installer) Verify(ctx context.Context, f *manifest.File) error {
	for _, record := range f.Records() {
		url, _, _, err := i.resolveDownload(ctx, record)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", record.Normalized(), err)
		}
		if _, _, err := i.fetcher.Head(ctx, url); err != nil {
			return fmt.Errorf("checking %s: %w", record.Normalized(), err)
		}
	}
	return nil
}

func (i *Installer) installRecord(ctx context.Context, record *manifest.Record, dir string) error {
	url, filename, integrity, err := i.resolveDownload(ctx, record)
	if err != nil {
		return err
	}

	// The fetcher verifies the digest as the body streams; a mismatch
	// surfaces as a write error below.
	dist, err := i.fetcher.Fetch(ctx, url, integrity)
	if err != nil {
		return err
	}
	defer func() { _ = dist.Body.Close() }()

	return writeFile(dist.Body, filepath.Join(dir, filename))
}

// resolveDownload returns the distribution URL and filename for a
// record, plus the expected integrity string when the index provides
// one.
func (i *Installer) resolveDownload(ctx context.Context, record *manifest.Record) (url, filename, integrity string, err error) {
	if record.Source != nil {
		archive, err := vcs.Resolve(record)
		if err != nil {
			return "", "", "", err
		}
		return archive.URL, archive.Filename, "", nil
	}

	release, err := i.idx.FetchRelease(ctx, record.Normalized(), record.Version)
	if err != nil {
		return "", "", "", err
	}
	if release.Version.DownloadURL == "" {
		return "", "", "", fmt.Errorf("no distribution published for %s==%s", record.Normalized(), record.Version)
	}
	filename = release.Version.Filename
	if filename == "" {
		filename = filenameFromURL(release.Version.DownloadURL)
	}
	return release.Version.DownloadURL, filename, release.Version.Integrity, nil
}

func writeFile(body io.Reader, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func filenameFromURL(url string) string {
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		return url[idx+1:]
	}
	return url
}
