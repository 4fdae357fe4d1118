// Package vcs resolves source-fetched requirements to downloadable
// archive URLs.
package vcs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/git-pkgs/requirements/internal/manifest"
)

// ErrUnsupportedHost is returned for repository hosts without a known
// archive URL scheme.
var ErrUnsupportedHost = errors.New("unsupported repository host")

// Archive is a downloadable snapshot of a repository at a revision.
type Archive struct {
	URL      string
	Filename string
}

// Resolve returns the archive download for a VCS requirement. The
// revision is a commit hash, so the archive is immutable.
func Resolve(record *manifest.Record) (*Archive, error) {
	if record.Source == nil {
		return nil, fmt.Errorf("%s is not a VCS requirement", record.Name)
	}

	repo, err := url.Parse(record.Source.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing repository URL: %w", err)
	}

	path := strings.TrimSuffix(strings.Trim(repo.Path, "/"), ".git")
	rev := record.Source.Revision
	filename := fmt.Sprintf("%s-%s.tar.gz", record.Normalized(), rev)

	switch repo.Host {
	case "github.com":
		return &Archive{
			URL:      fmt.Sprintf("https://codeload.github.com/%s/tar.gz/%s", path, rev),
			Filename: filename,
		}, nil

	case "gitlab.com":
		return &Archive{
			URL:      fmt.Sprintf("https://gitlab.com/%s/-/archive/%s/%s", path, rev, filename),
			Filename: filename,
		}, nil

	case "bitbucket.org":
		return &Archive{
			URL:      fmt.Sprintf("https://bitbucket.org/%s/get/%s.tar.gz", path, rev),
			Filename: filename,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHost, repo.Host)
	}
}
