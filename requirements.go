// Package requirements provides tooling for pinned pip requirements
// manifests: parsing and round-trip serialization, validation, audit of
// outdated pins against the package index, transitive-closure
// resolution, and environment materialization.
//
// A manifest declares one dependency per line, pinned to an exact
// version, optionally carrying an update-bot directive in a trailing
// comment:
//
//	redis==2.10.6  # pyup: ignore
//	Sphinx==1.8.5  # pyup: <2.0.0
//	git+https://github.com/rtfd/readthedocs-sphinx-ext@91d4b8f53a6a49803ba9a88a435f66a0eeb0b26c#egg=readthedocs-sphinx-ext==0.6.0
//
// Basic usage:
//
//	f, err := requirements.ParseFile("requirements.txt")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := f.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
//	auditor := requirements.NewAuditor(requirements.NewIndex("", nil))
//	proposals, err := auditor.Outdated(context.Background(), f)
package requirements

import (
	"io"

	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/requirements/audit"
	"github.com/git-pkgs/requirements/client"
	"github.com/git-pkgs/requirements/internal/index"
	"github.com/git-pkgs/requirements/internal/manifest"
)

// Re-export types from internal/manifest
type (
	// File is a parsed requirements manifest. Line order is preserved.
	File = manifest.File

	// Record is one dependency declaration.
	Record = manifest.Record

	// Line is one physical line of a manifest.
	Line = manifest.Line

	// VCSSource describes a requirement fetched from version control.
	VCSSource = manifest.VCSSource

	// Annotation is a decoded update-bot directive.
	Annotation = manifest.Annotation

	// MalformedRecordError reports a line that does not match the grammar.
	MalformedRecordError = manifest.MalformedRecordError

	// DuplicateRecordError reports a package declared more than once.
	DuplicateRecordError = manifest.DuplicateRecordError
)

// Re-export types from client
type (
	// Client is an HTTP client with retry logic for index APIs.
	Client = client.Client

	// HTTPError represents an HTTP error response.
	HTTPError = client.HTTPError

	// NotFoundError is returned when a package or version is unknown.
	NotFoundError = client.NotFoundError

	// RateLimitError is returned when the index rate limits requests.
	RateLimitError = client.RateLimitError
)

// Index queries a package index for project metadata.
type Index = index.Client

// Auditor proposes version bumps for outdated pins.
type Auditor = audit.Auditor

// Proposal is a suggested version bump for a single record.
type Proposal = audit.Proposal

// ErrNotFound is returned when a package or version is not found.
var ErrNotFound = client.ErrNotFound

// Parse reads an ordered requirements manifest.
func Parse(r io.Reader) (*File, error) {
	return manifest.Parse(r)
}

// ParseFile parses the requirements manifest at path.
func ParseFile(path string) (*File, error) {
	return manifest.ParseFile(path)
}

// NormalizeName normalizes a package name per the index convention.
func NormalizeName(name string) string {
	return manifest.NormalizeName(name)
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries with exponential backoff
// - Retry on 429 and 5xx responses
func DefaultClient() *Client {
	return client.DefaultClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	return client.NewClient(opts...)
}

// Option configures a Client.
type Option = client.Option

// WithTimeout sets the HTTP client timeout.
var WithTimeout = client.WithTimeout

// WithMaxRetries sets the maximum number of retries.
var WithMaxRetries = client.WithMaxRetries

// NewIndex creates a package index client. If baseURL is empty the
// public index is used; if c is nil, DefaultClient() is used.
func NewIndex(baseURL string, c *Client) *Index {
	return index.New(baseURL, c)
}

// NewAuditor creates an Auditor over the given index.
func NewAuditor(idx *Index, opts ...audit.Option) *Auditor {
	return audit.New(idx, opts...)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
// Supports both package PURLs (pkg:pypi/redis) and version PURLs
// (pkg:pypi/redis@2.10.6).
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}
