// Package audit scans a requirements manifest for outdated pins,
// honoring the update-bot directives embedded in the file.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/git-pkgs/requirements/internal/index"
	"github.com/git-pkgs/requirements/internal/manifest"
)

const defaultConcurrency = 15

// Proposal is a suggested version bump for a single record.
type Proposal struct {
	Name     string
	Current  string
	Proposed string
	PURL     string // pkg:pypi/<name>@<proposed>
	Line     int
}

// Auditor proposes version bumps against a package index.
type Auditor struct {
	idx         *index.Client
	concurrency int
	ignored     map[string]bool
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithConcurrency sets the number of index lookups in flight.
func WithConcurrency(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithIgnored excludes additional package names from proposals, on top
// of any "pyup: ignore" directives in the manifest itself.
func WithIgnored(names []string) Option {
	return func(a *Auditor) {
		for _, name := range names {
			a.ignored[manifest.NormalizeName(name)] = true
		}
	}
}

// New creates an Auditor over the given index client.
func New(idx *index.Client, opts ...Option) *Auditor {
	a := &Auditor{
		idx:         idx,
		concurrency: defaultConcurrency,
		ignored:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Outdated returns a bump proposal for every record whose pin is behind
// the newest admissible index version. Records marked "ignore" and VCS
// records are skipped. Directive bounds constrain the candidate set:
// a record annotated "pyup: <2.0.0" never gets a proposal >= 2.0.0.
//
// Lookup failures don't abort the scan; they are joined into the
// returned error alongside any proposals found.
func (a *Auditor) Outdated(ctx context.Context, f *manifest.File) ([]Proposal, error) {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		proposals []Proposal
		errs      []error
	)
	sem := make(chan struct{}, a.concurrency)

	for _, record := range f.Records() {
		if !a.eligible(record) {
			continue
		}

		wg.Add(1)
		go func(record *manifest.Record) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			proposal, err := a.check(ctx, record)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", record.Normalized(), err))
				return
			}
			if proposal != nil {
				proposals = append(proposals, *proposal)
			}
		}(record)
	}

	wg.Wait()

	// Workers bail out silently on cancellation; report it so a partial
	// scan is never mistaken for a complete one.
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].Line < proposals[j].Line
	})
	return proposals, errors.Join(errs...)
}

// Apply rewrites the manifest lines covered by the given proposals.
func Apply(f *manifest.File, proposals []Proposal) {
	for _, p := range proposals {
		f.SetVersion(p.Name, p.Proposed)
	}
}

func (a *Auditor) eligible(record *manifest.Record) bool {
	if record.Source != nil {
		return false
	}
	if record.Annotation != nil && record.Annotation.Ignore {
		return false
	}
	return !a.ignored[record.Normalized()]
}

func (a *Auditor) check(ctx context.Context, record *manifest.Record) (*Proposal, error) {
	current, err := pep440.Parse(record.Version)
	if err != nil {
		return nil, fmt.Errorf("unparseable pin %q: %w", record.Version, err)
	}

	versions, err := a.idx.FetchVersions(ctx, record.Normalized())
	if err != nil {
		return nil, err
	}

	var best *pep440.Version
	for _, v := range versions {
		if v.Yanked {
			continue
		}
		candidate, err := pep440.Parse(v.Number)
		if err != nil {
			continue
		}
		if !candidate.GreaterThan(current) {
			continue
		}
		if !record.Annotation.Admits(candidate) {
			continue
		}
		if best == nil || candidate.GreaterThan(*best) {
			c := candidate
			best = &c
		}
	}

	if best == nil {
		return nil, nil
	}
	return &Proposal{
		Name:     record.Name,
		Current:  record.Version,
		Proposed: best.String(),
		PURL:     a.idx.URLs().PURL(record.Name, best.String()),
		Line:     record.Line(),
	}, nil
}
