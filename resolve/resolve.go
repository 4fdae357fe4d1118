// Package resolve computes the transitive dependency closure of a
// pinned manifest and detects version conflicts.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/git-pkgs/requirements/internal/index"
	"github.com/git-pkgs/requirements/internal/manifest"
)

const defaultConcurrency = 15

// Requirement is one constraint placed on a package by a requiring
// package. From is empty for direct manifest pins.
type Requirement struct {
	From       string
	Specifiers string // "*" when unconstrained
}

func (r Requirement) String() string {
	from := r.From
	if from == "" {
		from = "manifest"
	}
	return fmt.Sprintf("%s requires %s", from, r.Specifiers)
}

// Node is one package in the closure.
type Node struct {
	Name         string
	Pinned       string // "" when the manifest does not pin it
	Requirements []Requirement
}

// Closure is the full set of packages required once indirect
// dependencies are included.
type Closure struct {
	Nodes map[string]*Node
}

// Names returns the closure's package names, sorted.
func (c *Closure) Names() []string {
	names := make([]string, 0, len(c.Nodes))
	for name := range c.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnsatisfiableConstraintError reports a package whose requirements
// cannot all be met. Pinned is the manifest pin that violates a
// requirement, or empty when no released version satisfies the
// accumulated requirements of an unpinned package.
type UnsatisfiableConstraintError struct {
	Name         string
	Pinned       string
	Requirements []Requirement
}

func (e *UnsatisfiableConstraintError) Error() string {
	reqs := make([]string, len(e.Requirements))
	for i, r := range e.Requirements {
		reqs[i] = r.String()
	}
	if e.Pinned != "" {
		return fmt.Sprintf("unsatisfiable constraint on %s: pinned at %s but %s", e.Name, e.Pinned, strings.Join(reqs, "; "))
	}
	return fmt.Sprintf("unsatisfiable constraint on %s: no version satisfies %s", e.Name, strings.Join(reqs, "; "))
}

// Resolver walks package metadata from an index.
type Resolver struct {
	idx         *index.Client
	concurrency int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithConcurrency sets the number of index lookups in flight during
// the satisfiability pass.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a Resolver over the given index client.
func New(idx *index.Client, opts ...Option) *Resolver {
	r := &Resolver{idx: idx, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Closure walks requires_dist metadata for every pinned record and
// returns the transitive dependency closure. Requirements guarded by
// an environment marker are excluded. It fails with
// *UnsatisfiableConstraintError when a manifest pin violates a
// discovered requirement, or when an unpinned package has no released
// version satisfying all requirements placed on it.
func (r *Resolver) Closure(ctx context.Context, f *manifest.File) (*Closure, error) {
	closure := &Closure{Nodes: make(map[string]*Node)}
	pins := make(map[string]string)

	var queue []string
	for _, record := range f.Records() {
		name := record.Normalized()
		pins[name] = record.Version
		closure.Nodes[name] = &Node{
			Name:         name,
			Pinned:       record.Version,
			Requirements: []Requirement{{Specifiers: "==" + record.Version}},
		}
		// VCS records have no index metadata to walk.
		if record.Source == nil {
			queue = append(queue, name)
		}
	}

	visited := make(map[string]bool)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true

		deps, err := r.idx.FetchDependencies(ctx, name, pins[name])
		if err != nil {
			return nil, fmt.Errorf("fetching dependencies of %s==%s: %w", name, pins[name], err)
		}

		for _, dep := range deps {
			if dep.Marker != "" {
				continue
			}

			node, ok := closure.Nodes[dep.Name]
			if !ok {
				node = &Node{Name: dep.Name, Pinned: pins[dep.Name]}
				closure.Nodes[dep.Name] = node
			}
			req := Requirement{From: name, Specifiers: dep.Specifiers}
			node.Requirements = append(node.Requirements, req)

			pinned, isPinned := pins[dep.Name]
			if isPinned {
				ok, err := satisfies(pinned, dep.Specifiers)
				if err != nil {
					return nil, fmt.Errorf("requirement %q of %s: %w", dep.Specifiers, name, err)
				}
				if !ok {
					return nil, &UnsatisfiableConstraintError{
						Name:         dep.Name,
						Pinned:       pinned,
						Requirements: node.Requirements,
					}
				}
				if !visited[dep.Name] {
					queue = append(queue, dep.Name)
				}
			}
		}
	}

	if err := r.checkUnpinned(ctx, closure); err != nil {
		return nil, err
	}
	return closure, nil
}

// checkUnpinned verifies that every unpinned package in the closure has
// at least one released, non-yanked version satisfying all of its
// accumulated requirements.
func (r *Resolver) checkUnpinned(ctx context.Context, closure *Closure) error {
	var nodes []*Node
	for _, node := range closure.Nodes {
		if node.Pinned == "" && constrained(node) {
			nodes = append(nodes, node)
		}
	}
	if len(nodes) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	sem := make(chan struct{}, r.concurrency)

	for _, node := range nodes {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			err := r.checkNode(ctx, node)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(node)
	}

	wg.Wait()

	// Workers bail out silently on cancellation; report it so a partial
	// check is never mistaken for a complete one.
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Resolver) checkNode(ctx context.Context, node *Node) error {
	versions, err := r.idx.FetchVersions(ctx, node.Name)
	if err != nil {
		return fmt.Errorf("fetching versions of %s: %w", node.Name, err)
	}

	for _, v := range versions {
		if v.Yanked {
			continue
		}
		ok := true
		for _, req := range node.Requirements {
			match, err := satisfies(v.Number, req.Specifiers)
			if err != nil || !match {
				ok = false
				break
			}
		}
		if ok {
			return nil
		}
	}

	return &UnsatisfiableConstraintError{
		Name:         node.Name,
		Requirements: node.Requirements,
	}
}

func constrained(node *Node) bool {
	for _, req := range node.Requirements {
		if req.Specifiers != "*" {
			return true
		}
	}
	return false
}

func satisfies(version, specifiers string) (bool, error) {
	if specifiers == "*" || specifiers == "" {
		return true, nil
	}
	v, err := pep440.Parse(version)
	if err != nil {
		return false, fmt.Errorf("invalid version %q: %w", version, err)
	}
	specs, err := pep440.NewSpecifiers(specifiers)
	if err != nil {
		return false, fmt.Errorf("invalid specifiers %q: %w", specifiers, err)
	}
	return specs.Check(v), nil
}
