// Package manifest implements the pinned requirements file format:
// one exact-version record per line, with optional update-bot directives
// embedded in trailing comments.
package manifest

import (
	"fmt"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Record is one dependency declaration.
type Record struct {
	// Name as written in the file. Use Normalized for comparisons.
	Name string

	// Version is the exact pin. For VCS records it is the version the
	// fetched revision is expected to provide.
	Version string

	// Extras are the optional feature groups requested, e.g. celery[redis].
	Extras []string

	// Source is set for records fetched directly from version control.
	Source *VCSSource

	// Annotation is the decoded update-bot directive, if the trailing
	// comment carried one.
	Annotation *Annotation

	// Rationale is the trailing comment text when it is not a directive.
	Rationale string

	line int
}

// VCSSource describes a requirement fetched from a git repository
// instead of the package index.
type VCSSource struct {
	URL      string // repository URL, without the git+ prefix
	Revision string // commit hash
}

// Annotation is a directive for the automated update bot.
// Either Ignore is set, or Bound restricts proposable versions.
type Annotation struct {
	Ignore   bool
	BoundRaw string
	bound    pep440.Specifiers
}

// Admits reports whether the bound directive allows the given version.
// Records without a bound admit everything.
func (a *Annotation) Admits(v pep440.Version) bool {
	if a == nil || a.BoundRaw == "" {
		return true
	}
	return a.bound.Check(v)
}

// Line returns the 1-based line number the record was parsed from.
func (r *Record) Line() int {
	return r.line
}

// Normalized returns the index-normalized package name: lowercase with
// underscores and dots folded to hyphens.
func (r *Record) Normalized() string {
	return NormalizeName(r.Name)
}

// PURL returns the package URL for the pinned version, e.g.
// pkg:pypi/redis@2.10.6.
func (r *Record) PURL() string {
	return fmt.Sprintf("pkg:pypi/%s@%s", r.Normalized(), r.Version)
}

// String renders the record as a requirements-file line.
func (r *Record) String() string {
	var b strings.Builder

	if r.Source != nil {
		fmt.Fprintf(&b, "git+%s@%s#egg=%s==%s", r.Source.URL, r.Source.Revision, r.Name, r.Version)
	} else {
		b.WriteString(r.Name)
		if len(r.Extras) > 0 {
			fmt.Fprintf(&b, "[%s]", strings.Join(r.Extras, ","))
		}
		fmt.Fprintf(&b, "==%s", r.Version)
	}

	switch {
	case r.Annotation != nil && r.Annotation.Ignore:
		b.WriteString("  # pyup: ignore")
	case r.Annotation != nil:
		fmt.Fprintf(&b, "  # pyup: %s", r.Annotation.BoundRaw)
	case r.Rationale != "":
		fmt.Fprintf(&b, "  # %s", r.Rationale)
	}

	return b.String()
}

// NormalizeName normalizes a package name per the index convention.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}

// Line is one physical line of a requirements file. Blank lines and
// full-line comments carry no Record but survive serialization.
type Line struct {
	Number int
	Raw    string
	Record *Record
}

// File is a parsed requirements file. Line order is preserved.
type File struct {
	Lines []Line
}

// Records returns the dependency records in file order.
func (f *File) Records() []*Record {
	var records []*Record
	for _, line := range f.Lines {
		if line.Record != nil {
			records = append(records, line.Record)
		}
	}
	return records
}

// Lookup returns the record matching the normalized name, or nil.
func (f *File) Lookup(name string) *Record {
	want := NormalizeName(name)
	for _, line := range f.Lines {
		if line.Record != nil && line.Record.Normalized() == want {
			return line.Record
		}
	}
	return nil
}
