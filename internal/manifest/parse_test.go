package manifest

import (
	"errors"
	"strings"
	"testing"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

func TestParsePin(t *testing.T) {
	f, err := Parse(strings.NewReader("redis==2.10.6\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	records := f.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Name != "redis" {
		t.Errorf("Name = %q, want %q", r.Name, "redis")
	}
	if r.Version != "2.10.6" {
		t.Errorf("Version = %q, want %q", r.Version, "2.10.6")
	}
	if r.Annotation != nil {
		t.Errorf("Annotation = %+v, want nil", r.Annotation)
	}
	if r.Line() != 1 {
		t.Errorf("Line = %d, want 1", r.Line())
	}
}

func TestParseIgnoreDirective(t *testing.T) {
	f, err := Parse(strings.NewReader("redis==2.10.6  # pyup: ignore\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := f.Records()[0]
	if r.Name != "redis" || r.Version != "2.10.6" {
		t.Errorf("record = %s==%s, want redis==2.10.6", r.Name, r.Version)
	}
	if r.Annotation == nil || !r.Annotation.Ignore {
		t.Fatalf("Annotation = %+v, want ignore", r.Annotation)
	}
	if r.Rationale != "" {
		t.Errorf("Rationale = %q, want empty", r.Rationale)
	}
}

func TestParseBoundDirective(t *testing.T) {
	f, err := Parse(strings.NewReader("Sphinx==1.8.5  # pyup: <2.0.0\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := f.Records()[0]
	if r.Annotation == nil {
		t.Fatal("expected a bound annotation")
	}
	if r.Annotation.Ignore {
		t.Error("Ignore = true, want false")
	}
	if r.Annotation.BoundRaw != "<2.0.0" {
		t.Errorf("BoundRaw = %q, want %q", r.Annotation.BoundRaw, "<2.0.0")
	}

	admitted, err := pep440.Parse("1.9.0")
	if err != nil {
		t.Fatalf("Parse version: %v", err)
	}
	rejected, err := pep440.Parse("2.0.0")
	if err != nil {
		t.Fatalf("Parse version: %v", err)
	}
	if !r.Annotation.Admits(admitted) {
		t.Error("bound <2.0.0 should admit 1.9.0")
	}
	if r.Annotation.Admits(rejected) {
		t.Error("bound <2.0.0 should reject 2.0.0")
	}
}

func TestParseRationale(t *testing.T) {
	f, err := Parse(strings.NewReader("docutils==0.14  # 0.15 breaks rst2html\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := f.Records()[0]
	if r.Annotation != nil {
		t.Errorf("Annotation = %+v, want nil", r.Annotation)
	}
	if r.Rationale != "0.15 breaks rst2html" {
		t.Errorf("Rationale = %q", r.Rationale)
	}
}

func TestParseExtras(t *testing.T) {
	f, err := Parse(strings.NewReader("celery[redis]==4.1.1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := f.Records()[0]
	if r.Name != "celery" {
		t.Errorf("Name = %q, want %q", r.Name, "celery")
	}
	if len(r.Extras) != 1 || r.Extras[0] != "redis" {
		t.Errorf("Extras = %v, want [redis]", r.Extras)
	}
}

func TestParseVCS(t *testing.T) {
	line := "git+https://github.com/rtfd/readthedocs-sphinx-ext@91d4b8f53a6a49803ba9a88a435f66a0eeb0b26c#egg=readthedocs-sphinx-ext==0.6.0\n"
	f, err := Parse(strings.NewReader(line))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := f.Records()[0]
	if r.Name != "readthedocs-sphinx-ext" {
		t.Errorf("Name = %q", r.Name)
	}
	if r.Version != "0.6.0" {
		t.Errorf("Version = %q, want 0.6.0", r.Version)
	}
	if r.Source == nil {
		t.Fatal("expected a VCS source")
	}
	if r.Source.URL != "https://github.com/rtfd/readthedocs-sphinx-ext" {
		t.Errorf("URL = %q", r.Source.URL)
	}
	if r.Source.Revision != "91d4b8f53a6a49803ba9a88a435f66a0eeb0b26c" {
		t.Errorf("Revision = %q", r.Source.Revision)
	}
}

func TestParseCommentsAndBlanks(t *testing.T) {
	input := "# Core\n\nDjango==1.11.26\n"
	f, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(f.Lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(f.Lines))
	}
	if f.Lines[0].Record != nil || f.Lines[1].Record != nil {
		t.Error("comment and blank lines must carry no record")
	}
	if f.Lines[2].Record == nil {
		t.Fatal("expected a record on line 3")
	}
	if got := f.Lines[2].Record.Normalized(); got != "django" {
		t.Errorf("Normalized = %q, want %q", got, "django")
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unpinned", "requests\n"},
		{"range constraint", "requests>=2.0\n"},
		{"floating pin", "requests==2.*\n"},
		{"bad name", "-requests==1.0\n"},
		{"vcs without egg", "git+https://github.com/a/b@91d4b8f53a6a49803ba9a88a435f66a0eeb0b26c\n"},
		{"vcs without revision", "git+https://github.com/a/b#egg=b==1.0\n"},
		{"vcs branch revision", "git+https://github.com/a/b@master#egg=b==1.0\n"},
		{"vcs without version", "git+https://github.com/a/b@91d4b8f53a6a49803ba9a88a435f66a0eeb0b26c#egg=b\n"},
		{"unknown directive", "requests==2.0.0  # pyup: oops\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			var malformed *MalformedRecordError
			if !errors.As(err, &malformed) {
				t.Errorf("Parse(%q) = %v, want MalformedRecordError", tt.input, err)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Django", "django"},
		{"unicode_slugify", "unicode-slugify"},
		{"zope.interface", "zope-interface"},
		{"requests", "requests"},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecordPURL(t *testing.T) {
	f, err := Parse(strings.NewReader("Sphinx==1.8.5\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := f.Records()[0].PURL(); got != "pkg:pypi/sphinx@1.8.5" {
		t.Errorf("PURL = %q, want %q", got, "pkg:pypi/sphinx@1.8.5")
	}
}

func TestLookup(t *testing.T) {
	f, err := Parse(strings.NewReader("Django==1.11.26\nredis==2.10.6\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if r := f.Lookup("django"); r == nil || r.Version != "1.11.26" {
		t.Errorf("Lookup(django) = %+v", r)
	}
	if r := f.Lookup("missing"); r != nil {
		t.Errorf("Lookup(missing) = %+v, want nil", r)
	}
}
