package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/git-pkgs/requirements/internal/index"
	"github.com/git-pkgs/requirements/internal/manifest"
)

// fakeIndex serves /pypi/<name>/json with the given versions. Yanked
// versions are marked with a trailing "!".
func fakeIndex(t *testing.T, packages map[string][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "pypi" || parts[2] != "json" {
			w.WriteHeader(404)
			return
		}
		versions, ok := packages[parts[1]]
		if !ok {
			w.WriteHeader(404)
			return
		}

		releases := make(map[string][]map[string]any)
		for _, v := range versions {
			yanked := strings.HasSuffix(v, "!")
			v = strings.TrimSuffix(v, "!")
			releases[v] = []map[string]any{{
				"filename":    fmt.Sprintf("%s-%s.tar.gz", parts[1], v),
				"url":         fmt.Sprintf("https://files.example.org/%s-%s.tar.gz", parts[1], v),
				"packagetype": "sdist",
				"yanked":      yanked,
			}}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"info":     map[string]any{"name": parts[1]},
			"releases": releases,
		})
	}))
}

func parseManifest(t *testing.T, content string) *manifest.File {
	t.Helper()
	f, err := manifest.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return f
}

func TestOutdatedProposesNewest(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"requests": {"2.20.0", "2.21.0", "2.22.0"},
	})
	defer server.Close()

	f := parseManifest(t, "requests==2.20.0\n")
	auditor := New(index.New(server.URL, nil))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err != nil {
		t.Fatalf("Outdated failed: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}

	p := proposals[0]
	if p.Current != "2.20.0" || p.Proposed != "2.22.0" {
		t.Errorf("proposal = %s -> %s, want 2.20.0 -> 2.22.0", p.Current, p.Proposed)
	}
	if p.PURL != "pkg:pypi/requests@2.22.0" {
		t.Errorf("PURL = %q", p.PURL)
	}
}

func TestOutdatedHonorsIgnoreDirective(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"redis": {"2.10.6", "3.2.1"},
	})
	defer server.Close()

	f := parseManifest(t, "redis==2.10.6  # pyup: ignore\n")
	auditor := New(index.New(server.URL, nil))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err != nil {
		t.Fatalf("Outdated failed: %v", err)
	}
	if len(proposals) != 0 {
		t.Errorf("ignored record got a proposal: %+v", proposals)
	}
}

func TestOutdatedHonorsBoundDirective(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"sphinx": {"1.8.5", "1.8.6", "2.0.0", "2.1.2"},
	})
	defer server.Close()

	f := parseManifest(t, "Sphinx==1.8.5  # pyup: <2.0.0\n")
	auditor := New(index.New(server.URL, nil))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err != nil {
		t.Fatalf("Outdated failed: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	// 2.x is newer but the bound caps proposals below 2.0.0.
	if proposals[0].Proposed != "1.8.6" {
		t.Errorf("Proposed = %q, want 1.8.6", proposals[0].Proposed)
	}
}

func TestOutdatedBoundFullySatisfied(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"sphinx": {"1.8.5", "2.0.0", "2.1.2"},
	})
	defer server.Close()

	f := parseManifest(t, "Sphinx==1.8.5  # pyup: <2.0.0\n")
	auditor := New(index.New(server.URL, nil))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err != nil {
		t.Fatalf("Outdated failed: %v", err)
	}
	if len(proposals) != 0 {
		t.Errorf("no admissible candidate, got %+v", proposals)
	}
}

func TestOutdatedSkipsYanked(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"requests": {"2.20.0", "2.22.0!"},
	})
	defer server.Close()

	f := parseManifest(t, "requests==2.20.0\n")
	auditor := New(index.New(server.URL, nil))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err != nil {
		t.Fatalf("Outdated failed: %v", err)
	}
	if len(proposals) != 0 {
		t.Errorf("yanked version proposed: %+v", proposals)
	}
}

func TestOutdatedSkipsVCSRecords(t *testing.T) {
	server := fakeIndex(t, nil)
	defer server.Close()

	f := parseManifest(t, "git+https://github.com/rtfd/readthedocs-sphinx-ext@91d4b8f53a6a49803ba9a88a435f66a0eeb0b26c#egg=readthedocs-sphinx-ext==0.6.0\n")
	auditor := New(index.New(server.URL, nil))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err != nil {
		t.Fatalf("Outdated failed: %v", err)
	}
	if len(proposals) != 0 {
		t.Errorf("VCS record got a proposal: %+v", proposals)
	}
}

func TestOutdatedConfiguredIgnore(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"django": {"1.11.26", "2.2.0"},
	})
	defer server.Close()

	f := parseManifest(t, "Django==1.11.26\n")
	auditor := New(index.New(server.URL, nil), WithIgnored([]string{"Django"}))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err != nil {
		t.Fatalf("Outdated failed: %v", err)
	}
	if len(proposals) != 0 {
		t.Errorf("configured ignore got a proposal: %+v", proposals)
	}
}

func TestOutdatedCollectsLookupErrors(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"requests": {"2.20.0", "2.22.0"},
	})
	defer server.Close()

	f := parseManifest(t, "requests==2.20.0\nunknown-package==1.0.0\n")
	auditor := New(index.New(server.URL, nil))

	proposals, err := auditor.Outdated(context.Background(), f)
	if err == nil {
		t.Error("expected a lookup error for the unknown package")
	}
	// The scan still produced the proposal for the package it could reach.
	if len(proposals) != 1 || proposals[0].Name != "requests" {
		t.Errorf("proposals = %+v", proposals)
	}
}

func TestApply(t *testing.T) {
	f := parseManifest(t, "requests==2.20.0\nSphinx==1.8.5  # pyup: <2.0.0\n")
	Apply(f, []Proposal{
		{Name: "requests", Current: "2.20.0", Proposed: "2.22.0"},
		{Name: "Sphinx", Current: "1.8.5", Proposed: "1.8.6"},
	})

	want := "requests==2.22.0\nSphinx==1.8.6  # pyup: <2.0.0\n"
	if got := string(f.Bytes()); got != want {
		t.Errorf("applied manifest = %q, want %q", got, want)
	}
}

func TestOutdatedCanceledContext(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"requests": {"2.20.0", "2.22.0"},
	})
	defer server.Close()

	f := parseManifest(t, "requests==2.20.0\n")
	auditor := New(index.New(server.URL, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proposals, err := auditor.Outdated(ctx, f)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Outdated error = %v, want context.Canceled", err)
	}
	if len(proposals) != 0 {
		t.Errorf("proposals = %+v, want none", proposals)
	}
}
