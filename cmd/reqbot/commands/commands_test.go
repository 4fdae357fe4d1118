package commands

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cli := New()
	var out bytes.Buffer
	cli.SetOut(&out)
	cli.SetArgs(args)
	err := cli.Execute(context.Background())
	return out.String(), err
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fakeIndex serves /pypi/<name>/json with the given versions.
func fakeIndex(t *testing.T, packages map[string][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "pypi" {
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
			releases[v] = []map[string]any{{
				"filename":    fmt.Sprintf("%s-%s.tar.gz", parts[1], v),
				"url":         fmt.Sprintf("https://files.example.org/%s-%s.tar.gz", parts[1], v),
				"packagetype": "sdist",
			}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"info":     map[string]any{"name": parts[1]},
			"releases": releases,
		})
	}))
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "reqbot dev")
}

func TestLintCommand(t *testing.T) {
	path := writeManifest(t, "requests==2.22.0\nSphinx==1.8.5  # pyup: <2.0.0\n")

	out, err := run(t, "lint", path)
	require.NoError(t, err)
	assert.Contains(t, out, path+": ok")
}

func TestLintMalformedManifest(t *testing.T) {
	path := writeManifest(t, "requests>=2.0\n")

	_, err := run(t, "lint", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestLintDuplicateRecords(t *testing.T) {
	path := writeManifest(t, "requests==2.20.0\nRequests==2.22.0\n")

	_, err := run(t, "lint", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared on line")
}

func TestAuditCommand(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"requests": {"2.20.0", "2.22.0"},
	})
	defer server.Close()

	path := writeManifest(t, "requests==2.20.0\n")

	out, err := run(t, "audit", "--index", server.URL, path)
	require.NoError(t, err)
	assert.Contains(t, out, "requests 2.20.0 -> 2.22.0")
	assert.Contains(t, out, "pkg:pypi/requests@2.22.0")
}

func TestAuditApply(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"requests": {"2.20.0", "2.22.0"},
	})
	defer server.Close()

	path := writeManifest(t, "requests==2.20.0  # HTTP for humans\n")

	_, err := run(t, "audit", "--index", server.URL, "--apply", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "requests==2.22.0  # HTTP for humans\n", string(data))
}

func TestAuditUpToDate(t *testing.T) {
	server := fakeIndex(t, map[string][]string{
		"requests": {"2.22.0"},
	})
	defer server.Close()

	path := writeManifest(t, "requests==2.22.0\n")

	out, err := run(t, "audit", "--index", server.URL, path)
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")
}

func TestMergeEnvVars(t *testing.T) {
	vars, err := mergeEnvVars(
		map[string]string{"DJANGO_SETTINGS_MODULE": "settings", "DEBUG": "0"},
		[]string{"DEBUG=1", "API_KEY=secret"},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"DJANGO_SETTINGS_MODULE": "settings",
		"DEBUG":                  "1",
		"API_KEY":                "secret",
	}, vars)
}

func TestMergeEnvVarsMalformed(t *testing.T) {
	_, err := mergeEnvVars(nil, []string{"DEBUG"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected NAME=VALUE")

	_, err = mergeEnvVars(nil, []string{"=1"})
	require.Error(t, err)
}

func TestInstallCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	const body = "sdist bytes"
	digest := sha256.Sum256([]byte(body))

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer files.Close()

	index := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"info": map[string]any{"name": "requests"},
			"urls": []map[string]any{{
				"filename":    "requests-2.22.0.tar.gz",
				"url":         files.URL + "/requests-2.22.0.tar.gz",
				"packagetype": "sdist",
				"digests":     map[string]string{"sha256": hex.EncodeToString(digest[:])},
			}},
		})
	}))
	defer index.Close()

	path := writeManifest(t, "requests==2.22.0\n")
	dir := filepath.Join(t.TempDir(), "env")

	out, err := run(t, "install", "--index", index.URL, "--env", "DJANGO_SETTINGS_MODULE=settings", path, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "installed 1 package(s)")

	data, err := os.ReadFile(filepath.Join(dir, "requests-2.22.0.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	// Churn in the process environment must not trip the fingerprint;
	// only the variables passed via --env count.
	t.Setenv("OLDPWD", "/somewhere/else")
	out, err = run(t, "install", "--index", index.URL, "--env", "DJANGO_SETTINGS_MODULE=settings", path, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "environment up to date")
}

func TestExplicitConfigMissing(t *testing.T) {
	_, err := run(t, "lint", "--config", filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yml")
}
