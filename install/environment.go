package install

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/git-pkgs/requirements/internal/manifest"
)

// FingerprintFile is where an environment records how it was built.
const FingerprintFile = "environment.json"

// Fingerprint captures what an environment was built from. A stored
// fingerprint that no longer matches means the environment must be
// wiped and rebuilt rather than reused.
type Fingerprint struct {
	Python struct {
		Version string `json:"version"`
	} `json:"python"`
	EnvVarsHash  string `json:"env_vars_hash"`
	ManifestHash string `json:"manifest_hash"`
}

// Fingerprint computes the fingerprint the installer would write for
// the given manifest.
func (i *Installer) Fingerprint(f *manifest.File) Fingerprint {
	var fp Fingerprint
	fp.Python.Version = i.pythonVersion
	fp.EnvVarsHash = hashEnvVars(i.envVars)

	sum := sha256.Sum256(f.Bytes())
	fp.ManifestHash = hex.EncodeToString(sum[:])
	return fp
}

func (i *Installer) writeFingerprint(f *manifest.File, dir string) error {
	data, err := json.Marshal(i.Fingerprint(f))
	if err != nil {
		return fmt.Errorf("encoding fingerprint: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FingerprintFile), data, 0o644); err != nil {
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	return nil
}

// IsObsolete reports whether the environment at dir must be rebuilt
// for the given manifest: the fingerprint is missing (a previous
// install never completed), unreadable, or differs in interpreter
// version, environment-variable hash, or manifest content. A corrupt
// fingerprint file is removed so it doesn't survive across rebuilds.
func (i *Installer) IsObsolete(dir string, f *manifest.File) bool {
	path := filepath.Join(dir, FingerprintFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}

	var stored Fingerprint
	if err := json.Unmarshal(data, &stored); err != nil {
		_ = os.Remove(path)
		return true
	}

	return stored != i.Fingerprint(f)
}

// hashEnvVars returns the sha256 hash over the configured fingerprint
// variables and their values. With no variables configured it is the
// hash of the empty string.
func hashEnvVars(vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(fmt.Sprintf("_%s_%s_", name, vars[name])))
	}
	return hex.EncodeToString(h.Sum(nil))
}
