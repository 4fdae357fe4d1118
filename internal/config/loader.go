package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigPath is the default bot config file name, looked up
	// next to the requirements files it manages.
	DefaultConfigPath = ".requirements-bot.yml"

	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "REQBOT"
)

// LoadError describes a configuration loading failure.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading config %s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader handles loading configuration from files and environment.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key must be registered for AutomaticEnv to reach it during
	// Unmarshal, including keys absent from the config file.
	defaults := NewConfig()
	v.SetDefault("requirements", defaults.Requirements)
	v.SetDefault("index", defaults.Index)
	v.SetDefault("ignore", defaults.Ignore)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("env_vars", defaults.EnvVars)

	return &Loader{v: v}
}

// Load reads the config file at path, applies defaults, merges
// environment overrides, and validates the result. An empty path uses
// DefaultConfigPath; a missing file at the default path is not an
// error, defaults and environment overrides still apply.
func (l *Loader) Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, &LoadError{Path: path, Message: "failed to read config file", Err: err}
		}
	} else if explicit {
		return nil, &LoadError{Path: path, Message: "config file not found", Err: err}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, &LoadError{Path: path, Message: "failed to parse config file", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Path: path, Message: err.Error(), Err: err}
	}
	return cfg, nil
}
