// Package config loads the update-bot configuration file.
package config

import "fmt"

// Config controls the automated update bot and the CLI defaults.
type Config struct {
	// Requirements lists the manifest files to scan.
	Requirements []string `mapstructure:"requirements"`

	// Index overrides the package index URL.
	Index string `mapstructure:"index"`

	// Ignore lists package names never proposed for upgrade, in
	// addition to in-file "pyup: ignore" directives.
	Ignore []string `mapstructure:"ignore"`

	// Concurrency bounds parallel index lookups.
	Concurrency int `mapstructure:"concurrency"`

	// EnvVars are the environment variables recorded in the install
	// fingerprint. Only these, never the whole process environment.
	EnvVars map[string]string `mapstructure:"env_vars"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Requirements: []string{"requirements.txt"},
		Concurrency:  15,
		EnvVars:      map[string]string{},
	}
}

// Validate checks the configuration for values the bot cannot run with.
func (c *Config) Validate() error {
	if len(c.Requirements) == 0 {
		return fmt.Errorf("at least one requirements file must be configured")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}
