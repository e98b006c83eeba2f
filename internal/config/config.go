// Package config holds the run configuration shared by all marksync
// commands.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/marksync/marksync/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".marksync", "config.yaml")
)

// Config is the validated configuration for one invocation.
type Config struct {
	// BaseURL is the remote store's REST endpoint root.
	BaseURL string `mapstructure:"base_url"`

	// Token is the API token sent as a bearer credential.
	Token string `mapstructure:"token"`

	// Dir is the local sync root.
	Dir string `mapstructure:"dir"`

	// StatePath is the sync record database. Empty means
	// <dir>/.marksync/state.db.
	StatePath string `mapstructure:"state_path"`

	// Workers bounds concurrent page tasks.
	Workers int `mapstructure:"workers"`

	// Excludes are extra glob patterns applied to planned local paths.
	Excludes []string `mapstructure:"exclude"`
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not a valid URL", c.BaseURL)
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	dir, err := utils.ResolvePath(c.Dir)
	if err != nil {
		return fmt.Errorf("dir: %w", err)
	}
	c.Dir = dir
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	return nil
}

// ResolvedStatePath returns the state database path, defaulting under the
// sync root.
func (c *Config) ResolvedStatePath() string {
	if c.StatePath != "" {
		return c.StatePath
	}
	return filepath.Join(c.Dir, ".marksync", "state.db")
}
