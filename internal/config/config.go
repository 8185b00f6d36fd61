package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultOrganization is the name of the public repository. Passing it as
// --organization is equivalent to not passing one at all.
const DefaultOrganization = "public"

type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Docs     DocsConfig     `yaml:"docs"`
}

type RegistryConfig struct {
	URL                 string `yaml:"url"`
	APIKey              string `yaml:"apiKey"`
	DefaultOrganization string `yaml:"defaultOrganization"`
}

type DocsConfig struct {
	// BaseURL is where published documentation is served, used only for
	// the link printed after a successful docs upload.
	BaseURL string `yaml:"baseUrl"`
}

// DefaultPath returns the standard config location under the user config
// directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "anvil", "config.yaml")
}

// Load reads and parses a YAML config file, applying defaults first. A
// missing file is not an error: publishing works against the default
// registry with only ANVIL_API_KEY set.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Registry: RegistryConfig{
			URL:                 "https://registry.anvilworks.org",
			DefaultOrganization: DefaultOrganization,
		},
		Docs: DocsConfig{BaseURL: "https://docs.anvilworks.org"},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Registry.URL == "" {
		return nil, fmt.Errorf("registry url must not be empty")
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("ANVIL_API_KEY"); key != "" {
		cfg.Registry.APIKey = key
	}
}
