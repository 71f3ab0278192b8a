package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFileName = "config.yaml"

// Loader handles loading and merging configuration files
type Loader struct {
	userPath string
}

// NewLoader creates a new configuration loader rooted at the user's
// inspector directory
func NewLoader() (*Loader, error) {
	dir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return &Loader{userPath: filepath.Join(dir, configFileName)}, nil
}

// Load loads the user configuration merged over the defaults. A missing
// config file is not an error; a malformed one is.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	userCfg, err := l.loadFile(l.userPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if userCfg != nil {
		cfg = mergeConfigs(cfg, userCfg)
	}

	return l.resolve(cfg)
}

// LoadFromFile loads configuration from a specific file merged over the
// defaults. Missing explicit files are an error.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	userCfg, err := l.loadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return l.resolve(mergeConfigs(DefaultConfig(), userCfg))
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// resolve fills path-valued fields that default relative to the home
// directory and cannot be baked into DefaultConfig
func (l *Loader) resolve(cfg *Config) (*Config, error) {
	if cfg.Store.Root == "" {
		root, err := DefaultStoreRoot()
		if err != nil {
			return nil, err
		}
		cfg.Store.Root = root
	}
	return cfg, nil
}

// mergeConfigs merges two configurations, with override taking precedence
func mergeConfigs(base, override *Config) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Settings: Settings{
			LogLevel: coalesce(override.Settings.LogLevel, base.Settings.LogLevel),
			LogFile:  coalesce(override.Settings.LogFile, base.Settings.LogFile),
		},
		Store: StoreSettings{
			Root:        coalesce(override.Store.Root, base.Store.Root),
			RulesFile:   coalesce(override.Store.RulesFile, base.Store.RulesFile),
			MetadataCSV: coalesce(override.Store.MetadataCSV, base.Store.MetadataCSV),
		},
		Server: ServerSettings{
			Host: coalesce(override.Server.Host, base.Server.Host),
			Port: base.Server.Port,
		},
	}

	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}

	return result
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// UserConfigPath returns the path to the user config file
func (l *Loader) UserConfigPath() string {
	return l.userPath
}
