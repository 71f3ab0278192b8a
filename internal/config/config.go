package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the complete inspector configuration
type Config struct {
	Version  string         `yaml:"version"`
	Settings Settings       `yaml:"settings"`
	Store    StoreSettings  `yaml:"store"`
	Server   ServerSettings `yaml:"server"`
}

// Settings contains global configuration settings
type Settings struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`
}

// StoreSettings locates the session corpus and its sidecar files
type StoreSettings struct {
	// Root is the directory walked for *.jsonl session files.
	Root string `yaml:"root,omitempty"`
	// RulesFile is an explicit danger-rules document. Empty means the
	// user override or the embedded default set.
	RulesFile string `yaml:"rules_file,omitempty"`
	// MetadataCSV is an optional display-metadata file keyed by session id.
	MetadataCSV string `yaml:"metadata_csv,omitempty"`
}

// ServerSettings configures the local viewer daemon
type ServerSettings struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Addr returns the listen address in host:port form
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			LogLevel: "info",
		},
		Server: ServerSettings{
			Host: "127.0.0.1",
			Port: 8799,
		},
	}
}

// DataDir returns the inspector's own state directory (~/.openclaw-inspector)
func DataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".openclaw-inspector"), nil
}

// DefaultStoreRoot returns the directory the agent writes session files to
func DefaultStoreRoot() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".openclaw", "agents"), nil
}

// ProgressPath returns the path of the read-progress document
func ProgressPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "progress.json"), nil
}

// IndexPath returns the path of the scan-index database
func IndexPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "index.db"), nil
}

// Exists checks if a config file exists at the given path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
