package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for wb.
type Config struct {
	BaseDir string `toml:"base_dir"`
	LogDir  string `toml:"log_dir"`

	// StrictLocking serializes operations per workbench inside the process.
	// Off by default; the engine relies on atomic renames for safety.
	StrictLocking bool `toml:"strict_locking"`

	Store   StoreConfig   `toml:"store"`
	Limits  LimitsConfig  `toml:"limits"`
	Secrets SecretsConfig `toml:"secrets"`
}

// StoreConfig represents configuration for the JSON document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "filesystem" (default) or "memory"
}

// LimitsConfig holds the engine ceilings. Zero values fall back to the
// engine defaults.
type LimitsConfig struct {
	MaxFiles             int   `toml:"max_files,omitempty"`
	MaxFileSizeBytes     int64 `toml:"max_file_size_bytes,omitempty"`
	MaxManualCheckpoints int   `toml:"max_manual_checkpoints,omitempty"`
	MaxAutoCheckpoints   int   `toml:"max_auto_checkpoints,omitempty"`
}

// SecretsConfig holds the location of the encrypted provider-key file.
type SecretsConfig struct {
	Path string `toml:"path"`
}

// NewConfig creates a new Config with default paths under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: filepath.Join(baseDir, "workbenches"),
		LogDir:  filepath.Join(baseDir, "log"),
		Store:   StoreConfig{Type: "filesystem"},
		Secrets: SecretsConfig{Path: filepath.Join(baseDir, "secrets.age")},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
