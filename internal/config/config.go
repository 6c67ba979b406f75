package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"anyback-go/internal/anyback"
)

// Config represents the main configuration for anyback.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Space      SpaceConfig      `toml:"space"`
	Import     ImportConfig     `toml:"import"`
	Backup     BackupConfig     `toml:"backup"`
	Inspect    InspectConfig    `toml:"inspect"`
}

// EncryptionConfig holds paths to the age key pair used for published archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age", "test" or "none" (default)
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a publish target.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// DatabaseConfig represents configuration for the history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SpaceConfig selects the document store backend.
type SpaceConfig struct {
	// Type is "sqlite" (objects stored in the history database) or "memory".
	Type string `toml:"type"`
}

// ImportConfig holds restore chunk limits. Zero values fall back to defaults.
type ImportConfig struct {
	MaxSingleSnapshotBytes int64 `toml:"max_single_snapshot_bytes,omitempty"`
	MaxBatchBytes          int64 `toml:"max_batch_bytes,omitempty"`
	MaxBatchSnapshots      int   `toml:"max_batch_snapshots,omitempty"`
	// SnapshotTransport enables raw snapshot imports for --objects restores.
	// Unset means enabled.
	SnapshotTransport *bool `toml:"snapshot_transport,omitempty"`
}

// SnapshotTransportEnabled reports whether the snapshot transport may be used.
func (c ImportConfig) SnapshotTransportEnabled() bool {
	return c.SnapshotTransport == nil || *c.SnapshotTransport
}

// BackupConfig holds backup defaults.
type BackupConfig struct {
	Workers int    `toml:"workers,omitempty"`
	Prefix  string `toml:"prefix,omitempty"`
	Dir     string `toml:"dir,omitempty"`
}

// InspectConfig holds inspector defaults.
type InspectConfig struct {
	MaxCache string `toml:"max_cache,omitempty"` // e.g. "200m"
}

// NewConfig creates a new Config with default paths under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Space:    SpaceConfig{Type: "sqlite"},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "anyback.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "anyback.key"),
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
	}
}

// Vault returns the vault config with the given name, or the first vault
// when name is empty.
func (c *Config) Vault(name string) (VaultConfig, error) {
	if len(c.Vaults) == 0 {
		return VaultConfig{}, fmt.Errorf("no vaults configured")
	}
	if name == "" {
		return c.Vaults[0], nil
	}
	for _, v := range c.Vaults {
		if v.Name == name {
			return v, nil
		}
	}
	return VaultConfig{}, fmt.Errorf("vault not found: %s", name)
}

// Environment variables overriding [import].
const (
	EnvMaxSingleSnapshotBytes = "ANYBACK_IMPORT_MAX_SINGLE_SNAPSHOT_BYTES"
	EnvMaxBatchBytes          = "ANYBACK_IMPORT_MAX_BATCH_BYTES"
	EnvMaxBatchSnapshots      = "ANYBACK_IMPORT_MAX_BATCH_SNAPSHOTS"
)

// ResolveImportLimits combines defaults, the [import] section and the
// environment, in increasing order of precedence. lookupEnv is usually
// os.LookupEnv.
func ResolveImportLimits(cfg *Config, lookupEnv func(string) (string, bool)) (anyback.ImportLimits, error) {
	limits := anyback.DefaultImportLimits()
	if cfg != nil {
		if cfg.Import.MaxSingleSnapshotBytes != 0 {
			limits.MaxSingleBytes = cfg.Import.MaxSingleSnapshotBytes
		}
		if cfg.Import.MaxBatchBytes != 0 {
			limits.MaxBatchBytes = cfg.Import.MaxBatchBytes
		}
		if cfg.Import.MaxBatchSnapshots != 0 {
			limits.MaxBatchSnapshots = cfg.Import.MaxBatchSnapshots
		}
	}

	envInt := func(name string, dst *int64) error {
		raw, ok := lookupEnv(name)
		if !ok || strings.TrimSpace(raw) == "" {
			return nil
		}
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer, got %q", anyback.ErrInvalid, name, raw)
		}
		*dst = v
		return nil
	}
	if err := envInt(EnvMaxSingleSnapshotBytes, &limits.MaxSingleBytes); err != nil {
		return anyback.ImportLimits{}, err
	}
	if err := envInt(EnvMaxBatchBytes, &limits.MaxBatchBytes); err != nil {
		return anyback.ImportLimits{}, err
	}
	count := int64(limits.MaxBatchSnapshots)
	if err := envInt(EnvMaxBatchSnapshots, &count); err != nil {
		return anyback.ImportLimits{}, err
	}
	limits.MaxBatchSnapshots = int(count)

	if err := limits.Validate(); err != nil {
		return anyback.ImportLimits{}, err
	}
	return limits, nil
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
func writeToFile(path string, cfg *Config) error {
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
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
