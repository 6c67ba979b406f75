package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"anyback-go/internal/anyback"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	disabled := false
	original := &Config{
		BaseDir: "/home/user/.local/share/anyback",
		LogDir:  "/home/user/.local/share/anyback/log",
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: "/backup/vault"},
			{Type: "s3", Name: "offsite", S3Bucket: "archives", S3Prefix: "spaces/", S3Region: "eu-west-1"},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  "/home/user/.local/share/anyback/keys/anyback.pub",
			PrivateKeyPath: "/home/user/.local/share/anyback/keys/anyback.key",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/anyback/db"},
		Space:    SpaceConfig{Type: "memory"},
		Import: ImportConfig{
			MaxSingleSnapshotBytes: 1024,
			MaxBatchBytes:          4096,
			MaxBatchSnapshots:      8,
			SnapshotTransport:      &disabled,
		},
		Backup:  BackupConfig{Workers: 6, Prefix: "nightly", Dir: "/backups"},
		Inspect: InspectConfig{MaxCache: "64m"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if len(got.Vaults) != 2 {
		t.Fatalf("len(Vaults) = %d, want 2", len(got.Vaults))
	}
	if got.Vaults[0].FSVaultRoot != "/backup/vault" {
		t.Errorf("Vault.FSVaultRoot = %q, want %q", got.Vaults[0].FSVaultRoot, "/backup/vault")
	}
	if got.Vaults[1].S3Bucket != "archives" {
		t.Errorf("Vault.S3Bucket = %q, want %q", got.Vaults[1].S3Bucket, "archives")
	}
	if got.Encryption.Type != "age" {
		t.Errorf("Encryption.Type = %q, want %q", got.Encryption.Type, "age")
	}
	if got.Space.Type != "memory" {
		t.Errorf("Space.Type = %q, want %q", got.Space.Type, "memory")
	}
	if got.Import.MaxBatchSnapshots != 8 {
		t.Errorf("Import.MaxBatchSnapshots = %d, want %d", got.Import.MaxBatchSnapshots, 8)
	}
	if got.Import.SnapshotTransportEnabled() {
		t.Error("Import.SnapshotTransportEnabled() = true, want false")
	}
	if got.Backup.Workers != 6 || got.Backup.Prefix != "nightly" {
		t.Errorf("Backup = %+v, want workers 6 prefix nightly", got.Backup)
	}
	if got.Inspect.MaxCache != "64m" {
		t.Errorf("Inspect.MaxCache = %q, want %q", got.Inspect.MaxCache, "64m")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/anyback")

	if cfg.BaseDir != "/data/anyback" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/anyback")
	}
	if cfg.LogDir != "/data/anyback/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/anyback/log")
	}
	if cfg.Encryption.PublicKeyPath != "/data/anyback/keys/anyback.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/anyback/keys/anyback.pub")
	}
	if cfg.Encryption.Type != "none" {
		t.Errorf("Encryption.Type = %q, want %q", cfg.Encryption.Type, "none")
	}
	if cfg.Database.DataDir != "/data/anyback/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/anyback/db")
	}
	if !cfg.Import.SnapshotTransportEnabled() {
		t.Error("Import.SnapshotTransportEnabled() = false, want true")
	}
}

func TestConfig_Vault(t *testing.T) {
	cfg := &Config{Vaults: []VaultConfig{{Type: "memory", Name: "a"}, {Type: "memory", Name: "b"}}}

	if v, err := cfg.Vault(""); err != nil || v.Name != "a" {
		t.Errorf("Vault(\"\") = %q, %v; want a", v.Name, err)
	}
	if v, err := cfg.Vault("b"); err != nil || v.Name != "b" {
		t.Errorf("Vault(b) = %q, %v; want b", v.Name, err)
	}
	if _, err := cfg.Vault("missing"); err == nil {
		t.Error("Vault(missing) expected error")
	}
	if _, err := (&Config{}).Vault(""); err == nil {
		t.Error("Vault() with no vaults expected error")
	}
}

func TestResolveImportLimits(t *testing.T) {
	env := func(vars map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := vars[k]
			return v, ok
		}
	}

	tests := []struct {
		name    string
		cfg     *Config
		env     map[string]string
		want    anyback.ImportLimits
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  &Config{},
			want: anyback.DefaultImportLimits(),
		},
		{
			name: "config section",
			cfg:  &Config{Import: ImportConfig{MaxSingleSnapshotBytes: 100, MaxBatchBytes: 200, MaxBatchSnapshots: 3}},
			want: anyback.ImportLimits{MaxSingleBytes: 100, MaxBatchBytes: 200, MaxBatchSnapshots: 3},
		},
		{
			name: "environment wins over config",
			cfg:  &Config{Import: ImportConfig{MaxSingleSnapshotBytes: 100, MaxBatchBytes: 200}},
			env: map[string]string{
				EnvMaxSingleSnapshotBytes: "150",
				EnvMaxBatchSnapshots:      "7",
			},
			want: anyback.ImportLimits{MaxSingleBytes: 150, MaxBatchBytes: 200, MaxBatchSnapshots: 7},
		},
		{
			name:    "zero from environment",
			cfg:     &Config{},
			env:     map[string]string{EnvMaxBatchBytes: "0"},
			wantErr: true,
		},
		{
			name:    "not a number",
			cfg:     &Config{},
			env:     map[string]string{EnvMaxBatchSnapshots: "many"},
			wantErr: true,
		},
		{
			name:    "batch smaller than single",
			cfg:     &Config{},
			env:     map[string]string{EnvMaxSingleSnapshotBytes: "4096", EnvMaxBatchBytes: "1024"},
			wantErr: true,
		},
		{
			name:    "negative in config",
			cfg:     &Config{Import: ImportConfig{MaxBatchSnapshots: -1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveImportLimits(tt.cfg, env(tt.env))
			if tt.wantErr {
				if !errors.Is(err, anyback.ErrInvalid) {
					t.Fatalf("ResolveImportLimits() error = %v, want ErrInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveImportLimits() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveImportLimits() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "anyback.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "anyback.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "anyback.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/anyback.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
