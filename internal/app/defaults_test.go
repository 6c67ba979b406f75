package app

import (
	"os"
	"path/filepath"
	"testing"

	"anyback-go/internal/config"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("ANYBACK_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("ANYBACK_HOME", "/custom/anyback")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/anyback" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/anyback")
		}
		if defaults["log_dir"] != "/custom/anyback/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/anyback/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("ANYBACK_CONFIG_PATH", "")
		t.Setenv("ANYBACK_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "anyback.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "anyback")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a config file", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("ANYBACK_CONFIG_PATH", filepath.Join(home, "missing.toml"))
		t.Setenv("ANYBACK_HOME", home)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.BaseDir != home || cfg.Database.Type != "sqlite" {
			t.Errorf("LoadConfig() = %+v, want defaults under %s", cfg, home)
		}
	})

	t.Run("reads an existing file", func(t *testing.T) {
		home := t.TempDir()
		path := filepath.Join(home, "anyback.toml")
		want := config.NewConfig(home)
		want.Backup.Workers = 9
		if err := config.Init(path, want); err != nil {
			t.Fatal(err)
		}
		t.Setenv("ANYBACK_CONFIG_PATH", path)
		t.Setenv("ANYBACK_HOME", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Backup.Workers != 9 {
			t.Errorf("Backup.Workers = %d, want 9", cfg.Backup.Workers)
		}
	})

	t.Run("broken file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "anyback.toml")
		if err := os.WriteFile(path, []byte("base_dir = ["), 0644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("ANYBACK_CONFIG_PATH", path)
		if _, err := LoadConfig(); err == nil {
			t.Error("LoadConfig() succeeded on a broken file")
		}
	})
}
