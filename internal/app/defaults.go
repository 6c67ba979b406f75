package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"anyback-go/internal/config"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - ANYBACK_CONFIG_PATH: config file location (default: ~/.config/anyback.toml)
//   - ANYBACK_HOME: base directory for anyback data (default: ~/.local/share/anyback)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// LoadConfig reads the config file named by the defaults. When it does not
// exist the built-in configuration under the default base dir is used, so
// commands work before `anyback config init`.
func LoadConfig() (*config.Config, error) {
	defaults, err := GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	path := defaults["config_path"]
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.NewConfig(defaults["base_dir"]), nil
	}
	cfg, err := config.ReadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// getConfigPath returns the config file path, checking ANYBACK_CONFIG_PATH env var first,
// then falling back to the default ~/.config/anyback.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("ANYBACK_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "anyback.toml"), nil
}

// getBaseDir returns the base directory for anyback data, checking ANYBACK_HOME env var first,
// then falling back to the XDG default ~/.local/share/anyback.
func getBaseDir() (string, error) {
	if path := os.Getenv("ANYBACK_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "anyback"), nil
}
