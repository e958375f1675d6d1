package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const platformDarwin = "darwin"

// Application directory name used across all platforms.
const appName = "graphfs"

const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// XDG_CONFIG_HOME is honored everywhere except macOS, which uses
// ~/Library/Application Support/graphfs.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application
// data such as stored tokens.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultTokenDir is where device-flow tokens live when token_dir is unset.
func DefaultTokenDir() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, "tokens")
}

// DefaultConfigPath returns the config file used when neither GRAPHFS_CONFIG
// nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
