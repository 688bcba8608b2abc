package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "acctsync"

// File names inside the config and data directories.
const (
	configFileName = "config.toml"
	dbFileName     = "acctsync.db"
	pidFileName    = "acctsync.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/acctsync).
// On macOS, uses ~/Library/Application Support/acctsync per Apple guidelines.
// Other platforms fall back to ~/.config/acctsync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application data
// (the sync database, logs, the pid file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/acctsync).
// On macOS, uses ~/Library/Application Support/acctsync (macOS convention
// collapses config and data into one directory).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// linuxDataDir returns the XDG-compliant data directory for Linux.
func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither ACCTSYNC_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultDBPath returns the default SQLite database location.
func DefaultDBPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return dbFileName
	}

	return filepath.Join(dir, dbFileName)
}

// DefaultPIDPath returns the pid file written by `serve` and read by
// `reload`.
func DefaultPIDPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return pidFileName
	}

	return filepath.Join(dir, pidFileName)
}
