package config

import (
	"os"
	"path/filepath"
)

const appDir = "historykit"

// DefaultDataDir returns where Pebble data lives when dataDir is unset.
// Order: $XDG_DATA_HOME/historykit, /var/lib/historykit, the macOS or
// Windows per-user application directory, ~/.historykit, and ./data when no
// home directory is known.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if isDir("/var/lib") {
		return filepath.Join("/var/lib", appDir)
	}
	if lib := filepath.Join(home, "Library"); isDir(lib) {
		return filepath.Join(lib, "Application Support", "HistoryKit")
	}
	if appData := filepath.Join(home, "AppData"); isDir(appData) {
		return filepath.Join(appData, "Local", "HistoryKit")
	}
	return filepath.Join(home, "."+appDir)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
