// Package storage provides the engine's persistent local cache: tablebase
// probe results and downloaded asset fingerprints survive restarts in a
// BadgerDB keyspace under the platform data directory.
package storage

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "corvid"

// DataDir returns the platform-specific data directory for the engine.
//   - macOS: ~/Library/Application Support/corvid/
//   - Linux: $XDG_DATA_HOME/corvid/ or ~/.local/share/corvid/
//   - Windows: %APPDATA%/corvid/
func DataDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		baseDir = filepath.Join(homeDir, "Library", "Application Support")

	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(homeDir, "AppData", "Roaming")
		}

	default:
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			baseDir = filepath.Join(homeDir, ".local", "share")
		}
	}

	dataDir := filepath.Join(baseDir, appName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	return dataDir, nil
}

// DatabaseDir returns the directory holding the BadgerDB database.
func DatabaseDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	dbDir := filepath.Join(dataDir, "db")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return "", err
	}
	return dbDir, nil
}

// NetworkDir returns the directory for NNUE network files.
func NetworkDir() (string, error) {
	dataDir, err := DataDir()
	if err != nil {
		return "", err
	}
	netDir := filepath.Join(dataDir, "nnue")
	if err := os.MkdirAll(netDir, 0o755); err != nil {
		return "", err
	}
	return netDir, nil
}
