// Package paths resolves the default data locations for mod files, prefixes
// and the local manifest, honoring the XDG base-directory variables.
package paths

import (
	"os"
	"path/filepath"
)

// DataRoot returns the root data directory.
func DataRoot() string {
	// Check environment variable first
	if dataDir := os.Getenv("CONVOY_DATA_DIR"); dataDir != "" {
		return dataDir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "convoy")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "convoy")
	}

	// Fallback to temp directory
	return filepath.Join(os.TempDir(), "convoy")
}

// DefaultModDir returns where the multiplayer mod files are synced to.
func DefaultModDir() string {
	return filepath.Join(DataRoot(), "mod")
}

// DefaultPrefixDir returns the default compatibility prefix location.
func DefaultPrefixDir() string {
	return filepath.Join(DataRoot(), "prefix")
}

// DefaultGameDir returns where the game installation is expected.
func DefaultGameDir() string {
	return filepath.Join(DataRoot(), "game")
}

// ManifestPath returns the local manifest location for a given mod dir.
// Kept next to the files it describes so moving the mod dir moves its state.
func ManifestPath(modDir string) string {
	return filepath.Join(modDir, ".convoy-manifest.json")
}
