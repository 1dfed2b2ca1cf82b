package util

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeDir returns the user's home directory
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// FlatsyncConfigPath returns the flatsync configuration directory
func FlatsyncConfigPath() string {
	return filepath.Join(HomeDir(), ".flatsync")
}

// FlatsyncBackupPath returns the directory holding pre-apply backups
func FlatsyncBackupPath() string {
	return filepath.Join(FlatsyncConfigPath(), "backups")
}

// MirrorStatePath returns the per-mirror state directory (manifest, etc.)
// under the given mirror root
func MirrorStatePath(root string) string {
	return filepath.Join(root, ".flatsync")
}

// ExpandPath expands a leading ~ to the user's home directory and returns
// an absolute path. Relative paths are resolved from the working directory.
func ExpandPath(path string) string {
	if path == "~" {
		return HomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		path = filepath.Join(HomeDir(), path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
