package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns the data directory: the override if non-empty,
// otherwise ~/.bjm.
func BaseDir(override string) string {
	if override != "" {
		return override
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bjm")
}

// ConfigPath returns the global config file path (always under ~/.bjm,
// since the config is what may point at an alternate data dir).
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bjm", "config.toml")
}

// IdentityPath returns the identity/profile file path.
func IdentityPath(base string) string {
	return filepath.Join(base, "identity.toml")
}

// DBPath returns the chat database path.
func DBPath(base string) string {
	return filepath.Join(base, "chat.db")
}

// LogPath returns the client log file path.
func LogPath(base string) string {
	return filepath.Join(base, "logs", "bjm.log")
}

// EnsureDir creates the data directory tree with proper permissions.
func EnsureDir(base string) error {
	dirs := []string{
		base,
		filepath.Join(base, "logs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
