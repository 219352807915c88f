// Package xdg resolves XDG Base Directory paths for psqlm.
// Configuration lives under the config dir; REPL history lives under the
// state dir. Both are created private (0700) on first use.
package xdg

import (
	"os"
	"path/filepath"
)

const appDir = "psqlm"

// ConfigDir returns the XDG config directory for psqlm.
// It falls back to ~/.config/psqlm when XDG_CONFIG_HOME is unset.
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the XDG state directory for psqlm.
// It falls back to ~/.local/state/psqlm when XDG_STATE_HOME is unset.
func StateDir() (string, error) {
	return resolve("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// HistoryFile returns the path of the persistent REPL history.
func HistoryFile() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.txt"), nil
}

func resolve(env, fallback string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, fallback)
	}
	dir := filepath.Join(base, appDir)
	if err := os.MkdirAll(dir, 0o700); err != nil { // private dir
		return "", err
	}
	return dir, nil
}
