package config

import (
	"os"
	"path/filepath"
)

// defaultDataDirs returns the default Claude Code project directories.
//
// Searches in order:
// 1. ~/.config/claude/projects/ (new default)
// 2. ~/.claude/projects/ (legacy)
//
// Returns all directories that exist on the filesystem.
func defaultDataDirs() []string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home dir not available
		return []string{"."}
	}

	candidates := []string{
		filepath.Join(homeDir, ".config", "claude", "projects"),
		filepath.Join(homeDir, ".claude", "projects"),
	}

	var dirs []string
	for _, dir := range candidates {
		if _, err := os.Stat(dir); err == nil {
			dirs = append(dirs, dir)
		}
	}

	// Report the legacy location when neither exists yet.
	if len(dirs) == 0 {
		return []string{filepath.Join(homeDir, ".claude", "projects")}
	}

	return dirs
}

// configDir returns ~/.config/quota-monitor.
func configDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(homeDir, ".config", "quota-monitor")
}

// defaultDBPath returns the default database file path.
//
// Returns: ~/.config/quota-monitor/history.db.
func defaultDBPath() string {
	return filepath.Join(configDir(), "history.db")
}

// DefaultPath returns the default configuration file path.
//
// Returns: ~/.config/quota-monitor/config.yaml.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// claudeProjectsDir maps a Claude config directory to its projects
// directory when one exists.
func claudeProjectsDir(dir string) string {
	projects := filepath.Join(dir, "projects")
	if info, err := os.Stat(projects); err == nil && info.IsDir() {
		return projects
	}
	return dir
}
