// Package discovery finds usage JSONL files under the configured data
// directories.
//
// Directories are walked recursively; every regular file ending in
// ".jsonl" is reported, whatever its depth or name. Files whose name is a
// UUID carry it as SessionID.
//
// Example usage:
//
//	d := discovery.New([]string{"~/.claude/projects"}, logger.Default())
//	files, err := d.Discover()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, f := range files {
//	    fmt.Printf("%s (%d bytes)\n", f.Path, f.Size)
//	}
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Logger defines the logging interface used by the discovery package.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// File represents a discovered usage file.
type File struct {
	// Path is the path to the JSONL file.
	Path string

	// Root is the configured data directory the file was found under.
	Root string

	// SessionID is the UUID file name without extension, or empty when the
	// name is not a UUID.
	SessionID string

	// Size is the file size in bytes.
	Size int64

	// ModTime is the last modification time.
	ModTime int64 // Unix timestamp
}

// Discoverer finds usage files.
type Discoverer interface {
	// Discover walks every configured directory and returns the JSONL
	// files found, sorted by path.
	//
	// Missing directories are skipped. ErrNoDataDirs is returned when
	// none of the directories exist.
	Discover() ([]File, error)

	// Dirs returns the expanded data directories that currently exist.
	Dirs() []string
}

type discoverer struct {
	baseDirs []string
	logger   Logger
}

// New creates a new Discoverer instance.
//
// Parameters:
//   - baseDirs: Data directories to walk (e.g., ~/.claude/projects)
//   - logger: Logger instance for diagnostic messages
func New(baseDirs []string, logger Logger) Discoverer {
	expanded := make([]string, 0, len(baseDirs))
	for _, dir := range baseDirs {
		if dir = strings.TrimSpace(dir); dir != "" {
			expanded = append(expanded, ExpandHome(dir))
		}
	}
	return &discoverer{
		baseDirs: expanded,
		logger:   logger,
	}
}

// Discover implements Discoverer.Discover.
func (d *discoverer) Discover() ([]File, error) {
	var all []File
	found := 0

	for _, dir := range d.baseDirs {
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				d.logger.Debug("directory not found, skipping", "path", dir)
				continue
			}
			return nil, fmt.Errorf("failed to stat directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, dir)
		}
		found++

		files, err := d.walk(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan directory %s: %w", dir, err)
		}
		all = append(all, files...)
	}

	if found == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDataDirs, strings.Join(d.baseDirs, ", "))
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })

	d.logger.Debug("discovery complete", "dirs", found, "files", len(all))
	return all, nil
}

// Dirs implements Discoverer.Dirs.
func (d *discoverer) Dirs() []string {
	var dirs []string
	for _, dir := range d.baseDirs {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// walk collects JSONL files below root. Unreadable subdirectories are
// logged and skipped.
func (d *discoverer) walk(root string) ([]File, error) {
	files := make([]File, 0, 16)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			d.logger.Warn("failed to scan path", "path", path, "error", err)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		if !strings.HasSuffix(entry.Name(), ".jsonl") {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("failed to get file info", "path", path, "error", err)
			return nil
		}

		f := File{
			Path:    path,
			Root:    root,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		}
		if id := strings.TrimSuffix(entry.Name(), ".jsonl"); isValidSessionID(id) {
			f.SessionID = id
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.logger.Debug("scanned data directory", "path", root, "files_found", len(files))
	return files, nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	return filepath.Join(homeDir, path[2:])
}

// isValidSessionID performs basic validation on session ID format.
//
// Expected format: UUID (8-4-4-4-12 hex digits with dashes)
// Example: a1b2c3d4-e5f6-7890-abcd-ef1234567890.
func isValidSessionID(id string) bool {
	if len(id) != 36 {
		return false
	}

	if id[8] != '-' || id[13] != '-' || id[18] != '-' || id[23] != '-' {
		return false
	}

	for i, c := range id {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			continue
		}
		if !isHexDigit(c) {
			return false
		}
	}

	return true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'f') ||
		(r >= 'A' && r <= 'F')
}
