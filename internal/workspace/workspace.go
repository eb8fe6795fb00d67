// Package workspace resolves the directories agentai works in: the working
// root every call is confined to, and the data directory holding the audit
// trail.
//
// Default working root: the current directory (configurable via config or
// AGENTAI_WORKDIR env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace holds the canonical working root.
type Workspace struct {
	// Root is absolute and symlink-free, so prefix checks against it are exact.
	Root string
}

// New resolves root into a canonical working root. It expands ~, makes the
// path absolute, creates the directory if it does not exist, and resolves
// symlinks. root must end up being a directory.
func New(root string) (*Workspace, error) {
	if root == "" {
		root = "."
	}
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving working root %q: %w", root, err)
	}
	if err := os.MkdirAll(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating working root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing working root %s: %w", resolved, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("checking working root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working root %s is not a directory", canonical)
	}
	return &Workspace{Root: canonical}, nil
}

// EnsureDataDir resolves dir and creates it with 0700 permissions, since it
// holds the audit trail.
func EnsureDataDir(dir string) (string, error) {
	resolved, err := resolvePath(dir)
	if err != nil {
		return "", fmt.Errorf("resolving data dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(resolved, 0700); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", resolved, err)
	}
	return resolved, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
