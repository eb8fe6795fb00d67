// Package pathguard confines caller-supplied paths to a working root.
//
// Resolve is the only way tools turn an untrusted path into a filesystem
// path. It runs before any read, write or process spawn:
//   - a lexical check on the joined, cleaned path (no disk access)
//   - a symlink check on the longest existing ancestor of the target
//
// Targets do not have to exist. Symlinks created after the check (for
// example by a running script) are not covered.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ContainmentError reports a path that resolves outside the working root.
// It carries the caller-supplied path only, never the resolved one.
type ContainmentError struct {
	Path string
}

func (e *ContainmentError) Error() string {
	return fmt.Sprintf("path %q is outside the permitted working directory", e.Path)
}

// IsContainment reports whether err is (or wraps) a *ContainmentError.
func IsContainment(err error) bool {
	var ce *ContainmentError
	return errors.As(err, &ce)
}

// Resolve joins rel onto root and returns the canonical absolute path,
// or a *ContainmentError when the result is not root or below it.
//
// root must be absolute. rel may be empty (root itself), relative, contain
// ".." segments, or be absolute; an absolute rel is checked as-is.
func Resolve(root, rel string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("working root %q is not absolute", root)
	}
	cleanRoot := filepath.Clean(root)

	var target string
	if filepath.IsAbs(rel) {
		target = filepath.Clean(rel)
	} else {
		target = filepath.Join(cleanRoot, rel)
	}
	if !Within(cleanRoot, target) {
		return "", &ContainmentError{Path: rel}
	}

	realRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		return "", fmt.Errorf("resolving working root: %w", err)
	}
	realTarget, err := evalExisting(target)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", rel, err)
	}
	if !Within(realRoot, realTarget) {
		return "", &ContainmentError{Path: rel}
	}
	return realTarget, nil
}

// Within reports whether candidate equals root or lies below it.
// Both paths are compared in cleaned form; no filesystem access happens.
func Within(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(candidate, prefix)
}

// maxLinkHops bounds dangling-symlink chains.
const maxLinkHops = 40

// evalExisting resolves symlinks in the longest existing prefix of path and
// re-attaches the components that do not exist yet. A dangling symlink is
// followed to its target so that a write through it cannot land elsewhere.
func evalExisting(path string) (string, error) {
	existing := path
	var tail []string
	hops := 0
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			return "", err
		}
		if info, lerr := os.Lstat(existing); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
			if hops++; hops > maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links")
			}
			link, rerr := os.Readlink(existing)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(link) {
				link = filepath.Join(filepath.Dir(existing), link)
			}
			existing = filepath.Clean(link)
			continue
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", err
		}
		tail = append(tail, filepath.Base(existing))
		existing = parent
	}
}
