// Package pathutil confines file access to a set of allowed directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned for paths that resolve outside every
// allowed directory.
var ErrOutsideAllowed = errors.New("pathutil: path outside allowed directories")

// RedactPath shortens a path to .../<parent>/<basename> for messages that
// leave the process, e.g. "/home/ana/sims/run3/artifacts.arrow" becomes
// ".../run3/artifacts.arrow".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	base := filepath.Base(cleaned)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// Resolve cleans path, makes it absolute and resolves symlinks in every
// existing component. It returns the resolved path if that lies inside one
// of allowedDirs (after the same resolution), ErrOutsideAllowed otherwise.
// The file itself need not exist.
func Resolve(path string, allowedDirs []string) (string, error) {
	switch {
	case path == "":
		return "", fmt.Errorf("invalid path: empty")
	case strings.ContainsRune(path, '\x00'):
		return "", fmt.Errorf("invalid path: contains null byte")
	case len(allowedDirs) == 0:
		return "", fmt.Errorf("%w: none configured", ErrOutsideAllowed)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	resolved, err := evalExisting(abs)
	if err != nil {
		return "", err
	}

	for _, dir := range allowedDirs {
		dirAbs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		dirResolved, err := evalExisting(dirAbs)
		if err != nil {
			continue
		}
		if within(resolved, dirResolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideAllowed, RedactPath(abs))
}

// evalExisting resolves symlinks on the longest existing prefix of path and
// appends the rest unchanged.
func evalExisting(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(path)
	if parent == path {
		return "", fmt.Errorf("cannot resolve %s", RedactPath(path))
	}
	resolvedParent, err := evalExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(os.PathSeparator))+string(os.PathSeparator))
}
