// Package security checks paths taken from configuration before the
// process opens files with them.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyPath is returned for an empty path.
var ErrEmptyPath = errors.New("file path cannot be empty")

// forbidden holds characters that have no business in a cache path. A query
// string ("?") would also be read by the SQLite driver as connection options.
const forbidden = ";&|$`(){}<>!?\n\r"

// ValidateFilePath rejects paths with shell metacharacters and returns the
// cleaned absolute path. Symlinks of existing files are resolved; a path
// that does not exist yet is returned cleaned.
func ValidateFilePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if i := strings.IndexAny(path, forbidden); i >= 0 {
		return "", fmt.Errorf("file path contains forbidden character %q: %s", path[i], path)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cleanPath, nil
		}
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}
	return resolved, nil
}
