package wb

import (
	"path/filepath"
	"strings"
)

// ValidateFlatPath rejects any relative path that is not a plain flat file
// name: it must be non-empty, not absolute, contain no separators (workbench
// contents are flat), and have no traversal segments.
func ValidateFlatPath(path string) error {
	if path == "" || filepath.IsAbs(path) {
		return ErrInvalidPath
	}
	if strings.ContainsRune(path, '\\') {
		return ErrInvalidPath
	}
	if filepath.Base(path) != path {
		return ErrInvalidPath
	}
	if path == "." || path == ".." {
		return ErrInvalidPath
	}
	return nil
}

// ResolveUnderRoot joins relPath onto root and verifies the result stays
// strictly inside root. Defense in depth behind ValidateFlatPath: even a
// name that survives lexical validation must not resolve outside its area.
func ResolveUnderRoot(root, relPath string) (string, error) {
	full := filepath.Join(root, relPath)
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", ErrSandboxViolation
	}
	return full, nil
}

// validateAreaName checks a top-level area directory name (draft, staging
// areas) for separator and traversal abuse.
func validateAreaName(name string) error {
	if name == "" {
		return ErrInvalidPath
	}
	if strings.ContainsAny(name, string(filepath.Separator)+"\\") {
		return ErrInvalidPath
	}
	if strings.Contains(name, "..") {
		return ErrInvalidPath
	}
	return nil
}
