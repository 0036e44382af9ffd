package utils

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanDrivePath canonicalizes a kernel-supplied path into the form drives
// expect: forward slashes, rooted at "/", no trailing slash except for the
// root itself. FUSE transports hand paths in this shape already on POSIX
// platforms; on Windows the host uses backslashes, which are folded here so
// drive implementations never see platform separators.
func CleanDrivePath(p string) string {
	if p == "" {
		return "/"
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// SplitDrivePath splits a cleaned drive path into its parent directory and
// base name. The root splits into ("/", "/").
func SplitDrivePath(p string) (dir, name string) {
	p = CleanDrivePath(p)
	if p == "/" {
		return "/", "/"
	}
	dir, name = path.Split(p)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}
	return dir, name
}

// IsDriveRoot reports whether the cleaned path addresses the mount root.
func IsDriveRoot(p string) bool {
	return CleanDrivePath(p) == "/"
}

// ValidatePath validates that a file path is safe and does not contain
// directory traversal attempts. Used for mount points and configuration
// paths supplied on the command line.
//
// Returns an error if the path contains:
//   - ".." directory traversal sequences
//   - Absolute paths when not expected
//
// Example usage:
//
//	if err := ValidatePath(mountPoint, true); err != nil {
//		return fmt.Errorf("invalid mount point: %w", err)
//	}
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Clean the path to resolve any . or .. elements
	cleanPath := filepath.Clean(path)

	// Check for directory traversal attempts
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	// Check if path is absolute when not allowed
	if !allowAbsolute && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}

// SecureJoin safely joins path elements and ensures the result stays within
// the base directory. Unlike filepath.Join, this function validates that the
// result doesn't escape the base through directory traversal.
//
// Example usage:
//
//	lockPath, err := SecureJoin(stateDir, mountID+".lock")
//	if err != nil {
//		return fmt.Errorf("invalid lock path: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)

	// Join all elements
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	// Validate the result is within base
	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
