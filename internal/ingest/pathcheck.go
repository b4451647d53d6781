package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveTablePath resolves name (absolute, or relative to baseDir) and checks
// that the result is an existing regular file inside baseDir. Symlinks are
// resolved before the containment check.
func ResolveTablePath(baseDir, name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	absInput, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid input path: %w", err)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	resolvedInput, err := filepath.EvalSymlinks(absInput)
	if err != nil {
		return "", fmt.Errorf("cannot resolve input path: %w", err)
	}
	resolvedBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("cannot resolve base directory: %w", err)
	}

	rel, err := filepath.Rel(resolvedBase, resolvedInput)
	if err != nil {
		return "", fmt.Errorf("cannot compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("table %s is outside %s", name, baseDir)
	}

	info, err := os.Stat(resolvedInput)
	if err != nil {
		return "", fmt.Errorf("table does not exist: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("table path is a directory: %s", resolvedInput)
	}
	return resolvedInput, nil
}

// ListTables returns the *.csv files directly under dir, sorted by name.
func ListTables(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return matches, nil
}
