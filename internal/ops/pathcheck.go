package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
)

// Roots are the resolved tree locations of one data root.
type Roots struct {
	Raw        string `json:"raw"`
	Compressed string `json:"compressed"`
	Split      string `json:"split"`
	Merged     string `json:"merged"`
	Categories string `json:"categories"`
	Output     string `json:"output"`
}

// RootsFor resolves and validates every configured tree location.
func RootsFor(cfg *config.Config) (*Roots, error) {
	// Joining with data_root cleans ".." away, so check the raw values first.
	for _, dir := range []string{cfg.RawDir, cfg.CompressedDir, cfg.SplitDir, cfg.MergedDir, cfg.CategoriesDir, cfg.OutputDir} {
		if containsTraversal(dir) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("configured directory %q contains path traversal", dir))
		}
	}
	r := &Roots{
		Raw:        cfg.Path(cfg.RawDir),
		Compressed: cfg.Path(cfg.CompressedDir),
		Split:      cfg.Path(cfg.SplitDir),
		Merged:     cfg.Path(cfg.MergedDir),
		Categories: cfg.Path(cfg.CategoriesDir),
		Output:     cfg.Path(cfg.OutputDir),
	}
	for _, p := range []string{r.Raw, r.Compressed, r.Split, r.Merged, r.Categories, r.Output} {
		if err := ValidateRoot(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// pick returns path, validated, or fallback when path is empty.
func pick(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	if err := ValidateRoot(path); err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}

// ValidateRoot checks a tree location supplied by a caller.
// It rejects:
// 1. Empty paths
// 2. Directory traversal (.. components)
// 3. Symlinks at the location itself
//
// The location does not have to exist.
func ValidateRoot(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewInvalidRequest("path is required")
	}
	if containsTraversal(path) {
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	}
	if strings.ContainsRune(path, 0) {
		return errors.NewInvalidRequest("path must not contain NUL bytes")
	}
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	return nil
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Also check for forward slashes on all platforms (e.g., user input)
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}
