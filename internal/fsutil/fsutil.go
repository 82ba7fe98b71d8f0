package fsutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hpungsan/logsort/internal/errors"
)

const (
	DirMode  os.FileMode = 0o755
	FileMode os.FileMode = 0o644
)

// Exists reports whether path exists (file or directory).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// SubDirs returns the names of the immediate subdirectories of dir, sorted.
func SubDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Files returns the names of the regular files directly inside dir, sorted.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stem returns name without its last extension ("a.b.txt" -> "a.b").
// Names without a dot are returned unchanged.
func Stem(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// CopyFile copies src to dst byte-for-byte, replacing dst if it exists.
// The data is written to a temp file in dst's directory and renamed into place,
// so a crash never leaves a truncated dst. A symlink at dst is refused.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFound(src)
		}
		return 0, err
	}
	defer in.Close()

	n, err := WriteAtomic(dst, in)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", src, err)
	}
	return n, nil
}

// WriteAtomic streams r into path through a temp file + rename.
func WriteAtomic(path string, r io.Reader) (int64, error) {
	f, err := CreateAtomic(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Abort()
		return n, err
	}
	return n, f.Commit()
}

// AtomicFile is a temp file that replaces its target path on Commit.
type AtomicFile struct {
	*os.File
	path string
	tmp  string
}

// CreateAtomic opens a temp file next to path. Callers must Commit or Abort.
func CreateAtomic(path string) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, err
	}

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("destination is a symlink: " + path)
	}

	tmpPath := filepath.Join(dir, TempName(""))
	f, err := OpenNoFollow(tmpPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, FileMode)
	if err != nil {
		return nil, err
	}
	return &AtomicFile{File: f, path: path, tmp: tmpPath}, nil
}

// Commit flushes the temp file and renames it over the target.
func (a *AtomicFile) Commit() error {
	if err := a.Sync(); err != nil {
		a.Abort()
		return err
	}
	if err := a.Close(); err != nil {
		_ = os.Remove(a.tmp)
		return err
	}
	if err := os.Rename(a.tmp, a.path); err != nil {
		_ = os.Remove(a.tmp)
		return err
	}
	return nil
}

// Abort discards the temp file. The target is left untouched.
func (a *AtomicFile) Abort() {
	_ = a.Close()
	_ = os.Remove(a.tmp)
}

// TempName returns a hidden, random file name with the given suffix.
func TempName(suffix string) string {
	randBytes := make([]byte, 8)
	_, _ = rand.Read(randBytes)
	return ".tmp_" + hex.EncodeToString(randBytes) + suffix
}
