// Package archive materializes and backs up the raw log tree as zip archives:
// one single-entry zip per log file, or one zip stream per directory cut into
// fixed-size parts for storage that limits file sizes.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/fsutil"
	"github.com/hpungsan/logsort/internal/logging"
)

// Result summarizes one archive operation.
type Result struct {
	Archives int       `json:"archives"`
	Entries  int       `json:"entries"`
	Bytes    int64     `json:"bytes"`
	Parts    int       `json:"parts,omitempty"`
	Merged   int       `json:"merged,omitempty"`
	Copied   int       `json:"copied,omitempty"`
	Skipped  []string  `json:"skipped,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure is one item the operation abandoned.
type Failure struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Codec runs archive operations. The zero value is not usable; use New.
type Codec struct {
	log *zap.Logger
}

// New returns a Codec that logs through log (nil means discard).
func New(log *zap.Logger) *Codec {
	return &Codec{log: logging.OrNop(log).Named("archive")}
}

// failures accumulates per-item errors without stopping the walk.
type failures struct {
	res  *Result
	errs *multierror.Error
	log  *zap.Logger
}

func (f *failures) add(path string, err error) {
	f.res.Failures = append(f.res.Failures, Failure{Path: path, Message: err.Error()})
	f.errs = multierror.Append(f.errs, errors.NewArchive(path, err))
	f.log.Warn("archive item failed", zap.String("path", path), zap.Error(err))
}

func (f *failures) err() error {
	return f.errs.ErrorOrNil()
}

// CompressTree writes one single-entry zip per file: for every immediate
// subdirectory <sub> of sourceRoot, each file <stem>.<ext> becomes
// archiveRoot/<sub>/<stem>.zip. Existing archives are overwritten.
//
// Items that fail are reported in Result.Failures and in the returned error;
// the rest of the tree is still processed.
func (c *Codec) CompressTree(ctx context.Context, sourceRoot, archiveRoot string) (*Result, error) {
	subs, err := listRoot(sourceRoot)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	fails := &failures{res: res, log: c.log}
	for _, sub := range subs {
		srcDir := filepath.Join(sourceRoot, sub)
		dstDir := filepath.Join(archiveRoot, sub)
		if err := os.MkdirAll(dstDir, fsutil.DirMode); err != nil {
			fails.add(dstDir, err)
			continue
		}

		files, err := fsutil.Files(srcDir)
		if err != nil {
			fails.add(srcDir, err)
			continue
		}
		for _, name := range files {
			if err := ctx.Err(); err != nil {
				return res, errors.NewCancelled("compress")
			}
			src := filepath.Join(srcDir, name)
			dst := filepath.Join(dstDir, fsutil.Stem(name)+".zip")
			n, err := writeZip(dst, []string{src})
			if err != nil {
				fails.add(src, err)
				continue
			}
			res.Archives++
			res.Entries++
			res.Bytes += n
		}
	}

	c.log.Info("compressed tree",
		zap.String("source", sourceRoot),
		zap.String("archive", archiveRoot),
		zap.Int("archives", res.Archives),
		zap.Int("failures", len(res.Failures)))
	return res, fails.err()
}

// DecompressTree extracts every entry of every zip in each archive
// subdirectory <sub> into sourceRoot/<sub>. Files that are not .zip
// archives (split parts included) are ignored.
func (c *Codec) DecompressTree(ctx context.Context, archiveRoot, sourceRoot string) (*Result, error) {
	subs, err := listRoot(archiveRoot)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	fails := &failures{res: res, log: c.log}
	for _, sub := range subs {
		srcDir := filepath.Join(archiveRoot, sub)
		dstDir := filepath.Join(sourceRoot, sub)

		files, err := fsutil.Files(srcDir)
		if err != nil {
			fails.add(srcDir, err)
			continue
		}
		for _, name := range files {
			if !strings.EqualFold(filepath.Ext(name), ".zip") {
				continue
			}
			if err := ctx.Err(); err != nil {
				return res, errors.NewCancelled("decompress")
			}
			zipPath := filepath.Join(srcDir, name)
			entries, n, err := extractZip(zipPath, dstDir)
			if err != nil {
				fails.add(zipPath, err)
				continue
			}
			res.Archives++
			res.Entries += entries
			res.Bytes += n
		}
	}

	c.log.Info("decompressed tree",
		zap.String("archive", archiveRoot),
		zap.String("target", sourceRoot),
		zap.Int("archives", res.Archives),
		zap.Int("entries", res.Entries),
		zap.Int("failures", len(res.Failures)))
	return res, fails.err()
}

// DecompressSingle extracts path+".zip" into the directory path.
func (c *Codec) DecompressSingle(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("decompress")
	}
	zipPath := path + ".zip"
	if !fsutil.Exists(zipPath) {
		return nil, errors.NewNotFound(zipPath)
	}
	entries, n, err := extractZip(zipPath, path)
	if err != nil {
		return nil, errors.NewArchive(zipPath, err)
	}
	c.log.Info("decompressed archive", zap.String("archive", zipPath), zap.Int("entries", entries))
	return &Result{Archives: 1, Entries: entries, Bytes: n}, nil
}

func listRoot(root string) ([]string, error) {
	if !fsutil.IsDir(root) {
		return nil, errors.NewNotFound(root)
	}
	return fsutil.SubDirs(root)
}

// writeZip deflates srcs into a new zip at dst, entries named by base name.
// It returns the uncompressed byte count.
func writeZip(dst string, srcs []string) (int64, error) {
	out, err := fsutil.CreateAtomic(dst)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(out)
	total, err := addFiles(zw, srcs)
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		out.Abort()
		return total, err
	}
	return total, out.Commit()
}

func addFiles(zw *zip.Writer, srcs []string) (int64, error) {
	var total int64
	for _, src := range srcs {
		n, err := addFile(zw, src)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func addFile(zw *zip.Writer, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, err
	}
	hdr.Name = filepath.Base(src)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, f)
}

// extractZip writes every entry of zipPath under dstDir, overwriting files
// that already exist. Entries that would land outside dstDir are rejected.
func extractZip(zipPath, dstDir string) (int, int64, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	if err := os.MkdirAll(dstDir, fsutil.DirMode); err != nil {
		return 0, 0, err
	}

	var entries int
	var total int64
	for _, f := range r.File {
		target, err := entryPath(dstDir, f.Name)
		if err != nil {
			return entries, total, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, fsutil.DirMode); err != nil {
				return entries, total, err
			}
			continue
		}

		n, err := extractEntry(f, target)
		total += n
		if err != nil {
			return entries, total, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		entries++
	}
	return entries, total, nil
}

func extractEntry(f *zip.File, target string) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return fsutil.WriteAtomic(target, rc)
}

// entryPath resolves a zip entry name under dir.
func entryPath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.NewInvalidRequest("zip entry escapes destination: " + name)
	}
	return filepath.Join(dir, clean), nil
}
