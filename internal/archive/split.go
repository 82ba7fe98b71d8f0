package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/fsutil"
)

// A split item <item> is a directory holding one spanned zip cut into parts
// <item>.z01, <item>.z02, ... with the last part named <item>.zip. An item
// small enough for one part is a plain <item>.zip.

// CreateSplitParts bundles the files of every subdirectory <sub> of
// sourceRoot into one zip stream and writes it as fixed-size parts under
// splitRoot/<sub>. Subdirectories whose split directory already exists are
// skipped and listed in Result.Skipped.
func (c *Codec) CreateSplitParts(ctx context.Context, sourceRoot, splitRoot string, partSize int64) (*Result, error) {
	if partSize <= 0 {
		return nil, errors.NewInvalidRequest("part size must be positive")
	}
	subs, err := listRoot(sourceRoot)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(splitRoot, fsutil.DirMode); err != nil {
		return nil, errors.NewArchive(splitRoot, err)
	}

	res := &Result{}
	fails := &failures{res: res, log: c.log}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return res, errors.NewCancelled("split")
		}
		outDir := filepath.Join(splitRoot, sub)
		if fsutil.Exists(outDir) {
			res.Skipped = append(res.Skipped, sub)
			c.log.Debug("split exists, skipping", zap.String("item", sub))
			continue
		}

		parts, n, err := splitDir(filepath.Join(sourceRoot, sub), splitRoot, sub, partSize)
		if err != nil {
			fails.add(filepath.Join(sourceRoot, sub), err)
			continue
		}
		res.Archives++
		res.Parts += parts
		res.Bytes += n
	}

	c.log.Info("created split parts",
		zap.String("source", sourceRoot),
		zap.String("split", splitRoot),
		zap.Int("items", res.Archives),
		zap.Int("parts", res.Parts),
		zap.Int("skipped", len(res.Skipped)))
	return res, fails.err()
}

// splitDir writes the parts into a hidden staging directory and renames it
// to splitRoot/item, so an interrupted split never looks complete.
func splitDir(srcDir, splitRoot, item string, partSize int64) (int, int64, error) {
	names, err := fsutil.Files(srcDir)
	if err != nil {
		return 0, 0, err
	}
	srcs := make([]string, len(names))
	for i, name := range names {
		srcs[i] = filepath.Join(srcDir, name)
	}

	staging := filepath.Join(splitRoot, fsutil.TempName("_"+item))
	if err := os.Mkdir(staging, fsutil.DirMode); err != nil {
		return 0, 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	// The whole zip is written first; its directory is patched before cutting.
	tmp, err := fsutil.OpenNoFollow(filepath.Join(staging, ".whole.zip"), os.O_CREATE|os.O_EXCL|os.O_RDWR, fsutil.FileMode)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	zw := zip.NewWriter(tmp)
	n, err := addFiles(zw, srcs)
	if err != nil {
		return 0, n, err
	}
	if err := zw.Close(); err != nil {
		return 0, n, err
	}
	parts, err := writeSpanned(tmp, staging, item, partSize)
	if err != nil {
		return 0, n, err
	}
	_ = tmp.Close()
	if err := os.Remove(tmp.Name()); err != nil {
		return 0, n, err
	}

	if err := os.Rename(staging, filepath.Join(splitRoot, item)); err != nil {
		return 0, n, err
	}
	committed = true
	return parts, n, nil
}

// partWriter spreads a byte stream over numbered files of at most size
// bytes. When sizes is set, part i holds exactly sizes[i] bytes.
type partWriter struct {
	dir   string
	base  string
	size  int64
	sizes []int64
	cur   *os.File
	used  int64
	parts int
	last  string
}

func (w *partWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if w.cur == nil {
			if err := w.next(); err != nil {
				return written, err
			}
		}
		chunk := p
		limit := w.limit()
		if room := limit - w.used; int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		n, err := w.cur.Write(chunk)
		written += n
		w.used += int64(n)
		if err != nil {
			return written, err
		}
		p = p[n:]
		if w.used == limit {
			if err := w.cur.Close(); err != nil {
				return written, err
			}
			w.cur = nil
		}
	}
	return written, nil
}

func (w *partWriter) limit() int64 {
	if i := w.parts - 1; i >= 0 && i < len(w.sizes) {
		return w.sizes[i]
	}
	return w.size
}

func (w *partWriter) next() error {
	w.parts++
	w.last = filepath.Join(w.dir, partName(w.base, w.parts))
	f, err := fsutil.OpenNoFollow(w.last, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.FileMode)
	if err != nil {
		return err
	}
	w.cur = f
	w.used = 0
	return nil
}

// Close closes the open part and renames the last part to <base>.zip.
func (w *partWriter) Close() error {
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return err
		}
		w.cur = nil
	}
	if w.parts == 0 {
		return nil
	}
	return os.Rename(w.last, filepath.Join(w.dir, w.base+".zip"))
}

func partName(base string, n int) string {
	return fmt.Sprintf("%s.z%02d", base, n)
}

// MergeSplitParts reassembles every split item under splitRoot into
// mergedRoot/<item>/<stem>.zip. An item made of a single part is copied
// as is; multi-part items are joined in part order, spanned directories are
// rebased to single-disk offsets and the result is checked to be a readable
// zip.
func (c *Codec) MergeSplitParts(ctx context.Context, splitRoot, mergedRoot string) (*Result, error) {
	items, err := listRoot(splitRoot)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	fails := &failures{res: res, log: c.log}
	for _, item := range items {
		if strings.HasPrefix(item, ".tmp_") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, errors.NewCancelled("merge")
		}
		itemDir := filepath.Join(splitRoot, item)
		sets, err := partSets(itemDir)
		if err != nil {
			fails.add(itemDir, err)
			continue
		}
		if len(sets) == 0 {
			fails.add(itemDir, fmt.Errorf("no final .zip part"))
			continue
		}

		for _, set := range sets {
			dst := filepath.Join(mergedRoot, item, set.stem+".zip")
			if len(set.parts) == 1 {
				n, err := fsutil.CopyFile(set.parts[0], dst)
				if err != nil {
					fails.add(set.parts[0], err)
					continue
				}
				res.Copied++
				res.Archives++
				res.Parts++
				res.Bytes += n
				continue
			}

			n, err := concatParts(set.parts, dst)
			if err != nil {
				fails.add(filepath.Join(itemDir, set.stem+".zip"), err)
				continue
			}
			res.Merged++
			res.Archives++
			res.Parts += len(set.parts)
			res.Bytes += n
		}
	}

	c.log.Info("merged split parts",
		zap.String("split", splitRoot),
		zap.String("merged", mergedRoot),
		zap.Int("merged", res.Merged),
		zap.Int("copied", res.Copied),
		zap.Int("failures", len(res.Failures)))
	return res, fails.err()
}

// MergeWithFallback merges the split parts; if that fails it regenerates the
// split parts of the failed items from the unsplit sourceRoot and merges once
// more. A second failure is a MERGE_FAILED error.
func (c *Codec) MergeWithFallback(ctx context.Context, sourceRoot, splitRoot, mergedRoot string, partSize int64) (*Result, error) {
	res, err := c.MergeSplitParts(ctx, splitRoot, mergedRoot)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, errors.ErrCancelled) {
		return res, err
	}
	c.log.Warn("merge failed, regenerating split parts", zap.Error(err))

	if res != nil {
		c.dropFailedItems(sourceRoot, splitRoot, res.Failures)
	}
	if _, splitErr := c.CreateSplitParts(ctx, sourceRoot, splitRoot, partSize); splitErr != nil {
		if errors.Is(splitErr, errors.ErrCancelled) {
			return nil, splitErr
		}
		return nil, errors.NewMergeFailed(splitErr)
	}

	res, err = c.MergeSplitParts(ctx, splitRoot, mergedRoot)
	if err != nil {
		return res, errors.NewMergeFailed(err)
	}
	return res, nil
}

// dropFailedItems removes the split directories of failed items that can be
// rebuilt from sourceRoot, so CreateSplitParts does not skip them.
func (c *Codec) dropFailedItems(sourceRoot, splitRoot string, fails []Failure) {
	seen := map[string]bool{}
	for _, f := range fails {
		rel, err := filepath.Rel(splitRoot, f.Path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		item := strings.Split(rel, string(filepath.Separator))[0]
		if seen[item] || !fsutil.IsDir(filepath.Join(sourceRoot, item)) {
			continue
		}
		seen[item] = true
		if err := os.RemoveAll(filepath.Join(splitRoot, item)); err != nil {
			c.log.Warn("cannot remove broken split", zap.String("item", item), zap.Error(err))
		}
	}
}

type partSet struct {
	stem  string
	parts []string
}

// partSets groups the files of an item directory by stem. Each set ends with
// its .zip part and must have contiguous numbered parts .z01...zNN before it.
func partSets(dir string) ([]partSet, error) {
	names, err := fsutil.Files(dir)
	if err != nil {
		return nil, err
	}

	numbered := map[string]map[int]string{}
	var finals []string
	for _, name := range names {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		if strings.EqualFold(ext, ".zip") {
			finals = append(finals, stem)
			continue
		}
		if len(ext) < 3 || (ext[1] != 'z' && ext[1] != 'Z') {
			continue
		}
		n, err := strconv.Atoi(ext[2:])
		if err != nil || n < 1 {
			continue
		}
		if numbered[stem] == nil {
			numbered[stem] = map[int]string{}
		}
		numbered[stem][n] = filepath.Join(dir, name)
	}

	sets := make([]partSet, 0, len(finals))
	for _, stem := range finals {
		nums := numbered[stem]
		keys := make([]int, 0, len(nums))
		for n := range nums {
			keys = append(keys, n)
		}
		sort.Ints(keys)

		parts := make([]string, 0, len(keys)+1)
		for i, n := range keys {
			if n != i+1 {
				return nil, fmt.Errorf("%s: missing part %s", dir, partName(stem, i+1))
			}
			parts = append(parts, nums[n])
		}
		parts = append(parts, filepath.Join(dir, stem+".zip"))
		sets = append(sets, partSet{stem: stem, parts: parts})
	}
	return sets, nil
}

// concatParts joins parts into dst. Parts without a spanning marker are a
// plain cut of one zip and are concatenated as they are.
func concatParts(parts []string, dst string) (int64, error) {
	spanned, err := isSpanned(parts[0])
	if err != nil {
		return 0, err
	}
	out, err := fsutil.CreateAtomic(dst)
	if err != nil {
		return 0, err
	}

	var total int64
	bases := make([]int64, len(parts))
	for i, p := range parts {
		var skip int64
		if spanned && i == 0 {
			skip = int64(len(spanSig))
		}
		bases[i] = total - skip
		n, err := appendFile(out, p, skip)
		total += n
		if err != nil {
			out.Abort()
			return total, err
		}
	}
	if spanned {
		if err := unspan(out.File, total, bases); err != nil {
			out.Abort()
			return total, fmt.Errorf("spanned archive: %w", err)
		}
	}

	if _, err := zip.NewReader(out.File, total); err != nil {
		out.Abort()
		return total, fmt.Errorf("merged archive is not a valid zip: %w", err)
	}
	return total, out.Commit()
}

func appendFile(w io.Writer, path string, skip int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.Seek(skip, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(w, f)
}
