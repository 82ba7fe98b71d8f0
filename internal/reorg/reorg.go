// Package reorg writes the category tree: one directory per catalog category
// holding byte copies of the logs its admitted refs resolve to.
package reorg

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/logsort/internal/catalog"
	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/fsutil"
	"github.com/hpungsan/logsort/internal/logging"
	"github.com/hpungsan/logsort/internal/logindex"
)

// LabelPrefix is stripped from JSON labels to form directory names.
const LabelPrefix = "category."

// Skip reasons.
const (
	ReasonUnresolved  = "unresolved"
	ReasonNotAdmitted = "not_admitted"
	ReasonCopyFailed  = "copy_failed"
)

// Skip is a ref that produced no output file.
type Skip struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Outcome is the per-category result.
type Outcome struct {
	Category string `json:"category"`
	Dir      string `json:"dir,omitempty"`
	Refs     int    `json:"refs"`
	Admitted int    `json:"admitted"`
	Copied   int    `json:"copied"`
	Bytes    int64  `json:"bytes"`
	// Excluded is set when the policy dropped the whole category.
	Excluded bool   `json:"excluded,omitempty"`
	Skips    []Skip `json:"skips,omitempty"`
}

// Result aggregates all outcomes in catalog order.
type Result struct {
	OutputDir string    `json:"output_dir"`
	Policy    string    `json:"policy"`
	Outcomes  []Outcome `json:"outcomes"`
	Admitted  int       `json:"admitted"`
	Copied    int       `json:"copied"`
	Skipped   int       `json:"skipped"`
	Excluded  int       `json:"excluded"`
	Bytes     int64     `json:"bytes"`
}

// Options configures a Reorganizer.
type Options struct {
	Mode    string
	Suffix  string // XML directory suffix
	Policy  Policy
	Workers int
	Log     *zap.Logger
}

// Reorganizer joins a catalog with an index and writes the output tree.
type Reorganizer struct {
	opts Options
	log  *zap.Logger
}

// New returns a Reorganizer. A nil policy admits everything.
func New(opts Options) *Reorganizer {
	if opts.Policy == nil {
		opts.Policy = Unconditional{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Reorganizer{opts: opts, log: logging.OrNop(opts.Log).Named("reorg")}
}

// DirName returns the output directory name for a category.
func DirName(mode, suffix string, cat *catalog.Category) string {
	if mode == config.ModeXML {
		if suffix != "" {
			suffix = fsutil.SanitizeName(suffix)
		}
		return strconv.Itoa(cat.ID) + suffix
	}
	return fsutil.SanitizeName(strings.ReplaceAll(cat.Key, LabelPrefix, ""))
}

// Run writes every category of cat into outputDir. The catalog and index are
// only read. Per-file failures are recorded in the outcomes; only
// cancellation or an unusable outputDir stop the run.
func (r *Reorganizer) Run(ctx context.Context, cat *catalog.Catalog, ix *logindex.Index, outputDir string) (*Result, error) {
	if err := os.MkdirAll(outputDir, fsutil.DirMode); err != nil {
		return nil, err
	}

	cats := cat.Categories()
	outcomes := make([]Outcome, len(cats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, c := range cats {
		g.Go(func() error {
			o, err := r.category(gctx, c, ix, outputDir)
			outcomes[i] = o
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{OutputDir: outputDir, Policy: r.opts.Policy.Name(), Outcomes: outcomes}
	for _, o := range outcomes {
		res.Admitted += o.Admitted
		res.Copied += o.Copied
		res.Skipped += len(o.Skips)
		res.Bytes += o.Bytes
		if o.Excluded {
			res.Excluded++
		}
	}

	r.log.Info("reorganized logs",
		zap.String("output", outputDir),
		zap.String("policy", res.Policy),
		zap.Int("categories", len(outcomes)),
		zap.Int("excluded", res.Excluded),
		zap.Int("copied", res.Copied),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (r *Reorganizer) category(ctx context.Context, cat *catalog.Category, ix *logindex.Index, outputDir string) (Outcome, error) {
	o := Outcome{Category: cat.Key, Refs: len(cat.Refs)}

	admitted := r.opts.Policy.Admit(cat)
	if admitted == nil && len(cat.Refs) > 0 {
		o.Excluded = true
		r.log.Debug("category excluded by policy", zap.String("category", cat.Key), zap.Int("refs", len(cat.Refs)))
		return o, nil
	}
	o.Admitted = len(admitted)
	for _, ref := range cat.Refs[len(admitted):] {
		o.Skips = append(o.Skips, Skip{Item: ref.LogName, Reason: ReasonNotAdmitted, Detail: r.opts.Policy.Name()})
	}

	o.Dir = DirName(r.opts.Mode, r.opts.Suffix, cat)
	dir := filepath.Join(outputDir, o.Dir)
	if err := os.MkdirAll(dir, fsutil.DirMode); err != nil {
		for _, ref := range admitted {
			o.Skips = append(o.Skips, Skip{Item: ref.LogName, Reason: ReasonCopyFailed, Detail: err.Error()})
		}
		r.log.Warn("cannot create category directory", zap.String("dir", dir), zap.Error(err))
		return o, nil
	}

	for _, ref := range admitted {
		if err := ctx.Err(); err != nil {
			return o, errors.NewCancelled("reorganize")
		}
		f, ok := ix.Lookup(ref.LogName)
		if !ok {
			o.Skips = append(o.Skips, Skip{Item: ref.LogName, Reason: ReasonUnresolved, Detail: ref.Document})
			continue
		}
		n, err := fsutil.CopyFile(f.Path, filepath.Join(dir, f.Name))
		if err != nil {
			o.Skips = append(o.Skips, Skip{Item: ref.LogName, Reason: ReasonCopyFailed, Detail: err.Error()})
			r.log.Warn("copy failed", zap.String("log", f.Path), zap.Error(err))
			continue
		}
		o.Copied++
		o.Bytes += n
	}

	r.log.Debug("category written",
		zap.String("category", cat.Key),
		zap.String("dir", o.Dir),
		zap.Int("copied", o.Copied),
		zap.Int("skipped", len(o.Skips)))
	return o, nil
}
