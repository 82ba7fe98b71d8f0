package ops

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/archive"
	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/db"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/fsutil"
)

// Materialization steps.
const (
	StepMerge              = "merge"
	StepDecompressMerged   = "decompress_merged"
	StepDecompress         = "decompress"
	StepCompress           = "compress"
	StepDecompressCatalogs = "decompress_categories"
)

// Step is one archive action taken before indexing.
type Step struct {
	Name     string `json:"name"`
	Archives int    `json:"archives"`
	Entries  int    `json:"entries"`
	Failures int    `json:"failures,omitempty"`
}

type materializer struct {
	codec *archive.Codec
	cfg   *config.Config
	roots *Roots
	log   *zap.Logger

	steps []Step
	skips []db.Skip
}

// run brings the raw tree and the catalog dir into existence from whatever
// archived form is present. Failures become skips; only cancellation stops it.
func (m *materializer) run(ctx context.Context) error {
	r := m.roots

	if !fsutil.IsDir(r.Raw) && m.cfg.UseSplitStorage {
		res, err := m.codec.MergeWithFallback(ctx, r.Raw, r.Split, r.Merged, m.cfg.PartSizeBytes)
		if err := m.record(StepMerge, r.Split, res, err); err != nil {
			return err
		}
		if fsutil.IsDir(r.Merged) {
			res, err := m.codec.DecompressTree(ctx, r.Merged, r.Raw)
			if err := m.record(StepDecompressMerged, r.Merged, res, err); err != nil {
				return err
			}
		}
	}

	switch raw, compressed := fsutil.IsDir(r.Raw), fsutil.IsDir(r.Compressed); {
	case !raw && compressed:
		res, err := m.codec.DecompressTree(ctx, r.Compressed, r.Raw)
		if err := m.record(StepDecompress, r.Compressed, res, err); err != nil {
			return err
		}
	case raw && !compressed:
		res, err := m.codec.CompressTree(ctx, r.Raw, r.Compressed)
		if err := m.record(StepCompress, r.Raw, res, err); err != nil {
			return err
		}
	}

	if !fsutil.IsDir(r.Categories) && fsutil.Exists(r.Categories+".zip") {
		res, err := m.codec.DecompressSingle(ctx, r.Categories)
		if err := m.record(StepDecompressCatalogs, r.Categories+".zip", res, err); err != nil {
			return err
		}
	}
	return nil
}

func (m *materializer) record(name, item string, res *archive.Result, err error) error {
	if errors.Is(err, errors.ErrCancelled) {
		return err
	}

	step := Step{Name: name}
	if res != nil {
		step.Archives = res.Archives
		step.Entries = res.Entries
		for _, f := range res.Failures {
			m.skips = append(m.skips, db.Skip{Stage: StageArchive, Item: f.Path, Reason: ReasonArchiveError, Detail: f.Message})
		}
		step.Failures = len(res.Failures)
	}
	if err != nil && (res == nil || len(res.Failures) == 0 || errors.Is(err, errors.ErrMergeFailed)) {
		reason := ReasonArchiveError
		if errors.Is(err, errors.ErrMergeFailed) {
			reason = ReasonMergeFailed
		}
		m.skips = append(m.skips, db.Skip{Stage: StageArchive, Item: item, Reason: reason, Detail: err.Error()})
		step.Failures++
	}
	if err != nil {
		m.log.Warn("materialization step failed", zap.String("step", name), zap.Error(err))
	}
	m.steps = append(m.steps, step)
	return nil
}
