package ops

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/archive"
	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
)

// ArchiveOutput is the result of the archive operations. Per-item failures
// are listed in Failures; the operation itself still succeeds.
type ArchiveOutput struct {
	archive.Result
	Source string `json:"source"`
	Target string `json:"target"`
}

// archiveOutput drops the aggregated per-item error once its items are in
// res.Failures. Cancellation and whole-operation errors are returned.
func archiveOutput(res *archive.Result, err error, source, target string) (*ArchiveOutput, error) {
	if err != nil {
		if res == nil || len(res.Failures) == 0 || errors.Is(err, errors.ErrCancelled) || errors.Is(err, errors.ErrMergeFailed) {
			return nil, err
		}
	}
	return &ArchiveOutput{Result: *res, Source: source, Target: target}, nil
}

// CompressInput contains parameters for the Compress operation.
type CompressInput struct {
	DataRoot string
	Source   string // default: configured raw tree
	Target   string // default: configured compressed tree
}

// Compress backs the raw tree up as one zip per log file.
func Compress(ctx context.Context, cfg *config.Config, log *zap.Logger, input CompressInput) (*ArchiveOutput, error) {
	_, roots, err := archiveRoots(cfg, input.DataRoot)
	if err != nil {
		return nil, err
	}
	src, err := pick(input.Source, roots.Raw)
	if err != nil {
		return nil, err
	}
	dst, err := pick(input.Target, roots.Compressed)
	if err != nil {
		return nil, err
	}
	res, err := archive.New(log).CompressTree(ctx, src, dst)
	return archiveOutput(res, err, src, dst)
}

// DecompressInput contains parameters for the Decompress operation.
type DecompressInput struct {
	DataRoot string
	Source   string // default: configured compressed tree
	Target   string // default: configured raw tree
}

// Decompress extracts every archive of the compressed tree into the raw tree.
func Decompress(ctx context.Context, cfg *config.Config, log *zap.Logger, input DecompressInput) (*ArchiveOutput, error) {
	_, roots, err := archiveRoots(cfg, input.DataRoot)
	if err != nil {
		return nil, err
	}
	src, err := pick(input.Source, roots.Compressed)
	if err != nil {
		return nil, err
	}
	dst, err := pick(input.Target, roots.Raw)
	if err != nil {
		return nil, err
	}
	res, err := archive.New(log).DecompressTree(ctx, src, dst)
	return archiveOutput(res, err, src, dst)
}

// DecompressSingleInput contains parameters for the DecompressSingle operation.
type DecompressSingleInput struct {
	DataRoot string
	Path     string // directory to extract <Path>.zip into; default: configured catalog dir
}

// DecompressSingle extracts <path>.zip into <path>.
func DecompressSingle(ctx context.Context, cfg *config.Config, log *zap.Logger, input DecompressSingleInput) (*ArchiveOutput, error) {
	_, roots, err := archiveRoots(cfg, input.DataRoot)
	if err != nil {
		return nil, err
	}
	path, err := pick(input.Path, roots.Categories)
	if err != nil {
		return nil, err
	}
	res, err := archive.New(log).DecompressSingle(ctx, path)
	if err != nil {
		return nil, err
	}
	return &ArchiveOutput{Result: *res, Source: path + ".zip", Target: path}, nil
}

// SplitInput contains parameters for the Split operation.
type SplitInput struct {
	DataRoot string
	Source   string // default: configured raw tree
	Target   string // default: configured split tree
	PartSize int64  // default: configured part_size_bytes
}

// Split writes each raw subdirectory as a zip stream cut into fixed-size parts.
func Split(ctx context.Context, cfg *config.Config, log *zap.Logger, input SplitInput) (*ArchiveOutput, error) {
	eff, roots, err := archiveRoots(cfg, input.DataRoot)
	if err != nil {
		return nil, err
	}
	src, err := pick(input.Source, roots.Raw)
	if err != nil {
		return nil, err
	}
	dst, err := pick(input.Target, roots.Split)
	if err != nil {
		return nil, err
	}
	size := input.PartSize
	if size == 0 {
		size = eff.PartSizeBytes
	}
	res, err := archive.New(log).CreateSplitParts(ctx, src, dst, size)
	return archiveOutput(res, err, src, dst)
}

// MergeInput contains parameters for the Merge operation.
type MergeInput struct {
	DataRoot string
	Source   string // default: configured split tree
	Target   string // default: configured merged tree
	// Fallback regenerates broken splits from Raw and merges again.
	Fallback bool
	Raw      string // default: configured raw tree
}

// Merge reassembles split parts into whole archives.
func Merge(ctx context.Context, cfg *config.Config, log *zap.Logger, input MergeInput) (*ArchiveOutput, error) {
	eff, roots, err := archiveRoots(cfg, input.DataRoot)
	if err != nil {
		return nil, err
	}
	src, err := pick(input.Source, roots.Split)
	if err != nil {
		return nil, err
	}
	dst, err := pick(input.Target, roots.Merged)
	if err != nil {
		return nil, err
	}

	codec := archive.New(log)
	if !input.Fallback {
		res, err := codec.MergeSplitParts(ctx, src, dst)
		return archiveOutput(res, err, src, dst)
	}
	raw, err := pick(input.Raw, roots.Raw)
	if err != nil {
		return nil, err
	}
	res, err := codec.MergeWithFallback(ctx, raw, src, dst, eff.PartSizeBytes)
	return archiveOutput(res, err, src, dst)
}

func archiveRoots(cfg *config.Config, dataRoot string) (*config.Config, *Roots, error) {
	eff, err := effective(cfg, Overrides{DataRoot: dataRoot})
	if err != nil {
		return nil, nil, err
	}
	roots, err := RootsFor(eff)
	if err != nil {
		return nil, nil, err
	}
	return eff, roots, nil
}
