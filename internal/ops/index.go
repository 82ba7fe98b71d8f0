package ops

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/logindex"
)

// IndexInput contains parameters for the Index operation.
type IndexInput struct {
	DataRoot string
	Mode     string // picks the eligible extension
	Root     string // default: configured raw tree
	Name     string // optional: look up one log
}

// IndexOutput contains the result of the Index operation.
type IndexOutput struct {
	Root       string               `json:"root"`
	Extension  string               `json:"extension"`
	Layout     string               `json:"layout"`
	Files      int                  `json:"files"`
	Eligible   int                  `json:"eligible"`
	Collisions []logindex.Collision `json:"collisions"`
	Unmarked   []string             `json:"unmarked,omitempty"`
	Match      *logindex.LogFile    `json:"match,omitempty"`
}

// Index scans the raw tree and reports what it holds.
func Index(ctx context.Context, cfg *config.Config, log *zap.Logger, input IndexInput) (*IndexOutput, error) {
	eff, err := effective(cfg, Overrides{DataRoot: input.DataRoot, Mode: input.Mode})
	if err != nil {
		return nil, err
	}
	roots, err := RootsFor(eff)
	if err != nil {
		return nil, err
	}
	root, err := pick(input.Root, roots.Raw)
	if err != nil {
		return nil, err
	}

	ix, err := scanIndex(ctx, eff, log, root)
	if err != nil {
		return nil, err
	}

	out := &IndexOutput{
		Root:       root,
		Extension:  eff.Extension(),
		Layout:     eff.Layout,
		Files:      ix.Len(),
		Eligible:   ix.Total,
		Collisions: ix.Collisions,
		Unmarked:   ix.Unmarked,
	}
	if out.Collisions == nil {
		out.Collisions = []logindex.Collision{}
	}
	if input.Name != "" {
		f, ok := ix.Lookup(input.Name)
		if !ok {
			return nil, errors.NewNotFound(input.Name)
		}
		out.Match = &f
	}
	return out, nil
}

func scanIndex(ctx context.Context, cfg *config.Config, log *zap.Logger, root string) (*logindex.Index, error) {
	return logindex.Scan(ctx, root, logindex.Options{
		Ext:       cfg.Extension(),
		Layout:    cfg.Layout,
		Collision: cfg.CollisionPolicy,
		Log:       log,
	})
}
