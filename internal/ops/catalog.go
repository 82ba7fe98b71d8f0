package ops

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/catalog"
	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/reorg"
)

// CatalogInput contains parameters for the Catalog operation.
type CatalogInput struct {
	DataRoot string
	Mode     string
	Policy   string // decides whether the hard cap applies while loading
	Dir      string // default: configured catalog dir
	Limit    int    // default: 20, max: 100
	Offset   int
}

// CategorySummary is one category as the reorganizer would see it.
type CategorySummary struct {
	Key       string `json:"key"`
	Dir       string `json:"dir"`
	ID        int    `json:"id,omitempty"`
	Refs      int    `json:"refs"`
	Discarded int    `json:"discarded,omitempty"`
}

// CatalogOutput contains the result of the Catalog operation.
type CatalogOutput struct {
	Dir         string            `json:"dir"`
	Mode        string            `json:"mode"`
	Documents   int               `json:"documents"`
	Refs        int               `json:"refs"`
	Items       []CategorySummary `json:"items"`
	SkipReasons map[string]int    `json:"skip_reasons,omitempty"`
	Pagination  Pagination        `json:"pagination"`
}

// Catalog loads the catalog documents and lists their categories in
// first-seen order without writing anything.
func Catalog(ctx context.Context, cfg *config.Config, log *zap.Logger, input CatalogInput) (*CatalogOutput, error) {
	eff, err := effective(cfg, Overrides{DataRoot: input.DataRoot, Mode: input.Mode, Policy: input.Policy})
	if err != nil {
		return nil, err
	}
	roots, err := RootsFor(eff)
	if err != nil {
		return nil, err
	}
	dir, err := pick(input.Dir, roots.Categories)
	if err != nil {
		return nil, err
	}

	cat, err := loadCatalog(ctx, eff, log, dir)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(input.Limit)
	offset := max(input.Offset, 0)

	cats := cat.Categories()
	items := []CategorySummary{}
	for i := offset; i < len(cats) && len(items) < limit; i++ {
		c := cats[i]
		items = append(items, CategorySummary{
			Key:       c.Key,
			Dir:       reorg.DirName(eff.Mode, eff.CategorySuffix, c),
			ID:        c.ID,
			Refs:      len(c.Refs),
			Discarded: c.Discarded,
		})
	}

	var reasons map[string]int
	for _, s := range cat.Skips {
		if reasons == nil {
			reasons = map[string]int{}
		}
		reasons[s.Reason]++
	}

	return &CatalogOutput{
		Dir:         dir,
		Mode:        eff.Mode,
		Documents:   cat.Documents,
		Refs:        cat.Refs(),
		Items:       items,
		SkipReasons: reasons,
		Pagination:  page(limit, offset, len(items), len(cats)),
	}, nil
}

// loadCatalog applies the hard cap while loading only when the hard_cap
// policy is in effect.
func loadCatalog(ctx context.Context, cfg *config.Config, log *zap.Logger, dir string) (*catalog.Catalog, error) {
	opts := catalog.Options{Log: log}
	if cfg.EffectivePolicy() == config.PolicyHardCap {
		opts.HardCap = cfg.HardCap
	}
	return catalog.LoadDir(ctx, dir, cfg.Mode, opts)
}
