package reorg

import (
	"fmt"

	"github.com/hpungsan/logsort/internal/catalog"
	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
)

// Policy decides which refs of a category are written to the output tree.
type Policy interface {
	Name() string
	// Admit returns the prefix of cat.Refs to copy. A nil result excludes
	// the category.
	Admit(cat *catalog.Category) []catalog.Ref
}

// HardCap admits the first N refs in catalog order.
type HardCap struct {
	N int
}

func (p HardCap) Name() string { return config.PolicyHardCap }

func (p HardCap) Admit(cat *catalog.Category) []catalog.Ref {
	if p.N > 0 && len(cat.Refs) > p.N {
		return cat.Refs[:p.N]
	}
	return cat.Refs
}

// Importance admits whole categories whose size reaches Threshold and
// excludes the others.
type Importance struct {
	Total         int
	NumCategories int
	Divisor       float64
}

// Threshold is (Total / NumCategories) / Divisor.
func (p Importance) Threshold() float64 {
	return float64(p.Total) / float64(p.NumCategories) / p.Divisor
}

// Important reports whether a category with members refs is kept.
func (p Importance) Important(members int) bool {
	return float64(members) >= p.Threshold()
}

func (p Importance) Name() string { return config.PolicyImportance }

func (p Importance) Admit(cat *catalog.Category) []catalog.Ref {
	if !p.Important(len(cat.Refs)) {
		return nil
	}
	return cat.Refs
}

// Unconditional admits every ref.
type Unconditional struct{}

func (Unconditional) Name() string { return config.PolicyUnconditional }

func (Unconditional) Admit(cat *catalog.Category) []catalog.Ref { return cat.Refs }

// PolicyFor builds the configured policy. total is the number of eligible
// log files in the index.
func PolicyFor(cfg *config.Config, total int) (Policy, error) {
	switch name := cfg.EffectivePolicy(); name {
	case config.PolicyHardCap:
		// The cap only binds JSON catalogs.
		if cfg.Mode == config.ModeXML {
			return HardCap{}, nil
		}
		return HardCap{N: cfg.HardCap}, nil
	case config.PolicyImportance:
		if cfg.NumCategories <= 0 || cfg.ImportanceDivisor <= 0 {
			return nil, errors.NewInvalidRequest("importance policy needs positive num_categories and importance_divisor")
		}
		return Importance{Total: total, NumCategories: cfg.NumCategories, Divisor: cfg.ImportanceDivisor}, nil
	case config.PolicyUnconditional:
		return Unconditional{}, nil
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown policy: %s", name))
	}
}
