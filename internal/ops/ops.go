package ops

import (
	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pipeline stages, as recorded on skips.
const (
	StageArchive    = "archive"
	StageIndex      = "index"
	StageCatalog    = "catalog"
	StageReorganize = "reorganize"
)

// Skip reasons produced by the pipeline itself.
const (
	ReasonArchiveError  = "archive_error"
	ReasonMergeFailed   = "merge_failed"
	ReasonNameCollision = "name_collision"
	ReasonUnmarked      = "unmarked_repository"
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// page clamps limit and offset and builds the pagination block for a slice
// of n items out of total.
func page(limit, offset, n, total int) Pagination {
	return Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+n < total,
		Total:   total,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Overrides are per-call replacements for configured values. Empty fields
// keep the configured value.
type Overrides struct {
	DataRoot string
	Mode     string
	Policy   string
	Workers  int
}

// effective returns a validated copy of cfg with the overrides applied.
func effective(cfg *config.Config, o Overrides) (*config.Config, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	eff := *cfg
	if o.DataRoot != "" {
		eff.DataRoot = o.DataRoot
	}
	if o.Mode != "" {
		eff.Mode = o.Mode
	}
	if o.Policy != "" {
		eff.Policy = o.Policy
	}
	if o.Workers > 0 {
		eff.Workers = o.Workers
	}
	if err := eff.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	if err := ValidateRoot(eff.DataRoot); err != nil {
		return nil, err
	}
	return &eff, nil
}
