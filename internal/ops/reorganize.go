package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/archive"
	"github.com/hpungsan/logsort/internal/catalog"
	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/db"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/logging"
	"github.com/hpungsan/logsort/internal/logindex"
	"github.com/hpungsan/logsort/internal/reorg"
)

// ReorganizeInput contains parameters for the Reorganize operation.
type ReorganizeInput struct {
	DataRoot string
	Mode     string
	Policy   string
	Workers  int
	// SkipMaterialize uses the raw tree and catalog dir as they are.
	SkipMaterialize bool
	// IncludeOutcomes adds the per-category outcomes to the output.
	IncludeOutcomes bool
}

// ReorganizeOutput contains the result of the Reorganize operation.
type ReorganizeOutput struct {
	RunID       string          `json:"run_id"`
	Status      string          `json:"status"`
	Mode        string          `json:"mode"`
	Policy      string          `json:"policy"`
	OutputDir   string          `json:"output_dir"`
	Steps       []Step          `json:"steps,omitempty"`
	Indexed     int             `json:"indexed"`
	Collisions  int             `json:"collisions"`
	Categories  int             `json:"categories"`
	Excluded    int             `json:"excluded"`
	Admitted    int             `json:"admitted"`
	Copied      int             `json:"copied"`
	Skipped     int             `json:"skipped"`
	Bytes       int64           `json:"bytes"`
	SkipReasons map[string]int  `json:"skip_reasons,omitempty"`
	Outcomes    []reorg.Outcome `json:"outcomes,omitempty"`
}

// Reorganize runs the whole pipeline (materialize, index, catalog,
// reorganize) and records it in the run ledger. A failed run is recorded
// with its error before the error is returned.
func Reorganize(ctx context.Context, database *sql.DB, cfg *config.Config, log *zap.Logger, input ReorganizeInput) (*ReorganizeOutput, error) {
	eff, err := effective(cfg, Overrides{
		DataRoot: input.DataRoot,
		Mode:     input.Mode,
		Policy:   input.Policy,
		Workers:  input.Workers,
	})
	if err != nil {
		return nil, err
	}
	roots, err := RootsFor(eff)
	if err != nil {
		return nil, err
	}

	id, err := newRunID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	log = logging.OrNop(log).With(zap.String("run", id))

	run := &db.Run{
		ID:        id,
		StartedAt: time.Now().Unix(),
		Mode:      eff.Mode,
		Policy:    eff.EffectivePolicy(),
		DataRoot:  eff.DataRoot,
		OutputDir: roots.Output,
		Status:    db.StatusRunning,
	}
	if err := db.InsertRun(database, run); err != nil {
		return nil, err
	}

	p := &pipeline{cfg: eff, roots: roots, log: log, run: run}
	res, runErr := p.execute(ctx, input.SkipMaterialize)

	finished := time.Now().Unix()
	run.FinishedAt = &finished
	run.Skipped = len(p.skips)
	run.Status = db.StatusSucceeded
	if runErr != nil {
		run.Status = db.StatusFailed
		msg := runErr.Error()
		run.Error = &msg
	}
	if err := p.persist(database); err != nil {
		return nil, err
	}
	if runErr != nil {
		log.Error("run failed", zap.Error(runErr))
		return nil, runErr
	}

	out := &ReorganizeOutput{
		RunID:       run.ID,
		Status:      run.Status,
		Mode:        run.Mode,
		Policy:      run.Policy,
		OutputDir:   run.OutputDir,
		Steps:       p.steps,
		Indexed:     run.Indexed,
		Collisions:  run.Collisions,
		Categories:  run.Categories,
		Excluded:    res.Excluded,
		Admitted:    run.Admitted,
		Copied:      run.Copied,
		Skipped:     run.Skipped,
		Bytes:       run.Bytes,
		SkipReasons: countReasons(p.skips),
	}
	if input.IncludeOutcomes {
		out.Outcomes = res.Outcomes
	}
	return out, nil
}

type pipeline struct {
	cfg   *config.Config
	roots *Roots
	log   *zap.Logger
	run   *db.Run

	steps    []Step
	skips    []db.Skip
	outcomes []reorg.Outcome
}

func (p *pipeline) execute(ctx context.Context, skipMaterialize bool) (*reorg.Result, error) {
	if !skipMaterialize {
		m := &materializer{codec: archive.New(p.log), cfg: p.cfg, roots: p.roots, log: p.log}
		err := m.run(ctx)
		p.steps, p.skips = m.steps, append(p.skips, m.skips...)
		if err != nil {
			return nil, err
		}
	}

	ix, err := scanIndex(ctx, p.cfg, p.log, p.roots.Raw)
	if err != nil {
		return nil, err
	}
	p.run.Indexed = ix.Total
	p.run.Collisions = len(ix.Collisions)
	p.indexSkips(ix)

	cat, err := loadCatalog(ctx, p.cfg, p.log, p.roots.Categories)
	if err != nil {
		return nil, err
	}
	p.run.Categories = cat.Len()
	p.catalogSkips(cat)

	policy, err := reorg.PolicyFor(p.cfg, ix.Total)
	if err != nil {
		return nil, err
	}
	res, err := reorg.New(reorg.Options{
		Mode:    p.cfg.Mode,
		Suffix:  p.cfg.CategorySuffix,
		Policy:  policy,
		Workers: p.cfg.Workers,
		Log:     p.log,
	}).Run(ctx, cat, ix, p.roots.Output)
	if err != nil {
		return nil, err
	}

	p.run.Admitted = res.Admitted
	p.run.Copied = res.Copied
	p.run.Bytes = res.Bytes
	p.outcomes = res.Outcomes
	for _, o := range res.Outcomes {
		for _, s := range o.Skips {
			p.skips = append(p.skips, db.Skip{Stage: StageReorganize, Item: s.Item, Reason: s.Reason, Detail: s.Detail})
		}
	}
	return res, nil
}

func (p *pipeline) indexSkips(ix *logindex.Index) {
	for _, c := range ix.Collisions {
		p.skips = append(p.skips, db.Skip{Stage: StageIndex, Item: c.Dropped, Reason: ReasonNameCollision, Detail: "kept " + c.Kept})
	}
	for _, repo := range ix.Unmarked {
		p.skips = append(p.skips, db.Skip{Stage: StageIndex, Item: repo, Reason: ReasonUnmarked})
	}
}

func (p *pipeline) catalogSkips(cat *catalog.Catalog) {
	for _, s := range cat.Skips {
		item, detail := s.Item, s.Detail
		if item == "" {
			item = s.Document
		} else if detail == "" {
			detail = s.Document
		}
		p.skips = append(p.skips, db.Skip{Stage: StageCatalog, Item: item, Reason: s.Reason, Detail: detail})
	}
}

// persist writes the skips, category rows and final counters of the run.
func (p *pipeline) persist(database *sql.DB) error {
	if err := db.InsertSkips(database, p.run.ID, p.skips); err != nil {
		return err
	}
	rows := make([]db.CategoryRow, 0, len(p.outcomes))
	for _, o := range p.outcomes {
		rows = append(rows, db.CategoryRow{
			Category: o.Category,
			Dir:      o.Dir,
			Refs:     o.Refs,
			Admitted: o.Admitted,
			Copied:   o.Copied,
			Skipped:  len(o.Skips),
			Bytes:    o.Bytes,
			Excluded: o.Excluded,
		})
	}
	if err := db.InsertCategories(database, p.run.ID, rows); err != nil {
		return err
	}
	return db.FinishRun(database, p.run)
}

func countReasons(skips []db.Skip) map[string]int {
	if len(skips) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, s := range skips {
		counts[s.Reason]++
	}
	return counts
}

// newRunID generates a new ULID.
func newRunID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
