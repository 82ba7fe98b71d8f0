package db

import (
	"database/sql"

	"github.com/hpungsan/logsort/internal/errors"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID         string  `json:"id"`
	StartedAt  int64   `json:"started_at"`
	FinishedAt *int64  `json:"finished_at,omitempty"`
	Mode       string  `json:"mode"`
	Policy     string  `json:"policy"`
	DataRoot   string  `json:"data_root"`
	OutputDir  string  `json:"output_dir"`
	Indexed    int     `json:"indexed"`
	Collisions int     `json:"collisions"`
	Categories int     `json:"categories"`
	Admitted   int     `json:"admitted"`
	Copied     int     `json:"copied"`
	Skipped    int     `json:"skipped"`
	Bytes      int64   `json:"bytes"`
	Status     string  `json:"status"`
	Error      *string `json:"error,omitempty"`
}

// Skip is an item a run left out, with the stage that dropped it.
type Skip struct {
	Stage  string `json:"stage"`
	Item   string `json:"item"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// CategoryRow is the stored outcome of one category in a run.
type CategoryRow struct {
	Category string `json:"category"`
	Dir      string `json:"dir,omitempty"`
	Refs     int    `json:"refs"`
	Admitted int    `json:"admitted"`
	Copied   int    `json:"copied"`
	Skipped  int    `json:"skipped"`
	Bytes    int64  `json:"bytes"`
	Excluded bool   `json:"excluded,omitempty"`
}

const runColumns = `id, started_at, finished_at, mode, policy, data_root, output_dir,
	indexed, collisions, categories, admitted, copied, skipped, bytes, status, error`

// InsertRun records a run as it starts.
func InsertRun(db *sql.DB, r *Run) error {
	query := `INSERT INTO runs (` + runColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(query,
		r.ID, r.StartedAt, r.FinishedAt, r.Mode, r.Policy, r.DataRoot, r.OutputDir,
		r.Indexed, r.Collisions, r.Categories, r.Admitted, r.Copied, r.Skipped, r.Bytes,
		r.Status, r.Error,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// FinishRun stores the final counters, status and error of r.
func FinishRun(db *sql.DB, r *Run) error {
	result, err := db.Exec(`
		UPDATE runs SET finished_at = ?, policy = ?, indexed = ?, collisions = ?,
			categories = ?, admitted = ?, copied = ?, skipped = ?, bytes = ?,
			status = ?, error = ?
		WHERE id = ?`,
		r.FinishedAt, r.Policy, r.Indexed, r.Collisions,
		r.Categories, r.Admitted, r.Copied, r.Skipped, r.Bytes,
		r.Status, r.Error, r.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(r.ID)
	}
	return nil
}

// InsertSkips appends skips to a run in one transaction.
func InsertSkips(db *sql.DB, runID string, skips []Skip) error {
	if len(skips) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	// seq continues after the run's last skip so batches can be appended
	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM run_skips WHERE run_id = ?`, runID).Scan(&next); err != nil {
		return errors.NewInternal(err)
	}

	stmt, err := tx.Prepare(`INSERT INTO run_skips (run_id, seq, stage, item, reason, detail) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer stmt.Close()

	for _, s := range skips {
		next++
		if _, err := stmt.Exec(runID, next, s.Stage, s.Item, s.Reason, toNullString(s.Detail)); err != nil {
			return errors.NewInternal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetRun retrieves a run by its ULID.
func GetRun(db *sql.DB, id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// ListRuns returns runs newest first, with the total count for pagination.
func ListRuns(db *sql.DB, limit, offset int) ([]Run, int, error) {
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return runs, total, nil
}

// ListSkips returns a run's skips in insertion order. An empty reason
// returns every reason.
func ListSkips(db *sql.DB, runID, reason string) ([]Skip, error) {
	query := `SELECT stage, item, reason, detail FROM run_skips WHERE run_id = ?`
	args := []any{runID}
	if reason != "" {
		query += ` AND reason = ?`
		args = append(args, reason)
	}
	query += ` ORDER BY seq`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var skips []Skip
	for rows.Next() {
		var s Skip
		var detail sql.NullString
		if err := rows.Scan(&s.Stage, &s.Item, &s.Reason, &detail); err != nil {
			return nil, errors.NewInternal(err)
		}
		s.Detail = detail.String
		skips = append(skips, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return skips, nil
}

// CountSkips returns the number of skips per reason for a run.
func CountSkips(db *sql.DB, runID string) (map[string]int, error) {
	rows, err := db.Query(`SELECT reason, COUNT(*) FROM run_skips WHERE run_id = ? GROUP BY reason`, runID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts[reason] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return counts, nil
}

// InsertCategories stores the per-category outcomes of a run, in order.
func InsertCategories(db *sql.DB, runID string, rows []CategoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO run_categories
		(run_id, seq, category, dir, refs, admitted, copied, skipped, bytes, excluded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer stmt.Close()

	for i, c := range rows {
		_, err := stmt.Exec(runID, i+1, c.Category, toNullString(c.Dir),
			c.Refs, c.Admitted, c.Copied, c.Skipped, c.Bytes, c.Excluded)
		if err != nil {
			return errors.NewInternal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListCategories returns the per-category outcomes of a run in catalog order.
func ListCategories(db *sql.DB, runID string) ([]CategoryRow, error) {
	rows, err := db.Query(`SELECT category, dir, refs, admitted, copied, skipped, bytes, excluded
		FROM run_categories WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []CategoryRow
	for rows.Next() {
		var c CategoryRow
		var dir sql.NullString
		if err := rows.Scan(&c.Category, &dir, &c.Refs, &c.Admitted, &c.Copied, &c.Skipped, &c.Bytes, &c.Excluded); err != nil {
			return nil, errors.NewInternal(err)
		}
		c.Dir = dir.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// PurgeRuns deletes runs started before the given unix time, with their
// skips and category rows, and returns how many runs were removed.
func PurgeRuns(db *sql.DB, before int64) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	defer tx.Rollback()

	// Child rows first; nothing cascades
	for _, table := range []string{"run_skips", "run_categories"} {
		_, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, before)
		if err != nil {
			return 0, errors.NewInternal(err)
		}
	}
	result, err := tx.Exec(`DELETE FROM runs WHERE started_at < ?`, before)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var finished sql.NullInt64
	var errText sql.NullString
	err := s.Scan(
		&r.ID, &r.StartedAt, &finished, &r.Mode, &r.Policy, &r.DataRoot, &r.OutputDir,
		&r.Indexed, &r.Collisions, &r.Categories, &r.Admitted, &r.Copied, &r.Skipped, &r.Bytes,
		&r.Status, &errText,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	if errText.Valid {
		r.Error = &errText.String
	}
	return &r, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
