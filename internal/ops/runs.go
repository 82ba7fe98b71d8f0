package ops

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hpungsan/logsort/internal/db"
	"github.com/hpungsan/logsort/internal/errors"
)

// ListRunsInput contains parameters for the ListRuns operation.
type ListRunsInput struct {
	Limit  int // default: 20, max: 100
	Offset int // default: 0
}

// ListRunsOutput contains the result of the ListRuns operation.
type ListRunsOutput struct {
	Items      []db.Run   `json:"items"`
	Pagination Pagination `json:"pagination"`
	Sort       string     `json:"sort"`
}

// ListRuns retrieves recorded runs, newest first.
func ListRuns(database *sql.DB, input ListRunsInput) (*ListRunsOutput, error) {
	limit := clampLimit(input.Limit)
	offset := max(input.Offset, 0)

	runs, total, err := db.ListRuns(database, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if runs == nil {
		runs = []db.Run{}
	}

	return &ListRunsOutput{
		Items:      runs,
		Pagination: page(limit, offset, len(runs), total),
		Sort:       "started_at_desc",
	}, nil
}

// FetchRunInput contains parameters for the FetchRun operation.
type FetchRunInput struct {
	ID           string
	IncludeSkips bool   // list individual skips, not only counts
	Reason       string // optional filter for the skip list
}

// FetchRunOutput contains the result of the FetchRun operation.
type FetchRunOutput struct {
	db.Run
	CategoryRows []db.CategoryRow `json:"category_rows"`
	SkipReasons  map[string]int   `json:"skip_reasons"`
	Skips        []db.Skip        `json:"skips,omitempty"`
}

// FetchRun retrieves one run with its per-category rows and skip counts.
func FetchRun(database *sql.DB, input FetchRunInput) (*FetchRunOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	run, err := db.GetRun(database, id)
	if err != nil {
		return nil, err
	}
	rows, err := db.ListCategories(database, id)
	if err != nil {
		return nil, err
	}
	counts, err := db.CountSkips(database, id)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []db.CategoryRow{}
	}

	out := &FetchRunOutput{Run: *run, CategoryRows: rows, SkipReasons: counts}
	if input.IncludeSkips || input.Reason != "" {
		out.Skips, err = db.ListSkips(database, id, input.Reason)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PurgeRunsInput contains parameters for the PurgeRuns operation.
type PurgeRunsInput struct {
	OlderThanDays *int // optional, only purge runs started more than N days ago
}

// PurgeRunsOutput contains the result of the PurgeRuns operation.
type PurgeRunsOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// PurgeRuns permanently deletes recorded runs.
func PurgeRuns(ctx context.Context, database *sql.DB, input PurgeRunsInput) (*PurgeRunsOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("purge")
	}

	before := int64(math.MaxInt64)
	if input.OlderThanDays != nil {
		if *input.OlderThanDays < 0 {
			return nil, errors.NewInvalidRequest("older_than_days must be >= 0")
		}
		before = time.Now().AddDate(0, 0, -*input.OlderThanDays).Unix()
	}

	count, err := db.PurgeRuns(database, before)
	if err != nil {
		return nil, err
	}

	return &PurgeRunsOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, olderThanDays *int) string {
	if count == 0 {
		return "No runs to purge"
	}

	runWord := "run"
	if count > 1 {
		runWord = "runs"
	}

	msg := fmt.Sprintf("Permanently deleted %d %s", count, runWord)

	if olderThanDays != nil {
		msg += fmt.Sprintf(" (started more than %d days ago)", *olderThanDays)
	}

	return msg
}
