package ops

import (
	"database/sql"

	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/report"
)

// Report formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// ReportInput contains parameters for the Report operation.
type ReportInput struct {
	ID     string
	Format string // markdown (default) or html
}

// ReportOutput contains the result of the Report operation.
type ReportOutput struct {
	ID      string `json:"id"`
	Format  string `json:"format"`
	Content string `json:"content"`
}

// Report renders a recorded run.
func Report(database *sql.DB, input ReportInput) (*ReportOutput, error) {
	format := input.Format
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatHTML {
		return nil, errors.NewInvalidRequest("format must be markdown or html")
	}

	fetched, err := FetchRun(database, FetchRunInput{ID: input.ID})
	if err != nil {
		return nil, err
	}
	r := &report.Report{Run: fetched.Run, Categories: fetched.CategoryRows, SkipCounts: fetched.SkipReasons}

	out := &ReportOutput{ID: fetched.ID, Format: format}
	if format == FormatHTML {
		out.Content, err = report.HTML(r)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		return out, nil
	}
	out.Content = report.Markdown(r)
	return out, nil
}
