// Package report renders a recorded run as Markdown or HTML.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/logsort/internal/db"
)

// Report is everything the ledger holds about one run.
type Report struct {
	Run        db.Run
	Categories []db.CategoryRow
	SkipCounts map[string]int
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown renders the report.
func Markdown(r *Report) string {
	var b strings.Builder
	run := r.Run

	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- Status: **%s**\n", run.Status)
	fmt.Fprintf(&b, "- Mode: %s, policy: %s\n", run.Mode, run.Policy)
	fmt.Fprintf(&b, "- Started: %s\n", formatTime(run.StartedAt))
	if run.FinishedAt != nil {
		d := time.Duration(*run.FinishedAt-run.StartedAt) * time.Second
		fmt.Fprintf(&b, "- Finished: %s (%s)\n", formatTime(*run.FinishedAt), d)
	}
	fmt.Fprintf(&b, "- Data root: `%s`\n", run.DataRoot)
	fmt.Fprintf(&b, "- Output: `%s`\n", run.OutputDir)
	fmt.Fprintf(&b, "- Indexed logs: %s (%s name collisions)\n", humanize.Comma(int64(run.Indexed)), humanize.Comma(int64(run.Collisions)))
	fmt.Fprintf(&b, "- Copied: %s of %s admitted, %s\n",
		humanize.Comma(int64(run.Copied)), humanize.Comma(int64(run.Admitted)), humanize.Bytes(uint64(max(run.Bytes, 0))))
	if run.Error != nil {
		fmt.Fprintf(&b, "- Error: %s\n", *run.Error)
	}

	if len(r.Categories) > 0 {
		b.WriteString("\n## Categories\n\n")
		b.WriteString("| Category | Directory | Refs | Admitted | Copied | Skipped | Size |\n")
		b.WriteString("|---|---|---:|---:|---:|---:|---:|\n")
		for _, c := range r.Categories {
			dir := cell(c.Dir)
			if c.Excluded {
				dir = "_excluded_"
			}
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d | %s |\n",
				cell(c.Category), dir, c.Refs, c.Admitted, c.Copied, c.Skipped, humanize.Bytes(uint64(max(c.Bytes, 0))))
		}
	}

	if len(r.SkipCounts) > 0 {
		b.WriteString("\n## Skips\n\n")
		b.WriteString("| Reason | Count |\n")
		b.WriteString("|---|---:|\n")
		for _, reason := range sortedReasons(r.SkipCounts) {
			fmt.Fprintf(&b, "| %s | %s |\n", cell(reason), humanize.Comma(int64(r.SkipCounts[reason])))
		}
	}
	return b.String()
}

// HTML renders the Markdown report to an HTML fragment.
func HTML(r *Report) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(r)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sortedReasons orders reasons by count, most frequent first.
func sortedReasons(counts map[string]int) []string {
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if counts[reasons[i]] != counts[reasons[j]] {
			return counts[reasons[i]] > counts[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	return reasons
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
