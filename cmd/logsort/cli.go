package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/mcp"
	"github.com/hpungsan/logsort/internal/ops"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.App {
	app := &cli.App{
		Name:    "logsort",
		Usage:   "Reorganize a log corpus into per-category directories",
		Version: Version,
		Commands: []*cli.Command{
			reorganizeCmd(db, cfg, log),
			indexCmd(cfg, log),
			catalogCmd(cfg, log),
			compressCmd(cfg, log),
			decompressCmd(cfg, log),
			splitCmd(cfg, log),
			mergeCmd(cfg, log),
			runsCmd(db),
			runCmd(db),
			purgeCmd(db),
			reportCmd(db),
			serveCmd(db, cfg, log),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func dataRootFlag() cli.Flag {
	return &cli.StringFlag{Name: "data-root", Aliases: []string{"d"}, Usage: "Data root (default: configured data_root)"}
}

func modeFlag() cli.Flag {
	return &cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Catalog format: json|xml"}
}

func policyFlag() cli.Flag {
	return &cli.StringFlag{Name: "policy", Aliases: []string{"p"}, Usage: "Admission policy: hard_cap|importance|unconditional"}
}

// reorganizeCmd creates the reorganize command.
func reorganizeCmd(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "reorganize",
		Usage: "Materialize, index and write one directory per category",
		Flags: []cli.Flag{
			dataRootFlag(),
			modeFlag(),
			policyFlag(),
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "Categories copied concurrently"},
			&cli.BoolFlag{Name: "skip-materialize", Usage: "Use the raw tree and catalog dir as they are"},
			&cli.BoolFlag{Name: "outcomes", Usage: "Include per-category outcomes in the output"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Reorganize(c.Context, db, cfg, log, ops.ReorganizeInput{
				DataRoot:        c.String("data-root"),
				Mode:            c.String("mode"),
				Policy:          c.String("policy"),
				Workers:         c.Int("workers"),
				SkipMaterialize: c.Bool("skip-materialize"),
				IncludeOutcomes: c.Bool("outcomes"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// indexCmd creates the index command.
func indexCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "index",
		Usage:     "Scan the raw tree and report eligible logs and collisions",
		ArgsUsage: "[name]",
		Flags: []cli.Flag{
			dataRootFlag(),
			modeFlag(),
			&cli.StringFlag{Name: "root", Usage: "Tree to scan (default: raw tree)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Index(c.Context, cfg, log, ops.IndexInput{
				DataRoot: c.String("data-root"),
				Mode:     c.String("mode"),
				Root:     c.String("root"),
				Name:     c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// catalogCmd creates the catalog command.
func catalogCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "List catalog categories without writing anything",
		Flags: []cli.Flag{
			dataRootFlag(),
			modeFlag(),
			policyFlag(),
			&cli.StringFlag{Name: "dir", Usage: "Catalog directory (default: configured categories dir)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Catalog(c.Context, cfg, log, ops.CatalogInput{
				DataRoot: c.String("data-root"),
				Mode:     c.String("mode"),
				Policy:   c.String("policy"),
				Dir:      c.String("dir"),
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// compressCmd creates the compress command.
func compressCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "compress",
		Usage: "Back the raw tree up as one zip per log file",
		Flags: []cli.Flag{
			dataRootFlag(),
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Tree to compress (default: raw tree)"},
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "Archive tree (default: compressed tree)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Compress(c.Context, cfg, log, ops.CompressInput{
				DataRoot: c.String("data-root"),
				Source:   c.String("source"),
				Target:   c.String("target"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// decompressCmd creates the decompress command.
func decompressCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "decompress",
		Usage:     "Extract the compressed tree, or with --single one <path>.zip",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			dataRootFlag(),
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Archive tree (default: compressed tree)"},
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "Destination tree (default: raw tree)"},
			&cli.BoolFlag{Name: "single", Usage: "Extract <path>.zip into <path> (default path: categories dir)"},
		},
		Action: func(c *cli.Context) error {
			var (
				output *ops.ArchiveOutput
				err    error
			)
			if c.Bool("single") {
				output, err = ops.DecompressSingle(c.Context, cfg, log, ops.DecompressSingleInput{
					DataRoot: c.String("data-root"),
					Path:     c.Args().First(),
				})
			} else {
				output, err = ops.Decompress(c.Context, cfg, log, ops.DecompressInput{
					DataRoot: c.String("data-root"),
					Source:   c.String("source"),
					Target:   c.String("target"),
				})
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// splitCmd creates the split command.
func splitCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "split",
		Usage: "Write each raw subdirectory as fixed-size zip parts",
		Flags: []cli.Flag{
			dataRootFlag(),
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Tree to split (default: raw tree)"},
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "Split tree (default: configured split dir)"},
			&cli.StringFlag{Name: "part-size", Usage: "Part size, e.g. 70MiB (default: part_size_bytes)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.SplitInput{
				DataRoot: c.String("data-root"),
				Source:   c.String("source"),
				Target:   c.String("target"),
			}
			if s := c.String("part-size"); s != "" {
				size, err := parsePartSize(s)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.PartSize = size
			}

			output, err := ops.Split(c.Context, cfg, log, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// mergeCmd creates the merge command.
func mergeCmd(cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "Reassemble split parts into whole archives",
		Flags: []cli.Flag{
			dataRootFlag(),
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Split tree (default: configured split dir)"},
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Usage: "Merged tree (default: configured merged dir)"},
			&cli.BoolFlag{Name: "fallback", Usage: "Regenerate broken splits from the raw tree and merge again"},
			&cli.StringFlag{Name: "raw", Usage: "Raw tree used by --fallback (default: raw tree)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Merge(c.Context, cfg, log, ops.MergeInput{
				DataRoot: c.String("data-root"),
				Source:   c.String("source"),
				Target:   c.String("target"),
				Fallback: c.Bool("fallback"),
				Raw:      c.String("raw"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// runsCmd creates the runs command.
func runsCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recorded runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListRuns(db, ops.ListRunsInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// runCmd creates the run command.
func runCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Fetch one recorded run",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "skips", Usage: "List individual skips"},
			&cli.StringFlag{Name: "reason", Usage: "Only list skips with this reason"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.FetchRun(db, ops.FetchRunInput{
				ID:           c.Args().First(),
				IncludeSkips: c.Bool("skips"),
				Reason:       c.String("reason"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete recorded runs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Only purge runs started more than N days ago (e.g., 7d)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeRunsInput{}
			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			output, err := ops.PurgeRuns(c.Context, db, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// reportCmd creates the report command.
func reportCmd(db *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Render a recorded run as Markdown or HTML",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: ops.FormatMarkdown, Usage: "Output format: markdown|html"},
			&cli.BoolFlag{Name: "json", Usage: "Wrap the report in a JSON object"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Report(db, ops.ReportInput{
				ID:     c.Args().First(),
				Format: c.String("format"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(output)
			}
			_, err = fmt.Fprint(os.Stdout, output.Content)
			return err
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(db *sql.DB, cfg *config.Config, log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			if err := mcp.Run(db, cfg, log, Version); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sortErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sortErr.Code, sortErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

// parsePartSize parses a byte size such as "73400320", "70MiB" or "64 KB".
func parsePartSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid part size: %s", s)
	}
	if n == 0 {
		return 0, fmt.Errorf("part size must be positive")
	}
	return int64(n), nil
}
