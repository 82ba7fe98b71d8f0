package mcp

import "github.com/mark3labs/mcp-go/mcp"

func dataRootOption() mcp.ToolOption {
	return mcp.WithString("data_root", mcp.Description("Data root; defaults to the configured data_root"))
}

var reorganizeToolDef = mcp.NewTool("corpus_reorganize",
	mcp.WithDescription("Materialize the raw tree, index it, load the category catalog and write one directory per category. The run is recorded in the ledger."),
	dataRootOption(),
	mcp.WithString("mode", mcp.Description("Catalog format"), mcp.Enum("json", "xml")),
	mcp.WithString("policy", mcp.Description("Admission policy"), mcp.Enum("hard_cap", "importance", "unconditional")),
	mcp.WithNumber("workers", mcp.Description("Categories copied concurrently")),
	mcp.WithBoolean("skip_materialize", mcp.Description("Use the raw tree and catalog dir as they are")),
	mcp.WithBoolean("include_outcomes", mcp.Description("Include per-category outcomes in the result")),
)

var indexToolDef = mcp.NewTool("corpus_index",
	mcp.WithDescription("Scan the raw tree and report eligible logs, name collisions and, optionally, where one log lives."),
	dataRootOption(),
	mcp.WithString("mode", mcp.Description("Selects the eligible extension"), mcp.Enum("json", "xml")),
	mcp.WithString("root", mcp.Description("Tree to scan; defaults to the raw tree")),
	mcp.WithString("name", mcp.Description("Log file name to look up")),
)

var catalogToolDef = mcp.NewTool("corpus_catalog",
	mcp.WithDescription("Load the catalog documents and list categories in first-seen order without writing anything."),
	dataRootOption(),
	mcp.WithString("mode", mcp.Description("Catalog format"), mcp.Enum("json", "xml")),
	mcp.WithString("policy", mcp.Description("Admission policy; the hard cap applies only under hard_cap"), mcp.Enum("hard_cap", "importance", "unconditional")),
	mcp.WithString("dir", mcp.Description("Catalog directory; defaults to the configured one")),
	mcp.WithNumber("limit", mcp.Description("Max categories (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Categories to skip")),
)

var compressToolDef = mcp.NewTool("archive_compress",
	mcp.WithDescription("Back the raw tree up as one single-entry zip per log file."),
	dataRootOption(),
	mcp.WithString("source", mcp.Description("Tree to compress; defaults to the raw tree")),
	mcp.WithString("target", mcp.Description("Archive tree; defaults to the compressed tree")),
)

var decompressToolDef = mcp.NewTool("archive_decompress",
	mcp.WithDescription("Extract an archive tree, or with single set, one <path>.zip into <path>."),
	dataRootOption(),
	mcp.WithString("source", mcp.Description("Archive tree; defaults to the compressed tree")),
	mcp.WithString("target", mcp.Description("Destination tree; defaults to the raw tree")),
	mcp.WithBoolean("single", mcp.Description("Extract <path>.zip into <path> instead of a tree")),
	mcp.WithString("path", mcp.Description("With single: directory to extract into; defaults to the catalog dir")),
)

var splitToolDef = mcp.NewTool("archive_split",
	mcp.WithDescription("Write each raw subdirectory as a zip stream cut into fixed-size parts (<item>.z01 ... <item>.zip)."),
	dataRootOption(),
	mcp.WithString("source", mcp.Description("Tree to split; defaults to the raw tree")),
	mcp.WithString("target", mcp.Description("Split tree; defaults to the configured split dir")),
	mcp.WithNumber("part_size", mcp.Description("Part size in bytes; defaults to part_size_bytes")),
)

var mergeToolDef = mcp.NewTool("archive_merge",
	mcp.WithDescription("Reassemble split parts into whole archives, optionally regenerating broken splits from the raw tree."),
	dataRootOption(),
	mcp.WithString("source", mcp.Description("Split tree; defaults to the configured split dir")),
	mcp.WithString("target", mcp.Description("Merged tree; defaults to the configured merged dir")),
	mcp.WithBoolean("fallback", mcp.Description("Regenerate failed items from the raw tree and merge again")),
)

var runListToolDef = mcp.NewTool("run_list",
	mcp.WithDescription("List recorded runs, newest first."),
	mcp.WithNumber("limit", mcp.Description("Max runs (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Runs to skip")),
)

var runFetchToolDef = mcp.NewTool("run_fetch",
	mcp.WithDescription("Fetch one run with its category rows and skip counts."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Run id")),
	mcp.WithBoolean("include_skips", mcp.Description("List individual skips")),
	mcp.WithString("reason", mcp.Description("Only list skips with this reason")),
)

var runReportToolDef = mcp.NewTool("run_report",
	mcp.WithDescription("Render a recorded run as Markdown or HTML."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Run id")),
	mcp.WithString("format", mcp.Description("Output format"), mcp.Enum("markdown", "html")),
)
