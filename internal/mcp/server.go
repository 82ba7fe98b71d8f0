package mcp

import (
	"database/sql"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/logging"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"corpus_reorganize": {
		def:     reorganizeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReorganize },
	},
	"corpus_index": {
		def:     indexToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIndex },
	},
	"corpus_catalog": {
		def:     catalogToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCatalog },
	},
	"archive_compress": {
		def:     compressToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCompress },
	},
	"archive_decompress": {
		def:     decompressToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDecompress },
	},
	"archive_split": {
		def:     splitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSplit },
	},
	"archive_merge": {
		def:     mergeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMerge },
	},
	"run_list": {
		def:     runListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRunList },
	},
	"run_fetch": {
		def:     runFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRunFetch },
	},
	"run_report": {
		def:     runReportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRunReport },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the logsort tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, log *zap.Logger, version string) *server.MCPServer {
	log = logging.OrNop(log).Named("mcp")
	s := server.NewMCPServer(
		"logsort",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, log)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}
	if unknown := ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, log *zap.Logger, version string) error {
	s := NewServer(db, cfg, log, version)
	return server.ServeStdio(s)
}
