package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/errors"
	"github.com/hpungsan/logsort/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
	log *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, log *zap.Logger) *Handlers {
	return &Handlers{db: db, cfg: cfg, log: log}
}

// Request types for each tool

// ReorganizeRequest represents the arguments for corpus_reorganize.
type ReorganizeRequest struct {
	DataRoot        string `json:"data_root,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Policy          string `json:"policy,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	SkipMaterialize bool   `json:"skip_materialize,omitempty"`
	IncludeOutcomes bool   `json:"include_outcomes,omitempty"`
}

// IndexRequest represents the arguments for corpus_index.
type IndexRequest struct {
	DataRoot string `json:"data_root,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Root     string `json:"root,omitempty"`
	Name     string `json:"name,omitempty"`
}

// CatalogRequest represents the arguments for corpus_catalog.
type CatalogRequest struct {
	DataRoot string `json:"data_root,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Policy   string `json:"policy,omitempty"`
	Dir      string `json:"dir,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// TreeRequest represents the arguments for archive_compress.
type TreeRequest struct {
	DataRoot string `json:"data_root,omitempty"`
	Source   string `json:"source,omitempty"`
	Target   string `json:"target,omitempty"`
}

// DecompressRequest represents the arguments for archive_decompress.
type DecompressRequest struct {
	DataRoot string `json:"data_root,omitempty"`
	Source   string `json:"source,omitempty"`
	Target   string `json:"target,omitempty"`
	Single   bool   `json:"single,omitempty"`
	Path     string `json:"path,omitempty"`
}

// SplitRequest represents the arguments for archive_split.
type SplitRequest struct {
	DataRoot string `json:"data_root,omitempty"`
	Source   string `json:"source,omitempty"`
	Target   string `json:"target,omitempty"`
	PartSize int64  `json:"part_size,omitempty"`
}

// MergeRequest represents the arguments for archive_merge.
type MergeRequest struct {
	DataRoot string `json:"data_root,omitempty"`
	Source   string `json:"source,omitempty"`
	Target   string `json:"target,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// RunListRequest represents the arguments for run_list.
type RunListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// RunFetchRequest represents the arguments for run_fetch.
type RunFetchRequest struct {
	ID           string `json:"id"`
	IncludeSkips bool   `json:"include_skips,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// RunReportRequest represents the arguments for run_report.
type RunReportRequest struct {
	ID     string `json:"id"`
	Format string `json:"format,omitempty"`
}

// Handler implementations

// HandleReorganize handles the corpus_reorganize tool call.
func (h *Handlers) HandleReorganize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReorganizeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Reorganize(ctx, h.db, h.cfg, h.log, ops.ReorganizeInput{
		DataRoot:        input.DataRoot,
		Mode:            input.Mode,
		Policy:          input.Policy,
		Workers:         input.Workers,
		SkipMaterialize: input.SkipMaterialize,
		IncludeOutcomes: input.IncludeOutcomes,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleIndex handles the corpus_index tool call.
func (h *Handlers) HandleIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IndexRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Index(ctx, h.cfg, h.log, ops.IndexInput{
		DataRoot: input.DataRoot,
		Mode:     input.Mode,
		Root:     input.Root,
		Name:     input.Name,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCatalog handles the corpus_catalog tool call.
func (h *Handlers) HandleCatalog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CatalogRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Catalog(ctx, h.cfg, h.log, ops.CatalogInput{
		DataRoot: input.DataRoot,
		Mode:     input.Mode,
		Policy:   input.Policy,
		Dir:      input.Dir,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCompress handles the archive_compress tool call.
func (h *Handlers) HandleCompress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TreeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Compress(ctx, h.cfg, h.log, ops.CompressInput{
		DataRoot: input.DataRoot,
		Source:   input.Source,
		Target:   input.Target,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDecompress handles the archive_decompress tool call.
func (h *Handlers) HandleDecompress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DecompressRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var result *ops.ArchiveOutput
	if input.Single {
		result, err = ops.DecompressSingle(ctx, h.cfg, h.log, ops.DecompressSingleInput{
			DataRoot: input.DataRoot,
			Path:     input.Path,
		})
	} else {
		result, err = ops.Decompress(ctx, h.cfg, h.log, ops.DecompressInput{
			DataRoot: input.DataRoot,
			Source:   input.Source,
			Target:   input.Target,
		})
	}
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSplit handles the archive_split tool call.
func (h *Handlers) HandleSplit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SplitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Split(ctx, h.cfg, h.log, ops.SplitInput{
		DataRoot: input.DataRoot,
		Source:   input.Source,
		Target:   input.Target,
		PartSize: input.PartSize,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleMerge handles the archive_merge tool call.
func (h *Handlers) HandleMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MergeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Merge(ctx, h.cfg, h.log, ops.MergeInput{
		DataRoot: input.DataRoot,
		Source:   input.Source,
		Target:   input.Target,
		Fallback: input.Fallback,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRunList handles the run_list tool call.
func (h *Handlers) HandleRunList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RunListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.ListRuns(h.db, ops.ListRunsInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRunFetch handles the run_fetch tool call.
func (h *Handlers) HandleRunFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RunFetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.FetchRun(h.db, ops.FetchRunInput{
		ID:           input.ID,
		IncludeSkips: input.IncludeSkips,
		Reason:       input.Reason,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRunReport handles the run_report tool call.
func (h *Handlers) HandleRunReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RunReportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	result, err := ops.Report(h.db, ops.ReportInput{
		ID:     input.ID,
		Format: input.Format,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sortErr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    sortErr.Code,
			"message": sortErr.Message,
			"status":  sortErr.Status,
		}
		// Keep the context of wrapping errors.
		if wrapped := err.Error(); wrapped != sortErr.Error() {
			errorObj["message"] = wrapped
		}
		if sortErr.Code != errors.ErrInternal && sortErr.Details != nil {
			errorObj["details"] = sortErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
