package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/logsort/internal/config"
	"github.com/hpungsan/logsort/internal/db"
	"github.com/hpungsan/logsort/internal/errors"
)

// testSetup creates a temporary database and a config rooted at a temp data dir.
func testSetup(t *testing.T) (*sql.DB, *config.Config, func()) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataRoot = t.TempDir()

	cleanup := func() {
		database.Close()
	}

	return database, cfg, cleanup
}

// seedCorpus writes a raw tree and a JSON catalog under the data root.
func seedCorpus(t *testing.T, cfg *config.Config) {
	t.Helper()
	files := map[string]string{
		"train/a/log1.txt":     "one",
		"train/a/log2.txt":     "two",
		"categories/cats.json": `{"category.timeout": {"logs": ["log1"]}, "category.oom": {"logs": ["log2", "gone"]}}`,
	}
	for rel, content := range files {
		path := filepath.Join(cfg.DataRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func TestHandleReorganize(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	seedCorpus(t, cfg)
	h := NewHandlers(database, cfg, nil)

	t.Run("success", func(t *testing.T) {
		result, err := h.HandleReorganize(context.Background(), makeRequest(map[string]any{"include_outcomes": true}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := parseOutput(t, result)

		if output["status"] != db.StatusSucceeded {
			t.Errorf("status = %v", output["status"])
		}
		if output["copied"] != float64(2) {
			t.Errorf("copied = %v, want 2", output["copied"])
		}
		if _, ok := output["run_id"].(string); !ok {
			t.Error("run_id missing")
		}
		if outcomes, _ := output["outcomes"].([]any); len(outcomes) != 2 {
			t.Errorf("outcomes = %v", output["outcomes"])
		}
	})

	t.Run("invalid policy", func(t *testing.T) {
		result, _ := h.HandleReorganize(context.Background(), makeRequest(map[string]any{"policy": "newest"}))
		if !result.IsError {
			t.Fatal("expected error result")
		}
		assertErrorCode(t, result, "INVALID_REQUEST")
	})

	t.Run("unknown argument", func(t *testing.T) {
		result, _ := h.HandleReorganize(context.Background(), makeRequest(map[string]any{"polcy": "hard_cap"}))
		if !result.IsError {
			t.Fatal("expected error result")
		}
		assertErrorCode(t, result, "INVALID_REQUEST")
	})
}

func TestHandleIndex(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	seedCorpus(t, cfg)
	h := NewHandlers(database, cfg, nil)

	result, err := h.HandleIndex(context.Background(), makeRequest(map[string]any{"name": "log2.txt"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)
	if output["files"] != float64(2) {
		t.Errorf("files = %v, want 2", output["files"])
	}
	match, _ := output["match"].(map[string]any)
	if match["dir"] != "a" {
		t.Errorf("match = %v", output["match"])
	}

	result, _ = h.HandleIndex(context.Background(), makeRequest(map[string]any{"name": "nope.txt"}))
	assertErrorCode(t, result, "NOT_FOUND")
}

func TestHandleCatalog(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	seedCorpus(t, cfg)
	h := NewHandlers(database, cfg, nil)

	result, err := h.HandleCatalog(context.Background(), makeRequest(map[string]any{"limit": 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := parseOutput(t, result)

	items, _ := output["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", output["items"])
	}
	if items[0].(map[string]any)["dir"] != "timeout" {
		t.Errorf("first item = %v", items[0])
	}
	pagination := output["pagination"].(map[string]any)
	if pagination["has_more"] != true || pagination["total"] != float64(2) {
		t.Errorf("pagination = %v", pagination)
	}
}

func TestHandleArchiveTools(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	seedCorpus(t, cfg)
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	result, err := h.HandleCompress(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output := parseOutput(t, result); output["archives"] != float64(2) {
		t.Errorf("compress archives = %v", output["archives"])
	}

	restored := filepath.Join(cfg.DataRoot, "restored")
	result, _ = h.HandleDecompress(ctx, makeRequest(map[string]any{"target": restored}))
	if output := parseOutput(t, result); output["entries"] != float64(2) {
		t.Errorf("decompress entries = %v", output["entries"])
	}

	result, _ = h.HandleSplit(ctx, makeRequest(map[string]any{"part_size": 64}))
	if output := parseOutput(t, result); output["parts"].(float64) < 2 {
		t.Errorf("split parts = %v", output["parts"])
	}

	result, _ = h.HandleMerge(ctx, makeRequest(nil))
	if output := parseOutput(t, result); output["archives"] != float64(1) {
		t.Errorf("merge archives = %v", output["archives"])
	}

	result, _ = h.HandleDecompress(ctx, makeRequest(map[string]any{"single": true}))
	assertErrorCode(t, result, "NOT_FOUND")

	result, _ = h.HandleCompress(ctx, makeRequest(map[string]any{"target": "../escape"}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleRunTools(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	seedCorpus(t, cfg)
	h := NewHandlers(database, cfg, nil)
	ctx := context.Background()

	result, _ := h.HandleReorganize(ctx, makeRequest(nil))
	runID := parseOutput(t, result)["run_id"].(string)

	result, err := h.HandleRunList(ctx, makeRequest(map[string]any{"limit": 5}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, _ := parseOutput(t, result)["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["id"] != runID {
		t.Errorf("items = %v", items)
	}

	result, _ = h.HandleRunFetch(ctx, makeRequest(map[string]any{"id": runID, "reason": "unresolved"}))
	output := parseOutput(t, result)
	if skips, _ := output["skips"].([]any); len(skips) != 1 {
		t.Errorf("skips = %v", output["skips"])
	}
	if reasons := output["skip_reasons"].(map[string]any); reasons["unresolved"] != float64(1) {
		t.Errorf("skip_reasons = %v", reasons)
	}

	result, _ = h.HandleRunReport(ctx, makeRequest(map[string]any{"id": runID, "format": "html"}))
	if content := parseOutput(t, result)["content"].(string); !strings.Contains(content, "<h1>Run "+runID+"</h1>") {
		t.Errorf("content = %q", content)
	}

	result, _ = h.HandleRunFetch(ctx, makeRequest(map[string]any{"id": "missing"}))
	assertErrorCode(t, result, "NOT_FOUND")

	result, _ = h.HandleRunReport(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleReorganize_CancelledContext(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()
	seedCorpus(t, cfg)
	h := NewHandlers(database, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.HandleReorganize(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, "CANCELLED")
}

func TestServerRegistration(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"corpus_reorganize",
		"corpus_index",
		"corpus_catalog",
		"archive_compress",
		"archive_decompress",
		"archive_split",
		"archive_merge",
		"run_list",
		"run_fetch",
		"run_report",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = []string{"corpus_reorganize", "archive_split", "archive_merge", "not_a_tool"}
	s := NewServer(database, cfg, nil, "test")
	tools := s.ListTools()

	// 10 tools - 3 disabled; the unknown name is ignored
	if len(tools) != 7 {
		t.Errorf("registered tool count = %d, want 7", len(tools))
	}

	for _, name := range []string{"corpus_reorganize", "archive_split", "archive_merge"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
	for _, name := range []string{"corpus_index", "run_list", "run_report"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %q should be registered", name)
		}
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	database, cfg, cleanup := testSetup(t)
	defer cleanup()

	cfg.DisabledTools = AllToolNames()
	s := NewServer(database, cfg, nil, "test")

	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"run_list", "archive_merge"}, 0},
		{"one unknown", []string{"run_list", "legacy_tool"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Fatalf("AllToolNames() = %d names, want %d", len(names), len(toolRegistry))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
	for name, entry := range toolRegistry {
		if entry.def.Name != name {
			t.Errorf("registry key %q has tool named %q", name, entry.def.Name)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrappedErr := fmt.Errorf("stage catalog: %w", errors.NewNotFound("categories"))

	errObj := errorObject(t, errorResult(wrappedErr))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if msg := errObj["message"].(string); !strings.Contains(msg, "stage catalog") {
		t.Errorf("message should contain wrapper context, got: %s", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	errObj := errorObject(t, errorResult(errors.NewNotFound("abc")))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if _, ok := errObj["details"]; !ok {
		t.Fatal("expected non-INTERNAL errors to include details when present")
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != "INTERNAL" || errObj["message"] != "an internal error occurred" {
		t.Errorf("error = %v", errObj)
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	return payload["error"].(map[string]any)
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	if !result.IsError {
		t.Errorf("expected error result, got: %s", extractErrorMessage(result))
		return
	}
	code, ok := errorObject(t, result)["code"].(string)
	if !ok {
		t.Errorf("no code in error object")
		return
	}
	if code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}

	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}

	return text.Text
}
