package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/resolver"
	"github.com/starford/ansuz/internal/ruleservice"
	"github.com/starford/ansuz/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db := testutil.TestDB(t)
	files := testutil.Files{
		"/data/cmip5/file123.nc": {Path: "/data/cmip5/file123.nc", Directory: "/data/cmip5", Name: "file123.nc", Size: 234, ItemType: models.ItemFile},
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := ruleservice.NewService(db, resolver.New(db, files), nil, logger)
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error
	switch name {
	case "resolve_annotations":
		result, err = srv.resolveAnnotations(ctx, req)
	case "explain_resolution":
		result, err = srv.explainResolution(ctx, req)
	case "list_rules":
		result, err = srv.listRules(ctx, req)
	case "create_rule":
		result, err = srv.createRule(ctx, req)
	case "delete_rules":
		result, err = srv.deleteRules(ctx, req)
	case "get_rule_format":
		result, err = srv.getRuleFormat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndResolve(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "create_rule", map[string]any{
		"applies_to":     map[string]any{"path": "/data/cmip5"},
		"annotation":     map[string]any{"storage_plan": "tape only"},
		"merge_strategy": "override",
		"metadata":       map[string]any{"created_by": "SJP"},
	})
	if r.IsError {
		t.Fatalf("create failed: %s", resultText(r))
	}
	var created models.AnnotationRule
	if err := json.Unmarshal([]byte(resultText(r)), &created); err != nil {
		t.Fatalf("decode created rule: %v", err)
	}
	if created.ID == "" {
		t.Error("created rule has no id")
	}

	r = callTool(t, srv, "resolve_annotations", map[string]any{"path": "/data/cmip5/file123.nc"})
	var ann map[string]any
	if err := json.Unmarshal([]byte(resultText(r)), &ann); err != nil {
		t.Fatalf("decode annotation: %v", err)
	}
	if ann["storage_plan"] != "tape only" {
		t.Errorf("annotation = %v", ann)
	}
}

func TestCreateRule_Invalid(t *testing.T) {
	srv := testServer(t)
	for name, args := range map[string]map[string]any{
		"no annotation": {"applies_to": map[string]any{"ext": "nc"}},
		"bad strategy":  {"annotation": map[string]any{"a": 1}, "merge_strategy": "replace"},
		"bad expiry":    {"annotation": map[string]any{"a": 1}, "expires_at": "tomorrow"},
		"unknown field": {"annotation": map[string]any{"a": 1}, "id": "mine"},
	} {
		t.Run(name, func(t *testing.T) {
			if r := callTool(t, srv, "create_rule", args); !r.IsError {
				t.Errorf("expected error, got %s", resultText(r))
			}
		})
	}
}

func TestResolveMissingPath(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "resolve_annotations", map[string]any{"path": "/nope"})
	if !r.IsError {
		t.Error("expected error for unknown path")
	}
	if !strings.Contains(resultText(r), "not found") {
		t.Errorf("error text = %q", resultText(r))
	}
}

func TestResolveEmpty(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "resolve_annotations", map[string]any{"path": "/data/cmip5/file123.nc"})
	if r.IsError || strings.TrimSpace(resultText(r)) != "{}" {
		t.Errorf("result = %q, want {}", resultText(r))
	}
}

func TestListAndDeleteRules(t *testing.T) {
	srv := testServer(t)
	for _, ext := range []string{"nc", "txt"} {
		r := callTool(t, srv, "create_rule", map[string]any{
			"applies_to": map[string]any{"ext": ext},
			"annotation": map[string]any{"kind": ext},
		})
		if r.IsError {
			t.Fatalf("create failed: %s", resultText(r))
		}
	}

	r := callTool(t, srv, "list_rules", map[string]any{"ext": "nc"})
	var list struct {
		Total int `json:"total"`
	}
	_ = json.Unmarshal([]byte(resultText(r)), &list)
	if list.Total != 1 {
		t.Errorf("total = %d, want 1", list.Total)
	}

	r = callTool(t, srv, "delete_rules", map[string]any{"applies_to": map[string]any{"ext": ".txt"}})
	if resultText(r) != "deleted: 1" {
		t.Errorf("delete result = %q", resultText(r))
	}

	r = callTool(t, srv, "delete_rules", map[string]any{})
	if !r.IsError {
		t.Error("expected error without applies_to")
	}
}

func TestExplainResolution(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "create_rule", map[string]any{"annotation": map[string]any{"site": "jasmin"}})

	r := callTool(t, srv, "explain_resolution", map[string]any{"path": "/data/cmip5/file123.nc"})
	text := resultText(r)
	if !strings.Contains(text, `"applied"`) || !strings.Contains(text, "jasmin") {
		t.Errorf("explain = %s", text)
	}
}

func TestGetRuleFormat(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_rule_format", nil)
	if !strings.Contains(resultText(r), "merge_strategy") {
		t.Error("rule format should describe merge_strategy")
	}
}
