// Package mcpserver exposes annotation resolution and rule management as MCP
// tools over stdio.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/ruleservice"
)

const ruleFormatURI = "ansuz://rule-format"

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp *server.MCPServer
	svc *ruleservice.Service
}

// New creates an MCP server with all tools registered.
func New(svc *ruleservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("resolve_annotations",
		mcp.WithDescription("Return the merged annotation mapping that applies to a file path. "+
			"An empty object means no rule applies."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of a file-index record")),
	), s.resolveAnnotations)

	s.mcp.AddTool(mcp.NewTool("explain_resolution",
		mcp.WithDescription("Resolve a path and report the record, the rule ids applied in order, "+
			"skipped malformed rules and the store pre-filter used."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of a file-index record")),
	), s.explainResolution)

	s.mcp.AddTool(mcp.NewTool("list_rules",
		mcp.WithDescription("List stored annotation rules, optionally narrowed by scope or annotation keys."),
		mcp.WithString("under", mcp.Description("Only rules scoped at or below this directory")),
		mcp.WithString("ext", mcp.Description("Only rules for this extension, e.g. .nc")),
		mcp.WithString("keys", mcp.Description("Comma-separated annotation keys; rules setting any of them")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listRules)

	s.mcp.AddTool(mcp.NewTool("create_rule",
		mcp.WithDescription("Create an annotation rule. Read the rule format first via "+
			"get_rule_format or the "+ruleFormatURI+" resource."),
		mcp.WithObject("applies_to", mcp.Description("Criteria set; omit or {} for a global rule")),
		mcp.WithObject("annotation", mcp.Required(), mcp.Description("Key/value annotation payload")),
		mcp.WithString("merge_strategy", mcp.Enum("default", "override", "addition"),
			mcp.Description("How the annotation combines with less specific rules")),
		mcp.WithObject("metadata", mcp.Description("Free-form provenance, e.g. created_by")),
		mcp.WithString("expires_at", mcp.Description("RFC3339 instant after which the rule no longer applies")),
	), s.createRule)

	s.mcp.AddTool(mcp.NewTool("delete_rules",
		mcp.WithDescription("Delete every rule whose criteria set equals applies_to exactly."),
		mcp.WithObject("applies_to", mcp.Required(), mcp.Description("Exact criteria set to delete; {} deletes global rules")),
	), s.deleteRules)

	s.mcp.AddTool(mcp.NewTool("get_rule_format",
		mcp.WithDescription("Returns the annotation rule format and resolution semantics."),
	), s.getRuleFormat)

	s.mcp.AddResource(
		mcp.NewResource(ruleFormatURI, "Rule Format",
			mcp.WithResourceDescription("Annotation rule format and resolution semantics."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRuleFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrUnavailable):
		return mcp.NewToolResultError("rule store unavailable, retry later")
	}
	return mcp.NewToolResultError(err.Error())
}

// bindArgs decodes the tool arguments into v through their JSON form.
func bindArgs(req mcp.CallToolRequest, v any) error {
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expires_at: %w: %v", apperr.ErrInvalid, err)
	}
	return t.UTC(), nil
}

func (s *Server) resolveAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ann, err := s.svc.Resolve(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(ann)
}

func (s *Server) explainResolution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Explain(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"record":     res.Record,
		"annotation": res.Annotation,
		"applied":    res.Applied,
		"skipped":    res.Skipped,
		"candidates": res.Candidates,
		"filter":     res.Filter.String(),
	})
}

func (s *Server) listRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := index.ListOptions{
		Under:  req.GetString("under", ""),
		Ext:    req.GetString("ext", ""),
		Limit:  req.GetInt("limit", 0),
		Offset: req.GetInt("offset", 0),
	}
	for _, k := range strings.Split(req.GetString("keys", ""), ",") {
		if k = strings.TrimSpace(k); k != "" {
			opts.Keys = append(opts.Keys, k)
		}
	}
	rules, total, err := s.svc.ListRules(ctx, opts)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"rules": rules, "total": total})
}

type createArgs struct {
	AppliesTo     models.CriteriaSet   `json:"applies_to"`
	Annotation    map[string]any       `json:"annotation"`
	MergeStrategy models.MergeStrategy `json:"merge_strategy"`
	Metadata      map[string]any       `json:"metadata"`
	ExpiresAt     *string              `json:"expires_at"`
}

func (s *Server) createRule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args createArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	rule := models.AnnotationRule{
		AppliesTo:     args.AppliesTo,
		Annotation:    args.Annotation,
		MergeStrategy: args.MergeStrategy,
		Metadata:      args.Metadata,
	}
	if args.ExpiresAt != nil && *args.ExpiresAt != "" {
		t, err := parseInstant(*args.ExpiresAt)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rule.ExpiresAt = &t
	}
	created, err := s.svc.CreateRule(ctx, rule)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(created)
}

func (s *Server) deleteRules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		AppliesTo *models.CriteriaSet `json:"applies_to"`
	}
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.AppliesTo == nil {
		return mcp.NewToolResultError("applies_to is required"), nil
	}
	n, err := s.svc.DeleteMatching(ctx, *args.AppliesTo)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %d", n)), nil
}

func (s *Server) getRuleFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RuleFormat), nil
}

func (s *Server) readRuleFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ruleFormatURI,
			MIMEType: "text/markdown",
			Text:     RuleFormat,
		},
	}, nil
}
