// Package mcp exposes extraction as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/config"
	"github.com/vesselgpt/vessel/internal/descriptions"
	"github.com/vesselgpt/vessel/internal/document"
	"github.com/vesselgpt/vessel/internal/extraction"
	"github.com/vesselgpt/vessel/internal/schema"
)

// Tool names.
const (
	ToolExtractDocument = "extract_document"
	ToolBuildQuery      = "build_query"
	ToolValidateOutput  = "validate_output"
	ToolServerInfo      = "server_info"
)

// Extractor runs one extraction request.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	extractor Extractor
	mcpServer *server.MCPServer
	tools     []mcp.Tool
	logger    *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, extractor Extractor, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		extractor: extractor,
		mcpServer: mcpServer,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.tools = append(s.tools, tool)
	s.mcpServer.AddTool(tool, handler)
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.addTool(mcp.NewTool(ToolExtractDocument,
		mcp.WithDescription(descriptions.ExtractDocumentDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF or image file"),
		),
		mcp.WithString("query",
			mcp.Description(`Fields to extract as JSON, e.g. {"total": "float"}, or "*" for everything`),
		),
		mcp.WithBoolean("tables_only",
			mcp.Description("Extract only detected table regions"),
		),
		mcp.WithBoolean("generic_query",
			mcp.Description("Ignore the query and retrieve all data"),
		),
	), s.handleExtractDocument)

	s.addTool(mcp.NewTool(ToolBuildQuery,
		mcp.WithDescription(descriptions.BuildQueryDescription),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Query JSON or *"),
		),
	), s.handleBuildQuery)

	s.addTool(mcp.NewTool(ToolValidateOutput,
		mcp.WithDescription(descriptions.ValidateOutputDescription),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Query JSON the output should satisfy"),
		),
		mcp.WithString("output",
			mcp.Required(),
			mcp.Description("Model output to check"),
		),
	), s.handleValidateOutput)

	s.addTool(mcp.NewTool(ToolServerInfo,
		mcp.WithDescription(descriptions.ServerInfoDescription),
	), s.handleServerInfo)
}

// Handler functions
func (s *Server) handleExtractDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	doc, err := document.Open(path, s.config.MaxFileSize)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.extractor.Extract(ctx, extraction.Request{
		Document: doc,
		Query:    request.GetString("query", schema.QueryAll),
		Options: extraction.Options{
			TablesOnly:   request.GetBool("tables_only", false),
			GenericQuery: request.GetBool("generic_query", false),
		},
	})
	if err != nil {
		s.logger.Warn("extract_document failed", zap.String("path", path), zap.Error(err))
		return mcp.NewToolResultError(err.Error()), nil
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(text)), nil
}

func (s *Server) handleBuildQuery(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q, err := schema.BuildQuery(target)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatQuery(q)), nil
}

func (s *Server) handleValidateOutput(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	output, err := request.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q, err := schema.BuildQuery(target)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if q.Generic {
		return mcp.NewToolResultError("a generic query has no schema to validate against"), nil
	}

	report := schema.Validate([]byte(output), q.Schema)
	if report.Valid {
		return mcp.NewToolResultText("Output is valid according to the schema."), nil
	}
	return mcp.NewToolResultText(report.Err().Error()), nil
}

func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.formatServerInfo()), nil
}

func formatQuery(q *schema.Query) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n", q.Instruction)
	if q.Generic {
		b.WriteString("Schema: none (generic query, output is not validated)\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Array: %t\n", q.Schema.Array)
	b.WriteString("Fields:\n")
	for _, f := range q.Schema.Fields {
		kind := "form"
		if f.Type.IsList() {
			kind = "table"
		}
		fmt.Fprintf(&b, "  • %s: %s (%s)\n", f.Name, f.Type, kind)
	}
	return b.String()
}

func (s *Server) formatServerInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", s.config.ServerName, s.config.Version)
	fmt.Fprintf(&b, "Backend: %s\n", s.config.Backend.Method)
	if s.config.Backend.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", s.config.Backend.Model)
	}
	fmt.Fprintf(&b, "Table detection: %t\n", s.config.Detection.Endpoint != "")
	fmt.Fprintf(&b, "Max file size: %d bytes\n", s.config.MaxFileSize)

	b.WriteString("\nAvailable Tools:\n")
	for _, tool := range s.tools {
		summary, _, _ := strings.Cut(tool.Description, "\n")
		fmt.Fprintf(&b, "• %s: %s\n", tool.Name, summary)
	}
	return b.String()
}

// Run serves MCP over stdin and stdout until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve speaks MCP over in and out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("starting MCP server", zap.String("name", s.config.ServerName), zap.String("version", s.config.Version))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
