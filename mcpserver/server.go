package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/gradebox/config"
	"github.com/isdmx/gradebox/execution"
	"github.com/isdmx/gradebox/logger"
	"github.com/isdmx/gradebox/reporter"
)

// Tool names
const (
	ToolRunCode      = "run_code"
	ToolEvaluateCode = "evaluate_code"
)

// Executor runs and evaluates participant code
type Executor interface {
	Evaluate(ctx context.Context, module execution.Module, userID int64, code, evalID string, rep *reporter.Reporter) (execution.Result, error)
	Run(ctx context.Context, module execution.Module, userID int64, code, execID string, rep *reporter.Reporter) (execution.Result, error)
}

// ModuleRepository looks modules up by id
type ModuleRepository interface {
	Get(ctx context.Context, id int64) (execution.Module, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  Executor
	modules   ModuleRepository
	mcpServer *server.MCPServer
	newID     func() string
}

// toolResponse is the JSON text returned by both tools
type toolResponse struct {
	execution.Result
	ID     string `json:"id"`
	Report string `json:"report,omitempty"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor Executor, modules ModuleRepository) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		modules:  modules,
		newID:    func() string { return uuid.NewString() },
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.String("sandbox.isolate_command", s.config.Sandbox.IsolateCommand),
		zap.String("sandbox.exec_path", s.config.Sandbox.ExecPath),
		zap.Int("sandbox.box_id_prefix", s.config.Sandbox.BoxIDPrefix),
		zap.Int("sandbox.max_concurrent", s.config.Sandbox.MaxConcurrent),
		zap.String("quota.memory", s.config.Quota.Memory),
		zap.String("quota.wall_time", s.config.Quota.WallTime),
		zap.String("archive.store_path", s.config.Archive.StorePath),
		zap.Bool("archive.snapshot", s.config.Archive.Snapshot),
		zap.String("catalog.modules_dir", s.config.Catalog.ModulesDir),
	)

	s.mcpServer = server.NewMCPServer("gradebox", "Sandboxed evaluation of participant code")

	s.registerTool(ToolRunCode, "Run participant code in a sandbox without grading it", s.handleRunCode)
	s.registerTool(ToolEvaluateCode, "Run participant code in a sandbox and grade it with the module's check script", s.handleEvaluateCode)

	return s, nil
}

func (s *MCPServer) registerTool(name, description string, handler server.ToolHandlerFunc) {
	tool := mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"module_id": map[string]any{
					"type":        "integer",
					"description": "Module whose programming configuration is used",
				},
				"user_id": map[string]any{
					"type":        "integer",
					"description": "Participant the code belongs to",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Participant source code",
				},
				"execution_id": map[string]any{
					"type":        "string",
					"description": "Identifier recorded in the archive manifest (optional, generated when empty)",
				},
			},
			Required: []string{"module_id", "user_id", "code"},
		},
	}

	s.mcpServer.AddTool(tool, handler)
}

func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handle(ctx, request, execution.AdHocRun)
}

func (s *MCPServer) handleEvaluateCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handle(ctx, request, execution.Evaluation)
}

func (s *MCPServer) handle(ctx context.Context, request mcp.CallToolRequest, runType execution.RunType) (*mcp.CallToolResult, error) {
	moduleID, err := request.RequireInt("module_id")
	if err != nil {
		return nil, fmt.Errorf("module_id parameter is required: %w", err)
	}
	userID, err := request.RequireInt("user_id")
	if err != nil {
		return nil, fmt.Errorf("user_id parameter is required: %w", err)
	}
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	id := request.GetString("execution_id", "")
	if id == "" {
		id = s.newID()
	}

	log := logger.ForExecution(s.logger, runType.String(), int64(moduleID), int64(userID), id)
	log.Info("code execution requested")

	module, err := s.modules.Get(ctx, int64(moduleID))
	if err != nil {
		log.Warn("module lookup failed", zap.Error(err))
		return errorResult(fmt.Sprintf("Module %d is not available", moduleID)), nil
	}

	rep := reporter.New(s.config.Execution.ReportMaxSize)

	var result execution.Result
	if runType == execution.Evaluation {
		result, err = s.executor.Evaluate(ctx, module, int64(userID), code, id, rep)
	} else {
		result, err = s.executor.Run(ctx, module, int64(userID), code, id, rep)
	}

	// Fault diagnostics stay with the operator.
	resp := toolResponse{Result: result, ID: id}
	if err == nil {
		resp.Report = rep.ReportTruncated()
	}
	text, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode result: %w", marshalErr)
	}

	if err != nil {
		log.Error("execution failed",
			zap.Bool("infrastructure", execution.IsInfrastructure(err)),
			zap.String("report", rep.ReportTruncated()),
			zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(text)}},
			IsError: true,
		}, nil
	}

	log.Info("code execution completed", zap.String("outcome", string(result.Outcome)))

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(text)}},
	}, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: message}},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
