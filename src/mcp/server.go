package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/keyword"
	"faultscope/src/logger"
	"faultscope/src/pipeline"
	"faultscope/src/report"
	"faultscope/src/store"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Engine is the part of pipeline.Engine the server needs.
type Engine interface {
	QueryFault(ctx context.Context, q pipeline.FaultQuery) (*contracts.Report, error)
	Stats(ctx context.Context, q pipeline.StatsQuery) (*contracts.Report, error)
	Search(ctx context.Context, q pipeline.SearchQuery) (*contracts.SearchResult, error)
}

// Server is the MCP server for faultscope.
type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
	store     store.Store
	logger    logger.Logger
}

// NewServer creates a new MCP server. Reports are kept in st so get_report
// can return them later.
func NewServer(engine Engine, st store.Store, log logger.Logger) *Server {
	if st == nil {
		st = store.NewMemoryStore()
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	s := server.NewMCPServer(
		"faultscope",
		Version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		engine:    engine,
		store:     st,
		logger:    log,
	}
	srv.registerTools()

	return srv
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	queryFault := mcp.NewTool("query_fault",
		mcp.WithDescription("Report the occurrences of one fault identifier in the log captured under base_path: first and last occurrence, number of report/clear cycles and diagnostic level. Returns a text table followed by a JSON manifest."),
		mcp.WithString("fault_id",
			mcp.Required(),
			mcp.Description("Fault identifier, hexadecimal (165, 0x165 and 0x0165 are the same)"),
		),
		mcp.WithString("base_path",
			mcp.Required(),
			mcp.Description("Capture directory that contains the snapshot log directory"),
		),
		mcp.WithString("format",
			mcp.Description("Output format of the first block: text (default) or json"),
		),
		mcp.WithBoolean("force_refresh",
			mcp.Description("Download the artifact again even if it is cached"),
		),
	)

	faultStats := mcp.NewTool("fault_stats",
		mcp.WithDescription("List every fault identifier found in the log, ranked: open faults first, then recurring, single and uncounted ones."),
		mcp.WithString("base_path",
			mcp.Required(),
			mcp.Description("Capture directory that contains the snapshot log directory"),
		),
		mcp.WithArray("keywords",
			mcp.Description("Optional keywords every counted line must also match"),
			mcp.WithStringItems(),
		),
		mcp.WithString("logic",
			mcp.Description("How keywords combine: and (default) or or"),
		),
		mcp.WithBoolean("fuzzy",
			mcp.Description("Case-insensitive keyword matching"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Max records in the manifest (default: %d)", DefaultLimit)),
		),
	)

	searchLogs := mcp.NewTool("search_logs",
		mcp.WithDescription("Search the log for lines matching keywords and return them with surrounding context."),
		mcp.WithString("base_path",
			mcp.Required(),
			mcp.Description("Capture directory that contains the snapshot log directory"),
		),
		mcp.WithArray("keywords",
			mcp.Required(),
			mcp.Description("Keywords to search for"),
			mcp.WithStringItems(),
		),
		mcp.WithString("logic",
			mcp.Description("How keywords combine: and (default) or or"),
		),
		mcp.WithBoolean("fuzzy",
			mcp.Description("Case-insensitive matching"),
		),
		mcp.WithNumber("context_lines",
			mcp.Description("Lines of context before and after each match (default: 0)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Stop after this many matches (default: 100)"),
		),
	)

	getReport := mcp.NewTool("get_report",
		mcp.WithDescription("Return a report produced earlier by query_fault or fault_stats, with every record."),
		mcp.WithString("report_id",
			mcp.Required(),
			mcp.Description("report_id from an earlier manifest"),
		),
	)

	s.mcpServer.AddTool(queryFault, s.handleQueryFault)
	s.mcpServer.AddTool(faultStats, s.handleFaultStats)
	s.mcpServer.AddTool(searchLogs, s.handleSearchLogs)
	s.mcpServer.AddTool(getReport, s.handleGetReport)
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleQueryFault(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	faultID := request.GetString("fault_id", "")
	if faultID == "" {
		return mcp.NewToolResultError("fault_id parameter is required"), nil
	}
	basePath := request.GetString("base_path", "")
	if basePath == "" {
		return mcp.NewToolResultError("base_path parameter is required"), nil
	}
	format, err := report.ParseFormat(request.GetString("format", "text"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := s.engine.QueryFault(ctx, pipeline.FaultQuery{
		BasePath: basePath,
		FaultID:  faultID,
		Options:  pipeline.Options{ForceRefresh: request.GetBool("force_refresh", false)},
	})
	if err != nil {
		return queryError(err), nil
	}
	return s.reportResult(ctx, r, format, DefaultLimit)
}

func (s *Server) handleFaultStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	basePath := request.GetString("base_path", "")
	if basePath == "" {
		return mcp.NewToolResultError("base_path parameter is required"), nil
	}
	opts, err := keywordOptions(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := s.engine.Stats(ctx, pipeline.StatsQuery{BasePath: basePath, Options: opts})
	if err != nil {
		return queryError(err), nil
	}
	return s.reportResult(ctx, r, report.Text, request.GetInt("limit", DefaultLimit))
}

func (s *Server) handleSearchLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	basePath := request.GetString("base_path", "")
	if basePath == "" {
		return mcp.NewToolResultError("base_path parameter is required"), nil
	}
	opts, err := keywordOptions(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(opts.Keywords) == 0 {
		return mcp.NewToolResultError("keywords parameter is required"), nil
	}

	res, err := s.engine.Search(ctx, pipeline.SearchQuery{
		BasePath:     basePath,
		ContextLines: request.GetInt("context_lines", 0),
		MaxResults:   request.GetInt("max_results", 100),
		Options:      opts,
	})
	if err != nil {
		return queryError(err), nil
	}

	text, err := report.Search(*res, report.Text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to format result: %v", err)), nil
	}
	manifest, err := json.Marshal(ToSearchManifest(res))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return result(string(text), string(manifest)), nil
}

func (s *Server) handleGetReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("report_id", "")
	if id == "" {
		return mcp.NewToolResultError("report_id parameter is required"), nil
	}

	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		var notFound store.ErrNotFound
		if errors.As(err, &notFound) {
			return mcp.NewToolResultError(fmt.Sprintf("report not found: report_id=%s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := report.Report(*r, report.JSON)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// reportResult saves r and renders it as formatted text plus a manifest.
func (s *Server) reportResult(ctx context.Context, r *contracts.Report, format report.Format, limit int) (*mcp.CallToolResult, error) {
	if err := s.store.SaveReport(ctx, r); err != nil {
		s.logger.Warn("failed to save report %s: %v", r.ID, err)
	}

	text, err := report.Report(*r, format)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to format report: %v", err)), nil
	}
	manifest, err := json.Marshal(ToManifest(r, limit))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return result(string(text), string(manifest)), nil
}

func keywordOptions(request mcp.CallToolRequest) (pipeline.Options, error) {
	logic, err := keyword.ParseLogic(request.GetString("logic", ""))
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Keywords: request.GetStringSlice("keywords", nil),
		Logic:    logic,
		Fuzzy:    request.GetBool("fuzzy", false),
	}, nil
}

// queryError turns an engine failure into a tool error naming its kind.
func queryError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("query failed (%s): %v", errkind.KindOf(err), err))
}

func result(blocks ...string) *mcp.CallToolResult {
	content := make([]mcp.Content, len(blocks))
	for i, b := range blocks {
		content[i] = mcp.NewTextContent(b)
	}
	return &mcp.CallToolResult{Content: content}
}
