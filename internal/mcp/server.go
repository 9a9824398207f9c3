package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ragkb/internal/engine"
	"github.com/Aman-CERP/ragkb/internal/state"
	"github.com/Aman-CERP/ragkb/pkg/version"
)

// Server bridges AI clients with the retrieval engine over MCP.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates an MCP server wrapping the engine.
func NewServer(eng *engine.Engine, logger *slog.Logger) (*Server, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine: eng,
		logger: logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ragkb",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query",
		Description: "Retrieve the most relevant knowledge-base chunks for a question and return a ready-to-use context block with citations. Use this before answering questions the loaded knowledge bases might cover.",
	}, s.handleRagQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "kb_list",
		Description: "List the loaded knowledge bases with their origin, chunk counts, and which one is active.",
	}, s.handleKBList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "kb_add",
		Description: "Ingest a UTF-8 .txt file as a new user knowledge base. The name is the file name without extension.",
	}, s.handleKBAdd)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "kb_remove",
		Description: "Remove a knowledge base by name. System entries may reappear after a directory re-scan.",
	}, s.handleKBRemove)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "kb_switch",
		Description: "Make a knowledge base the active one for single-mode queries.",
	}, s.handleKBSwitch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_status",
		Description: "Report engine status: enabled flag, query mode, active knowledge base, loaded names, and chunking settings.",
	}, s.handleRagStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_set_mode",
		Description: "Switch the query mode. single queries only the active knowledge base; multi queries all of them (and loads system knowledge bases on first entry).",
	}, s.handleRagSetMode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_set_enabled",
		Description: "Turn retrieval on or off. While off, rag_query rejects immediately.",
	}, s.handleRagSetEnabled)

	s.logger.Info("MCP tools registered", slog.Int("count", 8))
}

func (s *Server) handleRagQuery(ctx context.Context, _ *mcp.CallToolRequest, input RagQueryInput) (
	*mcp.CallToolResult,
	RagQueryOutput,
	error,
) {
	if input.Query == "" {
		return nil, RagQueryOutput{}, NewInvalidParamsError("query parameter is required")
	}

	var opts engine.QueryOptions
	switch input.Mode {
	case "":
	case string(state.ModeSingle), string(state.ModeMulti):
		opts.Mode = state.Mode(input.Mode)
	default:
		return nil, RagQueryOutput{}, NewInvalidParamsError(
			fmt.Sprintf("unknown mode %q (supported: single, multi)", input.Mode))
	}

	res, err := s.engine.Query(ctx, input.Query, opts)
	if err != nil {
		return nil, RagQueryOutput{}, MapError(err)
	}

	out := RagQueryOutput{
		Context:    res.Context,
		MatchCount: res.Metadata.MatchCount,
		KBSingle:   res.Metadata.KBSingle,
		KBMulti:    res.Metadata.KBMulti,
		References: make([]RefOutput, 0, len(res.Metadata.References)),
	}
	for _, r := range res.Metadata.References {
		out.References = append(out.References, RefOutput{
			ID:      r.ID,
			Score:   r.Score,
			KB:      r.KB,
			Excerpt: r.Excerpt,
		})
	}
	return nil, out, nil
}

func (s *Server) handleKBList(_ context.Context, _ *mcp.CallToolRequest, _ KBListInput) (
	*mcp.CallToolResult,
	KBListOutput,
	error,
) {
	entries := s.engine.ListKBs()
	out := KBListOutput{KnowledgeBases: make([]KBInfo, 0, len(entries))}
	for _, e := range entries {
		out.KnowledgeBases = append(out.KnowledgeBases, KBInfo{
			Name:       e.Name,
			Path:       e.Path,
			Origin:     string(e.Origin),
			Active:     e.Active,
			ChunkCount: e.ChunkCount,
		})
	}
	return nil, out, nil
}

func (s *Server) handleKBAdd(ctx context.Context, _ *mcp.CallToolRequest, input KBAddInput) (
	*mcp.CallToolResult,
	KBAddOutput,
	error,
) {
	if input.Path == "" {
		return nil, KBAddOutput{}, NewInvalidParamsError("path parameter is required")
	}

	res, err := s.engine.AddKB(ctx, input.Path)
	if err != nil {
		return nil, KBAddOutput{}, MapError(err)
	}
	return nil, KBAddOutput{Name: res.Name, ChunkCount: res.ChunkCount}, nil
}

func (s *Server) handleKBRemove(_ context.Context, _ *mcp.CallToolRequest, input KBRemoveInput) (
	*mcp.CallToolResult,
	KBRemoveOutput,
	error,
) {
	if input.Name == "" {
		return nil, KBRemoveOutput{}, NewInvalidParamsError("name parameter is required")
	}

	if err := s.engine.RemoveKB(input.Name); err != nil {
		return nil, KBRemoveOutput{}, MapError(err)
	}
	return nil, KBRemoveOutput{Removed: input.Name}, nil
}

func (s *Server) handleKBSwitch(_ context.Context, _ *mcp.CallToolRequest, input KBSwitchInput) (
	*mcp.CallToolResult,
	KBSwitchOutput,
	error,
) {
	if input.Name == "" {
		return nil, KBSwitchOutput{}, NewInvalidParamsError("name parameter is required")
	}

	if err := s.engine.SwitchKB(input.Name); err != nil {
		return nil, KBSwitchOutput{}, MapError(err)
	}
	return nil, KBSwitchOutput{Active: input.Name}, nil
}

func (s *Server) handleRagStatus(_ context.Context, _ *mcp.CallToolRequest, _ RagStatusInput) (
	*mcp.CallToolResult,
	RagStatusOutput,
	error,
) {
	st := s.engine.Status()
	return nil, RagStatusOutput{
		Enabled:      st.Enabled,
		Mode:         string(st.Mode),
		ActiveName:   st.ActiveName,
		LoadedNames:  st.LoadedNames,
		TotalChunks:  st.TotalChunks,
		ChunkSize:    st.ChunkSize,
		ChunkOverlap: st.ChunkOverlap,
	}, nil
}

func (s *Server) handleRagSetMode(ctx context.Context, _ *mcp.CallToolRequest, input RagSetModeInput) (
	*mcp.CallToolResult,
	RagSetModeOutput,
	error,
) {
	mode := state.Mode(input.Mode)
	if !mode.Valid() {
		return nil, RagSetModeOutput{}, NewInvalidParamsError(
			fmt.Sprintf("unknown mode %q (supported: single, multi)", input.Mode))
	}

	if err := s.engine.SetMode(ctx, mode); err != nil {
		return nil, RagSetModeOutput{}, MapError(err)
	}
	return nil, RagSetModeOutput{Mode: input.Mode}, nil
}

func (s *Server) handleRagSetEnabled(ctx context.Context, _ *mcp.CallToolRequest, input RagSetEnabledInput) (
	*mcp.CallToolResult,
	RagSetEnabledOutput,
	error,
) {
	if err := s.engine.SetEnabled(ctx, input.Enabled); err != nil {
		return nil, RagSetEnabledOutput{}, MapError(err)
	}
	return nil, RagSetEnabledOutput{Enabled: input.Enabled}, nil
}

// Serve runs the server over stdio until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
