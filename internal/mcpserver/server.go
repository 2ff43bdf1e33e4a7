// Package mcpserver is the composition root's MCP surface: it exposes
// search, ingest, and index status as MCP tools over stdio.
package mcpserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	memoerrors "github.com/memoindex/memosearch/internal/errors"
	"github.com/memoindex/memosearch/internal/index"
	"github.com/memoindex/memosearch/internal/ingest"
	"github.com/memoindex/memosearch/internal/search"
	"github.com/memoindex/memosearch/pkg/version"
)

// Server bridges MCP clients to the retrieval core: the Index Manager's
// Get/Status, the Retriever Registry's search strategies, and the
// Ingestion Pipeline's per-memo and per-creator operations.
type Server struct {
	mcp      *mcp.Server
	registry *search.Registry
	idx      *index.Manager
	pipeline *ingest.Pipeline
	log      *slog.Logger
}

// New creates a Server and registers its tools.
func New(registry *search.Registry, idx *index.Manager, pipeline *ingest.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		registry: registry,
		idx:      idx,
		pipeline: pipeline,
		log:      log,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "memosearch",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// SearchInput is the MCP search tool's input schema.
type SearchInput struct {
	Query    string            `json:"query" jsonschema:"the search query text"`
	Mode     string            `json:"mode,omitempty" jsonschema:"retrieval strategy name, default 'hybrid'"`
	TopK     int               `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	MinScore float64           `json:"min_score,omitempty" jsonschema:"drop results scoring below this value"`
	Filters  map[string]string `json:"filters,omitempty" jsonschema:"metadata equality filters, e.g. {\"creator\": \"users/1\"}"`
	Alpha    float64           `json:"alpha,omitempty" jsonschema:"blend weight for bm25_vector_alpha mode, in [0,1]"`
}

// SearchResultOutput is one result row in the MCP search tool's output.
type SearchResultOutput struct {
	NodeID   string            `json:"node_id"`
	MemoUID  string            `json:"memo_uid"`
	Score    float64           `json:"score"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Source   string            `json:"source"`
}

// SearchOutput is the MCP search tool's output schema.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

// IngestInput is the MCP ingest tool's input: a creator whose memos are
// all fetched and reindexed by the creator-scoped rebuild pipeline.
type IngestInput struct {
	Creator string `json:"creator" jsonschema:"the creator whose memos to (re)ingest, e.g. 'users/1'"`
}

// IngestOutput acknowledges that a background rebuild was started.
type IngestOutput struct {
	Started bool   `json:"started"`
	Creator string `json:"creator"`
}

// StatusOutput mirrors index.Status for the index_status tool.
type StatusOutput struct {
	TotalMemos        int    `json:"total_memos"`
	TotalTextVectors  int    `json:"total_text_vectors"`
	TotalImageVectors int    `json:"total_image_vectors"`
	TextCollection    string `json:"text_collection"`
	ImageCollection   string `json:"image_collection"`
	BM25Ready         bool   `json:"bm25_ready"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid multi-modal search over indexed memos and their attachments. Supports dense text/image kNN, BM25 keyword search, and fused strategies (rrf, weighted, bm25_vector, bm25_vector_alpha, adaptive).",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest",
		Description: "Start a background reindex of every memo for a creator. Returns immediately; poll index_status for progress.",
	}, s.ingestHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report memo/node counts and BM25 readiness for the retrieval index.",
	}, s.statusHandler)

	s.log.Info("mcpserver: tools registered", slog.Int("count", 3))
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, memoerrors.NewValidationError("query is required", nil)
	}
	mode := input.Mode
	if mode == "" {
		mode = "hybrid"
	}
	topK := input.TopK
	if topK <= 0 {
		topK = 10
	}

	retriever, err := s.registry.Get(s.idx, mode, search.Params{Alpha: input.Alpha})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	reqID := uuid.NewString()
	start := time.Now()
	results, err := retriever.Retrieve(ctx, search.Query{
		Text:     input.Query,
		TopK:     topK,
		MinScore: input.MinScore,
		Filters:  input.Filters,
	})
	if err != nil {
		s.log.Error("mcpserver: search failed",
			slog.String("request_id", reqID),
			slog.String("strategy", mode),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, err
	}
	s.log.Info("mcpserver: search served",
		slog.String("request_id", reqID),
		slog.String("strategy", mode),
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultOutput{
			NodeID:   r.NodeID,
			MemoUID:  r.MemoUID,
			Score:    r.Score,
			Content:  r.Content,
			Metadata: r.Metadata,
			Source:   r.Source,
		})
	}
	return nil, out, nil
}

func (s *Server) ingestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (*mcp.CallToolResult, IngestOutput, error) {
	if input.Creator == "" {
		return nil, IngestOutput{}, memoerrors.NewValidationError("creator is required", nil)
	}
	if err := s.pipeline.RebuildCreator(ctx, input.Creator); err != nil {
		return nil, IngestOutput{}, err
	}
	return nil, IngestOutput{Started: true, Creator: input.Creator}, nil
}

func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StatusOutput, error) {
	status, err := s.idx.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{
		TotalMemos:        status.TotalMemos,
		TotalTextVectors:  status.TotalTextVectors,
		TotalImageVectors: status.TotalImageVectors,
		TextCollection:    status.TextCollection,
		ImageCollection:   status.ImageCollection,
		BM25Ready:         status.BM25Ready,
	}, nil
}

// Serve runs the MCP server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("mcpserver: starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.log.Error("mcpserver: stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.log.Info("mcpserver: stopped")
	return nil
}
