// Package mcp serves the conversational-memory tool surface over the Model
// Context Protocol. Unlike a client-side MCP host, this Server exposes
// memory_add_message and memory_get_context directly against an
// *orchestrator.Orchestrator, for an LLM client to call.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mnemex/mnemex/internal/hybridltm"
	"github.com/mnemex/mnemex/internal/orchestrator"
	"github.com/mnemex/mnemex/internal/telemetry"
)

// Server wraps an MCP server bound to a single orchestrator instance.
type Server struct {
	mcp     *mcp.Server
	orch    *orchestrator.Orchestrator
	metrics *telemetry.Metrics
}

// NewServer builds a Server exposing orch's tools and registers them.
// A nil metrics uses [telemetry.DefaultMetrics].
func NewServer(orch *orchestrator.Orchestrator, metrics *telemetry.Metrics) *Server {
	if metrics == nil {
		metrics = telemetry.DefaultMetrics()
	}
	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "mnemex",
			Version: "0.1.0",
		}, nil),
		orch:    orch,
		metrics: metrics,
	}
	s.registerTools()
	return s
}

// Run serves the tool surface over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp: run: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	s.registerAddMessage()
	s.registerGetContext()
}

type addMessageInput struct {
	Role    string `json:"role" jsonschema:"required,Speaker role: user or assistant"`
	Content string `json:"content" jsonschema:"required,Message text to remember"`
}

type addMessageOutput struct {
	Accepted bool `json:"accepted" jsonschema:"Whether the message was recorded"`
}

func (s *Server) registerAddMessage() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_add_message",
		Description: "Record a conversation turn into short-term memory, promoting older turns into summarized mid-term and long-term memory as needed.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args addMessageInput) (*mcp.CallToolResult, addMessageOutput, error) {
		return addMessageHandler(s, ctx, args)
	})
}

func addMessageHandler(s *Server, ctx context.Context, args addMessageInput) (*mcp.CallToolResult, addMessageOutput, error) {
	if args.Role == "" {
		return nil, addMessageOutput{}, fmt.Errorf("role is required")
	}
	if args.Content == "" {
		return nil, addMessageOutput{}, fmt.Errorf("content is required")
	}
	if err := s.orch.AddMessage(ctx, args.Role, args.Content); err != nil {
		s.metrics.RecordTierQuery(ctx, "stm", "error")
		return nil, addMessageOutput{}, fmt.Errorf("memory_add_message: %w", err)
	}
	s.metrics.RecordTierQuery(ctx, "stm", "ok")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "message recorded"}},
	}, addMessageOutput{Accepted: true}, nil
}

type getContextInput struct {
	Query   string `json:"query" jsonschema:"required,Text to retrieve relevant context for"`
	NRecent int    `json:"n_recent,omitempty" jsonschema:"Number of recent short-term turns to include (default: 5)"`
	NChunks int    `json:"n_chunks,omitempty" jsonschema:"Number of mid-term chunks to include (default: 5)"`
	NLTM    int    `json:"n_ltm,omitempty" jsonschema:"Number of long-term results to include (default: 5)"`
	UseLTM  *bool  `json:"use_ltm,omitempty" jsonschema:"Whether to query long-term memory at all (default: true)"`
}

type contextItem struct {
	Source     string  `json:"source" jsonschema:"Originating tier: stm, mtm, or ltm"`
	Content    string  `json:"content" jsonschema:"Item text"`
	FinalScore float64 `json:"final_score" jsonschema:"Blended relevance/recency score"`
}

type getContextOutput struct {
	Items    []contextItem `json:"items" jsonschema:"Assembled, token-budgeted context items"`
	STMCount int           `json:"stm_count" jsonschema:"Number of short-term items before compression"`
	MTMCount int           `json:"mtm_count" jsonschema:"Number of mid-term items before compression"`
	LTMCount int           `json:"ltm_count" jsonschema:"Number of long-term items before compression"`
}

func (s *Server) registerGetContext() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_get_context",
		Description: "Retrieve and compress relevant context across short-term, mid-term, and long-term memory for a query.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args getContextInput) (*mcp.CallToolResult, getContextOutput, error) {
		return getContextHandler(s, ctx, args)
	})
}

func getContextHandler(s *Server, ctx context.Context, args getContextInput) (*mcp.CallToolResult, getContextOutput, error) {
	if args.Query == "" {
		return nil, getContextOutput{}, fmt.Errorf("query is required")
	}
	opts := orchestrator.GetContextOptions{
		NRecent:            defaultInt(args.NRecent, 5),
		NChunks:            defaultInt(args.NChunks, 5),
		NLTM:               defaultInt(args.NLTM, 5),
		UseLTM:             args.UseLTM == nil || *args.UseLTM,
		UseEmbeddingSearch: true,
		LTMStrategy:        hybridltm.VectorFirst,
	}
	bundle, err := s.orch.GetContext(ctx, args.Query, opts)
	if err != nil {
		s.metrics.RecordTierQuery(ctx, "orchestrator", "error")
		return nil, getContextOutput{}, fmt.Errorf("memory_get_context: %w", err)
	}
	s.recordBundleMetrics(ctx, bundle)

	items := make([]contextItem, 0, len(bundle.Items))
	for _, it := range bundle.Items {
		items = append(items, contextItem{
			Source:     string(it.Source),
			Content:    it.Content,
			FinalScore: it.FinalScore,
		})
	}
	output := getContextOutput{
		Items:    items,
		STMCount: bundle.Counts.STM,
		MTMCount: bundle.Counts.MTM,
		LTMCount: bundle.Counts.LTM,
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%d context items assembled", len(items))}},
	}, output, nil
}

// recordBundleMetrics reports per-tier and end-to-end latency from an
// already-retrieved bundle, plus a timeout counter per degraded tier.
func (s *Server) recordBundleMetrics(ctx context.Context, bundle orchestrator.Bundle) {
	s.metrics.STMDuration.Record(ctx, float64(bundle.Timings.STMMs)/1000)
	s.metrics.MTMDuration.Record(ctx, float64(bundle.Timings.MTMMs)/1000)
	s.metrics.LTMDuration.Record(ctx, float64(bundle.Timings.LTMMs)/1000)
	s.metrics.CompressorDuration.Record(ctx, float64(bundle.Timings.CompressMs)/1000)
	s.metrics.OrchestratorDuration.Record(ctx, float64(bundle.Timings.TotalMs)/1000)
	s.metrics.RecordTierQuery(ctx, "orchestrator", "ok")
	for _, tier := range bundle.Timeouts {
		s.metrics.RecordTierQuery(ctx, tier, "timeout")
	}
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
