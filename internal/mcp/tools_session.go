package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/analytics"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

type sessionStartInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier (letters, digits, underscore, hyphen). Becomes the current session."`
}

type sessionStartOutput struct {
	SessionID string `json:"session_id" jsonschema:"The started session id"`
}

type sessionResetInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session whose learned drift, journal and calibration snapshots are cleared"`
}

type sessionResetOutput struct {
	SessionID string `json:"session_id" jsonschema:"The reset session id"`
}

type sessionSummaryInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session to summarize (default: current session)"`
}

type sessionSummaryOutput struct {
	analytics.Summary
}

type sessionListInput struct{}

type sessionListOutput struct {
	Sessions []telemetry.SessionInfo `json:"sessions" jsonschema:"Known sessions with their timelines"`
	Count    int                     `json:"count" jsonschema:"Number of sessions"`
}

func (s *Server) handleSessionSummary(ctx context.Context, args sessionSummaryInput) (*analytics.Summary, error) {
	return s.analytics.SessionSummary(ctx, args.SessionID)
}

func (s *Server) registerSessionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_start",
		Description: "Start (or resume) a telemetry session and make it current. Each session learns its own drift compensation and keeps its own click journal.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionStartInput) (*mcp.CallToolResult, sessionStartOutput, error) {
		start := time.Now()
		id, err := s.store.StartSession(ctx, args.SessionID)
		s.metrics.RecordInvocation(ctx, "session_start", time.Since(start), err)
		if err != nil {
			return nil, sessionStartOutput{}, err
		}
		s.logger.Info("session started", zap.String("session_id", id))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Session %q is now current", id)}},
		}, sessionStartOutput{SessionID: id}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_reset",
		Description: "Clear a session's learned drift, click journal and calibration snapshots. The session id must be given explicitly.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionResetInput) (*mcp.CallToolResult, sessionResetOutput, error) {
		start := time.Now()
		err := s.store.ResetAll(ctx, args.SessionID)
		s.metrics.RecordInvocation(ctx, "session_reset", time.Since(start), err)
		if err != nil {
			return nil, sessionResetOutput{}, err
		}
		s.logger.Info("session reset", zap.String("session_id", args.SessionID))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Session %q reset", args.SessionID)}},
		}, sessionResetOutput{SessionID: args.SessionID}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_summary",
		Description: "Summarize a session's click accuracy: timeline, raw counters, learned offset, convergence trend and regional accuracy hotspots.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionSummaryInput) (*mcp.CallToolResult, sessionSummaryOutput, error) {
		start := time.Now()
		summary, err := s.handleSessionSummary(ctx, args)
		s.metrics.RecordInvocation(ctx, "session_summary", time.Since(start), err)
		if err != nil {
			return nil, sessionSummaryOutput{}, err
		}

		text := fmt.Sprintf("Session %q: %d targeted clicks, accuracy trend %s",
			summary.Timeline.SessionID,
			summary.Counters.TargetedClicks,
			summary.Learning.Convergence.Direction,
		)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, sessionSummaryOutput{Summary: *summary}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_list",
		Description: "List all telemetry sessions on disk with their timelines. The current session is marked.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionListInput) (*mcp.CallToolResult, sessionListOutput, error) {
		start := time.Now()
		sessions, err := s.store.ListSessions(ctx)
		s.metrics.RecordInvocation(ctx, "session_list", time.Since(start), err)
		if err != nil {
			return nil, sessionListOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d sessions", len(sessions))}},
		}, sessionListOutput{Sessions: sessions, Count: len(sessions)}, nil
	})
}
