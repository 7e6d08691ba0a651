// Package mcp exposes the click pipeline and telemetry sessions as MCP
// tools over the stdio transport.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls internal services directly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/analytics"
	"github.com/fyrsmithlabs/pointerd/internal/pipeline"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

// Server is the MCP server wiring tools to the click pipeline.
type Server struct {
	mcp          *mcp.Server
	pipeline     *pipeline.Service
	store        *telemetry.Store
	analytics    *analytics.Service
	metrics      *Metrics
	logger       *zap.Logger
	screenWidth  int
	screenHeight int
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "pointerd")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// ScreenWidth and ScreenHeight bound named region lookups
	// (default: 1920x1080)
	ScreenWidth  int
	ScreenHeight int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:         "pointerd",
		Version:      "1.0.0",
		Logger:       zap.NewNop(),
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	}
}

// NewServer creates the MCP server with the given services.
func NewServer(
	cfg *Config,
	pipelineSvc *pipeline.Service,
	store *telemetry.Store,
	analyticsSvc *analytics.Service,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ScreenWidth <= 0 || cfg.ScreenHeight <= 0 {
		cfg.ScreenWidth = 1920
		cfg.ScreenHeight = 1080
	}
	if pipelineSvc == nil {
		return nil, fmt.Errorf("pipeline service is required")
	}
	if store == nil {
		return nil, fmt.Errorf("telemetry store is required")
	}
	if analyticsSvc == nil {
		return nil, fmt.Errorf("analytics service is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		pipeline:     pipelineSvc,
		store:        store,
		analytics:    analyticsSvc,
		metrics:      NewMetrics(cfg.Logger),
		logger:       cfg.Logger,
		screenWidth:  cfg.ScreenWidth,
		screenHeight: cfg.ScreenHeight,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	s.registerClickTools()
	s.registerRegionTools()
	s.registerSessionTools()
}
