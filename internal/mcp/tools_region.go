package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
)

type regionLookupInput struct {
	Name string `json:"name" jsonschema:"required,3x3 grid region name: top|middle|bottom - left|center|right, e.g. 'top-left' or 'middle-center'"`
}

type regionLookupOutput struct {
	Name   string          `json:"name" jsonschema:"The resolved region name"`
	Region geometry.Region `json:"region" jsonschema:"The region bounds in global screen pixels"`
}

func (s *Server) registerRegionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "screen_region",
		Description: "Resolve a named 3x3 grid region like 'top-left' or 'middle-center' to its pixel bounds on the screen. Useful for zoomed captures before a region-bounded click.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args regionLookupInput) (*mcp.CallToolResult, regionLookupOutput, error) {
		start := time.Now()
		region, err := geometry.NamedRegion(args.Name, s.screenWidth, s.screenHeight)
		s.metrics.RecordInvocation(ctx, "screen_region", time.Since(start), err)
		if err != nil {
			return nil, regionLookupOutput{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(
				"Region %q covers x=%d y=%d %dx%d", args.Name, region.X, region.Y, region.Width, region.Height)}},
		}, regionLookupOutput{Name: args.Name, Region: region}, nil
	})
}
