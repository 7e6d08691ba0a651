package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/input"
	"github.com/fyrsmithlabs/pointerd/internal/pipeline"
	"github.com/fyrsmithlabs/pointerd/internal/sanitize"
)

type regionInput struct {
	X      int `json:"x" jsonschema:"required,Left edge of the capture region in global screen pixels"`
	Y      int `json:"y" jsonschema:"required,Top edge of the capture region in global screen pixels"`
	Width  int `json:"width" jsonschema:"required,Region width in pixels"`
	Height int `json:"height" jsonschema:"required,Region height in pixels"`
}

type clickInput struct {
	X           *int         `json:"x,omitempty" jsonschema:"Target x coordinate in global screen pixels. Omit both x and y to click at the current cursor position."`
	Y           *int         `json:"y,omitempty" jsonschema:"Target y coordinate in global screen pixels"`
	Button      string       `json:"button,omitempty" jsonschema:"Mouse button: left, right, or middle (default: left)"`
	ClickCount  int          `json:"click_count,omitempty" jsonschema:"Number of clicks, e.g. 2 for a double click (default: 1)"`
	HoldButtons []string     `json:"hold_buttons,omitempty" jsonschema:"Buttons held down across the click sequence"`
	Region      *regionInput `json:"region,omitempty" jsonschema:"Capture region the coordinates came from, used to clamp the click"`
	ZoomLevel   float64      `json:"zoom_level,omitempty" jsonschema:"Capture zoom accompanying the region"`
	LocalCoords bool         `json:"local_coordinates,omitempty" jsonschema:"Treat x and y as region-local capture coordinates and map them to the screen. Requires region."`
	Description string       `json:"description,omitempty" jsonschema:"Free-text description of the target element, e.g. 'Submit button'. Improves retry targeting."`
	Source      string       `json:"source,omitempty" jsonschema:"What produced the coordinates, e.g. 'ai' or 'manual'"`
	App         string       `json:"app,omitempty" jsonschema:"Application the click targets, when known"`
	SessionID   string       `json:"session_id,omitempty" jsonschema:"Telemetry session to journal under (default: current session)"`
}

type clickOutput struct {
	Success     bool            `json:"success" jsonschema:"Whether the click landed within the success radius of the target"`
	Distance    float64         `json:"distance" jsonschema:"Distance between target and landing point in pixels"`
	Actual      geometry.Point  `json:"actual" jsonschema:"Where the cursor actually landed"`
	Adjusted    *geometry.Point `json:"adjusted,omitempty" jsonschema:"The point actually clicked after drift, clamping and snap, when it differs from the target"`
	ClickTaskID string          `json:"click_task_id" jsonschema:"Id correlating this click's journal records"`
	Retries     int             `json:"retries" jsonschema:"Verification retries replayed"`
}

func (s *Server) handleClick(ctx context.Context, args clickInput) (clickOutput, error) {
	if (args.X == nil) != (args.Y == nil) {
		return clickOutput{}, fmt.Errorf("x and y must be provided together")
	}
	if args.SessionID != "" {
		if _, err := sanitize.SessionID(args.SessionID); err != nil {
			return clickOutput{}, err
		}
	}

	if args.LocalCoords && args.Region == nil {
		return clickOutput{}, fmt.Errorf("local_coordinates requires a region")
	}

	req := pipeline.Request{
		SessionID:        args.SessionID,
		Button:           input.Button(args.Button),
		ClickCount:       args.ClickCount,
		ZoomLevel:        args.ZoomLevel,
		LocalCoordinates: args.LocalCoords,
		Description:      args.Description,
		Source:           args.Source,
		App:              args.App,
	}
	if args.X != nil {
		req.Target = &geometry.Point{X: *args.X, Y: *args.Y}
	}
	if args.Region != nil {
		region := geometry.Region{
			X:      args.Region.X,
			Y:      args.Region.Y,
			Width:  args.Region.Width,
			Height: args.Region.Height,
		}
		req.Region = &region
	}
	for _, b := range args.HoldButtons {
		req.HoldButtons = append(req.HoldButtons, input.Button(b))
	}

	result, err := s.pipeline.Click(ctx, req)
	if err != nil {
		return clickOutput{}, err
	}
	return clickOutput{
		Success:     result.Success,
		Distance:    result.Distance,
		Actual:      result.Actual,
		Adjusted:    result.Adjusted,
		ClickTaskID: result.ClickTaskID,
		Retries:     result.Retries,
	}, nil
}

func (s *Server) registerClickTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "desktop_click",
		Description: "Click at a screen coordinate with self-calibration: applies learned drift compensation, clamps to the capture region, snaps onto nearby UI features, verifies the UI reacted, and journals the outcome for accuracy learning. Omit coordinates to click at the current cursor position.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args clickInput) (*mcp.CallToolResult, clickOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "desktop_click")
		defer s.metrics.DecrementActive(ctx, "desktop_click")

		output, err := s.handleClick(ctx, args)
		s.metrics.RecordInvocation(ctx, "desktop_click", time.Since(start), err)
		if err != nil {
			s.logger.Warn("desktop_click failed", zap.Error(err))
			return nil, clickOutput{}, err
		}

		text := fmt.Sprintf("Clicked at (%d, %d)", output.Actual.X, output.Actual.Y)
		if args.X != nil {
			if output.Success {
				text = fmt.Sprintf("Clicked at (%d, %d), %.1fpx from target",
					output.Actual.X, output.Actual.Y, output.Distance)
			} else {
				text = fmt.Sprintf("Clicked at (%d, %d) but landed %.1fpx from target",
					output.Actual.X, output.Actual.Y, output.Distance)
			}
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, output, nil
	})
}
