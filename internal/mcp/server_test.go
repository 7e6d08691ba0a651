package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/analytics"
	"github.com/fyrsmithlabs/pointerd/internal/input"
	"github.com/fyrsmithlabs/pointerd/internal/pipeline"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

func newTestServer(t *testing.T) (*Server, *input.Sim, *telemetry.Store) {
	t.Helper()

	store, err := telemetry.NewStore(&telemetry.Config{
		RootDir:           t.TempDir(),
		Enabled:           true,
		DriftCompensation: true,
		DriftAlpha:        0.2,
	}, zap.NewNop())
	require.NoError(t, err)

	sim := input.NewSim(1920, 1080)
	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.SettleDelay = 0
	pipeCfg.MultiClickInterval = time.Millisecond
	pipeSvc, err := pipeline.NewService(pipeCfg, sim, store, zap.NewNop())
	require.NoError(t, err)

	analyticsSvc, err := analytics.NewService(nil, store, zap.NewNop())
	require.NoError(t, err)

	srv, err := NewServer(nil, pipeSvc, store, analyticsSvc)
	require.NoError(t, err)
	return srv, sim, store
}

func TestNewServerRequiresServices(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline service is required")
}

func TestHandleClickTargeted(t *testing.T) {
	srv, sim, _ := newTestServer(t)

	x, y := 640, 360
	output, err := srv.handleClick(context.Background(), clickInput{X: &x, Y: &y, Source: "test"})
	require.NoError(t, err)

	assert.True(t, output.Success)
	assert.NotEmpty(t, output.ClickTaskID)
	require.Len(t, sim.Clicks(), 1)
	assert.Equal(t, 640, sim.Clicks()[0].Position.X)
}

func TestHandleClickRejectsLoneCoordinate(t *testing.T) {
	srv, _, _ := newTestServer(t)

	x := 640
	_, err := srv.handleClick(context.Background(), clickInput{X: &x})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "together")
}

func TestHandleClickUntargeted(t *testing.T) {
	srv, sim, _ := newTestServer(t)

	output, err := srv.handleClick(context.Background(), clickInput{})
	require.NoError(t, err)
	assert.True(t, output.Success)
	assert.Len(t, sim.Clicks(), 1)
}

func TestHandleClickWithRegion(t *testing.T) {
	srv, sim, _ := newTestServer(t)

	x, y := 10, 10
	output, err := srv.handleClick(context.Background(), clickInput{
		X: &x, Y: &y,
		Region: &regionInput{X: 200, Y: 200, Width: 400, Height: 400},
	})
	require.NoError(t, err)

	require.NotNil(t, output.Adjusted)
	assert.Equal(t, 200, output.Adjusted.X)
	assert.Equal(t, 200, output.Adjusted.Y)
	require.Len(t, sim.Clicks(), 1)
}

func TestHandleClickLocalCoordinates(t *testing.T) {
	srv, sim, _ := newTestServer(t)

	x, y := 40, 60
	output, err := srv.handleClick(context.Background(), clickInput{
		X: &x, Y: &y,
		Region:      &regionInput{X: 100, Y: 200, Width: 200, Height: 200},
		ZoomLevel:   2,
		LocalCoords: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 120, output.Actual.X)
	assert.Equal(t, 230, output.Actual.Y)
	require.Len(t, sim.Clicks(), 1)
}

func TestHandleClickRejectsLocalCoordinatesWithoutRegion(t *testing.T) {
	srv, _, _ := newTestServer(t)

	x, y := 40, 60
	_, err := srv.handleClick(context.Background(), clickInput{X: &x, Y: &y, LocalCoords: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestHandleSessionSummary(t *testing.T) {
	srv, _, store := newTestServer(t)

	_, err := store.StartSession(context.Background(), "summary-test")
	require.NoError(t, err)

	x, y := 100, 100
	_, err = srv.handleClick(context.Background(), clickInput{X: &x, Y: &y})
	require.NoError(t, err)

	summary, err := srv.handleSessionSummary(context.Background(), sessionSummaryInput{})
	require.NoError(t, err)
	assert.Equal(t, "summary-test", summary.Timeline.SessionID)
	assert.Equal(t, 1, summary.Counters.TargetedClicks)
}
