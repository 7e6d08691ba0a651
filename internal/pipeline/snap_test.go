package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/input"
)

func newSnapService(t *testing.T, sim *input.Sim) *Service {
	t.Helper()
	svc, err := NewService(fastConfig(), sim, nil, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestSnapUniformROIIsNoOp(t *testing.T) {
	sim := input.NewSim(1920, 1080)
	svc := newSnapService(t, sim)

	p := geometry.Point{X: 500, Y: 400}
	got, err := svc.snapRefine(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSnapMovesToNearbyFeature(t *testing.T) {
	sim := input.NewSim(1920, 1080)
	// A single bright pixel two to the right of the target dominates the
	// contrast score.
	sim.SetPixel(geometry.Point{X: 502, Y: 400}, 255)
	svc := newSnapService(t, sim)

	got, err := svc.snapRefine(context.Background(), geometry.Point{X: 500, Y: 400})
	require.NoError(t, err)
	assert.Equal(t, geometry.Point{X: 502, Y: 400}, got)
}

func TestSnapRejectsShiftBeyondMax(t *testing.T) {
	sim := input.NewSim(1920, 1080)
	// Best feature sits five pixels out; the shift cap is four.
	sim.SetPixel(geometry.Point{X: 505, Y: 400}, 255)
	svc := newSnapService(t, sim)

	p := geometry.Point{X: 500, Y: 400}
	got, err := svc.snapRefine(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSnapRejectsWeakImprovement(t *testing.T) {
	sim := input.NewSim(1920, 1080)
	// Contrast of 8 neighbors x 3 intensity is under the improvement bar.
	sim.SetPixel(geometry.Point{X: 501, Y: 400}, 3)
	svc := newSnapService(t, sim)

	p := geometry.Point{X: 500, Y: 400}
	got, err := svc.snapRefine(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestSnapCaptureFailureReturnsOriginal(t *testing.T) {
	sim := input.NewSim(1920, 1080)
	sim.CaptureErr = assert.AnError
	svc := newSnapService(t, sim)

	p := geometry.Point{X: 500, Y: 400}
	got, err := svc.snapRefine(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, p, got)
}

func TestSnapDisabledSkipsCapture(t *testing.T) {
	sim := input.NewSim(1920, 1080)
	sim.CaptureErr = assert.AnError
	cfg := fastConfig()
	cfg.Snap.Enabled = false
	cfg.Hover.Enabled = false
	svc, err := NewService(cfg, sim, nil, zap.NewNop())
	require.NoError(t, err)

	target := geometry.Point{X: 500, Y: 400}
	result, err := svc.Click(context.Background(), Request{Target: &target})
	require.NoError(t, err)
	assert.Equal(t, target, result.Actual)
}
