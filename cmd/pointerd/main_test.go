package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pointerd/internal/config"
)

func TestPipelineConfig(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	pc := pipelineConfig(cfg)
	assert.Equal(t, 12.0, pc.SuccessRadius)
	assert.Equal(t, 75*time.Millisecond, pc.SettleDelay)
	assert.Equal(t, 150*time.Millisecond, pc.MultiClickInterval)
	assert.Equal(t, 6, pc.Snap.Radius)
	assert.Equal(t, 0.25, pc.Snap.DistancePenalty)
	assert.True(t, pc.Hover.Enabled)
	assert.False(t, pc.Verify.Enabled)
	assert.Equal(t, 1, pc.Verify.RetryMax)
	assert.Equal(t, 1920, pc.ScreenWidth)
	assert.Equal(t, 1080, pc.ScreenHeight)
}

func TestRootCommandWiring(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["version"])
	assert.True(t, names["mcp"])
}
