package analytics

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

func newFixture(t *testing.T) (*Service, *telemetry.Store) {
	t.Helper()
	tcfg := telemetry.DefaultConfig()
	tcfg.RootDir = t.TempDir()
	store, err := telemetry.NewStore(tcfg, zap.NewNop())
	require.NoError(t, err)
	_, err = store.StartSession(context.Background(), "fixture")
	require.NoError(t, err)

	svc, err := NewService(nil, store, zap.NewNop())
	require.NoError(t, err)
	return svc, store
}

func appendLines(t *testing.T, store *telemetry.Store, lines ...string) {
	t.Helper()
	path, err := store.SessionLogPath("")
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func boolPtr(b bool) *bool { return &b }

func offsetSample(x, y int, success *bool) AttemptSample {
	return AttemptSample{
		Offset:  &geometry.Point{X: x, Y: y},
		Success: success,
	}
}

func TestNewService_RequiresStore(t *testing.T) {
	_, err := NewService(nil, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestSamples_DedupByClickTaskID(t *testing.T) {
	svc, store := newFixture(t)
	appendLines(t, store,
		`{"target":{"x":100,"y":100},"actual":{"x":105,"y":100},"delta":{"x":5,"y":0},"clickTaskId":"t1","timestamp":"2026-08-01T10:00:00Z"}`,
		`{"type":"smart_click_complete","success":true,"distance":5,"delta":{"x":5,"y":0},"target":{"x":100,"y":100},"actual":{"x":105,"y":100},"clickTaskId":"t1","timestamp":"2026-08-01T10:00:00Z"}`,
	)

	samples, err := svc.Samples("")
	require.NoError(t, err)
	require.Len(t, samples, 1)

	// The summary line filled in the success verdict the raw record lacked.
	require.NotNil(t, samples[0].Success)
	assert.True(t, *samples[0].Success)
	assert.InDelta(t, 5, samples[0].Error, 1e-9)
}

func TestSamples_NoTaskIDEachLineCounts(t *testing.T) {
	svc, store := newFixture(t)
	appendLines(t, store,
		`{"target":{"x":10,"y":10},"actual":{"x":12,"y":10},"delta":{"x":2,"y":0},"timestamp":"2026-08-01T10:00:00Z"}`,
		`{"target":{"x":20,"y":20},"actual":{"x":22,"y":20},"delta":{"x":2,"y":0},"timestamp":"2026-08-01T10:00:01Z"}`,
	)

	samples, err := svc.Samples("")
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestSamples_SkipsMalformedLines(t *testing.T) {
	svc, store := newFixture(t)
	appendLines(t, store,
		`{"target":{"x":10,"y":10},"timestamp":"2026-08-01T10:00:00Z"}`, // missing actual/delta
		`half a json line`,
		`{"target":{"x":10,"y":10},"actual":{"x":12,"y":10},"delta":{"x":2,"y":0},"timestamp":"2026-08-01T10:00:01Z"}`,
	)

	samples, err := svc.Samples("")
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestWeightedOffset_UnknownBelowFiveSamples(t *testing.T) {
	svc, _ := newFixture(t)

	samples := []AttemptSample{
		offsetSample(10, 0, nil),
		offsetSample(8, 0, nil),
		offsetSample(6, 0, nil),
		offsetSample(4, 0, nil),
	}
	assert.Nil(t, svc.WeightedOffset(samples))
}

func TestWeightedOffset_HandComputedFixture(t *testing.T) {
	svc, _ := newFixture(t)

	// Oldest to newest. Ages are 5..1; weights 1/sqrt(age), x1.5 on
	// success:
	//   (10,0) fail    w=0.44721
	//   (8,0)  unknown w=0.50000
	//   (6,0)  success w=0.86603
	//   (4,0)  fail    w=0.70711
	//   (2,0)  success w=1.50000
	// weighted mean X = 19.49672/4.02035 = 4.85 -> 5
	samples := []AttemptSample{
		offsetSample(10, 0, boolPtr(false)),
		offsetSample(8, 0, nil),
		offsetSample(6, 0, boolPtr(true)),
		offsetSample(4, 0, boolPtr(false)),
		offsetSample(2, 0, boolPtr(true)),
	}

	offset := svc.WeightedOffset(samples)
	require.NotNil(t, offset)
	assert.Equal(t, geometry.Point{X: 5, Y: 0}, *offset)
}

func TestWeightedOffset_IgnoresOffsetlessSamples(t *testing.T) {
	svc, _ := newFixture(t)

	samples := []AttemptSample{
		offsetSample(2, 0, nil),
		{Error: 3}, // no offset, does not qualify
		offsetSample(2, 0, nil),
		offsetSample(2, 0, nil),
		offsetSample(2, 0, nil),
	}
	// Only 4 qualifying samples.
	assert.Nil(t, svc.WeightedOffset(samples))
}

func TestConvergenceTrend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConvergenceWindow = 2
	svc, err := NewService(cfg, mustStore(t), zap.NewNop())
	require.NoError(t, err)

	t.Run("improving", func(t *testing.T) {
		trend := svc.ConvergenceTrend([]AttemptSample{
			{Error: 10}, {Error: 10}, {Error: 2}, {Error: 2},
		})
		assert.Equal(t, TrendImproving, trend.Direction)
		assert.InDelta(t, 2, trend.RecentAvgError, 1e-9)
		assert.InDelta(t, 10, trend.PreviousAvgError, 1e-9)
		assert.InDelta(t, -0.8, trend.RelativeChange, 1e-9)
	})

	t.Run("regressing", func(t *testing.T) {
		trend := svc.ConvergenceTrend([]AttemptSample{
			{Error: 2}, {Error: 2}, {Error: 10}, {Error: 10},
		})
		assert.Equal(t, TrendRegressing, trend.Direction)
	})

	t.Run("steady", func(t *testing.T) {
		trend := svc.ConvergenceTrend([]AttemptSample{
			{Error: 10}, {Error: 10}, {Error: 10}, {Error: 10},
		})
		assert.Equal(t, TrendSteady, trend.Direction)
		assert.Zero(t, trend.RelativeChange)
	})

	t.Run("window capped to available samples", func(t *testing.T) {
		trend := svc.ConvergenceTrend([]AttemptSample{
			{Error: 10}, {Error: 4},
		})
		assert.Equal(t, 1, trend.WindowSize)
		assert.Equal(t, TrendImproving, trend.Direction)
	})

	t.Run("too few samples is steady", func(t *testing.T) {
		trend := svc.ConvergenceTrend([]AttemptSample{{Error: 10}})
		assert.Equal(t, TrendSteady, trend.Direction)
		assert.Zero(t, trend.WindowSize)
	})

	t.Run("previous average floored at one", func(t *testing.T) {
		trend := svc.ConvergenceTrend([]AttemptSample{
			{Error: 0}, {Error: 0}, {Error: 0.5}, {Error: 0.5},
		})
		// delta 0.5 over max(0, 1) = +0.5
		assert.Equal(t, TrendRegressing, trend.Direction)
		assert.InDelta(t, 0.5, trend.RelativeChange, 1e-9)
	})
}

func TestRegionalHotspots_MinAttempts(t *testing.T) {
	svc, _ := newFixture(t)

	samples := []AttemptSample{
		// Bucket "0,0": 3 attempts.
		{Error: 10, BucketKey: "0,0", Success: boolPtr(false)},
		{Error: 20, BucketKey: "0,0", Success: boolPtr(true)},
		{Error: 30, BucketKey: "0,0", Success: boolPtr(false)},
		// Bucket "1,0": only 2, must never appear.
		{Error: 50, BucketKey: "1,0"},
		{Error: 50, BucketKey: "1,0"},
	}

	hotspots := svc.RegionalHotspots(samples)
	require.Len(t, hotspots, 1)
	assert.Equal(t, "0,0", hotspots[0].BucketKey)
	assert.Equal(t, 3, hotspots[0].Attempts)
	assert.InDelta(t, 20, hotspots[0].AverageError, 1e-9)
	assert.InDelta(t, 1.0/3.0, hotspots[0].SuccessRate, 1e-9)
	assert.Equal(t, geometry.Point{X: 100, Y: 100}, hotspots[0].Center)
}

func TestRegionalHotspots_RankingAndLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotspotLimit = 2
	svc, err := NewService(cfg, mustStore(t), zap.NewNop())
	require.NoError(t, err)

	mkBucket := func(key string, count int, errVal float64) []AttemptSample {
		out := make([]AttemptSample, count)
		for i := range out {
			out[i] = AttemptSample{Error: errVal, BucketKey: key}
		}
		return out
	}

	var samples []AttemptSample
	samples = append(samples, mkBucket("0,0", 3, 5)...)
	samples = append(samples, mkBucket("1,0", 4, 25)...)
	samples = append(samples, mkBucket("2,0", 5, 25)...)
	samples = append(samples, mkBucket("3,0", 3, 15)...)

	hotspots := svc.RegionalHotspots(samples)
	require.Len(t, hotspots, 2)
	// Equal average error: more attempts ranks first.
	assert.Equal(t, "2,0", hotspots[0].BucketKey)
	assert.Equal(t, "1,0", hotspots[1].BucketKey)
}

func TestSessionSummary_Counters(t *testing.T) {
	svc, store := newFixture(t)
	appendLines(t, store,
		`{"target":{"x":100,"y":100},"actual":{"x":105,"y":100},"delta":{"x":5,"y":0},"clickTaskId":"t1","timestamp":"2026-08-01T10:00:00Z"}`,
		`{"type":"smart_click_complete","success":true,"distance":5,"delta":{"x":5,"y":0},"target":{"x":100,"y":100},"actual":{"x":105,"y":100},"clickTaskId":"t1","timestamp":"2026-08-01T10:00:00Z"}`,
		`{"type":"untargeted_click","actual":{"x":5,"y":5},"context":"manual","timestamp":"2026-08-01T10:00:01Z"}`,
		`{"type":"hover_probe","diff":4,"timestamp":"2026-08-01T10:00:02Z"}`,
		`{"type":"hover_probe","diff":6,"timestamp":"2026-08-01T10:00:03Z"}`,
		`{"type":"post_click_diff","diff":1.5,"timestamp":"2026-08-01T10:00:04Z"}`,
		`{"type":"retry_click","attempts":1,"intent":"button","timestamp":"2026-08-01T10:00:05Z"}`,
		`{"type":"action","name":"screenshot","timestamp":"2026-08-01T10:00:06Z"}`,
		`{"type":"action","name":"screenshot","timestamp":"2026-08-01T10:00:07Z"}`,
	)

	summary, err := svc.SessionSummary(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Counters.TargetedClicks)
	assert.Equal(t, 1, summary.Counters.UntargetedClicks)
	assert.Equal(t, 1, summary.Counters.RetryClicks)
	assert.Equal(t, 2, summary.Counters.HoverProbes)
	assert.InDelta(t, 5, summary.Counters.HoverAvgDiff, 1e-9)
	assert.InDelta(t, 1.5, summary.Counters.PostClickAvgDiff, 1e-9)
	assert.Equal(t, map[string]int{"screenshot": 2}, summary.Counters.ActionCounts)

	assert.Equal(t, 1, summary.Learning.SampleCount)
	assert.Nil(t, summary.Learning.WeightedOffset)
	assert.Len(t, summary.Timeline.Events, 2)
}

func mustStore(t *testing.T) *telemetry.Store {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.RootDir = t.TempDir()
	store, err := telemetry.NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	return store
}
