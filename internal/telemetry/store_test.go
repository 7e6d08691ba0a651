package telemetry

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/sanitize"
)

func newTestStore(t *testing.T, mutate func(*Config)) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RootDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	return store
}

func readJournal(t *testing.T, store *Store, sessionID string) []map[string]interface{} {
	t.Helper()
	path, err := store.SessionLogPath(sessionID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines []map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestNewStore_RequiresRootDir(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewStore(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root directory")
}

func TestNewStore_RejectsTraversalRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = "/var/lib/pointerd/../../etc"
	_, err := NewStore(cfg, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, sanitize.ErrPathTraversal)
}

func TestNewStore_ResolvesRelativeRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = "telemetry-data"
	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(store.config.RootDir))
}

func TestNewStore_RejectsBadAlpha(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = t.TempDir()
	cfg.DriftAlpha = 0
	_, err := NewStore(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestStartSession_NormalizesID(t *testing.T) {
	store := newTestStore(t, nil)

	id, err := store.StartSession(context.Background(), " valid-ID_123 ")
	require.NoError(t, err)
	assert.Equal(t, "valid-ID_123", id)
	assert.Equal(t, "valid-ID_123", store.CurrentSession())
}

func TestStartSession_RejectsTraversalBeforeFilesystem(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.StartSession(context.Background(), "../etc/passwd")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	// Nothing outside the root was touched and no directory was created.
	entries, err := os.ReadDir(store.config.RootDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStartSession_CreatesFiles(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.StartSession(ctx, "s1")
	require.NoError(t, err)

	dir := filepath.Join(store.config.RootDir, "s1")
	assert.FileExists(t, filepath.Join(dir, "click-telemetry.log"))
	assert.FileExists(t, filepath.Join(dir, "drift.json"))
}

func TestDriftEMA(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	_, err := store.StartSession(ctx, "ema")
	require.NoError(t, err)

	// drift=(0,0), alpha=0.2, delta=(10,0) => (2,0)
	store.RecordClick(ctx, "", geometry.Point{X: 100, Y: 100}, geometry.Point{X: 110, Y: 100}, ClickContext{}, nil)
	assert.InDelta(t, 2.0, store.CurrentDrift("").X, 1e-9)
	assert.InDelta(t, 0.0, store.CurrentDrift("").Y, 1e-9)

	// Same delta again => (3.6, 0)
	store.RecordClick(ctx, "", geometry.Point{X: 100, Y: 100}, geometry.Point{X: 110, Y: 100}, ClickContext{}, nil)
	assert.InDelta(t, 3.6, store.CurrentDrift("").X, 1e-9)
}

func TestDriftPersistsAcrossStores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = t.TempDir()
	ctx := context.Background()

	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = store.StartSession(ctx, "persist")
	require.NoError(t, err)
	store.RecordClick(ctx, "", geometry.Point{X: 0, Y: 0}, geometry.Point{X: 10, Y: 5}, ClickContext{}, nil)

	reopened, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = reopened.StartSession(ctx, "persist")
	require.NoError(t, err)

	drift := reopened.CurrentDrift("")
	assert.InDelta(t, 2.0, drift.X, 1e-9)
	assert.InDelta(t, 1.0, drift.Y, 1e-9)
}

func TestCorruptDriftFileResetsToZero(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	dir := filepath.Join(store.config.RootDir, "corrupt")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drift.json"), []byte("{not json"), 0o600))

	_, err := store.StartSession(ctx, "corrupt")
	require.NoError(t, err)
	assert.True(t, store.CurrentDrift("").IsZero())
}

func TestNonFiniteDriftResetsToZero(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	dir := filepath.Join(store.config.RootDir, "naughty")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drift.json"), []byte(`{"x":1e999,"y":0}`), 0o600))

	_, err := store.StartSession(ctx, "naughty")
	require.NoError(t, err)
	assert.True(t, store.CurrentDrift("").IsZero())
}

func TestRecordClick_DriftCompensationDisabled(t *testing.T) {
	store := newTestStore(t, func(c *Config) { c.DriftCompensation = false })
	ctx := context.Background()
	_, err := store.StartSession(ctx, "nodrift")
	require.NoError(t, err)

	store.RecordClick(ctx, "", geometry.Point{X: 0, Y: 0}, geometry.Point{X: 10, Y: 10}, ClickContext{}, nil)
	assert.True(t, store.CurrentDrift("").IsZero())

	// The raw record is still journaled.
	lines := readJournal(t, store, "")
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "type")
}

func TestPersistedDriftIgnoredWhenCompensationDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = t.TempDir()
	ctx := context.Background()

	// Learn some drift with compensation on.
	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = store.StartSession(ctx, "legacy")
	require.NoError(t, err)
	store.RecordClick(ctx, "", geometry.Point{X: 0, Y: 0}, geometry.Point{X: 25, Y: 0}, ClickContext{}, nil)
	require.False(t, store.CurrentDrift("").IsZero())

	// Reopening with compensation off must not apply the persisted drift.
	off := *cfg
	off.DriftCompensation = false
	reopened, err := NewStore(&off, zap.NewNop())
	require.NoError(t, err)
	_, err = reopened.StartSession(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, reopened.CurrentDrift("").IsZero())
	assert.True(t, reopened.CurrentDrift("legacy").IsZero())
}

func TestRecordClick_JournalLine(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	_, err := store.StartSession(ctx, "journal")
	require.NoError(t, err)

	adjusted := geometry.Point{X: 98, Y: 99}
	store.RecordClick(ctx, "",
		geometry.Point{X: 100, Y: 100},
		geometry.Point{X: 105, Y: 103},
		ClickContext{
			App:               "browser",
			TargetDescription: "Save button",
			Source:            "ai",
			ClickTaskID:       "task-1",
			ZoomLevel:         2,
			Region:            &geometry.Region{X: 0, Y: 0, Width: 500, Height: 500},
		},
		&adjusted,
	)

	lines := readJournal(t, store, "")
	require.Len(t, lines, 1)
	line := lines[0]

	assert.Equal(t, map[string]interface{}{"x": 100.0, "y": 100.0}, line["target"])
	assert.Equal(t, map[string]interface{}{"x": 105.0, "y": 103.0}, line["actual"])
	assert.Equal(t, map[string]interface{}{"x": 5.0, "y": 3.0}, line["delta"])
	assert.Equal(t, map[string]interface{}{"x": 98.0, "y": 99.0}, line["adjusted"])
	assert.Equal(t, "browser", line["app"])
	assert.Equal(t, "Save button", line["targetDescription"])
	assert.Equal(t, "ai", line["source"])
	assert.Equal(t, "task-1", line["clickTaskId"])
	assert.Equal(t, 2.0, line["zoomLevel"])
	assert.NotEmpty(t, line["timestamp"])
}

func TestRecordEvent_DataCannotOverrideTypeOrTimestamp(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	_, err := store.StartSession(ctx, "events")
	require.NoError(t, err)

	store.RecordEvent(ctx, "", EventHoverProbe, map[string]interface{}{
		"diff":      4.5,
		"type":      "spoofed",
		"timestamp": "spoofed",
	})

	lines := readJournal(t, store, "")
	require.Len(t, lines, 1)
	assert.Equal(t, EventHoverProbe, lines[0]["type"])
	assert.NotEqual(t, "spoofed", lines[0]["timestamp"])
	assert.Equal(t, 4.5, lines[0]["diff"])
}

func TestRecordDisabledStoreWritesNothing(t *testing.T) {
	store := newTestStore(t, func(c *Config) { c.Enabled = false })
	ctx := context.Background()

	store.RecordClick(ctx, "", geometry.Point{}, geometry.Point{X: 5, Y: 5}, ClickContext{}, nil)
	store.RecordEvent(ctx, "", EventAction, map[string]interface{}{"name": "noop"})

	entries, err := os.ReadDir(store.config.RootDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUntargetedClick(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	_, err := store.StartSession(ctx, "untargeted")
	require.NoError(t, err)

	store.RecordUntargetedClick(ctx, "", geometry.Point{X: 7, Y: 8}, "double_click")

	lines := readJournal(t, store, "")
	require.Len(t, lines, 1)
	assert.Equal(t, EventUntargetedClick, lines[0]["type"])
	assert.Equal(t, "double_click", lines[0]["context"])
}

func TestCalibrationSnapshot(t *testing.T) {
	store := newTestStore(t, func(c *Config) { c.Calibration = true })
	ctx := context.Background()
	_, err := store.StartSession(ctx, "calib")
	require.NoError(t, err)

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	store.StoreCalibrationSnapshot(ctx, "", img, SnapshotMeta{
		Target:  geometry.Point{X: 1, Y: 2},
		Actual:  geometry.Point{X: 3, Y: 4},
		Context: "post-click",
	})

	calibDir := filepath.Join(store.config.RootDir, "calib", "calibration")
	entries, err := os.ReadDir(calibDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".png"))

	lines := readJournal(t, store, "")
	require.Len(t, lines, 1)
	assert.Equal(t, EventCalibrationSnapshot, lines[0]["type"])
	assert.Equal(t, entries[0].Name(), lines[0]["file"])
}

func TestCalibrationSnapshotDisabledByDefault(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	_, err := store.StartSession(ctx, "nocalib")
	require.NoError(t, err)

	store.StoreCalibrationSnapshot(ctx, "", image.NewGray(image.Rect(0, 0, 4, 4)), SnapshotMeta{})

	assert.NoDirExists(t, filepath.Join(store.config.RootDir, "nocalib", "calibration"))
}

func TestResetAll(t *testing.T) {
	store := newTestStore(t, func(c *Config) { c.Calibration = true })
	ctx := context.Background()
	_, err := store.StartSession(ctx, "reset-me")
	require.NoError(t, err)

	store.RecordClick(ctx, "", geometry.Point{X: 0, Y: 0}, geometry.Point{X: 10, Y: 0}, ClickContext{}, nil)
	store.StoreCalibrationSnapshot(ctx, "", image.NewGray(image.Rect(0, 0, 4, 4)), SnapshotMeta{})
	require.False(t, store.CurrentDrift("").IsZero())

	require.NoError(t, store.ResetAll(ctx, ""))

	assert.True(t, store.CurrentDrift("").IsZero())
	path, err := store.SessionLogPath("")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	entries, err := os.ReadDir(filepath.Join(store.config.RootDir, "reset-me", "calibration"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResetAll_InvalidExplicitID(t *testing.T) {
	store := newTestStore(t, nil)
	err := store.ResetAll(context.Background(), "../oops")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	_, err := store.StartSession(ctx, "alpha")
	require.NoError(t, err)
	_, err = store.StartSession(ctx, "beta")
	require.NoError(t, err)

	infos, err := store.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byID := map[string]SessionInfo{}
	for _, info := range infos {
		byID[info.ID] = info
	}
	assert.False(t, byID["alpha"].Current)
	assert.True(t, byID["beta"].Current)
}

func TestResolveDefaultsToDefaultSession(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	store.RecordEvent(ctx, "", EventAction, map[string]interface{}{"name": "move"})

	assert.Equal(t, DefaultSessionID, store.CurrentSession())
	lines := readJournal(t, store, DefaultSessionID)
	assert.Len(t, lines, 1)
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	_, err := store.StartSession(ctx, "race")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			store.RecordEvent(ctx, "", EventAction, map[string]interface{}{"name": "burst", "n": n})
		}(i)
	}
	wg.Wait()

	// Every line must parse; readJournal fails the test otherwise.
	lines := readJournal(t, store, "")
	assert.Len(t, lines, 50)
}
