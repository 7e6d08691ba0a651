// Package telemetry maintains the per-session click journal and the
// EMA-smoothed drift store the click pipeline learns from.
//
// All journal writes are best-effort: failures are logged and absorbed so
// telemetry can never block or break an automation action. Only session
// id validation surfaces errors to callers.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/pointerd/internal/telemetry"

// Config configures the telemetry store.
type Config struct {
	// RootDir holds one directory per session.
	RootDir string

	// Enabled toggles all journal and drift writes.
	Enabled bool

	// DriftCompensation toggles EMA drift learning.
	DriftCompensation bool

	// DriftAlpha is the EMA smoothing factor in (0, 1] (default: 0.2).
	DriftAlpha float64

	// Calibration toggles calibration snapshot storage.
	Calibration bool
}

// DefaultConfig returns sensible defaults. RootDir must still be set.
func DefaultConfig() *Config {
	return &Config{
		Enabled:           true,
		DriftCompensation: true,
		DriftAlpha:        0.2,
		Calibration:       false,
	}
}

// Store is a registry of telemetry sessions. One session is "current" at
// a time; operations taking a session id treat "" as the current session,
// starting the default session if none was ever started.
type Store struct {
	config *Config
	logger *zap.Logger

	meter          metric.Meter
	clicksRecorded metric.Int64Counter
	eventsRecorded metric.Int64Counter
	writeFailures  metric.Int64Counter

	mu        sync.Mutex
	sessions  map[string]*session
	currentID string
}

// session is the in-memory state for one on-disk session directory.
// Its mutex serializes journal appends and drift read-modify-write.
type session struct {
	id        string
	dir       string
	logPath   string
	driftPath string
	calibDir  string

	mu    sync.Mutex
	drift Drift
}

// NewStore creates a telemetry store rooted at cfg.RootDir.
func NewStore(cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	root, err := sanitize.ValidatePath(cfg.RootDir, "")
	if err != nil {
		return nil, fmt.Errorf("telemetry root directory: %w", err)
	}
	cfg.RootDir = root
	if cfg.DriftAlpha <= 0 || cfg.DriftAlpha > 1 {
		return nil, fmt.Errorf("drift alpha must be in (0, 1]: %v", cfg.DriftAlpha)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		config:   cfg,
		logger:   logger,
		meter:    otel.Meter(instrumentationName),
		sessions: map[string]*session{},
	}
	s.initMetrics()

	return s, nil
}

func (s *Store) initMetrics() {
	var err error

	s.clicksRecorded, err = s.meter.Int64Counter(
		"pointerd.telemetry.clicks_recorded_total",
		metric.WithDescription("Total click attempts journaled"),
		metric.WithUnit("{click}"),
	)
	if err != nil {
		s.logger.Warn("failed to create clicks counter", zap.Error(err))
	}

	s.eventsRecorded, err = s.meter.Int64Counter(
		"pointerd.telemetry.events_recorded_total",
		metric.WithDescription("Total events journaled"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		s.logger.Warn("failed to create events counter", zap.Error(err))
	}

	s.writeFailures, err = s.meter.Int64Counter(
		"pointerd.telemetry.write_failures_total",
		metric.WithDescription("Journal or drift writes that failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		s.logger.Warn("failed to create write failure counter", zap.Error(err))
	}
}

// StartSession validates and normalizes id, ensures its directory, journal
// and drift files exist, loads drift into memory, and makes it current.
// Returns the normalized id.
func (s *Store) StartSession(ctx context.Context, id string) (string, error) {
	normalized, err := sanitize.SessionID(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.openLocked(normalized)
	if err != nil {
		return "", err
	}
	s.currentID = sess.id

	s.logger.Info("telemetry session started",
		zap.String("session_id", sess.id),
		zap.Float64("drift_x", sess.drift.X),
		zap.Float64("drift_y", sess.drift.Y),
	)
	return sess.id, nil
}

// CalibrationEnabled reports whether calibration snapshots are stored.
func (s *Store) CalibrationEnabled() bool {
	return s.config.Enabled && s.config.Calibration
}

// CurrentSession returns the current session id, or "" before first use.
func (s *Store) CurrentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// CurrentDrift returns the in-memory smoothed offset for the session
// ("" = current). Sessions that cannot be resolved report zero drift, as
// does any session while drift compensation is off: persisted drift must
// not shift clicks when the operator has disabled compensation.
func (s *Store) CurrentDrift(sessionID string) Drift {
	if !s.config.DriftCompensation {
		return Drift{}
	}
	sess, err := s.resolve(sessionID)
	if err != nil {
		return Drift{}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.drift
}

// RecordClick journals a targeted click attempt and, when drift
// compensation is on, folds the observed error into the session drift.
// Best-effort: failures are logged, never returned.
func (s *Store) RecordClick(ctx context.Context, sessionID string, target, actual geometry.Point, c ClickContext, adjusted *geometry.Point) {
	if !s.config.Enabled {
		return
	}
	sess, err := s.resolve(sessionID)
	if err != nil {
		s.logger.Warn("record click: cannot resolve session", zap.Error(err))
		return
	}

	delta := actual.Delta(target)

	sess.mu.Lock()
	if s.config.DriftCompensation {
		sess.drift = s.updateDrift(sess.drift, delta)
		if err := s.persistDriftLocked(sess); err != nil {
			s.countWriteFailure(ctx)
			s.logger.Warn("failed to persist drift", zap.String("session_id", sess.id), zap.Error(err))
		}
	}
	err = s.appendLocked(sess, rawClickRecord{
		Target:            target,
		Adjusted:          adjusted,
		Actual:            actual,
		Delta:             delta,
		Region:            c.Region,
		ZoomLevel:         c.ZoomLevel,
		TargetDescription: c.TargetDescription,
		Source:            c.Source,
		App:               c.App,
		ClickTaskID:       c.ClickTaskID,
		Timestamp:         timestamp(),
	})
	sess.mu.Unlock()

	if err != nil {
		s.countWriteFailure(ctx)
		s.logger.Warn("failed to journal click", zap.String("session_id", sess.id), zap.Error(err))
		return
	}
	if s.clicksRecorded != nil {
		s.clicksRecorded.Add(ctx, 1)
	}
}

// RecordUntargetedClick journals a click that had no resolved target.
func (s *Store) RecordUntargetedClick(ctx context.Context, sessionID string, actual geometry.Point, clickContext string) {
	s.RecordEvent(ctx, sessionID, EventUntargetedClick, map[string]interface{}{
		"actual":  actual,
		"context": clickContext,
	})
}

// RecordEvent journals an arbitrary named event. Keys in data never
// override the type or timestamp fields. Best-effort.
func (s *Store) RecordEvent(ctx context.Context, sessionID, eventType string, data map[string]interface{}) {
	if !s.config.Enabled {
		return
	}
	sess, err := s.resolve(sessionID)
	if err != nil {
		s.logger.Warn("record event: cannot resolve session", zap.Error(err))
		return
	}

	line := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		if k == "type" || k == "timestamp" {
			continue
		}
		line[k] = v
	}
	line["type"] = eventType
	line["timestamp"] = timestamp()

	sess.mu.Lock()
	err = s.appendLocked(sess, line)
	sess.mu.Unlock()

	if err != nil {
		s.countWriteFailure(ctx)
		s.logger.Warn("failed to journal event",
			zap.String("session_id", sess.id),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	if s.eventsRecorded != nil {
		s.eventsRecorded.Add(ctx, 1)
	}
}

// StoreCalibrationSnapshot writes a PNG into the session's calibration
// directory and journals a calibration_snapshot event. No-op unless
// calibration is enabled. Best-effort.
func (s *Store) StoreCalibrationSnapshot(ctx context.Context, sessionID string, img image.Image, meta SnapshotMeta) {
	if !s.config.Enabled || !s.config.Calibration {
		return
	}
	sess, err := s.resolve(sessionID)
	if err != nil {
		s.logger.Warn("calibration snapshot: cannot resolve session", zap.Error(err))
		return
	}

	name := fmt.Sprintf("snapshot-%s.png", uuid.NewString())
	path := filepath.Join(sess.calibDir, name)

	if err := s.writePNG(path, img); err != nil {
		s.countWriteFailure(ctx)
		s.logger.Warn("failed to store calibration snapshot",
			zap.String("session_id", sess.id),
			zap.Error(err),
		)
		return
	}

	s.RecordEvent(ctx, sess.id, EventCalibrationSnapshot, map[string]interface{}{
		"file":    name,
		"target":  meta.Target,
		"actual":  meta.Actual,
		"context": meta.Context,
	})
}

func (s *Store) writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create calibration directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// ResetAll zeroes the session's drift, truncates its journal, and deletes
// its calibration snapshots ("" = current session). Filesystem errors are
// logged and absorbed; only an invalid explicit id is returned.
func (s *Store) ResetAll(ctx context.Context, sessionID string) error {
	if sessionID != "" {
		normalized, err := sanitize.SessionID(sessionID)
		if err != nil {
			return err
		}
		sessionID = normalized
	}

	sess, err := s.resolve(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.drift = Drift{}
	if err := s.persistDriftLocked(sess); err != nil {
		s.countWriteFailure(ctx)
		s.logger.Warn("reset: failed to zero drift", zap.String("session_id", sess.id), zap.Error(err))
	}
	if err := os.Truncate(sess.logPath, 0); err != nil && !os.IsNotExist(err) {
		s.countWriteFailure(ctx)
		s.logger.Warn("reset: failed to truncate journal", zap.String("session_id", sess.id), zap.Error(err))
	}
	if entries, err := os.ReadDir(sess.calibDir); err == nil {
		for _, e := range entries {
			if err := os.Remove(filepath.Join(sess.calibDir, e.Name())); err != nil {
				s.logger.Warn("reset: failed to remove snapshot",
					zap.String("session_id", sess.id),
					zap.String("file", e.Name()),
					zap.Error(err),
				)
			}
		}
	}

	s.logger.Info("telemetry session reset", zap.String("session_id", sess.id))
	return nil
}

// ListSessions enumerates session directories under the root, each with
// its timeline summary, and marks the current one.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.config.RootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read telemetry root: %w", err)
	}

	current := s.CurrentSession()

	var infos []SessionInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := sanitize.SessionID(e.Name()); err != nil {
			continue
		}
		timeline, err := s.SessionTimeline(ctx, e.Name(), 0)
		if err != nil {
			s.logger.Warn("failed to summarize session", zap.String("session_id", e.Name()), zap.Error(err))
			timeline = Timeline{SessionID: e.Name()}
		}
		infos = append(infos, SessionInfo{
			ID:       e.Name(),
			Current:  e.Name() == current,
			Timeline: timeline,
		})
	}
	return infos, nil
}

// SessionLogPath returns the journal path for a session ("" = current).
func (s *Store) SessionLogPath(sessionID string) (string, error) {
	sess, err := s.resolve(sessionID)
	if err != nil {
		return "", err
	}
	return sess.logPath, nil
}

// resolve returns the session for id, starting it lazily. An empty id
// means the current session, falling back to the default session.
func (s *Store) resolve(sessionID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		sessionID = s.currentID
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	normalized, err := sanitize.SessionID(sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := s.openLocked(normalized)
	if err != nil {
		return nil, err
	}
	if s.currentID == "" {
		s.currentID = sess.id
	}
	return sess, nil
}

// openLocked loads or creates a session's on-disk state. Caller holds s.mu.
func (s *Store) openLocked(id string) (*session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}

	dir := filepath.Join(s.config.RootDir, id)
	sess := &session{
		id:        id,
		dir:       dir,
		logPath:   filepath.Join(dir, logFileName),
		driftPath: filepath.Join(dir, driftFileName),
		calibDir:  filepath.Join(dir, calibrationDir),
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	f, err := os.OpenFile(sess.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create session journal: %w", err)
	}
	_ = f.Close()

	sess.drift = s.loadDrift(sess.driftPath)
	if _, err := os.Stat(sess.driftPath); os.IsNotExist(err) {
		if err := s.persistDriftLocked(sess); err != nil {
			s.logger.Warn("failed to initialize drift file", zap.String("session_id", id), zap.Error(err))
		}
	}

	s.sessions[id] = sess
	return sess, nil
}

// loadDrift reads the persisted drift, resetting to zero when the file is
// absent, corrupt, or carries non-finite values.
func (s *Store) loadDrift(path string) Drift {
	data, err := os.ReadFile(path)
	if err != nil {
		return Drift{}
	}
	var d Drift
	if err := json.Unmarshal(data, &d); err != nil {
		s.logger.Warn("corrupt drift file, resetting", zap.String("path", path), zap.Error(err))
		return Drift{}
	}
	if !finite(d.X) || !finite(d.Y) {
		s.logger.Warn("non-finite drift, resetting", zap.String("path", path))
		return Drift{}
	}
	return d
}

// updateDrift applies the EMA update drift' = drift + alpha*(delta - drift).
// Non-finite results are discarded.
func (s *Store) updateDrift(d Drift, delta geometry.Point) Drift {
	alpha := s.config.DriftAlpha
	next := Drift{
		X: d.X + alpha*(float64(delta.X)-d.X),
		Y: d.Y + alpha*(float64(delta.Y)-d.Y),
	}
	if !finite(next.X) || !finite(next.Y) {
		return Drift{}
	}
	return next
}

// persistDriftLocked flushes the session drift to disk. Caller holds sess.mu
// (or is constructing the session).
func (s *Store) persistDriftLocked(sess *session) error {
	data, err := json.Marshal(sess.drift)
	if err != nil {
		return fmt.Errorf("failed to marshal drift: %w", err)
	}
	if err := os.WriteFile(sess.driftPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write drift file: %w", err)
	}
	return nil
}

// appendLocked writes one JSON line to the session journal. Caller holds
// sess.mu, which is what keeps concurrent lines from interleaving.
func (s *Store) appendLocked(sess *session, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	f, err := os.OpenFile(sess.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (s *Store) countWriteFailure(ctx context.Context) {
	if s.writeFailures != nil {
		s.writeFailures.Add(ctx, 1)
	}
}

// rawClickRecord is the journal line for a targeted click attempt.
type rawClickRecord struct {
	Target            geometry.Point   `json:"target"`
	Adjusted          *geometry.Point  `json:"adjusted,omitempty"`
	Actual            geometry.Point   `json:"actual"`
	Delta             geometry.Point   `json:"delta"`
	Region            *geometry.Region `json:"region,omitempty"`
	ZoomLevel         float64          `json:"zoomLevel,omitempty"`
	TargetDescription string           `json:"targetDescription,omitempty"`
	Source            string           `json:"source,omitempty"`
	App               string           `json:"app,omitempty"`
	ClickTaskID       string           `json:"clickTaskId,omitempty"`
	Timestamp         string           `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
