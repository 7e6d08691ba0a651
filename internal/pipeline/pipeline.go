// Package pipeline executes coordinate-accurate clicks on behalf of
// vision-driven callers: it applies learned drift, clamps to capture
// regions, snaps onto nearby contrast features, clicks, verifies the UI
// reacted, and retries with intent-informed offsets when it did not.
// Every attempt is journaled so the drift loop keeps learning.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/input"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/pointerd/internal/pipeline"

// hoverROIRadius is the fixed capture radius for the hover probe.
const hoverROIRadius = 15

// SnapConfig tunes pre-click snap refinement.
type SnapConfig struct {
	Enabled         bool
	Radius          int
	DistancePenalty float64
	MinImprovement  float64
	MaxShift        int
}

// HoverConfig tunes the diagnostic hover probe.
type HoverConfig struct {
	Enabled   bool
	Offset    int
	Threshold float64
}

// VerifyConfig tunes post-click change verification and retry.
type VerifyConfig struct {
	Enabled         bool
	Delay           time.Duration
	ROIRadius       int
	ChangeThreshold float64
	RetryMax        int
}

// Config holds the click pipeline tunables.
type Config struct {
	SuccessRadius      float64
	SettleDelay        time.Duration
	MultiClickInterval time.Duration
	CalibrationWindow  int
	CalibrationDelay   time.Duration
	ScreenWidth        int
	ScreenHeight       int

	Snap   SnapConfig
	Hover  HoverConfig
	Verify VerifyConfig
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() *Config {
	return &Config{
		SuccessRadius:      12,
		SettleDelay:        75 * time.Millisecond,
		MultiClickInterval: 150 * time.Millisecond,
		CalibrationWindow:  60,
		CalibrationDelay:   200 * time.Millisecond,
		ScreenWidth:        1920,
		ScreenHeight:       1080,
		Snap: SnapConfig{
			Enabled:         true,
			Radius:          6,
			DistancePenalty: 0.25,
			MinImprovement:  30,
			MaxShift:        4,
		},
		Hover: HoverConfig{
			Enabled:   true,
			Offset:    2,
			Threshold: 3,
		},
		Verify: VerifyConfig{
			Enabled:         false,
			Delay:           250 * time.Millisecond,
			ROIRadius:       24,
			ChangeThreshold: 4.0,
			RetryMax:        1,
		},
	}
}

// Request describes one click.
type Request struct {
	// SessionID selects the telemetry session ("" = current).
	SessionID string

	// Target is the caller-supplied point, usually vision-derived. Nil
	// clicks at the current cursor position.
	Target *geometry.Point

	// Button defaults to the left button.
	Button input.Button

	// ClickCount > 1 issues press/release pairs at a fixed interval.
	ClickCount int

	// HoldButtons are held down across the click sequence.
	HoldButtons []input.Button

	// Region bounds the click when the coordinates came from a cropped
	// capture.
	Region *geometry.Region

	// ZoomLevel is the capture zoom accompanying Region.
	ZoomLevel float64

	// LocalCoordinates marks Target as region-local capture coordinates
	// that must be mapped to the global screen before clicking. Requires
	// Region.
	LocalCoordinates bool

	// Description is the free-text element description, used for intent
	// classification and journaled for analytics.
	Description string

	// Source labels what produced the coordinates (e.g. "ai", "manual").
	Source string

	// App is the application context, when known.
	App string
}

// Result is the outcome of a click whose actuation succeeded.
type Result struct {
	// Actual is the landing point read back from the OS.
	Actual geometry.Point `json:"actual"`
	// Success is measured against the original target, never the
	// drift-adjusted or snapped point. Always true for untargeted clicks.
	Success bool `json:"success"`
	// Distance is the error against the original target in pixels.
	Distance float64 `json:"distance"`
	// Adjusted is the point actually clicked, when it differs from the
	// target.
	Adjusted *geometry.Point `json:"adjusted,omitempty"`
	// ClickTaskID correlates the journal records for this click.
	ClickTaskID string `json:"click_task_id"`
	// Retries is how many verification retries were replayed.
	Retries int `json:"retries"`
}

// Service is the click pipeline. One Click call runs the full state
// machine sequentially; the wrapped driver serializes actuation across
// concurrent callers.
type Service struct {
	config *Config
	driver input.Driver
	store  *telemetry.Store
	logger *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	clicksTotal   metric.Int64Counter
	retriesTotal  metric.Int64Counter
	errorDistance metric.Float64Histogram
}

// NewService creates the pipeline. The driver is wrapped for global
// serialization; the store may be nil to disable telemetry entirely.
func NewService(cfg *Config, driver input.Driver, store *telemetry.Store, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if driver == nil {
		return nil, fmt.Errorf("input driver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config: cfg,
		driver: input.Serialize(driver),
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()

	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.clicksTotal, err = s.meter.Int64Counter(
		"pointerd.pipeline.clicks_total",
		metric.WithDescription("Clicks executed, by outcome"),
		metric.WithUnit("{click}"),
	)
	if err != nil {
		s.logger.Warn("failed to create clicks counter", zap.Error(err))
	}

	s.retriesTotal, err = s.meter.Int64Counter(
		"pointerd.pipeline.retries_total",
		metric.WithDescription("Verification retries replayed"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		s.logger.Warn("failed to create retries counter", zap.Error(err))
	}

	s.errorDistance, err = s.meter.Float64Histogram(
		"pointerd.pipeline.click_error_px",
		metric.WithDescription("Distance between target and landing point"),
		metric.WithUnit("px"),
	)
	if err != nil {
		s.logger.Warn("failed to create error histogram", zap.Error(err))
	}
}

// Click runs the pipeline for one request. Only actuation failures are
// returned; diagnostic and telemetry failures are logged and absorbed,
// so a click whose actuation succeeded always yields a Result.
func (s *Service) Click(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Click")
	defer span.End()

	if req.Button == "" {
		req.Button = input.ButtonLeft
	}
	if req.ClickCount < 1 {
		req.ClickCount = 1
	}
	taskID := uuid.NewString()

	if req.Region != nil && s.config.ScreenWidth > 0 && s.config.ScreenHeight > 0 {
		// Capture regions keep the capture minimum; plain clamp bounds
		// stay as tight as the caller asked.
		var r geometry.Region
		if req.LocalCoordinates {
			r = geometry.ValidateRegion(*req.Region, s.config.ScreenWidth, s.config.ScreenHeight)
		} else {
			r = req.Region.ClipTo(s.config.ScreenWidth, s.config.ScreenHeight)
		}
		req.Region = &r
	}
	if req.LocalCoordinates && req.Target != nil && req.Region != nil {
		// Map capture-local coordinates to the screen. Success is judged
		// against the mapped point, which is the real target.
		t := geometry.NewTransform(*req.Region, req.ZoomLevel).LocalToGlobal(req.Target.X, req.Target.Y)
		req.Target = &t
	}

	point, adjusted := s.resolvePoint(ctx, req)
	span.SetAttributes(attribute.Bool("targeted", req.Target != nil))

	// Move and click; any failure here is fatal to the click.
	if err := s.checkpoint(ctx); err != nil {
		return nil, err
	}
	if err := s.driver.MoveCursor(ctx, point); err != nil {
		return nil, s.fail(ctx, span, actuationError("move cursor", err))
	}
	for _, b := range req.HoldButtons {
		if err := s.driver.PressButton(ctx, b); err != nil {
			return nil, s.fail(ctx, span, actuationError("press button", err))
		}
	}

	preROI, verifyRegion := s.preClickCapture(ctx, point)
	s.hoverProbe(ctx, req.SessionID, point)

	if err := s.execute(ctx, req, point); err != nil {
		return nil, s.fail(ctx, span, err)
	}

	for _, b := range req.HoldButtons {
		if err := s.driver.ReleaseButton(ctx, b); err != nil {
			return nil, s.fail(ctx, span, actuationError("release button", err))
		}
	}

	if err := s.sleep(ctx, s.config.SettleDelay); err != nil {
		return nil, err
	}
	actual, err := s.driver.CursorPosition(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, actuationError("read cursor position", err))
	}

	result := &Result{
		Actual:      actual,
		ClickTaskID: taskID,
		Adjusted:    adjusted,
	}
	s.recordOutcome(ctx, req, result)
	s.calibrationSnapshot(ctx, req, result)

	if s.config.Verify.Enabled && preROI != nil {
		retries, err := s.postVerify(ctx, req, point, preROI, verifyRegion)
		if err != nil {
			return nil, s.fail(ctx, span, err)
		}
		result.Retries = retries
	}

	if s.clicksTotal != nil {
		s.clicksTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("success", result.Success),
			attribute.Bool("targeted", req.Target != nil),
		))
	}
	return result, nil
}

// resolvePoint applies drift compensation and region clamping to the
// caller's target. The second return is non-nil when the clicked point
// differs from the original target.
func (s *Service) resolvePoint(ctx context.Context, req Request) (geometry.Point, *geometry.Point) {
	if req.Target == nil {
		// Untargeted clicks act at the current cursor position.
		if pos, err := s.driver.CursorPosition(ctx); err == nil {
			return pos, nil
		}
		return geometry.Point{}, nil
	}

	point := *req.Target

	if s.store != nil {
		drift := s.store.CurrentDrift(req.SessionID)
		if !drift.IsZero() {
			point = geometry.Point{
				X: int(math.Round(float64(req.Target.X) - drift.X)),
				Y: int(math.Round(float64(req.Target.Y) - drift.Y)),
			}
			s.logger.Debug("applied drift compensation",
				zap.Float64("drift_x", drift.X),
				zap.Float64("drift_y", drift.Y),
				zap.Int("adjusted_x", point.X),
				zap.Int("adjusted_y", point.Y),
			)
		}
	}

	if req.Region != nil {
		point = req.Region.Clamp(point)
	}

	if s.config.Snap.Enabled {
		snapped, err := s.snapRefine(ctx, point)
		if err != nil {
			s.logger.Debug("snap refine capture failed", zap.Error(err))
		} else {
			point = snapped
		}
	}

	if point == *req.Target {
		return point, nil
	}
	adjusted := point
	return point, &adjusted
}

// preClickCapture samples the verification ROI before the click. Capture
// failure disables verification for this click only.
func (s *Service) preClickCapture(ctx context.Context, point geometry.Point) (*input.Grayscale, geometry.Region) {
	if !s.config.Verify.Enabled {
		return nil, geometry.Region{}
	}
	r := s.config.Verify.ROIRadius
	region := geometry.Region{
		X:      point.X - r,
		Y:      point.Y - r,
		Width:  2*r + 1,
		Height: 2*r + 1,
	}
	roi, err := s.driver.CaptureGrayscale(ctx, region)
	if err != nil {
		s.logger.Debug("pre-click capture failed, skipping verification", zap.Error(err))
		return nil, geometry.Region{}
	}
	return roi, region
}

// hoverProbe measures how much the UI reacts to the pointer hovering: it
// captures the ROI under the point, nudges the cursor sideways, captures
// again, moves back, and journals the mean difference. Diagnostic only;
// nothing branches on the result.
func (s *Service) hoverProbe(ctx context.Context, sessionID string, point geometry.Point) {
	if !s.config.Hover.Enabled || s.store == nil {
		return
	}

	region := geometry.Region{
		X:      point.X - hoverROIRadius,
		Y:      point.Y - hoverROIRadius,
		Width:  2*hoverROIRadius + 1,
		Height: 2*hoverROIRadius + 1,
	}

	before, err := s.driver.CaptureGrayscale(ctx, region)
	if err != nil {
		s.logger.Debug("hover probe capture failed", zap.Error(err))
		return
	}
	offsetPoint := geometry.Point{X: point.X + s.config.Hover.Offset, Y: point.Y}
	if err := s.driver.MoveCursor(ctx, offsetPoint); err != nil {
		s.logger.Debug("hover probe move failed", zap.Error(err))
		return
	}
	after, captureErr := s.driver.CaptureGrayscale(ctx, region)
	// Always try to move back, even when the second capture failed.
	if err := s.driver.MoveCursor(ctx, point); err != nil {
		s.logger.Debug("hover probe return move failed", zap.Error(err))
	}
	if captureErr != nil {
		s.logger.Debug("hover probe capture failed", zap.Error(captureErr))
		return
	}

	diff, err := before.MeanAbsDiff(after)
	if err != nil {
		s.logger.Debug("hover probe diff failed", zap.Error(err))
		return
	}
	s.store.RecordEvent(ctx, sessionID, telemetry.EventHoverProbe, map[string]interface{}{
		"diff":   diff,
		"offset": s.config.Hover.Offset,
	})
}

// execute issues the click itself: a single click, or press/release
// pairs separated by the multi-click interval.
func (s *Service) execute(ctx context.Context, req Request, point geometry.Point) error {
	if req.ClickCount == 1 {
		if err := s.driver.Click(ctx, req.Button); err != nil {
			return actuationError("click", err)
		}
		return nil
	}

	for i := 0; i < req.ClickCount; i++ {
		if i > 0 {
			if err := s.sleep(ctx, s.config.MultiClickInterval); err != nil {
				return err
			}
		}
		if err := s.driver.PressButton(ctx, req.Button); err != nil {
			return actuationError("press button", err)
		}
		if err := s.driver.ReleaseButton(ctx, req.Button); err != nil {
			return actuationError("release button", err)
		}
	}
	return nil
}

// recordOutcome scores the click against the original target, journals
// the summary event, and feeds the drift store.
func (s *Service) recordOutcome(ctx context.Context, req Request, result *Result) {
	if req.Target == nil {
		result.Success = true
		if s.store != nil {
			s.store.RecordUntargetedClick(ctx, req.SessionID, result.Actual, req.Source)
		}
		return
	}

	target := *req.Target
	result.Distance = result.Actual.Distance(target)
	result.Success = result.Distance <= s.config.SuccessRadius

	if s.errorDistance != nil {
		s.errorDistance.Record(ctx, result.Distance)
	}
	if s.store == nil {
		return
	}

	delta := result.Actual.Delta(target)
	event := map[string]interface{}{
		"success":     result.Success,
		"distance":    result.Distance,
		"delta":       delta,
		"target":      target,
		"actual":      result.Actual,
		"clickTaskId": result.ClickTaskID,
	}
	if result.Adjusted != nil {
		event["adjusted"] = *result.Adjusted
	}
	s.store.RecordEvent(ctx, req.SessionID, telemetry.EventSmartClickComplete, event)

	s.store.RecordClick(ctx, req.SessionID, target, result.Actual, telemetry.ClickContext{
		App:               req.App,
		Region:            req.Region,
		ZoomLevel:         req.ZoomLevel,
		TargetDescription: req.Description,
		Source:            req.Source,
		ClickTaskID:       result.ClickTaskID,
	}, result.Adjusted)
}

// calibrationSnapshot stores a small capture around the landing point
// for offline calibration review. Best-effort.
func (s *Service) calibrationSnapshot(ctx context.Context, req Request, result *Result) {
	if s.store == nil || !s.store.CalibrationEnabled() || req.Target == nil {
		return
	}
	if err := s.sleep(ctx, s.config.CalibrationDelay); err != nil {
		return
	}

	half := s.config.CalibrationWindow / 2
	roi, err := s.driver.CaptureGrayscale(ctx, geometry.Region{
		X:      result.Actual.X - half,
		Y:      result.Actual.Y - half,
		Width:  s.config.CalibrationWindow,
		Height: s.config.CalibrationWindow,
	})
	if err != nil {
		s.logger.Debug("calibration capture failed", zap.Error(err))
		return
	}
	s.store.StoreCalibrationSnapshot(ctx, req.SessionID, roi.Image(), telemetry.SnapshotMeta{
		Target:  *req.Target,
		Actual:  result.Actual,
		Context: req.Description,
	})
}

// postVerify recaptures the pre-click ROI after an extra settle delay.
// When the UI shows no change and retry budget remains, it replays
// intent-informed offset clicks; with no target metadata at all it
// re-clicks once in place. Returns how many retries were replayed.
func (s *Service) postVerify(ctx context.Context, req Request, point geometry.Point, preROI *input.Grayscale, region geometry.Region) (int, error) {
	if err := s.sleep(ctx, s.config.Verify.Delay); err != nil {
		return 0, err
	}

	postROI, err := s.driver.CaptureGrayscale(ctx, region)
	if err != nil {
		s.logger.Debug("post-click capture failed", zap.Error(err))
		return 0, nil
	}
	diff, err := preROI.MeanAbsDiff(postROI)
	if err != nil {
		s.logger.Debug("post-click diff failed", zap.Error(err))
		return 0, nil
	}

	if s.store != nil {
		s.store.RecordEvent(ctx, req.SessionID, telemetry.EventPostClickDiff, map[string]interface{}{
			"diff": diff,
		})
	}

	if diff >= s.config.Verify.ChangeThreshold || s.config.Verify.RetryMax <= 0 {
		return 0, nil
	}

	// No target metadata at all: one plain re-click, no offsets.
	if req.Target == nil && req.Description == "" {
		if err := s.driver.Click(ctx, req.Button); err != nil {
			return 0, actuationError("retry click", err)
		}
		s.recordRetry(ctx, req.SessionID, 1, IntentUnknown)
		return 1, nil
	}

	intent := ClassifyIntent(req.Description)
	offsets := RetryOffsets(intent)

	retries := 0
	for _, offset := range offsets {
		if retries >= s.config.Verify.RetryMax {
			break
		}
		if err := s.checkpoint(ctx); err != nil {
			return retries, err
		}

		retryPoint := geometry.Point{X: point.X + offset.X, Y: point.Y + offset.Y}
		if err := s.driver.MoveCursor(ctx, retryPoint); err != nil {
			return retries, actuationError("retry move", err)
		}
		if err := s.driver.Click(ctx, req.Button); err != nil {
			return retries, actuationError("retry click", err)
		}
		retries++
		s.recordRetry(ctx, req.SessionID, retries, intent)
	}
	return retries, nil
}

func (s *Service) recordRetry(ctx context.Context, sessionID string, attempts int, intent Intent) {
	if s.retriesTotal != nil {
		s.retriesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("intent", string(intent)),
		))
	}
	if s.store != nil {
		s.store.RecordEvent(ctx, sessionID, telemetry.EventRetryClick, map[string]interface{}{
			"attempts": attempts,
			"intent":   string(intent),
		})
	}
}

// sleep waits out a delay, aborting early when the caller's context is
// done. Drives the settle, multi-click and verification delays so a
// caller-supplied timeout can cut in between stages.
func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkpoint aborts between stages, never mid-actuation-call.
func (s *Service) checkpoint(ctx context.Context) error {
	return ctx.Err()
}

func (s *Service) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	if s.clicksTotal != nil {
		s.clicksTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("success", false),
			attribute.String("failure", "actuation"),
		))
	}
	return err
}
