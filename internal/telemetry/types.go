package telemetry

import (
	"time"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
)

// Event type discriminators written to the session journal. Raw click
// records carry no type field.
const (
	EventAction              = "action"
	EventUntargetedClick     = "untargeted_click"
	EventSmartClickComplete  = "smart_click_complete"
	EventHoverProbe          = "hover_probe"
	EventPostClickDiff       = "post_click_diff"
	EventRetryClick          = "retry_click"
	EventCalibrationSnapshot = "calibration_snapshot"
)

// Journal file names under each session directory.
const (
	logFileName     = "click-telemetry.log"
	driftFileName   = "drift.json"
	calibrationDir  = "calibration"
)

// DefaultSessionID is the session used when a caller never starts one.
const DefaultSessionID = "default"

// Drift is the learned systematic offset between requested and actual
// click landing points, EMA-smoothed per session.
type Drift struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// IsZero reports whether no drift has been learned.
func (d Drift) IsZero() bool {
	return d.X == 0 && d.Y == 0
}

// ClickContext carries the optional metadata accompanying a click record.
type ClickContext struct {
	// App is the application the click targeted, when known.
	App string
	// Region is the capture region the coordinates came from, if any.
	Region *geometry.Region
	// ZoomLevel is the capture zoom, when a region was used.
	ZoomLevel float64
	// TargetDescription is the free-text element description, if any.
	TargetDescription string
	// Source labels what produced the coordinates (e.g. "ai", "manual").
	Source string
	// ClickTaskID correlates the raw record with pipeline summary events.
	ClickTaskID string
}

// SnapshotMeta describes a calibration snapshot.
type SnapshotMeta struct {
	Target  geometry.Point
	Actual  geometry.Point
	Context string
}

// TimelineEvent is one action event surfaced by a session timeline.
type TimelineEvent struct {
	Name    string                 `json:"name"`
	Time    time.Time              `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Timeline summarizes a session's journal: its observed span and the most
// recent action events in chronological order.
type Timeline struct {
	SessionID string          `json:"session_id"`
	Start     time.Time       `json:"start,omitzero"`
	End       time.Time       `json:"end,omitzero"`
	Duration  time.Duration   `json:"duration"`
	Events    []TimelineEvent `json:"events"`
}

// SessionInfo describes one on-disk session.
type SessionInfo struct {
	ID       string   `json:"id"`
	Current  bool     `json:"current"`
	Timeline Timeline `json:"timeline"`
}
