package analytics

import (
	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

// Trend directions for click accuracy over time.
const (
	TrendImproving  = "improving"
	TrendSteady     = "steady"
	TrendRegressing = "regressing"
)

// AttemptSample is one logical click attempt derived from the journal.
// A single attempt may appear in the journal twice (raw record plus
// smart_click_complete summary); samples are deduplicated by click task
// id so it contributes exactly once.
type AttemptSample struct {
	// Error is the distance between original target and landing point.
	Error float64
	// Success is nil when the journal line carried no success verdict.
	Success *bool
	// Offset is the observed landing delta (actual - target), when known.
	Offset *geometry.Point
	// BucketKey is the 200px region bucket of the landing coordinate.
	BucketKey string
	// TimestampMs is the journal timestamp in epoch ms, 0 when unknown.
	TimestampMs int64
}

// Counters are the raw tallies over one session journal.
type Counters struct {
	TargetedClicks   int            `json:"targeted_clicks"`
	UntargetedClicks int            `json:"untargeted_clicks"`
	RetryClicks      int            `json:"retry_clicks"`
	HoverProbes      int            `json:"hover_probes"`
	PostClickDiffs   int            `json:"post_click_diffs"`
	HoverAvgDiff     float64        `json:"hover_avg_diff"`
	PostClickAvgDiff float64        `json:"post_click_avg_diff"`
	ActionCounts     map[string]int `json:"action_counts,omitempty"`
}

// Convergence compares mean absolute error across two adjacent sample
// windows.
type Convergence struct {
	Direction        string  `json:"direction"`
	RecentAvgError   float64 `json:"recent_avg_error"`
	PreviousAvgError float64 `json:"previous_avg_error"`
	RelativeChange   float64 `json:"relative_change"`
	WindowSize       int     `json:"window_size"`
}

// RegionalHotspot aggregates accuracy for one 200px screen bucket.
type RegionalHotspot struct {
	BucketKey      string          `json:"bucket_key"`
	Center         geometry.Point  `json:"center"`
	Attempts       int             `json:"attempts"`
	SuccessRate    float64         `json:"success_rate"`
	AverageError   float64         `json:"average_error"`
	WeightedOffset *geometry.Point `json:"weighted_offset,omitempty"`
}

// LearningMetrics summarizes what the drift loop has learned.
type LearningMetrics struct {
	// WeightedOffset is the recency/success-weighted mean landing offset,
	// nil while too few samples qualify.
	WeightedOffset *geometry.Point   `json:"weighted_offset,omitempty"`
	SampleCount    int               `json:"sample_count"`
	Convergence    Convergence       `json:"convergence"`
	Hotspots       []RegionalHotspot `json:"hotspots,omitempty"`
}

// Summary is the full analytics view of one session.
type Summary struct {
	Timeline telemetry.Timeline `json:"timeline"`
	Counters Counters           `json:"counters"`
	Learning LearningMetrics    `json:"learning"`
}
