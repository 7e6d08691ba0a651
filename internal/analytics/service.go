// Package analytics derives accuracy summaries from session telemetry
// journals: raw counters, learned-offset estimates, convergence trends,
// and regional accuracy hotspots.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

// Config configures the analytics service.
type Config struct {
	// ConvergenceWindow is the sample count per trend window (default: 20).
	ConvergenceWindow int

	// MaxOffsetSamples caps how many recent samples feed the weighted
	// offset (default: 50).
	MaxOffsetSamples int

	// MinOffsetSamples is the qualifying-sample floor below which the
	// weighted offset is unknown (default: 5).
	MinOffsetSamples int

	// HotspotMinAttempts is the attempts floor for materializing a
	// regional hotspot (default: 3).
	HotspotMinAttempts int

	// HotspotLimit caps the hotspots returned (default: 4).
	HotspotLimit int

	// TimelineEventLimit is the action-event count in summaries
	// (default: 20).
	TimelineEventLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ConvergenceWindow:  20,
		MaxOffsetSamples:   50,
		MinOffsetSamples:   5,
		HotspotMinAttempts: 3,
		HotspotLimit:       4,
		TimelineEventLimit: telemetry.DefaultEventLimit,
	}
}

// successWeightBoost multiplies the recency weight of successful samples.
const successWeightBoost = 1.5

// trendThreshold is the relative error change that separates steady from
// improving/regressing.
const trendThreshold = 0.05

// Service reads session journals and produces summaries. It only ever
// reads the telemetry store.
type Service struct {
	config *Config
	store  *telemetry.Store
	logger *zap.Logger
}

// NewService creates an analytics service over the given store.
func NewService(cfg *Config, store *telemetry.Store, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("telemetry store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{config: cfg, store: store, logger: logger}, nil
}

// SessionSummary builds the full analytics view for a session
// ("" = current).
func (s *Service) SessionSummary(ctx context.Context, sessionID string) (*Summary, error) {
	timeline, err := s.store.SessionTimeline(ctx, sessionID, s.config.TimelineEventLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to build timeline: %w", err)
	}

	samples, counters, err := s.collect(sessionID)
	if err != nil {
		return nil, err
	}

	return &Summary{
		Timeline: timeline,
		Counters: counters,
		Learning: LearningMetrics{
			WeightedOffset: s.WeightedOffset(samples),
			SampleCount:    len(samples),
			Convergence:    s.ConvergenceTrend(samples),
			Hotspots:       s.RegionalHotspots(samples),
		},
	}, nil
}

// Samples extracts deduplicated attempt samples for a session.
func (s *Service) Samples(sessionID string) ([]AttemptSample, error) {
	samples, _, err := s.collect(sessionID)
	return samples, err
}

// collect makes one pass over the journal, accumulating counters and
// attempt samples in line order.
func (s *Service) collect(sessionID string) ([]AttemptSample, Counters, error) {
	path, err := s.store.SessionLogPath(sessionID)
	if err != nil {
		return nil, Counters{}, fmt.Errorf("failed to resolve session journal: %w", err)
	}

	counters := Counters{ActionCounts: map[string]int{}}
	var hoverSum, postSum float64

	var samples []AttemptSample
	// Index into samples by click task id, for merging the raw record
	// with its smart_click_complete summary.
	byTask := map[string]int{}

	err = telemetry.ScanLog(path, func(line map[string]interface{}) {
		kind, _ := line["type"].(string)
		switch kind {
		case "":
			// Raw click record: no type field, carries target+actual+delta.
			if sample, ok := sampleFromRaw(line); ok {
				counters.TargetedClicks++
				mergeSample(&samples, byTask, sample, taskID(line))
			}
		case telemetry.EventSmartClickComplete:
			if sample, ok := sampleFromSummary(line); ok {
				mergeSample(&samples, byTask, sample, taskID(line))
			}
		case telemetry.EventUntargetedClick:
			counters.UntargetedClicks++
		case telemetry.EventRetryClick:
			counters.RetryClicks++
		case telemetry.EventHoverProbe:
			if diff, ok := line["diff"].(float64); ok {
				counters.HoverProbes++
				hoverSum += diff
			}
		case telemetry.EventPostClickDiff:
			if diff, ok := line["diff"].(float64); ok {
				counters.PostClickDiffs++
				postSum += diff
			}
		case telemetry.EventAction:
			if name, ok := line["name"].(string); ok && name != "" {
				counters.ActionCounts[name]++
			}
		}
	})
	if err != nil {
		return nil, Counters{}, fmt.Errorf("failed to scan journal: %w", err)
	}

	if counters.HoverProbes > 0 {
		counters.HoverAvgDiff = hoverSum / float64(counters.HoverProbes)
	}
	if counters.PostClickDiffs > 0 {
		counters.PostClickAvgDiff = postSum / float64(counters.PostClickDiffs)
	}
	if len(counters.ActionCounts) == 0 {
		counters.ActionCounts = nil
	}
	return samples, counters, nil
}

// mergeSample appends a new sample, or folds it into the existing sample
// sharing the same click task id so one logical click yields exactly one
// sample. Later lines only fill fields the first line lacked.
func mergeSample(samples *[]AttemptSample, byTask map[string]int, sample AttemptSample, task string) {
	if task == "" {
		*samples = append(*samples, sample)
		return
	}
	if idx, seen := byTask[task]; seen {
		existing := &(*samples)[idx]
		if existing.Success == nil {
			existing.Success = sample.Success
		}
		if existing.Offset == nil {
			existing.Offset = sample.Offset
		}
		if existing.BucketKey == "" {
			existing.BucketKey = sample.BucketKey
		}
		if existing.TimestampMs == 0 {
			existing.TimestampMs = sample.TimestampMs
		}
		return
	}
	*samples = append(*samples, sample)
	byTask[task] = len(*samples) - 1
}

// WeightedOffset computes the recency-weighted mean landing offset over
// the most recent MaxOffsetSamples offset-bearing samples, weighting each
// by 1/sqrt(age) (age is 1-based from the newest sample) and boosting
// successes by 1.5. Returns nil while fewer than MinOffsetSamples qualify.
func (s *Service) WeightedOffset(samples []AttemptSample) *geometry.Point {
	var qualifying []AttemptSample
	for _, sample := range samples {
		if sample.Offset != nil {
			qualifying = append(qualifying, sample)
		}
	}
	if len(qualifying) > s.config.MaxOffsetSamples {
		qualifying = qualifying[len(qualifying)-s.config.MaxOffsetSamples:]
	}
	if len(qualifying) < s.config.MinOffsetSamples {
		return nil
	}
	return weightedMeanOffset(qualifying)
}

func weightedMeanOffset(samples []AttemptSample) *geometry.Point {
	var sumX, sumY, sumW float64
	n := len(samples)
	for i, sample := range samples {
		age := float64(n - i) // 1-based distance from the newest sample
		w := 1 / math.Sqrt(age)
		if sample.Success != nil && *sample.Success {
			w *= successWeightBoost
		}
		sumX += w * float64(sample.Offset.X)
		sumY += w * float64(sample.Offset.Y)
		sumW += w
	}
	if sumW == 0 {
		return nil
	}
	return &geometry.Point{
		X: int(math.Round(sumX / sumW)),
		Y: int(math.Round(sumY / sumW)),
	}
}

// ConvergenceTrend compares mean absolute error over the most recent
// window against the equal-sized window immediately preceding it.
func (s *Service) ConvergenceTrend(samples []AttemptSample) Convergence {
	window := s.config.ConvergenceWindow
	if window > len(samples)/2 {
		window = len(samples) / 2
	}
	if window < 1 {
		return Convergence{Direction: TrendSteady}
	}

	recent := samples[len(samples)-window:]
	previous := samples[len(samples)-2*window : len(samples)-window]

	recentAvg := meanError(recent)
	previousAvg := meanError(previous)
	relative := (recentAvg - previousAvg) / math.Max(previousAvg, 1)

	direction := TrendSteady
	switch {
	case relative <= -trendThreshold:
		direction = TrendImproving
	case relative >= trendThreshold:
		direction = TrendRegressing
	}

	return Convergence{
		Direction:        direction,
		RecentAvgError:   recentAvg,
		PreviousAvgError: previousAvg,
		RelativeChange:   relative,
		WindowSize:       window,
	}
}

func meanError(samples []AttemptSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, sample := range samples {
		sum += math.Abs(sample.Error)
	}
	return sum / float64(len(samples))
}

// RegionalHotspots groups samples by their 200px landing bucket and
// materializes buckets with at least HotspotMinAttempts attempts, ranked
// by average error descending, then attempt count descending, capped to
// HotspotLimit.
func (s *Service) RegionalHotspots(samples []AttemptSample) []RegionalHotspot {
	buckets := map[string][]AttemptSample{}
	for _, sample := range samples {
		if sample.BucketKey == "" {
			continue
		}
		buckets[sample.BucketKey] = append(buckets[sample.BucketKey], sample)
	}

	var hotspots []RegionalHotspot
	for key, bucketSamples := range buckets {
		if len(bucketSamples) < s.config.HotspotMinAttempts {
			continue
		}

		successes := 0
		for _, sample := range bucketSamples {
			if sample.Success != nil && *sample.Success {
				successes++
			}
		}

		var offsetBearing []AttemptSample
		for _, sample := range bucketSamples {
			if sample.Offset != nil {
				offsetBearing = append(offsetBearing, sample)
			}
		}
		var weighted *geometry.Point
		if len(offsetBearing) > 0 {
			weighted = weightedMeanOffset(offsetBearing)
		}

		center, _ := geometry.BucketCenter(key)
		hotspots = append(hotspots, RegionalHotspot{
			BucketKey:      key,
			Center:         center,
			Attempts:       len(bucketSamples),
			SuccessRate:    float64(successes) / float64(len(bucketSamples)),
			AverageError:   meanError(bucketSamples),
			WeightedOffset: weighted,
		})
	}

	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].AverageError != hotspots[j].AverageError {
			return hotspots[i].AverageError > hotspots[j].AverageError
		}
		if hotspots[i].Attempts != hotspots[j].Attempts {
			return hotspots[i].Attempts > hotspots[j].Attempts
		}
		return hotspots[i].BucketKey < hotspots[j].BucketKey
	})

	if len(hotspots) > s.config.HotspotLimit {
		hotspots = hotspots[:s.config.HotspotLimit]
	}
	return hotspots
}

// taskID extracts the click task id from a journal line.
func taskID(line map[string]interface{}) string {
	id, _ := line["clickTaskId"].(string)
	return id
}

// sampleFromRaw derives a sample from a raw click record, requiring
// target, actual, and delta.
func sampleFromRaw(line map[string]interface{}) (AttemptSample, bool) {
	target, okT := pointField(line, "target")
	actual, okA := pointField(line, "actual")
	delta, okD := pointField(line, "delta")
	if !okT || !okA || !okD {
		return AttemptSample{}, false
	}

	return AttemptSample{
		Error:       actual.Distance(target),
		Offset:      &delta,
		BucketKey:   geometry.BucketKey(actual),
		TimestampMs: timestampMs(line),
	}, true
}

// sampleFromSummary derives a sample from a smart_click_complete event.
func sampleFromSummary(line map[string]interface{}) (AttemptSample, bool) {
	sample := AttemptSample{TimestampMs: timestampMs(line)}

	if distance, ok := line["distance"].(float64); ok {
		sample.Error = distance
	} else if target, okT := pointField(line, "target"); okT {
		if actual, okA := pointField(line, "actual"); okA {
			sample.Error = actual.Distance(target)
		} else {
			return AttemptSample{}, false
		}
	} else {
		return AttemptSample{}, false
	}

	if success, ok := line["success"].(bool); ok {
		sample.Success = &success
	}
	if delta, ok := pointField(line, "delta"); ok {
		sample.Offset = &delta
	}

	// Landing bucket prefers actual, falling back to predicted, then the
	// requested target.
	for _, field := range []string{"actual", "predicted", "target"} {
		if p, ok := pointField(line, field); ok {
			sample.BucketKey = geometry.BucketKey(p)
			break
		}
	}
	return sample, true
}

func pointField(line map[string]interface{}, field string) (geometry.Point, bool) {
	obj, ok := line[field].(map[string]interface{})
	if !ok {
		return geometry.Point{}, false
	}
	x, okX := obj["x"].(float64)
	y, okY := obj["y"].(float64)
	if !okX || !okY {
		return geometry.Point{}, false
	}
	return geometry.Point{X: int(math.Round(x)), Y: int(math.Round(y))}, true
}

func timestampMs(line map[string]interface{}) int64 {
	if ts, ok := telemetry.ParseTime(line["timestamp"]); ok {
		return ts.UnixMilli()
	}
	return 0
}
