package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// maxLogLineSize bounds a single journal line; anything larger is treated
// as corrupt and skipped.
const maxLogLineSize = 1024 * 1024

// DefaultEventLimit is the number of recent action events a timeline
// carries when the caller does not specify one.
const DefaultEventLimit = 20

// ScanLog invokes fn for each well-formed JSON object line in the journal
// at path. Corrupt lines are skipped, never fatal.
func ScanLog(path string, fn func(line map[string]interface{})) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineSize)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line map[string]interface{}
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan journal: %w", err)
	}
	return nil
}

// ParseTime extracts a journal timestamp: an RFC3339 string or an epoch
// milliseconds number.
func ParseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	case float64:
		if t > 0 {
			return time.UnixMilli(int64(t)).UTC(), true
		}
	}
	return time.Time{}, false
}

// SessionTimeline makes a single pass over the session journal, computing
// the earliest and latest valid timestamps plus the most recent eventLimit
// action events in chronological order. An eventLimit of 0 skips event
// collection; callers wanting the usual view pass DefaultEventLimit.
func (s *Store) SessionTimeline(_ context.Context, sessionID string, eventLimit int) (Timeline, error) {
	sess, err := s.resolve(sessionID)
	if err != nil {
		return Timeline{}, err
	}

	timeline := Timeline{SessionID: sess.id}

	err = ScanLog(sess.logPath, func(line map[string]interface{}) {
		ts, ok := ParseTime(line["timestamp"])
		if !ok {
			return
		}
		if timeline.Start.IsZero() || ts.Before(timeline.Start) {
			timeline.Start = ts
		}
		if timeline.End.IsZero() || ts.After(timeline.End) {
			timeline.End = ts
		}

		if eventLimit <= 0 {
			return
		}
		if line["type"] != EventAction {
			return
		}

		name, _ := line["name"].(string)
		details := make(map[string]interface{})
		for k, v := range line {
			switch k {
			case "type", "timestamp", "app", "name":
				continue
			}
			details[k] = v
		}
		if len(details) == 0 {
			details = nil
		}

		timeline.Events = append(timeline.Events, TimelineEvent{
			Name:    name,
			Time:    ts,
			Details: details,
		})
		if len(timeline.Events) > eventLimit {
			timeline.Events = timeline.Events[1:]
		}
	})
	if err != nil {
		return Timeline{}, err
	}

	if !timeline.Start.IsZero() && !timeline.End.IsZero() {
		timeline.Duration = timeline.End.Sub(timeline.Start)
	}
	return timeline, nil
}
