// Package config provides configuration loading for pointerd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root pointerd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Screen    ScreenConfig    `koanf:"screen"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Click     ClickConfig     `koanf:"click"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// ScreenConfig describes the virtual desktop dimensions.
type ScreenConfig struct {
	Width  int `koanf:"width"`
	Height int `koanf:"height"`
}

// TelemetryConfig controls the per-session click journal and drift store.
type TelemetryConfig struct {
	// Enabled toggles all telemetry writes.
	Enabled bool `koanf:"enabled"`
	// RootDir is the directory holding per-session telemetry. Empty means
	// ~/.local/share/pointerd/telemetry.
	RootDir string `koanf:"root_dir"`
	// DriftCompensation toggles EMA drift learning and application.
	DriftCompensation bool `koanf:"drift_compensation"`
	// DriftAlpha is the EMA smoothing factor in (0, 1].
	DriftAlpha float64 `koanf:"drift_alpha"`
	// Calibration toggles calibration snapshot capture.
	Calibration bool `koanf:"calibration"`
	// CalibrationWindow is the snapshot ROI edge length in pixels.
	CalibrationWindow int `koanf:"calibration_window"`
	// CalibrationDelay is the wait before capturing a snapshot.
	CalibrationDelay Duration `koanf:"calibration_delay"`
}

// ClickConfig holds the click pipeline tunables.
type ClickConfig struct {
	// SuccessRadius is the max distance in pixels between the original
	// target and the actual landing point still counted a success.
	SuccessRadius float64 `koanf:"success_radius"`
	// SettleDelay is the wait after a click before reading cursor state.
	SettleDelay Duration `koanf:"settle_delay"`
	// MultiClickInterval separates press/release pairs for click_count > 1.
	MultiClickInterval Duration `koanf:"multi_click_interval"`

	Snap   SnapConfig   `koanf:"snap"`
	Hover  HoverConfig  `koanf:"hover"`
	Verify VerifyConfig `koanf:"verify"`
}

// SnapConfig tunes the pre-click snap-to-edge refinement.
type SnapConfig struct {
	Enabled bool `koanf:"enabled"`
	// Radius is the search radius around the target, clamped to [1, 24].
	Radius int `koanf:"radius"`
	// DistancePenalty discounts candidates per pixel of shift.
	DistancePenalty float64 `koanf:"distance_penalty"`
	// MinImprovement is the contrast-score gain required to move.
	MinImprovement float64 `koanf:"min_improvement"`
	// MaxShift is the largest accepted move per axis.
	MaxShift int `koanf:"max_shift"`
}

// HoverConfig tunes the diagnostic hover probe.
type HoverConfig struct {
	Enabled bool `koanf:"enabled"`
	// Offset is the horizontal probe displacement in pixels.
	Offset int `koanf:"offset"`
	// Threshold is the diff level considered a reactive hover. Recorded
	// with the probe event; nothing branches on it.
	Threshold float64 `koanf:"threshold"`
}

// VerifyConfig tunes post-click change verification and retry.
type VerifyConfig struct {
	Enabled bool `koanf:"enabled"`
	// Delay is the extra settle time before the post-click capture.
	Delay Duration `koanf:"delay"`
	// ROIRadius is the capture radius around the click point.
	ROIRadius int `koanf:"roi_radius"`
	// ChangeThreshold is the mean absolute diff below which the UI is
	// considered unchanged.
	ChangeThreshold float64 `koanf:"change_threshold"`
	// RetryMax is the retry budget when no change was detected.
	RetryMax int `koanf:"retry_max"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Screen: ScreenConfig{
			Width:  1920,
			Height: 1080,
		},
		Telemetry: TelemetryConfig{
			Enabled:           true,
			DriftCompensation: true,
			DriftAlpha:        0.2,
			Calibration:       false,
			CalibrationWindow: 60,
			CalibrationDelay:  Duration(200 * time.Millisecond),
		},
		Click: ClickConfig{
			SuccessRadius:      12,
			SettleDelay:        Duration(75 * time.Millisecond),
			MultiClickInterval: Duration(150 * time.Millisecond),
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
				Delay:           Duration(250 * time.Millisecond),
				ROIRadius:       24,
				ChangeThreshold: 4.0,
				RetryMax:        1,
			},
		},
	}
}

// Validate checks cross-field constraints and fills derived defaults.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		return fmt.Errorf("screen dimensions must be positive: %dx%d", c.Screen.Width, c.Screen.Height)
	}
	if c.Telemetry.DriftAlpha <= 0 || c.Telemetry.DriftAlpha > 1 {
		return fmt.Errorf("telemetry.drift_alpha must be in (0, 1]: %v", c.Telemetry.DriftAlpha)
	}
	if c.Click.SuccessRadius <= 0 {
		return fmt.Errorf("click.success_radius must be positive: %v", c.Click.SuccessRadius)
	}
	if c.Click.Verify.RetryMax < 0 {
		return fmt.Errorf("click.verify.retry_max cannot be negative: %d", c.Click.Verify.RetryMax)
	}

	// Snap radius is clamped rather than rejected; out-of-range values
	// are a tuning mistake, not a fatal misconfiguration.
	if c.Click.Snap.Radius < 1 {
		c.Click.Snap.Radius = 1
	}
	if c.Click.Snap.Radius > 24 {
		c.Click.Snap.Radius = 24
	}

	if c.Telemetry.RootDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to resolve home directory for telemetry root: %w", err)
		}
		c.Telemetry.RootDir = filepath.Join(home, ".local", "share", "pointerd", "telemetry")
	}

	return nil
}
