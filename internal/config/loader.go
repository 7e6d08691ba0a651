package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envPrefix namespaces pointerd environment variables.
const envPrefix = "POINTERD_"

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in increasing precedence.
//
// Environment variables use the POINTERD_ prefix with a section_field
// layout:
//
//	POINTERD_TELEMETRY_ROOT_DIR   -> telemetry.root_dir
//	POINTERD_CLICK_SUCCESS_RADIUS -> click.success_radius
//	POINTERD_SERVER_PORT          -> server.port
//
// Nested click sections use their full path:
//
//	POINTERD_CLICK_SNAP_RADIUS    -> click.snap.radius
//	POINTERD_CLICK_VERIFY_ENABLED -> click.verify.enabled
//
// If configPath is empty, no file is loaded.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// clickSubsections are the nested click config groups; env keys addressing
// them need one extra dot (click.snap.radius, not click.snap_radius).
var clickSubsections = []string{"snap", "hover", "verify"}

// transformEnvKey maps POINTERD_SECTION_FIELD_NAME to section.field_name.
func transformEnvKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	section := parts[0]
	field := parts[1]

	if section == "click" {
		for _, sub := range clickSubsections {
			if field == sub {
				break
			}
			if strings.HasPrefix(field, sub+"_") {
				return section + "." + sub + "." + strings.TrimPrefix(field, sub+"_")
			}
		}
	}

	return section + "." + field
}
