package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarelab/papiscan/internal/classify"
	"github.com/flarelab/papiscan/internal/telemetry"
	"github.com/flarelab/papiscan/internal/tracking"
)

// Config represents the main application configuration
type Config struct {
	Settings    Settings          `yaml:"settings"`
	Video       VideoConfig       `yaml:"video"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Runway      RunwayConfig      `yaml:"runway"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Tracking    tracking.Config   `yaml:"tracking"`
	Classify    classify.Config   `yaml:"classify"`
	Output      OutputConfig      `yaml:"output"`
	Session     SessionConfig     `yaml:"session"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses the configured log level, defaulting to info.
func (s Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// VideoConfig describes the input video and the camera that recorded it.
type VideoConfig struct {
	Path string `yaml:"path"`

	// HFOVDeg is the camera's horizontal field of view in degrees.
	HFOVDeg float64 `yaml:"hfovDeg"`

	// StartTime is the wall-clock time of frame 0, RFC 3339. Empty means
	// the start of the telemetry track.
	StartTime string `yaml:"startTime"`
}

// Start returns the parsed start time, zero when unset.
func (v VideoConfig) Start() (time.Time, error) {
	if v.StartTime == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing video start time: %w", err)
	}
	return ts, nil
}

// TelemetryConfig describes the flight log input and synchronization limits.
type TelemetryConfig struct {
	TrackPath string `yaml:"trackPath"`

	// MaxSkewMs is the largest frame-to-sample gap tolerated before a frame
	// is excluded. Zero means the default.
	MaxSkewMs int `yaml:"maxSkewMs"`

	// MinCoverage is the fraction of frames that must synchronize for a
	// session to proceed.
	MinCoverage float64 `yaml:"minCoverage"`
}

// MaxSkew returns the configured skew limit.
func (t TelemetryConfig) MaxSkew() time.Duration {
	if t.MaxSkewMs <= 0 {
		return telemetry.DefaultMaxSkew
	}
	return time.Duration(t.MaxSkewMs) * time.Millisecond
}

// RunwayConfig points at the surveyed reference data.
type RunwayConfig struct {
	Path string `yaml:"path"`
}

// CalibrationConfig describes the mapping file exchanged with the human
// operator and the initial box size.
type CalibrationConfig struct {
	MappingPath string  `yaml:"mappingPath"`
	BoxHalfSize float64 `yaml:"boxHalfSize"`
}

// OutputConfig describes where results are written.
type OutputConfig struct {
	Database   string `yaml:"database"`
	ClipsDir   string `yaml:"clipsDir"`
	ClipSize   int    `yaml:"clipSize"`
	FontPath   string `yaml:"fontPath"`
	ReportPath string `yaml:"reportPath"`
}

// SessionConfig represents processing settings
type SessionConfig struct {
	MaxBatchSize   int `yaml:"maxBatchSize"`
	TimeoutMinutes int `yaml:"timeoutMinutes"`
}

// LoadConfig reads and validates the YAML configuration file. Tuning
// sections that are omitted fall back to their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := Config{
		Tracking: tracking.DefaultConfig(),
		Classify: classify.DefaultConfig(),
		Telemetry: TelemetryConfig{
			MinCoverage: 0.5,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch {
	case c.Video.Path == "":
		return fmt.Errorf("video.path is required")
	case c.Video.HFOVDeg <= 0 || c.Video.HFOVDeg >= 180:
		return fmt.Errorf("video.hfovDeg %f out of range", c.Video.HFOVDeg)
	case c.Telemetry.TrackPath == "":
		return fmt.Errorf("telemetry.trackPath is required")
	case c.Telemetry.MinCoverage < 0 || c.Telemetry.MinCoverage > 1:
		return fmt.Errorf("telemetry.minCoverage %f out of range", c.Telemetry.MinCoverage)
	case c.Runway.Path == "":
		return fmt.Errorf("runway.path is required")
	case c.Calibration.MappingPath == "":
		return fmt.Errorf("calibration.mappingPath is required")
	case c.Output.Database == "":
		return fmt.Errorf("output.database is required")
	}

	if _, err := c.Video.Start(); err != nil {
		return err
	}
	if err := c.Tracking.Validate(); err != nil {
		return fmt.Errorf("tracking: %w", err)
	}
	if err := c.Classify.Validate(); err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	return nil
}
