package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const maxConfigFileSize = 1 * 1024 * 1024

// TrackerConfig tunes the optical flow tracker
type TrackerConfig struct {
	MaxFeatures   int     `json:"max_features"`
	PyramidLevels int     `json:"pyramid_levels"`
	Smoothing     bool    `json:"smoothing"`
	SmoothingDt   float64 `json:"smoothing_dt"`
}

// LandmarkConfig tunes the landmark map
type LandmarkConfig struct {
	Capacity int `json:"capacity"`
}

// DepthConfig tunes the depth voxel mapper
type DepthConfig struct {
	Enabled bool `json:"enabled"`
}

// PointMapConfig tunes the persistent point map
type PointMapConfig struct {
	Capacity    int     `json:"capacity"`
	VoxelSize   float64 `json:"voxel_size"`
	MaxDistance float64 `json:"max_distance"`
}

// ObservationConfig selects which tracks become landmark observations
type ObservationConfig struct {
	MinStableCount int     `json:"min_stable_count"`
	MaxTrackError  float64 `json:"max_track_error"`
}

// Config is the root tuning document of the pipeline.
// Fields omitted from a JSON file keep their DefaultConfig values.
type Config struct {
	Tracker      TrackerConfig     `json:"tracker"`
	Landmarks    LandmarkConfig    `json:"landmarks"`
	Depth        DepthConfig       `json:"depth"`
	PointMap     PointMapConfig    `json:"point_map"`
	Observations ObservationConfig `json:"observations"`
	// Emit summary log line every N processed frames. 0 disables it
	LogEveryFrames int `json:"log_every_frames"`
	// Number of recent frames used for track count statistics in the summary
	StatsWindow int `json:"stats_window"`
}

// DefaultConfig returns the tuning the mapping layer was calibrated with
func DefaultConfig() Config {
	return Config{
		Tracker: TrackerConfig{
			MaxFeatures:   800,
			PyramidLevels: 3,
			Smoothing:     false,
			SmoothingDt:   1.0 / 30.0,
		},
		Landmarks: LandmarkConfig{
			Capacity: 20000,
		},
		Depth: DepthConfig{
			Enabled: true,
		},
		PointMap: PointMapConfig{
			Capacity:    500000,
			VoxelSize:   0.02,
			MaxDistance: 10.0,
		},
		Observations: ObservationConfig{
			MinStableCount: 20,
			MaxTrackError:  5.0,
		},
		LogEveryFrames: 60,
		StatsWindow:    120,
	}
}

// LoadConfig reads JSON tuning file on top of DefaultConfig and validates the result
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, errors.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "can't stat config file")
	}
	if fileInfo.Size() > maxConfigFileSize {
		return cfg, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, errors.Wrap(err, "can't read config file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), errors.Wrap(err, "can't parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks that every value is usable by the components
func (cfg *Config) Validate() error {
	if cfg.Tracker.MaxFeatures <= 0 {
		return errors.Errorf("tracker.max_features must be positive, got %d", cfg.Tracker.MaxFeatures)
	}
	if cfg.Tracker.PyramidLevels < 1 || cfg.Tracker.PyramidLevels > 8 {
		return errors.Errorf("tracker.pyramid_levels must be between 1 and 8, got %d", cfg.Tracker.PyramidLevels)
	}
	if cfg.Tracker.Smoothing && cfg.Tracker.SmoothingDt <= 0 {
		return errors.Errorf("tracker.smoothing_dt must be positive when smoothing is on, got %f", cfg.Tracker.SmoothingDt)
	}
	if cfg.Landmarks.Capacity <= 0 {
		return errors.Errorf("landmarks.capacity must be positive, got %d", cfg.Landmarks.Capacity)
	}
	if cfg.PointMap.Capacity <= 0 {
		return errors.Errorf("point_map.capacity must be positive, got %d", cfg.PointMap.Capacity)
	}
	if cfg.PointMap.VoxelSize <= 0 {
		return errors.Errorf("point_map.voxel_size must be positive, got %f", cfg.PointMap.VoxelSize)
	}
	if cfg.PointMap.MaxDistance <= 0 {
		return errors.Errorf("point_map.max_distance must be positive, got %f", cfg.PointMap.MaxDistance)
	}
	if cfg.Observations.MinStableCount < 1 {
		return errors.Errorf("observations.min_stable_count must be at least 1, got %d", cfg.Observations.MinStableCount)
	}
	if cfg.Observations.MaxTrackError < 0 {
		return errors.Errorf("observations.max_track_error must be non-negative, got %f", cfg.Observations.MaxTrackError)
	}
	if cfg.LogEveryFrames < 0 {
		return errors.Errorf("log_every_frames must be non-negative, got %d", cfg.LogEveryFrames)
	}
	if cfg.StatsWindow < 1 {
		return errors.Errorf("stats_window must be at least 1, got %d", cfg.StatsWindow)
	}
	return nil
}
