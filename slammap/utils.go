package slammap

import "go.uber.org/zap"

func maxFloat64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func absFloat64(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}

// Option configures optional collaborators of the mapping components
type Option func(*options)

type options struct {
	logger         *zap.Logger
	smoothTracks   bool
	smoothingDt    float64
	pointMapVoxel  float64
	pointMapRadius float64
}

func defaultOptions() options {
	return options{
		logger:         zap.NewNop(),
		smoothingDt:    1.0,
		pointMapVoxel:  defaultPointMapVoxelSize,
		pointMapRadius: defaultPointMapMaxDistance,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets logger for lifecycle events. Nil keeps the no-op logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTrackSmoothing enables Kalman smoothing of track display positions with given time step
func WithTrackSmoothing(dt float64) Option {
	return func(o *options) {
		o.smoothTracks = true
		if dt > 0 {
			o.smoothingDt = dt
		}
	}
}

// WithPointMapGeometry overrides dedup voxel size and max world radius of PersistentPointMap
func WithPointMapGeometry(voxelSize, maxDistance float64) Option {
	return func(o *options) {
		if voxelSize > 0 {
			o.pointMapVoxel = voxelSize
		}
		if maxDistance > 0 {
			o.pointMapRadius = maxDistance
		}
	}
}
