package pipeline

import (
	"github.com/LdDl/slammap-go/slammap"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Frame is everything the pose provider hands out for one camera frame.
// Image, Depth and PointCloud are optional.
type Frame struct {
	Tracking        bool
	Image           *slammap.GrayImage
	Intrinsics      slammap.Intrinsics
	WorldFromCamera slammap.Pose
	Depth           *slammap.DepthFrame
	// Camera-space (x, y, z, confidence) quads
	PointCloud []float32
}

// FrameStats is the per-frame summary of every component
type FrameStats struct {
	FrameIndex       int
	Tracking         bool
	Flow             slammap.FlowStats
	ActiveTracks     int
	Observations     slammap.ObservationStats
	MetricLandmarks  int
	BearingLandmarks int
	Depth            slammap.DepthStats
	PointsAdded      int
	PersistentPoints int
	TotalPointsAdded int
}

// Pipeline runs the mapping components in per-frame order
type Pipeline struct {
	cfg Config

	tracker      *slammap.OpticalFlowTracker
	landmarks    *slammap.LandmarkMap
	depthMapper  *slammap.DepthVoxelMapper
	pointMap     *slammap.PersistentPointMap
	observations *slammap.ObservationBuilder
	trackBuffer  []slammap.Track

	frameIndex    int
	trackingIndex int
	activeWindow  []float64
	windowCursor  int
	windowFilled  bool

	metrics *Metrics
	logger  *zap.Logger
}

// New builds every component from cfg. Nil logger means no logging, nil registerer means unregistered metrics
func New(cfg Config, logger *zap.Logger, registerer prometheus.Registerer) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "can't create pipeline")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	trackerOpts := []slammap.Option{slammap.WithLogger(logger.Named("flow"))}
	if cfg.Tracker.Smoothing {
		trackerOpts = append(trackerOpts, slammap.WithTrackSmoothing(cfg.Tracker.SmoothingDt))
	}

	mapper := slammap.NewDepthVoxelMapper(slammap.WithLogger(logger.Named("depth")))
	mapper.SetEnabled(cfg.Depth.Enabled)

	return &Pipeline{
		cfg:         cfg,
		tracker:     slammap.NewOpticalFlowTracker(cfg.Tracker.MaxFeatures, cfg.Tracker.PyramidLevels, trackerOpts...),
		landmarks:   slammap.NewLandmarkMap(cfg.Landmarks.Capacity, slammap.WithLogger(logger.Named("landmarks"))),
		depthMapper: mapper,
		pointMap: slammap.NewPersistentPointMap(cfg.PointMap.Capacity,
			slammap.WithLogger(logger.Named("points")),
			slammap.WithPointMapGeometry(cfg.PointMap.VoxelSize, cfg.PointMap.MaxDistance),
		),
		observations: slammap.NewObservationBuilder(cfg.Observations.MinStableCount, cfg.Observations.MaxTrackError),
		trackBuffer:  make([]slammap.Track, 0, cfg.Tracker.MaxFeatures),
		activeWindow: make([]float64, cfg.StatsWindow),
		metrics:      NewMetrics(registerer),
		logger:       logger,
	}, nil
}

// Process runs one frame through landmarks, tracker, observations, depth grid and point map in that order.
// Frames without tracking are only counted.
func (pipeline *Pipeline) Process(frame Frame) FrameStats {
	pipeline.frameIndex++
	stats := FrameStats{
		FrameIndex: pipeline.frameIndex,
		Tracking:   frame.Tracking,
	}

	if !frame.Tracking {
		stats.ActiveTracks = pipeline.tracker.ActiveCount()
		stats.MetricLandmarks = pipeline.landmarks.MetricCount()
		stats.BearingLandmarks = pipeline.landmarks.BearingCount()
		stats.Depth = pipeline.depthMapper.Stats()
		stats.PersistentPoints = pipeline.pointMap.PointCount()
		stats.TotalPointsAdded = pipeline.pointMap.TotalAdded()
		pipeline.metrics.observe(stats, 0)
		pipeline.logPeriodic(stats)
		return stats
	}
	pipeline.trackingIndex++
	pose := frame.WorldFromCamera

	pipeline.landmarks.BeginFrame()
	if frame.Image.Valid() && pipeline.tracker.UpdateImage(frame.Image) {
		stats.Flow = pipeline.tracker.LastUpdate()
		pipeline.trackBuffer = pipeline.tracker.CopyTracks(pipeline.trackBuffer)
		stats.Observations = pipeline.observations.Feed(pipeline.trackBuffer, withImageSize(frame.Intrinsics, frame.Image), &pose, frame.Depth, pipeline.landmarks)
	}
	stats.ActiveTracks = pipeline.tracker.ActiveCount()
	stats.MetricLandmarks = pipeline.landmarks.MetricCount()
	stats.BearingLandmarks = pipeline.landmarks.BearingCount()

	if frame.Depth != nil {
		pipeline.depthMapper.Update(frame.Depth, withImageSize(frame.Intrinsics, frame.Image), &pose)
	}
	stats.Depth = pipeline.depthMapper.Stats()

	if len(frame.PointCloud) > 0 {
		stats.PointsAdded = pipeline.pointMap.AddPoints(&pose, frame.PointCloud)
	}
	stats.PersistentPoints = pipeline.pointMap.PointCount()
	stats.TotalPointsAdded = pipeline.pointMap.TotalAdded()

	pipeline.pushActive(stats.ActiveTracks)
	pipeline.metrics.observe(stats, stats.PointsAdded)
	pipeline.logPeriodic(stats)
	return stats
}

// withImageSize fills missing color dimensions of intrinsics from the luminance image
func withImageSize(intrinsics slammap.Intrinsics, image *slammap.GrayImage) slammap.Intrinsics {
	if (intrinsics.ImageWidth <= 0 || intrinsics.ImageHeight <= 0) && image.Valid() {
		intrinsics.ImageWidth = image.Width
		intrinsics.ImageHeight = image.Height
	}
	return intrinsics
}

func (pipeline *Pipeline) pushActive(active int) {
	pipeline.activeWindow[pipeline.windowCursor] = float64(active)
	pipeline.windowCursor++
	if pipeline.windowCursor == len(pipeline.activeWindow) {
		pipeline.windowCursor = 0
		pipeline.windowFilled = true
	}
}

// ActiveTrackStats returns mean and standard deviation of active track count over the recent tracking frames
func (pipeline *Pipeline) ActiveTrackStats() (float64, float64) {
	window := pipeline.activeWindow[:pipeline.windowCursor]
	if pipeline.windowFilled {
		window = pipeline.activeWindow
	}
	switch len(window) {
	case 0:
		return 0, 0
	case 1:
		return window[0], 0
	}
	return stat.MeanStdDev(window, nil)
}

func (pipeline *Pipeline) logPeriodic(stats FrameStats) {
	if pipeline.cfg.LogEveryFrames == 0 || stats.FrameIndex%pipeline.cfg.LogEveryFrames != 0 {
		return
	}
	mean, std := pipeline.ActiveTrackStats()
	pipeline.logger.Info("mapping summary",
		zap.Int("frame", stats.FrameIndex),
		zap.Int("tracking_frames", pipeline.trackingIndex),
		zap.Bool("tracking", stats.Tracking),
		zap.Int("active_tracks", stats.ActiveTracks),
		zap.Float64("active_tracks_mean", mean),
		zap.Float64("active_tracks_std", std),
		zap.Int("stable_tracks", stats.Observations.StableTracks),
		zap.Float64("avg_track_age", stats.Observations.AverageAge),
		zap.Float64("depth_hit_rate", stats.Observations.DepthHitRate),
		zap.Int("metric_landmarks", stats.MetricLandmarks),
		zap.Int("bearing_landmarks", stats.BearingLandmarks),
		zap.Int("voxels", stats.Depth.VoxelsUsed),
		zap.Int("persistent_points", stats.PersistentPoints),
		zap.Int("total_points_added", stats.TotalPointsAdded),
	)
}

// SetMappingEnabled toggles depth fusion
func (pipeline *Pipeline) SetMappingEnabled(enabled bool) {
	pipeline.depthMapper.SetEnabled(enabled)
	pipeline.logger.Info("depth mapping toggled", zap.Bool("enabled", enabled))
}

// Reset clears every component and counter
func (pipeline *Pipeline) Reset() {
	pipeline.tracker.Reset()
	pipeline.landmarks.Clear()
	pipeline.depthMapper.Reset()
	pipeline.pointMap.Clear()
	pipeline.frameIndex = 0
	pipeline.trackingIndex = 0
	pipeline.windowCursor = 0
	pipeline.windowFilled = false
	pipeline.metrics.reset()
	pipeline.logger.Info("pipeline reset")
}

// FrameIndex returns number of processed frames since creation or last Reset
func (pipeline *Pipeline) FrameIndex() int {
	return pipeline.frameIndex
}

// Tracker gives read access to the optical flow tracker. Be careful: this is not copy, but reference to it
func (pipeline *Pipeline) Tracker() *slammap.OpticalFlowTracker {
	return pipeline.tracker
}

// Landmarks gives read access to the landmark map. Be careful: this is not copy, but reference to it
func (pipeline *Pipeline) Landmarks() *slammap.LandmarkMap {
	return pipeline.landmarks
}

// DepthMapper gives read access to the depth voxel mapper. Be careful: this is not copy, but reference to it
func (pipeline *Pipeline) DepthMapper() *slammap.DepthVoxelMapper {
	return pipeline.depthMapper
}

// PointMap gives read access to the persistent point map. Be careful: this is not copy, but reference to it
func (pipeline *Pipeline) PointMap() *slammap.PersistentPointMap {
	return pipeline.pointMap
}
