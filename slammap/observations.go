package slammap

const (
	defaultMinStableCount = 20
	defaultMaxTrackError  = 5.0
	stableCountNorm       = 30.0
)

// ObservationStats describes how one batch of tracks was turned into landmark observations
type ObservationStats struct {
	StableTracks  int
	AverageAge    float64
	DepthAttempts int
	DepthHits     int
	DepthHitRate  float64
	Bearing       int
	Metric        int
	OutOfDepth    int
}

// ObservationBuilder feeds stable tracks to a LandmarkMap, as metric observations when depth is available.
type ObservationBuilder struct {
	minStableCount int
	maxTrackError  float64
}

// NewObservationBuilderDefault creates builder accepting tracks stable for 20 frames with error up to 5 px
func NewObservationBuilderDefault() *ObservationBuilder {
	return NewObservationBuilder(defaultMinStableCount, defaultMaxTrackError)
}

// NewObservationBuilder creates new instance of ObservationBuilder
func NewObservationBuilder(minStableCount int, maxTrackError float64) *ObservationBuilder {
	return &ObservationBuilder{
		minStableCount: maxInt(minStableCount, 1),
		maxTrackError:  maxTrackError,
	}
}

// Feed converts tracks into observations of landmarkMap.
// Track coordinates are in pixels of an image of intrinsics.ImageWidth x intrinsics.ImageHeight.
// Depth may be nil, then every stable track becomes a bearing observation.
func (builder *ObservationBuilder) Feed(tracks []Track, intrinsics Intrinsics, worldFromCamera *Pose, depth *DepthFrame, landmarkMap *LandmarkMap) ObservationStats {
	stats := ObservationStats{}
	if landmarkMap == nil || !intrinsics.Valid() {
		return stats
	}

	useDepth := depth.Valid() && worldFromCamera != nil
	scaleX, scaleY := 1.0, 1.0
	if useDepth {
		scaleX, scaleY = intrinsics.ScaleTo(depth.Width, depth.Height)
	}

	totalAge := 0
	for i := range tracks {
		track := &tracks[i]
		if !track.Active {
			continue
		}
		totalAge += track.Age
		if track.StableCount < builder.minStableCount || track.Error > builder.maxTrackError {
			continue
		}
		stats.StableTracks++

		bearing := intrinsics.Bearing(track.X, track.Y)
		if !useDepth {
			confidence := 0.4 + 0.4*float64(track.StableCount)/stableCountNorm
			if landmarkMap.AddBearingObservation(bearing, confidence) {
				stats.Bearing++
			}
			continue
		}

		px := int(track.X * scaleX)
		py := int(track.Y * scaleY)
		if px < 0 || py < 0 || px >= depth.Width || py >= depth.Height {
			stats.OutOfDepth++
			continue
		}
		stats.DepthAttempts++
		depthMM := depth.DepthMillimeters(px, py)
		if depthMM == 0 {
			continue
		}
		stats.DepthHits++

		camera := intrinsics.Unproject(track.X, track.Y, float64(depthMM)*depthMillimetersToMeter)
		world := worldFromCamera.Transform(camera)
		confidence := 0.5 + 0.5*float64(track.StableCount)/stableCountNorm
		if landmarkMap.AddMetricObservation(world, bearing, confidence) {
			stats.Metric++
		}
	}

	if len(tracks) > 0 {
		stats.AverageAge = float64(totalAge) / float64(len(tracks))
	}
	if stats.DepthAttempts > 0 {
		stats.DepthHitRate = 100.0 * float64(stats.DepthHits) / float64(stats.DepthAttempts)
	}
	return stats
}
