package slammap

import (
	"github.com/golang/geo/r3"
	"go.uber.org/zap"
)

const (
	landmarkDedupDistance   = 0.05
	landmarkMaxAge          = 300
	landmarkMinConfidence   = 0.05
	landmarkBearingDot      = 0.995
	landmarkUnseenFrames    = 30
	landmarkDecay           = 0.99
	landmarkBlend           = 0.2
	landmarkBoost           = 0.2
	landmarkUpgradeBoost    = 0.3
	landmarkAssumedDepth    = 2.0
	landmarkAssumedGrowth   = 0.05
	landmarkAssumedMaxDepth = 6.0
)

// Landmark is a fused map point. Confidence <= 0 marks a deleted slot.
type Landmark struct {
	Position       r3.Vector
	Bearing        r3.Vector
	Confidence     float64
	Age            int
	LastSeen       int
	SeenCount      int
	HasMetricDepth bool
}

// Alive reports whether slot holds a live landmark
func (lm *Landmark) Alive() bool {
	return lm.Confidence > 0
}

// AssumedDepth returns placeholder depth used to place bearing-only landmark
func (lm *Landmark) AssumedDepth() float64 {
	return minFloat64(landmarkAssumedDepth+landmarkAssumedGrowth*float64(lm.Age), landmarkAssumedMaxDepth)
}

// LandmarkKind distinguishes trusted 3D landmarks from direction-only ones
type LandmarkKind uint8

const (
	// LandmarkBearing is known only by direction
	LandmarkBearing LandmarkKind = iota
	// LandmarkMetric has depth-backed world position
	LandmarkMetric
)

func (kind LandmarkKind) String() string {
	if kind == LandmarkMetric {
		return "metric"
	}
	return "bearing"
}

// LandmarkView is what a renderer needs to draw one landmark
type LandmarkView struct {
	Position   r3.Vector
	Confidence float64
	Age        int
	Kind       LandmarkKind
}

// LandmarkMap is fixed-capacity ring of landmarks fused from bearing and metric observations.
type LandmarkMap struct {
	landmarks  []Landmark
	pointCount int
	writeIndex int
	frameIndex int
	logger     *zap.Logger
}

// NewLandmarkMapDefault creates map with room for 20000 landmarks
func NewLandmarkMapDefault(opts ...Option) *LandmarkMap {
	return NewLandmarkMap(20000, opts...)
}

// NewLandmarkMap creates new instance of LandmarkMap
func NewLandmarkMap(capacity int, opts ...Option) *LandmarkMap {
	o := applyOptions(opts)
	capacity = maxInt(capacity, 1)
	o.logger.Info("landmark map initialized", zap.Int("capacity", capacity))
	return &LandmarkMap{
		landmarks: make([]Landmark, capacity),
		logger:    o.logger,
	}
}

// BeginFrame advances frame counter and decays landmarks not seen for a while.
// Must be called once per frame before any observation is added.
func (landmarkMap *LandmarkMap) BeginFrame() {
	landmarkMap.frameIndex++
	for i := 0; i < landmarkMap.pointCount; i++ {
		lm := &landmarkMap.landmarks[i]
		if landmarkMap.frameIndex-lm.LastSeen > landmarkUnseenFrames {
			lm.Confidence *= landmarkDecay
			if lm.Confidence < landmarkMinConfidence {
				lm.Confidence = 0
			}
		}
		lm.Age = minInt(lm.Age+1, landmarkMaxAge)
	}
}

// AddMetricObservation fuses depth-backed world position observed along bearing.
// Nearby metric landmark is blended, an aligned bearing-only landmark is upgraded
// with the observed position as is, otherwise a new metric landmark is inserted.
// Returns false when input is degenerate.
func (landmarkMap *LandmarkMap) AddMetricObservation(worldPos, bearing r3.Vector, confidence float64) bool {
	if !(confidence > 0) || !isFiniteVector(worldPos) || !validBearing(bearing) {
		return false
	}

	bestIndex := -1
	bestDist := landmarkDedupDistance * landmarkDedupDistance
	for i := 0; i < landmarkMap.pointCount; i++ {
		lm := &landmarkMap.landmarks[i]
		if !lm.Alive() || !lm.HasMetricDepth {
			continue
		}
		dist := lm.Position.Sub(worldPos).Norm2()
		if dist < bestDist {
			bestDist = dist
			bestIndex = i
		}
	}

	if bestIndex >= 0 {
		lm := &landmarkMap.landmarks[bestIndex]
		lm.Position = blendVector(lm.Position, worldPos, landmarkBlend)
		lm.Bearing = blendVector(lm.Bearing, bearing, landmarkBlend)
		lm.Confidence = minFloat64(1.0, lm.Confidence+confidence*landmarkBoost)
		lm.LastSeen = landmarkMap.frameIndex
		lm.SeenCount++
		return true
	}

	if upgradeIndex := landmarkMap.findBearing(bearing); upgradeIndex >= 0 {
		// Position is taken from the first depth fix without blending
		lm := &landmarkMap.landmarks[upgradeIndex]
		lm.Position = worldPos
		lm.HasMetricDepth = true
		lm.Confidence = minFloat64(1.0, lm.Confidence+confidence*landmarkUpgradeBoost)
		lm.LastSeen = landmarkMap.frameIndex
		lm.SeenCount++
		return true
	}

	landmarkMap.insert(Landmark{
		Position:       worldPos,
		Bearing:        bearing,
		Confidence:     minFloat64(1.0, confidence),
		Age:            0,
		LastSeen:       landmarkMap.frameIndex,
		SeenCount:      1,
		HasMetricDepth: true,
	})
	return true
}

// AddBearingObservation fuses direction-only observation. Returns false when input is degenerate.
func (landmarkMap *LandmarkMap) AddBearingObservation(bearing r3.Vector, confidence float64) bool {
	if !(confidence > 0) || !validBearing(bearing) {
		return false
	}

	if bestIndex := landmarkMap.findBearing(bearing); bestIndex >= 0 {
		lm := &landmarkMap.landmarks[bestIndex]
		lm.Bearing = blendVector(lm.Bearing, bearing, landmarkBlend)
		lm.Confidence = minFloat64(1.0, lm.Confidence+confidence*landmarkBoost)
		lm.LastSeen = landmarkMap.frameIndex
		lm.SeenCount++
		return true
	}

	landmarkMap.insert(Landmark{
		Bearing:        bearing,
		Confidence:     minFloat64(1.0, confidence),
		Age:            0,
		LastSeen:       landmarkMap.frameIndex,
		SeenCount:      1,
		HasMetricDepth: false,
	})
	return true
}

// validBearing rejects zero and non-finite directions, which can't be matched by dot product
func validBearing(bearing r3.Vector) bool {
	return isFiniteVector(bearing) && bearing.Norm2() > 0
}

// findBearing returns live bearing-only landmark best aligned with bearing, -1 if none passes the threshold
func (landmarkMap *LandmarkMap) findBearing(bearing r3.Vector) int {
	bestIndex := -1
	bestDot := landmarkBearingDot
	for i := 0; i < landmarkMap.pointCount; i++ {
		lm := &landmarkMap.landmarks[i]
		if !lm.Alive() || lm.HasMetricDepth {
			continue
		}
		dot := lm.Bearing.Dot(bearing)
		if dot > bestDot {
			bestDot = dot
			bestIndex = i
		}
	}
	return bestIndex
}

// insert writes landmark at the ring cursor, silently overwriting the oldest slot once full
func (landmarkMap *LandmarkMap) insert(lm Landmark) {
	landmarkMap.landmarks[landmarkMap.writeIndex] = lm
	landmarkMap.writeIndex = (landmarkMap.writeIndex + 1) % len(landmarkMap.landmarks)
	if landmarkMap.pointCount < len(landmarkMap.landmarks) {
		landmarkMap.pointCount++
	}
}

func blendVector(current, observed r3.Vector, blend float64) r3.Vector {
	return current.Mul(1.0 - blend).Add(observed.Mul(blend))
}

// MetricCount returns number of live metric landmarks
func (landmarkMap *LandmarkMap) MetricCount() int {
	count := 0
	for i := 0; i < landmarkMap.pointCount; i++ {
		lm := &landmarkMap.landmarks[i]
		if lm.Alive() && lm.HasMetricDepth {
			count++
		}
	}
	return count
}

// BearingCount returns number of live bearing-only landmarks
func (landmarkMap *LandmarkMap) BearingCount() int {
	count := 0
	for i := 0; i < landmarkMap.pointCount; i++ {
		lm := &landmarkMap.landmarks[i]
		if lm.Alive() && !lm.HasMetricDepth {
			count++
		}
	}
	return count
}

// PointCount returns number of used slots, deleted ones included
func (landmarkMap *LandmarkMap) PointCount() int {
	return landmarkMap.pointCount
}

// Capacity returns size of the ring
func (landmarkMap *LandmarkMap) Capacity() int {
	return len(landmarkMap.landmarks)
}

// FrameIndex returns number of BeginFrame calls since creation or last Clear
func (landmarkMap *LandmarkMap) FrameIndex() int {
	return landmarkMap.frameIndex
}

// CopyLandmarks replaces content of dst with snapshot of used slots, deleted ones included, and returns it
func (landmarkMap *LandmarkMap) CopyLandmarks(dst []Landmark) []Landmark {
	return append(dst[:0], landmarkMap.landmarks[:landmarkMap.pointCount]...)
}

// Snapshot appends a view of every live landmark to dst and returns it.
// Bearing-only landmarks are placed along their bearing at the assumed depth in the given camera frame.
func (landmarkMap *LandmarkMap) Snapshot(worldFromCamera *Pose, dst []LandmarkView) []LandmarkView {
	dst = dst[:0]
	for i := 0; i < landmarkMap.pointCount; i++ {
		lm := &landmarkMap.landmarks[i]
		if !lm.Alive() {
			continue
		}
		view := LandmarkView{
			Position:   lm.Position,
			Confidence: lm.Confidence,
			Age:        lm.Age,
			Kind:       LandmarkMetric,
		}
		if !lm.HasMetricDepth {
			if worldFromCamera == nil {
				continue
			}
			view.Kind = LandmarkBearing
			view.Position = worldFromCamera.Transform(lm.Bearing.Mul(lm.AssumedDepth()))
		}
		dst = append(dst, view)
	}
	return dst
}

// Clear drops every landmark and resets frame counter
func (landmarkMap *LandmarkMap) Clear() {
	landmarkMap.pointCount = 0
	landmarkMap.writeIndex = 0
	landmarkMap.frameIndex = 0
	for i := range landmarkMap.landmarks {
		landmarkMap.landmarks[i] = Landmark{}
	}
	landmarkMap.logger.Info("landmark map cleared")
}
