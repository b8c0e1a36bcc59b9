package slammap

import (
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
)

const (
	defaultPointMapCapacity     = 500000
	defaultPointMapVoxelSize    = 0.02
	defaultPointMapMaxDistance  = 10.0
	pointMapDecimation          = 2
	pointMapConfidenceThreshold = 0.3
	pointStride                 = 4
)

type voxelKey struct {
	x, y, z int32
}

// PersistentPointMap is fixed-capacity ring of world points where no two live points occupy the same voxel.
type PersistentPointMap struct {
	points     []float32
	keys       []voxelKey
	occupied   map[voxelKey]struct{}
	capacity   int
	count      int
	writeIndex int
	totalAdded int
	wrapped    bool

	voxelSize   float64
	maxDistance float64
	logger      *zap.Logger
}

// NewPersistentPointMapDefault creates map with room for 500000 points
func NewPersistentPointMapDefault(opts ...Option) *PersistentPointMap {
	return NewPersistentPointMap(defaultPointMapCapacity, opts...)
}

// NewPersistentPointMap creates new instance of PersistentPointMap
func NewPersistentPointMap(capacity int, opts ...Option) *PersistentPointMap {
	o := applyOptions(opts)
	capacity = maxInt(capacity, 1)
	o.logger.Info("persistent point map initialized",
		zap.Int("capacity", capacity),
		zap.Float64("voxel_size", o.pointMapVoxel),
		zap.Float64("max_distance", o.pointMapRadius),
	)
	return &PersistentPointMap{
		points:      make([]float32, capacity*3),
		keys:        make([]voxelKey, capacity),
		occupied:    make(map[voxelKey]struct{}, capacity),
		capacity:    capacity,
		voxelSize:   o.pointMapVoxel,
		maxDistance: o.pointMapRadius,
		logger:      o.logger,
	}
}

// keyOf truncates toward zero, so the cells adjacent to each axis origin are twice as wide
func (pointMap *PersistentPointMap) keyOf(world r3.Vector) voxelKey {
	return voxelKey{
		x: int32(world.X / pointMap.voxelSize),
		y: int32(world.Y / pointMap.voxelSize),
		z: int32(world.Z / pointMap.voxelSize),
	}
}

// AddPoints accumulates camera-space (x, y, z, confidence) quads transformed by worldFromCamera.
// Returns number of inserted points.
func (pointMap *PersistentPointMap) AddPoints(worldFromCamera *Pose, points []float32) int {
	if worldFromCamera == nil || len(points) < pointStride {
		return 0
	}
	inserted := 0
	numPoints := len(points) / pointStride
	for i := 0; i < numPoints; i += pointMapDecimation {
		quad := points[i*pointStride : i*pointStride+pointStride]
		if float64(quad[3]) < pointMapConfidenceThreshold {
			continue
		}
		world := worldFromCamera.Transform(r3.Vector{X: float64(quad[0]), Y: float64(quad[1]), Z: float64(quad[2])})
		if !isFiniteVector(world) || world.Norm2() > pointMap.maxDistance*pointMap.maxDistance {
			continue
		}
		if pointMap.insert(world) {
			inserted++
		}
	}
	return inserted
}

func (pointMap *PersistentPointMap) insert(world r3.Vector) bool {
	if math.Abs(world.X/pointMap.voxelSize) >= math.MaxInt32 ||
		math.Abs(world.Y/pointMap.voxelSize) >= math.MaxInt32 ||
		math.Abs(world.Z/pointMap.voxelSize) >= math.MaxInt32 {
		return false
	}
	key := pointMap.keyOf(world)
	full := pointMap.count == pointMap.capacity
	if _, taken := pointMap.occupied[key]; taken {
		// The only owner that can be displaced is the point under the cursor
		if !full || pointMap.keys[pointMap.writeIndex] != key {
			return false
		}
	}
	if full {
		delete(pointMap.occupied, pointMap.keys[pointMap.writeIndex])
		pointMap.count--
		if !pointMap.wrapped {
			pointMap.logger.Debug("persistent point map started overwriting", zap.Int("capacity", pointMap.capacity))
		}
		pointMap.wrapped = true
	}

	out := pointMap.writeIndex * 3
	pointMap.points[out+0] = float32(world.X)
	pointMap.points[out+1] = float32(world.Y)
	pointMap.points[out+2] = float32(world.Z)
	pointMap.keys[pointMap.writeIndex] = key
	pointMap.occupied[key] = struct{}{}
	pointMap.count++
	pointMap.totalAdded++

	pointMap.writeIndex = (pointMap.writeIndex + 1) % pointMap.capacity
	return true
}

// PointCount returns number of live points
func (pointMap *PersistentPointMap) PointCount() int {
	return pointMap.count
}

// TotalAdded returns number of points ever inserted, evicted ones included
func (pointMap *PersistentPointMap) TotalAdded() int {
	return pointMap.totalAdded
}

// IsBufferWrapped reports whether any point has been overwritten since creation or last Clear
func (pointMap *PersistentPointMap) IsBufferWrapped() bool {
	return pointMap.wrapped
}

// VoxelCount returns number of occupied voxels. Always equals PointCount
func (pointMap *PersistentPointMap) VoxelCount() int {
	return len(pointMap.occupied)
}

// Capacity returns size of the ring
func (pointMap *PersistentPointMap) Capacity() int {
	return pointMap.capacity
}

// CopyPoints replaces content of dst with xyz triples of live points in ring order and returns it
func (pointMap *PersistentPointMap) CopyPoints(dst []float32) []float32 {
	return append(dst[:0], pointMap.points[:pointMap.count*3]...)
}

// Clear drops every point
func (pointMap *PersistentPointMap) Clear() {
	for k := range pointMap.occupied {
		delete(pointMap.occupied, k)
	}
	pointMap.count = 0
	pointMap.writeIndex = 0
	pointMap.totalAdded = 0
	pointMap.wrapped = false
	pointMap.logger.Info("persistent point map cleared")
}
