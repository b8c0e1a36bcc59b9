package slammap

import (
	"github.com/golang/geo/r3"
	"go.uber.org/zap"
)

const (
	// VoxelGridDim is the number of voxels along each axis of the depth grid
	VoxelGridDim = 96
	// VoxelSize is the edge of one depth voxel in meters
	VoxelSize = 0.10

	voxelCount          = VoxelGridDim * VoxelGridDim * VoxelGridDim
	voxelHalfExtent     = VoxelGridDim * VoxelSize * 0.5
	voxelRecenterFactor = 0.35
	voxelRecenterDist   = voxelHalfExtent * voxelRecenterFactor

	depthMinMeters          = 0.2
	depthMaxMeters          = 6.0
	depthSampleStride       = 4
	depthConfidenceMin      = 128
	occupancyIncrement      = 8
	occupancyMax            = 255
	depthMillimetersToMeter = 0.001
)

// DepthStats is recomputed on every DepthVoxelMapper.Update
type DepthStats struct {
	VoxelsUsed           int
	PointsFusedLastFrame int
	MinDepthMeters       float64
	MaxDepthMeters       float64
	Recenters            int
}

// DepthVoxelMapper fuses depth frames into a bounded occupancy grid that follows the camera.
type DepthVoxelMapper struct {
	enabled    bool
	originSet  bool
	origin     r3.Vector
	voxelsUsed int
	recenters  int

	occupancy []uint8

	renderDirty       bool
	renderPoints      []float32
	renderPointsCount int

	stats  DepthStats
	logger *zap.Logger
}

// NewDepthVoxelMapper creates new enabled instance of DepthVoxelMapper with preallocated grid
func NewDepthVoxelMapper(opts ...Option) *DepthVoxelMapper {
	o := applyOptions(opts)
	return &DepthVoxelMapper{
		enabled:      true,
		occupancy:    make([]uint8, voxelCount),
		renderPoints: make([]float32, voxelCount*3),
		logger:       o.logger,
	}
}

// SetEnabled toggles fusion. Disabled mapper ignores Update calls but keeps its grid
func (mapper *DepthVoxelMapper) SetEnabled(enabled bool) {
	mapper.enabled = enabled
}

// Enabled reports whether fusion is on
func (mapper *DepthVoxelMapper) Enabled() bool {
	return mapper.enabled
}

// Reset clears grid, counters and origin
func (mapper *DepthVoxelMapper) Reset() {
	mapper.clearGrid()
	mapper.renderPointsCount = 0
	mapper.renderDirty = false
	mapper.stats = DepthStats{}
	mapper.originSet = false
	mapper.recenters = 0
}

func (mapper *DepthVoxelMapper) clearGrid() {
	for i := range mapper.occupancy {
		mapper.occupancy[i] = 0
	}
	mapper.voxelsUsed = 0
}

// recenterIfNeeded anchors the origin on first call and moves it (clearing the grid) after large camera motion
func (mapper *DepthVoxelMapper) recenterIfNeeded(worldFromCamera *Pose) {
	camera := worldFromCamera.Translation()
	if !mapper.originSet {
		mapper.origin = camera
		mapper.originSet = true
		return
	}
	delta := camera.Sub(mapper.origin)
	if absFloat64(delta.X) > voxelRecenterDist || absFloat64(delta.Y) > voxelRecenterDist || absFloat64(delta.Z) > voxelRecenterDist {
		mapper.origin = camera
		mapper.clearGrid()
		mapper.renderDirty = true
		mapper.recenters++
		mapper.logger.Debug("depth grid recentered",
			zap.Float64("x", camera.X),
			zap.Float64("y", camera.Y),
			zap.Float64("z", camera.Z),
		)
	}
}

// Update fuses every 4th row and column of frame into the grid.
// Intrinsics are given in color-image pixels and rescaled to the depth resolution.
func (mapper *DepthVoxelMapper) Update(frame *DepthFrame, intrinsics Intrinsics, worldFromCamera *Pose) {
	mapper.stats.PointsFusedLastFrame = 0
	mapper.stats.MinDepthMeters = 0
	mapper.stats.MaxDepthMeters = 0
	mapper.stats.VoxelsUsed = mapper.voxelsUsed
	mapper.stats.Recenters = mapper.recenters

	if !mapper.enabled || worldFromCamera == nil || !worldFromCamera.finite() || !frame.Valid() || !intrinsics.Valid() {
		return
	}

	mapper.recenterIfNeeded(worldFromCamera)

	depthIntrinsics := intrinsics.Rescaled(frame.Width, frame.Height)
	hasConfidence := frame.HasConfidence()
	minDepth := 0.0
	maxDepth := 0.0
	fused := 0

	for y := 0; y < frame.Height; y += depthSampleStride {
		for x := 0; x < frame.Width; x += depthSampleStride {
			depthMM := frame.DepthMillimeters(x, y)
			if depthMM == 0 {
				continue
			}
			depth := float64(depthMM) * depthMillimetersToMeter
			if depth < depthMinMeters || depth > depthMaxMeters {
				continue
			}
			if hasConfidence && frame.ConfidenceAt(x, y) < depthConfidenceMin {
				continue
			}
			if minDepth == 0 || depth < minDepth {
				minDepth = depth
			}
			maxDepth = maxFloat64(maxDepth, depth)

			world := worldFromCamera.Transform(depthIntrinsics.Unproject(float64(x), float64(y), depth))
			gx, gy, gz, ok := mapper.gridCoords(world)
			if !ok {
				continue
			}
			idx := voxelIndex(gx, gy, gz)
			if mapper.occupancy[idx] == 0 {
				mapper.voxelsUsed++
			}
			mapper.occupancy[idx] = uint8(minInt(occupancyMax, int(mapper.occupancy[idx])+occupancyIncrement))
			fused++
			mapper.renderDirty = true
		}
	}

	mapper.stats.PointsFusedLastFrame = fused
	mapper.stats.VoxelsUsed = mapper.voxelsUsed
	mapper.stats.MinDepthMeters = minDepth
	mapper.stats.MaxDepthMeters = maxDepth
	mapper.stats.Recenters = mapper.recenters
}

// gridCoords maps world point onto grid axes, false when outside the grid or not finite
func (mapper *DepthVoxelMapper) gridCoords(world r3.Vector) (int, int, int, bool) {
	if !isFiniteVector(world) {
		return 0, 0, 0, false
	}
	local := world.Sub(mapper.origin).Add(r3.Vector{X: voxelHalfExtent, Y: voxelHalfExtent, Z: voxelHalfExtent})
	if local.X < 0 || local.Y < 0 || local.Z < 0 {
		return 0, 0, 0, false
	}
	gx := int(local.X / VoxelSize)
	gy := int(local.Y / VoxelSize)
	gz := int(local.Z / VoxelSize)
	if gx >= VoxelGridDim || gy >= VoxelGridDim || gz >= VoxelGridDim {
		return 0, 0, 0, false
	}
	return gx, gy, gz, true
}

func voxelIndex(x, y, z int) int {
	return x + y*VoxelGridDim + z*VoxelGridDim*VoxelGridDim
}

// Occupancy returns counter of voxel (x, y, z); 0 when out of the grid
func (mapper *DepthVoxelMapper) Occupancy(x, y, z int) uint8 {
	if x < 0 || y < 0 || z < 0 || x >= VoxelGridDim || y >= VoxelGridDim || z >= VoxelGridDim {
		return 0
	}
	return mapper.occupancy[voxelIndex(x, y, z)]
}

// Origin returns world position of grid center and whether it has been fixed yet
func (mapper *DepthVoxelMapper) Origin() (r3.Vector, bool) {
	return mapper.origin, mapper.originSet
}

// Stats returns statistics of the last Update
func (mapper *DepthVoxelMapper) Stats() DepthStats {
	return mapper.stats
}

// VoxelsUsed returns number of voxels with nonzero occupancy
func (mapper *DepthVoxelMapper) VoxelsUsed() int {
	return mapper.voxelsUsed
}

// RenderPoints replaces content of dst with xyz triples of occupied voxel centers and returns it.
// The cached list is rebuilt only if grid has changed, the flag tells whether a rebuild happened during this call.
func (mapper *DepthVoxelMapper) RenderPoints(dst []float32) ([]float32, bool) {
	wasDirty := mapper.renderDirty
	if mapper.renderDirty {
		mapper.rebuildRenderPoints()
	}
	return append(dst[:0], mapper.renderPoints[:mapper.renderPointsCount*3]...), wasDirty
}

func (mapper *DepthVoxelMapper) rebuildRenderPoints() {
	mapper.renderPointsCount = 0
	for z := 0; z < VoxelGridDim; z++ {
		for y := 0; y < VoxelGridDim; y++ {
			for x := 0; x < VoxelGridDim; x++ {
				if mapper.occupancy[voxelIndex(x, y, z)] == 0 {
					continue
				}
				out := mapper.renderPointsCount * 3
				mapper.renderPoints[out+0] = float32(mapper.origin.X + (float64(x)+0.5)*VoxelSize - voxelHalfExtent)
				mapper.renderPoints[out+1] = float32(mapper.origin.Y + (float64(y)+0.5)*VoxelSize - voxelHalfExtent)
				mapper.renderPoints[out+2] = float32(mapper.origin.Z + (float64(z)+0.5)*VoxelSize - voxelHalfExtent)
				mapper.renderPointsCount++
			}
		}
	}
	mapper.renderDirty = false
}
