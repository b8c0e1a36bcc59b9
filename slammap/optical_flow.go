package slammap

import (
	"math"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	flowWindowRadius   = 2
	flowIterations     = 6
	flowMinDeterminant = 1e-4
	flowMaxError       = 20.0
	// Squared step length (px^2) below which Gauss-Newton stops early
	flowConvergedStep2 = 1e-4

	detectCellSize      = 24
	detectBorder        = 6
	detectGradThreshold = 18.0
	detectMinIntensity  = 15
	detectMaxIntensity  = 240
)

// Track is a sparse feature followed from frame to frame
type Track struct {
	ID          uuid.UUID
	X           float64
	Y           float64
	PrevX       float64
	PrevY       float64
	Error       float64
	Age         int
	StableCount int
	Active      bool
	// Display position. Equals (X, Y) unless smoothing is enabled
	SmoothedX float64
	SmoothedY float64

	filter *kalman_filter.Kalman2D
}

// Position returns current sub-pixel position
func (track *Track) Position() Point {
	return NewPoint(track.X, track.Y)
}

// Displacement returns motion between previous and current frame
func (track *Track) Displacement() Point {
	return NewPoint(track.X-track.PrevX, track.Y-track.PrevY)
}

// DisplacementLength returns length of the last frame-to-frame motion in pixels
func (track *Track) DisplacementLength() float64 {
	return euclideanDistance(NewPoint(track.PrevX, track.PrevY), track.Position())
}

// FlowStats describes what the last Update did
type FlowStats struct {
	Tracked  int
	Failed   int
	Detected int
	Active   int
}

// OpticalFlowTracker is sparse pyramidal Lucas-Kanade tracker over a fixed-size track table.
type OpticalFlowTracker struct {
	maxFeatures     int
	pyramidLevels   int
	reseedThreshold int
	width           int
	height          int
	hasPrev         bool

	pyramidPrev *pyramid
	pyramidCurr *pyramid

	tracks     []Track
	trackCount int

	// Scratch for detection: which grid cells already hold an active track
	cellsX       int
	cellsY       int
	occupiedCell []bool

	lastUpdate FlowStats

	smoothTracks bool
	smoothingDt  float64
	logger       *zap.Logger
}

// NewOpticalFlowTrackerDefault creates tracker with 800 features and 3 pyramid levels
func NewOpticalFlowTrackerDefault(opts ...Option) *OpticalFlowTracker {
	return NewOpticalFlowTracker(800, 3, opts...)
}

// NewOpticalFlowTracker creates new instance of OpticalFlowTracker.
// Re-detection kicks in once fewer than maxFeatures/2 tracks survive a frame.
func NewOpticalFlowTracker(maxFeatures, pyramidLevels int, opts ...Option) *OpticalFlowTracker {
	o := applyOptions(opts)
	maxFeatures = maxInt(maxFeatures, 1)
	pyramidLevels = maxInt(pyramidLevels, 1)
	return &OpticalFlowTracker{
		maxFeatures:     maxFeatures,
		pyramidLevels:   pyramidLevels,
		reseedThreshold: maxFeatures / 2,
		tracks:          make([]Track, maxFeatures),
		smoothTracks:    o.smoothTracks,
		smoothingDt:     o.smoothingDt,
		logger:          o.logger,
	}
}

// Reset drops all tracks and forgets the previous image
func (tracker *OpticalFlowTracker) Reset() {
	tracker.trackCount = 0
	tracker.hasPrev = false
	tracker.lastUpdate = FlowStats{}
	for i := range tracker.tracks {
		tracker.tracks[i] = Track{}
	}
}

// Initialize (re)allocates pyramid buffers for the given frame size. Calling it with unchanged size is a no-op
func (tracker *OpticalFlowTracker) Initialize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	if width == tracker.width && height == tracker.height && tracker.pyramidPrev != nil {
		return
	}
	tracker.width = width
	tracker.height = height
	tracker.pyramidPrev = newPyramid(width, height, tracker.pyramidLevels)
	tracker.pyramidCurr = newPyramid(width, height, tracker.pyramidLevels)
	tracker.cellsX = maxInt(0, (width-detectBorder)/detectCellSize) + 1
	tracker.cellsY = maxInt(0, (height-detectBorder)/detectCellSize) + 1
	tracker.occupiedCell = make([]bool, tracker.cellsX*tracker.cellsY)
	tracker.Reset()
	tracker.logger.Info("optical flow tracker initialized",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("levels", tracker.pyramidLevels),
		zap.Int("max_features", tracker.maxFeatures),
	)
}

// Update consumes a tightly packed frame (stride == width). Returns false on malformed input.
func (tracker *OpticalFlowTracker) Update(image []uint8, width, height int) bool {
	if image == nil || width <= 0 || height <= 0 {
		return false
	}
	if len(image) < width*height {
		return false
	}
	return tracker.update(image, width, height, width)
}

// UpdateImage consumes a frame with explicit row stride. Returns false on malformed input.
func (tracker *OpticalFlowTracker) UpdateImage(img *GrayImage) bool {
	if !img.Valid() {
		return false
	}
	return tracker.update(img.Pix, img.Width, img.Height, img.Stride)
}

func (tracker *OpticalFlowTracker) update(image []uint8, width, height, stride int) bool {
	if width != tracker.width || height != tracker.height || tracker.pyramidPrev == nil {
		tracker.Initialize(width, height)
	}

	tracker.pyramidCurr.build(image, stride)
	stats := FlowStats{}

	if !tracker.hasPrev {
		stats.Detected = tracker.detectFeatures()
		stats.Active = stats.Detected
		tracker.swapPyramids()
		tracker.lastUpdate = stats
		return true
	}

	for i := 0; i < tracker.trackCount; i++ {
		track := &tracker.tracks[i]
		if !track.Active {
			continue
		}
		if tracker.trackFeature(track) {
			track.Age++
			track.StableCount++
			tracker.smooth(track)
			stats.Tracked++
		} else {
			track.Active = false
			track.StableCount = 0
			stats.Failed++
		}
	}

	if stats.Tracked < tracker.reseedThreshold {
		stats.Detected = tracker.detectFeatures()
	}
	stats.Active = stats.Tracked + stats.Detected

	tracker.swapPyramids()
	tracker.lastUpdate = stats
	return true
}

func (tracker *OpticalFlowTracker) swapPyramids() {
	tracker.pyramidPrev, tracker.pyramidCurr = tracker.pyramidCurr, tracker.pyramidPrev
	tracker.hasPrev = true
}

// detectFeatures compacts active tracks to the front of the table and seeds
// one new feature in every grid cell that holds none. Returns number of new tracks.
func (tracker *OpticalFlowTracker) detectFeatures() int {
	kept := 0
	for i := 0; i < tracker.trackCount; i++ {
		if tracker.tracks[i].Active {
			tracker.tracks[kept], tracker.tracks[i] = tracker.tracks[i], tracker.tracks[kept]
			kept++
		}
	}
	tracker.trackCount = kept

	for i := range tracker.occupiedCell {
		tracker.occupiedCell[i] = false
	}
	for i := 0; i < kept; i++ {
		if cell, ok := tracker.cellIndex(tracker.tracks[i].X, tracker.tracks[i].Y); ok {
			tracker.occupiedCell[cell] = true
		}
	}

	image := tracker.pyramidCurr.levels[0]
	w := tracker.width
	h := tracker.height
	detected := 0

	for gy := 0; gy < tracker.cellsY; gy++ {
		for gx := 0; gx < tracker.cellsX; gx++ {
			if tracker.trackCount >= tracker.maxFeatures {
				return detected
			}
			if tracker.occupiedCell[gy*tracker.cellsX+gx] {
				continue
			}
			bestScore := 0.0
			bestX := -1
			bestY := -1
			startX := detectBorder + gx*detectCellSize
			startY := detectBorder + gy*detectCellSize
			endX := minInt(startX+detectCellSize, w-detectBorder)
			endY := minInt(startY+detectCellSize, h-detectBorder)

			for y := startY; y < endY; y += 2 {
				for x := startX; x < endX; x += 2 {
					idx := y*w + x
					intensity := image[idx]
					if intensity < detectMinIntensity || intensity > detectMaxIntensity {
						continue
					}
					ix := 0.5 * (float64(image[idx+1]) - float64(image[idx-1]))
					iy := 0.5 * (float64(image[idx+w]) - float64(image[idx-w]))
					score := ix*ix + iy*iy
					if score > bestScore && score > detectGradThreshold {
						bestScore = score
						bestX = x
						bestY = y
					}
				}
			}

			if bestX < 0 {
				continue
			}
			tracker.tracks[tracker.trackCount] = tracker.newTrack(float64(bestX), float64(bestY))
			tracker.trackCount++
			detected++
		}
	}
	return detected
}

func (tracker *OpticalFlowTracker) newTrack(x, y float64) Track {
	track := Track{
		ID:          uuid.New(),
		X:           x,
		Y:           y,
		PrevX:       x,
		PrevY:       y,
		Error:       0,
		Age:         1,
		StableCount: 1,
		Active:      true,
		SmoothedX:   x,
		SmoothedY:   y,
	}
	if tracker.smoothTracks {
		/* Kalman filter props */
		ux := 1.0
		uy := 1.0
		stdDevA := 2.0
		stdDevMx := 0.5
		stdDevMy := 0.5
		track.filter = kalman_filter.NewKalman2D(tracker.smoothingDt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(x, y))
	}
	return track
}

func (tracker *OpticalFlowTracker) smooth(track *Track) {
	if track.filter == nil {
		track.SmoothedX = track.X
		track.SmoothedY = track.Y
		return
	}
	track.filter.Predict()
	if err := track.filter.Update(track.X, track.Y); err != nil {
		track.SmoothedX = track.X
		track.SmoothedY = track.Y
		return
	}
	track.SmoothedX, track.SmoothedY = track.filter.GetState()
}

// cellIndex maps full resolution position onto detection grid cell
func (tracker *OpticalFlowTracker) cellIndex(x, y float64) (int, bool) {
	gx := int(math.Floor((x - detectBorder) / detectCellSize))
	gy := int(math.Floor((y - detectBorder) / detectCellSize))
	if gx < 0 || gy < 0 || gx >= tracker.cellsX || gy >= tracker.cellsY {
		return 0, false
	}
	return gy*tracker.cellsX + gx, true
}

// trackFeature runs coarse-to-fine LK for single track. Position is updated on success only.
// The window stays at the track position on every level, the displacement found so far seeds the next finer level.
func (tracker *OpticalFlowTracker) trackFeature(track *Track) bool {
	dx := 0.0
	dy := 0.0
	residual := 0.0

	for level := tracker.pyramidLevels - 1; level >= 0; level-- {
		scale := 1.0 / float64(int(1)<<level)
		levelDx, levelDy, levelResidual := tracker.trackAtLevel(level, track.X*scale, track.Y*scale, dx*scale, dy*scale)
		if levelResidual > flowMaxError {
			return false
		}
		residual = levelResidual
		dx = levelDx / scale
		dy = levelDy / scale
	}

	x := track.X + dx
	y := track.Y + dy
	if x < detectBorder || y < detectBorder || x >= float64(tracker.width-detectBorder) || y >= float64(tracker.height-detectBorder) {
		return false
	}

	track.PrevX = track.X
	track.PrevY = track.Y
	track.X = x
	track.Y = y
	track.Error = residual
	return true
}

// trackAtLevel refines displacement (guessX, guessY) of window centered at (x, y) in level coordinates.
// Returns refined displacement and length of the refinement made at this level.
// A near-singular system reports flowMaxError+1 so the caller drops the track.
func (tracker *OpticalFlowTracker) trackAtLevel(level int, x, y, guessX, guessY float64) (float64, float64, float64) {
	prev := tracker.pyramidPrev
	curr := tracker.pyramidCurr
	w := float64(prev.widths[level])
	h := float64(prev.heights[level])
	dx := guessX
	dy := guessY

	for iter := 0; iter < flowIterations; iter++ {
		sumIx2 := 0.0
		sumIy2 := 0.0
		sumIxIy := 0.0
		sumIxIt := 0.0
		sumIyIt := 0.0

		for wy := -flowWindowRadius; wy <= flowWindowRadius; wy++ {
			for wx := -flowWindowRadius; wx <= flowWindowRadius; wx++ {
				px := x + float64(wx)
				py := y + float64(wy)
				qx := px + dx
				qy := py + dy
				if px < 1 || py < 1 || px >= w-1 || py >= h-1 {
					continue
				}
				if qx < 1 || qy < 1 || qx >= w-1 || qy >= h-1 {
					continue
				}

				prevVal := prev.sample(level, px, py)
				currVal := curr.sample(level, qx, qy)
				ix := 0.5 * (prev.sample(level, px+1, py) - prev.sample(level, px-1, py))
				iy := 0.5 * (prev.sample(level, px, py+1) - prev.sample(level, px, py-1))
				it := currVal - prevVal

				sumIx2 += ix * ix
				sumIy2 += iy * iy
				sumIxIy += ix * iy
				sumIxIt += ix * it
				sumIyIt += iy * it
			}
		}

		det := sumIx2*sumIy2 - sumIxIy*sumIxIy
		if det < flowMinDeterminant {
			return dx, dy, flowMaxError + 1
		}

		invDet := 1.0 / det
		deltaX := (-sumIy2*sumIxIt + sumIxIy*sumIyIt) * invDet
		deltaY := (sumIxIy*sumIxIt - sumIx2*sumIyIt) * invDet
		dx += deltaX
		dy += deltaY

		if deltaX*deltaX+deltaY*deltaY < flowConvergedStep2 {
			break
		}
	}

	return dx, dy, math.Hypot(dx-guessX, dy-guessY)
}

// CopyTracks replaces content of dst with snapshot of used track slots, active or not, and returns it
func (tracker *OpticalFlowTracker) CopyTracks(dst []Track) []Track {
	return append(dst[:0], tracker.tracks[:tracker.trackCount]...)
}

// TrackCount returns number of used slots in track table
func (tracker *OpticalFlowTracker) TrackCount() int {
	return tracker.trackCount
}

// ActiveCount returns number of currently active tracks
func (tracker *OpticalFlowTracker) ActiveCount() int {
	count := 0
	for i := 0; i < tracker.trackCount; i++ {
		if tracker.tracks[i].Active {
			count++
		}
	}
	return count
}

// LastUpdate returns statistics of the most recent successful Update
func (tracker *OpticalFlowTracker) LastUpdate() FlowStats {
	return tracker.lastUpdate
}

// MaxFeatures returns capacity of track table
func (tracker *OpticalFlowTracker) MaxFeatures() int {
	return tracker.maxFeatures
}

// Width returns frame width the pyramids are allocated for
func (tracker *OpticalFlowTracker) Width() int {
	return tracker.width
}

// Height returns frame height the pyramids are allocated for
func (tracker *OpticalFlowTracker) Height() int {
	return tracker.height
}

// HasImage reports whether a previous frame is stored
func (tracker *OpticalFlowTracker) HasImage() bool {
	return tracker.hasPrev
}

// LevelSize returns dimensions of given pyramid level, zeros when not allocated
func (tracker *OpticalFlowTracker) LevelSize(level int) (int, int) {
	if tracker.pyramidCurr == nil || level < 0 || level >= tracker.pyramidCurr.numLevels() {
		return 0, 0
	}
	return tracker.pyramidCurr.widths[level], tracker.pyramidCurr.heights[level]
}
