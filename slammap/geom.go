package slammap

import (
	"math"

	"github.com/golang/geo/r3"
)

// Point is a sub-pixel image position
type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(p1.X-p2.X, 2) + math.Pow(p1.Y-p2.Y, 2))
}

// Pose is a 4x4 rigid transform stored column-major, the layout AR session APIs hand out.
// Element (row, col) lives at index col*4+row, translation at 12, 13, 14.
type Pose [16]float64

// IdentityPose returns the identity transform
func IdentityPose() Pose {
	return Pose{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// NewTranslationPose returns a pure translation
func NewTranslationPose(x, y, z float64) Pose {
	pose := IdentityPose()
	pose[12] = x
	pose[13] = y
	pose[14] = z
	return pose
}

// NewPoseFromFloat32 converts a column-major float32 matrix as produced by the Pose Provider
func NewPoseFromFloat32(m [16]float32) Pose {
	var pose Pose
	for i := range m {
		pose[i] = float64(m[i])
	}
	return pose
}

// Transform applies the rigid transform to a point
func (pose *Pose) Transform(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: pose[0]*v.X + pose[4]*v.Y + pose[8]*v.Z + pose[12],
		Y: pose[1]*v.X + pose[5]*v.Y + pose[9]*v.Z + pose[13],
		Z: pose[2]*v.X + pose[6]*v.Y + pose[10]*v.Z + pose[14],
	}
}

// Translation returns the camera position for a world-from-camera pose
func (pose *Pose) Translation() r3.Vector {
	return r3.Vector{X: pose[12], Y: pose[13], Z: pose[14]}
}

// Intrinsics is a pinhole model in color-image pixel space.
// ImageWidth and ImageHeight are the dimensions of the color image the model was calibrated for.
type Intrinsics struct {
	Fx          float64
	Fy          float64
	Cx          float64
	Cy          float64
	ImageWidth  int
	ImageHeight int
}

// Valid reports whether the focal lengths can be divided by
func (intr Intrinsics) Valid() bool {
	return intr.Fx != 0 && intr.Fy != 0 && !math.IsNaN(intr.Fx) && !math.IsNaN(intr.Fy)
}

// ScaleTo returns x/y factors mapping color-image pixels onto an image of the given size.
// Unknown color dimensions map 1:1.
func (intr Intrinsics) ScaleTo(width, height int) (float64, float64) {
	scaleX := 1.0
	scaleY := 1.0
	if intr.ImageWidth > 0 {
		scaleX = float64(width) / float64(intr.ImageWidth)
	}
	if intr.ImageHeight > 0 {
		scaleY = float64(height) / float64(intr.ImageHeight)
	}
	return scaleX, scaleY
}

// Rescaled returns the model expressed in pixels of an image with the given size.
// No distortion model is applied: depth and color are assumed to share the optical center ratio.
func (intr Intrinsics) Rescaled(width, height int) Intrinsics {
	scaleX, scaleY := intr.ScaleTo(width, height)
	return Intrinsics{
		Fx:          intr.Fx * scaleX,
		Fy:          intr.Fy * scaleY,
		Cx:          intr.Cx * scaleX,
		Cy:          intr.Cy * scaleY,
		ImageWidth:  width,
		ImageHeight: height,
	}
}

// Bearing returns the unit camera-space ray through pixel (x, y). The camera looks down -Z.
func (intr Intrinsics) Bearing(x, y float64) r3.Vector {
	return r3.Vector{
		X: (x - intr.Cx) / intr.Fx,
		Y: (y - intr.Cy) / intr.Fy,
		Z: -1.0,
	}.Normalize()
}

// Unproject returns the camera-space point at pixel (x, y) with the given depth in meters
func (intr Intrinsics) Unproject(x, y, depth float64) r3.Vector {
	return r3.Vector{
		X: (x - intr.Cx) * depth / intr.Fx,
		Y: (y - intr.Cy) * depth / intr.Fy,
		Z: -depth,
	}
}

// finite reports whether every matrix entry is a real number
func (pose *Pose) finite() bool {
	for _, v := range pose {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func isFiniteVector(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
