// Package synthetic renders a deterministic textured wall seen by a camera panning sideways.
// It stands in for the pose provider in tests and in the replay command.
package synthetic

import (
	"math"

	"github.com/LdDl/slammap-go/slammap"
)

// Scene describes the wall and the camera motion
type Scene struct {
	Width      int
	Height     int
	Intrinsics slammap.Intrinsics
	// Distance from camera to the wall in meters
	WallDepth float64
	// Horizontal image motion in pixels per frame
	ShiftPerFrame float64
	DepthWidth    int
	DepthHeight   int
	// Spacing of the wall point cloud in meters
	CloudSpacing float64
}

// NewScene creates scene with 2 m wall, 1 px per frame pan and quarter resolution depth
func NewScene(width, height int) *Scene {
	focal := 0.9 * float64(width)
	return &Scene{
		Width:  width,
		Height: height,
		Intrinsics: slammap.Intrinsics{
			Fx:          focal,
			Fy:          focal,
			Cx:          float64(width) / 2,
			Cy:          float64(height) / 2,
			ImageWidth:  width,
			ImageHeight: height,
		},
		WallDepth:     2.0,
		ShiftPerFrame: 1.0,
		DepthWidth:    maxInt(width/4, 1),
		DepthHeight:   maxInt(height/4, 1),
		CloudSpacing:  0.1,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// texture is smooth pattern with plenty of corners at every pyramid level
func texture(x, y float64) uint8 {
	v := 128 + 45*math.Sin(0.31*x+1.3*math.Sin(0.11*y)) + 45*math.Sin(0.27*y+1.1*math.Sin(0.13*x))
	return uint8(math.Min(235, math.Max(20, v)))
}

// Offset returns image motion of frame in pixels, rounded to whole pixels
func (scene *Scene) Offset(frame int) int {
	return int(math.Round(float64(frame) * scene.ShiftPerFrame))
}

// Image renders luminance of frame
func (scene *Scene) Image(frame int) *slammap.GrayImage {
	img := slammap.NewGrayImage(scene.Width, scene.Height)
	offset := float64(scene.Offset(frame))
	for y := 0; y < scene.Height; y++ {
		row := img.Row(y)
		for x := range row {
			row[x] = texture(float64(x)-offset, float64(y))
		}
	}
	return img
}

// Pose returns world-from-camera transform of frame. The camera slides along -X so the wall moves right in the image
func (scene *Scene) Pose(frame int) slammap.Pose {
	offset := float64(scene.Offset(frame))
	return slammap.NewTranslationPose(-offset*scene.WallDepth/scene.Intrinsics.Fx, 0, 0)
}

// Depth renders fronto-parallel wall depth with full confidence
func (scene *Scene) Depth(frame int) *slammap.DepthFrame {
	depth := slammap.NewDepthFrame(scene.DepthWidth, scene.DepthHeight)
	depth.AttachConfidence(255)
	depthMM := uint16(math.Round(scene.WallDepth * 1000))
	for y := 0; y < depth.Height; y++ {
		for x := 0; x < depth.Width; x++ {
			depth.SetDepthMillimeters(x, y, depthMM)
		}
	}
	depth.TimestampNanos = int64(frame) * int64(33333333)
	return depth
}

// PointCloud returns camera-space (x, y, z, confidence) quads of a fixed world grid on the wall visible in frame
func (scene *Scene) PointCloud(frame int) []float32 {
	pose := scene.Pose(frame)
	camera := pose.Translation()
	halfW := scene.WallDepth * float64(scene.Width) / (2 * scene.Intrinsics.Fx)
	halfH := scene.WallDepth * float64(scene.Height) / (2 * scene.Intrinsics.Fy)
	spacing := scene.CloudSpacing
	if spacing <= 0 {
		spacing = 0.1
	}

	out := make([]float32, 0, 256)
	for iy := int(math.Ceil(-halfH / spacing)); float64(iy)*spacing <= halfH; iy++ {
		for ix := int(math.Ceil((camera.X - halfW) / spacing)); float64(ix)*spacing <= camera.X+halfW; ix++ {
			out = append(out,
				float32(float64(ix)*spacing-camera.X),
				float32(float64(iy)*spacing-camera.Y),
				float32(-scene.WallDepth-camera.Z),
				0.9,
			)
		}
	}
	return out
}
