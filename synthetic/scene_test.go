package synthetic

import (
	"math"
	"testing"
)

const (
	eps = 0.00001
)

func TestSceneImageShift(t *testing.T) {
	scene := NewScene(64, 48)
	first := scene.Image(0)
	third := scene.Image(2)
	if !first.Valid() || !third.Valid() {
		t.Fatalf("Expected valid images")
	}
	// Content moves right by 2 px
	for y := 0; y < scene.Height; y++ {
		for x := 0; x+2 < scene.Width; x++ {
			if first.Row(y)[x] != third.Row(y)[x+2] {
				t.Fatalf("Pixel (%d, %d) not shifted: %d vs %d", x, y, first.Row(y)[x], third.Row(y)[x+2])
			}
		}
	}
}

func TestScenePoseMatchesImageMotion(t *testing.T) {
	scene := NewScene(160, 120)
	// A wall point seen at pixel u in frame 0 must project to u+offset in frame k
	pose0 := scene.Pose(0)
	worldPoint := pose0.Transform(scene.Intrinsics.Unproject(100, 50, scene.WallDepth))
	for _, frame := range []int{1, 5, 10} {
		pose := scene.Pose(frame)
		camera := worldPoint.Sub(pose.Translation())
		u := scene.Intrinsics.Fx*camera.X/(-camera.Z) + scene.Intrinsics.Cx
		expected := 100 + float64(scene.Offset(frame))
		if math.Abs(u-expected) > eps {
			t.Errorf("Frame %d: expected u %v, got %v", frame, expected, u)
		}
	}
}

func TestSceneDepthAndCloud(t *testing.T) {
	scene := NewScene(160, 120)
	depth := scene.Depth(3)
	if depth.Width != 40 || depth.Height != 30 {
		t.Errorf("Expected 40x30 depth, got %dx%d", depth.Width, depth.Height)
	}
	if depth.DepthMillimeters(10, 10) != 2000 || depth.ConfidenceAt(10, 10) != 255 {
		t.Errorf("Expected 2000 mm at full confidence, got %d at %d", depth.DepthMillimeters(10, 10), depth.ConfidenceAt(10, 10))
	}

	cloud := scene.PointCloud(4)
	if len(cloud) == 0 || len(cloud)%4 != 0 {
		t.Fatalf("Expected non-empty quads, got %d values", len(cloud))
	}
	pose := scene.Pose(4)
	for i := 0; i < len(cloud); i += 4 {
		if math.Abs(float64(cloud[i+2])+scene.WallDepth) > 1e-6 {
			t.Errorf("Expected point on the wall, got z %v", cloud[i+2])
			break
		}
		// world x lands on the grid
		worldX := float64(cloud[i]) + pose.Translation().X
		cells := worldX / scene.CloudSpacing
		if math.Abs(cells-math.Round(cells)) > 1e-4 {
			t.Errorf("Expected world x on %v m grid, got %v", scene.CloudSpacing, worldX)
			break
		}
	}
}
