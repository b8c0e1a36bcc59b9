package slammap

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
)

var forward = r3.Vector{X: 0, Y: 0, Z: -1}

func TestLandmarkMetricDedup(t *testing.T) {
	landmarks := NewLandmarkMap(16)
	landmarks.BeginFrame()
	pos := r3.Vector{X: 0.1, Y: 0.2, Z: -1.5}
	if !landmarks.AddMetricObservation(pos, forward, 0.6) {
		t.Fatalf("Expected observation to be accepted")
	}
	if !landmarks.AddMetricObservation(pos, forward, 0.6) {
		t.Fatalf("Expected observation to be accepted")
	}
	if landmarks.PointCount() != 1 || landmarks.MetricCount() != 1 {
		t.Fatalf("Expected 1 metric landmark, got %d slots and %d metric", landmarks.PointCount(), landmarks.MetricCount())
	}
	lm := landmarks.landmarks[0]
	if lm.SeenCount != 2 {
		t.Errorf("Expected seen count 2, got %d", lm.SeenCount)
	}
	if math.Abs(lm.Confidence-0.72) > eps {
		t.Errorf("Expected confidence 0.72, got %v", lm.Confidence)
	}
	if lm.Position.Sub(pos).Norm() > eps {
		t.Errorf("Expected position %v, got %v", pos, lm.Position)
	}

	// Within dedup radius blends towards the observation
	near := pos.Add(r3.Vector{X: 0.04})
	landmarks.AddMetricObservation(near, forward, 1.0)
	lm = landmarks.landmarks[0]
	if landmarks.PointCount() != 1 {
		t.Errorf("Expected observation within 5 cm to merge, got %d slots", landmarks.PointCount())
	}
	if math.Abs(lm.Position.X-(0.1+0.2*0.04)) > eps {
		t.Errorf("Expected blended x %v, got %v", 0.1+0.2*0.04, lm.Position.X)
	}
	if math.Abs(lm.Confidence-0.92) > eps {
		t.Errorf("Expected confidence 0.92, got %v", lm.Confidence)
	}
	landmarks.AddMetricObservation(near, forward, 1.0)
	if landmarks.landmarks[0].Confidence != 1.0 {
		t.Errorf("Expected confidence clamped to 1, got %v", landmarks.landmarks[0].Confidence)
	}

	far := pos.Add(r3.Vector{X: 0.2})
	landmarks.AddMetricObservation(far, forward, 0.5)
	if landmarks.PointCount() != 2 {
		t.Errorf("Expected distant observation to create new landmark, got %d slots", landmarks.PointCount())
	}
}

func TestLandmarkBearingUpgrade(t *testing.T) {
	landmarks := NewLandmarkMap(16)
	landmarks.BeginFrame()
	if !landmarks.AddBearingObservation(forward, 0.5) {
		t.Fatalf("Expected bearing observation to be accepted")
	}
	landmarks.AddBearingObservation(forward, 0.5)
	if landmarks.BearingCount() != 1 || landmarks.PointCount() != 1 {
		t.Fatalf("Expected aligned bearings to merge, got %d bearing in %d slots", landmarks.BearingCount(), landmarks.PointCount())
	}
	if math.Abs(landmarks.landmarks[0].Confidence-0.6) > eps {
		t.Errorf("Expected confidence 0.6, got %v", landmarks.landmarks[0].Confidence)
	}

	pos := r3.Vector{X: 0.3, Y: -0.1, Z: -2.4}
	landmarks.AddMetricObservation(pos, forward, 0.5)
	if landmarks.PointCount() != 1 || landmarks.MetricCount() != 1 || landmarks.BearingCount() != 0 {
		t.Fatalf("Expected bearing landmark to be upgraded in place")
	}
	lm := landmarks.landmarks[0]
	if lm.Position != pos {
		t.Errorf("Expected upgraded position to be taken verbatim %v, got %v", pos, lm.Position)
	}
	if math.Abs(lm.Confidence-0.75) > eps {
		t.Errorf("Expected confidence 0.75, got %v", lm.Confidence)
	}
	if lm.SeenCount != 3 {
		t.Errorf("Expected seen count 3, got %d", lm.SeenCount)
	}
}

func TestLandmarkBearingDoesNotMatchMetric(t *testing.T) {
	landmarks := NewLandmarkMap(16)
	landmarks.BeginFrame()
	landmarks.AddMetricObservation(r3.Vector{Z: -2}, forward, 0.5)
	landmarks.AddBearingObservation(forward, 0.5)
	if landmarks.PointCount() != 2 || landmarks.MetricCount() != 1 || landmarks.BearingCount() != 1 {
		t.Errorf("Expected bearing observation to stay separate from metric landmark, got %d metric and %d bearing", landmarks.MetricCount(), landmarks.BearingCount())
	}

	// 0.995 dot threshold is about 5.7 degrees
	tilted := r3.Vector{X: math.Sin(0.2), Y: 0, Z: -math.Cos(0.2)}
	landmarks.AddBearingObservation(tilted, 0.5)
	if landmarks.BearingCount() != 2 {
		t.Errorf("Expected misaligned bearing to create new landmark, got %d", landmarks.BearingCount())
	}
}

func TestLandmarkRejectsDegenerate(t *testing.T) {
	landmarks := NewLandmarkMap(16)
	landmarks.BeginFrame()
	if landmarks.AddMetricObservation(r3.Vector{Z: -1}, forward, 0) {
		t.Errorf("Expected zero confidence to be rejected")
	}
	if landmarks.AddMetricObservation(r3.Vector{X: math.NaN()}, forward, 0.5) {
		t.Errorf("Expected NaN position to be rejected")
	}
	if landmarks.AddBearingObservation(forward, -1) {
		t.Errorf("Expected negative confidence to be rejected")
	}
	if landmarks.AddBearingObservation(r3.Vector{Z: math.Inf(-1)}, 0.5) {
		t.Errorf("Expected infinite bearing to be rejected")
	}
	if landmarks.AddBearingObservation(r3.Vector{}, 0.5) {
		t.Errorf("Expected zero bearing to be rejected")
	}
	if landmarks.AddMetricObservation(r3.Vector{Z: -1}, r3.Vector{}, 0.5) {
		t.Errorf("Expected metric observation with zero bearing to be rejected")
	}
	if landmarks.PointCount() != 0 || landmarks.BearingCount() != 0 {
		t.Errorf("Expected no landmarks, got %d", landmarks.PointCount())
	}
	if !landmarks.AddMetricObservation(r3.Vector{}, forward, 0.5) {
		t.Errorf("Expected metric landmark at world origin to be accepted")
	}
}

func TestLandmarkDecay(t *testing.T) {
	landmarks := NewLandmarkMap(16)
	landmarks.BeginFrame()
	landmarks.AddMetricObservation(r3.Vector{Z: -1}, forward, landmarkMinConfidence)

	for i := 0; i < 30; i++ {
		landmarks.BeginFrame()
	}
	if landmarks.MetricCount() != 1 {
		t.Fatalf("Expected landmark to survive 30 unseen frames")
	}
	if landmarks.landmarks[0].Confidence != landmarkMinConfidence {
		t.Errorf("Expected no decay within 30 frames, got %v", landmarks.landmarks[0].Confidence)
	}

	landmarks.BeginFrame()
	if landmarks.landmarks[0].Confidence > 0 {
		t.Errorf("Expected landmark at confidence floor to be deleted after 31 unseen frames, got %v", landmarks.landmarks[0].Confidence)
	}
	if landmarks.MetricCount() != 0 || landmarks.PointCount() != 1 {
		t.Errorf("Expected deleted slot to stay in the ring, got %d metric in %d slots", landmarks.MetricCount(), landmarks.PointCount())
	}

	// Strong landmark only loses 1% per frame
	strong := NewLandmarkMap(4)
	strong.BeginFrame()
	strong.AddBearingObservation(forward, 1.0)
	for i := 0; i < 32; i++ {
		strong.BeginFrame()
	}
	expected := 1.0 * 0.99 * 0.99
	if math.Abs(strong.landmarks[0].Confidence-expected) > eps {
		t.Errorf("Expected confidence %v, got %v", expected, strong.landmarks[0].Confidence)
	}
	if strong.landmarks[0].Age != 32 {
		t.Errorf("Expected age 32, got %d", strong.landmarks[0].Age)
	}
}

func TestLandmarkAgeSaturates(t *testing.T) {
	landmarks := NewLandmarkMap(4)
	landmarks.BeginFrame()
	landmarks.AddBearingObservation(forward, 1.0)
	for i := 0; i < landmarkMaxAge+50; i++ {
		landmarks.BeginFrame()
		landmarks.AddBearingObservation(forward, 1.0)
	}
	lm := landmarks.landmarks[0]
	if lm.Age != landmarkMaxAge {
		t.Errorf("Expected age to saturate at %d, got %d", landmarkMaxAge, lm.Age)
	}
	if math.Abs(lm.AssumedDepth()-landmarkAssumedMaxDepth) > eps {
		t.Errorf("Expected assumed depth %v, got %v", landmarkAssumedMaxDepth, lm.AssumedDepth())
	}
}

func TestLandmarkRingOverwrite(t *testing.T) {
	landmarks := NewLandmarkMap(2)
	landmarks.BeginFrame()
	landmarks.AddMetricObservation(r3.Vector{X: 1}, forward, 0.5)
	landmarks.AddMetricObservation(r3.Vector{X: 2}, forward, 0.5)
	landmarks.AddMetricObservation(r3.Vector{X: 3}, forward, 0.5)
	if landmarks.PointCount() != 2 {
		t.Fatalf("Expected 2 slots, got %d", landmarks.PointCount())
	}
	xs := []float64{landmarks.landmarks[0].Position.X, landmarks.landmarks[1].Position.X}
	if diff := cmp.Diff([]float64{3, 2}, xs); diff != "" {
		t.Errorf("Unexpected ring content (-want +got):\n%s", diff)
	}
}

func TestLandmarkSnapshot(t *testing.T) {
	landmarks := NewLandmarkMap(8)
	landmarks.BeginFrame()
	metric := r3.Vector{X: 0.5, Y: 0.5, Z: -3}
	landmarks.AddMetricObservation(metric, forward, 0.8)
	landmarks.AddBearingObservation(r3.Vector{X: 1}, 0.4)
	landmarks.AddMetricObservation(r3.Vector{X: 3}, forward, 0.5)
	landmarks.landmarks[2].Confidence = 0

	pose := NewTranslationPose(1, 0, 0)
	views := landmarks.Snapshot(&pose, nil)
	expected := []LandmarkView{
		{Position: metric, Confidence: 0.8, Age: 0, Kind: LandmarkMetric},
		{Position: r3.Vector{X: 3, Y: 0, Z: 0}, Confidence: 0.4, Age: 0, Kind: LandmarkBearing},
	}
	if diff := cmp.Diff(expected, views); diff != "" {
		t.Errorf("Unexpected snapshot (-want +got):\n%s", diff)
	}

	copied := landmarks.CopyLandmarks(nil)
	if len(copied) != 3 {
		t.Fatalf("Expected 3 used slots, got %d", len(copied))
	}
	copied[0].Confidence = 0
	if !landmarks.landmarks[0].Alive() {
		t.Errorf("Expected copy to be detached from the map")
	}

	views = landmarks.Snapshot(nil, views)
	if len(views) != 1 || views[0].Kind != LandmarkMetric {
		t.Errorf("Expected only metric landmark without pose, got %+v", views)
	}

	landmarks.Clear()
	if landmarks.PointCount() != 0 || landmarks.FrameIndex() != 0 {
		t.Errorf("Expected empty map after Clear")
	}
	if len(landmarks.Snapshot(&pose, views)) != 0 {
		t.Errorf("Expected empty snapshot after Clear")
	}
}
