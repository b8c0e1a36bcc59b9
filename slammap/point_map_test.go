package slammap

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
)

// quads builds (x, y, z, confidence) input, each point duplicated so decimation keeps exactly one copy
func quads(confidence float32, xyz ...float32) []float32 {
	out := make([]float32, 0, len(xyz)/3*8)
	for i := 0; i+2 < len(xyz); i += 3 {
		q := []float32{xyz[i], xyz[i+1], xyz[i+2], confidence}
		out = append(out, q...)
		out = append(out, q...)
	}
	return out
}

func checkVoxelSet(t *testing.T, pointMap *PersistentPointMap) {
	t.Helper()
	if pointMap.VoxelCount() != pointMap.PointCount() {
		t.Errorf("Expected voxel set size %d to equal point count %d", pointMap.VoxelCount(), pointMap.PointCount())
	}
	seen := make(map[voxelKey]bool)
	for i := 0; i < pointMap.PointCount(); i++ {
		key := pointMap.keys[i]
		if seen[key] {
			t.Errorf("Two live points share voxel %v", key)
		}
		seen[key] = true
		if _, ok := pointMap.occupied[key]; !ok {
			t.Errorf("Live point voxel %v missing from the set", key)
		}
	}
}

func TestPointMapFilters(t *testing.T) {
	pointMap := NewPersistentPointMap(100)
	pose := IdentityPose()
	points := []float32{
		0.10, 0, 0, 0.9, // kept
		0.50, 0, 0, 0.9, // odd index, decimated
		0.20, 0, 0, 0.2, // below confidence floor
		0.30, 0, 0, 0.9, // odd
		12.0, 0, 0, 0.9, // beyond 10 m
		0.60, 0, 0, 0.9, // odd
		0.101, 0, 0, 0.9, // same 2 cm voxel as the first
		0.70, 0, 0, 0.9, // odd
		-0.4, 0.2, 0.3, 0.3, // kept, at the confidence floor
	}
	inserted := pointMap.AddPoints(&pose, points)
	if inserted != 2 {
		t.Errorf("Expected 2 inserted points, got %d", inserted)
	}
	if pointMap.PointCount() != 2 || pointMap.TotalAdded() != 2 {
		t.Errorf("Expected count and total 2, got %d and %d", pointMap.PointCount(), pointMap.TotalAdded())
	}
	expected := []float32{0.10, 0, 0, -0.4, 0.2, 0.3}
	if diff := cmp.Diff(expected, pointMap.CopyPoints(nil)); diff != "" {
		t.Errorf("Unexpected points (-want +got):\n%s", diff)
	}
	checkVoxelSet(t, pointMap)

	if pointMap.AddPoints(nil, points) != 0 {
		t.Errorf("Expected nil pose to be ignored")
	}
	if pointMap.AddPoints(&pose, []float32{1, 2, 3}) != 0 {
		t.Errorf("Expected truncated input to be ignored")
	}
}

func TestPointMapWorldTransform(t *testing.T) {
	pointMap := NewPersistentPointMap(10)
	pose := NewTranslationPose(9.5, 0, 0)
	inserted := pointMap.AddPoints(&pose, quads(1, 0.4, 0, 0, 0.6, 0, 0))
	if inserted != 1 {
		t.Fatalf("Expected only the point within 10 m of world origin, got %d", inserted)
	}
	if pointMap.CopyPoints(nil)[0] != 9.9 {
		t.Errorf("Expected world x 9.9, got %v", pointMap.CopyPoints(nil)[0])
	}
}

func TestPointMapTruncatingKeys(t *testing.T) {
	pointMap := NewPersistentPointMap(10)
	// -0.01 and 0.01 both truncate to cell 0
	if pointMap.keyOf(r3.Vector{X: -0.01}) != pointMap.keyOf(r3.Vector{X: 0.01}) {
		t.Errorf("Expected truncation toward zero to merge cells around the origin")
	}
	pose := IdentityPose()
	if pointMap.AddPoints(&pose, quads(1, -0.01, 0, 0, 0.01, 0, 0)) != 1 {
		t.Errorf("Expected second point to be deduplicated")
	}
}

func TestPointMapWrap(t *testing.T) {
	capacity := 4
	pointMap := NewPersistentPointMap(capacity)
	pose := IdentityPose()

	for i := 0; i < capacity; i++ {
		pointMap.AddPoints(&pose, quads(1, float32(i)*0.1, 0, 0))
	}
	if pointMap.IsBufferWrapped() {
		t.Errorf("Expected no wrap before the first overwrite")
	}
	checkVoxelSet(t, pointMap)

	pointMap.AddPoints(&pose, quads(1, 1.0, 0, 0))
	if pointMap.PointCount() != capacity {
		t.Errorf("Expected count to stay at capacity %d, got %d", capacity, pointMap.PointCount())
	}
	if pointMap.TotalAdded() != capacity+1 {
		t.Errorf("Expected total %d, got %d", capacity+1, pointMap.TotalAdded())
	}
	if pointMap.CopyPoints(nil)[0] != 1.0 {
		t.Errorf("Expected oldest point to be overwritten, got %v", pointMap.CopyPoints(nil)[0])
	}
	checkVoxelSet(t, pointMap)

	if !pointMap.IsBufferWrapped() {
		t.Errorf("Expected wrap after capacity+1 inserts")
	}

	// Voxel of the evicted point is free again
	if pointMap.AddPoints(&pose, quads(1, 0.0, 0, 0)) != 1 {
		t.Errorf("Expected point in the evicted voxel to be accepted")
	}
	checkVoxelSet(t, pointMap)
}

func TestPointMapSameVoxelEviction(t *testing.T) {
	pointMap := NewPersistentPointMap(2)
	pose := IdentityPose()
	pointMap.AddPoints(&pose, quads(1, 0.10, 0, 0, 0.50, 0, 0))
	if pointMap.PointCount() != 2 {
		t.Fatalf("Expected full map, got %d points", pointMap.PointCount())
	}

	// Same voxel as the point under the cursor: evict then reinsert
	if pointMap.AddPoints(&pose, quads(1, 0.101, 0, 0)) != 1 {
		t.Errorf("Expected point in the cursor's own voxel to replace it")
	}
	if pointMap.CopyPoints(nil)[0] != 0.101 {
		t.Errorf("Expected slot 0 to hold the new point, got %v", pointMap.CopyPoints(nil)[0])
	}
	checkVoxelSet(t, pointMap)

	// Cursor is now at slot 1 (x 0.5); 0.101 is owned by slot 0 and must not evict slot 1
	if pointMap.AddPoints(&pose, quads(1, 0.102, 0, 0)) != 0 {
		t.Errorf("Expected duplicate of another live point to be rejected")
	}
	if pointMap.CopyPoints(nil)[3] != 0.5 || pointMap.TotalAdded() != 3 {
		t.Errorf("Expected buffer untouched by rejected point")
	}
	checkVoxelSet(t, pointMap)
}

func TestPointMapClear(t *testing.T) {
	pointMap := NewPersistentPointMap(2)
	pose := IdentityPose()
	pointMap.AddPoints(&pose, quads(1, 0.1, 0, 0, 0.2, 0, 0, 0.3, 0, 0))
	if !pointMap.IsBufferWrapped() {
		t.Errorf("Expected wrapped buffer")
	}
	pointMap.Clear()
	if pointMap.PointCount() != 0 || pointMap.VoxelCount() != 0 || pointMap.TotalAdded() != 0 || pointMap.IsBufferWrapped() {
		t.Errorf("Expected empty map after Clear")
	}
	if len(pointMap.CopyPoints(nil)) != 0 {
		t.Errorf("Expected no points after Clear, got %d", len(pointMap.CopyPoints(nil)))
	}
	if pointMap.AddPoints(&pose, quads(1, 0.1, 0, 0)) != 1 {
		t.Errorf("Expected previously used voxel to be free after Clear")
	}
}
