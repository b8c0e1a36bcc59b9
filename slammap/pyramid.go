package slammap

// pyramid holds a fixed number of downsampled copies of a single-channel frame.
// Level 0 is the full resolution image, each next level halves both dimensions (rounding up).
type pyramid struct {
	levels  [][]uint8
	widths  []int
	heights []int
}

func newPyramid(width, height, numLevels int) *pyramid {
	pyr := pyramid{
		levels:  make([][]uint8, numLevels),
		widths:  make([]int, numLevels),
		heights: make([]int, numLevels),
	}
	w := width
	h := height
	for level := 0; level < numLevels; level++ {
		pyr.widths[level] = w
		pyr.heights[level] = h
		pyr.levels[level] = make([]uint8, w*h)
		w = (w + 1) / 2
		h = (h + 1) / 2
	}
	return &pyr
}

// build fills every level from src. Stride is the distance between rows of src in bytes
func (pyr *pyramid) build(src []uint8, stride int) {
	base := pyr.levels[0]
	w0 := pyr.widths[0]
	if stride == w0 {
		copy(base, src[:w0*pyr.heights[0]])
	} else {
		for y := 0; y < pyr.heights[0]; y++ {
			copy(base[y*w0:(y+1)*w0], src[y*stride:y*stride+w0])
		}
	}

	for level := 1; level < len(pyr.levels); level++ {
		prevW := pyr.widths[level-1]
		prevH := pyr.heights[level-1]
		w := pyr.widths[level]
		h := pyr.heights[level]
		prev := pyr.levels[level-1]
		curr := pyr.levels[level]

		for y := 0; y < h; y++ {
			srcY := y * 2
			srcY1 := srcY
			if srcY+1 < prevH {
				srcY1 = srcY + 1
			}
			for x := 0; x < w; x++ {
				srcX := x * 2
				srcX1 := srcX
				if srcX+1 < prevW {
					srcX1 = srcX + 1
				}
				sum := int(prev[srcY*prevW+srcX]) +
					int(prev[srcY*prevW+srcX1]) +
					int(prev[srcY1*prevW+srcX]) +
					int(prev[srcY1*prevW+srcX1])
				curr[y*w+x] = uint8(sum / 4)
			}
		}
	}
}

func (pyr *pyramid) numLevels() int {
	return len(pyr.levels)
}

// sample returns bilinear interpolated intensity at (x, y) of the given level.
// Caller guarantees 0 <= x < width and 0 <= y < height.
func (pyr *pyramid) sample(level int, x, y float64) float64 {
	return sampleBilinear(pyr.levels[level], pyr.widths[level], pyr.heights[level], x, y)
}

func sampleBilinear(image []uint8, width, height int, x, y float64) float64 {
	x0 := int(x)
	y0 := int(y)
	x1 := x0
	if x0+1 < width {
		x1 = x0 + 1
	}
	y1 := y0
	if y0+1 < height {
		y1 = y0 + 1
	}
	fx := x - float64(x0)
	fy := y - float64(y0)

	v00 := float64(image[y0*width+x0])
	v10 := float64(image[y0*width+x1])
	v01 := float64(image[y1*width+x0])
	v11 := float64(image[y1*width+x1])

	v0 := v00 + fx*(v10-v00)
	v1 := v01 + fx*(v11-v01)
	return v0 + fy*(v1-v0)
}
