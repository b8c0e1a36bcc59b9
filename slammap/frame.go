package slammap

import "encoding/binary"

// GrayImage is a single-channel luminance view with explicit row stride (in bytes)
type GrayImage struct {
	Pix    []uint8
	Width  int
	Height int
	Stride int
}

// NewGrayImage allocates a tightly packed image
func NewGrayImage(width, height int) *GrayImage {
	return &GrayImage{
		Pix:    make([]uint8, width*height),
		Width:  width,
		Height: height,
		Stride: width,
	}
}

// Valid reports whether dimensions are positive and Pix holds every addressed row
func (img *GrayImage) Valid() bool {
	if img == nil || img.Width <= 0 || img.Height <= 0 || img.Stride < img.Width {
		return false
	}
	return len(img.Pix) >= (img.Height-1)*img.Stride+img.Width
}

// Row returns pixels of row y without the stride padding
func (img *GrayImage) Row(y int) []uint8 {
	start := y * img.Stride
	return img.Pix[start : start+img.Width]
}

// DepthFrame is a view over a 16-bit millimeter depth image and an optional 8-bit confidence plane.
// Strides are in bytes. Samples are little-endian, zero means invalid.
type DepthFrame struct {
	Data        []byte
	Width       int
	Height      int
	RowStride   int
	PixelStride int

	Confidence            []byte
	ConfidenceRowStride   int
	ConfidencePixelStride int

	TimestampNanos int64
}

// NewDepthFrame allocates a tightly packed frame without confidence plane
func NewDepthFrame(width, height int) *DepthFrame {
	return &DepthFrame{
		Data:        make([]byte, width*height*2),
		Width:       width,
		Height:      height,
		RowStride:   width * 2,
		PixelStride: 2,
	}
}

// AttachConfidence allocates a tightly packed confidence plane filled with given value
func (frame *DepthFrame) AttachConfidence(value uint8) {
	frame.Confidence = make([]byte, frame.Width*frame.Height)
	for i := range frame.Confidence {
		frame.Confidence[i] = value
	}
	frame.ConfidenceRowStride = frame.Width
	frame.ConfidencePixelStride = 1
}

// Valid reports whether the depth plane can be addressed for every pixel
func (frame *DepthFrame) Valid() bool {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 || frame.PixelStride < 2 || frame.RowStride <= 0 {
		return false
	}
	last := (frame.Height-1)*frame.RowStride + (frame.Width-1)*frame.PixelStride + 2
	return len(frame.Data) >= last
}

// HasConfidence reports whether a usable confidence plane is attached
func (frame *DepthFrame) HasConfidence() bool {
	if len(frame.Confidence) == 0 || frame.ConfidencePixelStride <= 0 || frame.ConfidenceRowStride <= 0 {
		return false
	}
	last := (frame.Height-1)*frame.ConfidenceRowStride + (frame.Width-1)*frame.ConfidencePixelStride + 1
	return len(frame.Confidence) >= last
}

// DepthMillimeters returns raw sample at (x, y). Out of range coordinates read as 0
func (frame *DepthFrame) DepthMillimeters(x, y int) uint16 {
	if x < 0 || y < 0 || x >= frame.Width || y >= frame.Height {
		return 0
	}
	offset := y*frame.RowStride + x*frame.PixelStride
	if offset+2 > len(frame.Data) {
		return 0
	}
	return binary.LittleEndian.Uint16(frame.Data[offset:])
}

// SetDepthMillimeters writes raw sample at (x, y)
func (frame *DepthFrame) SetDepthMillimeters(x, y int, value uint16) {
	if x < 0 || y < 0 || x >= frame.Width || y >= frame.Height {
		return
	}
	offset := y*frame.RowStride + x*frame.PixelStride
	binary.LittleEndian.PutUint16(frame.Data[offset:], value)
}

// ConfidenceAt returns confidence at (x, y); 255 when no plane is attached
func (frame *DepthFrame) ConfidenceAt(x, y int) uint8 {
	if !frame.HasConfidence() {
		return 255
	}
	if x < 0 || y < 0 || x >= frame.Width || y >= frame.Height {
		return 0
	}
	return frame.Confidence[y*frame.ConfidenceRowStride+x*frame.ConfidencePixelStride]
}

// SetConfidence writes confidence at (x, y) when a plane is attached
func (frame *DepthFrame) SetConfidence(x, y int, value uint8) {
	if !frame.HasConfidence() || x < 0 || y < 0 || x >= frame.Width || y >= frame.Height {
		return
	}
	frame.Confidence[y*frame.ConfidenceRowStride+x*frame.ConfidencePixelStride] = value
}
