package pipeline

import (
	"fmt"
)

// Normalize turns a size×size interleaved BGR raster into a planar
// [1,3,size,size] tensor in R, G, B plane order with samples in [0,1].
func Normalize(bgr []byte, size int) ([]float32, error) {
	plane := size * size
	if size <= 0 || len(bgr) != plane*3 {
		return nil, fmt.Errorf("raster has %d bytes, want %d for %dx%d BGR", len(bgr), plane*3, size, size)
	}
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		px := bgr[i*3 : i*3+3]
		out[i] = float32(px[2]) / 255
		out[i+plane] = float32(px[1]) / 255
		out[i+2*plane] = float32(px[0]) / 255
	}
	return out, nil
}
