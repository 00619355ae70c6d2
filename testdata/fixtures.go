// Package testdata builds synthetic frames for tests that need a video
// source without a camera.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Frame returns a width x height BGR frame filled with a flat color derived
// from seed, with a white square whose position also depends on seed, so
// frames with different seeds never compare equal.
func Frame(width, height, seed int) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(seed*37%256), float64(seed*91%256), float64(seed*13%256), 0),
		height, width, gocv.MatTypeCV8UC3)

	side := min(width, height) / 8
	if side > 0 {
		x := (seed * side) % max(width-side, 1)
		y := (seed * side / 2) % max(height-side, 1)
		gocv.Rectangle(&mat, image.Rect(x, y, x+side, y+side), color.RGBA{255, 255, 255, 0}, -1)
	}
	return &mat
}

// Sequence returns n distinct frames.
func Sequence(width, height, n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = Frame(width, height, i+1)
	}
	return frames
}

// Close releases every frame.
func Close(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}

// LoadFrame decodes an encoded image (JPEG or PNG) into a BGR frame.
func LoadFrame(data []byte) (*gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	return &mat, nil
}
