package producer

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/gesturedog/internal/detector"
	"github.com/ayusman/gesturedog/internal/gesture"
)

var (
	colorBlue   = color.RGBA{0, 0, 255, 255}
	colorRed    = color.RGBA{255, 0, 0, 255}
	colorAmber  = color.RGBA{255, 165, 0, 255}
	colorGreen  = color.RGBA{0, 255, 0, 255}
	colorWhite  = color.RGBA{255, 255, 255, 255}
	colorYellow = color.RGBA{255, 255, 0, 255}
)

const noGestureText = "No gesture detected"

// BatteryColor picks the overlay color for a state of charge.
func BatteryColor(level int) color.RGBA {
	switch {
	case level < 25:
		return colorRed
	case level < 60:
		return colorAmber
	default:
		return colorGreen
	}
}

// Title returns the gesture caption drawn on each frame.
func Title(res *detector.Result) string {
	if res == nil || res.Category == "" {
		return noGestureText
	}
	return fmt.Sprintf("%s (%.2f)", res.Category, res.Score)
}

// annotate draws the classifier result, the stable state and the battery
// level onto frame in place. battery < 0 means unknown and is not drawn.
func annotate(frame *gocv.Mat, res *detector.Result, state gesture.DogState, battery int) {
	width, height := frame.Cols(), frame.Rows()

	titleColor := colorBlue
	if res == nil || res.Category == "" {
		titleColor = colorRed
	}
	gocv.PutText(frame, Title(res), image.Pt(30, 50), gocv.FontHersheySimplex, 1.0, titleColor, 2)
	gocv.PutText(frame, state.String(), image.Pt(30, height-20), gocv.FontHersheySimplex, 0.7, colorWhite, 2)

	if battery >= 0 {
		gocv.PutText(frame, fmt.Sprintf("%d%%", battery), image.Pt(width-100, 50),
			gocv.FontHersheySimplex, 1.0, BatteryColor(battery), 2)
	}

	if res == nil {
		return
	}
	for _, hand := range res.Hands {
		drawHand(frame, hand, width, height)
	}
}

func drawHand(frame *gocv.Mat, hand detector.HandLandmarks, width, height int) {
	pts := hand.Points
	for _, c := range detector.HandConnections {
		if c[0] >= len(pts) || c[1] >= len(pts) {
			continue
		}
		x0, y0 := pts[c[0]].Pixel(width, height)
		x1, y1 := pts[c[1]].Pixel(width, height)
		gocv.Line(frame, image.Pt(x0, y0), image.Pt(x1, y1), colorWhite, 2)
	}
	for _, p := range pts {
		x, y := p.Pixel(width, height)
		gocv.Circle(frame, image.Pt(x, y), 4, colorYellow, -1)
	}
}
