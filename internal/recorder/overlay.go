package recorder

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

var (
	cursorOutline = color.RGBA{0, 0, 0, 255}
	cursorFill    = color.RGBA{255, 255, 255, 255}
	rippleColor   = color.RGBA{66, 133, 244, 255}
)

const rippleRadius = 15

// arrow is the cursor outline relative to its tip.
var arrow = []image.Point{{0, 0}, {0, 16}, {4, 12}, {7, 18}, {10, 17}, {7, 11}, {12, 11}}

// interpolate returns n positions easing from a towards b, excluding a and b.
func interpolate(a, b image.Point, n int) []image.Point {
	if n <= 0 {
		return nil
	}
	out := make([]image.Point, n)
	for i := range out {
		t := easeInOut(float64(i+1) / float64(n+1))
		out[i] = image.Point{
			X: a.X + int(math.Round(t*float64(b.X-a.X))),
			Y: a.Y + int(math.Round(t*float64(b.Y-a.Y))),
		}
	}
	return out
}

func easeInOut(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - math.Pow(-2*t+2, 2)/2
}

// drawCursorOnFrame returns a copy of frame with the cursor tip at p and, when
// click is set, a ripple around it.
func drawCursorOnFrame(frame image.Image, p image.Point, click bool) image.Image {
	b := frame.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, frame, b.Min, draw.Src)
	p = p.Add(b.Min)

	if click {
		drawRipple(out, p)
	}
	for dy := 0; dy <= 16; dy++ {
		for dx := 0; dx <= 12; dx++ {
			if insideArrow(dx, dy) {
				setPixel(out, p.X+dx, p.Y+dy, cursorFill)
			}
		}
	}
	for i := range arrow {
		a, c := arrow[i].Add(p), arrow[(i+1)%len(arrow)].Add(p)
		drawLine(out, a, c, cursorOutline)
	}
	return out
}

func insideArrow(dx, dy int) bool {
	switch {
	case dx < 0 || dy < 0 || dy > 16:
		return false
	case dy <= 11:
		return dx <= dy*12/16
	default:
		return dx <= 4
	}
}

func drawRipple(img *image.RGBA, p image.Point) {
	for deg := 0.0; deg < 360; deg++ {
		rad := deg * math.Pi / 180
		x := p.X + int(math.Round(rippleRadius*math.Cos(rad)))
		y := p.Y + int(math.Round(rippleRadius*math.Sin(rad)))
		setPixel(img, x, y, rippleColor)
		setPixel(img, x+1, y, rippleColor)
		setPixel(img, x, y+1, rippleColor)
	}
}

// drawLine is Bresenham's line algorithm.
func drawLine(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx, dy := abs(b.X-a.X), abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx - dy
	for {
		setPixel(img, a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 > -dy {
			e -= dy
			a.X += sx
		}
		if e2 < dx {
			e += dx
			a.Y += sy
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
