package recorder

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"sort"
	"time"

	"github.com/nfnt/resize"
)

// ErrNoFrames is returned when encoding an empty recording.
var ErrNoFrames = errors.New("recording has no frames")

// sampleStep is the pixel stride used when building the palette.
const sampleStep = 4

// encodeGIF resizes frames to width, quantises them to a shared palette and
// writes an infinitely looping GIF.
func encodeGIF(w io.Writer, frames []image.Image, delays []time.Duration, width uint) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	b := frames[0].Bounds()
	height := uint(float64(width) * float64(b.Dy()) / float64(b.Dx()))
	if height == 0 {
		height = 1
	}

	resized := make([]image.Image, len(frames))
	for i, f := range frames {
		resized[i] = resize.Resize(width, height, f, resize.Lanczos3)
	}
	palette := buildPalette(resized)

	g := &gif.GIF{
		Image:     make([]*image.Paletted, len(frames)),
		Delay:     make([]int, len(frames)),
		LoopCount: 0,
	}
	for i, f := range resized {
		p := image.NewPaletted(f.Bounds(), palette)
		draw.FloydSteinberg.Draw(p, f.Bounds(), f, f.Bounds().Min)
		g.Image[i] = p
		g.Delay[i] = centiseconds(delays[i])
	}
	return gif.EncodeAll(w, g)
}

func centiseconds(d time.Duration) int {
	cs := int(d.Milliseconds() / 10)
	if cs < 2 {
		// Most viewers clamp shorter delays to 10cs.
		return 2
	}
	return cs
}

// buildPalette picks the 256 most frequent colours sampled across frames,
// padding with greys.
func buildPalette(frames []image.Image) color.Palette {
	counts := make(map[color.RGBA]int)
	for _, img := range frames {
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y += sampleStep {
			for x := b.Min.X; x < b.Max.X; x += sampleStep {
				r, g, bl, _ := img.At(x, y).RGBA()
				counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: 255}]++
			}
		}
	}

	colors := make([]color.RGBA, 0, len(counts))
	for c := range counts {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool {
		if counts[colors[i]] != counts[colors[j]] {
			return counts[colors[i]] > counts[colors[j]]
		}
		// Stable order for equal counts.
		a, b := colors[i], colors[j]
		if a.R != b.R {
			return a.R < b.R
		}
		if a.G != b.G {
			return a.G < b.G
		}
		return a.B < b.B
	})

	palette := make(color.Palette, 0, 256)
	for _, c := range colors {
		if len(palette) == 256 {
			break
		}
		palette = append(palette, c)
	}
	for len(palette) < 256 {
		g := uint8(len(palette))
		palette = append(palette, color.RGBA{R: g, G: g, B: g, A: 255})
	}
	return palette
}
