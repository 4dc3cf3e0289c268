package recorder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/executor"
)

// shots returns solid frames, one colour per call.
type shots struct {
	n   int
	err error
}

func (s *shots) Screenshot(context.Context) (image.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.n++
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	c := color.RGBA{uint8(40 * s.n), 200, 100, 255}
	for y := 0; y < 180; y++ {
		for x := 0; x < 320; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

func clickAt(x, y float64) executor.Event {
	return executor.Event{
		Kind:   action.KindClick,
		Point:  &dom.Point{X: x, Y: y},
		Result: executor.Result{Success: true},
	}
}

func TestRecorder_EncodesDecodableGIF(t *testing.T) {
	ctx := context.Background()
	r := New(&shots{}, nil, Options{MaxWidth: 160, MoveFrames: 3, FrameDelay: 500 * time.Millisecond})

	require.NoError(t, r.Capture(ctx))
	r.Observe(ctx, clickAt(50, 50))
	r.Observe(ctx, executor.Event{Kind: action.KindScroll, Result: executor.Result{Success: true}})
	r.Observe(ctx, clickAt(250, 120))

	// capture, click, scroll, 3 move frames, click
	require.Equal(t, 7, r.Len())

	var buf bytes.Buffer
	require.NoError(t, r.Encode(&buf))
	g, err := gif.DecodeAll(&buf)
	require.NoError(t, err)

	require.Len(t, g.Image, 7)
	assert.Equal(t, 160, g.Image[0].Bounds().Dx())
	assert.Equal(t, 90, g.Image[0].Bounds().Dy())
	assert.Equal(t, 0, g.LoopCount)
	assert.Equal(t, 200, g.Delay[0], "first frame is held")
	assert.Equal(t, 50, g.Delay[1])
	assert.Equal(t, 5, g.Delay[3], "move frame")
	assert.Equal(t, 200, g.Delay[6], "last frame is held")
}

func TestRecorder_EmptyAndFailingSource(t *testing.T) {
	r := New(&shots{err: errors.New("tab closed")}, nil, Options{})
	assert.Error(t, r.Capture(context.Background()))
	r.Observe(context.Background(), clickAt(1, 1))
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, r.Encode(&bytes.Buffer{}), ErrNoFrames)
}

func TestRecorder_Save(t *testing.T) {
	r := New(&shots{}, nil, Options{MaxWidth: 64})
	require.NoError(t, r.Capture(context.Background()))

	path := filepath.Join(t.TempDir(), "out.gif")
	size, err := r.Save(path)
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestDrawCursorOnFrame(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 100, 100))
	out := drawCursorOnFrame(base, image.Pt(50, 50), true).(*image.RGBA)

	assert.Equal(t, cursorOutline, out.RGBAAt(50, 50), "tip")
	assert.Equal(t, cursorFill, out.RGBAAt(52, 56), "body")
	assert.Equal(t, rippleColor, out.RGBAAt(50+rippleRadius, 50), "ripple")
	assert.Equal(t, color.RGBA{}, base.RGBAAt(50, 50), "source frame untouched")

	// Near the edge nothing panics and the ripple is clipped.
	assert.NotPanics(t, func() { drawCursorOnFrame(base, image.Pt(99, 99), true) })
}

func TestInterpolate(t *testing.T) {
	assert.Nil(t, interpolate(image.Pt(0, 0), image.Pt(10, 10), 0))

	pts := interpolate(image.Pt(0, 0), image.Pt(100, 0), 3)
	require.Len(t, pts, 3)
	assert.Equal(t, image.Pt(50, 0), pts[1])
	assert.Less(t, pts[0].X, 25, "eases in")
	assert.Greater(t, pts[2].X, 75, "eases out")
}
