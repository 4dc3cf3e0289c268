// Package recorder turns executed actions into an animated GIF: one screenshot
// per action, with a cursor that glides to each element acted on and a ripple
// where it clicked.
package recorder

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/executor"
)

// Screenshotter captures the visible page.
type Screenshotter interface {
	Screenshot(ctx context.Context) (image.Image, error)
}

// Options configures a Recorder.
type Options struct {
	// MaxWidth is the output width; height keeps the aspect ratio.
	MaxWidth uint
	// FrameDelay is how long each action's frame is shown.
	FrameDelay time.Duration
	// HoldDelay is how long the first and last frames are shown.
	HoldDelay time.Duration
	// MoveFrames is the number of frames spent moving the cursor between
	// targets. Zero jumps.
	MoveFrames int
	// NoCursor disables the cursor and click overlay.
	NoCursor bool
}

// Defaults applied to zero Options fields.
const (
	DefaultMaxWidth   = 800
	DefaultFrameDelay = 800 * time.Millisecond
	DefaultHoldDelay  = 2 * time.Second
	moveFrameDelay    = 50 * time.Millisecond
)

type frame struct {
	img    image.Image
	cursor *image.Point
	click  bool
	delay  time.Duration
}

// Recorder collects frames. It implements executor.Observer and is safe for
// concurrent use.
type Recorder struct {
	src    Screenshotter
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	frames []frame
	cursor *image.Point
}

var _ executor.Observer = (*Recorder)(nil)

// New creates a Recorder capturing from src.
func New(src Screenshotter, logger *zap.Logger, opts Options) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxWidth == 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.FrameDelay == 0 {
		opts.FrameDelay = DefaultFrameDelay
	}
	if opts.HoldDelay == 0 {
		opts.HoldDelay = DefaultHoldDelay
	}
	return &Recorder{src: src, opts: opts, logger: logger.Named("recorder")}
}

// Capture adds a frame of the page as it is now.
func (r *Recorder) Capture(ctx context.Context) error {
	img, err := r.src.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("capture frame: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{img: img, cursor: r.cursor, delay: r.opts.FrameDelay})
	return nil
}

// Observe records the page after an action. Failed actions are recorded too,
// so the animation shows where a command went wrong.
func (r *Recorder) Observe(ctx context.Context, ev executor.Event) {
	img, err := r.src.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Skipping frame", zap.String("action", string(ev.Kind)), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var target *image.Point
	if ev.Point != nil {
		target = &image.Point{X: int(ev.Point.X), Y: int(ev.Point.Y)}
	}
	if target != nil && r.cursor != nil && len(r.frames) > 0 {
		// Glide over the previous frame, where the target was last seen.
		prev := r.frames[len(r.frames)-1].img
		for _, p := range interpolate(*r.cursor, *target, r.opts.MoveFrames) {
			r.frames = append(r.frames, frame{img: prev, cursor: &p, delay: moveFrameDelay})
		}
	}
	if target != nil {
		r.cursor = target
	}
	r.frames = append(r.frames, frame{
		img:    img,
		cursor: r.cursor,
		click:  target != nil && ev.Kind == action.KindClick && ev.Result.Success,
		delay:  r.opts.FrameDelay,
	})
}

// Len returns the number of frames recorded so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Encode writes the recording as a looping GIF.
func (r *Recorder) Encode(w io.Writer) error {
	r.mu.Lock()
	frames := make([]frame, len(r.frames))
	copy(frames, r.frames)
	r.mu.Unlock()

	if len(frames) == 0 {
		return ErrNoFrames
	}
	frames[0].delay = r.opts.HoldDelay
	frames[len(frames)-1].delay = r.opts.HoldDelay

	images := make([]image.Image, len(frames))
	delays := make([]time.Duration, len(frames))
	for i, f := range frames {
		images[i] = f.img
		if !r.opts.NoCursor && f.cursor != nil {
			images[i] = drawCursorOnFrame(f.img, *f.cursor, f.click)
		}
		delays[i] = f.delay
	}
	return encodeGIF(w, images, delays, r.opts.MaxWidth)
}

// Save writes the recording to path and returns the file size.
func (r *Recorder) Save(path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := r.Encode(f); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	r.logger.Info("Recording saved", zap.String("path", path), zap.Int("frames", r.Len()), zap.Int64("bytes", info.Size()))
	return info.Size(), nil
}
