package executor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
)

// Scroll directions.
const (
	DirectionDown       = "down"
	DirectionUp         = "up"
	DirectionLeft       = "left"
	DirectionRight      = "right"
	DirectionToPosition = "toposition"
)

// ScrollPlan is a resolved scroll: either a relative offset or, when Absolute
// is set, a vertical position.
type ScrollPlan struct {
	Direction string
	Pixels    float64
	Absolute  bool
}

// ParseAmount converts an amount keyword or pixel count into pixels. absolute
// is true for the keywords that name a position rather than a distance.
func ParseAmount(amount string, vp dom.Viewport) (pixels float64, absolute bool) {
	a := strings.ToLower(strings.TrimSpace(amount))
	switch a {
	case "little", "small":
		return vp.Height * 0.25, false
	case "medium", "half":
		return vp.Height * 0.5, false
	case "page", "full":
		return vp.Height * 0.9, false
	case "end", "bottom":
		return vp.ScrollHeight, true
	case "top", "start":
		return 0, true
	}
	if n, err := strconv.ParseFloat(strings.TrimSuffix(a, "px"), 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return n, false
	}
	return vp.Height * 0.5, false
}

// Plan resolves direction and amount against the viewport.
func Plan(direction, amount string, vp dom.Viewport) ScrollPlan {
	px, abs := ParseAmount(amount, vp)
	dir := strings.ToLower(strings.TrimSpace(direction))
	switch dir {
	case DirectionDown, DirectionUp, DirectionLeft, DirectionRight, DirectionToPosition:
	default:
		dir = DirectionDown
	}
	if abs {
		dir = DirectionToPosition
	}
	return ScrollPlan{Direction: dir, Pixels: px, Absolute: dir == DirectionToPosition}
}

func (e *Executor) scroll(ctx context.Context, a action.Scroll) (Result, error) {
	vp, err := e.page.Viewport(ctx)
	if err != nil {
		if IsFault(err) {
			return Result{}, err
		}
		e.logger.Warn("Could not read viewport", zap.Error(err))
	}
	p := Plan(a.Direction, a.Amount, vp)
	e.logger.Debug("Scrolling",
		zap.String("direction", p.Direction),
		zap.Float64("pixels", p.Pixels),
		zap.Bool("absolute", p.Absolute))

	switch p.Direction {
	case DirectionToPosition:
		err = e.page.ScrollTo(ctx, p.Pixels)
	case DirectionUp:
		err = e.page.ScrollBy(ctx, 0, -p.Pixels)
	case DirectionLeft:
		err = e.page.ScrollBy(ctx, -p.Pixels, 0)
	case DirectionRight:
		err = e.page.ScrollBy(ctx, p.Pixels, 0)
	default:
		err = e.page.ScrollBy(ctx, 0, p.Pixels)
	}
	if err != nil {
		if IsFault(err) {
			return Result{}, err
		}
		e.logger.Warn("Scroll did not apply", zap.String("direction", p.Direction), zap.Error(err))
	}
	return Result{Success: true, Message: fmt.Sprintf("Scrolled %s (%s)", p.Direction, a.Amount)}, nil
}
