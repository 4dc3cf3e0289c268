// Package executor performs single interpreted actions against a page.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/resolver"
)

// DefaultSettleDelay is how long an element is given to come to rest after it
// has been scrolled into view.
const DefaultSettleDelay = 500 * time.Millisecond

var (
	// ErrNotEditable is reported when a typing target cannot hold text.
	ErrNotEditable = errors.New("element is not editable")
	// ErrDOMMutation is reported when the page rejects a click, value change or event.
	ErrDOMMutation = errors.New("dom mutation failed")
)

// Result is the outcome of one executed action. Unsuccessful results are
// reported to the caller; they are not Go errors.
type Result struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
	FailedStepIndex *int   `json:"failedStepIndex,omitempty"`
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Event describes an action that just ran. Point is set for element-directed
// actions and holds the centre of the element that was acted on.
type Event struct {
	Kind   action.Kind
	Point  *dom.Point
	Result Result
}

// Observer is notified after every executed action.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// Options configures an Executor.
type Options struct {
	SettleDelay time.Duration
	Sleep       SleepFunc
	Observers   []Observer
}

// Executor performs single actions against one page.
type Executor struct {
	page      dom.Page
	resolver  *resolver.Resolver
	logger    *zap.Logger
	settle    time.Duration
	sleep     SleepFunc
	observers []Observer
}

// New creates an Executor for page. A zero SettleDelay selects
// DefaultSettleDelay; use a negative value to disable settling.
func New(page dom.Page, res *resolver.Resolver, logger *zap.Logger, opts Options) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if res == nil {
		res = resolver.New(logger)
	}
	settle := opts.SettleDelay
	if settle == 0 {
		settle = DefaultSettleDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return &Executor{
		page:      page,
		resolver:  res,
		logger:    logger.Named("executor"),
		settle:    settle,
		sleep:     sleep,
		observers: opts.Observers,
	}
}

// Sleeper returns the executor's sleep function so the orchestrator paces
// steps on the same clock.
func (e *Executor) Sleeper() SleepFunc { return e.sleep }

// Execute runs a single action. The returned error is non-nil only for faults
// that make further work pointless: cancellation and an unavailable page.
// Sequences are not single actions and are reported as failures.
func (e *Executor) Execute(ctx context.Context, d action.Descriptor) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var (
		res   Result
		point *dom.Point
		err   error
	)
	switch a := d.(type) {
	case action.Click:
		res, point, err = e.click(ctx, a)
	case action.TypeAndSubmit:
		res, point, err = e.typeText(ctx, a)
	case action.Scroll:
		res, err = e.scroll(ctx, a)
	case action.Navigate:
		res, err = e.navigate(ctx, a)
	case action.GoBack:
		res, err = e.history(ctx, "back", e.page.Back)
	case action.GoForward:
		res, err = e.history(ctx, "forward", e.page.Forward)
	case action.Unsupported:
		res = unsupported(a)
	case action.Wait:
		res = Result{Success: true, Message: "Waited"}
	case action.Sequence:
		res = Result{Success: false, Error: "sequence actions must be run step by step"}
	default:
		res = Result{Success: false, Error: fmt.Sprintf("unknown action type: %T", d)}
	}
	if err != nil {
		e.logger.Warn("Action aborted", zap.String("action", string(d.Kind())), zap.Error(err))
		return Result{}, err
	}

	if res.Success {
		e.logger.Info("Action succeeded", zap.String("action", string(d.Kind())), zap.String("message", res.Message))
	} else {
		e.logger.Info("Action failed", zap.String("action", string(d.Kind())), zap.String("error", res.Error))
	}
	for _, o := range e.observers {
		o.Observe(ctx, Event{Kind: d.Kind(), Point: point, Result: res})
	}
	return res, nil
}

// IsFault reports whether err should abort work rather than be reported as a
// failed result.
func IsFault(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, dom.ErrUnavailable)
}

// fail turns err into a failed Result, or passes it through when it is a fault.
func fail(err error) (Result, error) {
	if IsFault(err) {
		return Result{}, err
	}
	return Result{Success: false, Error: err.Error()}, nil
}

func mutation(op string, err error) error {
	if IsFault(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrDOMMutation, op, err)
}

// reveal scrolls m into the viewport centre when it is not fully visible and
// waits for it to settle. It returns the element's current snapshot.
func (e *Executor) reveal(ctx context.Context, m *resolver.Match) (dom.Snapshot, error) {
	if m.InViewport {
		return m.Snapshot, nil
	}
	if err := e.page.ScrollIntoView(ctx, m.Element); err != nil {
		return dom.Snapshot{}, mutation("scroll into view", err)
	}
	if e.settle > 0 {
		if err := e.sleep(ctx, e.settle); err != nil {
			return dom.Snapshot{}, err
		}
	}
	snap, err := e.page.Inspect(ctx, m.Element)
	if err != nil {
		return dom.Snapshot{}, mutation("inspect", err)
	}
	return snap, nil
}

func unsupported(a action.Unsupported) Result {
	msg := "unsupported command"
	if a.Reasoning != "" {
		msg += ": " + a.Reasoning
	}
	return Result{Success: false, Error: msg}
}
