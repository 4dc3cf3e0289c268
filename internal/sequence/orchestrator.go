// Package sequence runs multi-step actions one step at a time, pacing steps with
// per-step delays and applying each step's failure policy.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/executor"
)

// Default pauses after a step when the step does not set its own delay.
const (
	DefaultStepDelay   = 500 * time.Millisecond
	DefaultScrollDelay = 1000 * time.Millisecond
)

// ErrBusy is returned by Run while another sequence is in flight.
var ErrBusy = errors.New("sequence already running")

// State is the orchestrator's lifecycle stage.
type State int

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Runner executes a single action.
type Runner interface {
	Execute(ctx context.Context, d action.Descriptor) (executor.Result, error)
}

// Options configures an Orchestrator. Zero delays select the defaults.
type Options struct {
	StepDelay   time.Duration
	ScrollDelay time.Duration
	Sleep       executor.SleepFunc
}

// Orchestrator runs sequences against a Runner.
type Orchestrator struct {
	runner      Runner
	logger      *zap.Logger
	sleep       executor.SleepFunc
	stepDelay   time.Duration
	scrollDelay time.Duration

	mu     sync.Mutex
	state  State
	index  int
	reason string
}

// New creates an Orchestrator.
func New(runner Runner, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		runner:      runner,
		logger:      logger.Named("sequence"),
		sleep:       opts.Sleep,
		stepDelay:   opts.StepDelay,
		scrollDelay: opts.ScrollDelay,
	}
	if o.sleep == nil {
		o.sleep = executor.Sleep
	}
	if o.stepDelay == 0 {
		o.stepDelay = DefaultStepDelay
	}
	if o.scrollDelay == 0 {
		o.scrollDelay = DefaultScrollDelay
	}
	return o
}

// State returns the current stage, the index of the step running or aborted
// at, and the abort reason.
func (o *Orchestrator) State() (State, int, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.index, o.reason
}

func (o *Orchestrator) enter(s State, index int, reason string) {
	o.mu.Lock()
	o.state, o.index, o.reason = s, index, reason
	o.mu.Unlock()
}

// Delay returns the pause that follows step.
func (o *Orchestrator) Delay(step action.Step) time.Duration {
	if step.DelaySet {
		return step.Delay
	}
	switch step.Action.Kind() {
	case action.KindScroll, action.KindWait:
		return o.scrollDelay
	default:
		return o.stepDelay
	}
}

// Run executes seq's steps in order. A failed step aborts the sequence only
// when its ContinueOnError is false; a fault from the runner or the context
// always aborts, and is returned alongside a Result describing the abort.
func (o *Orchestrator) Run(ctx context.Context, seq action.Sequence) (executor.Result, error) {
	o.mu.Lock()
	if o.state == Running {
		o.mu.Unlock()
		return executor.Result{}, ErrBusy
	}
	o.state, o.index, o.reason = Running, 0, ""
	o.mu.Unlock()

	failed := 0
	for i, step := range seq.Steps {
		o.enter(Running, i, "")
		o.logger.Debug("Running step",
			zap.Int("step", i+1),
			zap.Int("of", len(seq.Steps)),
			zap.String("action", string(step.Action.Kind())))

		res, err := o.runner.Execute(ctx, step.Action)
		if err != nil {
			return o.abort(i, err.Error()), err
		}
		if !res.Success {
			if !step.ContinueOnError {
				return o.abort(i, res.Error), nil
			}
			failed++
			o.logger.Warn("Step failed, continuing",
				zap.Int("step", i+1),
				zap.String("error", res.Error))
		}

		if err := o.sleep(ctx, o.Delay(step)); err != nil {
			return o.abort(i, err.Error()), err
		}
	}

	o.enter(Completed, len(seq.Steps)-1, "")
	msg := fmt.Sprintf("All %d actions completed successfully", len(seq.Steps))
	if failed > 0 {
		msg = fmt.Sprintf("Completed %d actions, %d failed and were skipped", len(seq.Steps), failed)
	}
	o.logger.Info("Sequence completed", zap.Int("steps", len(seq.Steps)), zap.Int("failed", failed))
	return executor.Result{Success: true, Message: msg}, nil
}

func (o *Orchestrator) abort(index int, reason string) executor.Result {
	o.enter(Aborted, index, reason)
	o.logger.Warn("Sequence aborted", zap.Int("step", index+1), zap.String("reason", reason))
	failedAt := index
	return executor.Result{
		Success:         false,
		Error:           fmt.Sprintf("Action %d failed: %s", index+1, reason),
		FailedStepIndex: &failedAt,
	}
}
