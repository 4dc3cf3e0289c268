// Package dispatch turns inbound commands into executed actions: it gathers
// page context, asks the interpreter for a structured action, validates it and
// routes it to the executor or the sequence orchestrator, answering each
// request exactly once over a correlated Channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/ai"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/executor"
)

// State is the dispatcher's stage for the request in flight.
type State int

const (
	Idle State = iota
	AwaitingInterpretation
	AwaitingExecution
	// Error is terminal for a request; the next request leaves it.
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingInterpretation:
		return "awaiting_interpretation"
	case AwaitingExecution:
		return "awaiting_execution"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultInterpretTimeout bounds one interpretation round-trip.
const DefaultInterpretTimeout = 2 * time.Minute

// Executor runs single actions.
type Executor interface {
	Execute(ctx context.Context, d action.Descriptor) (executor.Result, error)
}

// SequenceRunner runs multi-step actions.
type SequenceRunner interface {
	Run(ctx context.Context, seq action.Sequence) (executor.Result, error)
}

// Options configures a Dispatcher.
type Options struct {
	// InterpretTimeout bounds the interpreter call. Zero selects
	// DefaultInterpretTimeout; a negative value disables the bound.
	InterpretTimeout time.Duration
}

// Dispatcher serialises commands against one page.
type Dispatcher struct {
	host        dom.Host
	interpreter ai.Interpreter
	exec        Executor
	seq         SequenceRunner
	logger      *zap.Logger
	timeout     time.Duration
	sem         *semaphore.Weighted

	mu    sync.Mutex
	state State
}

// New creates a Dispatcher. interpreter may be nil, in which case only
// CommandExecute and CommandGetPageContent are served.
func New(host dom.Host, interpreter ai.Interpreter, exec Executor, seq SequenceRunner, logger *zap.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.InterpretTimeout
	if timeout == 0 {
		timeout = DefaultInterpretTimeout
	}
	return &Dispatcher{
		host:        host,
		interpreter: interpreter,
		exec:        exec,
		seq:         seq,
		logger:      logger.Named("dispatch"),
		timeout:     timeout,
		sem:         semaphore.NewWeighted(1),
	}
}

// State returns the current stage.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) enter(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Dispatch handles req in the background and returns its channel.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Channel {
	ch := NewChannel(req.ID)
	go d.Handle(ctx, req, ch)
	return ch
}

// Handle processes req and answers on ch. It always leaves ch closed with
// exactly one response. Requests are handled one at a time; a request waits
// for the one in flight unless ctx ends first.
func (d *Dispatcher) Handle(ctx context.Context, req Request, ch *Channel) {
	defer ch.Close()
	logger := d.logger.With(zap.String("request_id", ch.ID()), zap.String("command", req.Name()))

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.reply(logger, ch, Message{Error: fmt.Sprintf("request abandoned while waiting: %v", err)})
		return
	}
	defer d.sem.Release(1)

	switch req.Name() {
	case CommandProcess:
		d.process(ctx, logger, req, ch)
	case CommandExecute:
		d.enter(AwaitingExecution)
		d.run(ctx, logger, string(req.StructuredAction), ch)
	case CommandGetPageContent:
		d.pageContent(ctx, logger, ch)
	default:
		d.fail(logger, ch, Message{Error: fmt.Sprintf("unknown command %q", req.Name())})
	}
}

func (d *Dispatcher) process(ctx context.Context, logger *zap.Logger, req Request, ch *Channel) {
	if strings.TrimSpace(req.Transcript) == "" {
		d.fail(logger, ch, Message{Error: "missing transcript"})
		return
	}
	if d.interpreter == nil {
		d.fail(logger, ch, Message{Error: "no interpreter configured"})
		return
	}

	d.enter(AwaitingInterpretation)
	page, err := d.host.PageContext(ctx)
	if err != nil {
		d.fail(logger, ch, Message{Error: fmt.Sprintf("failed to read page context: %v", err)})
		return
	}

	ictx, cancel := ctx, func() {}
	if d.timeout > 0 {
		ictx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	logger.Info("Interpreting command", zap.String("transcript", req.Transcript), zap.String("url", page.URL))
	raw, err := d.interpreter.Interpret(ictx, req.Transcript, page)
	cancel()
	if err != nil {
		d.fail(logger, ch, Message{Error: fmt.Sprintf("interpretation failed: %v", err)})
		return
	}
	logger.Debug("Interpreter replied", zap.String("raw", raw))

	d.enter(AwaitingExecution)
	d.run(ctx, logger, raw, ch)
}

// run parses raw, echoes it and executes it.
func (d *Dispatcher) run(ctx context.Context, logger *zap.Logger, raw string, ch *Channel) {
	desc, sa, err := action.Decode(raw)
	if err != nil {
		var ie *action.InterpretationError
		if errors.As(err, &ie) {
			d.fail(logger, ch, Message{Error: err.Error(), Raw: ie.Raw})
			return
		}
		d.fail(logger, ch, Message{Error: err.Error(), InterpretedAction: &sa})
		return
	}

	if err := ch.Echo(sa); err != nil {
		logger.Warn("Could not echo interpreted action", zap.Error(err))
	}
	logger.Info("Executing action", zap.String("action", string(desc.Kind())))

	var res executor.Result
	if seq, ok := desc.(action.Sequence); ok {
		res, err = d.seq.Run(ctx, seq)
	} else {
		res, err = d.exec.Execute(ctx, desc)
	}
	if err != nil {
		msg := Message{InterpretedAction: &sa, Error: fmt.Sprintf("execution aborted: %v", err)}
		if res.FailedStepIndex != nil {
			msg.Result = &res
		}
		d.fail(logger, ch, msg)
		return
	}

	d.enter(Idle)
	d.reply(logger, ch, Message{Success: res.Success, InterpretedAction: &sa, Result: &res, Error: res.Error})
}

func (d *Dispatcher) pageContent(ctx context.Context, logger *zap.Logger, ch *Channel) {
	content, err := d.host.Content(ctx, dom.MaxContentBytes)
	if err != nil {
		d.fail(logger, ch, Message{Error: fmt.Sprintf("failed to capture page: %v", err)})
		return
	}
	d.enter(Idle)
	d.reply(logger, ch, Message{Success: true, PageContent: &content})
}

func (d *Dispatcher) fail(logger *zap.Logger, ch *Channel, m Message) {
	d.enter(Error)
	m.Success = false
	logger.Warn("Command failed", zap.String("error", m.Error))
	d.reply(logger, ch, m)
}

func (d *Dispatcher) reply(logger *zap.Logger, ch *Channel, m Message) {
	if err := ch.Reply(m); err != nil {
		logger.Warn("Could not deliver response", zap.Error(err))
	}
}
