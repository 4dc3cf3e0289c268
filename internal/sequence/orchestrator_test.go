package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/html"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/dom/domtest"
	"github.com/v0xg/pagepilot/internal/executor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (c *clock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return ctx.Err()
}

func newOrchestrator(doc *domtest.Document) (*Orchestrator, *clock) {
	c := &clock{}
	exec := executor.New(doc, nil, nil, executor.Options{Sleep: c.sleep})
	return New(exec, nil, Options{Sleep: c.sleep}), c
}

func click(sel string, continueOnError bool) action.Step {
	return action.Step{Action: action.Click{Target: action.Target{Selector: sel}}, ContinueOnError: continueOnError}
}

const searchPage = `
	<form id="f">
		<input id="q" data-rect="0,0,200,30">
		<button id="go" type="submit" data-rect="210,0,60,30">Search</button>
	</form>
	<a id="next" href="#" data-rect="0,100,60,20">Next</a>`

func TestRun_StepsInOrderWithDefaultDelays(t *testing.T) {
	doc := domtest.MustNew(searchPage, domtest.WithViewport(1280, 720, 4000))
	o, c := newOrchestrator(doc)

	seq := action.Sequence{Steps: []action.Step{
		{Action: action.TypeAndSubmit{Target: action.Target{Selector: "#q"}, Text: "boots"}, ContinueOnError: true},
		click("#go", true),
		{Action: action.Scroll{Direction: "down", Amount: "page"}, ContinueOnError: true},
		{Action: action.Wait{}, Delay: 2 * time.Second, DelaySet: true, ContinueOnError: true},
		click("#next", true),
	}}
	res, err := o.Run(context.Background(), seq)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.FailedStepIndex)
	assert.Equal(t, "All 5 actions completed successfully", res.Message)

	assert.Equal(t, []string{
		"focus input#q",
		`setValue input#q "boots"`,
		"dispatch input#q input",
		"dispatch input#q change",
		"click button#go",
		"scrollBy 0,648",
		"click a#next",
	}, doc.Ops())
	assert.Equal(t, []time.Duration{
		DefaultStepDelay,
		DefaultStepDelay,
		DefaultScrollDelay,
		2 * time.Second,
		DefaultStepDelay,
	}, c.slept)

	state, _, _ := o.State()
	assert.Equal(t, Completed, state)
}

func TestRun_ContinuesPastFailuresByDefault(t *testing.T) {
	doc := domtest.MustNew(searchPage)
	o, _ := newOrchestrator(doc)

	res, err := o.Run(context.Background(), action.Sequence{Steps: []action.Step{
		click("#missing", true),
		click("#go", true),
	}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "1 failed")
	assert.Equal(t, []string{"click button#go"}, doc.Ops())
}

func TestRun_AbortsAtFailedStep(t *testing.T) {
	doc := domtest.MustNew(searchPage)
	o, c := newOrchestrator(doc)

	res, err := o.Run(context.Background(), action.Sequence{Steps: []action.Step{
		click("#go", false),
		click("#missing", false),
		click("#next", false),
	}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.FailedStepIndex)
	assert.Equal(t, 1, *res.FailedStepIndex)
	assert.Contains(t, res.Error, "Action 2 failed")
	assert.Contains(t, res.Error, "#missing")
	assert.Equal(t, []string{"click button#go"}, doc.Ops())
	assert.Len(t, c.slept, 1)

	state, index, reason := o.State()
	assert.Equal(t, Aborted, state)
	assert.Equal(t, 1, index)
	assert.Contains(t, reason, "#missing")
}

func TestRun_FaultAbortsRegardlessOfPolicy(t *testing.T) {
	doc := domtest.MustNew(searchPage)
	o, _ := newOrchestrator(doc)
	doc.ClickHook = func(d *domtest.Document, _ *html.Node) { d.Fault = dom.ErrUnavailable }

	res, err := o.Run(context.Background(), action.Sequence{Steps: []action.Step{
		click("#go", true),
		click("#next", true),
		click("#go", true),
	}})
	require.ErrorIs(t, err, dom.ErrUnavailable)
	assert.False(t, res.Success)
	require.NotNil(t, res.FailedStepIndex)
	assert.Equal(t, 1, *res.FailedStepIndex)
}

func TestRun_CancelledDuringDelay(t *testing.T) {
	doc := domtest.MustNew(searchPage)
	exec := executor.New(doc, nil, nil, executor.Options{})
	o := New(exec, nil, Options{StepDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var (
		res executor.Result
		err error
	)
	go func() {
		defer close(done)
		res, err = o.Run(ctx, action.Sequence{Steps: []action.Step{click("#go", true), click("#next", true)}})
	}()
	require.Eventually(t, func() bool { return len(doc.Ops()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res.FailedStepIndex)
	assert.Equal(t, 0, *res.FailedStepIndex)
	assert.Equal(t, []string{"click button#go"}, doc.Ops())
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Execute(ctx context.Context, _ action.Descriptor) (executor.Result, error) {
	close(b.started)
	<-b.release
	return executor.Result{Success: true}, nil
}

func TestRun_BusyWhileRunning(t *testing.T) {
	r := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	o := New(r, nil, Options{Sleep: func(context.Context, time.Duration) error { return nil }})
	seq := action.Sequence{Steps: []action.Step{{Action: action.Wait{}, ContinueOnError: true}}}

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), seq)
		done <- err
	}()
	<-r.started

	_, err := o.Run(context.Background(), seq)
	assert.ErrorIs(t, err, ErrBusy)

	close(r.release)
	require.NoError(t, <-done)

	// A finished orchestrator accepts the next sequence.
	r.started, r.release = make(chan struct{}), make(chan struct{})
	close(r.release)
	_, err = o.Run(context.Background(), seq)
	assert.NoError(t, err)
}

func TestDelay(t *testing.T) {
	o := New(nil, nil, Options{StepDelay: 100 * time.Millisecond})
	assert.Equal(t, 100*time.Millisecond, o.Delay(click("#a", true)))
	assert.Equal(t, DefaultScrollDelay, o.Delay(action.Step{Action: action.Scroll{}}))
	assert.Equal(t, DefaultScrollDelay, o.Delay(action.Step{Action: action.Wait{}}))
	assert.Equal(t, time.Duration(0), o.Delay(action.Step{Action: action.Wait{}, DelaySet: true}))
}
