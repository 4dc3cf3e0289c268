package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/dom/domtest"
)

type sleepRecorder struct {
	mu     sync.Mutex
	slept  []time.Duration
	during func()
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	during := s.during
	s.mu.Unlock()
	if during != nil {
		during()
	}
	return ctx.Err()
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) Observe(_ context.Context, ev Event) {
	r.events = append(r.events, ev)
}

func newExecutor(doc *domtest.Document, opts ...func(*Options)) (*Executor, *sleepRecorder) {
	rec := &sleepRecorder{}
	o := Options{Sleep: rec.sleep}
	for _, fn := range opts {
		fn(&o)
	}
	return New(doc, nil, nil, o), rec
}

func TestClick_OffscreenElementIsRevealedThenClicked(t *testing.T) {
	doc := domtest.MustNew(`
		<a id="home" href="/" data-rect="0,0,60,20">Home</a>
		<button id="buy" data-rect="100,1500,80,30">Buy now</button>`,
		domtest.WithViewport(1280, 720, 3000))
	exec, sleeps := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.Click{Target: action.Target{TextMatch: "buy now"}})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Contains(t, res.Message, "buy now")
	assert.Equal(t, []string{"scrollIntoView button#buy", "click button#buy"}, doc.Ops())
	assert.Equal(t, []time.Duration{DefaultSettleDelay}, sleeps.slept)
}

func TestClick_InViewportSkipsSettle(t *testing.T) {
	doc := domtest.MustNew(`<button id="ok" data-rect="10,10,80,30">OK</button>`)
	exec, sleeps := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.Click{Target: action.Target{Selector: "#ok"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"click button#ok"}, doc.Ops())
	assert.Empty(t, sleeps.slept)
}

func TestClick_FallsBackToUnscopedSearch(t *testing.T) {
	doc := domtest.MustNew(`<div id="tile" data-rect="0,0,200,100">Pricing</div>`)
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.Click{Target: action.Target{TextMatch: "pricing"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"click div#tile"}, doc.Ops())
}

func TestClick_NotFoundIsReportedFailure(t *testing.T) {
	doc := domtest.MustNew(`<p data-rect="0,0,100,20">Nothing to click</p>`)
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.Click{Target: action.Target{Selector: "#checkout", TextMatch: "checkout"}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "#checkout")
	assert.Contains(t, res.Error, "checkout")
	assert.Empty(t, doc.Ops())
}

func TestClick_ElementDetachedDuringSettle(t *testing.T) {
	doc := domtest.MustNew(`<button id="late" data-rect="0,2000,80,30">Load more</button>`,
		domtest.WithViewport(1280, 720, 4000))
	exec, sleeps := newExecutor(doc)
	sleeps.during = func() { doc.Remove("#late") }

	res, err := exec.Execute(context.Background(), action.Click{Target: action.Target{Selector: "#late"}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrDOMMutation.Error())
}

func TestTypeAndSubmit_Strategies(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		action  action.TypeAndSubmit
		want    []string
		message string
	}{
		{
			name: "submit selector",
			markup: `<input id="q" data-rect="0,0,200,30">
				<a id="search" href="#" data-rect="210,0,50,30">Search</a>`,
			action: action.TypeAndSubmit{Target: action.Target{Selector: "#q"}, Text: "shoes", SubmitSelector: "#search", Submit: true},
			want: []string{
				"focus input#q", `setValue input#q "shoes"`, "dispatch input#q input", "dispatch input#q change",
				"click a#search",
			},
			message: "submit selector",
		},
		{
			name: "hidden submit selector is still clicked",
			markup: `<input id="q" data-rect="0,0,200,30">
				<button id="go" style="display:none">Go</button>`,
			action: action.TypeAndSubmit{Target: action.Target{Selector: "#q"}, Text: "kittens", SubmitSelector: "#go", Submit: true},
			want: []string{
				"focus input#q", `setValue input#q "kittens"`, "dispatch input#q input", "dispatch input#q change",
				"click button#go",
			},
			message: "submit selector",
		},
		{
			name:   "invalid submit selector falls through",
			markup: `<form id="f"><input id="q" data-rect="0,0,200,30"></form>`,
			action: action.TypeAndSubmit{Target: action.Target{Selector: "#q"}, Text: "shoes", SubmitSelector: "a[[[", Submit: true},
			want: []string{
				"focus input#q", `setValue input#q "shoes"`, "dispatch input#q input", "dispatch input#q change",
				"submit form#f",
			},
			message: "form submit",
		},
		{
			name: "form submit button",
			markup: `<form id="f"><input id="q" name="q" data-rect="0,0,200,30">
				<button id="go" type="submit" data-rect="210,0,50,30">Go</button></form>`,
			action: action.TypeAndSubmit{Target: action.Target{Selector: "#q"}, Text: "shoes", SubmitSelector: "#missing", Submit: true},
			want: []string{
				"focus input#q", `setValue input#q "shoes"`, "dispatch input#q input", "dispatch input#q change",
				"click button#go",
			},
			message: "form submit button",
		},
		{
			name:   "native form submit",
			markup: `<form id="f"><input id="q" data-rect="0,0,200,30"></form>`,
			action: action.TypeAndSubmit{Target: action.Target{Selector: "#q"}, Text: "shoes", Submit: true},
			want: []string{
				"focus input#q", `setValue input#q "shoes"`, "dispatch input#q input", "dispatch input#q change",
				"submit form#f",
			},
			message: "form submit",
		},
		{
			name:   "enter key without form",
			markup: `<input id="q" placeholder="Search" data-rect="0,0,200,30">`,
			action: action.TypeAndSubmit{Target: action.Target{TextMatch: "search"}, Text: "shoes", Submit: true},
			want: []string{
				"focus input#q", `setValue input#q "shoes"`, "dispatch input#q input", "dispatch input#q change",
				"dispatch input#q keydown Enter", "dispatch input#q keyup Enter", "dispatch input#q submit",
			},
			message: "not verified",
		},
		{
			name:   "type without submit",
			markup: `<form id="f"><textarea id="note" data-rect="0,0,200,80"></textarea></form>`,
			action: action.TypeAndSubmit{Target: action.Target{Selector: "#note"}, Text: "hello"},
			want: []string{
				"focus textarea#note", `setValue textarea#note "hello"`, "dispatch textarea#note input", "dispatch textarea#note change",
			},
			message: "Typed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := domtest.MustNew(tt.markup)
			exec, _ := newExecutor(doc)
			res, err := exec.Execute(context.Background(), tt.action)
			require.NoError(t, err)
			assert.True(t, res.Success, res.Error)
			assert.Contains(t, res.Message, tt.message)
			assert.Equal(t, tt.want, doc.Ops())
			assert.Equal(t, tt.action.Text, doc.Value("input, textarea"))
		})
	}
}

func TestTypeAndSubmit_ContentEditable(t *testing.T) {
	doc := domtest.MustNew(`<div id="editor" contenteditable="true" data-rect="0,0,400,200">old</div>`)
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.TypeAndSubmit{Target: action.Target{Selector: "#editor"}, Text: "new text"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "new text", doc.Find("#editor").FirstChild.Data)
}

func TestTypeAndSubmit_NotEditable(t *testing.T) {
	doc := domtest.MustNew(`<button id="btn" data-rect="0,0,80,30">Email</button>`)
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.TypeAndSubmit{Target: action.Target{Selector: "#btn"}, Text: "a@b.c", Submit: true})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrNotEditable.Error())
	assert.Empty(t, doc.Ops())
}

func TestTypeAndSubmit_PrefersEditableScope(t *testing.T) {
	doc := domtest.MustNew(`
		<label id="lbl" data-rect="0,0,60,20">Email</label>
		<input id="email" placeholder="Email" data-rect="0,30,200,30">`)
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.TypeAndSubmit{Target: action.Target{TextMatch: "email"}, Text: "a@b.c"})
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "a@b.c", doc.Value("#email"))
}

func TestScroll(t *testing.T) {
	tests := []struct {
		direction, amount string
		want              string
	}{
		{"down", "medium", "scrollBy 0,360"},
		{"down", "half", "scrollBy 0,360"},
		{"down", "small", "scrollBy 0,180"},
		{"down", "little", "scrollBy 0,180"},
		{"up", "page", "scrollBy 0,-648"},
		{"down", "full", "scrollBy 0,648"},
		{"left", "small", "scrollBy -180,0"},
		{"right", "300", "scrollBy 300,0"},
		{"down", "250px", "scrollBy 0,250"},
		{"down", "lots", "scrollBy 0,360"},
		{"down", "nan", "scrollBy 0,360"},
		{"down", "inf", "scrollBy 0,360"},
		{"up", "-Infinity", "scrollBy 0,-360"},
		{"sideways", "small", "scrollBy 0,180"},
		{"up", "end", "scrollTo 5000"},
		{"down", "bottom", "scrollTo 5000"},
		{"down", "top", "scrollTo 0"},
		{"up", "start", "scrollTo 0"},
		{"toposition", "1200", "scrollTo 1200"},
	}
	for _, tt := range tests {
		t.Run(tt.direction+"/"+tt.amount, func(t *testing.T) {
			doc := domtest.MustNew(`<p>x</p>`, domtest.WithViewport(1280, 720, 5000))
			exec, _ := newExecutor(doc)
			res, err := exec.Execute(context.Background(), action.Scroll{Direction: tt.direction, Amount: tt.amount})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, []string{tt.want}, doc.Ops())
		})
	}
}

func TestScroll_DOMErrorStillSucceeds(t *testing.T) {
	doc := domtest.MustNew(`<p>x</p>`)
	doc.Fault = errors.New("script threw")
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.Scroll{Direction: "down", Amount: "page"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestParseAmount_KeywordOrdering(t *testing.T) {
	vp := dom.Viewport{Width: 1280, Height: 800, ScrollHeight: 9000}
	small, _ := ParseAmount("small", vp)
	medium, _ := ParseAmount("medium", vp)
	page, _ := ParseAmount("page", vp)
	assert.Less(t, small, medium)
	assert.Less(t, medium, page)
	assert.Less(t, page, vp.Height)

	end, abs := ParseAmount("END", vp)
	assert.True(t, abs)
	assert.Equal(t, vp.ScrollHeight, end)
}

func TestNavigation(t *testing.T) {
	doc := domtest.MustNew(`<p>x</p>`, domtest.WithURL("https://start.test/"))
	exec, _ := newExecutor(doc)
	ctx := context.Background()

	res, err := exec.Execute(ctx, action.Navigate{URL: "example.com/docs"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://example.com/docs", doc.URL())

	res, err = exec.Execute(ctx, action.GoBack{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://start.test/", doc.URL())

	res, err = exec.Execute(ctx, action.GoForward{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://example.com/docs", doc.URL())

	assert.Equal(t, []string{"navigate https://example.com/docs", "back", "forward"}, doc.Ops())
}

func TestUnsupported(t *testing.T) {
	doc := domtest.MustNew(`<p>x</p>`)
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.Unsupported{Reasoning: "cannot read email"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "cannot read email")
}

func TestSequenceIsNotASingleAction(t *testing.T) {
	doc := domtest.MustNew(`<p>x</p>`)
	exec, _ := newExecutor(doc)

	res, err := exec.Execute(context.Background(), action.Sequence{Steps: []action.Step{{Action: action.Wait{}}}})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFaults(t *testing.T) {
	t.Run("page unavailable", func(t *testing.T) {
		doc := domtest.MustNew(`<button data-rect="0,0,10,10">Go</button>`)
		doc.Fault = dom.ErrUnavailable
		exec, _ := newExecutor(doc)
		for _, d := range []action.Descriptor{
			action.Click{Target: action.Target{TextMatch: "go"}},
			action.TypeAndSubmit{Target: action.Target{Selector: "input"}, Submit: true},
			action.Scroll{Direction: "down", Amount: "page"},
			action.Navigate{URL: "https://example.com"},
			action.GoBack{},
		} {
			_, err := exec.Execute(context.Background(), d)
			assert.ErrorIs(t, err, dom.ErrUnavailable, "%s", d.Kind())
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		doc := domtest.MustNew(`<button data-rect="0,0,10,10">Go</button>`)
		exec, _ := newExecutor(doc)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := exec.Execute(ctx, action.Click{Target: action.Target{TextMatch: "go"}})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, doc.Ops())
	})
}

func TestObserversSeeActionPoint(t *testing.T) {
	doc := domtest.MustNew(`<button id="ok" data-rect="100,100,80,40">OK</button>`)
	obs := &eventRecorder{}
	exec, _ := newExecutor(doc, func(o *Options) { o.Observers = []Observer{obs} })

	_, err := exec.Execute(context.Background(), action.Click{Target: action.Target{Selector: "#ok"}})
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), action.Scroll{Direction: "down", Amount: "small"})
	require.NoError(t, err)

	require.Len(t, obs.events, 2)
	assert.Equal(t, action.KindClick, obs.events[0].Kind)
	require.NotNil(t, obs.events[0].Point)
	assert.Equal(t, dom.Point{X: 140, Y: 120}, *obs.events[0].Point)
	assert.Nil(t, obs.events[1].Point)
	assert.True(t, obs.events[1].Result.Success)
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
