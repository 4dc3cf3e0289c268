package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dispatch"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/dom/domtest"
	"github.com/v0xg/pagepilot/internal/executor"
	"github.com/v0xg/pagepilot/internal/observability"
	"github.com/v0xg/pagepilot/internal/sequence"
	"github.com/v0xg/pagepilot/internal/transport"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// startServer serves a dispatcher over doc and returns its WebSocket URL.
func startServer(t *testing.T, doc *domtest.Document) string {
	t.Helper()
	exec := executor.New(doc, nil, nil, executor.Options{Sleep: noSleep})
	seq := sequence.New(exec, nil, sequence.Options{Sleep: noSleep})
	d := dispatch.New(doc, nil, exec, seq, nil, dispatch.Options{})
	srv := httptest.NewServer(transport.NewServer("", d, nil).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + transport.Path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Setenv("PAGEPILOT_LOGGER_LEVEL", "error")
	t.Chdir(t.TempDir())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSend_Execute(t *testing.T) {
	doc := domtest.MustNew(`<p>long page</p>`, domtest.WithViewport(1280, 720, 4000))
	url := startServer(t, doc)

	out, err := execute(t, "send", "--url", url, "--execute", `{"action":"scroll","direction":"down","amount":"end"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `→ Interpreted: scroll direction="down" amount="end"`)
	assert.Contains(t, out, "✓ Scrolled")
	assert.Equal(t, []string{"scrollTo 4000"}, doc.Ops())
}

func TestSend_Page(t *testing.T) {
	doc := domtest.MustNew(`<h1 id="t">Hello</h1>`, domtest.WithURL("https://example.com/"))
	url := startServer(t, doc)

	out, err := execute(t, "send", "--url", url, "--page")
	require.NoError(t, err)
	assert.Contains(t, out, `"url": "https://example.com/"`)
	assert.Contains(t, out, `"html": "`)
	assert.Contains(t, out, "Hello")
}

func TestSend_Failures(t *testing.T) {
	doc := domtest.MustNew(`<p>x</p>`)
	url := startServer(t, doc)

	_, err := execute(t, "send", "--url", url, "--execute", `{not json`)
	assert.EqualError(t, err, "action is not valid JSON")

	_, err = execute(t, "send", "--url", url, "--execute", `{"action":"click"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selector")

	_, err = execute(t, "send", "--url", url, "open the pod bay doors")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no interpreter configured")

	_, err = execute(t, "send", "--url", url, "--page", "extra")
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("PAGEPILOT_LOGGER_FORMAT", "xml")
	_, err := execute(t, "send", "--page")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger.format")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "go_back", describe(action.StructuredAction{Action: "go_back"}))
	assert.Equal(t, `type_and_submit selector="#q" text="gophers"`,
		describe(action.StructuredAction{Action: "type_and_submit", Selector: "#q", Text: "gophers"}))
	assert.Equal(t, "sequence steps=2",
		describe(action.StructuredAction{Action: "sequence", Actions: make([]action.StepSpec, 2)}))
}

func TestPrintResponse(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printResponse(&out, dispatch.Message{Success: true, Result: &executor.Result{Success: true, Message: "Clicked element a"}}))
	assert.Equal(t, "✓ Clicked element a\n", out.String())

	out.Reset()
	err := printResponse(&out, dispatch.Message{Error: "malformed", Raw: "sure! here you go"})
	assert.EqualError(t, err, "malformed")
	assert.Contains(t, out.String(), "raw response: sure! here you go")

	out.Reset()
	require.NoError(t, printResponse(&out, dispatch.Message{Success: true, PageContent: &dom.PageContent{Title: "T"}}))
	assert.Contains(t, out.String(), `"title": "T"`)
}

func TestInterpretTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(-1), interpretTimeout(0))
	assert.Equal(t, time.Minute, interpretTimeout(time.Minute))
}
