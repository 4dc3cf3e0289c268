package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/ai"
	"github.com/v0xg/pagepilot/internal/browser"
	"github.com/v0xg/pagepilot/internal/config"
	"github.com/v0xg/pagepilot/internal/dispatch"
	"github.com/v0xg/pagepilot/internal/executor"
	"github.com/v0xg/pagepilot/internal/observability"
	"github.com/v0xg/pagepilot/internal/recorder"
	"github.com/v0xg/pagepilot/internal/sequence"
)

// session is a launched browser with the command pipeline wired to its page.
type session struct {
	browser    *browser.Browser
	dispatcher *dispatch.Dispatcher
	recorder   *recorder.Recorder
	recordPath string
	logger     *zap.Logger
}

// openSession launches the browser at url. The interpreter is only built when
// interpret is set, so commands that never interpret need no provider setup.
func openSession(ctx context.Context, cfg *config.Config, url string, interpret bool) (*session, error) {
	logger := observability.GetLogger()

	b, err := browser.Launch(ctx, url, browser.Options{
		Width:           cfg.Browser.Width,
		Height:          cfg.Browser.Height,
		Headless:        cfg.Browser.Headless,
		Bin:             cfg.Browser.Bin,
		ProfileDir:      cfg.Browser.ProfileDir,
		LoadTimeout:     cfg.Browser.LoadTimeout,
		IncludeElements: cfg.Browser.IncludeElements,
	}, logger)
	if err != nil {
		return nil, err
	}
	page := b.Page()

	var in ai.Interpreter
	if interpret {
		in, err = newInterpreter(cfg.Interpretation)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("AI provider init failed: %w", err)
		}
	}

	s := &session{browser: b, logger: logger}
	opts := executor.Options{SettleDelay: cfg.Executor.SettleDelay}
	if cfg.Recorder.Enabled {
		s.recorder = recorder.New(page, logger, recorder.Options{
			MaxWidth:   uint(cfg.Recorder.MaxWidth),
			FrameDelay: cfg.Recorder.FrameDelay,
			MoveFrames: cfg.Recorder.MoveFrames,
			NoCursor:   cfg.Recorder.NoCursor,
		})
		if err := s.recorder.Capture(ctx); err != nil {
			logger.Warn("Could not capture initial frame", zap.Error(err))
		}
		s.recordPath = cfg.Recorder.Output
		opts.Observers = append(opts.Observers, s.recorder)
	}

	exec := executor.New(page, nil, logger, opts)
	seq := sequence.New(exec, logger, sequence.Options{
		StepDelay:   cfg.Executor.StepDelay,
		ScrollDelay: cfg.Executor.ScrollDelay,
		Sleep:       exec.Sleeper(),
	})
	s.dispatcher = dispatch.New(page, in, exec, seq, logger, dispatch.Options{
		InterpretTimeout: interpretTimeout(cfg.Interpretation.Timeout),
	})
	return s, nil
}

// Close saves the recording, if any, and shuts the browser down.
func (s *session) Close(out io.Writer) {
	if s.recorder != nil && s.recorder.Len() > 0 {
		size, err := s.recorder.Save(s.recordPath)
		if err != nil {
			s.logger.Error("Could not save recording", zap.String("path", s.recordPath), zap.Error(err))
		} else {
			fmt.Fprintf(out, "✓ Saved recording to %s (%.1f MB)\n", s.recordPath, float64(size)/(1024*1024))
		}
	}
	if err := s.browser.Close(); err != nil {
		s.logger.Debug("Browser close", zap.Error(err))
	}
}

// do dispatches req and prints its messages as they arrive.
func (s *session) do(ctx context.Context, req dispatch.Request, out io.Writer) (dispatch.Message, error) {
	ch := s.dispatcher.Dispatch(ctx, req)
	var resp dispatch.Message
	for m := range ch.Messages() {
		if m.Type == dispatch.TypeResponse {
			resp = m
			continue
		}
		printEvent(out, m)
	}
	if resp.Type == "" {
		return resp, dispatch.ErrChannelClosed
	}
	return resp, nil
}

func newInterpreter(c config.InterpretationConfig) (ai.Interpreter, error) {
	return ai.NewProvider(ai.Config{
		Provider:  strings.ToLower(c.Provider),
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		MaxTokens: c.MaxTokens,
	})
}

// interpretTimeout maps the configured timeout, where zero is unbounded, onto
// dispatch.Options, where zero selects the default.
func interpretTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

func printEvent(out io.Writer, m dispatch.Message) {
	if m.InterpretedAction == nil {
		return
	}
	fmt.Fprintf(out, "→ Interpreted: %s\n", describe(*m.InterpretedAction))
}

// printResponse prints the outcome and returns an error for failed commands.
func printResponse(out io.Writer, m dispatch.Message) error {
	if m.PageContent != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(m.PageContent)
	}
	if m.Success {
		msg := "done"
		if m.Result != nil && m.Result.Message != "" {
			msg = m.Result.Message
		}
		fmt.Fprintf(out, "✓ %s\n", msg)
		return nil
	}
	if m.Raw != "" {
		fmt.Fprintf(out, "  raw response: %s\n", m.Raw)
	}
	return errors.New(m.Error)
}

// describe renders an interpreted action on one line.
func describe(sa action.StructuredAction) string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", k, v))
		}
	}
	add("selector", sa.Selector)
	add("text_match", sa.ElementTextMatch)
	add("text", sa.Text)
	add("direction", sa.Direction)
	add("amount", string(sa.Amount))
	add("url", sa.URL)
	add("reasoning", sa.Reasoning)
	if len(sa.Actions) > 0 {
		parts = append(parts, fmt.Sprintf("steps=%d", len(sa.Actions)))
	}
	if len(parts) == 0 {
		return sa.Action
	}
	return sa.Action + " " + strings.Join(parts, " ")
}
