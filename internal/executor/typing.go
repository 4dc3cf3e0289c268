package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/resolver"
)

const submitControls = `input[type="submit"], button[type="submit"]`

// Submission strategies, in the order they are tried.
const (
	viaSubmitSelector = "submit selector"
	viaFormButton     = "form submit button"
	viaFormSubmit     = "form submit"
	viaEnterKey       = "Enter key"
)

func (e *Executor) typeText(ctx context.Context, a action.TypeAndSubmit) (Result, *dom.Point, error) {
	crit := resolver.Criteria{Selector: a.Selector, TextMatch: a.TextMatch, Scope: resolver.EditableScope}
	m, err := e.resolver.ResolveWithFallback(ctx, e.page, crit)
	if err != nil {
		res, err := fail(err)
		return res, nil, err
	}
	if !m.Snapshot.Editable() {
		return Result{Success: false, Error: fmt.Sprintf("%v: %s matched <%s>", ErrNotEditable, crit, m.Snapshot.Tag)}, nil, nil
	}

	snap, err := e.reveal(ctx, m)
	if err != nil {
		res, err := fail(err)
		return res, nil, err
	}
	center := snap.Rect.Center()

	if err := e.fill(ctx, m.Element, a.Text); err != nil {
		res, err := fail(err)
		return res, nil, err
	}
	if !a.Submit {
		return Result{Success: true, Message: fmt.Sprintf("Typed %q into %s", a.Text, crit)}, &center, nil
	}

	via, err := e.submit(ctx, m.Element, a.SubmitSelector)
	if err != nil {
		res, err := fail(err)
		return res, nil, err
	}
	e.logger.Debug("Submitted input", zap.String("via", via))

	msg := fmt.Sprintf("Typed %q and submitted via %s", a.Text, via)
	if via == viaEnterKey {
		msg = fmt.Sprintf("Typed %q and pressed Enter (submission not verified)", a.Text)
	}
	return Result{Success: true, Message: msg}, &center, nil
}

func (e *Executor) fill(ctx context.Context, el dom.Element, text string) error {
	if err := e.page.Focus(ctx, el); err != nil {
		return mutation("focus", err)
	}
	if err := e.page.SetValue(ctx, el, text); err != nil {
		return mutation("set value", err)
	}
	for _, kind := range []dom.EventKind{dom.EventInput, dom.EventChange} {
		if err := e.page.Dispatch(ctx, el, dom.Event{Kind: kind}); err != nil {
			return mutation("dispatch "+string(kind), err)
		}
	}
	return nil
}

// submit tries each submission strategy in turn and returns the one used.
func (e *Executor) submit(ctx context.Context, input dom.Element, submitSelector string) (string, error) {
	if submitSelector != "" {
		els, err := e.page.QueryAll(ctx, submitSelector)
		switch {
		case err == nil && len(els) > 0:
			if err := e.page.Click(ctx, els[0]); err != nil {
				return "", mutation("click submit selector", err)
			}
			return viaSubmitSelector, nil
		case err != nil && !errors.Is(err, dom.ErrInvalidSelector):
			return "", mutation("find submit selector", err)
		}
		e.logger.Debug("Submit selector matched nothing", zap.String("selector", submitSelector))
	}

	form, ok, err := e.page.Form(ctx, input)
	if err != nil {
		return "", mutation("find form", err)
	}
	if ok {
		buttons, err := e.page.QueryWithin(ctx, form, submitControls)
		if err != nil {
			return "", mutation("find submit button", err)
		}
		if len(buttons) > 0 {
			if err := e.page.Click(ctx, buttons[0]); err != nil {
				return "", mutation("click submit button", err)
			}
			return viaFormButton, nil
		}
		if err := e.page.Submit(ctx, form); err != nil {
			return "", mutation("submit form", err)
		}
		return viaFormSubmit, nil
	}

	for _, ev := range []dom.Event{
		{Kind: dom.EventKeyDown, Key: "Enter"},
		{Kind: dom.EventKeyUp, Key: "Enter"},
		{Kind: dom.EventSubmit},
	} {
		if err := e.page.Dispatch(ctx, input, ev); err != nil {
			return "", mutation("dispatch "+string(ev.Kind), err)
		}
	}
	return viaEnterKey, nil
}
