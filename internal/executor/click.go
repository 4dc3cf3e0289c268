package executor

import (
	"context"
	"fmt"

	"github.com/v0xg/pagepilot/internal/action"
	"github.com/v0xg/pagepilot/internal/dom"
	"github.com/v0xg/pagepilot/internal/resolver"
)

func (e *Executor) click(ctx context.Context, a action.Click) (Result, *dom.Point, error) {
	crit := resolver.Criteria{Selector: a.Selector, TextMatch: a.TextMatch, Scope: resolver.ClickableScope}
	m, err := e.resolver.ResolveWithFallback(ctx, e.page, crit)
	if err != nil {
		res, err := fail(err)
		return res, nil, err
	}

	snap, err := e.reveal(ctx, m)
	if err != nil {
		res, err := fail(err)
		return res, nil, err
	}
	if err := e.page.Click(ctx, m.Element); err != nil {
		res, err := fail(mutation("click", err))
		return res, nil, err
	}

	center := snap.Rect.Center()
	return Result{Success: true, Message: fmt.Sprintf("Clicked element %s", crit)}, &center, nil
}
