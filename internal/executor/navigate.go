package executor

import (
	"context"
	"fmt"

	"github.com/v0xg/pagepilot/internal/action"
)

func (e *Executor) navigate(ctx context.Context, a action.Navigate) (Result, error) {
	url := action.NormalizeURL(a.URL)
	if err := e.page.Navigate(ctx, url); err != nil {
		return fail(fmt.Errorf("navigate to %s: %w", url, err))
	}
	return Result{Success: true, Message: "Navigated to " + url}, nil
}

func (e *Executor) history(ctx context.Context, dir string, move func(context.Context) error) (Result, error) {
	if err := move(ctx); err != nil {
		return fail(fmt.Errorf("navigate %s: %w", dir, err))
	}
	return Result{Success: true, Message: "Navigated " + dir}, nil
}
