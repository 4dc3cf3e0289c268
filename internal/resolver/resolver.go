// Package resolver finds the element an action should target, by CSS selector
// and/or fuzzy text match, with visibility filtering and viewport-first ranking.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/dom"
)

// Tag scopes used by the executors to narrow text searches.
const (
	AllScope       = "*"
	ClickableScope = `a, button, input[type="button"], input[type="submit"], input[type="reset"], [role="button"], [role="link"], [tabindex]`
	EditableScope  = `input, textarea, [contenteditable="true"]`
)

// ExactScore is the score of an exact (case-insensitive, trimmed) text match.
// Partial matches score at most PartialWeight, so exact always dominates.
const (
	ExactScore    = 1100.0
	PartialWeight = 50.0
)

// Criteria describes what to look for. At least one of Selector and TextMatch
// should be set; Scope defaults to AllScope.
type Criteria struct {
	Selector  string
	TextMatch string
	Scope     string
}

func (c Criteria) String() string {
	switch {
	case c.Selector != "" && c.TextMatch != "":
		return fmt.Sprintf("%s / %q", c.Selector, c.TextMatch)
	case c.Selector != "":
		return c.Selector
	default:
		return fmt.Sprintf("%q", c.TextMatch)
	}
}

// Match is a scored candidate. It is valid only for immediate use.
type Match struct {
	Element    dom.Element
	Snapshot   dom.Snapshot
	Score      float64
	Visible    bool
	InViewport bool
}

// NotFoundError reports that no eligible element matched.
type NotFoundError struct {
	Selector  string
	TextMatch string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find element with selector %q or text %q", e.Selector, e.TextMatch)
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Resolver resolves criteria against a document.
type Resolver struct {
	logger *zap.Logger
}

// New creates a Resolver. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger.Named("resolver")}
}

// Resolve returns the best element for c, or a *NotFoundError. Other errors come
// from the document and are returned as is.
func (r *Resolver) Resolve(ctx context.Context, doc dom.Document, c Criteria) (*Match, error) {
	vp, err := doc.Viewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("read viewport: %w", err)
	}

	if c.Selector != "" {
		m, err := r.bySelector(ctx, doc, c.Selector, vp)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}

	if strings.TrimSpace(c.TextMatch) != "" {
		m, err := r.byText(ctx, doc, c.TextMatch, c.Scope, vp)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}

	return nil, &NotFoundError{Selector: c.Selector, TextMatch: c.TextMatch}
}

// ResolveWithFallback runs Resolve with c.Scope and, if nothing is found and a
// text match was requested, once more with no scope.
func (r *Resolver) ResolveWithFallback(ctx context.Context, doc dom.Document, c Criteria) (*Match, error) {
	m, err := r.Resolve(ctx, doc, c)
	if err == nil || !IsNotFound(err) {
		return m, err
	}
	if c.TextMatch == "" || c.Scope == "" || c.Scope == AllScope {
		return nil, err
	}
	r.logger.Debug("Scoped search failed, retrying unscoped", zap.Stringer("criteria", c))
	unscoped := c
	unscoped.Scope = AllScope
	// The selector already failed once; only the text search is worth repeating.
	unscoped.Selector = ""
	m, err = r.Resolve(ctx, doc, unscoped)
	if IsNotFound(err) {
		return nil, &NotFoundError{Selector: c.Selector, TextMatch: c.TextMatch}
	}
	return m, err
}

func (r *Resolver) bySelector(ctx context.Context, doc dom.Document, selector string, vp dom.Viewport) (*Match, error) {
	els, err := doc.QueryAll(ctx, selector)
	if err != nil {
		if errors.Is(err, dom.ErrInvalidSelector) {
			r.logger.Warn("Invalid selector, treating as absent", zap.String("selector", selector), zap.Error(err))
			return nil, nil
		}
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	snap, err := doc.Inspect(ctx, els[0])
	if err != nil {
		return nil, fmt.Errorf("inspect %q: %w", selector, err)
	}
	if !snap.Visible() {
		r.logger.Debug("Selector matched a hidden or detached element", zap.String("selector", selector))
		return nil, nil
	}
	return &Match{
		Element:    els[0],
		Snapshot:   snap,
		Score:      ExactScore,
		Visible:    true,
		InViewport: vp.Contains(snap.Rect),
	}, nil
}

func (r *Resolver) byText(ctx context.Context, doc dom.Document, term, scope string, vp dom.Viewport) (*Match, error) {
	if scope == "" {
		scope = AllScope
	}
	els, err := doc.QueryAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("query scope %q: %w", scope, err)
	}

	var matches []Match
	for _, el := range els {
		snap, err := doc.Inspect(ctx, el)
		if err != nil {
			if errors.Is(err, dom.ErrDetached) {
				continue
			}
			return nil, fmt.Errorf("inspect candidate: %w", err)
		}
		score := Score(term, snap.Texts()...)
		if score <= 0 || !snap.Visible() {
			continue
		}
		matches = append(matches, Match{
			Element:    el,
			Snapshot:   snap,
			Score:      score,
			Visible:    true,
			InViewport: vp.Contains(snap.Rect),
		})
	}
	if len(matches) == 0 {
		return nil, nil
	}

	Rank(matches)
	best := matches[0]
	r.logger.Debug("Resolved element by text",
		zap.String("text", term),
		zap.String("tag", best.Snapshot.Tag),
		zap.Float64("score", best.Score),
		zap.Bool("in_viewport", best.InViewport),
		zap.Int("candidates", len(matches)))
	return &best, nil
}

// Score rates how well term matches the best of texts. Zero means no match.
func Score(term string, texts ...string) float64 {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return 0
	}
	termLen := float64(utf8.RuneCountInString(term))
	best := 0.0
	for _, t := range texts {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if t == term {
			return ExactScore
		}
		if strings.Contains(t, term) {
			s := termLen / float64(utf8.RuneCountInString(t)) * PartialWeight
			if s > best {
				best = s
			}
		}
	}
	return best
}

// Rank orders matches in place: in-viewport first, then by descending score.
// Ties keep document order.
func Rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].InViewport != matches[j].InViewport {
			return matches[i].InViewport
		}
		return matches[i].Score > matches[j].Score
	})
}
