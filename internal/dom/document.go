// Package dom defines the narrow document capability the resolver and executors
// are written against. A live browser tab (internal/browser) and the in-memory
// fake (internal/dom/domtest) both implement it.
package dom

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrInvalidSelector is returned by queries given a selector the document cannot parse.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrUnavailable means the page behind the document is gone (closed tab, dropped connection).
	ErrUnavailable = errors.New("document unavailable")
	// ErrDetached is returned when an operation targets an element no longer in the document.
	ErrDetached = errors.New("element detached from document")
)

// MaxContentBytes bounds the HTML returned by Host.Content.
const MaxContentBytes = 200000

// Element is an opaque handle produced by a Document. It is only meaningful to
// the Document that returned it and must not be kept across commands.
type Element any

// Point is a position in viewport coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a bounding box in viewport coordinates (CSS pixels).
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the midpoint of the box.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Style holds the computed style properties that decide visibility.
type Style struct {
	Display    string `json:"display"`
	Visibility string `json:"visibility"`
	Opacity    string `json:"opacity"`
}

// Hidden reports whether the style alone hides the element.
func (s Style) Hidden() bool {
	if s.Display == "none" || s.Visibility == "hidden" {
		return true
	}
	if s.Opacity == "" {
		return false
	}
	o, err := strconv.ParseFloat(strings.TrimSpace(s.Opacity), 64)
	return err == nil && o == 0
}

// Viewport describes the visible scrollable area of the page.
type Viewport struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	ScrollHeight float64 `json:"scrollHeight"`
}

// Contains reports whether r lies fully inside the viewport.
func (v Viewport) Contains(r Rect) bool {
	return r.X >= 0 && r.Y >= 0 && r.Right() <= v.Width && r.Bottom() <= v.Height
}

// Snapshot is everything the resolver and executors need to know about one
// element at one instant. It is never cached: the page may change between calls.
type Snapshot struct {
	Tag             string `json:"tag"`
	InnerText       string `json:"innerText"`
	TextContent     string `json:"textContent"`
	Value           string `json:"value"`
	AriaLabel       string `json:"ariaLabel"`
	Placeholder     string `json:"placeholder"`
	ContentEditable bool   `json:"contentEditable"`
	Connected       bool   `json:"connected"`
	Rect            Rect   `json:"rect"`
	Style           Style  `json:"style"`
}

// Texts returns the textual sources matched against a search term, in priority order.
func (s Snapshot) Texts() []string {
	return []string{s.InnerText, s.TextContent, s.Value, s.AriaLabel, s.Placeholder}
}

// Visible reports whether the element is attached, has area and is not hidden.
func (s Snapshot) Visible() bool {
	return s.Connected && s.Rect.Width > 0 && s.Rect.Height > 0 && !s.Style.Hidden()
}

// Editable reports whether text can be typed into the element.
func (s Snapshot) Editable() bool {
	return s.Tag == "input" || s.Tag == "textarea" || s.ContentEditable
}

// EventKind names a DOM event dispatched by executors.
type EventKind string

const (
	EventInput   EventKind = "input"
	EventChange  EventKind = "change"
	EventSubmit  EventKind = "submit"
	EventKeyDown EventKind = "keydown"
	EventKeyUp   EventKind = "keyup"
)

// Event is a synthetic DOM event. Key is set for keyboard events only.
type Event struct {
	Kind EventKind
	Key  string
}

// Document is the capability to inspect and mutate one page's DOM.
type Document interface {
	// QueryAll returns the elements matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// QueryWithin is QueryAll scoped to the descendants of root.
	QueryWithin(ctx context.Context, root Element, selector string) ([]Element, error)
	Inspect(ctx context.Context, el Element) (Snapshot, error)
	Viewport(ctx context.Context) (Viewport, error)

	// ScrollIntoView smoothly centres el in the viewport.
	ScrollIntoView(ctx context.Context, el Element) error
	Focus(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	// SetValue sets the value of a form control, or the inner content of a
	// content-editable element.
	SetValue(ctx context.Context, el Element, text string) error
	Dispatch(ctx context.Context, el Element, ev Event) error

	// Form returns the form owning el, if any.
	Form(ctx context.Context, el Element) (Element, bool, error)
	// Submit submits form natively (requestSubmit when available).
	Submit(ctx context.Context, form Element) error

	ScrollBy(ctx context.Context, dx, dy float64) error
	// ScrollTo scrolls vertically to top, keeping the horizontal offset.
	ScrollTo(ctx context.Context, top float64) error
}

// ElementSummary describes one interactive element for the interpretation prompt.
type ElementSummary struct {
	Selector    string `json:"selector"`
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
}

// PageContext is what the interpretation collaborator is told about the page.
type PageContext struct {
	URL      string           `json:"url"`
	Title    string           `json:"title"`
	Elements []ElementSummary `json:"elements,omitempty"`
}

// PageContent is the legacy page capture payload.
type PageContent struct {
	HTML  string `json:"html"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Host is the environment around the document: location, history and capture.
type Host interface {
	PageContext(ctx context.Context) (PageContext, error)
	// Content returns the page HTML truncated to limit bytes.
	Content(ctx context.Context, limit int) (PageContent, error)
	Navigate(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
}

// Page is a document together with its host.
type Page interface {
	Document
	Host
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
