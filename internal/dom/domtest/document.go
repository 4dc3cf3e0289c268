// Package domtest provides an in-memory dom.Page built from HTML markup, for
// testing code written against the dom capability without a browser.
//
// Geometry is declared in markup: data-rect="x,y,width,height" gives an element
// its viewport box. Elements without data-rect have zero area and are therefore
// never visible. Inline style (display, visibility, opacity) and the hidden
// attribute are honoured; styles are not inherited.
package domtest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/v0xg/pagepilot/internal/dom"
)

// Call is one recorded mutation or event.
type Call struct {
	Op     string
	Target string
	Detail string
}

func (c Call) String() string {
	s := c.Op
	if c.Target != "" {
		s += " " + c.Target
	}
	if c.Detail != "" {
		s += " " + c.Detail
	}
	return s
}

// Document is a fake page. It is safe for concurrent use.
type Document struct {
	mu       sync.Mutex
	root     *html.Node
	viewport dom.Viewport
	values   map[*html.Node]string
	calls    []Call
	history  []string
	pos      int
	scrollX  float64
	scrollY  float64

	// Fault, when set, is returned by every method.
	Fault error
	// ClickHook runs after a click is recorded; tests use it to mutate the page.
	ClickHook func(d *Document, target *html.Node)
}

// Option configures a Document.
type Option func(*Document)

// WithViewport sets the viewport size and the document scroll height.
func WithViewport(width, height, scrollHeight float64) Option {
	return func(d *Document) {
		d.viewport = dom.Viewport{Width: width, Height: height, ScrollHeight: scrollHeight}
	}
}

// WithURL sets the initial location.
func WithURL(url string) Option {
	return func(d *Document) { d.history = []string{url} }
}

// New parses markup into a Document with a 1280x720 viewport.
func New(markup string, opts ...Option) (*Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	d := &Document{
		root:     root,
		viewport: dom.Viewport{Width: 1280, Height: 720, ScrollHeight: 720},
		values:   make(map[*html.Node]string),
		history:  []string{"about:blank"},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// MustNew is New that panics on error.
func MustNew(markup string, opts ...Option) *Document {
	d, err := New(markup, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Find returns the first element matching selector, or nil.
func (d *Document) Find(selector string) *html.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	return sel.MatchFirst(d.root)
}

// Remove detaches the first element matching selector.
func (d *Document) Remove(selector string) {
	n := d.Find(selector)
	if n == nil || n.Parent == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n.Parent.RemoveChild(n)
}

// Calls returns the recorded calls in order.
func (d *Document) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Ops returns the recorded calls rendered as strings.
func (d *Document) Ops() []string {
	calls := d.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Value returns the current value of the first element matching selector.
func (d *Document) Value(selector string) string {
	n := d.Find(selector)
	if n == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valueOf(n)
}

// ScrollPosition returns the current scroll offsets.
func (d *Document) ScrollPosition() (x, y float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollX, d.scrollY
}

// URL returns the current location.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history[d.pos]
}

func (d *Document) record(op string, n *html.Node, detail string) {
	d.calls = append(d.calls, Call{Op: op, Target: describe(n), Detail: detail})
}

func (d *Document) node(el dom.Element) (*html.Node, error) {
	n, ok := el.(*html.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("domtest: foreign element %T", el)
	}
	if !d.attached(n) {
		return nil, dom.ErrDetached
	}
	return n, nil
}

func (d *Document) attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (d *Document) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return nil, d.Fault
	}
	return query(d.root, selector)
}

func (d *Document) QueryWithin(ctx context.Context, root dom.Element, selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return nil, d.Fault
	}
	n, err := d.node(root)
	if err != nil {
		return nil, err
	}
	var out []dom.Element
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		found, err := query(c, selector)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func query(root *html.Node, selector string) ([]dom.Element, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", dom.ErrInvalidSelector, selector, err)
	}
	var out []dom.Element
	for _, n := range sel.MatchAll(root) {
		out = append(out, n)
	}
	return out, nil
}

func (d *Document) Inspect(ctx context.Context, el dom.Element) (dom.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return dom.Snapshot{}, d.Fault
	}
	n, ok := el.(*html.Node)
	if !ok || n == nil {
		return dom.Snapshot{}, fmt.Errorf("domtest: foreign element %T", el)
	}
	text := collapse(textContent(n))
	return dom.Snapshot{
		Tag:             n.Data,
		InnerText:       text,
		TextContent:     textContent(n),
		Value:           d.valueOf(n),
		AriaLabel:       attr(n, "aria-label"),
		Placeholder:     attr(n, "placeholder"),
		ContentEditable: attr(n, "contenteditable") == "true",
		Connected:       d.attached(n),
		Rect:            rectOf(n),
		Style:           styleOf(n),
	}, nil
}

func (d *Document) Viewport(ctx context.Context) (dom.Viewport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return dom.Viewport{}, d.Fault
	}
	return d.viewport, nil
}

// ScrollIntoView moves the element's box to the vertical centre of the viewport.
func (d *Document) ScrollIntoView(ctx context.Context, el dom.Element) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	n, err := d.node(el)
	if err != nil {
		return err
	}
	r := rectOf(n)
	r.Y = (d.viewport.Height - r.Height) / 2
	if r.Right() > d.viewport.Width || r.X < 0 {
		r.X = (d.viewport.Width - r.Width) / 2
	}
	setAttr(n, "data-rect", fmt.Sprintf("%g,%g,%g,%g", r.X, r.Y, r.Width, r.Height))
	d.record("scrollIntoView", n, "")
	return nil
}

func (d *Document) Focus(ctx context.Context, el dom.Element) error {
	return d.mutate(el, "focus", "")
}

func (d *Document) Click(ctx context.Context, el dom.Element) error {
	d.mu.Lock()
	if d.Fault != nil {
		d.mu.Unlock()
		return d.Fault
	}
	n, err := d.node(el)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.record("click", n, "")
	hook := d.ClickHook
	d.mu.Unlock()
	if hook != nil {
		hook(d, n)
	}
	return nil
}

func (d *Document) SetValue(ctx context.Context, el dom.Element, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	n, err := d.node(el)
	if err != nil {
		return err
	}
	if attr(n, "contenteditable") == "true" {
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	} else {
		d.values[n] = text
	}
	d.record("setValue", n, strconv.Quote(text))
	return nil
}

func (d *Document) Dispatch(ctx context.Context, el dom.Element, ev dom.Event) error {
	return d.mutate(el, "dispatch", strings.TrimSpace(string(ev.Kind)+" "+ev.Key))
}

func (d *Document) Form(ctx context.Context, el dom.Element) (dom.Element, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return nil, false, d.Fault
	}
	n, err := d.node(el)
	if err != nil {
		return nil, false, err
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "form" {
			return p, true, nil
		}
	}
	return nil, false, nil
}

func (d *Document) Submit(ctx context.Context, form dom.Element) error {
	return d.mutate(form, "submit", "")
}

func (d *Document) ScrollBy(ctx context.Context, dx, dy float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	d.scrollX += dx
	d.scrollY += dy
	d.calls = append(d.calls, Call{Op: "scrollBy", Detail: fmt.Sprintf("%g,%g", dx, dy)})
	return nil
}

func (d *Document) ScrollTo(ctx context.Context, top float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	d.scrollY = top
	d.calls = append(d.calls, Call{Op: "scrollTo", Detail: fmt.Sprintf("%g", top)})
	return nil
}

func (d *Document) mutate(el dom.Element, op, detail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	n, err := d.node(el)
	if err != nil {
		return err
	}
	d.record(op, n, detail)
	return nil
}

// Host

func (d *Document) PageContext(ctx context.Context) (dom.PageContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return dom.PageContext{}, d.Fault
	}
	return dom.PageContext{URL: d.history[d.pos], Title: d.title()}, nil
}

func (d *Document) Content(ctx context.Context, limit int) (dom.PageContent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return dom.PageContent{}, d.Fault
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return dom.PageContent{}, fmt.Errorf("render: %w", err)
	}
	return dom.PageContent{
		HTML:  dom.Truncate(buf.String(), limit),
		URL:   d.history[d.pos],
		Title: d.title(),
	}, nil
}

func (d *Document) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	d.history = append(d.history[:d.pos+1], url)
	d.pos++
	d.calls = append(d.calls, Call{Op: "navigate", Detail: url})
	return nil
}

func (d *Document) Back(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	if d.pos > 0 {
		d.pos--
	}
	d.calls = append(d.calls, Call{Op: "back"})
	return nil
}

func (d *Document) Forward(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fault != nil {
		return d.Fault
	}
	if d.pos < len(d.history)-1 {
		d.pos++
	}
	d.calls = append(d.calls, Call{Op: "forward"})
	return nil
}

func (d *Document) title() string {
	sel := cascadia.MustCompile("title")
	if n := sel.MatchFirst(d.root); n != nil {
		return strings.TrimSpace(textContent(n))
	}
	return ""
}

func (d *Document) valueOf(n *html.Node) string {
	if v, ok := d.values[n]; ok {
		return v
	}
	switch n.Data {
	case "input", "button", "option":
		return attr(n, "value")
	case "textarea":
		return textContent(n)
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func rectOf(n *html.Node) dom.Rect {
	parts := strings.Split(attr(n, "data-rect"), ",")
	if len(parts) != 4 {
		return dom.Rect{}
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return dom.Rect{}
		}
		v[i] = f
	}
	return dom.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
}

func styleOf(n *html.Node) dom.Style {
	s := dom.Style{Display: "block", Visibility: "visible", Opacity: "1"}
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(k) {
		case "display":
			s.Display = v
		case "visibility":
			s.Visibility = v
		case "opacity":
			s.Opacity = v
		}
	}
	if hasAttr(n, "hidden") {
		s.Display = "none"
	}
	return s
}

func describe(n *html.Node) string {
	if n == nil {
		return ""
	}
	if id := attr(n, "id"); id != "" {
		return n.Data + "#" + id
	}
	if name := attr(n, "name"); name != "" {
		return n.Data + "[name=" + name + "]"
	}
	return n.Data
}
