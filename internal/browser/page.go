package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/pagepilot/internal/dom"
)

// settleAfterHistory bounds the wait for a history navigation to go quiet.
// Back/forward may be served from the page cache without a load event.
const settleAfterHistory = 3 * time.Second

// Page is a rod tab implementing dom.Page. Element handles are *rod.Element.
type Page struct {
	page   *rod.Page
	opts   Options
	logger *zap.Logger
}

var _ dom.Page = (*Page)(nil)

// NewPage wraps an already open rod page.
func NewPage(p *rod.Page, opts Options, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LoadTimeout == 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	return &Page{page: p, opts: opts, logger: logger.Named("browser")}
}

// Rod returns the underlying rod page.
func (p *Page) Rod() *rod.Page { return p.page }

func (p *Page) QueryAll(ctx context.Context, selector string) ([]dom.Element, error) {
	if err := p.checkSelector(ctx, selector); err != nil {
		return nil, err
	}
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return handles(els), nil
}

func (p *Page) QueryWithin(ctx context.Context, root dom.Element, selector string) ([]dom.Element, error) {
	r, err := element(root)
	if err != nil {
		return nil, err
	}
	if err := p.checkSelector(ctx, selector); err != nil {
		return nil, err
	}
	els, err := r.Context(ctx).Elements(selector)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return handles(els), nil
}

// checkSelector rejects selectors the page's selector engine cannot parse, so
// they surface as dom.ErrInvalidSelector instead of an evaluation error.
func (p *Page) checkSelector(ctx context.Context, selector string) error {
	res, err := p.page.Context(ctx).Eval(`(s) => {
		try { document.createDocumentFragment().querySelector(s); return true; } catch (e) { return false; }
	}`, selector)
	if err != nil {
		return classify(ctx, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %q", dom.ErrInvalidSelector, selector)
	}
	return nil
}

const inspectJS = `() => {
	if (!this.isConnected) return { connected: false };
	const r = this.getBoundingClientRect();
	const s = window.getComputedStyle(this);
	return {
		tag: this.tagName.toLowerCase(),
		innerText: this.innerText || '',
		textContent: this.textContent || '',
		value: typeof this.value === 'string' ? this.value : '',
		ariaLabel: this.getAttribute('aria-label') || '',
		placeholder: this.getAttribute('placeholder') || '',
		contentEditable: this.isContentEditable === true,
		connected: true,
		rect: { x: r.x, y: r.y, width: r.width, height: r.height },
		style: { display: s.display, visibility: s.visibility, opacity: s.opacity },
	};
}`

func (p *Page) Inspect(ctx context.Context, el dom.Element) (dom.Snapshot, error) {
	e, err := element(el)
	if err != nil {
		return dom.Snapshot{}, err
	}
	var snap dom.Snapshot
	if err := decode(ctx, e, inspectJS, &snap); err != nil {
		if errors.Is(err, dom.ErrDetached) {
			return dom.Snapshot{Connected: false}, nil
		}
		return dom.Snapshot{}, err
	}
	return snap, nil
}

func (p *Page) Viewport(ctx context.Context) (dom.Viewport, error) {
	res, err := p.page.Context(ctx).Eval(`() => ({
		width: window.innerWidth,
		height: window.innerHeight,
		scrollHeight: Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight),
	})`)
	if err != nil {
		return dom.Viewport{}, classify(ctx, err)
	}
	var vp dom.Viewport
	if err := unmarshal(res, &vp); err != nil {
		return dom.Viewport{}, err
	}
	return vp, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el dom.Element) error {
	return mutate(ctx, el, `() => this.scrollIntoView({ behavior: 'smooth', block: 'center' })`)
}

func (p *Page) Focus(ctx context.Context, el dom.Element) error {
	return mutate(ctx, el, `() => this.focus()`)
}

// Click dispatches a DOM click on the element rather than a synthetic mouse
// press, so overlays and pointer-events rules do not redirect it.
func (p *Page) Click(ctx context.Context, el dom.Element) error {
	return mutate(ctx, el, `() => this.click()`)
}

func (p *Page) SetValue(ctx context.Context, el dom.Element, text string) error {
	return mutate(ctx, el, `(v) => {
		if (this.isContentEditable) { this.textContent = v; } else { this.value = v; }
	}`, text)
}

func (p *Page) Dispatch(ctx context.Context, el dom.Element, ev dom.Event) error {
	return mutate(ctx, el, `(kind, key) => {
		let ev;
		if (key) {
			ev = new KeyboardEvent(kind, { key: key, code: key, keyCode: 13, which: 13, bubbles: true, cancelable: true });
		} else {
			ev = new Event(kind, { bubbles: true, cancelable: true });
		}
		this.dispatchEvent(ev);
	}`, string(ev.Kind), ev.Key)
}

func (p *Page) Form(ctx context.Context, el dom.Element) (dom.Element, bool, error) {
	e, err := element(el)
	if err != nil {
		return nil, false, err
	}
	form, err := e.Context(ctx).ElementByJS(rod.Eval(`() => this.form || this.closest('form')`))
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, false, nil
		}
		return nil, false, classify(ctx, err)
	}
	return form, true, nil
}

func (p *Page) Submit(ctx context.Context, form dom.Element) error {
	return mutate(ctx, form, `() => {
		if (typeof this.requestSubmit === 'function') { this.requestSubmit(); } else { this.submit(); }
	}`)
}

func (p *Page) ScrollBy(ctx context.Context, dx, dy float64) error {
	_, err := p.page.Context(ctx).Eval(`(x, y) => window.scrollBy({ left: x, top: y, behavior: 'smooth' })`, dx, dy)
	return classify(ctx, err)
}

func (p *Page) ScrollTo(ctx context.Context, top float64) error {
	_, err := p.page.Context(ctx).Eval(`(y) => window.scrollTo({ top: y, behavior: 'smooth' })`, top)
	return classify(ctx, err)
}

func (p *Page) PageContext(ctx context.Context) (dom.PageContext, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return dom.PageContext{}, classify(ctx, err)
	}
	pc := dom.PageContext{URL: info.URL, Title: info.Title}
	if p.opts.IncludeElements {
		els, err := p.summarize(ctx)
		if err != nil {
			p.logger.Warn("Could not summarise page elements", zap.Error(err))
		}
		pc.Elements = els
	}
	return pc, nil
}

func (p *Page) Content(ctx context.Context, limit int) (dom.PageContent, error) {
	pg := p.page.Context(ctx)
	info, err := pg.Info()
	if err != nil {
		return dom.PageContent{}, classify(ctx, err)
	}
	html, err := pg.HTML()
	if err != nil {
		return dom.PageContent{}, classify(ctx, err)
	}
	return dom.PageContent{HTML: dom.Truncate(html, limit), URL: info.URL, Title: info.Title}, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, classify(ctx, err))
	}
	if err := pg.Timeout(p.opts.LoadTimeout).WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The page may still be usable.
		p.logger.Warn("Page did not finish loading", zap.String("url", url), zap.Error(err))
	}
	return nil
}

func (p *Page) Back(ctx context.Context) error {
	if err := p.page.Context(ctx).NavigateBack(); err != nil {
		return fmt.Errorf("navigate back: %w", classify(ctx, err))
	}
	p.settle(ctx)
	return nil
}

func (p *Page) Forward(ctx context.Context) error {
	if err := p.page.Context(ctx).NavigateForward(); err != nil {
		return fmt.Errorf("navigate forward: %w", classify(ctx, err))
	}
	p.settle(ctx)
	return nil
}

func (p *Page) settle(ctx context.Context) {
	if err := p.page.Context(ctx).Timeout(settleAfterHistory).WaitStable(300 * time.Millisecond); err != nil {
		p.logger.Debug("Page not stable after history navigation", zap.Error(err))
	}
}

// Screenshot captures the visible viewport.
func (p *Page) Screenshot(ctx context.Context) (image.Image, error) {
	data, err := p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

func element(el dom.Element) (*rod.Element, error) {
	e, ok := el.(*rod.Element)
	if !ok || e == nil {
		return nil, fmt.Errorf("%w: handle %T does not belong to a browser page", dom.ErrDetached, el)
	}
	return e, nil
}

func handles(els rod.Elements) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out
}

// mutate runs js against el when it is still attached. js must be a function
// expression; its result is ignored.
func mutate(ctx context.Context, el dom.Element, js string, args ...interface{}) error {
	e, err := element(el)
	if err != nil {
		return err
	}
	wrapped := `function(...args) {
		if (!this.isConnected) return false;
		(` + js + `).apply(this, args);
		return true;
	}`
	res, err := e.Context(ctx).Eval(wrapped, args...)
	if err != nil {
		return classify(ctx, err)
	}
	if !res.Value.Bool() {
		return dom.ErrDetached
	}
	return nil
}

// decode runs js against el and unmarshals its result into v.
func decode(ctx context.Context, e *rod.Element, js string, v any) error {
	res, err := e.Context(ctx).Eval(js)
	if err != nil {
		return classify(ctx, err)
	}
	return unmarshal(res, v)
}

func unmarshal(res *proto.RuntimeRemoteObject, v any) error {
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode page result: %w", err)
	}
	return nil
}

// classify maps rod errors onto the dom error set. A handle whose remote
// object or execution context is gone is detached; a lost session means the
// tab itself is gone.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var objGone *rod.ObjectNotFoundError
	switch {
	case errors.As(err, &objGone),
		errors.Is(err, cdp.ErrObjNotFound),
		errors.Is(err, cdp.ErrCtxNotFound),
		errors.Is(err, cdp.ErrCtxDestroyed):
		return fmt.Errorf("%w: %v", dom.ErrDetached, err)
	case errors.Is(err, cdp.ErrSessionNotFound),
		errors.Is(err, cdp.ErrNotAttachedToActivePage):
		return fmt.Errorf("%w: %v", dom.ErrUnavailable, err)
	}
	return err
}
