package browser

import (
	"context"

	"github.com/v0xg/pagepilot/internal/dom"
)

// MaxSummaryElements caps the element summary sent with page context.
const MaxSummaryElements = 150

// summaryJS lists visible interactive elements with a selector that locates
// each one, grouped roughly by kind.
const summaryJS = `(limit) => {
	const out = [];
	const seen = new Set();

	const usable = (name) => !!name && !/^-?[0-9]/.test(name) && !/[.:#\[\]()>~+*\/\\]/.test(name);

	const selectorFor = (el) => {
		if (el.id && usable(el.id)) return '#' + el.id;
		const tag = el.tagName.toLowerCase();
		if (el.name) return tag + '[name="' + el.name + '"]';
		if (typeof el.className === 'string') {
			const classes = el.className.trim().split(/\s+/).filter(usable).slice(0, 2);
			if (classes.length > 0) {
				const sel = tag + '.' + classes.join('.');
				try {
					if (document.querySelectorAll(sel).length === 1) return sel;
				} catch (e) {}
			}
		}
		const parent = el.parentElement;
		if (!parent) return tag;
		const nth = Array.prototype.indexOf.call(parent.children, el) + 1;
		return selectorFor(parent) + ' > ' + tag + ':nth-child(' + nth + ')';
	};

	const text = (s) => (s || '').trim().replace(/\s+/g, ' ').slice(0, 50);

	const groups = [
		['button, [role="button"], input[type="submit"], input[type="button"]', (el) => 'button'],
		['input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea, [contenteditable="true"]',
			(el) => el.tagName === 'TEXTAREA' ? 'textarea' : (el.isContentEditable && el.tagName !== 'INPUT' ? 'editable' : (el.type || 'text'))],
		['select', (el) => 'select'],
		['a[href]', (el) => 'link'],
	];

	for (const [query, kind] of groups) {
		for (const el of document.querySelectorAll(query)) {
			if (out.length >= limit) return out;
			if (!el.offsetParent && getComputedStyle(el).position !== 'fixed') continue;
			if (el.tagName === 'A') {
				const href = el.getAttribute('href') || '';
				if (href.startsWith('#') || href.startsWith('javascript:')) continue;
			}
			const selector = selectorFor(el);
			if (seen.has(selector)) continue;
			seen.add(selector);
			out.push({
				selector: selector,
				type: kind(el),
				text: text(el.innerText || el.value || el.getAttribute('aria-label')),
				placeholder: el.getAttribute('placeholder') || '',
				name: el.getAttribute('name') || '',
				id: el.id || '',
			});
		}
	}
	return out;
}`

// summarize extracts the interactive-element summary for the current page.
func (p *Page) summarize(ctx context.Context) ([]dom.ElementSummary, error) {
	res, err := p.page.Context(ctx).Eval(summaryJS, MaxSummaryElements)
	if err != nil {
		return nil, classify(ctx, err)
	}
	var els []dom.ElementSummary
	if err := unmarshal(res, &els); err != nil {
		return nil, err
	}
	return els, nil
}
