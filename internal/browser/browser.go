// Package browser drives a live Chromium tab through go-rod and exposes it as a
// dom.Page.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Options configures the launched browser.
type Options struct {
	Width    int
	Height   int
	Headless bool
	// Bin is the Chrome/Chromium executable. Empty looks one up on the system.
	Bin string
	// ProfileDir is a Chrome profile directory for authenticated sessions.
	ProfileDir string
	// LoadTimeout bounds waiting for a navigation to finish loading.
	LoadTimeout time.Duration
	// IncludeElements adds the interactive-element summary to page context.
	IncludeElements bool
}

// DefaultLoadTimeout is used when Options.LoadTimeout is zero.
const DefaultLoadTimeout = 30 * time.Second

// Browser owns a launched Chromium process and its single tab.
type Browser struct {
	browser *rod.Browser
	page    *Page
}

// Launch starts Chromium, opens one tab and loads startURL into it when it is
// not empty.
func Launch(ctx context.Context, startURL string, opts Options, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Width == 0 {
		opts.Width = 1280
	}
	if opts.Height == 0 {
		opts.Height = 720
	}
	if opts.LoadTimeout == 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}

	bin := opts.Bin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	l := launcher.New().Context(ctx).Bin(bin).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	rp, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if err := rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		b.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	p := NewPage(rp, opts, logger)
	if startURL != "" {
		if err := p.Navigate(ctx, startURL); err != nil {
			b.Close()
			return nil, err
		}
	}
	logger.Named("browser").Info("Browser ready",
		zap.Bool("headless", opts.Headless),
		zap.Int("width", opts.Width),
		zap.Int("height", opts.Height),
		zap.String("url", startURL))
	return &Browser{browser: b, page: p}, nil
}

// Page returns the tab.
func (b *Browser) Page() *Page { return b.page }

// Close closes the tab and the browser process.
func (b *Browser) Close() error {
	if b.page != nil {
		_ = b.page.page.Close()
	}
	if b.browser != nil {
		return b.browser.Close()
	}
	return nil
}
