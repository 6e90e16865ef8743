package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Config configures a render session.
type Config struct {
	// ViewportWidth/Height fix the capture dimensions. Defaults:
	// 1280×2000.
	ViewportWidth  int
	ViewportHeight int

	// NavigateTimeout bounds navigation plus initial load. Default: 30s.
	NavigateTimeout time.Duration

	// NetworkIdle is the quiet period after the last request before the
	// page counts as network-idle. Default: 300ms.
	NetworkIdle time.Duration

	Wait WaitConfig

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 2000
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.NetworkIdle <= 0 {
		c.NetworkIdle = 300 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is one in-browser render of the harness page. Create with
// Open, wait with WaitStable, then capture. Close releases the tab.
type Session struct {
	page   *rod.Page
	waiter *Waiter
	cfg    Config
}

// Open creates a tab, fixes the viewport, navigates to the harness URL,
// and waits for load plus network idle. The session starts in
// StateLoading; call WaitStable before capturing.
func Open(ctx context.Context, mgr *Manager, url string, cfg Config) (*Session, error) {
	cfg.defaults()

	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("render: no active browser")
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("render: create tab: %w", err)
	}

	// Fixed viewport so capture dimensions are deterministic.
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("render: set viewport: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.NavigateTimeout)
	defer cancel()

	p := page.Context(navCtx)
	waitIdle := p.WaitRequestIdle(cfg.NetworkIdle, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		page.Close()
		return nil, fmt.Errorf("render: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		cfg.Logger.Warn("render: wait load timeout", "url", url, "error", err)
	}
	waitIdle()

	s := &Session{page: page, cfg: cfg}
	s.waiter = NewWaiter(&rodProbe{page: page}, cfg.Wait, cfg.Logger)
	return s, nil
}

// State returns the session's protocol state.
func (s *Session) State() State { return s.waiter.State() }

// PageCount returns the harness-reported page count, valid after
// WaitStable.
func (s *Session) PageCount() int { return s.waiter.PageCount() }

// WaitStable runs the stabilization protocol against the live page.
func (s *Session) WaitStable(ctx context.Context) error {
	return s.waiter.WaitStable(ctx)
}

// CaptureFull captures the whole page as PNG.
func (s *Session) CaptureFull() ([]byte, error) {
	if err := s.requireStable("full page"); err != nil {
		return nil, err
	}
	png, err := s.page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("render: capture full page: %w", err)
	}
	s.waiter.markCaptured()
	return png, nil
}

// CapturePage captures the canvas of page n (1-based) as PNG.
func (s *Session) CapturePage(n int) ([]byte, error) {
	if err := s.requireStable(fmt.Sprintf("page %d", n)); err != nil {
		return nil, err
	}
	sel := fmt.Sprintf("#page-canvas-%d", n)
	el, err := s.page.Element(sel)
	if err != nil {
		return nil, fmt.Errorf("render: find %s: %w", sel, err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("render: capture %s: %w", sel, err)
	}
	s.waiter.markCaptured()
	return png, nil
}

// CaptureContent captures the #viewer container as PNG.
func (s *Session) CaptureContent() ([]byte, error) {
	if err := s.requireStable("content region"); err != nil {
		return nil, err
	}
	el, err := s.page.Element("#viewer")
	if err != nil {
		return nil, fmt.Errorf("render: find #viewer: %w", err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("render: capture content region: %w", err)
	}
	s.waiter.markCaptured()
	return png, nil
}

func (s *Session) requireStable(what string) error {
	st := s.waiter.State()
	if st != StateStable && st != StateCaptured {
		return fmt.Errorf("render: capture %s in state %s (want stable)", what, st)
	}
	return nil
}

// Close closes the tab.
func (s *Session) Close() error {
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}

// rodProbe reads harness markers through page JS evaluation.
type rodProbe struct {
	page *rod.Page
}

func (p *rodProbe) BodyAttr(ctx context.Context, name string) (string, error) {
	res, err := p.page.Context(ctx).Eval(
		`name => document.body.getAttribute(name) || ''`, name)
	if err != nil {
		return "", fmt.Errorf("render: read %s: %w", name, err)
	}
	return res.Value.Str(), nil
}

func (p *rodProbe) CanvasDims(ctx context.Context) ([]Dim, error) {
	res, err := p.page.Context(ctx).Eval(
		`() => Array.from(document.querySelectorAll('#viewer canvas'))
			.map(c => ({w: c.width, h: c.height}))`)
	if err != nil {
		return nil, fmt.Errorf("render: read canvas dims: %w", err)
	}
	var dims []Dim
	for _, v := range res.Value.Arr() {
		dims = append(dims, Dim{
			Width:  v.Get("w").Int(),
			Height: v.Get("h").Int(),
		})
	}
	return dims, nil
}

// ForceLayout reads box metrics to flush any pending layout work.
func (p *rodProbe) ForceLayout(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => {
		document.documentElement.offsetHeight;
		document.body.getBoundingClientRect();
		return true;
	}`)
	if err != nil {
		return fmt.Errorf("render: force layout: %w", err)
	}
	return nil
}
