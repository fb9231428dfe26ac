// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodConfig configures the Chromium session.
type RodConfig struct {
	Bin               string
	Headless          bool
	ElementTimeout    time.Duration
	NavigationTimeout time.Duration
}

func (c RodConfig) elementTimeout() time.Duration {
	if c.ElementTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ElementTimeout
}

func (c RodConfig) navigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// RodBrowser drives one Chromium page through the DevTools protocol. Chromium
// is launched on first use.
type RodBrowser struct {
	cfg    RodConfig
	launch launchFunc

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
	kill    func()
}

// launchFunc starts Chromium and returns its DevTools URL and a function
// that kills the process. kill is always safe to call.
type launchFunc func(cfg RodConfig) (controlURL string, kill func(), err error)

func launchChromium(cfg RodConfig) (string, func(), error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	u, err := l.Launch()
	return u, l.Kill, err
}

// NewRodBrowser creates a lazily started browser.
func NewRodBrowser(cfg RodConfig) *RodBrowser {
	return &RodBrowser{cfg: cfg, launch: launchChromium}
}

func (b *RodBrowser) ensure(ctx context.Context) (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page != nil {
		if _, err := b.browser.Version(); err == nil {
			return b.page, nil
		}
		_ = b.release()
	}

	controlURL, kill, err := b.launch(b.cfg)
	if err != nil {
		kill()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		kill()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		kill()
		return nil, fmt.Errorf("open page: %w", err)
	}
	b.browser, b.page, b.kill = browser, page, kill
	return page, nil
}

// Navigate opens rawURL and waits for the load event.
func (b *RodBrowser) Navigate(ctx context.Context, rawURL string) error {
	page, err := b.ensure(ctx)
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(b.cfg.navigationTimeout())
	if err := p.Navigate(rawURL); err != nil {
		return err
	}
	return p.WaitLoad()
}

// HTML returns the current document.
func (b *RodBrowser) HTML(ctx context.Context) (string, error) {
	page, err := b.ensure(ctx)
	if err != nil {
		return "", err
	}
	return page.Context(ctx).Timeout(b.cfg.elementTimeout()).HTML()
}

// URL returns the address of the current page.
func (b *RodBrowser) URL(ctx context.Context) (string, error) {
	page, err := b.ensure(ctx)
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (b *RodBrowser) element(ctx context.Context, selector string) (*rod.Element, error) {
	page, err := b.ensure(ctx)
	if err != nil {
		return nil, err
	}
	el, err := page.Context(ctx).Timeout(b.cfg.elementTimeout()).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %q not found within %s", selector, b.cfg.elementTimeout())
	}
	return el, nil
}

// Fill replaces the value of the field matched by selector.
func (b *RodBrowser) Fill(ctx context.Context, selector, value string) error {
	el, err := b.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

// Click clicks the element matched by selector.
func (b *RodBrowser) Click(ctx context.Context, selector string) error {
	el, err := b.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Submit submits the form matched by selector, or clicks it when it is a
// button, then waits for the next page to load.
func (b *RodBrowser) Submit(ctx context.Context, selector string) error {
	el, err := b.element(ctx, selector)
	if err != nil {
		return err
	}
	_, err = el.Eval(`() => {
		const form = this.tagName === 'FORM' ? this : this.form;
		if (!form) { this.click(); return; }
		if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
	}`)
	if err != nil {
		return err
	}
	b.mu.Lock()
	page := b.page
	b.mu.Unlock()
	_ = page.Context(ctx).Timeout(b.cfg.navigationTimeout()).WaitLoad()
	return nil
}

// Close shuts Chromium down.
func (b *RodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	return b.release()
}

// release closes the session and kills Chromium. Called with b.mu held.
func (b *RodBrowser) release() error {
	err := b.browser.Close()
	if b.kill != nil {
		b.kill()
	}
	b.browser, b.page, b.kill = nil, nil, nil
	return err
}

var _ Browser = (*RodBrowser)(nil)
