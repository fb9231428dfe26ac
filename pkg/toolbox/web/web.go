// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package web provides the browser directives: navigate and scrape, read the
// current page, fill and click elements, and submit forms.
package web

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/toolbox"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxTextChars caps the page text handed back to the model.
const DefaultMaxTextChars = 4000

// Browser is the single page the agent drives.
type Browser interface {
	Navigate(ctx context.Context, rawURL string) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Submit(ctx context.Context, selector string) error
	Close() error
}

// Web implements the browser directives. One operation runs at a time; other
// callers queue and give up when their context ends.
type Web struct {
	browser  Browser
	sem      *semaphore.Weighted
	maxChars int
	logger   *slog.Logger
}

// Option configures Web.
type Option func(*Web)

// WithMaxTextChars caps extracted page text.
func WithMaxTextChars(n int) Option {
	return func(w *Web) {
		if n > 0 {
			w.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Web) { w.logger = l }
}

// New wraps b.
func New(b Browser, opts ...Option) *Web {
	w := &Web{
		browser:  b,
		sem:      semaphore.NewWeighted(1),
		maxChars: DefaultMaxTextChars,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Close releases the browser.
func (w *Web) Close() error {
	return w.browser.Close()
}

// Register adds the browser directives to r.
func (w *Web) Register(r *toolbox.Registry) error {
	specs := []struct {
		spec    toolbox.Spec
		handler toolbox.Handler
	}{
		{toolbox.Spec{Name: "navigate_and_scrape", MinArgs: 1, MaxArgs: 1,
			Usage:       `navigate_and_scrape("url")`,
			Description: "open a web page and read its text"}, w.navigate},
		{toolbox.Spec{Name: "read_page", MinArgs: 0, MaxArgs: 0,
			Usage:       `read_page()`,
			Description: "read the text of the page that is open"}, w.readPage},
		{toolbox.Spec{Name: "fill_form", MinArgs: 2, MaxArgs: 2,
			Usage:       `fill_form("css selector", "value")`,
			Description: "type a value into a form field"}, w.fill},
		{toolbox.Spec{Name: "click_element", MinArgs: 1, MaxArgs: 1,
			Usage:       `click_element("css selector")`,
			Description: "click a link or button"}, w.click},
		{toolbox.Spec{Name: "submit_form", MinArgs: 1, MaxArgs: 1, Irreversible: true,
			Usage:       `submit_form("css selector")`,
			Description: "submit a form"}, w.submit},
	}
	for _, s := range specs {
		if err := r.Register(s.spec, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// exclusive runs fn while holding the browser.
func (w *Web) exclusive(ctx context.Context, fn func(ctx context.Context) toolbox.Result) toolbox.Result {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return toolbox.Failed("the browser is busy and the request was cancelled")
	}
	defer w.sem.Release(1)
	return fn(ctx)
}

// NormalizeURL adds https:// to bare hosts and rejects non-web schemes.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New(errors.CodeInvalidInput, "url is empty", nil)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New(errors.CodeInvalidInput, "url is not valid", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New(errors.CodeInvalidInput, "only http and https pages can be opened", nil).
			WithContext("scheme", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New(errors.CodeInvalidInput, "url has no host", nil)
	}
	return u.String(), nil
}

func (w *Web) navigate(ctx context.Context, args []string) toolbox.Result {
	target, err := NormalizeURL(args[0])
	if err != nil {
		return toolbox.FromError(err)
	}
	return w.exclusive(ctx, func(ctx context.Context) toolbox.Result {
		if err := w.browser.Navigate(ctx, target); err != nil {
			w.logger.Warn("web.navigate.error", "url", target, "error", err)
			return toolbox.Failed("could not open %s: %v", target, err)
		}
		return w.pageText(ctx, target)
	})
}

func (w *Web) readPage(ctx context.Context, _ []string) toolbox.Result {
	return w.exclusive(ctx, func(ctx context.Context) toolbox.Result {
		current, err := w.browser.URL(ctx)
		if err != nil || current == "" || current == "about:blank" {
			return toolbox.Failed("no page is open; use navigate_and_scrape first")
		}
		return w.pageText(ctx, current)
	})
}

func (w *Web) pageText(ctx context.Context, current string) toolbox.Result {
	doc, err := w.browser.HTML(ctx)
	if err != nil {
		return toolbox.Failed("could not read %s: %v", current, err)
	}
	text := ExtractText(strings.NewReader(doc), w.maxChars)
	if text == "" {
		return toolbox.OK("%s has no readable text", current)
	}
	return toolbox.OK("Content of %s:\n%s", current, text)
}

func (w *Web) fill(ctx context.Context, args []string) toolbox.Result {
	return w.exclusive(ctx, func(ctx context.Context) toolbox.Result {
		if err := w.browser.Fill(ctx, args[0], args[1]); err != nil {
			return toolbox.Failed("could not fill %s: %v", args[0], err)
		}
		return toolbox.OK("Filled %s", args[0])
	})
}

func (w *Web) click(ctx context.Context, args []string) toolbox.Result {
	return w.exclusive(ctx, func(ctx context.Context) toolbox.Result {
		if err := w.browser.Click(ctx, args[0]); err != nil {
			return toolbox.Failed("could not click %s: %v", args[0], err)
		}
		return toolbox.OK("Clicked %s", args[0])
	})
}

func (w *Web) submit(ctx context.Context, args []string) toolbox.Result {
	return w.exclusive(ctx, func(ctx context.Context) toolbox.Result {
		if err := w.browser.Submit(ctx, args[0]); err != nil {
			return toolbox.Failed("could not submit %s: %v", args[0], err)
		}
		current, _ := w.browser.URL(ctx)
		return toolbox.OK("Submitted %s; now at %s", args[0], current)
	})
}
