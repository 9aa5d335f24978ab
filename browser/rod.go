package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// RodLauncher starts Chromium through go-rod's launcher.
type RodLauncher struct{}

// Launch starts a Chromium process and connects a CDP client to it.
func (RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox)

	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	if opts.Proxy != "" {
		l = l.Proxy(opts.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, err
	}
	slog.Debug("browser launched", "controlURL", controlURL)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, err
	}

	return &rodDriver{
		launcher: l,
		browser:  b,
		opts:     opts,
	}, nil
}

type rodDriver struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	opts      LaunchOptions
	closeOnce sync.Once
	closeErr  error
}

func (d *rodDriver) NewPage(ctx context.Context) (PageDriver, error) {
	page, err := d.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, err
	}
	// Detach the page from the creation context; every operation binds its own.
	page = page.Context(context.Background())

	if d.opts.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}
	if d.opts.ObserveNetwork {
		if enableErr := (proto.NetworkEnable{}).Call(page); enableErr != nil {
			slog.Warn("network events unavailable, status will not be observed",
				"error", enableErr,
			)
		}
	}
	return &rodPage{page: page}, nil
}

// Drain reads the browser-wide event stream. The channel returned by
// Browser.Event closes once ctx is done.
func (d *rodDriver) Drain(ctx context.Context, fn func(Event)) error {
	for msg := range d.browser.Context(ctx).Event() {
		var ev proto.NetworkResponseReceived
		if !msg.Load(&ev) {
			continue
		}
		if ev.Response == nil {
			continue
		}
		fn(Event{
			Method:   msg.Method,
			PageID:   string(msg.SessionID),
			Document: ev.Type == proto.NetworkResourceTypeDocument,
			Status:   ev.Response.Status,
			URL:      ev.Response.URL,
		})
	}
	return ctx.Err()
}

func (d *rodDriver) Close() error {
	d.closeOnce.Do(func() {
		closeErr := d.browser.Close()
		// Kill is a no-op when Browser.close already ended the process.
		d.launcher.Kill()
		d.launcher.Cleanup()
		if closeErr != nil && !errors.Is(closeErr, context.Canceled) {
			d.closeErr = closeErr
		}
	})
	return d.closeErr
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) ID() string { return string(p.page.SessionID) }

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

func (p *rodPage) WaitLoad(ctx context.Context) error {
	return p.page.Context(ctx).WaitLoad()
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	return proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(headers),
	}.Call(p.page.Context(ctx))
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
