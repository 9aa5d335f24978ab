package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/use-agent/scram/browser"
)

// fakeLauncher renders every URL as a small HTML page naming the URL and the
// renderer process that served it.
type fakeLauncher struct {
	launches atomic.Int32
	closes   atomic.Int32
}

func (l *fakeLauncher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Driver, error) {
	n := l.launches.Add(1)
	return &fakeDriver{l: l, id: fmt.Sprintf("proc-%d", n), stealth: opts.Stealth}, nil
}

type fakeDriver struct {
	l       *fakeLauncher
	id      string
	stealth bool
	closed  atomic.Bool
}

func (d *fakeDriver) NewPage(ctx context.Context) (browser.PageDriver, error) {
	return &fakePage{d: d}, nil
}

func (d *fakeDriver) Drain(ctx context.Context, fn func(browser.Event)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDriver) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.l.closes.Add(1)
	}
	return nil
}

type fakePage struct {
	d   *fakeDriver
	url string
}

func (p *fakePage) ID() string { return p.d.id + "/page" }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.url = url
	return nil
}

func (p *fakePage) WaitLoad(ctx context.Context) error { return nil }

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return fmt.Sprintf("<html><head><title>%s</title></head><body>%s stealth=%v</body></html>",
		p.d.id, p.url, p.d.stealth), nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG\r\n\x1a\n" + p.d.id), nil
}

func (p *fakePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	return nil
}

func (p *fakePage) Close() error { return nil }
