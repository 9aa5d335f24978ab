package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var errInjected = errors.New("injected failure")

// fakeLauncher hands out fakeDrivers and counts open/close pairs.
type fakeLauncher struct {
	// fail* inject an error at the named step.
	failLaunch      bool
	failNewPage     bool
	failNavigate    bool
	failWaitLoad    bool
	failHTML        bool
	failScreenshot  bool
	failPageClose   bool
	failDriverClose bool

	// blockWaitLoad makes WaitLoad block until its context is done.
	blockWaitLoad bool

	// documentStatus, when non-zero, is emitted on the event stream after
	// every navigation.
	documentStatus int

	launches     atomic.Int32
	closes       atomic.Int32
	pagesOpened  atomic.Int32
	pagesClosed  atomic.Int32
	drainsActive atomic.Int32

	mu      sync.Mutex
	drivers []*fakeDriver
	last    LaunchOptions
}

func (l *fakeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	if l.failLaunch {
		return nil, errInjected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := l.launches.Add(1)
	d := &fakeDriver{
		l:      l,
		id:     fmt.Sprintf("proc-%d", n),
		events: make(chan ackedEvent),
	}
	l.mu.Lock()
	l.drivers = append(l.drivers, d)
	l.last = opts
	l.mu.Unlock()
	return d, nil
}

func (l *fakeLauncher) lastOptions() LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// ackedEvent lets the sender wait until the drain task has handled it.
type ackedEvent struct {
	ev   Event
	done chan struct{}
}

type fakeDriver struct {
	l      *fakeLauncher
	id     string
	events chan ackedEvent
	pages  atomic.Int32
	closed atomic.Bool
}

func (d *fakeDriver) NewPage(ctx context.Context) (PageDriver, error) {
	if d.l.failNewPage {
		return nil, errInjected
	}
	if d.closed.Load() {
		return nil, errors.New("process exited")
	}
	n := d.pages.Add(1)
	d.l.pagesOpened.Add(1)
	return &fakePage{d: d, id: fmt.Sprintf("%s/page-%d", d.id, n)}, nil
}

func (d *fakeDriver) Drain(ctx context.Context, fn func(Event)) error {
	d.l.drainsActive.Add(1)
	defer d.l.drainsActive.Add(-1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ae := <-d.events:
			fn(ae.ev)
			close(ae.done)
		}
	}
}

func (d *fakeDriver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.l.closes.Add(1)
	if d.l.failDriverClose {
		return errInjected
	}
	return nil
}

type fakePage struct {
	d       *fakeDriver
	id      string
	url     string
	headers map[string]string
	closed  atomic.Bool
}

func (p *fakePage) ID() string { return p.id }

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.d.l.failNavigate {
		return errInjected
	}
	p.url = url
	if s := p.d.l.documentStatus; s != 0 {
		ae := ackedEvent{
			ev:   Event{Method: "Network.responseReceived", PageID: p.id, Document: true, Status: s, URL: url},
			done: make(chan struct{}),
		}
		select {
		case p.d.events <- ae:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-ae.done
	}
	return nil
}

func (p *fakePage) WaitLoad(ctx context.Context) error {
	if p.d.l.blockWaitLoad {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.d.l.failWaitLoad {
		return errInjected
	}
	return nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	if p.d.l.failHTML {
		return "", errInjected
	}
	return fmt.Sprintf("<html><body>%s via %s</body></html>", p.url, p.d.id), nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if p.d.l.failScreenshot {
		return nil, errInjected
	}
	if p.closed.Load() || p.d.closed.Load() {
		return nil, errors.New("target closed")
	}
	return []byte("\x89PNG\r\n\x1a\n" + p.d.id), nil
}

func (p *fakePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	p.headers = headers
	return nil
}

func (p *fakePage) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.d.l.pagesClosed.Add(1)
	if p.d.l.failPageClose {
		return errInjected
	}
	return nil
}
