package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/scram/models"
)

// drainStopTimeout bounds how long Close waits for the drain task to return.
const drainStopTimeout = 5 * time.Second

// SessionOptions configures a Session.
type SessionOptions struct {
	Launch LaunchOptions

	// NavigationTimeout bounds Navigate and WaitLoad individually.
	// Zero means no bound beyond the caller's context.
	NavigationTimeout time.Duration
}

// Session owns one renderer process and the goroutine draining its events.
// A session serves at most one page at a time.
type Session struct {
	id      string
	driver  Driver
	opts    SessionOptions
	cancel  context.CancelFunc
	drained chan struct{}

	mu      sync.Mutex
	closed  bool
	opening bool
	page    *Page

	closeOnce sync.Once
	closeErr  error
}

// NewSession launches a renderer and starts draining its event stream.
// Launch failures are reported as ErrCodeBrowserLaunch.
func NewSession(ctx context.Context, launcher Launcher, opts SessionOptions) (*Session, error) {
	driver, err := launcher.Launch(ctx, opts.Launch)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserLaunch, "failed to launch browser", err)
	}

	// The drain context outlives ctx; only Close cancels it.
	drainCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      uuid.NewString(),
		driver:  driver,
		opts:    opts,
		cancel:  cancel,
		drained: make(chan struct{}),
	}

	go s.drain(drainCtx)

	slog.Debug("browser session created", "session", s.id, "headless", opts.Launch.Headless)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

func (s *Session) drain(ctx context.Context) {
	defer close(s.drained)
	err := s.driver.Drain(ctx, s.handleEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("browser event stream ended", "session", s.id, "error", err)
	}
}

// handleEvent records the first document status seen after a navigation.
func (s *Session) handleEvent(ev Event) {
	if !ev.Document || ev.Status <= 0 {
		return
	}
	s.mu.Lock()
	p := s.page
	s.mu.Unlock()
	if p == nil || p.driver.ID() != ev.PageID {
		return
	}
	if p.awaitingStatus.CompareAndSwap(true, false) {
		p.status.Store(int32(ev.Status))
	}
}

// NewPage opens a blank page on the session.
func (s *Session) NewPage(ctx context.Context) (*Page, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errSessionClosed(s.id)
	}
	if s.page != nil || s.opening {
		s.mu.Unlock()
		return nil, models.NewFetchError(models.ErrCodeRender,
			fmt.Sprintf("session %s already has an open page", s.id), nil)
	}
	s.opening = true
	s.mu.Unlock()

	// The lock is not held while the renderer works so the drain task never
	// waits on a page operation.
	pd, err := s.driver.NewPage(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeRender, "failed to open page", err)
	}
	p := &Page{session: s, driver: pd}
	if s.closed {
		// Close raced with the open; release the orphan right away.
		p.closed.Store(true)
		_ = pd.Close()
		return nil, errSessionClosed(s.id)
	}
	s.page = p
	return p, nil
}

// Close closes any open page, stops the drain task and releases the
// renderer process. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		page := s.page
		s.mu.Unlock()

		var errs []error
		if page != nil {
			if err := page.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		s.cancel()
		select {
		case <-s.drained:
		case <-time.After(drainStopTimeout):
			slog.Warn("browser drain task did not stop in time", "session", s.id)
			errs = append(errs, fmt.Errorf("session %s: drain task still running after %v", s.id, drainStopTimeout))
		}

		if err := s.driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: close renderer: %w", s.id, err))
		}

		slog.Debug("browser session closed", "session", s.id)
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) releasePage(p *Page) {
	s.mu.Lock()
	if s.page == p {
		s.page = nil
	}
	s.mu.Unlock()
}

// Page is a single page opened on a Session. It is not safe for concurrent use.
type Page struct {
	session *Session
	driver  PageDriver

	status         atomic.Int32
	awaitingStatus atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

func (p *Page) check() error {
	if p.session.isClosed() {
		return errSessionClosed(p.session.id)
	}
	if p.closed.Load() {
		return models.NewFetchError(models.ErrCodeRender, "page already closed", nil)
	}
	return nil
}

func (p *Page) withNavTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := p.session.opts.NavigationTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// SetExtraHeaders sends headers with every request the page makes.
func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	if err := p.check(); err != nil {
		return err
	}
	if err := p.driver.SetExtraHeaders(ctx, headers); err != nil {
		return models.NewFetchError(models.ErrCodeRender, "failed to set extra headers", err)
	}
	return nil
}

// Navigate issues a navigation to url.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.check(); err != nil {
		return err
	}
	p.status.Store(0)
	p.awaitingStatus.Store(true)

	navCtx, cancel := p.withNavTimeout(ctx)
	defer cancel()
	if err := p.driver.Navigate(navCtx, url); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "navigation to target URL failed")
	}
	return nil
}

// WaitLoad blocks until the renderer reports the page loaded.
func (p *Page) WaitLoad(ctx context.Context) error {
	if err := p.check(); err != nil {
		return err
	}
	navCtx, cancel := p.withNavTimeout(ctx)
	defer cancel()
	if err := p.driver.WaitLoad(navCtx); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "waiting for page load failed")
	}
	return nil
}

// Content returns the rendered HTML of the page.
func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.check(); err != nil {
		return "", err
	}
	html, err := p.driver.HTML(ctx)
	if err != nil {
		return "", categorizeError(err, models.ErrCodeRender, "failed to read page content")
	}
	return html, nil
}

// Screenshot captures the page as PNG. Call it once the page is loaded.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	png, err := p.driver.Screenshot(ctx)
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeRender, "failed to capture screenshot")
	}
	return png, nil
}

// Status returns the main document status observed since the last
// navigation, or 0 if none was seen.
func (p *Page) Status() int {
	return int(p.status.Load())
}

// Close closes the page and frees the session for another page.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if err := p.driver.Close(); err != nil {
			p.closeErr = fmt.Errorf("close page: %w", err)
		}
		p.session.releasePage(p)
	})
	return p.closeErr
}

func errSessionClosed(id string) *models.FetchError {
	return models.NewFetchError(models.ErrCodeSessionClosed,
		fmt.Sprintf("session %s is closed", id), nil)
}

// categorizeError wraps raw errors into typed FetchErrors. Deadlines become
// ErrCodeTimeout and cancellations ErrCodeCanceled regardless of the step.
func categorizeError(err error, code, msg string) *models.FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.FromContext(err, msg)
	}
	return models.NewFetchError(code, msg, err)
}
