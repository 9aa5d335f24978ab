package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/use-agent/scram/humanize"
	"github.com/use-agent/scram/models"
)

// renderedStatus is reported for every successful rendered fetch unless
// status observation is enabled and the drain task saw a document response.
const renderedStatus = 200

// State is a step of the rendered fetch flow.
type State int

const (
	StateIdle State = iota
	StateSessionCreated
	StatePageOpened
	StateWarmedUp
	StateNavigated
	StateSettled
	StateCaptureComplete
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateSessionCreated:  "session_created",
	StatePageOpened:      "page_opened",
	StateWarmedUp:        "warmed_up",
	StateNavigated:       "navigated",
	StateSettled:         "settled",
	StateCaptureComplete: "capture_complete",
	StateClosed:          "closed",
	StateFailed:          "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Launch LaunchOptions

	// Warmup is applied after the page opens and before navigation.
	Warmup humanize.Range

	// Settle is applied after load completes and before capture.
	Settle humanize.Range

	NavigationTimeout time.Duration

	// ObserveStatus reports the main document status seen by the drain
	// task instead of the fixed 200.
	ObserveStatus bool
}

// RenderRequest is a single rendered fetch.
type RenderRequest struct {
	URL string

	// Headless overrides FetcherConfig.Launch.Headless when set.
	Headless *bool

	// Stealth forces stealth injection for this fetch.
	Stealth bool

	// Headers are sent with every request the page makes.
	Headers map[string]string
}

// RenderResult is the output of a successful rendered fetch.
type RenderResult struct {
	Body       string
	Status     uint16
	Screenshot []byte
	SessionID  string
}

// Fetcher runs rendered fetches. Every fetch launches its own session, so
// concurrent fetches share no renderer state.
type Fetcher struct {
	cfg          FetcherConfig
	launcher     Launcher
	timer        *humanize.Timer
	active       atomic.Int32
	onTransition func(sessionID string, s State)
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(sessionID string, s State)) FetcherOption {
	return func(f *Fetcher) { f.onTransition = fn }
}

// NewFetcher creates a Fetcher. A nil timer uses humanize.NewDefault.
func NewFetcher(cfg FetcherConfig, launcher Launcher, timer *humanize.Timer, opts ...FetcherOption) *Fetcher {
	if timer == nil {
		timer = humanize.NewDefault()
	}
	f := &Fetcher{cfg: cfg, launcher: launcher, timer: timer}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Active returns the number of rendered fetches in flight.
func (f *Fetcher) Active() int {
	return int(f.active.Load())
}

// fetchRun tracks one pass through the state machine.
type fetchRun struct {
	f       *Fetcher
	url     string
	session *Session
	page    *Page
	state   State
}

func (r *fetchRun) to(s State) {
	id := ""
	if r.session != nil {
		id = r.session.ID()
	}
	slog.Debug("rendered fetch transition", "session", id, "from", r.state, "to", s, "url", r.url)
	r.state = s
	if r.f.onTransition != nil {
		r.f.onTransition(id, s)
	}
}

// fail closes the page and the session, then returns err with any cleanup
// failures attached as secondary context.
func (r *fetchRun) fail(err error) error {
	failedAt := r.state
	r.to(StateFailed)

	var cleanup []error
	if r.page != nil {
		if cerr := r.page.Close(); cerr != nil {
			cleanup = append(cleanup, cerr)
		}
	}
	if r.session != nil {
		if cerr := r.session.Close(); cerr != nil {
			cleanup = append(cleanup, cerr)
		}
	}
	for _, cerr := range cleanup {
		slog.Warn("rendered fetch cleanup failed", "url", r.url, "error", cerr)
	}

	var fe *models.FetchError
	if !errors.As(err, &fe) {
		fe = models.NewFetchError(models.ErrCodeRender, "rendered fetch failed", err)
	}
	fe.WithCleanup(cleanup...)

	slog.Info("rendered fetch failed", "url", r.url, "state", failedAt, "code", fe.Code)
	return fe
}

// Fetch runs the rendered flow:
//
//	Idle → SessionCreated → PageOpened → WarmedUp → Navigated → Settled → CaptureComplete → Closed
//
// Any step may move to Failed. The page and session are always closed
// before Fetch returns.
func (f *Fetcher) Fetch(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}

	f.active.Add(1)
	defer f.active.Add(-1)

	r := &fetchRun{f: f, url: req.URL, state: StateIdle}

	launch := f.cfg.Launch
	if req.Headless != nil {
		launch.Headless = *req.Headless
	}
	if req.Stealth {
		launch.Stealth = true
	}
	launch.ObserveNetwork = f.cfg.ObserveStatus

	// ── 1. Session ────────────────────────────────────────────────────
	session, err := NewSession(ctx, f.launcher, SessionOptions{
		Launch:            launch,
		NavigationTimeout: f.cfg.NavigationTimeout,
	})
	if err != nil {
		return nil, r.fail(err)
	}
	r.session = session
	r.to(StateSessionCreated)

	// ── 2. Blank page ─────────────────────────────────────────────────
	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, r.fail(err)
	}
	r.page = page
	if len(req.Headers) > 0 {
		if err := page.SetExtraHeaders(ctx, req.Headers); err != nil {
			return nil, r.fail(err)
		}
	}
	r.to(StatePageOpened)

	// ── 3. Warm-up ────────────────────────────────────────────────────
	if _, err := f.timer.Delay(ctx, f.cfg.Warmup); err != nil {
		return nil, r.fail(categorizeError(err, models.ErrCodeRender, "warm-up delay interrupted"))
	}
	r.to(StateWarmedUp)

	// ── 4. Navigate ───────────────────────────────────────────────────
	if err := page.Navigate(ctx, req.URL); err != nil {
		return nil, r.fail(err)
	}
	r.to(StateNavigated)

	// ── 5. Load + settle ──────────────────────────────────────────────
	if err := page.WaitLoad(ctx); err != nil {
		return nil, r.fail(err)
	}
	if _, err := f.timer.Delay(ctx, f.cfg.Settle); err != nil {
		return nil, r.fail(categorizeError(err, models.ErrCodeRender, "settle delay interrupted"))
	}
	r.to(StateSettled)

	// ── 6. Capture ────────────────────────────────────────────────────
	content, err := page.Content(ctx)
	if err != nil {
		return nil, r.fail(err)
	}
	png, err := page.Screenshot(ctx)
	if err != nil {
		return nil, r.fail(err)
	}
	r.to(StateCaptureComplete)

	status := uint16(renderedStatus)
	if f.cfg.ObserveStatus {
		if observed := page.Status(); observed > 0 {
			status = uint16(observed)
		}
	}

	// ── 7. Teardown ───────────────────────────────────────────────────
	// The content is already captured; close failures are only logged.
	if err := page.Close(); err != nil {
		slog.Warn("rendered fetch: page close failed", "url", req.URL, "error", err)
	}
	if err := session.Close(); err != nil {
		slog.Warn("rendered fetch: session close failed", "url", req.URL, "error", err)
	}
	r.to(StateClosed)

	return &RenderResult{
		Body:       content,
		Status:     status,
		Screenshot: png,
		SessionID:  session.ID(),
	}, nil
}

// validateURL rejects empty or non-absolute URLs before any process is launched.
func validateURL(raw string) error {
	if raw == "" {
		return models.NewFetchError(models.ErrCodeInvalidInput, "url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return models.NewFetchError(models.ErrCodeInvalidInput, "malformed url", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return models.NewFetchError(models.ErrCodeInvalidInput,
			fmt.Sprintf("url %q must be absolute", raw), nil)
	}
	return nil
}
