// Package service exposes the caller-facing operations: direct fetch,
// rendered fetch, auto fetch and inference. Every call is independent; a
// rendered fetch always runs in its own renderer session.
package service

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/scram/browser"
	"github.com/use-agent/scram/cache"
	"github.com/use-agent/scram/config"
	"github.com/use-agent/scram/engine"
	"github.com/use-agent/scram/humanize"
	"github.com/use-agent/scram/inference"
	"github.com/use-agent/scram/models"
)

// Service wires the fetch engines, the rate limiter, the result cache and
// the model registry. It is safe for concurrent use.
type Service struct {
	cfg *config.Config

	direct     *engine.HTTPEngine
	fetcher    *browser.Fetcher
	rendered   engine.Engine
	dispatcher *engine.Dispatcher
	memory     *engine.DomainMemory

	registry *inference.Registry
	limiter  *Limiter
	cache    *cache.Cache

	startTime time.Time
}

type options struct {
	launcher browser.Launcher
	timer    *humanize.Timer
}

// Option customises a Service.
type Option func(*options)

// WithLauncher replaces the go-rod launcher used for rendered fetches.
func WithLauncher(l browser.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithTimer replaces the humanization timer.
func WithTimer(t *humanize.Timer) Option {
	return func(o *options) { o.timer = t }
}

// New builds a Service from cfg.
func New(cfg *config.Config, opts ...Option) *Service {
	o := options{launcher: browser.RodLauncher{}}
	for _, opt := range opts {
		opt(&o)
	}

	fetcher := browser.NewFetcher(browser.FetcherConfig{
		Launch: browser.LaunchOptions{
			Headless:  cfg.Browser.Headless,
			NoSandbox: cfg.Browser.NoSandbox,
			Bin:       cfg.Browser.BrowserBin,
			Proxy:     cfg.Browser.Proxy,
			Stealth:   cfg.Browser.Stealth,
		},
		Warmup:            humanize.Range{Min: cfg.Humanize.WarmupMin, Max: cfg.Humanize.WarmupMax},
		Settle:            humanize.Range{Min: cfg.Humanize.SettleMin, Max: cfg.Humanize.SettleMax},
		NavigationTimeout: cfg.Fetch.NavigationTimeout,
		ObserveStatus:     cfg.Fetch.ObserveStatus,
	}, o.launcher, o.timer, browser.WithTransitionHook(recordRenderTransition))

	direct := engine.NewHTTPEngine(engine.HTTPConfig{
		Timeout:      cfg.Fetch.HTTPTimeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Proxy:        cfg.Browser.Proxy,
	})
	rendered := engine.NewRenderEngine(fetcher, false).WithTimeout(cfg.Fetch.RenderTimeout)

	s := &Service{
		cfg:      cfg,
		direct:   direct,
		fetcher:  fetcher,
		rendered: rendered,
		registry: inference.NewRegistry(
			inference.IntraOpThreads(cfg.Inference.IntraOpThreads),
			inference.MaxModelBytes(cfg.Inference.MaxModelBytes),
		),
		limiter:   NewLimiter(cfg.RateLimit.GlobalFetchRPS, cfg.RateLimit.DomainFetchRPS),
		startTime: time.Now(),
	}

	if cfg.Engine.EnableEscalation {
		s.memory = engine.NewDomainMemory(cfg.Engine.DomainMemoryTTL)
		tiers := []engine.Engine{rendered, engine.NewRenderEngine(fetcher, true).WithTimeout(cfg.Fetch.RenderTimeout)}
		s.dispatcher = engine.NewDispatcher(direct, tiers, s.memory)
		slog.Info("escalation enabled", "tiers", len(tiers), "domain_memory_ttl", cfg.Engine.DomainMemoryTTL)
	}

	if cfg.Cache.MaxEntries > 0 {
		s.cache = cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		slog.Info("result cache enabled", "max_entries", cfg.Cache.MaxEntries, "ttl", cfg.Cache.TTL)
	}

	return s
}

// FetchDirect performs a single GET without rendering. Non-2xx statuses are
// returned as results. Invalid headers fail before any network activity.
func (s *Service) FetchDirect(ctx context.Context, rawURL string, headers map[string]string) (*engine.FetchResult, error) {
	start := time.Now()
	res, err := s.fetchDirect(ctx, rawURL, headers)
	recordFetch("direct", start, err)
	s.logFetch("direct", rawURL, start, res, err)
	return res, err
}

func (s *Service) fetchDirect(ctx context.Context, rawURL string, headers map[string]string) (*engine.FetchResult, error) {
	if err := engine.ValidateHeaders(headers); err != nil {
		return nil, err
	}
	domain, err := targetDomain(rawURL)
	if err != nil {
		return nil, err
	}

	key := cache.Key("direct", rawURL, headers)
	if hit, ok := s.cacheGet(key); ok {
		return hit, nil
	}

	if err := s.limiter.Wait(ctx, domain); err != nil {
		return nil, err
	}
	res, err := s.direct.Fetch(ctx, &engine.FetchRequest{
		URL:     rawURL,
		Headers: s.withUserAgent(headers),
		Mode:    engine.ModeDirect,
	})
	if err != nil {
		return nil, err
	}
	s.cacheSet(key, res)
	return res, nil
}

// FetchRendered loads rawURL in a fresh renderer session and returns the
// rendered HTML and a PNG screenshot. The status is 200 unless status
// observation is enabled.
func (s *Service) FetchRendered(ctx context.Context, rawURL string, headless bool) (*engine.FetchResult, error) {
	start := time.Now()
	res, err := s.fetchRendered(ctx, rawURL, headless)
	recordFetch("rendered", start, err)
	s.logFetch("rendered", rawURL, start, res, err)
	return res, err
}

func (s *Service) fetchRendered(ctx context.Context, rawURL string, headless bool) (*engine.FetchResult, error) {
	domain, err := targetDomain(rawURL)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx, domain); err != nil {
		return nil, err
	}
	return s.rendered.Fetch(ctx, &engine.FetchRequest{
		URL:      rawURL,
		Mode:     engine.ModeRendered,
		Headless: &headless,
	})
}

// Fetch fetches rawURL in auto mode: direct first, escalating to a rendered
// fetch when the response looks blocked. With escalation disabled it is a
// plain direct fetch.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*engine.FetchResult, error) {
	start := time.Now()
	res, err := s.fetchAuto(ctx, rawURL)
	recordFetch("auto", start, err)
	s.logFetch("auto", rawURL, start, res, err)
	return res, err
}

func (s *Service) fetchAuto(ctx context.Context, rawURL string) (*engine.FetchResult, error) {
	if s.dispatcher == nil {
		return s.fetchDirect(ctx, rawURL, nil)
	}
	domain, err := targetDomain(rawURL)
	if err != nil {
		return nil, err
	}

	key := cache.Key("auto", rawURL, nil)
	if hit, ok := s.cacheGet(key); ok {
		return hit, nil
	}

	if err := s.limiter.Wait(ctx, domain); err != nil {
		return nil, err
	}
	res, err := s.dispatcher.Dispatch(ctx, &engine.FetchRequest{
		URL:     rawURL,
		Headers: s.withUserAgent(nil),
	})
	if err != nil {
		return nil, err
	}
	if res.EngineName != s.direct.Name() {
		metricEscalations.Inc()
	}
	s.cacheSet(key, res)
	return res, nil
}

// RunInference scores features with the model named by modelPath, or the
// configured default model when modelPath is empty. Named models must live
// in the configured model directory. Models are loaded once per path and
// shared.
func (s *Service) RunInference(ctx context.Context, modelPath string, features []float32) ([]float32, error) {
	scores, err := s.runInference(ctx, modelPath, features)
	recordInference(err)
	if err != nil {
		slog.Warn("inference failed", "model", modelPath, "error", err)
	}
	return scores, err
}

func (s *Service) runInference(ctx context.Context, modelPath string, features []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.FromContext(err, "inference")
	}
	path := s.cfg.Inference.ModelPath
	if modelPath != "" {
		resolved, err := inference.ResolvePath(s.cfg.Inference.ModelDir, modelPath)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	eng, err := s.registry.Get(path)
	if err != nil {
		return nil, err
	}
	return eng.Extract(features)
}

// Stats reports live counters for health checks.
func (s *Service) Stats() models.ServiceStats {
	stats := models.ServiceStats{
		ActiveRenders:     s.fetcher.Active(),
		RememberedDomains: s.memory.Len(),
		LoadedModels:      s.registry.Len(),
		Escalation:        s.dispatcher != nil,
	}
	if s.cache != nil {
		stats.CachedResults = s.cache.Len()
	}
	return stats
}

// Uptime returns the time since New.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Close stops background goroutines. In-flight fetches are not interrupted.
func (s *Service) Close() {
	s.limiter.Close()
	s.memory.Stop()
	if s.cache != nil {
		s.cache.Close()
	}
}

func (s *Service) cacheGet(key string) (*engine.FetchResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) cacheSet(key string, res *engine.FetchResult) {
	if s.cache != nil {
		s.cache.Set(key, res)
	}
}

// withUserAgent returns headers plus a rotated User-Agent when the caller did
// not set one. The caller's map is not modified.
func (s *Service) withUserAgent(headers map[string]string) map[string]string {
	for k := range headers {
		if strings.EqualFold(k, "User-Agent") {
			return headers
		}
	}
	agents := s.cfg.Fetch.UserAgents
	if len(agents) == 0 {
		return headers
	}
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out["User-Agent"] = agents[rand.IntN(len(agents))]
	return out
}

func (s *Service) logFetch(mode, rawURL string, start time.Time, res *engine.FetchResult, err error) {
	safe := engine.SanitizeURL(rawURL)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		slog.Warn("fetch failed", "mode", mode, "url", safe, "code", models.CodeOf(err), "elapsed_ms", elapsed, "error", err)
		return
	}
	slog.Info("fetch complete", "mode", mode, "url", safe, "engine", res.EngineName,
		"status", res.Status, "bytes", len(res.Body), "elapsed_ms", elapsed)
}

// targetDomain validates rawURL and returns its host for rate limiting.
func targetDomain(rawURL string) (string, error) {
	if rawURL == "" {
		return "", models.NewFetchError(models.ErrCodeInvalidInput, "url is required", nil)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", models.NewFetchError(models.ErrCodeInvalidInput, "url must be an absolute http(s) URL", err)
	}
	return u.Hostname(), nil
}
