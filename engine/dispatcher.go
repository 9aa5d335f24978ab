package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
)

// escalationStatuses are direct-fetch statuses that usually mean the site
// wants a real browser.
var escalationStatuses = map[uint16]bool{
	403: true,
	429: true,
	503: true,
}

var errNoTiers = errors.New("dispatcher: no rendered tiers configured")

// challengeMarkers are lower-case body fragments of bot-challenge pages.
var challengeMarkers = []string{"challenge", "cloudflare"}

// ShouldEscalate reports whether a direct result looks blocked.
func ShouldEscalate(res *FetchResult) bool {
	if res == nil {
		return false
	}
	if escalationStatuses[res.Status] {
		return true
	}
	body := strings.ToLower(res.Body)
	for _, m := range challengeMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// Dispatcher runs the tiered auto mode: a direct fetch first, then the
// rendered tiers in order when the direct result looks blocked.
type Dispatcher struct {
	direct Engine
	tiers  []Engine
	memory *DomainMemory
}

// NewDispatcher creates a Dispatcher. tiers are tried in order after direct;
// memory may be nil.
func NewDispatcher(direct Engine, tiers []Engine, memory *DomainMemory) *Dispatcher {
	return &Dispatcher{
		direct: direct,
		tiers:  tiers,
		memory: memory,
	}
}

// Dispatch fetches req.URL in auto mode. Direct transport errors are returned
// as-is; only a completed but blocked response escalates. When every rendered
// tier fails, the direct result is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	domain := extractDomain(req.URL)

	// Each tier runs at most once per Dispatch.
	tried := make(map[string]bool, len(d.tiers))

	// Domains that needed a browser before go straight to the remembered tier.
	if remembered := d.memory.Get(domain); remembered != "" {
		for i, eng := range d.tiers {
			if eng.Name() != remembered {
				continue
			}
			slog.Debug("domain memory hit", "domain", domain, "engine", remembered)
			tried[eng.Name()] = true
			result, err := eng.Fetch(ctx, req)
			if err == nil {
				return result, nil
			}
			slog.Info("remembered engine failed, running full dispatch",
				"domain", domain, "engine", remembered, "error", err)
			d.memory.Delete(domain)
			rest := d.tiers[i+1:]
			for _, t := range rest {
				tried[t.Name()] = true
			}
			if res, err := d.escalate(ctx, req, domain, rest); err == nil {
				return res, nil
			}
			break
		}
	}

	direct, err := d.direct.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if !ShouldEscalate(direct) {
		return direct, nil
	}

	untried := make([]Engine, 0, len(d.tiers))
	for _, eng := range d.tiers {
		if !tried[eng.Name()] {
			untried = append(untried, eng)
		}
	}
	if len(untried) == 0 {
		return direct, nil
	}

	slog.Warn("escalating to rendered fetch", "url", SanitizeURL(req.URL), "status", direct.Status)
	if res, err := d.escalate(ctx, req, domain, untried); err == nil {
		return res, nil
	}
	return direct, nil
}

// escalate tries tiers in order and remembers the first that succeeds.
func (d *Dispatcher) escalate(ctx context.Context, req *FetchRequest, domain string, tiers []Engine) (*FetchResult, error) {
	lastErr := errNoTiers
	for _, eng := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := eng.Fetch(ctx, req)
		if err != nil {
			slog.Warn("rendered tier failed", "engine", eng.Name(), "url", SanitizeURL(req.URL), "error", err)
			lastErr = err
			continue
		}
		slog.Info("rendered tier succeeded", "engine", eng.Name(), "url", SanitizeURL(req.URL))
		d.memory.Set(domain, eng.Name())
		return result, nil
	}
	return nil, lastErr
}

// SanitizeURL strips the query and fragment from rawURL for logging.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "INVALID_URL"
	}
	return u.Scheme + "://" + u.Host + u.Path
}

// extractDomain parses the hostname from a URL string.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
