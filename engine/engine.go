package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Engine is the interface that all fetch strategies implement. Callers pick
// a strategy without changing how they handle the result.
type Engine interface {
	// Name returns the engine identifier (e.g. "http", "render", "render-stealth").
	Name() string

	// Fetch retrieves the content for the given request.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// Mode selects the transport used for a fetch.
type Mode int

const (
	// ModeDirect is a plain HTTP GET without rendering.
	ModeDirect Mode = iota
	// ModeRendered is a full browser navigation with screenshot capture.
	ModeRendered
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeRendered:
		return "rendered"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "direct" or "rendered" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "http":
		return ModeDirect, nil
	case "rendered", "browser":
		return ModeRendered, nil
	default:
		return 0, fmt.Errorf("unknown fetch mode %q", s)
	}
}

// FetchRequest contains everything an engine needs to fetch a page.
// It is not modified by engines.
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Mode    Mode

	// Headless overrides the configured renderer mode (rendered only).
	Headless *bool

	// Stealth enables evasion scripts (rendered only).
	Stealth bool

	// Timeout bounds the fetch; zero uses the engine default.
	Timeout time.Duration
}

// FetchResult is the output of a successful engine fetch.
type FetchResult struct {
	Body   string
	Status uint16

	// ContentLength is the declared length from the response metadata;
	// nil when the server did not declare one (direct only).
	ContentLength *uint64

	// Headers holds the response headers with lower-case names (direct only).
	Headers map[string]string

	// Screenshot is a PNG of the rendered page (rendered only).
	Screenshot []byte

	Title      string
	FinalURL   string
	EngineName string
}
