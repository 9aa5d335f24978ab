package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/scram/browser"
)

// Renderer performs a rendered fetch. *browser.Fetcher implements it.
type Renderer interface {
	Fetch(ctx context.Context, req browser.RenderRequest) (*browser.RenderResult, error)
}

// RenderEngine adapts a Renderer to the Engine interface. The forceStealth
// flag distinguishes the plain tier from the stealth tier.
type RenderEngine struct {
	renderer     Renderer
	forceStealth bool
	name         string
	timeout      time.Duration
}

// NewRenderEngine creates a RenderEngine.
//   - renderer: the rendered fetch orchestrator.
//   - forceStealth: when true, every request is rendered with stealth scripts.
func NewRenderEngine(renderer Renderer, forceStealth bool) *RenderEngine {
	name := "render"
	if forceStealth {
		name = "render-stealth"
	}
	return &RenderEngine{
		renderer:     renderer,
		forceStealth: forceStealth,
		name:         name,
	}
}

// WithTimeout sets the default bound for a whole rendered fetch. A request
// Timeout takes precedence.
func (e *RenderEngine) WithTimeout(d time.Duration) *RenderEngine {
	e.timeout = d
	return e
}

func (e *RenderEngine) Name() string { return e.name }

func (e *RenderEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.renderer == nil {
		return nil, fmt.Errorf("%s: renderer not configured", e.name)
	}

	timeout := e.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := e.renderer.Fetch(ctx, browser.RenderRequest{
		URL:      req.URL,
		Headless: req.Headless,
		Stealth:  req.Stealth || e.forceStealth,
		Headers:  req.Headers,
	})
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Body:       res.Body,
		Status:     res.Status,
		Screenshot: res.Screenshot,
		Title:      extractTitle(res.Body),
		FinalURL:   req.URL,
		EngineName: e.name,
	}, nil
}
