package engine

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/scram/browser"
	"github.com/use-agent/scram/models"
)

type recordingRenderer struct {
	got         browser.RenderRequest
	hasDeadline bool
	err         error
}

func (r *recordingRenderer) Fetch(ctx context.Context, req browser.RenderRequest) (*browser.RenderResult, error) {
	r.got = req
	_, r.hasDeadline = ctx.Deadline()
	if r.err != nil {
		return nil, r.err
	}
	return &browser.RenderResult{
		Body:       "<html><head><title>Rendered</title></head></html>",
		Status:     200,
		Screenshot: []byte("\x89PNG"),
		SessionID:  "s-1",
	}, nil
}

func TestRenderEngine_MapsResult(t *testing.T) {
	r := &recordingRenderer{}
	eng := NewRenderEngine(r, false)

	headless := false
	res, err := eng.Fetch(context.Background(), &FetchRequest{
		URL:      "https://example.com/",
		Headless: &headless,
		Headers:  map[string]string{"Accept-Language": "en"},
		Timeout:  time.Minute,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Status != 200 || res.Title != "Rendered" || string(res.Screenshot) != "\x89PNG" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.ContentLength != nil || res.Headers != nil {
		t.Error("rendered result carries direct-only fields")
	}
	if res.EngineName != "render" {
		t.Errorf("engine = %q", res.EngineName)
	}
	if r.got.Headless == nil || *r.got.Headless {
		t.Error("headless override not forwarded")
	}
	if r.got.Stealth {
		t.Error("plain tier requested stealth")
	}
	if !r.hasDeadline {
		t.Error("request timeout not applied")
	}
}

func TestRenderEngine_StealthTier(t *testing.T) {
	r := &recordingRenderer{}
	eng := NewRenderEngine(r, true)
	if eng.Name() != "render-stealth" {
		t.Errorf("name = %q", eng.Name())
	}
	if _, err := eng.Fetch(context.Background(), &FetchRequest{URL: "https://example.com/"}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !r.got.Stealth {
		t.Error("stealth tier did not force stealth")
	}
}

func TestRenderEngine_PropagatesError(t *testing.T) {
	r := &recordingRenderer{err: models.NewFetchError(models.ErrCodeNavigation, "boom", nil)}
	_, err := NewRenderEngine(r, false).Fetch(context.Background(), &FetchRequest{URL: "https://example.com/"})
	if !models.IsCode(err, models.ErrCodeNavigation) {
		t.Errorf("err = %v, want %s", err, models.ErrCodeNavigation)
	}
}
