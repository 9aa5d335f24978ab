package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubEngine struct {
	name   string
	result *FetchResult
	err    error
	calls  atomic.Int32
}

func (e *stubEngine) Name() string { return e.name }

func (e *stubEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	res := *e.result
	res.EngineName = e.name
	return &res, nil
}

func okEngine(name string, status uint16, body string) *stubEngine {
	return &stubEngine{name: name, result: &FetchResult{Status: status, Body: body}}
}

func TestShouldEscalate(t *testing.T) {
	tests := []struct {
		name string
		res  *FetchResult
		want bool
	}{
		{"nil", nil, false},
		{"ok", &FetchResult{Status: 200, Body: "<html>fine</html>"}, false},
		{"not found", &FetchResult{Status: 404, Body: "not found"}, false},
		{"forbidden", &FetchResult{Status: 403}, true},
		{"too many requests", &FetchResult{Status: 429}, true},
		{"unavailable", &FetchResult{Status: 503}, true},
		{"challenge body", &FetchResult{Status: 200, Body: "Please complete the CHALLENGE"}, true},
		{"cloudflare body", &FetchResult{Status: 200, Body: "Checking your browser - Cloudflare"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldEscalate(tt.res); got != tt.want {
				t.Errorf("ShouldEscalate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDispatch_DirectOnly(t *testing.T) {
	direct := okEngine("http", 200, "hello")
	render := okEngine("render", 200, "rendered")
	d := NewDispatcher(direct, []Engine{render}, nil)

	res, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://example.com/"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.EngineName != "http" {
		t.Errorf("engine = %q, want http", res.EngineName)
	}
	if render.calls.Load() != 0 {
		t.Error("render tier ran for an unblocked response")
	}
}

func TestDispatch_EscalatesAndRemembers(t *testing.T) {
	direct := okEngine("http", 403, "forbidden")
	render := okEngine("render", 200, "rendered")
	mem := newDomainMemory(time.Hour, time.Now)
	d := NewDispatcher(direct, []Engine{render}, mem)

	res, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://blocked.example/a"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.EngineName != "render" || res.Body != "rendered" {
		t.Errorf("got %q from %q, want rendered result", res.Body, res.EngineName)
	}
	if got := mem.Get("blocked.example"); got != "render" {
		t.Errorf("memory = %q, want render", got)
	}

	// The next fetch for the domain skips the direct attempt.
	if _, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://blocked.example/b"}); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if n := direct.calls.Load(); n != 1 {
		t.Errorf("direct calls = %d, want 1", n)
	}
}

func TestDispatch_TiersInOrder(t *testing.T) {
	direct := okEngine("http", 200, "cloudflare challenge")
	plain := &stubEngine{name: "render", err: errors.New("blocked again")}
	stealth := okEngine("render-stealth", 200, "through")
	mem := newDomainMemory(time.Hour, time.Now)
	d := NewDispatcher(direct, []Engine{plain, stealth}, mem)

	res, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://cf.example/"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.EngineName != "render-stealth" {
		t.Errorf("engine = %q, want render-stealth", res.EngineName)
	}
	if plain.calls.Load() != 1 {
		t.Errorf("plain tier calls = %d, want 1", plain.calls.Load())
	}
	if got := mem.Get("cf.example"); got != "render-stealth" {
		t.Errorf("memory = %q, want render-stealth", got)
	}
}

func TestDispatch_AllTiersFailReturnsDirect(t *testing.T) {
	direct := okEngine("http", 503, "unavailable")
	render := &stubEngine{name: "render", err: errors.New("launch failed")}
	mem := newDomainMemory(time.Hour, time.Now)
	d := NewDispatcher(direct, []Engine{render}, mem)

	res, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://down.example/"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.EngineName != "http" || res.Status != 503 {
		t.Errorf("got %d from %q, want direct 503", res.Status, res.EngineName)
	}
	if mem.Len() != 0 {
		t.Error("failed escalation was remembered")
	}
}

func TestDispatch_DirectErrorNotEscalated(t *testing.T) {
	wantErr := errors.New("connection refused")
	direct := &stubEngine{name: "http", err: wantErr}
	render := okEngine("render", 200, "rendered")
	d := NewDispatcher(direct, []Engine{render}, nil)

	_, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://example.com/"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if render.calls.Load() != 0 {
		t.Error("render tier ran after a transport error")
	}
}

func TestDispatch_RememberedTierFails(t *testing.T) {
	direct := okEngine("http", 200, "fine now")
	render := &stubEngine{name: "render", err: errors.New("crashed")}
	mem := newDomainMemory(time.Hour, time.Now)
	mem.Set("example.com", "render")
	d := NewDispatcher(direct, []Engine{render}, mem)

	res, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://example.com/"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.EngineName != "http" {
		t.Errorf("engine = %q, want http", res.EngineName)
	}
	if got := mem.Get("example.com"); got != "" {
		t.Errorf("memory = %q, want cleared", got)
	}
}

func TestDispatch_FailedTiersRunOnce(t *testing.T) {
	tests := []struct {
		name       string
		remembered string
	}{
		{"remember first tier", "render"},
		{"remember last tier", "render-stealth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			direct := okEngine("http", 403, "forbidden")
			plain := &stubEngine{name: "render", err: errors.New("crashed")}
			stealth := &stubEngine{name: "render-stealth", err: errors.New("crashed")}
			mem := newDomainMemory(time.Hour, time.Now)
			mem.Set("example.com", tt.remembered)
			d := NewDispatcher(direct, []Engine{plain, stealth}, mem)

			res, err := d.Dispatch(context.Background(), &FetchRequest{URL: "https://example.com/"})
			if err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if res.EngineName != "http" || res.Status != 403 {
				t.Errorf("got %d from %q, want direct 403", res.Status, res.EngineName)
			}
			for _, eng := range []*stubEngine{plain, stealth} {
				if n := eng.calls.Load(); n != 1 {
					t.Errorf("%s calls = %d, want 1", eng.name, n)
				}
			}
			if n := direct.calls.Load(); n != 1 {
				t.Errorf("direct calls = %d, want 1", n)
			}
		})
	}
}

func TestSanitizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/path?token=secret#frag", "https://example.com/path"},
		{"http://example.com", "http://example.com"},
		{"not a url", "INVALID_URL"},
		{"", "INVALID_URL"},
	}
	for _, tt := range tests {
		if got := SanitizeURL(tt.in); got != tt.want {
			t.Errorf("SanitizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
