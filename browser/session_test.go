package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/use-agent/scram/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewSession_StartsDrainTask(t *testing.T) {
	l := &fakeLauncher{}
	s, err := NewSession(context.Background(), l, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for l.drainsActive.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("drain task never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := l.drainsActive.Load(); got != 0 {
		t.Errorf("drain tasks after Close = %d, want 0", got)
	}
	if got := l.closes.Load(); got != 1 {
		t.Errorf("renderer closes = %d, want 1", got)
	}
}

func TestNewSession_LaunchFailure(t *testing.T) {
	l := &fakeLauncher{failLaunch: true}
	_, err := NewSession(context.Background(), l, SessionOptions{})
	if !models.IsCode(err, models.ErrCodeBrowserLaunch) {
		t.Fatalf("err = %v, want %s", err, models.ErrCodeBrowserLaunch)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	l := &fakeLauncher{}
	s, err := NewSession(context.Background(), l, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
	if got := l.closes.Load(); got != 1 {
		t.Errorf("renderer closes = %d, want 1", got)
	}
}

func TestSession_OperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	s, err := NewSession(ctx, &fakeLauncher{}, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	page, err := s.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.NewPage(ctx); !models.IsCode(err, models.ErrCodeSessionClosed) {
		t.Errorf("NewPage after close: err = %v, want %s", err, models.ErrCodeSessionClosed)
	}

	ops := map[string]func() error{
		"navigate": func() error { return page.Navigate(ctx, "https://example.com") },
		"waitLoad": func() error { return page.WaitLoad(ctx) },
		"content": func() error {
			_, err := page.Content(ctx)
			return err
		},
		"screenshot": func() error {
			_, err := page.Screenshot(ctx)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !models.IsCode(err, models.ErrCodeSessionClosed) {
			t.Errorf("%s after close: err = %v, want %s", name, err, models.ErrCodeSessionClosed)
		}
	}
}

func TestPage_ScreenshotAfterPageClose(t *testing.T) {
	ctx := context.Background()
	s, err := NewSession(ctx, &fakeLauncher{}, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	page, err := s.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := page.Close(); err != nil {
		t.Fatalf("page Close: %v", err)
	}
	if _, err := page.Screenshot(ctx); !models.IsCode(err, models.ErrCodeRender) {
		t.Errorf("screenshot after page close: err = %v, want %s", err, models.ErrCodeRender)
	}

	// The session is free for a new page once the old one is closed.
	next, err := s.NewPage(ctx)
	if err != nil {
		t.Fatalf("second NewPage: %v", err)
	}
	_ = next.Close()
}

func TestSession_OnePageAtATime(t *testing.T) {
	ctx := context.Background()
	s, err := NewSession(ctx, &fakeLauncher{}, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	if _, err := s.NewPage(ctx); err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if _, err := s.NewPage(ctx); !models.IsCode(err, models.ErrCodeRender) {
		t.Errorf("second concurrent page: err = %v, want %s", err, models.ErrCodeRender)
	}
}

func TestSession_CloseReleasesOpenPage(t *testing.T) {
	ctx := context.Background()
	l := &fakeLauncher{}
	s, err := NewSession(ctx, l, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.NewPage(ctx); err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if opened, closed := l.pagesOpened.Load(), l.pagesClosed.Load(); opened != closed {
		t.Errorf("pages opened=%d closed=%d", opened, closed)
	}
}

func TestSession_CloseReportsRendererFailure(t *testing.T) {
	l := &fakeLauncher{failDriverClose: true}
	s, err := NewSession(context.Background(), l, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := s.Close(); err == nil {
		t.Error("expected close error from renderer")
	}
	if got := l.drainsActive.Load(); got != 0 {
		t.Errorf("drain tasks after failed Close = %d, want 0", got)
	}
}

func TestPage_WaitLoadTimeout(t *testing.T) {
	ctx := context.Background()
	l := &fakeLauncher{blockWaitLoad: true}
	s, err := NewSession(ctx, l, SessionOptions{NavigationTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	page, err := s.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}

	start := time.Now()
	err = page.WaitLoad(ctx)
	if !models.IsCode(err, models.ErrCodeTimeout) {
		t.Fatalf("err = %v, want %s", err, models.ErrCodeTimeout)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("wait took %v despite 20ms timeout", elapsed)
	}
}

func TestPage_NavigateFailure(t *testing.T) {
	ctx := context.Background()
	s, err := NewSession(ctx, &fakeLauncher{failNavigate: true}, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	page, err := s.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := page.Navigate(ctx, "https://example.com"); !models.IsCode(err, models.ErrCodeNavigation) {
		t.Errorf("err = %v, want %s", err, models.ErrCodeNavigation)
	}
}

func TestSession_RecordsDocumentStatus(t *testing.T) {
	ctx := context.Background()
	s, err := NewSession(ctx, &fakeLauncher{documentStatus: 404}, SessionOptions{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	page, err := s.NewPage(ctx)
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if got := page.Status(); got != 0 {
		t.Errorf("status before navigation = %d, want 0", got)
	}
	if err := page.Navigate(ctx, "https://example.com/missing"); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if got := page.Status(); got != 404 {
		t.Errorf("status = %d, want 404", got)
	}
}

func TestSession_IgnoresEventsForOtherPages(t *testing.T) {
	s := &Session{}
	p := &Page{session: s, driver: &fakePage{id: "mine"}}
	s.page = p
	p.awaitingStatus.Store(true)

	s.handleEvent(Event{PageID: "other", Document: true, Status: 500})
	s.handleEvent(Event{PageID: "mine", Document: false, Status: 500})
	if got := p.Status(); got != 0 {
		t.Fatalf("status = %d, want 0", got)
	}

	s.handleEvent(Event{PageID: "mine", Document: true, Status: 201})
	s.handleEvent(Event{PageID: "mine", Document: true, Status: 302})
	if got := p.Status(); got != 201 {
		t.Errorf("status = %d, want first document status 201", got)
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, models.ErrCodeTimeout},
		{"client went away", context.Canceled, models.ErrCodeCanceled},
		{"other", errors.New("boom"), models.ErrCodeRender},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := categorizeError(tt.err, models.ErrCodeRender, "capture"); got.Code != tt.want {
				t.Errorf("code = %s, want %s", got.Code, tt.want)
			}
		})
	}
}
