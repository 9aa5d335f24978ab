package service

import (
	"context"
	"testing"
	"time"

	"github.com/use-agent/scram/models"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0, 0)
	defer l.Close()

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("unlimited waits took %v", elapsed)
	}
}

func TestLimiter_DomainBucket(t *testing.T) {
	l := NewLimiter(0, 1)
	defer l.Close()

	if err := l.Wait(context.Background(), "a.example"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	// Another domain has its own bucket.
	if err := l.Wait(context.Background(), "b.example"); err != nil {
		t.Fatalf("other domain Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "a.example"); !models.IsCode(err, models.ErrCodeRateLimited) {
		t.Errorf("err = %v, want %s", err, models.ErrCodeRateLimited)
	}
}

func TestLimiter_Canceled(t *testing.T) {
	l := NewLimiter(1, 0)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "example.com"); !models.IsCode(err, models.ErrCodeCanceled) {
		t.Errorf("canceled: err = %v, want %s", err, models.ErrCodeCanceled)
	}

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if err := l.Wait(ctx, "example.com"); !models.IsCode(err, models.ErrCodeTimeout) {
		t.Errorf("expired: err = %v, want %s", err, models.ErrCodeTimeout)
	}
}
