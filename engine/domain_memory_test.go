package engine

import (
	"testing"
	"time"
)

func TestDomainMemory_Expiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mem := newDomainMemory(time.Minute, func() time.Time { return now })

	mem.Set("example.com", "render")
	if got := mem.Get("example.com"); got != "render" {
		t.Fatalf("Get = %q, want render", got)
	}

	now = now.Add(2 * time.Minute)
	if got := mem.Get("example.com"); got != "" {
		t.Errorf("Get after TTL = %q, want empty", got)
	}
	if mem.Len() != 0 {
		t.Errorf("expired entry not removed on read")
	}
}

func TestDomainMemory_Prune(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mem := newDomainMemory(time.Minute, func() time.Time { return now })
	mem.Set("a.example", "render")
	now = now.Add(30 * time.Second)
	mem.Set("b.example", "render-stealth")
	now = now.Add(45 * time.Second)

	mem.prune()
	if mem.Len() != 1 {
		t.Fatalf("Len = %d, want 1", mem.Len())
	}
	if got := mem.Get("b.example"); got != "render-stealth" {
		t.Errorf("Get(b) = %q", got)
	}
}

func TestDomainMemory_Nil(t *testing.T) {
	var mem *DomainMemory
	mem.Set("example.com", "render")
	mem.Delete("example.com")
	mem.Stop()
	if got := mem.Get("example.com"); got != "" {
		t.Errorf("nil Get = %q", got)
	}
}

func TestDomainMemory_StopTwice(t *testing.T) {
	mem := NewDomainMemory(time.Hour)
	mem.Stop()
	mem.Stop()
}
