package memory

import (
	"testing"
	"time"
)

func TestLRUTTLEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUTTL[string, string](2, 0, time.Minute)
	c.Set("a", "A", 1)
	c.Set("b", "B", 1)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to be cached")
	}
	c.Set("c", "C", 1)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != "A" {
		t.Fatalf("expected a to survive, got %q %v", v, ok)
	}
	if c.Bytes() != 2 {
		t.Fatalf("expected 2 accounted bytes, got %d", c.Bytes())
	}
}

func TestLRUTTLByteBudget(t *testing.T) {
	c := NewLRUTTL[string, []byte](10, 8, time.Minute)
	c.Set("a", []byte("aaaa"), 4)
	c.Set("b", []byte("bbbb"), 4)
	c.Set("c", []byte("cccc"), 4)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to be evicted by the byte budget")
	}
	if c.Bytes() != 8 {
		t.Fatalf("expected 8 bytes, got %d", c.Bytes())
	}

	c.Set("huge", make([]byte, 64), 64)
	if _, ok := c.Get("huge"); ok {
		t.Fatalf("entries larger than the budget must not be cached")
	}

	c.Set("b", []byte("b"), 1)
	if c.Bytes() != 5 {
		t.Fatalf("expected replacement to re-account size, got %d", c.Bytes())
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRUTTL[string, int](4, 0, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	c.Set("k", 1, 0)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected fresh entry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry to be dropped")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}
