package dedup

import (
	"testing"
	"time"
)

func TestSeen_WithinWindow(t *testing.T) {
	c := New(5 * time.Minute)
	c.Register("s1", "m1")

	if !c.Seen("s1", "m1") {
		t.Error("registered message should be seen")
	}
	if c.Seen("s1", "m2") {
		t.Error("unregistered message id should not be seen")
	}
	if c.Seen("s2", "m1") {
		t.Error("same message id on another session should not be seen")
	}
}

func TestSeen_AfterExpiry(t *testing.T) {
	c := New(5 * time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Register("s1", "m1")
	if !c.Seen("s1", "m1") {
		t.Fatal("should be seen before expiry")
	}

	c.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	if c.Seen("s1", "m1") {
		t.Error("should not be seen after TTL expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be evicted on check, len=%d", c.Len())
	}
}

func TestSweep(t *testing.T) {
	c := New(5 * time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.Register("s1", "m1")
	c.Register("s1", "m2")
	c.now = func() time.Time { return base.Add(4 * time.Minute) }
	c.Register("s1", "m3")

	c.now = func() time.Time { return base.Add(6 * time.Minute) }
	c.sweep()

	if c.Len() != 1 {
		t.Errorf("expected 1 entry after sweep, got %d", c.Len())
	}
	if !c.Seen("s1", "m3") {
		t.Error("fresh entry should survive the sweep")
	}
}

func TestNew_DefaultTTL(t *testing.T) {
	c := New(0)
	if c.ttl != DefaultTTL {
		t.Errorf("expected default TTL, got %v", c.ttl)
	}
}
