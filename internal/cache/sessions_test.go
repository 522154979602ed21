package cache

import (
	"testing"
	"time"
)

func TestSessions_ReuseWithinGrace(t *testing.T) {
	rel := &recordingReleaser{}
	s := NewSessions(rel, 4, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	c, reused := s.Acquire("m1")
	if reused {
		t.Fatal("first Acquire() reported reuse")
	}
	k := NewKey("Hello there.", "v1")
	c.GetOrCreate(k)
	c.Put(k, "blob:novera/h", nil)
	s.Retire("m1", c)

	again, reused := s.Acquire("m1")
	if !reused || again != c {
		t.Fatal("retained cache was not handed back")
	}
	if h, ok := again.Lookup(k); !ok || h != "blob:novera/h" {
		t.Errorf("Lookup() = %q, %v", h, ok)
	}
	if len(rel.Revoked()) != 0 {
		t.Errorf("handles released while retained: %v", rel.Revoked())
	}
}

func TestSessions_GraceExpiry(t *testing.T) {
	rel := &recordingReleaser{}
	s := NewSessions(rel, 4, time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	c, _ := s.Acquire("m1")
	k := NewKey("Expiring.", "v1")
	c.GetOrCreate(k)
	c.Put(k, "blob:novera/x", nil)
	s.Retire("m1", c)

	now = now.Add(2 * time.Minute)
	if n := s.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if got := rel.Revoked(); len(got) != 1 {
		t.Errorf("expired cache not cleared: %v", got)
	}
	if _, reused := s.Acquire("m1"); reused {
		t.Error("expired cache was reused")
	}
}

func TestSessions_CapacityEvictsOldest(t *testing.T) {
	s := NewSessions(nil, 2, time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }

	for _, id := range []string{"a", "b", "c"} {
		c, _ := s.Acquire(id)
		s.Retire(id, c)
		now = now.Add(time.Second)
	}

	got := s.Retained()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Retained() = %v, want [b c]", got)
	}
	if s.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Stats().Evictions)
	}
}

func TestSessions_RetentionDisabled(t *testing.T) {
	rel := &recordingReleaser{}
	s := NewSessions(rel, 0, time.Minute)

	c, _ := s.Acquire("m1")
	k := NewKey("Gone soon.", "v1")
	c.GetOrCreate(k)
	c.Put(k, "blob:novera/g", nil)
	s.Retire("m1", c)

	if len(rel.Revoked()) != 1 {
		t.Error("cache not cleared when retention is disabled")
	}
	if n := s.Purge(); n != 0 {
		t.Errorf("Purge() = %d, want 0", n)
	}
}
