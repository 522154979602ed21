package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/novera-ai/novera/internal/ttypes"
)

type recordingReleaser struct {
	mu      sync.Mutex
	revoked []ttypes.AudioHandle
}

func (r *recordingReleaser) Revoke(h ttypes.AudioHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, h)
}

func (r *recordingReleaser) Revoked() []ttypes.AudioHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ttypes.AudioHandle(nil), r.revoked...)
}

func TestNewKey_Normalises(t *testing.T) {
	if NewKey("Necəsən?", "v1") != NewKey("  Necəsən?  ", "v1") {
		t.Error("surrounding whitespace changed the key")
	}

	nfd := NewKey("Cafe\u0301", "v1")
	nfc := NewKey("Caf\u00e9", "v1")
	if nfd != nfc {
		t.Errorf("NFD and NFC keys differ: %q vs %q", nfd.Text, nfc.Text)
	}

	if NewKey("Hi there", "v1") == NewKey("Hi there", "v2") {
		t.Error("keys for different voices must differ")
	}
}

func TestAudioCache_SingleFlight(t *testing.T) {
	c := NewAudioCache(nil)
	k := NewKey("Hello world.", "v1")

	e1, created1 := c.GetOrCreate(k)
	e2, created2 := c.GetOrCreate(k)
	if !created1 || created2 {
		t.Fatalf("created = %v, %v; want true, false", created1, created2)
	}
	if e1 != e2 {
		t.Fatal("concurrent requests for one key got different entries")
	}

	if _, _, ok := e2.Result(); ok {
		t.Error("entry resolved before Put")
	}
	if !c.Put(k, "blob:novera/1", nil) {
		t.Fatal("Put() = false for a pending entry")
	}

	h, err := e2.Wait(context.Background())
	if err != nil || h != "blob:novera/1" {
		t.Errorf("Wait() = %q, %v", h, err)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats() hits=%d misses=%d, want 1 and 1", stats.Hits, stats.Misses)
	}
}

func TestAudioCache_NeverOverwritesResolved(t *testing.T) {
	rel := &recordingReleaser{}
	c := NewAudioCache(rel)
	k := NewKey("Once.", "v1")

	c.GetOrCreate(k)
	c.Put(k, "blob:novera/first", nil)

	if c.Put(k, "blob:novera/second", nil) {
		t.Error("Put() overwrote a resolved entry")
	}
	if h, ok := c.Lookup(k); !ok || h != "blob:novera/first" {
		t.Errorf("Lookup() = %q, %v", h, ok)
	}
	if got := rel.Revoked(); len(got) != 1 || got[0] != "blob:novera/second" {
		t.Errorf("rejected handle not released: %v", got)
	}
}

func TestAudioCache_FailedEntryIsRetried(t *testing.T) {
	c := NewAudioCache(nil)
	k := NewKey("Retry me.", "v1")

	e, _ := c.GetOrCreate(k)
	c.Put(k, "", errors.New("quota"))
	if _, err := e.Wait(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	if _, ok := c.Lookup(k); ok {
		t.Error("Lookup() returned a failed entry")
	}

	e2, created := c.GetOrCreate(k)
	if !created || e2 == e {
		t.Fatal("failed entry was not replaced")
	}
}

func TestAudioCache_ClearReleasesHandles(t *testing.T) {
	rel := &recordingReleaser{}
	c := NewAudioCache(rel)

	done := NewKey("Done.", "v1")
	pending := NewKey("Pending.", "v1")
	c.GetOrCreate(done)
	c.Put(done, "blob:novera/done", nil)
	pe, _ := c.GetOrCreate(pending)

	c.Clear()

	if _, err := pe.Wait(context.Background()); !errors.Is(err, ErrCleared) {
		t.Errorf("pending waiter got %v, want ErrCleared", err)
	}
	if got := rel.Revoked(); len(got) != 1 || got[0] != "blob:novera/done" {
		t.Errorf("Revoked = %v", got)
	}
	if c.Len() != 0 || !c.Cleared() {
		t.Errorf("Len() = %d, Cleared() = %v", c.Len(), c.Cleared())
	}

	// A synthesis finishing after the clear must not leak its handle.
	if c.Put(pending, "blob:novera/late", nil) {
		t.Error("Put() after Clear() stored a handle")
	}
	if got := rel.Revoked(); len(got) != 2 || got[1] != "blob:novera/late" {
		t.Errorf("late handle not released: %v", got)
	}
}

func TestAudioCache_WaitHonoursContext(t *testing.T) {
	c := NewAudioCache(nil)
	e, _ := c.GetOrCreate(NewKey("Slow one.", "v1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := e.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline exceeded", err)
	}
}

func TestAudioCache_ConcurrentGetOrCreate(t *testing.T) {
	c := NewAudioCache(nil)
	k := NewKey("Shared.", "v1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	creators := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, created := c.GetOrCreate(k); created {
				mu.Lock()
				creators++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if creators != 1 {
		t.Errorf("%d goroutines created the entry, want 1", creators)
	}
}
