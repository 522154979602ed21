package cache

import (
	"context"
	"sync"
	"time"

	"github.com/novera-ai/novera/internal/ttypes"
)

// Entry is one memoized synthesis. It starts pending and resolves exactly
// once, to a handle or to an error.
type Entry struct {
	done   chan struct{}
	handle ttypes.AudioHandle
	err    error
}

func newEntry() *Entry {
	return &Entry{done: make(chan struct{})}
}

// Done is closed when the entry resolves.
func (e *Entry) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the entry resolves or ctx ends.
func (e *Entry) Wait(ctx context.Context) (ttypes.AudioHandle, error) {
	select {
	case <-e.done:
		return e.handle, e.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Result returns the resolved value; ok is false while pending.
func (e *Entry) Result() (h ttypes.AudioHandle, err error, ok bool) {
	select {
	case <-e.done:
		return e.handle, e.err, true
	default:
		return "", nil, false
	}
}

func (e *Entry) resolved() bool {
	_, _, ok := e.Result()
	return ok
}

func (e *Entry) failed() bool {
	_, err, ok := e.Result()
	return ok && err != nil
}

// AudioCache memoizes synthesis for one playback session. It guarantees at
// most one in-flight synthesis per key, never replaces a resolved handle, and
// releases every handle it holds when cleared.
type AudioCache struct {
	releaser ttypes.HandleReleaser

	mu      sync.Mutex
	entries map[Key]*Entry
	cleared bool
	stats   Stats
}

// NewAudioCache creates an empty session cache. Handles are released through
// releaser when they are dropped.
func NewAudioCache(releaser ttypes.HandleReleaser) *AudioCache {
	return &AudioCache{
		releaser: releaser,
		entries:  make(map[Key]*Entry),
	}
}

// GetOrCreate returns the entry for k. created is true when the caller now
// owns a fresh pending entry and must resolve it with Put. An entry whose
// synthesis failed is replaced, so a later request may try again.
func (c *AudioCache) GetOrCreate(k Key) (e *Entry, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastAccess = time.Now()
	if e, ok := c.entries[k]; ok && !e.failed() {
		c.stats.Hits++
		c.stats.updateHitRate()
		return e, false
	}

	c.stats.Misses++
	c.stats.updateHitRate()
	e = newEntry()
	c.entries[k] = e
	c.cleared = false
	return e, true
}

// Put resolves the pending entry for k. It reports false when the value was
// not stored: the entry is already resolved or the cache was cleared in the
// meantime. A handle that is not stored is released.
func (c *AudioCache) Put(k Key, h ttypes.AudioHandle, err error) bool {
	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok || e.resolved() {
		c.mu.Unlock()
		if !h.IsZero() && (!ok || e.handle != h) {
			c.release(h)
		}
		return false
	}
	e.handle, e.err = h, err
	close(e.done)
	c.mu.Unlock()
	return true
}

// Lookup returns a resolved, successful handle for k without creating an
// entry.
func (c *AudioCache) Lookup(k Key) (ttypes.AudioHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return "", false
	}
	h, err, done := e.Result()
	if !done || err != nil {
		return "", false
	}
	return h, true
}

// Clear drops every entry and releases their handles. Pending entries resolve
// with ErrCleared; their eventual Put releases the late handle.
func (c *AudioCache) Clear() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[Key]*Entry)
	c.cleared = true
	c.mu.Unlock()

	for _, e := range entries {
		if h, err, ok := e.Result(); ok {
			if err == nil && !h.IsZero() {
				c.release(h)
			}
			continue
		}
		e.err = ErrCleared
		close(e.done)
	}
}

// Cleared reports whether Clear was the last mutation.
func (c *AudioCache) Cleared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

// Len returns the number of entries, pending ones included.
func (c *AudioCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *AudioCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.ItemCount = int64(len(c.entries))
	for _, e := range c.entries {
		if !e.resolved() {
			stats.Pending++
		}
	}
	return stats
}

func (c *AudioCache) release(h ttypes.AudioHandle) {
	if c.releaser != nil {
		c.releaser.Revoke(h)
	}
}
