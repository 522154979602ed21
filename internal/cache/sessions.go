package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/novera-ai/novera/internal/ttypes"
)

// Sessions hands out one AudioCache per message and keeps the caches of
// finished sessions around for a grace period, so replaying a message reuses
// the audio already synthesized for it. At most max caches are retained; the
// oldest is cleared first.
type Sessions struct {
	releaser ttypes.HandleReleaser
	max      int
	grace    time.Duration
	now      func() time.Time

	mu       sync.Mutex
	retained map[string]retainedCache
	stats    Stats
}

type retainedCache struct {
	cache   *AudioCache
	retired time.Time
}

// NewSessions creates a session cache pool. A max of zero disables retention.
func NewSessions(releaser ttypes.HandleReleaser, max int, grace time.Duration) *Sessions {
	return &Sessions{
		releaser: releaser,
		max:      max,
		grace:    grace,
		now:      time.Now,
		retained: make(map[string]retainedCache),
	}
}

// Acquire returns the cache for messageID: the retained one if it is still
// within its grace period, a new one otherwise. reused reports which.
func (s *Sessions) Acquire(messageID string) (c *AudioCache, reused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if r, ok := s.retained[messageID]; ok {
		delete(s.retained, messageID)
		s.stats.Hits++
		s.stats.updateHitRate()
		return r.cache, true
	}
	s.stats.Misses++
	s.stats.updateHitRate()
	return NewAudioCache(s.releaser), false
}

// Retire parks the cache of a finished or stopped session. Retiring a second
// cache for the same message clears the first.
func (s *Sessions) Retire(messageID string, c *AudioCache) {
	if c == nil {
		return
	}
	if s.max <= 0 || s.grace <= 0 {
		c.Clear()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.retained[messageID]; ok && old.cache != c {
		old.cache.Clear()
	}
	s.retained[messageID] = retainedCache{cache: c, retired: s.now()}
	s.pruneLocked()

	for len(s.retained) > s.max {
		s.evictOldestLocked()
	}
}

// Prune clears retained caches whose grace period has passed.
func (s *Sessions) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked()
}

// Purge clears every retained cache.
func (s *Sessions) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.retained)
	for id, r := range s.retained {
		r.cache.Clear()
		delete(s.retained, id)
	}
	s.stats.Evictions += int64(n)
	return n
}

// Retained lists the message IDs whose caches are parked, oldest first.
func (s *Sessions) Retained() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.retained))
	for id := range s.retained {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.retained[ids[i]].retired.Before(s.retained[ids[j]].retired)
	})
	return ids
}

// Stats reports reuse statistics; ItemCount is the number of retained caches
// and Pending the entries still resolving inside them.
func (s *Sessions) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.ItemCount = int64(len(s.retained))
	for _, r := range s.retained {
		stats.Pending += r.cache.Stats().Pending
	}
	return stats
}

func (s *Sessions) pruneLocked() int {
	cutoff := s.now().Add(-s.grace)
	pruned := 0
	for id, r := range s.retained {
		if r.retired.Before(cutoff) {
			r.cache.Clear()
			delete(s.retained, id)
			pruned++
		}
	}
	if pruned > 0 {
		s.stats.Evictions += int64(pruned)
		s.stats.LastEvict = s.now()
	}
	return pruned
}

func (s *Sessions) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, r := range s.retained {
		if oldestID == "" || r.retired.Before(oldest) {
			oldestID = id
			oldest = r.retired
		}
	}
	if oldestID == "" {
		return
	}
	s.retained[oldestID].cache.Clear()
	delete(s.retained, oldestID)
	s.stats.Evictions++
	s.stats.LastEvict = s.now()
}
