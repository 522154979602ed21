package cache

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCleared is reported to waiters of an entry whose cache was cleared
	// before synthesis finished.
	ErrCleared = errors.New("cache cleared")
)

// Key identifies synthesized audio: the exact text spoken with one voice.
// Text is NFC-normalised and trimmed so that visually identical sentences
// share an entry.
type Key struct {
	Text    string
	VoiceID string
}

// NewKey builds a normalised Key.
func NewKey(text, voiceID string) Key {
	return Key{
		Text:    norm.NFC.String(strings.TrimSpace(text)),
		VoiceID: voiceID,
	}
}

// String renders the key for logs and disk indexes.
func (k Key) String() string {
	return k.VoiceID + "\x1f" + k.Text
}

// Stats holds cache performance metrics
type Stats struct {
	// Configuration
	Capacity int64 // Maximum capacity in bytes, 0 if unbounded

	// Current state
	Size      int64 // Current size in bytes
	ItemCount int64 // Number of items in cache
	Pending   int64 // Entries still waiting for synthesis

	// Performance metrics
	Hits      int64   // Number of cache hits
	Misses    int64   // Number of cache misses
	Evictions int64   // Number of evictions
	HitRate   float64 // Calculated hit rate (hits / (hits + misses))

	// Timing
	LastAccess time.Time
	LastEvict  time.Time
}

func (s *Stats) updateHitRate() {
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
}
