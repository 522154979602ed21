package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/cache"
	"github.com/novera-ai/novera/internal/metrics"
	"github.com/novera-ai/novera/internal/ttypes"
)

// Cached serves audio from a DiskStore before asking the upstream Fetcher.
// Keys include the model and output format, so changing either never plays
// stale audio.
type Cached struct {
	next    Fetcher
	store   *cache.DiskStore
	blobs   *audio.Blobs
	format  audio.Format
	variant string
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewCached wraps next with the persistent store.
func NewCached(next Fetcher, store *cache.DiskStore, blobs *audio.Blobs, config Config, m *metrics.Metrics, logger *log.Logger) (*Cached, error) {
	format, err := config.Format()
	if err != nil {
		return nil, err
	}
	return &Cached{
		next:    next,
		store:   store,
		blobs:   blobs,
		format:  format,
		variant: config.Model + "/" + config.OutputFormat,
		metrics: m,
		logger:  logger.WithPrefix("synth"),
	}, nil
}

// Synthesize returns a new handle for text, from disk when possible.
func (c *Cached) Synthesize(ctx context.Context, text, voiceID string) (ttypes.AudioHandle, error) {
	pcm, err := c.Fetch(ctx, text, voiceID)
	if err != nil {
		return "", err
	}
	return c.blobs.Create(pcm, c.format), nil
}

// Fetch returns raw PCM for text, from disk when possible.
func (c *Cached) Fetch(ctx context.Context, text, voiceID string) ([]byte, error) {
	key := c.storeKey(text, voiceID)

	if pcm, ok := c.store.Get(key); ok {
		c.metrics.CacheLookup("disk", "hit")
		c.metrics.SynthResult("cached", 0)
		return pcm, nil
	}
	c.metrics.CacheLookup("disk", "miss")

	pcm, err := c.next.Fetch(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}
	if err := c.store.Put(key, pcm); err != nil {
		c.logger.Warn("could not persist audio", "err", err)
	}
	return pcm, nil
}

func (c *Cached) storeKey(text, voiceID string) string {
	k := cache.NewKey(strings.TrimSpace(text), voiceID)
	return fmt.Sprintf("%s\x1f%s", c.variant, k)
}
