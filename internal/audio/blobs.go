package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novera-ai/novera/internal/ttypes"
)

var (
	// ErrUnknownHandle is returned when a handle was never minted by the registry.
	ErrUnknownHandle = errors.New("unknown audio handle")

	// ErrRevoked is returned when a handle has been released.
	ErrRevoked = errors.New("audio handle revoked")
)

// maxRevoked bounds how many revoked handles are remembered for error
// reporting.
const maxRevoked = 4096

// Format describes raw PCM audio: signed 16-bit little endian samples.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat matches the synthesis output format (pcm_44100, mono).
var DefaultFormat = Format{SampleRate: 44100, Channels: 1}

// Duration returns how long n bytes of PCM play for.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / (2 * f.Channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Clip is a decoded, playable audio resource.
type Clip struct {
	PCM    []byte
	Format Format
}

// Duration returns the clip length.
func (c *Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// Blobs is a registry of transient playable resources addressed by
// "blob:novera/<uuid>" handles. A handle stays valid until it is revoked;
// revoking releases the underlying bytes.
type Blobs struct {
	mu      sync.RWMutex
	clips   map[ttypes.AudioHandle]*Clip
	revoked map[ttypes.AudioHandle]struct{}
	bytes   int64
}

// NewBlobs creates an empty registry.
func NewBlobs() *Blobs {
	return &Blobs{
		clips:   make(map[ttypes.AudioHandle]*Clip),
		revoked: make(map[ttypes.AudioHandle]struct{}),
	}
}

// Create registers pcm and mints a new handle for it. The registry takes
// ownership of pcm.
func (b *Blobs) Create(pcm []byte, format Format) ttypes.AudioHandle {
	h := ttypes.AudioHandle(ttypes.BlobScheme + uuid.NewString())

	b.mu.Lock()
	defer b.mu.Unlock()

	b.clips[h] = &Clip{PCM: pcm, Format: format}
	b.bytes += int64(len(pcm))
	return h
}

// Open resolves a handle to its clip.
func (b *Blobs) Open(h ttypes.AudioHandle) (*Clip, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if clip, ok := b.clips[h]; ok {
		return clip, nil
	}
	if _, ok := b.revoked[h]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRevoked, h)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
}

// Revoke releases a handle. Revoking an unknown or already revoked handle is
// a no-op.
func (b *Blobs) Revoke(h ttypes.AudioHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clip, ok := b.clips[h]
	if !ok {
		return
	}
	delete(b.clips, h)
	if len(b.revoked) >= maxRevoked {
		clear(b.revoked)
	}
	b.revoked[h] = struct{}{}
	b.bytes -= int64(len(clip.PCM))
}

// Len returns the number of live handles.
func (b *Blobs) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clips)
}

// Bytes returns the PCM bytes held by live handles.
func (b *Blobs) Bytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes
}
