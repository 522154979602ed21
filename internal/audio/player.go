package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/novera-ai/novera/internal/ttypes"
)

var (
	// ErrClosed is returned when playing on a closed player.
	ErrClosed = errors.New("player is closed")

	// ErrFormat is returned when a clip does not match the device format.
	ErrFormat = errors.New("clip format does not match output")
)

// pollInterval is how often a playing clip is checked for natural completion.
const pollInterval = 20 * time.Millisecond

// Tappable is implemented by outputs that can feed a visualization tap.
type Tappable interface {
	AttachTap(t *Tap)
}

// PlayerConfig contains configuration for the audio player.
type PlayerConfig struct {
	SampleRate int     // 44100 or 48000 Hz
	Channels   int     // 1 = mono, 2 = stereo
	BufferSize int     // device buffer in bytes
	Volume     float64 // 0.0 to 1.0
}

// DefaultPlayerConfig returns the default player configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 44100,
		Channels:   1,
		BufferSize: 4096,
		Volume:     1.0,
	}
}

func validateConfig(config PlayerConfig) error {
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}
	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}
	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	if config.Volume < 0 || config.Volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", config.Volume)
	}
	return nil
}

// Player is the process-wide audio output backed by oto. It plays clips from
// a Blobs registry one at a time; starting a clip replaces the current one.
type Player struct {
	context *oto.Context
	blobs   *Blobs
	format  Format
	logger  *log.Logger

	mu      sync.Mutex
	current *oto.Player
	token   uint64
	tap     *Tap
	volume  float64
	closed  bool
}

// NewPlayer opens the audio device.
func NewPlayer(config PlayerConfig, blobs *Blobs, logger *log.Logger) (*Player, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bytesPerSecond := config.SampleRate * config.Channels * 2
	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(bytesPerSecond),
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	return &Player{
		context: ctx,
		blobs:   blobs,
		format:  Format{SampleRate: config.SampleRate, Channels: config.Channels},
		logger:  logger.WithPrefix("audio"),
		volume:  config.Volume,
	}, nil
}

// AttachTap routes every clip played from now on through t.
func (p *Player) AttachTap(t *Tap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tap = t
}

// Play starts h, replacing whatever is playing. It returns once the device
// has accepted the clip. onEnded runs once when the clip finishes on its own;
// it does not run after Stop or after a newer Play.
func (p *Player) Play(ctx context.Context, h ttypes.AudioHandle, onEnded func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clip, err := p.blobs.Open(h)
	if err != nil {
		return err
	}
	if clip.Format != p.format {
		return fmt.Errorf("%w: clip %d Hz/%d ch, device %d Hz/%d ch", ErrFormat,
			clip.Format.SampleRate, clip.Format.Channels, p.format.SampleRate, p.format.Channels)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.stopLocked()

	// The clip's bytes stay referenced by the reader for the whole playback,
	// even if the handle is revoked meanwhile.
	var src io.Reader = bytes.NewReader(clip.PCM)
	if p.tap != nil {
		src = p.tap.Reader(src, clip.Format)
	}

	player := p.context.NewPlayer(src)
	player.SetVolume(p.volume)
	player.Play()

	p.current = player
	token := p.token
	go p.watch(player, token, onEnded)

	p.logger.Debug("playing", "handle", h, "duration", clip.Duration())
	return nil
}

// watch polls the device until the clip drains, then reports completion
// unless the clip was superseded.
func (p *Player) watch(player *oto.Player, token uint64, onEnded func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.token != token {
			p.mu.Unlock()
			return
		}
		if player.IsPlaying() {
			p.mu.Unlock()
			continue
		}
		if err := player.Err(); err != nil {
			p.logger.Warn("playback ended with error", "err", err)
		}
		_ = player.Close()
		p.current = nil
		p.token++
		tap := p.tap
		p.mu.Unlock()

		if tap != nil {
			tap.Reset()
		}
		if onEnded != nil {
			onEnded()
		}
		return
	}
}

// Stop halts playback immediately.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	p.token++
	if p.current == nil {
		return
	}
	p.current.Pause()
	_ = p.current.Close()
	p.current = nil
	if p.tap != nil {
		p.tap.Reset()
	}
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *Player) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = volume
	if p.current != nil {
		p.current.SetVolume(volume)
	}
	return nil
}

// Close stops playback and refuses further clips. The oto context itself
// cannot be released and lives until the process exits.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.closed = true
	return nil
}
