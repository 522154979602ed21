package audio

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/novera-ai/novera/internal/ttypes"
)

func TestBlobs_Lifecycle(t *testing.T) {
	b := NewBlobs()
	pcm := make([]byte, 88200) // one second of mono 44.1 kHz

	h := b.Create(pcm, DefaultFormat)
	if !strings.HasPrefix(string(h), ttypes.BlobScheme) {
		t.Fatalf("handle %q lacks blob scheme", h)
	}
	if !h.IsBlob() {
		t.Errorf("IsBlob() = false for %q", h)
	}

	clip, err := b.Open(h)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := clip.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want 1s", got)
	}
	if b.Len() != 1 || b.Bytes() != int64(len(pcm)) {
		t.Errorf("Len() = %d, Bytes() = %d", b.Len(), b.Bytes())
	}

	b.Revoke(h)
	if _, err := b.Open(h); !errors.Is(err, ErrRevoked) {
		t.Errorf("Open() after Revoke error = %v, want ErrRevoked", err)
	}
	if b.Len() != 0 || b.Bytes() != 0 {
		t.Errorf("after Revoke Len() = %d, Bytes() = %d", b.Len(), b.Bytes())
	}

	// Revoking twice is harmless.
	b.Revoke(h)

	if _, err := b.Open("blob:novera/nope"); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Open(unknown) error = %v, want ErrUnknownHandle", err)
	}
}

func TestBlobs_UniqueHandles(t *testing.T) {
	b := NewBlobs()
	seen := make(map[ttypes.AudioHandle]bool)
	for i := 0; i < 100; i++ {
		h := b.Create([]byte{0, 0}, DefaultFormat)
		if seen[h] {
			t.Fatalf("duplicate handle %q", h)
		}
		seen[h] = true
	}
}

func TestFormat_Duration(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		bytes  int
		want   time.Duration
	}{
		{"mono", Format{SampleRate: 44100, Channels: 1}, 44100, 500 * time.Millisecond},
		{"stereo", Format{SampleRate: 48000, Channels: 2}, 192000, time.Second},
		{"zero format", Format{}, 1000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.Duration(tt.bytes); got != tt.want {
				t.Errorf("Duration(%d) = %v, want %v", tt.bytes, got, tt.want)
			}
		})
	}
}
