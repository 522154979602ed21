package audio

import (
	"context"
	"sync"
	"time"

	"github.com/novera-ai/novera/internal/ttypes"
)

// ScriptedOutput is an AudioOutput that produces no sound. Clips end when the
// caller says so (End) or, with AutoEnd set, after a fixed delay. It backs
// tests and the --mute mode of the CLI.
type ScriptedOutput struct {
	// AutoEnd, when positive, ends every clip after this long.
	AutoEnd time.Duration
	// Blobs, when set and AutoEnd is not, ends every clip after its own
	// duration.
	Blobs *Blobs

	mu       sync.Mutex
	plays    []ttypes.AudioHandle
	failures map[ttypes.AudioHandle]error
	current  ttypes.AudioHandle
	onEnded  func()
	token    uint64
	stops    int
	tap      *Tap
	started  chan ttypes.AudioHandle
}

// NewScriptedOutput creates a silent output.
func NewScriptedOutput() *ScriptedOutput {
	return &ScriptedOutput{
		failures: make(map[ttypes.AudioHandle]error),
		started:  make(chan ttypes.AudioHandle, 256),
	}
}

// FailPlay makes every Play of h fail with err.
func (o *ScriptedOutput) FailPlay(h ttypes.AudioHandle, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[h] = err
}

// AttachTap records the tap; a silent output only ever reports silence.
func (o *ScriptedOutput) AttachTap(t *Tap) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tap = t
}

// Tap returns the attached tap, if any.
func (o *ScriptedOutput) Tap() *Tap {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tap
}

// Play records h as the current clip.
func (o *ScriptedOutput) Play(ctx context.Context, h ttypes.AudioHandle, onEnded func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	o.plays = append(o.plays, h)
	if err, ok := o.failures[h]; ok {
		o.mu.Unlock()
		return err
	}
	o.token++
	token := o.token
	o.current = h
	o.onEnded = onEnded
	auto := o.AutoEnd
	blobs := o.Blobs
	o.mu.Unlock()

	if auto <= 0 && blobs != nil {
		if clip, err := blobs.Open(h); err == nil {
			auto = max(clip.Duration(), time.Millisecond)
		}
	}

	select {
	case o.started <- h:
	default:
	}

	if auto > 0 {
		time.AfterFunc(auto, func() { o.end(token) })
	}
	return nil
}

// Stop halts the current clip without invoking its completion callback.
func (o *ScriptedOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stops++
	o.token++
	o.current = ""
	o.onEnded = nil
	return nil
}

// End finishes the current clip naturally. It reports false when nothing was
// playing.
func (o *ScriptedOutput) End() bool {
	o.mu.Lock()
	token := o.token
	playing := o.current != ""
	o.mu.Unlock()

	if !playing {
		return false
	}
	return o.end(token)
}

func (o *ScriptedOutput) end(token uint64) bool {
	o.mu.Lock()
	if o.token != token || o.current == "" {
		o.mu.Unlock()
		return false
	}
	cb := o.onEnded
	o.current = ""
	o.onEnded = nil
	o.token++
	o.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}

// Started delivers each handle as its playback starts.
func (o *ScriptedOutput) Started() <-chan ttypes.AudioHandle {
	return o.started
}

// Current returns the clip playing now, or "".
func (o *ScriptedOutput) Current() ttypes.AudioHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Plays returns every handle passed to Play, in order.
func (o *ScriptedOutput) Plays() []ttypes.AudioHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ttypes.AudioHandle(nil), o.plays...)
}

// Stops returns how many times Stop was called.
func (o *ScriptedOutput) Stops() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stops
}
