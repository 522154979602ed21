package narration

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/playback"
	"github.com/novera-ai/novera/internal/ttypes"
)

// fakePlayer records what narration asks of the sequencer.
type fakePlayer struct {
	mu       sync.Mutex
	gen      uint64
	starts   []string
	queued   map[uint64][]string
	finished map[uint64]bool
	ended    map[uint64]bool
	stops    int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		queued:   make(map[uint64][]string),
		finished: make(map[uint64]bool),
		ended:    make(map[uint64]bool),
	}
}

func (p *fakePlayer) Start(messageID string) playback.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.starts = append(p.starts, messageID)
	return playback.Session{MessageID: messageID, Generation: p.gen}
}

func (p *fakePlayer) Enqueue(sess playback.Session, sentence string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess.Generation != p.gen {
		return false
	}
	p.queued[sess.Generation] = append(p.queued[sess.Generation], sentence)
	return true
}

func (p *fakePlayer) Finish(sess playback.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished[sess.Generation] = true
}

func (p *fakePlayer) Active(sess playback.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sess.Generation == p.gen
}

func (p *fakePlayer) Running(sess playback.Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sess.Generation == p.gen && !p.ended[sess.Generation]
}

// complete ends the session as if its queue had drained.
func (p *fakePlayer) complete(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended[gen] = true
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.gen++
}

func (p *fakePlayer) session(gen uint64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queued[gen]...)
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestResponse_EnqueuesAsSentencesComplete(t *testing.T) {
	p := newFakePlayer()
	a := NewAdapter(p, Options{}, testLogger())
	r := a.Begin("m1", true)

	steps := []struct {
		delta string
		want  []string
	}{
		{"Bu uzun", nil},
		{" bir cümlə", nil},
		{" deyil. Sonra", []string{"Bu uzun bir cümlə deyil."}},
		{" **ikinci** cümlə!", nil},
	}
	for _, step := range steps {
		got := r.Write(step.delta)
		if len(got) != len(step.want) || (len(got) > 0 && !reflect.DeepEqual(got, step.want)) {
			t.Errorf("Write(%q) = %q, want %q", step.delta, got, step.want)
		}
	}
	if p.finished[1] {
		t.Error("session finished before the stream closed")
	}

	r.Close()
	want := []string{"Bu uzun bir cümlə deyil.", "Sonra ikinci cümlə!"}
	if got := p.session(1); !reflect.DeepEqual(got, want) {
		t.Errorf("queued = %q, want %q", got, want)
	}
	if !p.finished[1] {
		t.Error("Close() did not finish the session")
	}
	if r.Write("more.") != nil {
		t.Error("Write() after Close() delivered sentences")
	}
}

func TestResponse_WithoutNarrationEnqueuesNothing(t *testing.T) {
	p := newFakePlayer()
	r := NewAdapter(p, Options{}, testLogger()).Begin("m1", false)

	r.Write("Salam. Necəsən? ")
	r.Close()

	if len(p.starts) != 0 {
		t.Errorf("sessions started: %v", p.starts)
	}
	if r.Text() != "Salam. Necəsən? " {
		t.Errorf("Text() = %q", r.Text())
	}
}

func TestResponse_MidStreamActivation(t *testing.T) {
	tests := []struct {
		name     string
		backfill bool
		want     []string
	}{
		{"forward only", false, []string{"Third one here.", "Fourth one here."}},
		{"backfill", true, []string{"First one here.", "Second one here.", "Third one here.", "Fourth one here."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePlayer()
			r := NewAdapter(p, Options{Backfill: tt.backfill}, testLogger()).Begin("m1", false)

			r.Write("First one here. Second one here. Third")
			if !r.Narrate() {
				t.Fatal("Narrate() = false on an open response")
			}
			r.Write(" one here. Fourth one here.")
			r.Close()

			if got := p.session(1); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("queued = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponse_StoppedNarrationStaysQuiet(t *testing.T) {
	p := newFakePlayer()
	r := NewAdapter(p, Options{}, testLogger()).Begin("m1", true)

	r.Write("Spoken sentence. ")
	p.Stop()
	r.Write("Not spoken after stop. ")
	r.Close()

	if got := p.session(1); !reflect.DeepEqual(got, []string{"Spoken sentence."}) {
		t.Errorf("queued = %q", got)
	}
	if r.Narrating() {
		t.Error("still narrating after the session was stopped")
	}
	if !r.Requested() {
		t.Error("Requested() = false")
	}
	if r.Narrate() {
		t.Error("Narrate() succeeded on a closed response")
	}
}

func TestAdapter_Consume(t *testing.T) {
	p := newFakePlayer()
	a := NewAdapter(p, Options{}, testLogger())
	r := a.Begin("m1", true)

	chunks := make(chan ttypes.ChatChunk, 4)
	errs := make(chan error, 1)
	chunks <- ttypes.ChatChunk{TextDelta: "One sentence. "}
	chunks <- ttypes.ChatChunk{Sources: []ttypes.Source{{URI: "https://example.com"}}}
	chunks <- ttypes.ChatChunk{TextDelta: "And an unterminated tail"}
	close(chunks)

	var seen int
	if err := a.Consume(context.Background(), r, chunks, errs, func(ttypes.ChatChunk) { seen++ }); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if seen != 3 {
		t.Errorf("callback saw %d chunks", seen)
	}
	want := []string{"One sentence.", "And an unterminated tail"}
	if got := p.session(1); !reflect.DeepEqual(got, want) {
		t.Errorf("queued = %q, want %q", got, want)
	}
}

func TestAdapter_ConsumeReportsStreamError(t *testing.T) {
	p := newFakePlayer()
	a := NewAdapter(p, Options{}, testLogger())
	r := a.Begin("m1", true)

	chunks := make(chan ttypes.ChatChunk, 1)
	errs := make(chan error, 1)
	chunks <- ttypes.ChatChunk{TextDelta: "Partial answer"}
	errs <- errors.New("connection reset")
	close(chunks)

	err := a.Consume(context.Background(), r, chunks, errs, nil)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("Consume() error = %v", err)
	}
	if got := p.session(1); !reflect.DeepEqual(got, []string{"Partial answer"}) {
		t.Errorf("partial text not flushed: %q", got)
	}
}

func TestAdapter_ConsumeCanceled(t *testing.T) {
	p := newFakePlayer()
	a := NewAdapter(p, Options{}, testLogger())
	r := a.Begin("m1", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Consume(ctx, r, make(chan ttypes.ChatChunk), nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Consume() error = %v, want context.Canceled", err)
	}
}

func TestResponse_Sentences(t *testing.T) {
	p := newFakePlayer()
	r := NewAdapter(p, Options{}, testLogger()).Begin("m1", false)

	r.Write("Salam **dostum**. Necə")
	got := r.Sentences()
	if !reflect.DeepEqual(got, []string{"Salam dostum."}) {
		t.Fatalf("Sentences() = %q", got)
	}
	got[0] = "changed"

	r.Close()
	want := []string{"Salam dostum.", "Necə"}
	if got := r.Sentences(); !reflect.DeepEqual(got, want) {
		t.Errorf("Sentences() = %q, want %q", got, want)
	}
}

func TestAdapter_Playing(t *testing.T) {
	p := newFakePlayer()
	a := NewAdapter(p, Options{}, testLogger())

	if _, known := a.Playing("m1"); known {
		t.Error("nothing was started, Playing() should not know about m1")
	}

	r := a.Begin("m1", true)
	if playing, known := a.Playing("m1"); !playing || !known {
		t.Errorf("Playing(m1) = %v, %v right after Begin", playing, known)
	}
	if _, known := a.Playing("m2"); known {
		t.Error("Playing(m2) should defer to the store")
	}

	r.Close()
	p.complete(1)
	if playing, known := a.Playing("m1"); playing || !known {
		t.Errorf("Playing(m1) = %v, %v after the session completed", playing, known)
	}
}
