package synth

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/ttypes"
)

// Mock is a scripted Synthesizer. It produces silent clips, records every
// request, and can fail, delay or hold individual texts so tests can force
// any completion order.
type Mock struct {
	blobs    *audio.Blobs
	minChars int

	mu       sync.Mutex
	requests []string
	calls    map[string]int
	fail     map[string][]error
	holds    map[string]chan struct{}
	delay    time.Duration
	started  chan string
}

// NewMock creates a Mock that registers its clips in blobs.
func NewMock(blobs *audio.Blobs) *Mock {
	return &Mock{
		blobs:    blobs,
		minChars: DefaultConfig().MinChars,
		calls:    make(map[string]int),
		fail:     make(map[string][]error),
		holds:    make(map[string]chan struct{}),
		started:  make(chan string, 256),
	}
}

// SetDelay makes every request take at least d.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailWith queues errors for text: the next len(errs) requests for it fail in
// order; later requests succeed.
func (m *Mock) FailWith(text string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[text] = append(m.fail[text], errs...)
}

// Hold blocks requests for text until the returned function is called.
func (m *Mock) Hold(text string) (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.holds[text] = ch
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.holds[text] == ch {
				delete(m.holds, text)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Synthesize implements ttypes.Synthesizer.
func (m *Mock) Synthesize(ctx context.Context, text, voiceID string) (ttypes.AudioHandle, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < m.minChars {
		return "", ErrTextTooShort
	}

	m.mu.Lock()
	m.requests = append(m.requests, text)
	m.calls[text]++
	hold := m.holds[text]
	delay := m.delay
	var failure error
	if queued := m.fail[text]; len(queued) > 0 {
		failure, m.fail[text] = queued[0], queued[1:]
	}
	m.mu.Unlock()

	select {
	case m.started <- text:
	default:
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", newError(CodeCanceled, "request canceled", ctx.Err())
		}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", newError(CodeCanceled, "request canceled", ctx.Err())
		}
	}
	if failure != nil {
		return "", failure
	}

	// 10 ms of silence per character keeps clip lengths plausible.
	pcm := make([]byte, utf8.RuneCountInString(text)*882)
	return m.blobs.Create(pcm, audio.DefaultFormat), nil
}

// Started delivers each text as its request begins.
func (m *Mock) Started() <-chan string {
	return m.started
}

// Calls returns how many requests were made for text.
func (m *Mock) Calls(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[text]
}

// Requests returns every requested text in order.
func (m *Mock) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}
