// Package narration feeds chat responses to the playback sequencer. An
// Adapter segments text as it streams and enqueues finished sentences; a
// Controller maps user intents (play, stop, narrate this response) onto
// sequencer sessions.
package narration

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/playback"
	"github.com/novera-ai/novera/internal/segment"
	"github.com/novera-ai/novera/internal/ttypes"
)

// Player is the part of the sequencer narration drives.
type Player interface {
	Start(messageID string) playback.Session
	Enqueue(sess playback.Session, sentence string) bool
	Finish(sess playback.Session)
	Active(sess playback.Session) bool
	Running(sess playback.Session) bool
	Stop()
}

// Options configure an Adapter.
type Options struct {
	// Backfill makes narration switched on mid-response speak the sentences
	// that streamed before it, instead of starting from the activation point.
	Backfill bool
	// MaxRunes force-splits sentences that grow past this length.
	MaxRunes int
}

// Adapter binds streamed responses to playback sessions.
type Adapter struct {
	player Player
	opts   Options
	logger *log.Logger

	mu   sync.Mutex
	last playback.Session
}

// NewAdapter creates an adapter that enqueues into player.
func NewAdapter(player Player, opts Options, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Adapter{
		player: player,
		opts:   opts,
		logger: logger.WithPrefix("narration"),
	}
}

// Begin prepares a response for messageID. With narrate set, a session starts
// at once so the first sentence is spoken as soon as it completes.
func (a *Adapter) Begin(messageID string, narrate bool) *Response {
	var opts []segment.Option
	if a.opts.MaxRunes > 0 {
		opts = append(opts, segment.WithMaxRunes(a.opts.MaxRunes))
	}
	r := &Response{
		adapter:   a,
		messageID: messageID,
		stream:    segment.NewStream(opts...),
	}
	if narrate {
		r.Narrate()
	}
	return r
}

// start begins a session for messageID and remembers it as the latest.
func (a *Adapter) start(messageID string) playback.Session {
	sess := a.player.Start(messageID)
	a.mu.Lock()
	a.last = sess
	a.mu.Unlock()
	return sess
}

// Playing reports whether the latest session started through a is for
// messageID and has not ended. known is false when that session belongs to
// another message, so the caller has to ask elsewhere.
func (a *Adapter) Playing(messageID string) (playing, known bool) {
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	if last.Generation == 0 || last.MessageID != messageID {
		return false, false
	}
	return a.player.Running(last), true
}

// Consume writes the text of every chunk into r until the stream ends, then
// closes r. fn, if set, sees every chunk first. It returns the stream's error,
// or ctx's if ctx ends first.
func (a *Adapter) Consume(ctx context.Context, r *Response, chunks <-chan ttypes.ChatChunk, errs <-chan error, fn func(ttypes.ChatChunk)) error {
	defer r.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			if fn != nil {
				fn(chunk)
			}
			if chunk.TextDelta != "" {
				r.Write(chunk.TextDelta)
			}
		}
	}
}

// Response is one in-flight chat response. It is safe for concurrent use, so
// narration can be switched on while text is still being written.
type Response struct {
	adapter   *Adapter
	messageID string

	mu        sync.Mutex
	stream    *segment.Stream
	text      strings.Builder
	spoken    []string
	session   playback.Session
	narrating bool
	requested bool
	closed    bool
}

// MessageID returns the message the response is written into.
func (r *Response) MessageID() string {
	return r.messageID
}

// Write appends a text delta and returns the sentences it completed.
func (r *Response) Write(delta string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.text.WriteString(delta)
	return r.deliver(r.stream.Push(delta))
}

// Narrate switches narration on. It reports false when the response is
// already closed; a finished message is played on demand instead.
func (r *Response) Narrate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if r.narrating && r.adapter.player.Active(r.session) {
		return true
	}

	r.session = r.adapter.start(r.messageID)
	r.narrating = true
	r.requested = true
	if r.adapter.opts.Backfill {
		for _, s := range r.spoken {
			r.enqueue(s)
		}
	}
	r.adapter.logger.Debug("narration on", "message", r.messageID, "backfilled", r.adapter.opts.Backfill && len(r.spoken) > 0)
	return true
}

// Narrating reports whether sentences are being enqueued.
func (r *Response) Narrating() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.narrating
}

// Requested reports whether narration was ever switched on, even if it was
// stopped since.
func (r *Response) Requested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requested
}

// Sentences returns the cleaned sentences delivered so far, in order. These
// are the units narration enqueues, and so the keys their audio is cached
// under.
func (r *Response) Sentences() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

// Text returns everything written so far.
func (r *Response) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String()
}

// Close flushes the unterminated tail as a final sentence and lets the
// session end once its queue drains.
func (r *Response) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.deliver(r.stream.Flush())
	r.closed = true
	if r.narrating {
		r.adapter.player.Finish(r.session)
	}
}

func (r *Response) deliver(sentences []string) []string {
	out := sentences[:0:0]
	for _, s := range sentences {
		s = segment.Clean(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		r.spoken = append(r.spoken, s)
		if r.narrating {
			r.enqueue(s)
		}
	}
	return out
}

func (r *Response) enqueue(s string) {
	if r.adapter.player.Enqueue(r.session, s) {
		return
	}
	// Stopped or replaced by another session; stay quiet until asked again.
	r.narrating = false
	r.adapter.logger.Debug("narration dropped", "message", r.messageID)
}
