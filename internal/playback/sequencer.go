// Package playback turns queued sentences into continuous speech. A single
// scheduler goroutine owns the active session: its queue, its cache and the
// audio output. Every asynchronous completion carries the generation of the
// session that started it and is dropped once that session is gone.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/cache"
	"github.com/novera-ai/novera/internal/metrics"
	"github.com/novera-ai/novera/internal/synth"
	"github.com/novera-ai/novera/internal/ttypes"
)

// ErrRunning is returned when Run is called twice.
var ErrRunning = errors.New("sequencer already running")

const tapBands = 16

// Config tunes the sequencer.
type Config struct {
	VoiceID       string        // Voice used for sessions started from now on
	Lookahead     int           // Sentences synthesized ahead of the one playing
	RetryAttempts int           // Extra synthesis attempts for a failing sentence
	RetryDelay    time.Duration // Pause before each retry
	ErrorText     string        // Annotation written on a message when a sentence is skipped
	EventBuffer   int           // Size of the internal event queue
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		VoiceID:       ttypes.DefaultVoiceID,
		Lookahead:     2,
		RetryAttempts: 1,
		RetryDelay:    300 * time.Millisecond,
		ErrorText:     "playback unavailable, try again",
		EventBuffer:   256,
	}
}

// Sequencer plays the sentences of one message at a time, in the order they
// were enqueued, synthesizing a bounded number of them ahead.
type Sequencer struct {
	synth   ttypes.Synthesizer
	output  ttypes.AudioOutput
	store   ttypes.MessageStore
	caches  *cache.Sessions
	tap     *audio.Tap
	metrics *metrics.Metrics
	logger  *log.Logger

	events    chan any
	quit      chan struct{}
	exited    chan struct{}
	running   atomic.Bool
	closeOnce sync.Once
	tapOnce   sync.Once
	gen       atomic.Uint64
	ended     atomic.Uint64

	snapMu sync.RWMutex
	snap   Snapshot

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int

	// Owned by the scheduler goroutine.
	ctx     context.Context
	config  Config
	machine *stateMachine
	session *session
	latest  uint64
}

type session struct {
	gen       uint64
	messageID string
	voiceID   string
	cache     *cache.AudioCache
	queue     []*item
	playing   *item
	next      int
	finished  bool
	annotated bool
	heard     bool
	played    int
	skipped   int
	started   time.Time
}

type item struct {
	index    int
	key      cache.Key
	entry    *cache.Entry
	attempts int
	backoff  bool
}

func (s *session) head() *item {
	if len(s.queue) == 0 {
		return nil
	}
	return s.queue[0]
}

type startEv struct {
	gen       uint64
	messageID string
}

type enqueueEv struct {
	gen  uint64
	text string
}

type finishEv struct{ gen uint64 }

type stopEv struct {
	gen  uint64
	done chan struct{}
}

type resolvedEv struct{ gen uint64 }

type retryEv struct {
	gen   uint64
	index int
}

type endedEv struct {
	gen   uint64
	index int
}

type configEv struct{ apply func(*Config) }

// New creates a sequencer. Run must be called for it to do anything. store
// and m may be nil.
func New(config Config, synthesizer ttypes.Synthesizer, output ttypes.AudioOutput, store ttypes.MessageStore, caches *cache.Sessions, m *metrics.Metrics, logger *log.Logger) (*Sequencer, error) {
	if synthesizer == nil {
		return nil, errors.New("playback: synthesizer is required")
	}
	if output == nil {
		return nil, errors.New("playback: audio output is required")
	}
	if caches == nil {
		return nil, errors.New("playback: session caches are required")
	}
	if store == nil {
		store = nopStore{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if config.Lookahead < 0 {
		config.Lookahead = 0
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	if config.VoiceID == "" {
		config.VoiceID = ttypes.DefaultVoiceID
	}

	s := &Sequencer{
		synth:   synthesizer,
		output:  output,
		store:   store,
		caches:  caches,
		tap:     audio.NewTap(tapBands),
		metrics: m,
		logger:  logger.WithPrefix("playback"),
		events:  make(chan any, config.EventBuffer),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
		subs:    make(map[int]chan Event),
		config:  config,
		machine: newStateMachine(),
	}
	for st := StateIdle; st <= StateInterrupted; st++ {
		s.machine.OnEnter(st, s.stateEntered)
	}
	s.refreshSnapshot()
	return s, nil
}

// Run drives the scheduler until ctx is done or Close is called. Synthesis
// and playback requests issued by the sequencer use ctx.
func (s *Sequencer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	defer close(s.exited)
	defer s.shutdown()

	s.logger.Debug("scheduler running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// Close stops the scheduler, silencing any active session, and waits for Run
// to return.
func (s *Sequencer) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	if s.running.Load() {
		<-s.exited
	}
	return nil
}

// Start begins a new session for messageID, interrupting the active one.
// The previous session's cache is retained so its audio can be replayed.
func (s *Sequencer) Start(messageID string) Session {
	gen := s.gen.Add(1)
	s.post(startEv{gen: gen, messageID: messageID})
	return Session{MessageID: messageID, Generation: gen}
}

// Enqueue appends a sentence to the session's queue. It reports false when
// the session is no longer current.
func (s *Sequencer) Enqueue(sess Session, sentence string) bool {
	if !s.Active(sess) {
		return false
	}
	return s.post(enqueueEv{gen: sess.Generation, text: sentence})
}

// Finish declares that no more sentences will be enqueued for the session.
// It ends once its queue drains.
func (s *Sequencer) Finish(sess Session) {
	if s.Active(sess) {
		s.post(finishEv{gen: sess.Generation})
	}
}

// Active reports whether sess is still the current session.
func (s *Sequencer) Active(sess Session) bool {
	return sess.Generation != 0 && sess.Generation == s.gen.Load()
}

// Running reports whether sess is current and has not ended yet. Unlike
// Active it turns false once the session completes on its own.
func (s *Sequencer) Running(sess Session) bool {
	return s.Active(sess) && s.ended.Load() < sess.Generation
}

// Stop silences the output and discards the active session's queue. It
// returns once the output has been stopped.
func (s *Sequencer) Stop() {
	done := make(chan struct{})
	if !s.post(stopEv{gen: s.gen.Add(1), done: done}) {
		return
	}
	select {
	case <-done:
	case <-s.quit:
	case <-s.exited:
	}
}

// SetVoice changes the voice of sessions started from now on.
func (s *Sequencer) SetVoice(voiceID string) {
	if voiceID == "" {
		return
	}
	s.post(configEv{apply: func(c *Config) { c.VoiceID = voiceID }})
}

// SetLookahead changes how many sentences are synthesized ahead.
func (s *Sequencer) SetLookahead(n int) {
	s.post(configEv{apply: func(c *Config) { c.Lookahead = max(n, 0) }})
}

// Snapshot returns the sequencer's current view.
func (s *Sequencer) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Tap returns the visualization tap. It is attached to the output on the
// first Start and stays attached for the life of the sequencer.
func (s *Sequencer) Tap() *audio.Tap {
	return s.tap
}

// Subscribe returns a channel of events and a cancel function. Events are
// dropped for subscribers that fall behind.
func (s *Sequencer) Subscribe(buffer int) (<-chan Event, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, max(buffer, 1))
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Sequencer) post(ev any) bool {
	select {
	case <-s.quit:
		return false
	case <-s.exited:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	case <-s.exited:
		return false
	}
}

func (s *Sequencer) handle(ev any) {
	switch ev := ev.(type) {
	case startEv:
		s.onStart(ev)
	case enqueueEv:
		s.onEnqueue(ev)
	case finishEv:
		s.onFinish(ev)
	case stopEv:
		s.onStop(ev)
	case resolvedEv:
		if sess := s.current(ev.gen); sess != nil {
			s.pump(sess)
		}
	case retryEv:
		s.onRetry(ev)
	case endedEv:
		s.onEnded(ev)
	case configEv:
		ev.apply(&s.config)
		s.logger.Debug("config updated", "voice", s.config.VoiceID, "lookahead", s.config.Lookahead)
	}
	s.refreshSnapshot()
}

func (s *Sequencer) current(gen uint64) *session {
	if s.session == nil || s.session.gen != gen {
		return nil
	}
	return s.session
}

func (s *Sequencer) onStart(ev startEv) {
	if ev.gen <= s.latest {
		return
	}
	s.latest = ev.gen
	s.tapOnce.Do(s.attachTap)

	if s.session != nil {
		s.interrupt(EndSuperseded)
	}

	c, reused := s.caches.Acquire(ev.messageID)
	s.session = &session{
		gen:       ev.gen,
		messageID: ev.messageID,
		voiceID:   s.config.VoiceID,
		cache:     c,
		started:   time.Now(),
	}
	s.store.ClearTTSError(ev.messageID)
	s.store.SetPlaying(ev.messageID)
	s.metrics.SessionStarted()

	s.logger.Debug("session started", "message", ev.messageID, "generation", ev.gen, "reused_cache", reused)
	s.emit(Event{Kind: EventSessionStarted})
}

func (s *Sequencer) attachTap() {
	if t, ok := s.output.(audio.Tappable); ok {
		t.AttachTap(s.tap)
		s.logger.Debug("visualization tap attached")
	}
}

func (s *Sequencer) onEnqueue(ev enqueueEv) {
	sess := s.current(ev.gen)
	if sess == nil || sess.finished {
		return
	}
	text := strings.TrimSpace(ev.text)
	if text == "" {
		return
	}

	sess.queue = append(sess.queue, &item{
		index: sess.next,
		key:   cache.NewKey(text, sess.voiceID),
	})
	sess.next++
	s.pump(sess)
}

func (s *Sequencer) onFinish(ev finishEv) {
	sess := s.current(ev.gen)
	if sess == nil {
		return
	}
	sess.finished = true
	if sess.playing == nil && len(sess.queue) == 0 {
		s.end(sess, EndCompleted)
		s.setState(StateIdle)
	}
}

func (s *Sequencer) onStop(ev stopEv) {
	defer close(ev.done)
	if ev.gen > s.latest {
		s.latest = ev.gen
	}
	if s.session != nil {
		s.interrupt(EndStopped)
		return
	}
	if err := s.output.Stop(); err != nil {
		s.logger.Warn("stopping output", "err", err)
	}
}

func (s *Sequencer) onRetry(ev retryEv) {
	sess := s.current(ev.gen)
	if sess == nil {
		return
	}
	head := sess.head()
	if head == nil || head.index != ev.index || !head.backoff {
		return
	}
	head.backoff = false
	s.pump(sess)
}

func (s *Sequencer) onEnded(ev endedEv) {
	sess := s.current(ev.gen)
	if sess == nil || sess.playing == nil || sess.playing.index != ev.index {
		return
	}

	s.setState(StateAdvancing)
	sess.playing = nil
	sess.queue = sess.queue[1:]
	sess.played++
	s.metrics.Sentence("played")
	s.pump(sess)
}

// pump moves the session forward as far as it can without blocking: it
// plays the head of the queue if its audio is ready, skips heads that failed
// and keeps the look-ahead window synthesizing.
func (s *Sequencer) pump(sess *session) {
	if sess.playing != nil {
		s.prefetch(sess)
		return
	}

	for len(sess.queue) > 0 {
		head := sess.queue[0]
		if head.backoff {
			return
		}
		s.request(sess, head)

		h, err, ok := head.entry.Result()
		if !ok {
			s.setState(StateStalled)
			s.prefetch(sess)
			return
		}
		if err != nil {
			if s.retry(sess, head, err) {
				s.setState(StateStalled)
				return
			}
			s.skip(sess, err)
			continue
		}
		if err := s.play(sess, head, h); err != nil {
			s.skip(sess, fmt.Errorf("starting playback: %w", err))
			continue
		}
		s.prefetch(sess)
		return
	}

	if sess.finished {
		s.end(sess, EndCompleted)
	}
	s.setState(StateIdle)
}

// prefetch requests synthesis for the head and the next Lookahead sentences.
func (s *Sequencer) prefetch(sess *session) {
	n := min(len(sess.queue), 1+s.config.Lookahead)
	for _, it := range sess.queue[:n] {
		if !it.backoff {
			s.request(sess, it)
		}
	}
}

func (s *Sequencer) request(sess *session, it *item) {
	if it.entry != nil {
		return
	}

	e, created := sess.cache.GetOrCreate(it.key)
	it.entry = e
	if created {
		s.metrics.CacheLookup("session", "miss")
		go s.synthesize(s.ctx, sess.cache, it.key)
	} else {
		s.metrics.CacheLookup("session", "hit")
	}
	if _, _, done := e.Result(); !done {
		go s.await(sess.gen, e)
	}
}

func (s *Sequencer) synthesize(ctx context.Context, c *cache.AudioCache, k cache.Key) {
	h, err := s.synth.Synthesize(ctx, k.Text, k.VoiceID)
	if !c.Put(k, h, err) {
		s.logger.Debug("synthesis result discarded", "text", k.Text)
	}
}

func (s *Sequencer) await(gen uint64, e *cache.Entry) {
	select {
	case <-e.Done():
		s.post(resolvedEv{gen: gen})
	case <-s.quit:
	case <-s.exited:
	}
}

func (s *Sequencer) play(sess *session, it *item, h ttypes.AudioHandle) error {
	gen, index := sess.gen, it.index
	onEnded := func() { s.post(endedEv{gen: gen, index: index}) }
	if err := s.output.Play(s.ctx, h, onEnded); err != nil {
		return err
	}

	sess.playing = it
	s.setState(StatePlaying)
	if !sess.heard {
		sess.heard = true
		s.metrics.ObserveFirstAudioLatency(time.Since(sess.started))
	}
	s.logger.Debug("playing", "message", sess.messageID, "sentence", it.index)
	s.emit(Event{Kind: EventSentenceStarted, Index: it.index, Text: it.key.Text})
	return nil
}

func retryable(err error) bool {
	var se *synth.Error
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (s *Sequencer) retry(sess *session, it *item, err error) bool {
	if it.attempts >= s.config.RetryAttempts || !retryable(err) {
		return false
	}
	it.attempts++
	it.entry = nil
	it.backoff = true
	s.metrics.Retry()

	gen, index := sess.gen, it.index
	time.AfterFunc(s.config.RetryDelay, func() { s.post(retryEv{gen: gen, index: index}) })

	s.logger.Debug("retrying sentence", "message", sess.messageID, "sentence", it.index, "attempt", it.attempts, "err", err)
	s.emit(Event{Kind: EventSentenceRetried, Index: it.index, Text: it.key.Text, Reason: err.Error()})
	return true
}

// skip drops the head of the queue. The first failure of a session
// annotates its message; texts too short to speak are dropped silently.
func (s *Sequencer) skip(sess *session, err error) {
	it := sess.queue[0]
	sess.queue = sess.queue[1:]

	if errors.Is(err, synth.ErrTextTooShort) {
		s.metrics.Sentence("too_short")
		s.emit(Event{Kind: EventSentenceSkipped, Index: it.index, Text: it.key.Text, Reason: "too short"})
		return
	}

	sess.skipped++
	s.metrics.Sentence("skipped")
	s.logger.Warn("skipping sentence", "message", sess.messageID, "sentence", it.index, "err", err)
	if !sess.annotated {
		sess.annotated = true
		s.store.SetTTSError(sess.messageID, s.config.ErrorText)
	}
	s.emit(Event{Kind: EventSentenceSkipped, Index: it.index, Text: it.key.Text, Reason: err.Error()})
}

// interrupt silences the output and tears the active session down.
func (s *Sequencer) interrupt(reason string) {
	sess := s.session
	s.setState(StateInterrupted)
	if err := s.output.Stop(); err != nil {
		s.logger.Warn("stopping output", "err", err)
	}
	sess.queue = nil
	sess.playing = nil
	s.end(sess, reason)
	s.setState(StateIdle)
}

func (s *Sequencer) end(sess *session, reason string) {
	s.ended.Store(sess.gen)
	s.emit(Event{Kind: EventSessionEnded, Reason: reason})
	s.session = nil
	s.caches.Retire(sess.messageID, sess.cache)
	if reason != EndSuperseded {
		s.store.SetPlaying("")
	}
	s.metrics.SessionEnded(reason)
	s.logger.Debug("session ended", "message", sess.messageID, "reason", reason, "played", sess.played, "skipped", sess.skipped)
}

func (s *Sequencer) shutdown() {
	if s.session != nil {
		s.interrupt(EndClosed)
	}
	s.refreshSnapshot()
	s.logger.Debug("scheduler stopped")
}

func (s *Sequencer) setState(to State) {
	from := s.machine.Current()
	if !s.machine.Transition(to) {
		s.logger.Error("invalid state transition", "from", from, "to", to)
	}
}

func (s *Sequencer) stateEntered(from State) {
	s.emit(Event{Kind: EventState, From: from})
}

// emit fills in the session and state and fans the event out.
func (s *Sequencer) emit(ev Event) {
	if sess := s.session; sess != nil {
		ev.MessageID = sess.messageID
		ev.Generation = sess.gen
	}
	ev.State = s.machine.Current()
	ev.At = time.Now()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Sequencer) refreshSnapshot() {
	snap := Snapshot{
		State:     s.machine.Current(),
		Sentence:  -1,
		VoiceID:   s.config.VoiceID,
		Lookahead: s.config.Lookahead,
	}
	if sess := s.session; sess != nil {
		snap.MessageID = sess.messageID
		snap.Generation = sess.gen
		snap.Queued = len(sess.queue)
		snap.Played = sess.played
		snap.Skipped = sess.skipped
		snap.Finished = sess.finished
		if head := sess.head(); head != nil {
			snap.Sentence = head.index
			snap.Text = head.key.Text
		}
	}

	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

type nopStore struct{}

func (nopStore) SetTTSError(string, string) {}
func (nopStore) ClearTTSError(string)       {}
func (nopStore) SetPlaying(string)          {}
