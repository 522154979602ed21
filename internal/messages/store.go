// Package messages is the in-memory conversation: the list of chat messages,
// their spoken-playback error annotations and which one is playing.
package messages

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novera-ai/novera/internal/ttypes"
)

// Message is one chat turn.
type Message struct {
	ID        string            `json:"id"`
	Role      ttypes.Role       `json:"role"`
	Text      string            `json:"text"`
	Sources   []ttypes.Source   `json:"sources,omitempty"`
	ToolCalls []ttypes.ToolCall `json:"toolCalls,omitempty"`
	TTSError  string            `json:"ttsError,omitempty"`
	Streaming bool              `json:"streaming,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// ChangeKind names what happened to the conversation.
type ChangeKind string

const (
	ChangeAppended ChangeKind = "appended"
	ChangeUpdated  ChangeKind = "updated"
	ChangeTTSError ChangeKind = "tts_error"
	ChangePlaying  ChangeKind = "playing"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	MessageID string     `json:"messageId"`
	Message   *Message   `json:"message,omitempty"`
}

// Store holds the conversation. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	messages []*Message
	index    map[string]*Message
	playing  string

	subsMu sync.Mutex
	subs   map[int]chan Change
	nextID int
}

// NewStore creates an empty conversation.
func NewStore() *Store {
	return &Store{
		index: make(map[string]*Message),
		subs:  make(map[int]chan Change),
	}
}

// Append adds a message and returns it.
func (s *Store) Append(role ttypes.Role, text string) Message {
	m := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.index[m.ID] = m
	snapshot := *m
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAppended, MessageID: m.ID, Message: &snapshot})
	return snapshot
}

// AppendText extends a message's text, as a response streams in.
func (s *Store) AppendText(id, delta string) bool {
	return s.update(id, func(m *Message) { m.Text += delta })
}

// SetText replaces a message's text.
func (s *Store) SetText(id, text string) bool {
	return s.update(id, func(m *Message) { m.Text = text })
}

// SetStreaming marks whether a response is still arriving.
func (s *Store) SetStreaming(id string, streaming bool) bool {
	return s.update(id, func(m *Message) { m.Streaming = streaming })
}

// AddSources attaches citations, skipping URIs already present.
func (s *Store) AddSources(id string, sources []ttypes.Source) bool {
	return s.update(id, func(m *Message) {
		seen := make(map[string]bool, len(m.Sources))
		for _, src := range m.Sources {
			seen[src.URI] = true
		}
		for _, src := range sources {
			if !seen[src.URI] {
				seen[src.URI] = true
				m.Sources = append(m.Sources, src)
			}
		}
	})
}

// AddToolCalls records tool invocations requested while answering.
func (s *Store) AddToolCalls(id string, calls []ttypes.ToolCall) bool {
	return s.update(id, func(m *Message) { m.ToolCalls = append(m.ToolCalls, calls...) })
}

// Get returns a copy of the message.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// List returns copies of all messages in order.
func (s *Store) List() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// History returns the last n finished turns before the message with id
// before (all of them when before is empty), oldest first.
func (s *Store) History(n int, before string) []ttypes.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := len(s.messages)
	if before != "" {
		for i, m := range s.messages {
			if m.ID == before {
				end = i
				break
			}
		}
	}

	var out []ttypes.HistoryEntry
	for i := end - 1; i >= 0 && len(out) < n; i-- {
		m := s.messages[i]
		if m.Streaming || m.Text == "" || m.Role == ttypes.RoleTool {
			continue
		}
		out = append(out, ttypes.HistoryEntry{Role: m.Role, Text: m.Text})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// SetTTSError annotates a message with a playback failure.
func (s *Store) SetTTSError(id, text string) {
	s.update(id, func(m *Message) { m.TTSError = text }, ChangeTTSError)
}

// ClearTTSError removes the playback failure annotation.
func (s *Store) ClearTTSError(id string) {
	s.update(id, func(m *Message) { m.TTSError = "" }, ChangeTTSError)
}

// SetPlaying records which message is being spoken; "" means none.
func (s *Store) SetPlaying(id string) {
	s.mu.Lock()
	if s.playing == id {
		s.mu.Unlock()
		return
	}
	s.playing = id
	s.mu.Unlock()

	s.notify(Change{Kind: ChangePlaying, MessageID: id})
}

// PlayingID returns the message being spoken, or "".
func (s *Store) PlayingID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

// Subscribe returns a channel of changes and a cancel function. Slow
// subscribers miss changes rather than block writers.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Change, max(buffer, 1))
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

func (s *Store) update(id string, fn func(*Message), kind ...ChangeKind) bool {
	s.mu.Lock()
	m, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(m)
	snapshot := *m
	s.mu.Unlock()

	k := ChangeUpdated
	if len(kind) > 0 {
		k = kind[0]
	}
	s.notify(Change{Kind: k, MessageID: id, Message: &snapshot})
	return true
}

func (s *Store) notify(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
