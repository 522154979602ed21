package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/messages"
	"github.com/novera-ai/novera/internal/segment"
	"github.com/novera-ai/novera/internal/ttypes"
)

// ErrNoChat is returned by Respond when no chat collaborator is configured.
var ErrNoChat = errors.New("narration: no chat collaborator configured")

// Config tunes a Controller.
type Config struct {
	Live      bool // Narrate every response while it streams
	Backfill  bool // Speak already-streamed text when narration starts mid-response
	AutoPlay  bool // Play a finished response that was not narrated live
	ChunkSize int  // Largest unit, in characters, when playing a finished message
	History   int  // Prior turns sent with a query
}

// DefaultConfig returns the default controller settings.
func DefaultConfig() Config {
	return Config{
		AutoPlay:  true,
		ChunkSize: 400,
		History:   10,
	}
}

// Controller turns user intents into playback sessions.
type Controller struct {
	player  Player
	adapter *Adapter
	store   *messages.Store
	chat    ttypes.ChatStreamer
	config  Config
	logger  *log.Logger

	mu    sync.Mutex
	live  map[string]*Response
	units map[string]narrated
}

// narrated keeps the sentences a response was narrated in, so replaying it
// hits the audio cached under the same keys.
type narrated struct {
	text      string
	sentences []string
}

// NewController creates a controller. chat may be nil when only finished
// messages are played.
func NewController(player Player, store *messages.Store, chat ttypes.ChatStreamer, config Config, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	return &Controller{
		player:  player,
		adapter: NewAdapter(player, Options{Backfill: config.Backfill, MaxRunes: config.ChunkSize}, logger),
		store:   store,
		chat:    chat,
		config:  config,
		logger:  logger.WithPrefix("controller"),
		live:    make(map[string]*Response),
		units:   make(map[string]narrated),
	}
}

// PlayRequested plays a message. Asking again for the message that is
// playing stops it. A message still streaming switches to live narration.
// fullText may be empty, in which case the stored text is used. A message
// that was narrated live is replayed in the same sentences, so their cached
// audio is reused; others are played in chunks of up to ChunkSize. It
// reports whether playback started.
func (c *Controller) PlayRequested(messageID, fullText string) bool {
	if c.playing(messageID) {
		c.StopRequested()
		return false
	}
	if r := c.response(messageID); r != nil {
		return r.Narrate()
	}

	if fullText == "" {
		m, ok := c.store.Get(messageID)
		if !ok {
			return false
		}
		fullText = m.Text
	}

	chunks := c.narratedUnits(messageID, fullText)
	if chunks == nil {
		chunks = segment.Chunk(segment.PlainText(fullText), c.config.ChunkSize)
	}
	if len(chunks) == 0 {
		c.logger.Debug("nothing to speak", "message", messageID)
		return false
	}

	sess := c.adapter.start(messageID)
	for _, chunk := range chunks {
		c.player.Enqueue(sess, chunk)
	}
	c.player.Finish(sess)
	c.logger.Debug("playing message", "message", messageID, "chunks", len(chunks))
	return true
}

// StopRequested silences playback.
func (c *Controller) StopRequested() {
	c.player.Stop()
}

// NarrateLiveResponse switches narration on for a response that is
// streaming. For a finished message it behaves like PlayRequested, except
// that it never stops playback.
func (c *Controller) NarrateLiveResponse(messageID string) bool {
	if r := c.response(messageID); r != nil && r.Narrate() {
		return true
	}
	if c.playing(messageID) {
		return true
	}
	return c.PlayRequested(messageID, "")
}

// Respond sends query to the chat collaborator and streams the answer into a
// new message, narrating it live when narrate or Config.Live is set. Any
// playback in progress is stopped first. The finished message is returned
// even when the stream failed part way.
func (c *Controller) Respond(ctx context.Context, query string, narrate bool) (messages.Message, error) {
	if c.chat == nil {
		return messages.Message{}, ErrNoChat
	}
	c.StopRequested()

	user := c.store.Append(ttypes.RoleUser, query)
	history := c.store.History(c.config.History, user.ID)
	model := c.store.Append(ttypes.RoleModel, "")
	c.store.SetStreaming(model.ID, true)

	r := c.adapter.Begin(model.ID, narrate || c.config.Live)
	c.mu.Lock()
	c.live[model.ID] = r
	c.mu.Unlock()

	chunks, errs := c.chat.Stream(ctx, query, history)
	err := c.adapter.Consume(ctx, r, chunks, errs, func(chunk ttypes.ChatChunk) {
		if chunk.TextDelta != "" {
			c.store.AppendText(model.ID, chunk.TextDelta)
		}
		if len(chunk.Sources) > 0 {
			c.store.AddSources(model.ID, chunk.Sources)
		}
		if len(chunk.ToolCalls) > 0 {
			c.store.AddToolCalls(model.ID, chunk.ToolCalls)
		}
	})

	final, _ := c.store.Get(model.ID)
	c.mu.Lock()
	delete(c.live, model.ID)
	if r.Requested() {
		c.units[model.ID] = narrated{text: final.Text, sentences: r.Sentences()}
	}
	c.mu.Unlock()
	c.store.SetStreaming(model.ID, false)

	if err != nil {
		c.logger.Warn("response stream failed", "message", model.ID, "err", err)
		return final, fmt.Errorf("streaming response: %w", err)
	}
	if !r.Requested() && c.config.AutoPlay && final.Text != "" {
		c.PlayRequested(model.ID, final.Text)
	}
	return final, nil
}

// Streaming reports whether messageID is a response still being written.
func (c *Controller) Streaming(messageID string) bool {
	return c.response(messageID) != nil
}

// playing reports whether messageID is being played. Sessions this controller
// started are checked directly, since the store only learns about them once
// the sequencer gets to them.
func (c *Controller) playing(messageID string) bool {
	if playing, known := c.adapter.Playing(messageID); known {
		return playing
	}
	return c.store.PlayingID() == messageID
}

// narratedUnits returns the sentences messageID was narrated in, or nil when
// it never was or its text has changed since.
func (c *Controller) narratedUnits(messageID, text string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.units[messageID]
	if !ok || n.text != text || len(n.sentences) == 0 {
		return nil
	}
	return n.sentences
}

func (c *Controller) response(messageID string) *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[messageID]
}
