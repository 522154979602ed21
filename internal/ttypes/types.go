// Package ttypes contains shared types and interfaces for the narration pipeline.
// This package is used to break import cycles between playback, synth, audio,
// narration and the collaborators they talk to.
package ttypes

import (
	"context"
	"strings"

	"github.com/sahilm/fuzzy"
)

// AudioHandle identifies a transient, revocable playable resource, such as a
// synthesized clip registered in an audio.Blobs registry ("blob:novera/<id>").
type AudioHandle string

// IsZero reports whether the handle is empty.
func (h AudioHandle) IsZero() bool {
	return h == ""
}

// IsBlob reports whether the handle points into a blob registry.
func (h AudioHandle) IsBlob() bool {
	return strings.HasPrefix(string(h), BlobScheme)
}

// BlobScheme prefixes handles minted by a blob registry.
const BlobScheme = "blob:novera/"

// Synthesizer converts text to a playable audio handle.
//
// Implementations fail soft: every network, HTTP or quota problem is reported
// as an error value and never as a panic. Texts below the implementation's
// minimum length are rejected without a network round-trip. A successful call
// allocates a handle that the caller must eventually release.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (AudioHandle, error)
}

// HandleReleaser releases transient handles returned by a Synthesizer.
type HandleReleaser interface {
	Revoke(h AudioHandle)
}

// AudioOutput is the single process-wide audio channel.
//
// Play starts playback of h and returns once playback has started (or failed
// to start). onEnded is invoked at most once, from any goroutine, when the clip
// finishes naturally; it is never invoked after Stop or after a newer Play.
type AudioOutput interface {
	Play(ctx context.Context, h AudioHandle, onEnded func()) error
	Stop() error
}

// MessageStore is the externally owned message list. The pipeline only writes
// the ttsError annotation and the playing-message indicator.
type MessageStore interface {
	SetTTSError(messageID, text string)
	ClearTTSError(messageID string)
	SetPlaying(messageID string)
}

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Source is a citation attached to a streamed response.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
	Index int    `json:"index"`
}

// ToolCall is a tool invocation requested by the chat model.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ChatChunk is one increment of a streamed chat response. The narration
// pipeline only consumes TextDelta.
type ChatChunk struct {
	TextDelta string
	ToolCalls []ToolCall
	Sources   []Source
}

// HistoryEntry is one prior turn passed to a chat collaborator.
type HistoryEntry struct {
	Role Role
	Text string
}

// ChatStreamer produces an ordered stream of chunks for a query. The chunk
// channel is closed when the response is complete; a non-nil value on the
// error channel means the stream ended early.
type ChatStreamer interface {
	Stream(ctx context.Context, query string, history []HistoryEntry) (<-chan ChatChunk, <-chan error)
}

// Voice is a selectable synthesis voice.
type Voice struct {
	ID   string
	Name string
}

// AvailableVoices lists the voices offered by default.
var AvailableVoices = []Voice{
	{ID: "TX3LPaxmHKxFdv7VOQHJ", Name: "Liam"},
	{ID: "6GYyziau4Hk8qdg7od5c", Name: "Betül"},
	{ID: "SMRHdMmNcA5RcHlk7xCP", Name: "Cansu"},
	{ID: "kIfcKu9kr8RZrbz7H3ox", Name: "Will"},
}

// DefaultVoiceID is the voice used when none is configured.
const DefaultVoiceID = "TX3LPaxmHKxFdv7VOQHJ"

// LookupVoice resolves a voice by ID or by case-insensitive name. A partial
// name such as "cns" resolves when it fuzzy-matches exactly one voice.
func LookupVoice(idOrName string) (Voice, bool) {
	for _, v := range AvailableVoices {
		if v.ID == idOrName || strings.EqualFold(v.Name, idOrName) {
			return v, true
		}
	}
	if idOrName == "" {
		return Voice{}, false
	}

	names := make([]string, len(AvailableVoices))
	for i, v := range AvailableVoices {
		names[i] = strings.ToLower(v.Name)
	}
	if matches := fuzzy.Find(strings.ToLower(idOrName), names); len(matches) == 1 {
		return AvailableVoices[matches[0].Index], true
	}
	return Voice{}, false
}
