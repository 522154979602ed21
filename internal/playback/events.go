package playback

import "time"

// Session identifies one narration of one message. It is returned by Start
// and must accompany every Enqueue and Finish for that narration.
type Session struct {
	MessageID  string `json:"messageId"`
	Generation uint64 `json:"generation"`
}

// EventKind names a sequencer event.
type EventKind string

const (
	EventSessionStarted  EventKind = "session_started"
	EventSessionEnded    EventKind = "session_ended"
	EventState           EventKind = "state"
	EventSentenceStarted EventKind = "sentence_started"
	EventSentenceRetried EventKind = "sentence_retried"
	EventSentenceSkipped EventKind = "sentence_skipped"
)

// Session end reasons.
const (
	EndCompleted  = "completed"
	EndStopped    = "stopped"
	EndSuperseded = "superseded"
	EndClosed     = "closed"
)

// Event is published to subscribers as the sequencer works.
type Event struct {
	Kind       EventKind `json:"kind"`
	MessageID  string    `json:"messageId,omitempty"`
	Generation uint64    `json:"generation"`
	State      State     `json:"state"`
	From       State     `json:"from,omitempty"`
	Index      int       `json:"index"`
	Text       string    `json:"text,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Snapshot is a point-in-time view of the sequencer.
type Snapshot struct {
	State      State  `json:"state"`
	MessageID  string `json:"messageId,omitempty"`
	Generation uint64 `json:"generation"`
	// Sentence is the index of the sentence playing or waiting at the head
	// of the queue, -1 when there is none.
	Sentence  int    `json:"sentence"`
	Text      string `json:"text,omitempty"`
	Queued    int    `json:"queued"`
	Played    int    `json:"played"`
	Skipped   int    `json:"skipped"`
	Finished  bool   `json:"finished"`
	VoiceID   string `json:"voiceId"`
	Lookahead int    `json:"lookahead"`
}
