package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/novera-ai/novera/internal/playback"
)

// StatusDisplay tracks sequencer progress for rendering.
type StatusDisplay struct {
	state     playback.State
	messageID string
	sentence  int
	text      string
	played    int
	skipped   int
	retries   int
	lastSkip  string
	ended     string
}

// NewStatusDisplay creates an idle status display.
func NewStatusDisplay() *StatusDisplay {
	return &StatusDisplay{sentence: -1}
}

// Update replaces the display with a sequencer snapshot.
func (s *StatusDisplay) Update(snap playback.Snapshot) {
	s.state = snap.State
	s.messageID = snap.MessageID
	s.sentence = snap.Sentence
	s.text = snap.Text
	s.played = snap.Played
	s.skipped = snap.Skipped
}

// Apply folds one sequencer event into the display.
func (s *StatusDisplay) Apply(ev playback.Event) {
	switch ev.Kind {
	case playback.EventSessionStarted:
		s.messageID = ev.MessageID
		s.sentence = -1
		s.text = ""
		s.played, s.skipped, s.retries = 0, 0, 0
		s.lastSkip, s.ended = "", ""

	case playback.EventSentenceStarted:
		s.sentence = ev.Index
		s.text = ev.Text
		s.played++

	case playback.EventSentenceRetried:
		s.retries++

	case playback.EventSentenceSkipped:
		s.skipped++
		s.lastSkip = ev.Reason

	case playback.EventSessionEnded:
		s.ended = ev.Reason
		s.sentence = -1
		s.text = ""
	}
	s.state = ev.State
}

// Sentence returns the text of the sentence playing, if any.
func (s *StatusDisplay) Sentence() string {
	return s.text
}

// IsActive reports whether a session is speaking or waiting for audio.
func (s *StatusDisplay) IsActive() bool {
	return s.state != playback.StateIdle && s.state != playback.StateInterrupted
}

// Waiting reports whether the sequencer is waiting on synthesis.
func (s *StatusDisplay) Waiting() bool {
	return s.state == playback.StateStalled
}

// Ended returns the reason the last session ended, or "".
func (s *StatusDisplay) Ended() string {
	return s.ended
}

// CompactStatus returns a one-line status.
func (s *StatusDisplay) CompactStatus() string {
	style := lipgloss.NewStyle().Foreground(s.stateColor())
	status := style.Render(fmt.Sprintf("%s %s", s.stateIcon(), s.state))

	if s.played > 0 || s.skipped > 0 {
		counter := fmt.Sprintf(" %d spoken", s.played)
		if s.skipped > 0 {
			counter += fmt.Sprintf(", %d skipped", s.skipped)
		}
		status += dimStyle.Render(counter)
	}
	if s.ended != "" && !s.IsActive() {
		status += dimStyle.Render(" (" + s.ended + ")")
	}
	return status
}

// DetailedStatus returns the status line, the sentence being spoken wrapped
// to width, and the last skip reason.
func (s *StatusDisplay) DetailedStatus(width int) string {
	lines := []string{s.CompactStatus()}

	if s.text != "" {
		text := s.text
		if width > 4 {
			text = wordwrap.String(text, width-2)
		}
		lines = append(lines, sentenceStyle.Render(text))
	}
	if s.retries > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("retried %d time(s)", s.retries)))
	}
	if s.lastSkip != "" {
		reason := s.lastSkip
		if width > 12 {
			reason = truncate.StringWithTail(reason, uint(width-10), "...") //nolint:gosec
		}
		lines = append(lines, errorStyle.Render("skipped: "+reason))
	}
	return strings.Join(lines, "\n")
}

func (s *StatusDisplay) stateColor() lipgloss.Color {
	switch s.state {
	case playback.StatePlaying:
		return lipgloss.Color("#00FF00")
	case playback.StateAdvancing:
		return lipgloss.Color("#88FF88")
	case playback.StateStalled:
		return lipgloss.Color("#00AAFF")
	case playback.StateInterrupted:
		return lipgloss.Color("#FF8800")
	default:
		return lipgloss.Color("#888888")
	}
}

func (s *StatusDisplay) stateIcon() string {
	switch s.state {
	case playback.StatePlaying, playback.StateAdvancing:
		return "▶"
	case playback.StateStalled:
		return "⟳"
	case playback.StateInterrupted:
		return "◼"
	default:
		return "■"
	}
}
