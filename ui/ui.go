// Package ui provides the terminal status view shown while novera speaks.
package ui

import (
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/termenv"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/playback"
)

const levelWidth = 12

// Source is the playback the view observes.
type Source interface {
	Snapshot() playback.Snapshot
	Subscribe(buffer int) (<-chan playback.Event, func())
	Tap() *audio.Tap
}

// Controls are the actions bound to keys. Nil fields disable their key.
type Controls struct {
	Stop func()
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, src Source, controls Controls) *tea.Program {
	log.Debug("Starting status view", "meter", cfg.ShowMeter, "quit_on_end", cfg.QuitOnEnd)

	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, src, controls), opts...)
}

type (
	eventMsg  playback.Event
	frameMsg  audio.Frame
	closedMsg struct{}
)

type model struct {
	cfg      Config
	controls Controls
	width    int

	status  *StatusDisplay
	frame   audio.Frame
	spinner spinner.Model

	events      <-chan playback.Event
	frames      <-chan audio.Frame
	unsubscribe []func()
	quitting    bool
	notice      string
}

func newModel(cfg Config, src Source, controls Controls) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dimStyle

	m := model{
		cfg:      cfg,
		controls: controls,
		status:   NewStatusDisplay(),
		spinner:  sp,
	}
	m.status.Update(src.Snapshot())

	var cancel func()
	m.events, cancel = src.Subscribe(64)
	m.unsubscribe = append(m.unsubscribe, cancel)
	if cfg.ShowMeter && src.Tap() != nil {
		m.frames, cancel = src.Tap().Subscribe(4)
		m.unsubscribe = append(m.unsubscribe, cancel)
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitForEvent(m.events)}
	if m.frames != nil {
		cmds = append(cmds, waitForFrame(m.frames))
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.controls.Stop != nil {
				m.controls.Stop()
			}
			return m.quit()
		case "s", " ":
			if m.controls.Stop != nil {
				m.controls.Stop()
			}
		case "c":
			if text := m.status.Sentence(); text != "" {
				// OSC 52 reaches the terminal over ssh; the native
				// clipboard covers terminals without it.
				termenv.Copy(text)
				_ = clipboard.WriteAll(text)
				m.notice = "Copied sentence"
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		ev := playback.Event(msg)
		m.status.Apply(ev)
		if ev.Kind == playback.EventSentenceStarted {
			m.notice = ""
		}
		if ev.Kind == playback.EventSessionEnded && ev.Reason != playback.EndSuperseded && m.cfg.QuitOnEnd {
			return m.quit()
		}
		return m, waitForEvent(m.events)

	case frameMsg:
		m.frame = audio.Frame(msg)
		return m, waitForFrame(m.frames)

	case closedMsg:
		return m.quit()
	}
	return m, nil
}

func (m model) quit() (tea.Model, tea.Cmd) {
	if !m.quitting {
		m.quitting = true
		for _, cancel := range m.unsubscribe {
			cancel()
		}
	}
	return m, tea.Quit
}

func (m model) View() string {
	width := m.width
	if width <= 0 || (m.cfg.MaxWidth > 0 && width > int(m.cfg.MaxWidth)) { //nolint:gosec
		width = int(m.cfg.MaxWidth) //nolint:gosec
	}

	var b strings.Builder
	if m.cfg.Title != "" {
		title := m.cfg.Title
		if width > 4 {
			title = truncate.StringWithTail(title, uint(width), "…") //nolint:gosec
		}
		b.WriteString(titleStyle.Render(title) + "\n")
	}

	line := m.status.CompactStatus()
	if m.status.Waiting() {
		line = m.spinner.View() + line
	}
	b.WriteString(line + "\n")

	if m.cfg.ShowMeter && m.frames != nil {
		b.WriteString(RenderMeter(m.frame, levelWidth) + "\n")
	}
	if detail := strings.TrimPrefix(m.status.DetailedStatus(width), m.status.CompactStatus()); detail != "" {
		b.WriteString(strings.TrimPrefix(detail, "\n") + "\n")
	}
	if m.notice != "" {
		b.WriteString(dimStyle.Render(m.notice) + "\n")
	}
	if m.cfg.ShowHelp && !m.quitting {
		b.WriteString(dimStyle.Render("s stop • c copy sentence • q quit") + "\n")
	}
	return b.String()
}

func waitForEvent(ch <-chan playback.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func waitForFrame(ch <-chan audio.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return nil
		}
		return frameMsg(f)
	}
}
