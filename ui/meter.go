package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/novera-ai/novera/internal/audio"
)

var meterRunes = []rune(" ▁▂▃▄▅▆▇█")

var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	sentenceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#DDDDDD")).Italic(true)
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C4A7E7"))
	meterStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CCFD8"))
	levelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F6C177"))
)

// RenderMeter draws a frame as one bar per band followed by a level gauge of
// the given width.
func RenderMeter(f audio.Frame, levelWidth int) string {
	var bars strings.Builder
	for _, v := range f.Bands {
		bars.WriteRune(meterRune(v))
	}

	out := meterStyle.Render(bars.String())
	if levelWidth > 0 {
		filled := int(clamp01(f.Level) * float64(levelWidth))
		out += " " + levelStyle.Render(strings.Repeat("█", filled)) +
			dimStyle.Render(strings.Repeat("░", levelWidth-filled))
	}
	return out
}

func meterRune(v float64) rune {
	i := int(clamp01(v) * float64(len(meterRunes)-1))
	return meterRunes[i]
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
