package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/novera-ai/novera/internal/ttypes"
)

var voicesCmd = &cobra.Command{
	Use:     "voices",
	Short:   "List the voices",
	Long:    paragraph(fmt.Sprintf("\n%s the voices that can be selected by name with --voice or voice.id. Any other ElevenLabs voice ID works too.", keyword("List"))),
	Example: paragraph("novera voices\nnovera speak --voice Cansu \"Merhaba!\""),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		current := cfg.VoiceID()
		selected := lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true)
		dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

		// Styled names carry escape codes, so pad on display width.
		width := runewidth.StringWidth("custom")
		for _, v := range ttypes.AvailableVoices {
			width = max(width, runewidth.StringWidth(v.Name))
		}
		pad := func(s string) string {
			return s + strings.Repeat(" ", width-runewidth.StringWidth(s)+1)
		}

		out := cmd.OutOrStdout()
		known := false
		for _, v := range ttypes.AvailableVoices {
			marker, name := "  ", pad(v.Name)
			if v.ID == current {
				marker, name, known = "* ", selected.Render(pad(v.Name)), true
			}
			fmt.Fprintf(out, "%s%s%s\n", marker, name, dim.Render(v.ID))
		}
		if !known {
			fmt.Fprintf(out, "* %s%s\n", selected.Render(pad("custom")), current)
		}
		return nil
	},
}
