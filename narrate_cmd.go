package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/novera-ai/novera/internal/chat"
)

var narrateCmd = &cobra.Command{
	Use:   "narrate",
	Short: "Speak text piped to stdin while it arrives",
	Long: paragraph(fmt.Sprintf("\n%s another program's output as it is written. Sentences are spoken as soon as they are complete.", keyword("Narrate"))) +
		paragraph("Without --narrate the text is spoken once the input ends."),
	Example: paragraph("llm \"tell me a story\" | novera narrate -n"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		yes, err := stdinIsPipe()
		if err != nil {
			return err
		}
		if !yes {
			return errors.New("narrate reads from stdin: pipe some text into it")
		}
		opts := pipelineOptions{
			offline: offline,
			mute:    mute,
			chat:    chat.NewReaderStream(os.Stdin, 0),
		}
		return respond(cmd, "(stdin)", opts)
	},
}
