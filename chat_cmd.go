package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novera-ai/novera/internal/messages"
	"github.com/novera-ai/novera/internal/ttypes"
)

var (
	narrate bool

	chatCmd = &cobra.Command{
		Use:   "chat QUERY",
		Short: "Ask the chat model and hear the answer",
		Long: paragraph(fmt.Sprintf("\n%s a question. The answer is printed as it streams and spoken once it is complete, or sentence by sentence while it streams with --narrate.", keyword("Ask"))) +
			paragraph("Needs OPENAI_API_KEY."),
		Example: paragraph("novera chat \"Bakı haqqında qısa məlumat ver\" --narrate"),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secrets.OpenAIAPIKey == "" {
				return errors.New("OPENAI_API_KEY is not set")
			}
			return respond(cmd, strings.Join(args, " "), pipelineOptions{offline: offline, mute: mute})
		},
	}
)

// respond streams the answer to query into the terminal while the pipeline
// narrates it, then waits for playback of the answer to end.
func respond(cmd *cobra.Command, query string, opts pipelineOptions) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	p, err := newPipeline(cfg, secrets, opts, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.close() }()
	p.start(ctx)

	events, unsubscribe := p.sequencer.Subscribe(256)
	defer unsubscribe()
	changes, unwatch := p.store.Subscribe(256)

	out := cmd.OutOrStdout()
	done := make(chan map[string]int)
	go func() { done <- echo(out, changes) }()

	m, err := p.controller.Respond(ctx, query, narrate || cfg.Narration.Live)
	unwatch()
	// Slow subscribers miss changes; the returned message is complete.
	if n := (<-done)[m.ID]; n < len(m.Text) {
		_, _ = io.WriteString(out, m.Text[n:])
	}
	if m.Text != "" {
		fmt.Fprintln(out)
	}
	if err != nil {
		return err
	}
	for _, s := range m.Sources {
		fmt.Fprintf(out, "  [%d] %s %s\n", s.Index, keyword(s.Title), s.URI)
	}

	if err := p.waitFor(ctx, events, m.ID); err != nil {
		return err
	}
	if m, ok := p.store.Get(m.ID); ok && m.TTSError != "" {
		logger.Warn("Narration incomplete", "message", m.ID, "err", m.TTSError)
	}
	return nil
}

// echo writes the text of streaming model messages as it grows and returns
// how many bytes of each were written.
func echo(w io.Writer, changes <-chan messages.Change) map[string]int {
	written := map[string]int{}
	for c := range changes {
		if c.Message == nil || c.Message.Role != ttypes.RoleModel {
			continue
		}
		text := c.Message.Text
		if n := written[c.MessageID]; len(text) > n {
			_, _ = io.WriteString(w, text[n:])
			written[c.MessageID] = len(text)
		}
	}
	return written
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, narrateCmd} {
		c.Flags().BoolVarP(&narrate, "narrate", "n", false, "speak the answer while it streams")
	}
}
