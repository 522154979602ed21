package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/novera-ai/novera/internal/playback"
	"github.com/novera-ai/novera/internal/segment"
	"github.com/novera-ai/novera/internal/ttypes"
	"github.com/novera-ai/novera/ui"
)

var (
	offline bool
	mute    bool
	tui     bool
	noTUI   bool

	speakCmd = &cobra.Command{
		Use:   "speak [TEXT|-]",
		Short: "Read text aloud",
		Long: paragraph(fmt.Sprintf("\n%s the given text, markdown or a file piped to stdin, sentence by sentence.", keyword("Speak"))) +
			paragraph("Each sentence is synthesized while the previous one plays."),
		Example: paragraph("novera speak \"Salam. Necəsən?\"\ncat notes.md | novera speak\nnovera speak --offline --mute -"),
		RunE:    runSpeak,
	}
)

func runSpeak(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(segment.PlainText(text)) == "" {
		return errors.New("nothing to speak")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	withTUI := useTUI()
	if withTUI {
		// Components copy the level when they derive their loggers.
		quietLogs(cfg.Log)
	}
	p, err := newPipeline(cfg, secrets, pipelineOptions{offline: offline, mute: mute}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.close() }()
	p.start(ctx)

	m := p.store.Append(ttypes.RoleModel, text)
	if withTUI {
		return speakWithTUI(p, m.ID, text)
	}

	events, unsubscribe := p.sequencer.Subscribe(256)
	defer unsubscribe()
	if !p.controller.PlayRequested(m.ID, "") {
		return errors.New("nothing to speak")
	}
	return followSession(ctx, cmd.OutOrStdout(), events, m.ID)
}

func speakWithTUI(p *pipeline, messageID, text string) error {
	uc, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	uc.Title = firstLine(segment.PlainText(text))
	uc.QuitOnEnd = true

	prog := ui.NewProgram(uc, p.sequencer, ui.Controls{Stop: p.controller.StopRequested})
	if !p.controller.PlayRequested(messageID, "") {
		return errors.New("nothing to speak")
	}
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	if m, ok := p.store.Get(messageID); ok && m.TTSError != "" {
		return errors.New(m.TTSError)
	}
	return nil
}

// followSession prints each sentence as it starts and returns when the
// session for messageID ends.
func followSession(ctx context.Context, w io.Writer, events <-chan playback.Event, messageID string) error {
	skipped := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.MessageID != messageID {
				continue
			}
			switch ev.Kind {
			case playback.EventSentenceStarted:
				fmt.Fprintln(w, ev.Text)
			case playback.EventSentenceSkipped:
				skipped++
				logger.Warn("Skipped sentence", "index", ev.Index, "reason", ev.Reason)
			case playback.EventSessionEnded:
				if skipped > 0 && ev.Reason == playback.EndCompleted {
					return fmt.Errorf("%d sentence(s) could not be spoken", skipped)
				}
				return nil
			}
		}
	}
}

// readInput returns the text from args, or stdin for "-" or a pipe.
func readInput(args []string) (string, error) {
	fromStdin := len(args) == 1 && args[0] == "-"
	if len(args) == 0 {
		yes, err := stdinIsPipe()
		if err != nil {
			return "", err
		}
		if !yes {
			return "", errors.New("no text given: pass TEXT or pipe it to stdin")
		}
		fromStdin = true
	}
	if !fromStdin {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("unable to read from stdin: %w", err)
	}
	return string(b), nil
}

func useTUI() bool {
	if noTUI {
		return false
	}
	return tui || (stdoutIsTerminal() && !mute)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	for _, c := range []*cobra.Command{speakCmd, chatCmd, narrateCmd} {
		c.Flags().BoolVar(&offline, "offline", false, "synthesize silence instead of calling the speech API")
		c.Flags().BoolVar(&mute, "mute", false, "do not open the audio device")
	}
	speakCmd.Flags().BoolVarP(&tui, "tui", "t", false, "show the status view")
	speakCmd.Flags().BoolVar(&noTUI, "no-tui", false, "print sentences instead of showing the status view")
}
