package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/novera-ai/novera/internal/config"
	"github.com/novera-ai/novera/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the playback controls over HTTP",
	Long: paragraph(fmt.Sprintf("\n%s a conversation over HTTP and a websocket event feed. Messages are played, stopped and narrated through the API while the audio plays on this machine.", keyword("Serve"))) +
		paragraph("Voice and lookahead changes in the config file apply without a restart."),
	Example: paragraph("novera serve --addr :8765\ncurl -X POST localhost:8765/api/messages -d '{\"text\":\"Salam\",\"narrate\":true}'"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		p, err := newPipeline(cfg, secrets, pipelineOptions{offline: offline, mute: mute}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = p.close() }()
		p.start(ctx)

		srv, err := server.New(server.Deps{
			Intents: p.controller,
			Player:  p.sequencer,
			Store:   p.store,
			Speech:  p.speech,
			Format:  p.format,
			Metrics: p.metrics,
			Logger:  logger,
		})
		if err != nil {
			return err
		}

		if viper.ConfigFileUsed() != "" {
			config.Watch(viper.GetViper(), logger, func(c config.Config) {
				p.sequencer.SetVoice(c.VoiceID())
				p.sequencer.SetLookahead(c.Playback.Lookahead)
			})
		}

		err = srv.ListenAndServe(ctx, cfg.Server.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "address to listen on (default from server.addr)")
	serveCmd.Flags().BoolVar(&offline, "offline", false, "synthesize silence instead of calling the speech API")
	serveCmd.Flags().BoolVar(&mute, "mute", false, "do not open the audio device")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
