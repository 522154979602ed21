package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/cache"
	"github.com/novera-ai/novera/internal/chat"
	"github.com/novera-ai/novera/internal/config"
	"github.com/novera-ai/novera/internal/messages"
	"github.com/novera-ai/novera/internal/metrics"
	"github.com/novera-ai/novera/internal/narration"
	"github.com/novera-ai/novera/internal/playback"
	"github.com/novera-ai/novera/internal/synth"
	"github.com/novera-ai/novera/internal/ttypes"
)

// pipelineOptions select the collaborators of a pipeline.
type pipelineOptions struct {
	// offline synthesizes silence instead of calling the API.
	offline bool
	// mute plays nothing; clips last as long as their audio would.
	mute bool
	// chat answers queries. Nil means openai when a key is set.
	chat ttypes.ChatStreamer
}

// pipeline is the wired narration stack shared by the commands.
type pipeline struct {
	store      *messages.Store
	blobs      *audio.Blobs
	metrics    *metrics.Metrics
	sessions   *cache.Sessions
	disk       *cache.DiskStore
	speech     synth.Fetcher
	format     audio.Format
	sequencer  *playback.Sequencer
	controller *narration.Controller

	closers []func() error
}

func newPipeline(c config.Config, s config.Secrets, opts pipelineOptions, logger *log.Logger) (p *pipeline, err error) {
	p = &pipeline{
		store:   messages.NewStore(),
		blobs:   audio.NewBlobs(),
		metrics: metrics.New(),
		format:  audio.DefaultFormat,
	}
	defer func() {
		if err != nil {
			_ = p.close()
		}
	}()

	synthesizer, err := p.synthesizer(c, s, opts.offline, logger)
	if err != nil {
		return nil, err
	}

	var output ttypes.AudioOutput
	if opts.mute {
		out := audio.NewScriptedOutput()
		out.Blobs = p.blobs
		output = out
	} else {
		player, err := audio.NewPlayer(c.PlayerConfig(), p.blobs, logger)
		if err != nil {
			return nil, fmt.Errorf("opening audio device: %w", err)
		}
		p.closers = append(p.closers, player.Close)
		output = player
	}

	p.sessions = cache.NewSessions(p.blobs, c.Playback.RetainSessions, c.Playback.CacheGrace)
	p.sequencer, err = playback.New(c.PlaybackConfig(), synthesizer, output, p.store, p.sessions, p.metrics, logger)
	if err != nil {
		return nil, err
	}

	chatter := opts.chat
	if chatter == nil && s.OpenAIAPIKey != "" {
		oa, err := chat.NewOpenAI(c.ChatConfig(s), logger)
		if err != nil {
			return nil, err
		}
		chatter = oa
	}
	p.controller = narration.NewController(p.sequencer, p.store, chatter, c.NarrationConfig(), logger)
	return p, nil
}

func (p *pipeline) synthesizer(c config.Config, s config.Secrets, offline bool, logger *log.Logger) (ttypes.Synthesizer, error) {
	if offline {
		return synth.NewMock(p.blobs), nil
	}

	sc := c.SynthConfig(s)
	if sc.APIKey == "" {
		return nil, errors.New("ELEVENLABS_API_KEY is not set (use --offline to try without it)")
	}
	client, err := synth.NewClient(sc, p.blobs, p.metrics, logger)
	if err != nil {
		return nil, err
	}
	p.format = client.Format()
	p.speech = client

	if !c.Synthesis.DiskCache.Enabled {
		return client, nil
	}
	dc := c.Synthesis.DiskCache
	disk, err := cache.NewDiskStore(dc.Dir, int64(dc.MaxSize)*humanize.MiByte, dc.CompressionLevel)
	if err != nil {
		logger.Warn("Disk cache unavailable", "dir", dc.Dir, "err", err)
		return client, nil
	}
	p.disk = disk
	p.closers = append(p.closers, disk.Close)

	st := disk.Stats()
	logger.Debug("Disk cache opened", "dir", dc.Dir, "entries", st.ItemCount, "size", humanize.IBytes(uint64(st.Size))) //nolint:gosec

	cached, err := synth.NewCached(client, disk, p.blobs, sc, p.metrics, logger)
	if err != nil {
		return nil, err
	}
	p.speech = cached
	return cached, nil
}

// start runs the sequencer until ctx is done or close is called.
func (p *pipeline) start(ctx context.Context) {
	go func() { _ = p.sequencer.Run(ctx) }()
}

// waitFor blocks until the session playing messageID ends, if one is
// active. events must have been subscribed before the session could end.
func (p *pipeline) waitFor(ctx context.Context, events <-chan playback.Event, messageID string) error {
	if p.sequencer.Snapshot().MessageID != messageID {
		// Already over, or never started: drain what is buffered.
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if ev.Kind == playback.EventSessionStarted && ev.MessageID == messageID {
					return p.waitEnd(ctx, events, messageID)
				}
			default:
				return nil
			}
		}
	}
	return p.waitEnd(ctx, events, messageID)
}

func (p *pipeline) waitEnd(ctx context.Context, events <-chan playback.Event, messageID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == playback.EventSessionEnded && ev.MessageID == messageID {
				return nil
			}
		}
	}
}

func (p *pipeline) close() error {
	var errs []error
	if p.sequencer != nil {
		errs = append(errs, p.sequencer.Close())
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	if p.sessions != nil {
		p.sessions.Purge()
	}
	return errors.Join(errs...)
}
