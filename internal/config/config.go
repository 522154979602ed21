// Package config holds the novera configuration schema, its defaults and
// validation, and the glue that loads it through viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/chat"
	"github.com/novera-ai/novera/internal/narration"
	"github.com/novera-ai/novera/internal/playback"
	"github.com/novera-ai/novera/internal/synth"
	"github.com/novera-ai/novera/internal/ttypes"
)

// AppName names the config file, the env prefix and the app directories.
const AppName = "novera"

// Config is the complete file/env/flag configuration.
type Config struct {
	Voice     VoiceConfig     `mapstructure:"voice"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Narration NarrationConfig `mapstructure:"narration"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// VoiceConfig selects and tunes the synthesis voice.
type VoiceConfig struct {
	ID              string  `mapstructure:"id"`
	Model           string  `mapstructure:"model"`
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
}

// SynthesisConfig configures the ElevenLabs client.
type SynthesisConfig struct {
	BaseURL           string          `mapstructure:"base_url"`
	OutputFormat      string          `mapstructure:"output_format"`
	Timeout           time.Duration   `mapstructure:"timeout"`
	MinChars          int             `mapstructure:"min_chars"`
	RequestsPerMinute int             `mapstructure:"requests_per_minute"`
	DiskCache         DiskCacheConfig `mapstructure:"disk_cache"`
}

// DiskCacheConfig configures the persistent synthesis cache.
type DiskCacheConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Dir              string `mapstructure:"dir"`
	MaxSize          int    `mapstructure:"max_size"` // MB
	CompressionLevel int    `mapstructure:"compression_level"`
}

// PlaybackConfig tunes the sequencer and the audio device.
type PlaybackConfig struct {
	Lookahead      int           `mapstructure:"lookahead"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	RetainSessions int           `mapstructure:"retain_sessions"`
	CacheGrace     time.Duration `mapstructure:"cache_grace"`
	SampleRate     int           `mapstructure:"sample_rate"`
	Volume         float64       `mapstructure:"volume"`
}

// NarrationConfig controls when responses are spoken.
type NarrationConfig struct {
	Live     bool `mapstructure:"live"`
	Backfill bool `mapstructure:"backfill"`
	AutoPlay bool `mapstructure:"auto_play"`
}

// ChatConfig configures the chat collaborator.
type ChatConfig struct {
	Model        string  `mapstructure:"model"`
	History      int     `mapstructure:"history"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
}

// ServerConfig configures `novera serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Secrets are read from the environment only, never from the config file.
type Secrets struct {
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
}

// Default returns the built-in configuration.
func Default() Config {
	sc := synth.DefaultConfig()
	pc := playback.DefaultConfig()
	nc := narration.DefaultConfig()
	cc := chat.DefaultConfig()
	ac := audio.DefaultPlayerConfig()

	return Config{
		Voice: VoiceConfig{
			ID:              ttypes.DefaultVoiceID,
			Model:           sc.Model,
			Stability:       sc.Stability,
			SimilarityBoost: sc.SimilarityBoost,
		},
		Synthesis: SynthesisConfig{
			BaseURL:           sc.BaseURL,
			OutputFormat:      sc.OutputFormat,
			Timeout:           sc.Timeout,
			MinChars:          sc.MinChars,
			RequestsPerMinute: sc.RequestsPerMin,
			DiskCache: DiskCacheConfig{
				Enabled:          true,
				Dir:              defaultCacheDir(),
				MaxSize:          100,
				CompressionLevel: 3,
			},
		},
		Playback: PlaybackConfig{
			Lookahead:      pc.Lookahead,
			RetryAttempts:  pc.RetryAttempts,
			RetryDelay:     pc.RetryDelay,
			ChunkSize:      nc.ChunkSize,
			RetainSessions: 8,
			CacheGrace:     10 * time.Minute,
			SampleRate:     ac.SampleRate,
			Volume:         ac.Volume,
		},
		Narration: NarrationConfig{
			Live:     nc.Live,
			Backfill: nc.Backfill,
			AutoPlay: nc.AutoPlay,
		},
		Chat: ChatConfig{
			Model:        cc.Model,
			History:      nc.History,
			SystemPrompt: cc.SystemPrompt,
			Temperature:  float64(cc.Temperature),
		},
		Server: ServerConfig{Addr: "127.0.0.1:8765"},
		Log:    LogConfig{Level: "info"},
	}
}

func defaultCacheDir() string {
	dir, err := gap.NewScope(gap.User, AppName).DataPath("audio")
	if err != nil {
		return filepath.Join("~", ".cache", AppName, "audio")
	}
	return dir
}

// Validate checks value ranges and expands paths in place.
func (c *Config) Validate() error {
	var errs []error

	if c.Voice.ID == "" {
		errs = append(errs, errors.New("voice.id must not be empty"))
	}
	if c.Voice.Stability < 0 || c.Voice.Stability > 1 {
		errs = append(errs, fmt.Errorf("voice.stability must be between 0 and 1, got %.2f", c.Voice.Stability))
	}
	if c.Voice.SimilarityBoost < 0 || c.Voice.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("voice.similarity_boost must be between 0 and 1, got %.2f", c.Voice.SimilarityBoost))
	}

	if !strings.HasPrefix(c.Synthesis.OutputFormat, "pcm_") {
		errs = append(errs, fmt.Errorf("synthesis.output_format must be pcm_<rate>, got %q", c.Synthesis.OutputFormat))
	}
	if c.Synthesis.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("synthesis.timeout must be positive, got %s", c.Synthesis.Timeout))
	}
	if c.Synthesis.MinChars < 0 {
		errs = append(errs, fmt.Errorf("synthesis.min_chars must not be negative, got %d", c.Synthesis.MinChars))
	}
	if c.Synthesis.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("synthesis.requests_per_minute must not be negative, got %d", c.Synthesis.RequestsPerMinute))
	}
	if dc := &c.Synthesis.DiskCache; dc.Enabled {
		if dc.MaxSize < 1 || dc.MaxSize > 10000 {
			errs = append(errs, fmt.Errorf("synthesis.disk_cache.max_size must be between 1 and 10000 MB, got %d", dc.MaxSize))
		}
		if dc.CompressionLevel < 0 || dc.CompressionLevel > 22 {
			errs = append(errs, fmt.Errorf("synthesis.disk_cache.compression_level must be between 0 and 22, got %d", dc.CompressionLevel))
		}
		dir, err := homedir.Expand(dc.Dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("synthesis.disk_cache.dir: %w", err))
		}
		dc.Dir = dir
	}

	p := c.Playback
	if p.Lookahead < 0 || p.Lookahead > 10 {
		errs = append(errs, fmt.Errorf("playback.lookahead must be between 0 and 10, got %d", p.Lookahead))
	}
	if p.RetryAttempts < 0 || p.RetryAttempts > 5 {
		errs = append(errs, fmt.Errorf("playback.retry_attempts must be between 0 and 5, got %d", p.RetryAttempts))
	}
	if p.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("playback.retry_delay must not be negative, got %s", p.RetryDelay))
	}
	if p.ChunkSize < 20 {
		errs = append(errs, fmt.Errorf("playback.chunk_size must be at least 20, got %d", p.ChunkSize))
	}
	if p.RetainSessions < 0 {
		errs = append(errs, fmt.Errorf("playback.retain_sessions must not be negative, got %d", p.RetainSessions))
	}
	if p.SampleRate != 44100 && p.SampleRate != 48000 {
		errs = append(errs, fmt.Errorf("playback.sample_rate must be 44100 or 48000 Hz, got %d", p.SampleRate))
	}
	if hz, err := strconv.Atoi(strings.TrimPrefix(c.Synthesis.OutputFormat, "pcm_")); err == nil && hz != p.SampleRate {
		errs = append(errs, fmt.Errorf("synthesis.output_format %q does not match playback.sample_rate %d", c.Synthesis.OutputFormat, p.SampleRate))
	}
	if p.Volume < 0 || p.Volume > 1 {
		errs = append(errs, fmt.Errorf("playback.volume must be between 0.0 and 1.0, got %.2f", p.Volume))
	}

	if c.Chat.History < 0 {
		errs = append(errs, fmt.Errorf("chat.history must not be negative, got %d", c.Chat.History))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.File != "" {
		file, err := homedir.Expand(c.Log.File)
		if err != nil {
			errs = append(errs, fmt.Errorf("log.file: %w", err))
		}
		c.Log.File = file
	}

	return errors.Join(errs...)
}

// SynthConfig returns the synthesis client settings.
func (c Config) SynthConfig(s Secrets) synth.Config {
	return synth.Config{
		BaseURL:         c.Synthesis.BaseURL,
		APIKey:          s.ElevenLabsAPIKey,
		Model:           c.Voice.Model,
		OutputFormat:    c.Synthesis.OutputFormat,
		Stability:       c.Voice.Stability,
		SimilarityBoost: c.Voice.SimilarityBoost,
		Timeout:         c.Synthesis.Timeout,
		MinChars:        c.Synthesis.MinChars,
		RequestsPerMin:  c.Synthesis.RequestsPerMinute,
	}
}

// PlaybackConfig returns the sequencer tuning.
func (c Config) PlaybackConfig() playback.Config {
	pc := playback.DefaultConfig()
	pc.VoiceID = c.VoiceID()
	pc.Lookahead = c.Playback.Lookahead
	pc.RetryAttempts = c.Playback.RetryAttempts
	pc.RetryDelay = c.Playback.RetryDelay
	return pc
}

// PlayerConfig returns the audio device settings.
func (c Config) PlayerConfig() audio.PlayerConfig {
	pc := audio.DefaultPlayerConfig()
	pc.SampleRate = c.Playback.SampleRate
	pc.Volume = c.Playback.Volume
	return pc
}

// NarrationConfig returns the controller settings.
func (c Config) NarrationConfig() narration.Config {
	return narration.Config{
		Live:      c.Narration.Live,
		Backfill:  c.Narration.Backfill,
		AutoPlay:  c.Narration.AutoPlay,
		ChunkSize: c.Playback.ChunkSize,
		History:   c.Chat.History,
	}
}

// ChatConfig returns the OpenAI client settings.
func (c Config) ChatConfig(s Secrets) chat.Config {
	return chat.Config{
		APIKey:       s.OpenAIAPIKey,
		BaseURL:      s.OpenAIBaseURL,
		Model:        c.Chat.Model,
		SystemPrompt: c.Chat.SystemPrompt,
		Temperature:  float32(c.Chat.Temperature),
		MaxTokens:    c.Chat.MaxTokens,
	}
}

// VoiceID resolves voice.id, which may also name a voice from the catalogue.
func (c Config) VoiceID() string {
	if v, ok := ttypes.LookupVoice(c.Voice.ID); ok {
		return v.ID
	}
	return c.Voice.ID
}
