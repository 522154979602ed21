package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// SetDefaults registers every key with its default, so environment
// variables (NOVERA_PLAYBACK_LOOKAHEAD, ...) resolve for keys absent from the
// file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("voice.id", d.Voice.ID)
	v.SetDefault("voice.model", d.Voice.Model)
	v.SetDefault("voice.stability", d.Voice.Stability)
	v.SetDefault("voice.similarity_boost", d.Voice.SimilarityBoost)

	v.SetDefault("synthesis.base_url", d.Synthesis.BaseURL)
	v.SetDefault("synthesis.output_format", d.Synthesis.OutputFormat)
	v.SetDefault("synthesis.timeout", d.Synthesis.Timeout)
	v.SetDefault("synthesis.min_chars", d.Synthesis.MinChars)
	v.SetDefault("synthesis.requests_per_minute", d.Synthesis.RequestsPerMinute)
	v.SetDefault("synthesis.disk_cache.enabled", d.Synthesis.DiskCache.Enabled)
	v.SetDefault("synthesis.disk_cache.dir", d.Synthesis.DiskCache.Dir)
	v.SetDefault("synthesis.disk_cache.max_size", d.Synthesis.DiskCache.MaxSize)
	v.SetDefault("synthesis.disk_cache.compression_level", d.Synthesis.DiskCache.CompressionLevel)

	v.SetDefault("playback.lookahead", d.Playback.Lookahead)
	v.SetDefault("playback.retry_attempts", d.Playback.RetryAttempts)
	v.SetDefault("playback.retry_delay", d.Playback.RetryDelay)
	v.SetDefault("playback.chunk_size", d.Playback.ChunkSize)
	v.SetDefault("playback.retain_sessions", d.Playback.RetainSessions)
	v.SetDefault("playback.cache_grace", d.Playback.CacheGrace)
	v.SetDefault("playback.sample_rate", d.Playback.SampleRate)
	v.SetDefault("playback.volume", d.Playback.Volume)

	v.SetDefault("narration.live", d.Narration.Live)
	v.SetDefault("narration.backfill", d.Narration.Backfill)
	v.SetDefault("narration.auto_play", d.Narration.AutoPlay)

	v.SetDefault("chat.model", d.Chat.Model)
	v.SetDefault("chat.history", d.Chat.History)
	v.SetDefault("chat.system_prompt", d.Chat.SystemPrompt)
	v.SetDefault("chat.temperature", d.Chat.Temperature)
	v.SetDefault("chat.max_tokens", d.Chat.MaxTokens)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// ConfigDirs lists the directories searched for novera.yml, most specific
// first: $NOVERA_CONFIG_HOME, $XDG_CONFIG_HOME/novera, then the platform's
// user config directories.
func ConfigDirs() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("finding config directories: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("NOVERA_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// Prepare points v at the config file (or the search path when file is
// empty) and the NOVERA_ environment, then reads the file. A missing file is
// not an error.
func Prepare(v *viper.Viper, file string) error {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		dirs, err := ConfigDirs()
		if err != nil {
			return err
		}
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if file != "" && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// LoadSecrets reads API credentials from the environment.
func LoadSecrets() (Secrets, error) {
	s, err := env.ParseAs[Secrets]()
	if err != nil {
		return s, fmt.Errorf("reading environment: %w", err)
	}
	return s, nil
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes on disk. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, logger *log.Logger, fn func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Load(v)
		if err != nil {
			logger.Warn("Ignoring config change", "path", e.Name, "err", err)
			return
		}
		logger.Info("Config reloaded", "path", e.Name)
		fn(c)
	})
	v.WatchConfig()
}
