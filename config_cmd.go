package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/novera-ai/novera/internal/config"
)

const defaultConfig = `# Synthesis voice
voice:
  # voice ID, or a name from "novera voices"
  id: "TX3LPaxmHKxFdv7VOQHJ"
  model: "eleven_multilingual_v2"
  stability: 0.5
  similarity_boost: 0.75

# ElevenLabs API (the key is read from ELEVENLABS_API_KEY)
synthesis:
  base_url: "https://api.elevenlabs.io/v1"
  # only pcm_<rate> formats can be played
  output_format: "pcm_44100"
  timeout: "30s"
  # shorter sentences are skipped without a request
  min_chars: 5
  requests_per_minute: 120
  # synthesized audio kept across runs
  disk_cache:
    enabled: true
    # dir: "~/.local/share/novera/audio"
    max_size: 100 # MB
    compression_level: 3

playback:
  # sentences synthesized ahead of the one playing
  lookahead: 2
  retry_attempts: 1
  retry_delay: "300ms"
  # largest unit, in characters, when a finished message is played
  chunk_size: 400
  # finished messages whose audio is kept for replay
  retain_sessions: 8
  cache_grace: "10m"
  sample_rate: 44100
  volume: 1.0

narration:
  # speak every response while it streams
  live: false
  # when narration starts mid-response, also speak what was already shown
  backfill: false
  # play a finished response that was not narrated live
  auto_play: true

# Chat model (the key is read from OPENAI_API_KEY, OPENAI_BASE_URL overrides the endpoint)
chat:
  model: "gpt-4o-mini"
  # prior turns sent with each question
  history: 10
  temperature: 0.7

server:
  addr: "127.0.0.1:8765"

log:
  level: "info"
  # file: "~/.cache/novera/novera.log"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the novera config file",
	Long:    paragraph(fmt.Sprintf("\n%s the novera config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("novera config\nnovera config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	// An invalid file must stay editable.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Novera", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

// findConfigFile returns the first existing novera.yml (or .yaml) on the
// search path, or where a new one should go.
func findConfigFile() (string, error) {
	dirs, err := config.ConfigDirs()
	if err != nil {
		return "", err
	}
	if len(dirs) == 0 {
		return "", errors.New("no configuration directory available")
	}
	for _, dir := range dirs {
		for _, ext := range []string{".yml", ".yaml"} {
			p := filepath.Join(dir, config.AppName+ext)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return filepath.Join(dirs[0], config.AppName+".yml"), nil
}

func ensureConfigFile() error {
	if configFile == "" {
		p, err := findConfigFile()
		if err != nil {
			return fmt.Errorf("could not find configuration file: %w", err)
		}
		configFile = p
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
