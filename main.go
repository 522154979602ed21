// Package main provides the entry point for the novera command.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/novera-ai/novera/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	cfg        config.Config
	secrets    config.Secrets
	logger     = log.New(io.Discard)
	logCloser  = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "novera",
		Short: "Speak chat responses aloud, sentence by sentence",
		Long: paragraph(fmt.Sprintf("\nSpeak %s, one sentence at a time, starting before the response is complete.", keyword("chat responses"))) +
			paragraph("Run "+keyword("novera speak")+" to read text aloud, "+keyword("novera chat")+" to ask a question and hear the answer, or "+keyword("novera serve")+" to drive playback over HTTP."),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
	}
)

func paragraph(s string) string {
	return lipgloss.NewStyle().Width(78).Render(s)
}

func keyword(s string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render(s)
}

// loadConfig reads the config file, environment and flags, then sets up
// logging. It runs before every command.
func loadConfig(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	if err := config.Prepare(v, configFile); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	s, err := config.LoadSecrets()
	if err != nil {
		return err
	}
	cfg, secrets = c, s

	logger, logCloser, err = setupLog(cfg.Log, stderrIsTerminal())
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("Using configuration file", "path", used)
	}
	logger.Debug("Starting", "command", cmd.Name(), "version", rootCmd.Version)
	return nil
}

func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd())) //nolint:gosec
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	err := rootCmd.Execute()
	_ = logCloser()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = loadConfig

	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	dirs, _ := config.ConfigDirs()
	defaultPath := "novera.yml"
	if len(dirs) > 0 {
		defaultPath = filepath.Join(dirs[0], "novera.yml")
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", defaultPath))
	flags.String("voice", "", "voice ID or name, see novera voices")
	flags.Int("lookahead", 0, "sentences synthesized ahead of the one playing")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("live", false, "narrate responses while they stream")
	flags.Bool("backfill", false, "when narration starts mid-response, also speak what was already shown")

	// Config bindings
	_ = viper.BindPFlag("voice.id", flags.Lookup("voice"))
	_ = viper.BindPFlag("playback.lookahead", flags.Lookup("lookahead"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("narration.live", flags.Lookup("live"))
	_ = viper.BindPFlag("narration.backfill", flags.Lookup("backfill"))

	rootCmd.AddCommand(configCmd, manCmd, speakCmd, chatCmd, narrateCmd, serveCmd, voicesCmd, cacheCmd)
}
