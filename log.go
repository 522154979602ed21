package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/config"
)

// setupLog builds the process logger. With log.file set, records go to that
// file with timestamps; otherwise to stderr.
func setupLog(c config.LogConfig, colored bool) (*log.Logger, func() error, error) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		level = log.InfoLevel
	}

	var (
		out    io.Writer = os.Stderr
		closer           = func() error { return nil }
	)
	opts := log.Options{Level: level}
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
		if err != nil {
			return nil, nil, err
		}
		out, closer = f, f.Close
		opts.ReportTimestamp = true
		opts.TimeFormat = time.RFC3339
	} else if !colored {
		opts.Formatter = log.LogfmtFormatter
	}

	l := log.NewWithOptions(out, opts)
	log.SetDefault(l)
	return l, closer, nil
}

// quietLogs keeps stderr logging from tearing a full-screen view; warnings
// and errors still get through.
func quietLogs(c config.LogConfig) {
	if c.File == "" && logger.GetLevel() < log.WarnLevel {
		logger.SetLevel(log.WarnLevel)
	}
}
