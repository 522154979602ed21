package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/chat"
	"github.com/novera-ai/novera/internal/config"
	"github.com/novera-ai/novera/internal/messages"
	"github.com/novera-ai/novera/internal/playback"
	"github.com/novera-ai/novera/internal/ttypes"
)

func TestFollowSession(t *testing.T) {
	tests := []struct {
		name    string
		events  []playback.Event
		want    string
		wantErr bool
	}{
		{
			name: "prints sentences of its own message",
			events: []playback.Event{
				{Kind: playback.EventSentenceStarted, MessageID: "other", Text: "Not mine."},
				{Kind: playback.EventSentenceStarted, MessageID: "m1", Text: "Salam."},
				{Kind: playback.EventSentenceStarted, MessageID: "m1", Text: "Necəsən?"},
				{Kind: playback.EventSessionEnded, MessageID: "m1", Reason: playback.EndCompleted},
			},
			want: "Salam.\nNecəsən?\n",
		},
		{
			name: "skipped sentences fail a completed session",
			events: []playback.Event{
				{Kind: playback.EventSentenceSkipped, MessageID: "m1", Index: 0, Reason: "quota"},
				{Kind: playback.EventSentenceStarted, MessageID: "m1", Text: "Yaxşıyam!"},
				{Kind: playback.EventSessionEnded, MessageID: "m1", Reason: playback.EndCompleted},
			},
			want:    "Yaxşıyam!\n",
			wantErr: true,
		},
		{
			name: "stopped session is not an error",
			events: []playback.Event{
				{Kind: playback.EventSentenceSkipped, MessageID: "m1", Reason: "quota"},
				{Kind: playback.EventSessionEnded, MessageID: "m1", Reason: playback.EndStopped},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan playback.Event, len(tt.events))
			for _, ev := range tt.events {
				ch <- ev
			}
			var out bytes.Buffer
			err := followSession(context.Background(), &out, ch, "m1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("followSession() error = %v, wantErr %v", err, tt.wantErr)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestEcho(t *testing.T) {
	user := messages.Message{ID: "u", Role: ttypes.RoleUser, Text: "question"}
	first := messages.Message{ID: "m", Role: ttypes.RoleModel, Text: "Bu uzun"}
	second := first
	second.Text = "Bu uzun bir cümlə deyil."

	ch := make(chan messages.Change, 4)
	ch <- messages.Change{Kind: messages.ChangeAppended, MessageID: "u", Message: &user}
	ch <- messages.Change{Kind: messages.ChangeUpdated, MessageID: "m", Message: &first}
	ch <- messages.Change{Kind: messages.ChangeUpdated, MessageID: "m", Message: &second}
	ch <- messages.Change{Kind: messages.ChangePlaying, MessageID: "m"}
	close(ch)

	var out bytes.Buffer
	written := echo(&out, ch)
	if out.String() != second.Text {
		t.Errorf("echo wrote %q, want %q", out.String(), second.Text)
	}
	if written["m"] != len(second.Text) {
		t.Errorf("written[m] = %d, want %d", written["m"], len(second.Text))
	}
	if _, ok := written["u"]; ok {
		t.Error("user messages should not be echoed")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("\n  Title\nbody"); got != "Title" {
		t.Errorf("firstLine() = %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine() = %q", got)
	}
}

func TestEnsureConfigFile(t *testing.T) {
	old := configFile
	t.Cleanup(func() { configFile = old })

	t.Run("writes the default config", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "nested", "novera.yml")
		if err := ensureConfigFile(); err != nil {
			t.Fatalf("ensureConfigFile() error = %v", err)
		}
		b, err := os.ReadFile(configFile)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != defaultConfig {
			t.Error("new config file should hold the default config")
		}
	})

	t.Run("keeps an existing file", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "novera.yaml")
		if err := os.WriteFile(configFile, []byte("voice:\n  id: Will\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := ensureConfigFile(); err != nil {
			t.Fatalf("ensureConfigFile() error = %v", err)
		}
		b, _ := os.ReadFile(configFile)
		if !strings.Contains(string(b), "Will") {
			t.Error("existing config was overwritten")
		}
	})

	t.Run("rejects other formats", func(t *testing.T) {
		configFile = filepath.Join(t.TempDir(), "novera.toml")
		if err := ensureConfigFile(); err == nil {
			t.Error("expected an error for a .toml config")
		}
	})
}

func TestFindConfigFile_PrefersExisting(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NOVERA_CONFIG_HOME", dir)

	got, err := findConfigFile()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "novera.yml"); got != want {
		t.Errorf("findConfigFile() = %q, want %q", got, want)
	}

	existing := filepath.Join(dir, "novera.yaml")
	if err := os.WriteFile(existing, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if got, _ := findConfigFile(); got != existing {
		t.Errorf("findConfigFile() = %q, want %q", got, existing)
	}
}

func TestSetupLog_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "novera.log")
	l, closeLog, err := setupLog(config.LogConfig{Level: "debug", File: file}, false)
	if err != nil {
		t.Fatalf("setupLog() error = %v", err)
	}
	t.Cleanup(func() { log.SetDefault(log.New(io.Discard)) })

	l.Debug("Synthesized", "sentence", 1)
	if err := closeLog(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "Synthesized") || !strings.Contains(string(b), "sentence=1") {
		t.Errorf("log file = %q", b)
	}
}

func testPipeline(t *testing.T, opts pipelineOptions) (*pipeline, context.Context) {
	t.Helper()
	c := config.Default()
	c.Playback.RetryDelay = 10 * time.Millisecond

	opts.offline, opts.mute = true, true
	p, err := newPipeline(c, config.Secrets{}, opts, log.New(io.Discard))
	if err != nil {
		t.Fatalf("newPipeline() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(func() {
		cancel()
		_ = p.close()
	})
	p.start(ctx)
	return p, ctx
}

func TestPipeline_SpeaksMessage(t *testing.T) {
	p, ctx := testPipeline(t, pipelineOptions{})

	events, unsubscribe := p.sequencer.Subscribe(64)
	defer unsubscribe()

	m := p.store.Append(ttypes.RoleModel, "Salam. Necəsən? Yaxşıyam!")
	if !p.controller.PlayRequested(m.ID, "") {
		t.Fatal("PlayRequested() = false")
	}

	var out bytes.Buffer
	if err := followSession(ctx, &out, events, m.ID); err != nil {
		t.Fatalf("followSession() error = %v", err)
	}
	if out.String() != "Salam. Necəsən? Yaxşıyam!\n" {
		t.Errorf("spoken = %q", out.String())
	}
	if got, _ := p.store.Get(m.ID); got.TTSError != "" {
		t.Errorf("unexpected tts error %q", got.TTSError)
	}
}

func TestPipeline_NarratesPipedText(t *testing.T) {
	reader := chat.NewReaderStream(strings.NewReader("Salam. Necəsən? Yaxşıyam!"), 8)
	p, ctx := testPipeline(t, pipelineOptions{chat: reader})

	events, unsubscribe := p.sequencer.Subscribe(64)
	defer unsubscribe()

	m, err := p.controller.Respond(ctx, "(stdin)", true)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if m.Text != "Salam. Necəsən? Yaxşıyam!" {
		t.Errorf("message text = %q", m.Text)
	}

	var out bytes.Buffer
	if err := followSession(ctx, &out, events, m.ID); err != nil {
		t.Fatalf("followSession() error = %v", err)
	}
	if want := "Salam.\nNecəsən?\nYaxşıyam!\n"; out.String() != want {
		t.Errorf("spoken = %q, want %q", out.String(), want)
	}
}
