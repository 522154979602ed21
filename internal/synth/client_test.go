package synth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/cache"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *audio.Blobs, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	config := DefaultConfig()
	config.BaseURL = srv.URL
	config.APIKey = "test-key"
	config.RequestsPerMin = 0

	blobs := audio.NewBlobs()
	c, err := NewClient(config, blobs, nil, testLogger())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, blobs, &hits
}

func TestClient_Synthesize(t *testing.T) {
	var got speechRequest
	c, blobs, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/text-to-speech/voice-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != "pcm_44100" {
			t.Errorf("output_format = %q", r.URL.Query().Get("output_format"))
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		_, _ = w.Write(make([]byte, 883)) // odd length on purpose
	})

	h, err := c.Synthesize(context.Background(), "  Salam dünya.  ", "voice-1")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !h.IsBlob() {
		t.Errorf("handle %q is not a blob handle", h)
	}

	clip, err := blobs.Open(h)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(clip.PCM) != 882 {
		t.Errorf("PCM length = %d, want 882", len(clip.PCM))
	}
	if clip.Format != audio.DefaultFormat {
		t.Errorf("Format = %+v", clip.Format)
	}

	if got.Text != "Salam dünya." {
		t.Errorf("text = %q", got.Text)
	}
	if got.ModelID != "eleven_multilingual_v2" {
		t.Errorf("model_id = %q", got.ModelID)
	}
	if got.VoiceSettings.Stability != 0.5 || got.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("voice_settings = %+v", got.VoiceSettings)
	}
}

func TestClient_TextTooShortSkipsNetwork(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "     "},
		{"four characters", "Hey!"},
		{"padded four characters", "   Yes.   "},
	}

	c, _, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0, 0})
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Synthesize(context.Background(), tt.text, "v")
			if !errors.Is(err, ErrTextTooShort) {
				t.Errorf("error = %v, want ErrTextTooShort", err)
			}
		})
	}
	if hits.Load() != 0 {
		t.Errorf("%d requests reached the server", hits.Load())
	}
}

func TestClient_FailsSoft(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  ErrorCode
		retryable bool
	}{
		{"quota by status", http.StatusTooManyRequests, "", CodeQuota, false},
		{"quota by detail", http.StatusUnauthorized, `{"detail":{"status":"quota_exceeded","message":"out of credits"}}`, CodeQuota, false},
		{"bad request", http.StatusBadRequest, "nope", CodeHTTPStatus, false},
		{"server error", http.StatusBadGateway, "", CodeHTTPStatus, true},
		{"empty audio", http.StatusOK, "", CodeEmptyAudio, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, blobs, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			h, err := c.Synthesize(context.Background(), "A long enough text.", "v")
			if err == nil {
				t.Fatalf("Synthesize() = %q, want error", h)
			}
			if got := CodeOf(err); got != tt.wantCode {
				t.Errorf("code = %s, want %s (%v)", got, tt.wantCode, err)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", IsRetryable(err), tt.retryable)
			}
			if blobs.Len() != 0 {
				t.Error("failed synthesis allocated a handle")
			}
		})
	}
}

func TestClient_NoAPIKey(t *testing.T) {
	c, err := NewClient(DefaultConfig(), audio.NewBlobs(), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Synthesize(context.Background(), "Hello there.", "v"); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}
}

func TestClient_Canceled(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Synthesize(ctx, "Hello there.", "v")
	if CodeOf(err) != CodeCanceled {
		t.Errorf("code = %s, want CANCELED (%v)", CodeOf(err), err)
	}
}

func TestConfig_Format(t *testing.T) {
	tests := []struct {
		format  string
		want    int
		wantErr bool
	}{
		{"pcm_44100", 44100, false},
		{"pcm_24000", 24000, false},
		{"mp3_44100_128", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			c := DefaultConfig()
			c.OutputFormat = tt.format
			got, err := c.Format()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Format() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.SampleRate != tt.want {
				t.Errorf("SampleRate = %d, want %d", got.SampleRate, tt.want)
			}
		})
	}
}

func TestCached_ServesRepeatsFromDisk(t *testing.T) {
	c, blobs, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	})
	store, err := cache.NewDiskStore(t.TempDir(), 1<<20, 3)
	if err != nil {
		t.Fatal(err)
	}
	cached, err := NewCached(c, store, blobs, DefaultConfig(), nil, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	first, err := cached.Synthesize(context.Background(), "Repeated phrase.", "v")
	if err != nil {
		t.Fatal(err)
	}
	second, err := cached.Synthesize(context.Background(), "Repeated phrase.", "v")
	if err != nil {
		t.Fatal(err)
	}

	if hits.Load() != 1 {
		t.Errorf("upstream hit %d times, want 1", hits.Load())
	}
	if first == second {
		t.Error("each synthesis must mint its own handle")
	}
	if _, err := cached.Synthesize(context.Background(), "Repeated phrase.", "other-voice"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("a different voice must miss the disk cache")
	}
}
