// Package synth turns text into playable audio handles through the
// ElevenLabs text-to-speech API.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/metrics"
	"github.com/novera-ai/novera/internal/ttypes"
)

// Fetcher returns raw PCM for a text. Client and Cached implement it.
type Fetcher interface {
	Fetch(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Config configures a Client.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	OutputFormat    string // pcm_<rate>
	Stability       float64
	SimilarityBoost float64
	Timeout         time.Duration
	MinChars        int
	RequestsPerMin  int
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://api.elevenlabs.io/v1",
		Model:           "eleven_multilingual_v2",
		OutputFormat:    "pcm_44100",
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Timeout:         30 * time.Second,
		MinChars:        5,
		RequestsPerMin:  120,
	}
}

// Format returns the PCM format produced by the configured output format.
func (c Config) Format() (audio.Format, error) {
	var hz int
	if _, err := fmt.Sscanf(c.OutputFormat, "pcm_%d", &hz); err != nil || hz <= 0 {
		return audio.Format{}, fmt.Errorf("unsupported output format %q: only pcm_<rate> can be played", c.OutputFormat)
	}
	return audio.Format{SampleRate: hz, Channels: 1}, nil
}

// Client is the ElevenLabs text-to-speech client.
type Client struct {
	config  Config
	format  audio.Format
	http    *http.Client
	limiter *rate.Limiter
	blobs   *audio.Blobs
	metrics *metrics.Metrics
	logger  *log.Logger
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type apiError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// NewClient creates a Client that registers synthesized audio in blobs.
func NewClient(config Config, blobs *audio.Blobs, m *metrics.Metrics, logger *log.Logger) (*Client, error) {
	format, err := config.Format()
	if err != nil {
		return nil, err
	}
	if config.MinChars <= 0 {
		config.MinChars = DefaultConfig().MinChars
	}

	limit := rate.Inf
	if config.RequestsPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RequestsPerMin))
	}

	return &Client{
		config:  config,
		format:  format,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, max(config.RequestsPerMin/10, 1)),
		blobs:   blobs,
		metrics: m,
		logger:  logger.WithPrefix("synth"),
	}, nil
}

// Format returns the PCM format of fetched audio.
func (c *Client) Format() audio.Format {
	return c.format
}

// Synthesize fetches audio for text and registers it as a new handle.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) (ttypes.AudioHandle, error) {
	pcm, err := c.Fetch(ctx, text, voiceID)
	if err != nil {
		return "", err
	}
	return c.blobs.Create(pcm, c.format), nil
}

// Fetch calls the API and returns raw PCM.
func (c *Client) Fetch(ctx context.Context, text, voiceID string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < c.config.MinChars {
		c.metrics.SynthResult("too_short", 0)
		return nil, ErrTextTooShort
	}
	if c.config.APIKey == "" {
		c.metrics.SynthResult("error", 0)
		return nil, ErrNoAPIKey
	}
	if voiceID == "" {
		voiceID = ttypes.DefaultVoiceID
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, newError(CodeCanceled, "waiting for rate limiter", err)
	}

	start := time.Now()
	pcm, err := c.do(ctx, text, voiceID)
	if err != nil {
		c.metrics.SynthResult("error", time.Since(start))
		c.logger.Warn("synthesis failed", "voice", voiceID, "chars", len(text), "err", err)
		return nil, err
	}
	c.metrics.SynthResult("ok", time.Since(start))
	c.logger.Debug("synthesized", "voice", voiceID, "chars", len(text), "bytes", len(pcm), "took", time.Since(start))
	return pcm, nil
}

func (c *Client) do(ctx context.Context, text, voiceID string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Text:    text,
		ModelID: c.config.Model,
		VoiceSettings: voiceSettings{
			Stability:       c.config.Stability,
			SimilarityBoost: c.config.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, newError(CodeTransport, "encoding request", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(voiceID), url.QueryEscape(c.config.OutputFormat))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newError(CodeTransport, "building request", err)
	}
	req.Header.Set("Accept", "audio/pcm")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(CodeCanceled, "request canceled", ctx.Err())
		}
		return nil, newError(CodeTransport, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(CodeCanceled, "reading audio canceled", ctx.Err())
		}
		return nil, newError(CodeTransport, "reading audio", err)
	}
	if len(pcm) < 2 {
		return nil, newError(CodeEmptyAudio, "response carried no audio", nil)
	}
	// 16-bit samples; drop a dangling byte rather than play noise.
	return pcm[:len(pcm)&^1], nil
}

func statusError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(raw))
	var parsed apiError
	if json.Unmarshal(raw, &parsed) == nil && parsed.Detail.Message != "" {
		message = parsed.Detail.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	code := CodeHTTPStatus
	if resp.StatusCode == http.StatusTooManyRequests || parsed.Detail.Status == "quota_exceeded" {
		code = CodeQuota
	}
	return &Error{Code: code, Message: message, Status: resp.StatusCode}
}
