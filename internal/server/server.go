// Package server exposes the narration pipeline over HTTP: the conversation,
// play/stop/narrate intents, a speech proxy, a websocket event feed and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/novera-ai/novera/internal/audio"
	"github.com/novera-ai/novera/internal/messages"
	"github.com/novera-ai/novera/internal/metrics"
	"github.com/novera-ai/novera/internal/playback"
	"github.com/novera-ai/novera/internal/synth"
	"github.com/novera-ai/novera/internal/ttypes"
)

// Intents is the user-intent surface of narration.Controller.
type Intents interface {
	PlayRequested(messageID, fullText string) bool
	StopRequested()
	NarrateLiveResponse(messageID string) bool
	Respond(ctx context.Context, query string, narrate bool) (messages.Message, error)
}

// Player is the observable side of playback.Sequencer.
type Player interface {
	Snapshot() playback.Snapshot
	Subscribe(buffer int) (<-chan playback.Event, func())
	Tap() *audio.Tap
	SetVoice(voiceID string)
}

// Deps are the collaborators a Server drives.
type Deps struct {
	Intents Intents
	Player  Player
	Store   *messages.Store
	// Speech backs POST /api/tts. Nil disables the route.
	Speech  synth.Fetcher
	Format  audio.Format
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Server is the HTTP control surface.
type Server struct {
	deps     Deps
	logger   *log.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. Intents, Player and Store are required.
func New(deps Deps) (*Server, error) {
	if deps.Intents == nil || deps.Player == nil || deps.Store == nil {
		return nil, errors.New("server: intents, player and store are required")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}
	if deps.Format.SampleRate == 0 {
		deps.Format = audio.DefaultFormat
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		deps:   deps,
		logger: deps.Logger.WithPrefix("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}
	r.Get("/events", s.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/messages", s.handleListMessages)
		r.Post("/messages", s.handleSend)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Post("/messages/{id}/play", s.handlePlay)
		r.Post("/messages/{id}/narrate", s.handleNarrate)

		r.Get("/playback", s.handleSnapshot)
		r.Post("/playback/stop", s.handleStop)
		r.Put("/playback/voice", s.handleVoice)
		r.Get("/voices", s.handleVoices)

		if s.deps.Speech != nil {
			r.Post("/tts", s.handleTTS)
		}
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down and waits
// for responses still streaming.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.Close()
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdown)
	s.Close()
	return err
}

// Close cancels background responses and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.deps.Player.Snapshot().State,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Store.List())
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	m, ok := s.deps.Store.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "message_not_found", "no such message")
		return
	}
	respondJSON(w, http.StatusOK, m)
}

type sendRequest struct {
	Query   string `json:"query"`
	Narrate bool   `json:"narrate"`
}

// handleSend starts a response in the background; its progress arrives on
// /events.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	s.respond(req.Query, req.Narrate)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) respond(query string, narrate bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.deps.Intents.Respond(s.ctx, query, narrate); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("Response failed", "err", err)
		}
	}()
}

type playRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	playing := s.deps.Intents.PlayRequested(chi.URLParam(r, "id"), req.Text)
	respondJSON(w, http.StatusOK, map[string]bool{"playing": playing})
}

func (s *Server) handleNarrate(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Intents.NarrateLiveResponse(chi.URLParam(r, "id")) {
		respondError(w, http.StatusConflict, "not_streaming", "message is not streaming")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"narrating": true})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Intents.StopRequested()
	respondJSON(w, http.StatusOK, s.deps.Player.Snapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Player.Snapshot())
}

type voiceRequest struct {
	VoiceID string `json:"voiceId"`
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := strings.TrimSpace(req.VoiceID)
	if v, ok := ttypes.LookupVoice(id); ok {
		id = v.ID
	}
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "voiceId is required")
		return
	}
	s.deps.Player.SetVoice(id)
	respondJSON(w, http.StatusOK, map[string]string{"voiceId": id})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	type voice struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := make([]voice, len(ttypes.AvailableVoices))
	for i, v := range ttypes.AvailableVoices {
		out[i] = voice{ID: v.ID, Name: v.Name}
	}
	respondJSON(w, http.StatusOK, out)
}

type ttsRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

// handleTTS proxies one synthesis and returns raw little-endian 16-bit PCM.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = s.deps.Player.Snapshot().VoiceID
	}

	pcm, err := s.deps.Speech.Fetch(r.Context(), req.Text, voiceID)
	if err != nil {
		status, code := synthStatus(err)
		respondError(w, status, code, err.Error())
		return
	}

	f := s.deps.Format
	w.Header().Set("Content-Type", fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels))
	w.Header().Set("X-Audio-Duration", f.Duration(len(pcm)).String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pcm)
}

func synthStatus(err error) (int, string) {
	code := synth.CodeOf(err)
	switch code {
	case synth.CodeTextTooShort:
		return http.StatusBadRequest, string(code)
	case synth.CodeNoAPIKey:
		return http.StatusServiceUnavailable, string(code)
	case synth.CodeQuota:
		return http.StatusTooManyRequests, string(code)
	case synth.CodeCanceled:
		return http.StatusRequestTimeout, string(code)
	case "":
		return http.StatusInternalServerError, "internal"
	default:
		return http.StatusBadGateway, string(code)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
