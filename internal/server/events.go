package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 120 * time.Second
	pingInterval = 30 * time.Second
	feedBuffer   = 256
)

// Envelope types on /events.
const (
	TypePlayback = "playback"
	TypeMessage  = "message"
	TypeTap      = "tap"
	TypeSnapshot = "snapshot"
	TypeError    = "error"
)

// Envelope wraps every frame written to /events.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Control is a client-to-server frame on /events.
type Control struct {
	Type      string `json:"type"` // play, stop, narrate, send
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`
	Narrate   bool   `json:"narrate,omitempty"`
}

// handleEvents streams sequencer events, conversation changes and, unless
// ?tap=false, visualization frames. Clients may send Control frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	withTap := r.URL.Query().Get("tap") != "false"

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, stopEvents := s.deps.Player.Subscribe(feedBuffer)
	defer stopEvents()
	changes, stopChanges := s.deps.Store.Subscribe(feedBuffer)
	defer stopChanges()
	var frames <-chan any
	if withTap {
		if tap := s.deps.Player.Tap(); tap != nil {
			ch, stopFrames := tap.Subscribe(8)
			defer stopFrames()
			frames = forward(ctx, ch)
		}
	}

	outbound := make(chan Envelope, feedBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, outbound, cancel)
	}()

	go func() {
		send := func(e Envelope) {
			select {
			case outbound <- e:
			default:
				s.deps.Metrics.WSMessage("outbound", "drop_full")
			}
		}
		send(Envelope{Type: TypeSnapshot, Data: s.deps.Player.Snapshot()})
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				send(Envelope{Type: TypePlayback, Data: ev})
			case ch, ok := <-changes:
				if !ok {
					return
				}
				send(Envelope{Type: TypeMessage, Data: ch})
			case f, ok := <-frames:
				if !ok {
					frames = nil
					continue
				}
				send(Envelope{Type: TypeTap, Data: f})
			}
		}
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var c Control
		if err := json.Unmarshal(data, &c); err != nil {
			select {
			case outbound <- Envelope{Type: TypeError, Data: errorResponse{Error: err.Error(), Code: "invalid_control"}}:
			default:
			}
			continue
		}
		s.deps.Metrics.WSMessage("inbound", c.Type)
		s.control(c)
	}

	cancel()
	<-writerDone
}

func (s *Server) control(c Control) {
	switch c.Type {
	case "play":
		s.deps.Intents.PlayRequested(c.MessageID, c.Text)
	case "stop":
		s.deps.Intents.StopRequested()
	case "narrate":
		s.deps.Intents.NarrateLiveResponse(c.MessageID)
	case "send":
		if strings.TrimSpace(c.Text) != "" {
			s.respond(c.Text, c.Narrate)
		}
	default:
		s.logger.Debug("Unknown control frame", "type", c.Type)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan Envelope, cancel context.CancelFunc) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cancel()
				return
			}
		case e := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				cancel()
				return
			}
			s.deps.Metrics.WSMessage("outbound", e.Type)
		}
	}
}

// forward adapts a typed channel so it can share a select with the others.
func forward[T any](ctx context.Context, in <-chan T) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// sameOrigin admits non-browser clients and browsers on the same host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
