package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"editorbridge/internal/bridge"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 8 << 20
)

// wsPoster posts bridge envelopes to one host connection as text frames.
type wsPoster struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPoster) Post(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *HTTPServer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if s.corsOrigin == "" || s.corsOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == s.corsOrigin
		},
	}
}

// handleBridge connects a host page to a document session and holds the
// session until the host disconnects. Each text frame is one inbound
// envelope; outbound envelopes go back on the same socket.
func (s *HTTPServer) handleBridge(w http.ResponseWriter, r *http.Request) {
	documentID := bridge.ResolveDocumentID(r.URL.Query(), s.service.DefaultDocumentID())
	ds, release, err := s.service.Acquire(documentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer release()

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		log.Warn().Err(err).Str("doc_id", documentID).Msg("bridge upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	poster := &wsPoster{conn: conn}
	ds.Bridge().SetPoster(poster)
	defer ds.Bridge().ReleasePoster(poster)
	log.Info().Str("doc_id", documentID).Str("request_id", RequestID(r.Context())).Msg("host connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("doc_id", documentID).Msg("host connection lost")
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ds.Bridge().HandleMessage(data)
	}
	log.Info().Str("doc_id", documentID).Msg("host disconnected")
}
