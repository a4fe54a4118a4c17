package bridge

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// HandleMessage processes one inbound host message. Anything that is not a
// well formed envelope carrying the inbound tag is dropped.
func (s *Session) HandleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.drop("malformed", "")
		return
	}
	if env.Bridge != s.opts.InboundID {
		s.drop("bridge_tag", env.Type)
		return
	}

	switch env.Type {
	case TypeLoadContent:
		var payload LoadContentPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				s.drop("payload", env.Type)
				return
			}
		}
		messagesReceived.WithLabelValues(env.Type).Inc()
		s.loadContent(payload)
	case TypeGetDocumentID:
		messagesReceived.WithLabelValues(env.Type).Inc()
		_ = s.send(TypeDocumentID, DocumentIDPayload{DocumentID: s.opts.DocumentID})
	case TypeGetComments:
		messagesReceived.WithLabelValues(env.Type).Inc()
		_ = s.send(TypeCommentsData, CommentsDataPayload{CommentsData: s.store.All()})
	default:
		s.drop("unknown_type", env.Type)
	}
}

func (s *Session) drop(reason, msgType string) {
	messagesDropped.WithLabelValues(reason).Inc()
	log.Debug().Str("doc_id", s.opts.DocumentID).Str("reason", reason).Str("type", msgType).Msg("bridge message dropped")
}

// loadContent stores incoming threads before the html is applied, because
// the engine asks the adapter for thread data while it parses markers.
func (s *Session) loadContent(payload LoadContentPayload) {
	if len(payload.CommentsData) > 0 {
		n := s.store.PutAll(payload.CommentsData)
		log.Debug().Str("doc_id", s.opts.DocumentID).Int("threads", n).Msg("threads loaded from host")
	}

	s.mu.Lock()
	engine := s.engine
	if engine == nil {
		s.stashLocked(payload.HTML, payload.CommentsData)
		s.mu.Unlock()
		log.Info().Str("doc_id", s.opts.DocumentID).Msg("engine not ready, content buffered")
		return
	}
	s.mu.Unlock()

	if err := s.applyHostContent(engine, payload.HTML); err != nil {
		log.Error().Err(err).Str("doc_id", s.opts.DocumentID).Msg("apply content, buffering")
		s.mu.Lock()
		s.stashLocked(payload.HTML, payload.CommentsData)
		s.mu.Unlock()
	}
}
