package bridge

import (
	"github.com/rs/zerolog/log"

	"editorbridge/internal/threads"
)

// pendingLoad holds host content that arrived before the engine existed.
// A nil html means no content is buffered; an empty string is real content.
type pendingLoad struct {
	html    *string
	threads []threads.Thread
}

func (p pendingLoad) empty() bool {
	return p.html == nil && len(p.threads) == 0
}

// PendingLoad is a snapshot of the buffer.
type PendingLoad struct {
	HTML    *string
	Threads []threads.Thread
}

func (s *Session) PendingLoad() PendingLoad {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := PendingLoad{Threads: append([]threads.Thread(nil), s.pending.threads...)}
	if s.pending.html != nil {
		html := *s.pending.html
		out.HTML = &html
	}
	return out
}

func (s *Session) stashLocked(html string, list []threads.Thread) {
	s.pending = pendingLoad{html: &html, threads: list}
}

// applyPendingLoad runs once, from Attach. Both slots are cleared up front so
// a failed apply is logged and never retried.
func (s *Session) applyPendingLoad() {
	s.mu.Lock()
	pending := s.pending
	s.pending = pendingLoad{}
	engine := s.engine
	s.mu.Unlock()

	if pending.empty() || engine == nil {
		return
	}
	if len(pending.threads) > 0 {
		n := s.store.PutAll(pending.threads)
		log.Debug().Str("doc_id", s.opts.DocumentID).Int("threads", n).Msg("pending threads loaded")
	}
	if pending.html == nil {
		return
	}
	if err := s.applyHostContent(engine, *pending.html); err != nil {
		log.Error().Err(err).Str("doc_id", s.opts.DocumentID).Msg("apply pending load")
		return
	}
	log.Info().Str("doc_id", s.opts.DocumentID).Msg("pending load applied")
}

// Preload buffers staged content for an engine that has not attached yet.
// Content the host already sent wins: Preload reports false and changes
// nothing when the engine is attached or a load is already buffered.
func (s *Session) Preload(html string, list []threads.Thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil || !s.pending.empty() {
		return false
	}
	s.stashLocked(html, list)
	return true
}
