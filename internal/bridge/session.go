package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"editorbridge/internal/editor"
	"editorbridge/internal/threads"
)

const (
	DefaultInboundID  = "CKE_BUBBLE_BRIDGE_V1"
	DefaultOutboundID = "CKE_BUBBLE_MINI_V1"
)

var (
	// ErrNoParent is returned when there is no host connected to post to.
	ErrNoParent = errors.New("no host connected")

	ErrAlreadyAttached = errors.New("engine already attached")
	ErrNotReady        = errors.New("engine not attached")
)

// Poster delivers one encoded outbound message to the host.
type Poster interface {
	Post(data []byte) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(data []byte) error

func (f PosterFunc) Post(data []byte) error { return f(data) }

type Options struct {
	InboundID  string
	OutboundID string
	DocumentID string
	// SyncDelay is how long a sync waits for the engine to settle.
	SyncDelay time.Duration
	// InitialSyncDelay delays the first CONTENT_UPDATE after attach.
	InitialSyncDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.InboundID == "" {
		o.InboundID = DefaultInboundID
	}
	if o.OutboundID == "" {
		o.OutboundID = DefaultOutboundID
	}
	if o.DocumentID == "" {
		o.DocumentID = DefaultDocumentID
	}
	if o.SyncDelay <= 0 {
		o.SyncDelay = 100 * time.Millisecond
	}
	if o.InitialSyncDelay <= 0 {
		o.InitialSyncDelay = 500 * time.Millisecond
	}
	return o
}

// Session is the state of one embedded editor: its thread store, the engine
// once it exists, the pending load buffer and the host connection. Every
// component of the session receives it explicitly.
type Session struct {
	opts  Options
	store *threads.Store
	sync  *debouncer
	now   func() time.Time

	// suppressed counts loads in flight; while positive, change
	// notifications do not schedule a sync.
	suppressed atomic.Int32

	mu        sync.Mutex
	engine    editor.Engine
	poster    Poster
	pending   pendingLoad
	announced bool

	ready     chan struct{}
	readyOnce sync.Once
}

func NewSession(opts Options, store *threads.Store) *Session {
	if store == nil {
		store = threads.NewStore()
	}
	s := &Session{
		opts:  opts.withDefaults(),
		store: store,
		now:   time.Now,
		ready: make(chan struct{}),
	}
	s.sync = newDebouncer(s.opts.SyncDelay, s.sendUpdate)
	return s
}

func (s *Session) Store() *threads.Store { return s.store }

func (s *Session) DocumentID() string { return s.opts.DocumentID }

// Engine returns the attached engine, or nil before Attach.
func (s *Session) Engine() editor.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Ready is closed once an engine is attached.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// WaitReady blocks until an engine is attached or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ErrNotReady
	}
}

// SetPoster connects the host. Passing nil disconnects it.
func (s *Session) SetPoster(p Poster) {
	s.mu.Lock()
	s.poster = p
	attached := s.engine != nil
	s.mu.Unlock()
	if p != nil && attached {
		s.announce()
	}
}

// ReleasePoster disconnects p if it is still the connected host.
func (s *Session) ReleasePoster(p Poster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poster == p {
		s.poster = nil
	}
}

// Attach hands the session its engine. Buffered content is applied first,
// then the host is told the editor is ready and a first sync is scheduled.
func (s *Session) Attach(engine editor.Engine) error {
	s.mu.Lock()
	if s.engine != nil {
		s.mu.Unlock()
		return ErrAlreadyAttached
	}
	s.engine = engine
	s.mu.Unlock()

	engine.OnChange(s.Emit)
	s.applyPendingLoad()
	s.readyOnce.Do(func() { close(s.ready) })
	s.announce()
	s.sync.schedule(s.opts.InitialSyncDelay)
	log.Info().Str("doc_id", s.opts.DocumentID).Msg("editor attached")
	return nil
}

// Close stops scheduled syncs.
func (s *Session) Close() {
	s.sync.Stop()
}

// Emit schedules a CONTENT_UPDATE. It is a no-op while host content is
// being applied.
func (s *Session) Emit() {
	if s.suppressed.Load() > 0 {
		return
	}
	s.sync.Trigger()
}

// SetContent replaces the document as a local edit, which syncs to the host.
func (s *Session) SetContent(html string) error {
	engine := s.Engine()
	if engine == nil {
		return ErrNotReady
	}
	return engine.SetData(html)
}

// Content returns the current document html, or "" before Attach.
func (s *Session) Content() string {
	engine := s.Engine()
	if engine == nil {
		return ""
	}
	return engine.GetData()
}

// applyHostContent sets html without echoing it back to the host.
func (s *Session) applyHostContent(engine editor.Engine, html string) error {
	s.suppressed.Add(1)
	defer s.suppressed.Add(-1)
	return engine.SetData(html)
}

func (s *Session) announce() {
	s.mu.Lock()
	if s.announced || s.poster == nil {
		s.mu.Unlock()
		return
	}
	s.announced = true
	s.mu.Unlock()

	ts := s.now().UnixMilli()
	_ = s.send(TypeIframeReady, ReadyPayload{Timestamp: ts})
	_ = s.send(TypeEditorReady, ReadyPayload{Timestamp: ts})
}

func (s *Session) sendUpdate() {
	engine := s.Engine()
	if engine == nil {
		return
	}
	_ = s.send(TypeContentUpdate, ContentUpdatePayload{
		HTML:         engine.GetData(),
		CommentsData: s.store.Unresolved(),
	})
}

// send posts one outbound message. Failures are logged and counted; callers
// may ignore the returned error.
func (s *Session) send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Bridge: s.opts.OutboundID, Type: msgType, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}

	s.mu.Lock()
	poster := s.poster
	s.mu.Unlock()
	if poster == nil {
		err = ErrNoParent
	} else {
		err = poster.Post(data)
	}
	if err != nil {
		sendFailures.Inc()
		log.Warn().Err(err).Str("doc_id", s.opts.DocumentID).Str("type", msgType).Msg("bridge send failed")
		return err
	}
	messagesSent.WithLabelValues(msgType).Inc()
	return nil
}
