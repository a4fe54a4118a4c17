package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"editorbridge/internal/aichat"
	"editorbridge/internal/bridge"
	"editorbridge/internal/comments"
	"editorbridge/internal/config"
	"editorbridge/internal/editor"
	"editorbridge/internal/handoff"
	"editorbridge/internal/threads"
	"editorbridge/internal/util"
)

type CreateThreadInput struct {
	ThreadID   string `json:"threadId"`
	AnchorText string `json:"anchorText"`
	Content    string `json:"content"`
}

type AddCommentInput struct {
	CommentID string `json:"commentId"`
	Content   string `json:"content"`
}

type UpdateCommentInput struct {
	Content string `json:"content"`
}

type UpdateThreadInput struct {
	Attributes map[string]any `json:"attributes"`
}

type SetContentInput struct {
	HTML string `json:"html"`
}

type HandoffInput struct {
	HTML         string           `json:"html"`
	CommentsData []threads.Thread `json:"commentsData"`
}

type PromptInput struct {
	Text string `json:"text"`
}

// DocumentView is a point-in-time read of one document session.
type DocumentView struct {
	DocumentID   string           `json:"documentId"`
	Ready        bool             `json:"ready"`
	HTML         string           `json:"html"`
	CommentsData []threads.Thread `json:"commentsData"`
}

// HandoffStore keeps content staged for a document until its session boots.
type HandoffStore interface {
	Save(ctx context.Context, documentID string, payload handoff.Payload) error
	Take(ctx context.Context, documentID string) (handoff.Payload, error)
	Ping(ctx context.Context) error
}

// PanelOpener connects a document session to its AI chat panel. Clicks seen
// in the panel's page are reported to onClick. The returned func releases
// the panel.
type PanelOpener func(ctx context.Context, documentID string, onClick func(aichat.Click)) (aichat.Panel, func(), error)

// BrowserPanels opens one editor tab per document in the Chrome instance
// at cfg.ChromeURL. It returns nil when no browser is configured.
func BrowserPanels(cfg config.AIConfig) PanelOpener {
	if strings.TrimSpace(cfg.ChromeURL) == "" {
		return nil
	}
	return func(ctx context.Context, documentID string, onClick func(aichat.Click)) (aichat.Panel, func(), error) {
		target, err := editorPageURL(cfg.EditorURL, documentID)
		if err != nil {
			return nil, nil, err
		}
		panel, err := aichat.NewBrowserPanel(ctx, cfg.ChromeURL, target, onClick)
		if err != nil {
			return nil, nil, err
		}
		return panel, panel.Close, nil
	}
}

// editorPageURL points the editor page at documentID.
func editorPageURL(base, documentID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse editor url: %w", err)
	}
	q := u.Query()
	q.Set("docId", documentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DocumentSession bundles the bridge session of one document with the
// AI helpers bound to it.
type DocumentSession struct {
	id      string
	bridge  *bridge.Session
	tracker *aichat.Tracker
	watcher *aichat.Watcher
	// booted is closed once boot has finished, whether or not it succeeded.
	booted chan struct{}

	mu         sync.Mutex
	composer   *aichat.Composer
	closePanel func()

	// refs counts connected hosts and in-flight requests. Both fields are
	// guarded by Service.mu.
	refs     int
	lastUsed time.Time
}

func (d *DocumentSession) ID() string { return d.id }

func (d *DocumentSession) Bridge() *bridge.Session { return d.bridge }

func (d *DocumentSession) aiComposer() *aichat.Composer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.composer
}

func (d *DocumentSession) close() {
	d.watcher.Stop()
	d.bridge.Close()
	d.mu.Lock()
	closePanel := d.closePanel
	d.closePanel = nil
	d.mu.Unlock()
	if closePanel != nil {
		closePanel()
	}
}

type Service struct {
	cfg      config.Config
	handoffs HandoffStore
	panels   PanelOpener

	ctx    context.Context
	cancel context.CancelFunc
	boots  sync.WaitGroup
	reaper sync.WaitGroup
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*DocumentSession
	closed   bool
}

// New builds the service. handoffs and panels are optional; without them
// hand-off and the AI routes are disabled. With a positive bridge.idle_ttl
// sessions nobody holds are closed once they have been idle that long.
func New(cfg config.Config, handoffs HandoffStore, panels PanelOpener) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		handoffs: handoffs,
		panels:   panels,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		sessions: make(map[string]*DocumentSession),
	}
	if ttl := cfg.Bridge.IdleTTL; ttl > 0 {
		s.reaper.Add(1)
		go s.reap(sweepInterval(ttl))
	}
	return s
}

func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (s *Service) reap(interval time.Duration) {
	defer s.reaper.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Service) DefaultDocumentID() string {
	return s.cfg.Bridge.DefaultDocumentID
}

// Ping reports whether the hand-off store is reachable. It is nil when
// hand-off is disabled.
func (s *Service) Ping(ctx context.Context) error {
	if s.handoffs == nil {
		return nil
	}
	return s.handoffs.Ping(ctx)
}

func (s *Service) HandoffEnabled() bool {
	return s.handoffs != nil
}

func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Open returns the session for documentID, creating it and booting its
// engine in the background on first use. The caller does not hold the
// session; use Acquire to keep it from being swept.
func (s *Service) Open(documentID string) (*DocumentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, err := s.openLocked(documentID)
	if err != nil {
		return nil, err
	}
	ds.lastUsed = s.now()
	return ds, nil
}

// Acquire opens the session for documentID and holds it until release is
// called. Held sessions are never swept.
func (s *Service) Acquire(documentID string) (ds *DocumentSession, release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, err = s.openLocked(documentID)
	if err != nil {
		return nil, nil, err
	}
	ds.refs++
	ds.lastUsed = s.now()
	var once sync.Once
	return ds, func() {
		once.Do(func() {
			s.mu.Lock()
			ds.refs--
			ds.lastUsed = s.now()
			s.mu.Unlock()
		})
	}, nil
}

// Sweep closes every session that is not held, has finished booting and
// has been idle for bridge.idle_ttl. It returns how many were closed.
func (s *Service) Sweep() int {
	ttl := s.cfg.Bridge.IdleTTL
	if ttl <= 0 {
		return 0
	}
	now := s.now()

	s.mu.Lock()
	var expired []*DocumentSession
	for id, ds := range s.sessions {
		if ds.refs > 0 || now.Sub(ds.lastUsed) < ttl {
			continue
		}
		select {
		case <-ds.booted:
		default:
			continue
		}
		delete(s.sessions, id)
		expired = append(expired, ds)
	}
	activeSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	for _, ds := range expired {
		ds.close()
		log.Info().Str("doc_id", ds.id).Msg("idle document session closed")
	}
	return len(expired)
}

func (s *Service) openLocked(documentID string) (*DocumentSession, error) {
	if s.closed {
		return nil, domainError(http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	}
	if ds, ok := s.sessions[documentID]; ok {
		return ds, nil
	}

	session := bridge.NewSession(bridge.Options{
		InboundID:        s.cfg.Bridge.InboundID,
		OutboundID:       s.cfg.Bridge.OutboundID,
		DocumentID:       documentID,
		SyncDelay:        s.cfg.Bridge.SyncDelay,
		InitialSyncDelay: s.cfg.Bridge.InitialSyncDelay,
	}, nil)
	tracker := aichat.NewTracker()
	ds := &DocumentSession{
		id:      documentID,
		bridge:  session,
		tracker: tracker,
		watcher: aichat.NewWatcher(session.Store(), tracker, session, s.cfg.User.ID, s.cfg.AI.ApplySettleDelay),
		booted:  make(chan struct{}),
	}
	s.sessions[documentID] = ds
	activeSessions.Set(float64(len(s.sessions)))
	log.Info().Str("doc_id", documentID).Msg("document session opened")

	s.boots.Add(1)
	go func() {
		defer s.boots.Done()
		defer close(ds.booted)
		s.boot(ds)
	}()
	return ds, nil
}

// boot takes any staged hand-off, attaches the engine, then connects the
// AI panel. Host content that arrives meanwhile is buffered by the session.
func (s *Service) boot(ds *DocumentSession) {
	if s.handoffs != nil {
		payload, err := s.handoffs.Take(s.ctx, ds.id)
		switch {
		case err == nil:
			if ds.bridge.Preload(payload.HTML, payload.CommentsData) {
				log.Info().Str("doc_id", ds.id).Int("threads", len(payload.CommentsData)).Msg("hand-off staged for load")
			} else {
				log.Info().Str("doc_id", ds.id).Msg("hand-off superseded by host content")
			}
		case errors.Is(err, handoff.ErrNotFound):
		default:
			log.Warn().Err(err).Str("doc_id", ds.id).Msg("hand-off lookup failed")
		}
	}

	doc := editor.NewDocument()
	doc.SetCommentAdapter(comments.NewAdapter(ds.bridge.Store(), doc, ds.bridge, comments.Identity{
		ID:   s.cfg.User.ID,
		Name: s.cfg.User.Name,
	}))
	if err := ds.bridge.Attach(doc); err != nil {
		log.Error().Err(err).Str("doc_id", ds.id).Msg("attach editor")
		return
	}

	if s.panels == nil {
		return
	}
	panel, closePanel, err := s.panels(s.ctx, ds.id, func(c aichat.Click) { ds.watcher.HandleClick(c) })
	if err != nil {
		log.Warn().Err(err).Str("doc_id", ds.id).Msg("ai panel unavailable")
		return
	}
	composer := aichat.NewComposer(ds.bridge.Store(), doc, panel, ds.tracker, aichat.Options{
		PanelTimeout:    s.cfg.AI.PanelTimeout,
		PollInterval:    s.cfg.AI.PollInterval,
		SendSettle:      s.cfg.AI.SendSettle,
		MaxContextChars: s.cfg.AI.MaxContextChars,
	})
	ds.mu.Lock()
	ds.composer = composer
	ds.closePanel = closePanel
	ds.mu.Unlock()
	log.Info().Str("doc_id", ds.id).Msg("ai panel connected")
}

// Close stops every session. Boots in flight are cancelled first.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.boots.Wait()
	s.reaper.Wait()

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*DocumentSession)
	s.mu.Unlock()
	for _, ds := range sessions {
		ds.close()
	}
	activeSessions.Set(0)
}

// document holds the session and waits for its engine, bounded by
// bridge.ready_timeout. On success the caller must call release.
func (s *Service) document(ctx context.Context, documentID string) (*DocumentSession, *editor.Document, func(), error) {
	ds, release, err := s.Acquire(documentID)
	if err != nil {
		return nil, nil, nil, err
	}
	timeout := s.cfg.Bridge.ReadyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ds.bridge.WaitReady(waitCtx); err != nil {
		release()
		return nil, nil, nil, err
	}
	doc, ok := ds.bridge.Engine().(*editor.Document)
	if !ok {
		release()
		return nil, nil, nil, bridge.ErrNotReady
	}
	return ds, doc, release, nil
}

func (s *Service) lookupThread(ds *DocumentSession, threadID string) (string, threads.Thread, error) {
	key, thread, ok := ds.bridge.Store().Lookup(threadID)
	if !ok {
		return "", threads.Thread{}, domainError(http.StatusNotFound, "THREAD_NOT_FOUND", "Comment thread not found", map[string]any{"threadId": threadID})
	}
	return key, thread, nil
}

func (s *Service) threadView(ds *DocumentSession, threadID string) (threads.Thread, error) {
	_, thread, err := s.lookupThread(ds, threadID)
	return thread, err
}

func (s *Service) Document(documentID string) (DocumentView, error) {
	ds, err := s.Open(documentID)
	if err != nil {
		return DocumentView{}, err
	}
	ready := false
	select {
	case <-ds.bridge.Ready():
		ready = true
	default:
	}
	return DocumentView{
		DocumentID:   ds.id,
		Ready:        ready,
		HTML:         ds.bridge.Content(),
		CommentsData: ds.bridge.Store().All(),
	}, nil
}

// SetContent replaces the document as a local edit.
func (s *Service) SetContent(ctx context.Context, documentID string, input SetContentInput) (DocumentView, error) {
	ds, _, release, err := s.document(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	defer release()
	if err := ds.bridge.SetContent(input.HTML); err != nil {
		return DocumentView{}, domainError(http.StatusUnprocessableEntity, "INVALID_CONTENT", "Content could not be parsed", nil).withCause(err)
	}
	return s.Document(documentID)
}

func (s *Service) CreateThread(ctx context.Context, documentID string, input CreateThreadInput) (threads.Thread, error) {
	anchor := input.AnchorText
	content := strings.TrimSpace(input.Content)
	if strings.TrimSpace(anchor) == "" || content == "" {
		return threads.Thread{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "anchorText and content are required", nil)
	}
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return threads.Thread{}, err
	}
	defer release()
	threadID := strings.TrimSpace(input.ThreadID)
	if threadID == "" {
		threadID = util.NewThreadID()
	} else if _, exists := ds.bridge.Store().Get(threadID); exists {
		return threads.Thread{}, domainError(http.StatusConflict, "THREAD_EXISTS", "Comment thread already exists", map[string]any{"threadId": threadID})
	}

	if _, err := doc.AddCommentThread(ctx, threadID, anchor, editor.NewComment{
		ThreadID:  threadID,
		CommentID: util.NewID("comment"),
		AuthorID:  s.cfg.User.ID,
		Content:   input.Content,
	}); err != nil {
		return threads.Thread{}, err
	}
	return s.threadView(ds, threadID)
}

func (s *Service) UpdateThread(ctx context.Context, documentID, threadID string, input UpdateThreadInput) (threads.Thread, error) {
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return threads.Thread{}, err
	}
	defer release()
	if _, _, err := s.lookupThread(ds, threadID); err != nil {
		return threads.Thread{}, err
	}
	if err := doc.UpdateCommentThread(ctx, threadID, input.Attributes); err != nil {
		return threads.Thread{}, err
	}
	return s.threadView(ds, threadID)
}

func (s *Service) RemoveThread(ctx context.Context, documentID, threadID string) error {
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()
	key, _, err := s.lookupThread(ds, threadID)
	if err != nil {
		return err
	}
	return doc.RemoveCommentThread(ctx, key)
}

func (s *Service) AddComment(ctx context.Context, documentID, threadID string, input AddCommentInput) (threads.Thread, error) {
	if strings.TrimSpace(input.Content) == "" {
		return threads.Thread{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return threads.Thread{}, err
	}
	defer release()
	if _, _, err := s.lookupThread(ds, threadID); err != nil {
		return threads.Thread{}, err
	}
	commentID := strings.TrimSpace(input.CommentID)
	if commentID == "" {
		commentID = util.NewID("comment")
	}
	if _, err := doc.AddComment(ctx, editor.NewComment{
		ThreadID:  threadID,
		CommentID: commentID,
		AuthorID:  s.cfg.User.ID,
		Content:   input.Content,
	}); err != nil {
		return threads.Thread{}, err
	}
	return s.threadView(ds, threadID)
}

func (s *Service) UpdateComment(ctx context.Context, documentID, threadID, commentID string, input UpdateCommentInput) (threads.Thread, error) {
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return threads.Thread{}, err
	}
	defer release()
	if err := s.requireComment(ds, threadID, commentID); err != nil {
		return threads.Thread{}, err
	}
	content := input.Content
	if err := doc.UpdateComment(ctx, threadID, commentID, &content); err != nil {
		return threads.Thread{}, err
	}
	return s.threadView(ds, threadID)
}

func (s *Service) RemoveComment(ctx context.Context, documentID, threadID, commentID string) (threads.Thread, error) {
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return threads.Thread{}, err
	}
	defer release()
	if err := s.requireComment(ds, threadID, commentID); err != nil {
		return threads.Thread{}, err
	}
	if err := doc.RemoveComment(ctx, threadID, commentID); err != nil {
		return threads.Thread{}, err
	}
	return s.threadView(ds, threadID)
}

func (s *Service) requireComment(ds *DocumentSession, threadID, commentID string) error {
	_, thread, err := s.lookupThread(ds, threadID)
	if err != nil {
		return err
	}
	for _, c := range thread.Comments {
		if c.ID == commentID {
			return nil
		}
	}
	return domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", map[string]any{"threadId": threadID, "commentId": commentID})
}

func (s *Service) ResolveThread(ctx context.Context, documentID, threadID string) (threads.Thread, error) {
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return threads.Thread{}, err
	}
	defer release()
	if _, _, err := s.lookupThread(ds, threadID); err != nil {
		return threads.Thread{}, err
	}
	if _, err := doc.ResolveCommentThread(ctx, threadID); err != nil {
		return threads.Thread{}, err
	}
	return s.threadView(ds, threadID)
}

func (s *Service) ReopenThread(ctx context.Context, documentID, threadID string) (threads.Thread, error) {
	ds, doc, release, err := s.document(ctx, documentID)
	if err != nil {
		return threads.Thread{}, err
	}
	defer release()
	if _, _, err := s.lookupThread(ds, threadID); err != nil {
		return threads.Thread{}, err
	}
	if err := doc.ReopenCommentThread(ctx, threadID); err != nil {
		return threads.Thread{}, err
	}
	return s.threadView(ds, threadID)
}

// StageHandoff stores content to be loaded when documentID's session next
// boots.
func (s *Service) StageHandoff(ctx context.Context, documentID string, input HandoffInput) error {
	if s.handoffs == nil {
		return domainError(http.StatusServiceUnavailable, "HANDOFF_DISABLED", "Document hand-off is not configured", nil)
	}
	return s.handoffs.Save(ctx, documentID, handoff.Payload{
		HTML:         input.HTML,
		CommentsData: input.CommentsData,
	})
}

func (s *Service) composer(ctx context.Context, documentID string) (*aichat.Composer, func(), error) {
	if s.panels == nil {
		return nil, nil, aichat.ErrPanelUnavailable
	}
	ds, _, release, err := s.document(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	select {
	case <-ds.booted:
	case <-ctx.Done():
		release()
		return nil, nil, ctx.Err()
	}
	composer := ds.aiComposer()
	if composer == nil {
		release()
		return nil, nil, aichat.ErrPanelUnavailable
	}
	return composer, release, nil
}

func (s *Service) FixThread(ctx context.Context, documentID, threadID string) (string, error) {
	composer, release, err := s.composer(ctx, documentID)
	if err != nil {
		return "", err
	}
	defer release()
	return composer.FixThread(ctx, threadID)
}

func (s *Service) SolveAll(ctx context.Context, documentID string) (string, error) {
	composer, release, err := s.composer(ctx, documentID)
	if err != nil {
		return "", err
	}
	defer release()
	return composer.SolveAll(ctx)
}

func (s *Service) SubmitPrompt(ctx context.Context, documentID string, input PromptInput) (string, error) {
	if strings.TrimSpace(input.Text) == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	composer, release, err := s.composer(ctx, documentID)
	if err != nil {
		return "", err
	}
	defer release()
	return composer.Submit(ctx, input.Text)
}

// ReportClick feeds a clicked affordance to the document's apply watcher.
// It reports whether the click counted as applying AI changes.
func (s *Service) ReportClick(documentID string, click aichat.Click) (bool, error) {
	ds, err := s.Open(documentID)
	if err != nil {
		return false, err
	}
	return ds.watcher.HandleClick(click), nil
}
