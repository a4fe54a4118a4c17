package aichat

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"editorbridge/internal/threads"
)

const applyButtonClass = "ck-ai-apply-button"

// Click describes a button click in the AI panel.
type Click struct {
	Text      string   `json:"text"`
	AriaLabel string   `json:"ariaLabel"`
	Title     string   `json:"title"`
	Classes   []string `json:"classes"`
	// InActionBar is set when the button sits in the panel's form actions.
	InActionBar bool `json:"inActionBar"`
}

// IsApply reports whether a click looks like accepting the assistant's
// proposed changes.
func IsApply(c Click) bool {
	all := strings.ToLower(strings.TrimSpace(c.Text) + " " + c.AriaLabel + " " + c.Title)
	switch {
	case strings.Contains(all, "apply all"),
		strings.Contains(all, "apply change"),
		strings.Contains(all, "accept all"),
		strings.Contains(all, "accept change"):
		return true
	case (strings.Contains(all, "apply") || strings.Contains(all, "accept")) && !strings.Contains(all, "cancel"):
		return true
	}
	for _, class := range c.Classes {
		if class == applyButtonClass {
			return true
		}
	}
	return c.InActionBar
}

// Syncer schedules an outbound sync.
type Syncer interface {
	Emit()
}

// Watcher resolves the threads of the last AI request once its changes are
// applied.
type Watcher struct {
	store   *threads.Store
	tracker *Tracker
	sync    Syncer
	userID  string
	settle  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewWatcher(store *threads.Store, tracker *Tracker, sync Syncer, userID string, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = 1500 * time.Millisecond
	}
	return &Watcher{
		store:   store,
		tracker: tracker,
		sync:    sync,
		userID:  userID,
		settle:  settle,
		now:     time.Now,
	}
}

// HandleClick schedules resolution when c is an apply click. Further apply
// clicks during the settle window are absorbed.
func (w *Watcher) HandleClick(c Click) bool {
	if !IsApply(c) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.timer != nil {
		return true
	}
	log.Debug().Str("text", c.Text).Msg("apply click detected")
	w.timer = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		w.timer = nil
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped {
			w.ResolvePending()
		}
	})
	return true
}

// ResolvePending marks the pending threads resolved in the store and syncs.
// It returns the store keys it resolved.
func (w *Watcher) ResolvePending() []string {
	pending := w.tracker.Take()
	if len(pending) == 0 {
		return nil
	}
	now := w.now()
	var resolved []string
	for _, id := range pending {
		key, ok := w.store.Resolve(id)
		if !ok {
			log.Warn().Str("thread_id", id).Msg("auto-resolve: thread not found")
			continue
		}
		w.store.Update(key, func(t *threads.Thread) { t.Resolve(now, w.userID) })
		resolved = append(resolved, key)
	}
	log.Info().Int("resolved", len(resolved)).Int("pending", len(pending)).Msg("auto-resolved comment threads")
	w.sync.Emit()
	return resolved
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
