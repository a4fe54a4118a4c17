package aichat

import "sync"

// Tracker remembers which threads the last submitted prompt was about, so
// they can be resolved once its changes are applied.
type Tracker struct {
	mu     sync.Mutex
	single string
	multi  []string
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) MarkSingle(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.single = threadID
}

func (t *Tracker) MarkAll(threadIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.multi = append([]string(nil), threadIDs...)
}

// Take returns the pending set and clears both markers. A single-thread
// mark wins over an all-threads mark.
func (t *Tracker) Take() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	if t.single != "" {
		out = []string{t.single}
	} else if len(t.multi) > 0 {
		out = t.multi
	}
	t.single = ""
	t.multi = nil
	return out
}

// Pending reports the current markers without clearing them.
func (t *Tracker) Pending() (string, []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.single, append([]string(nil), t.multi...)
}
