package threads

import (
	"sync"
	"time"
)

// Store is the authoritative table of threads for one session. Iteration
// follows insertion order; replacing an existing key keeps its position.
type Store struct {
	mu    sync.RWMutex
	keys  []string
	items map[string]*Thread
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		items: make(map[string]*Thread),
		now:   time.Now,
	}
}

// Get returns a copy of the thread stored under exactly key.
func (s *Store) Get(key string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	if !ok {
		return Thread{}, false
	}
	return item.Clone(), true
}

// Put inserts or replaces the thread under its own ThreadID.
func (s *Store) Put(thread Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(thread)
}

// PutAll stores every thread in order. Threads without an id are skipped.
func (s *Store) PutAll(list []Thread) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := 0
	for _, thread := range list {
		if thread.ThreadID == "" {
			continue
		}
		s.putLocked(thread)
		stored++
	}
	return stored
}

func (s *Store) putLocked(thread Thread) {
	item := thread.Clone()
	item.normalize(s.now())
	if _, exists := s.items[item.ThreadID]; !exists {
		s.keys = append(s.keys, item.ThreadID)
	}
	s.items[item.ThreadID] = &item
}

func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

// Update applies fn to the thread stored under key while holding the write
// lock, so multi-field changes are never observed half done.
func (s *Store) Update(key string, fn func(*Thread)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return false
	}
	fn(item)
	item.normalize(s.now())
	return true
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// All returns copies of every thread, resolved or not.
func (s *Store) All() []Thread {
	return s.collect(func(Thread) bool { return true })
}

// Unresolved returns copies of the threads that are still open.
func (s *Store) Unresolved() []Thread {
	return s.collect(func(t Thread) bool { return !t.IsResolved })
}

func (s *Store) collect(keep func(Thread) bool) []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Thread, 0, len(s.keys))
	for _, key := range s.keys {
		item := s.items[key]
		if !keep(*item) {
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Resolve maps a requested thread id to the key it is stored under.
func (s *Store) Resolve(requested string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[requested]; ok {
		return requested, true
	}
	return ResolveKey(s.keys, requested)
}

// Lookup resolves requested and returns the matching thread.
func (s *Store) Lookup(requested string) (string, Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := requested, false
	if _, exact := s.items[requested]; exact {
		ok = true
	} else {
		key, ok = ResolveKey(s.keys, requested)
	}
	if !ok {
		return "", Thread{}, false
	}
	return key, s.items[key].Clone(), true
}
