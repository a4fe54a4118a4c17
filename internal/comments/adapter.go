// Package comments implements the engine's comment persistence contract on
// top of the session's thread store.
package comments

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"editorbridge/internal/editor"
	"editorbridge/internal/threads"
)

// Syncer schedules an outbound sync of the session state.
type Syncer interface {
	Emit()
}

// Identity names the local user the adapter attributes comments and
// resolutions to.
type Identity struct {
	ID   string
	Name string
}

// Adapter satisfies editor.CommentAdapter. It never reports an error for a
// thread it cannot find: the engine's comment UI breaks on adapter errors, so
// misses are logged and ignored.
type Adapter struct {
	store   *threads.Store
	markers editor.MarkerSource
	sync    Syncer
	user    Identity
	now     func() time.Time
}

var _ editor.CommentAdapter = (*Adapter)(nil)

func NewAdapter(store *threads.Store, markers editor.MarkerSource, sync Syncer, user Identity) *Adapter {
	return &Adapter{
		store:   store,
		markers: markers,
		sync:    sync,
		user:    user,
		now:     time.Now,
	}
}

func (a *Adapter) GetCommentThread(_ context.Context, threadID string) (*editor.CommentThread, error) {
	key, stored, ok := a.store.Lookup(threadID)
	if !ok {
		log.Debug().Str("thread_id", threadID).Msg("comment thread not in store")
		return nil, nil
	}
	if key != threadID {
		log.Debug().Str("thread_id", threadID).Str("key", key).Msg("comment thread matched by flexible id")
	}

	now := a.now()
	out := &editor.CommentThread{
		ThreadID:   threadID,
		Comments:   make([]editor.Comment, 0, len(stored.Comments)),
		Attributes: stored.Attributes,
	}
	for _, c := range stored.Comments {
		authorID := c.AuthorID
		if authorID == "" {
			authorID = a.user.ID
		}
		out.Comments = append(out.Comments, editor.Comment{
			CommentID: c.ID,
			AuthorID:  authorID,
			Content:   c.Content,
			CreatedAt: threads.ParseTime(c.CreatedAt, now),
		})
	}
	if stored.IsResolved && stored.ResolvedAt != nil {
		resolvedAt := threads.ParseTime(*stored.ResolvedAt, now)
		out.ResolvedAt = &resolvedAt
		if stored.ResolvedBy != nil {
			out.ResolvedBy = *stored.ResolvedBy
		}
	}
	return out, nil
}

func (a *Adapter) AddCommentThread(_ context.Context, data editor.NewThread) (*editor.CommentThread, error) {
	now := a.now()
	thread := threads.Thread{
		ThreadID:   data.ThreadID,
		AnchorText: AnchorText(a.markers, data.ThreadID),
		Comments:   make([]threads.Comment, 0, len(data.Comments)),
		Attributes: data.Attributes,
	}
	for _, c := range data.Comments {
		thread.Comments = append(thread.Comments, a.storedComment(c.CommentID, c.AuthorID, c.Content, c.CreatedAt, now))
	}
	a.store.Put(thread)
	log.Debug().Str("thread_id", data.ThreadID).Str("anchor", thread.AnchorText).Int("comments", len(thread.Comments)).Msg("comment thread added")
	a.sync.Emit()

	comments := data.Comments
	if comments == nil {
		comments = []editor.Comment{}
	}
	return &editor.CommentThread{ThreadID: data.ThreadID, Comments: comments}, nil
}

func (a *Adapter) AddComment(_ context.Context, data editor.NewComment) (time.Time, error) {
	now := a.now()
	key, ok := a.store.Resolve(data.ThreadID)
	if ok {
		comment := a.storedComment(data.CommentID, data.AuthorID, data.Content, now, now)
		a.store.Update(key, func(t *threads.Thread) {
			t.Comments = append(t.Comments, comment)
		})
		log.Debug().Str("thread_id", key).Str("comment_id", data.CommentID).Msg("comment added")
	} else {
		a.miss("add comment", data.ThreadID)
	}
	a.sync.Emit()
	return now, nil
}

func (a *Adapter) UpdateComment(_ context.Context, threadID, commentID string, content *string) error {
	key, ok := a.store.Resolve(threadID)
	if !ok {
		a.miss("update comment", threadID)
	} else if content != nil {
		a.store.Update(key, func(t *threads.Thread) {
			for i := range t.Comments {
				if t.Comments[i].ID == commentID {
					t.Comments[i].Content = *content
					return
				}
			}
		})
	}
	a.sync.Emit()
	return nil
}

// RemoveComment drops one comment. The thread stays even when it becomes empty.
func (a *Adapter) RemoveComment(_ context.Context, threadID, commentID string) error {
	key, ok := a.store.Resolve(threadID)
	if ok {
		a.store.Update(key, func(t *threads.Thread) {
			kept := t.Comments[:0]
			for _, c := range t.Comments {
				if c.ID != commentID {
					kept = append(kept, c)
				}
			}
			t.Comments = kept
		})
	} else {
		a.miss("remove comment", threadID)
	}
	a.sync.Emit()
	return nil
}

func (a *Adapter) RemoveCommentThread(_ context.Context, threadID string) error {
	if key, ok := a.store.Resolve(threadID); ok {
		a.store.Delete(key)
		log.Debug().Str("thread_id", key).Msg("comment thread removed")
	} else {
		a.miss("remove thread", threadID)
	}
	a.sync.Emit()
	return nil
}

func (a *Adapter) ResolveCommentThread(_ context.Context, threadID string) (editor.Resolution, error) {
	now := a.now()
	result := editor.Resolution{ResolvedAt: now, ResolvedBy: a.user.ID}
	if key, ok := a.store.Resolve(threadID); ok {
		a.store.Update(key, func(t *threads.Thread) {
			t.Resolve(now, a.user.ID)
			result.ResolvedAt = threads.ParseTime(*t.ResolvedAt, now)
			result.ResolvedBy = *t.ResolvedBy
		})
	} else {
		a.miss("resolve thread", threadID)
	}
	a.sync.Emit()
	return result, nil
}

func (a *Adapter) ReopenCommentThread(_ context.Context, threadID string) error {
	if key, ok := a.store.Resolve(threadID); ok {
		a.store.Update(key, func(t *threads.Thread) { t.Reopen() })
	} else {
		a.miss("reopen thread", threadID)
	}
	a.sync.Emit()
	return nil
}

// UpdateCommentThread shallow-merges attributes into the stored thread.
func (a *Adapter) UpdateCommentThread(_ context.Context, threadID string, attributes map[string]any) error {
	key, ok := a.store.Resolve(threadID)
	if !ok {
		a.miss("update thread", threadID)
	} else if attributes != nil {
		a.store.Update(key, func(t *threads.Thread) {
			if t.Attributes == nil {
				t.Attributes = make(map[string]any, len(attributes))
			}
			for k, v := range attributes {
				t.Attributes[k] = v
			}
		})
	}
	a.sync.Emit()
	return nil
}

func (a *Adapter) storedComment(id, authorID, content string, createdAt, now time.Time) threads.Comment {
	if authorID == "" {
		authorID = a.user.ID
	}
	if createdAt.IsZero() {
		createdAt = now
	}
	return threads.Comment{
		ID:         id,
		Content:    content,
		AuthorID:   authorID,
		AuthorName: a.user.Name,
		CreatedAt:  threads.FormatTime(createdAt),
	}
}

func (a *Adapter) miss(op, threadID string) {
	log.Warn().Str("op", op).Str("thread_id", threadID).Msg("comment thread not found, ignoring")
}
