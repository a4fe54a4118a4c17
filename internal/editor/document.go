package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

var errNoAdapter = errors.New("comment adapter not configured")

// Document is an in-process Engine. It keeps the document as parsed HTML,
// derives comment markers from it and routes comment UI actions through the
// configured CommentAdapter.
type Document struct {
	mu        sync.Mutex
	nodes     []*html.Node
	adapter   CommentAdapter
	loaded    map[string]*CommentThread
	listeners []func()
	now       func() time.Time
}

func NewDocument() *Document {
	return &Document{
		loaded: make(map[string]*CommentThread),
		now:    time.Now,
	}
}

func (d *Document) SetCommentAdapter(adapter CommentAdapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapter = adapter
}

func (d *Document) OnChange(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func (d *Document) GetData() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, err := renderFragment(d.nodes)
	if err != nil {
		log.Error().Err(err).Msg("render document")
		return ""
	}
	return out
}

func (d *Document) SetData(data string) error {
	nodes, err := parseFragment(data)
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	d.mu.Lock()
	d.nodes = nodes
	ids := markerThreadIDs(nodes)
	adapter := d.adapter
	d.mu.Unlock()

	if adapter != nil {
		d.loadThreads(adapter, ids)
	}
	d.notify()
	return nil
}

// loadThreads asks the adapter for every thread referenced in the document,
// the way the engine fills its comment repository while parsing markers.
func (d *Document) loadThreads(adapter CommentAdapter, ids []string) {
	ctx := context.Background()
	for _, id := range ids {
		thread, err := adapter.GetCommentThread(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("thread_id", id).Msg("load comment thread")
			continue
		}
		d.mu.Lock()
		if thread == nil {
			delete(d.loaded, id)
		} else {
			d.loaded[id] = thread
		}
		d.mu.Unlock()
	}
}

// LoadedThread returns the thread data the engine holds for a marker id.
func (d *Document) LoadedThread(id string) (*CommentThread, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	thread, ok := d.loaded[id]
	return thread, ok
}

func (d *Document) Markers() []Marker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return collectMarkers(d.nodes)
}

func (d *Document) Marker(name string) (Marker, bool) {
	for _, m := range d.Markers() {
		if m.Name == name {
			return m, true
		}
	}
	return Marker{}, false
}

func (d *Document) notify() {
	d.mu.Lock()
	listeners := make([]func(), len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (d *Document) commentAdapter() (CommentAdapter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.adapter == nil {
		return nil, errNoAdapter
	}
	return d.adapter, nil
}

// AddCommentThread anchors a new thread on the first occurrence of anchor
// and stores it with its opening comment.
func (d *Document) AddCommentThread(ctx context.Context, threadID, anchor string, first NewComment) (*CommentThread, error) {
	adapter, err := d.commentAdapter()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	nodes, ok := wrapText(d.nodes, anchor, threadID)
	if ok {
		d.nodes = nodes
	}
	d.mu.Unlock()
	if !ok {
		return nil, ErrAnchorNotFound
	}

	thread, err := adapter.AddCommentThread(ctx, NewThread{
		ThreadID: threadID,
		Comments: []Comment{{
			CommentID: first.CommentID,
			AuthorID:  first.AuthorID,
			Content:   first.Content,
			CreatedAt: d.now(),
		}},
		Attributes: map[string]any{},
	})
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.loaded[threadID] = thread
	d.mu.Unlock()
	d.notify()
	return thread, nil
}

func (d *Document) AddComment(ctx context.Context, comment NewComment) (time.Time, error) {
	adapter, err := d.commentAdapter()
	if err != nil {
		return time.Time{}, err
	}
	return adapter.AddComment(ctx, comment)
}

func (d *Document) UpdateComment(ctx context.Context, threadID, commentID string, content *string) error {
	adapter, err := d.commentAdapter()
	if err != nil {
		return err
	}
	return adapter.UpdateComment(ctx, threadID, commentID, content)
}

func (d *Document) RemoveComment(ctx context.Context, threadID, commentID string) error {
	adapter, err := d.commentAdapter()
	if err != nil {
		return err
	}
	return adapter.RemoveComment(ctx, threadID, commentID)
}

// RemoveCommentThread drops the thread and the markers that anchor it.
func (d *Document) RemoveCommentThread(ctx context.Context, threadID string) error {
	adapter, err := d.commentAdapter()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.nodes = unwrapMarkers(d.nodes, threadID)
	delete(d.loaded, threadID)
	d.mu.Unlock()
	if err := adapter.RemoveCommentThread(ctx, threadID); err != nil {
		return err
	}
	d.notify()
	return nil
}

func (d *Document) ResolveCommentThread(ctx context.Context, threadID string) (Resolution, error) {
	adapter, err := d.commentAdapter()
	if err != nil {
		return Resolution{}, err
	}
	return adapter.ResolveCommentThread(ctx, threadID)
}

func (d *Document) ReopenCommentThread(ctx context.Context, threadID string) error {
	adapter, err := d.commentAdapter()
	if err != nil {
		return err
	}
	return adapter.ReopenCommentThread(ctx, threadID)
}

func (d *Document) UpdateCommentThread(ctx context.Context, threadID string, attributes map[string]any) error {
	adapter, err := d.commentAdapter()
	if err != nil {
		return err
	}
	return adapter.UpdateCommentThread(ctx, threadID, attributes)
}
