// Package editor defines the contract between the bridge and the rich-text
// editing engine, and provides Document, an in-process engine that keeps an
// HTML document with comment markers.
package editor

import (
	"context"
	"errors"
	"time"
)

// MarkerPrefix is prepended to a thread id to form its marker name.
const MarkerPrefix = "comment:"

var ErrAnchorNotFound = errors.New("anchor text not found in document")

// Marker is a named range annotation; Text is the plain text it covers.
type Marker struct {
	Name string
	Text string
}

// MarkerSource answers marker queries against the current document.
type MarkerSource interface {
	Marker(name string) (Marker, bool)
	Markers() []Marker
}

// Engine is what the bridge needs from an editing engine.
type Engine interface {
	MarkerSource
	GetData() string
	// SetData replaces the document. Comment threads referenced by markers in
	// html are requested from the comment adapter before SetData returns.
	SetData(html string) error
	// OnChange registers fn to run after every document change.
	OnChange(fn func())
}

// Comment is the engine's in-memory comment shape.
type Comment struct {
	CommentID string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// CommentThread is the engine's in-memory thread shape.
type CommentThread struct {
	ThreadID   string
	Comments   []Comment
	ResolvedAt *time.Time
	ResolvedBy string
	Attributes map[string]any
}

type NewThread struct {
	ThreadID   string
	Comments   []Comment
	Attributes map[string]any
}

type NewComment struct {
	ThreadID  string
	CommentID string
	AuthorID  string
	Content   string
}

type Resolution struct {
	ResolvedAt time.Time
	ResolvedBy string
}

// CommentAdapter persists comment threads on behalf of the engine. A nil
// thread from GetCommentThread means there is no existing data.
type CommentAdapter interface {
	GetCommentThread(ctx context.Context, threadID string) (*CommentThread, error)
	AddCommentThread(ctx context.Context, thread NewThread) (*CommentThread, error)
	AddComment(ctx context.Context, comment NewComment) (time.Time, error)
	UpdateComment(ctx context.Context, threadID, commentID string, content *string) error
	RemoveComment(ctx context.Context, threadID, commentID string) error
	RemoveCommentThread(ctx context.Context, threadID string) error
	ResolveCommentThread(ctx context.Context, threadID string) (Resolution, error)
	ReopenCommentThread(ctx context.Context, threadID string) error
	UpdateCommentThread(ctx context.Context, threadID string, attributes map[string]any) error
}
