// Package threads holds the comment threads of one editing session and the
// fuzzy identifier matching used to find them.
package threads

import (
	"encoding/json"
	"time"
)

// wireTimeLayout matches the ISO-8601 form hosts send and expect (millisecond
// precision, UTC, trailing Z).
const wireTimeLayout = "2006-01-02T15:04:05.000Z07:00"

type Comment struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	CreatedAt  string `json:"createdAt"`
}

// UnmarshalJSON accepts commentId as an alias of id.
func (c *Comment) UnmarshalJSON(data []byte) error {
	type plain Comment
	var raw struct {
		plain
		CommentID string `json:"commentId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Comment(raw.plain)
	if c.ID == "" {
		c.ID = raw.CommentID
	}
	return nil
}

type Thread struct {
	ThreadID   string         `json:"threadId"`
	AnchorText string         `json:"anchorText"`
	Comments   []Comment      `json:"comments"`
	IsResolved bool           `json:"isResolved"`
	ResolvedAt *string        `json:"resolvedAt"`
	ResolvedBy *string        `json:"resolvedBy"`
	Attributes map[string]any `json:"attributes"`
}

// Resolve marks the thread resolved. A thread that is already resolved keeps
// its original resolution time.
func (t *Thread) Resolve(at time.Time, by string) {
	if t.IsResolved && t.ResolvedAt != nil {
		return
	}
	stamp := FormatTime(at)
	t.IsResolved = true
	t.ResolvedAt = &stamp
	t.ResolvedBy = &by
}

func (t *Thread) Reopen() {
	t.IsResolved = false
	t.ResolvedAt = nil
	t.ResolvedBy = nil
}

// normalize restores the resolution invariant on threads that arrive from a
// host: resolved threads always carry a timestamp, open threads carry none.
func (t *Thread) normalize(now time.Time) {
	if t.Comments == nil {
		t.Comments = []Comment{}
	}
	if t.Attributes == nil {
		t.Attributes = map[string]any{}
	}
	if !t.IsResolved {
		t.ResolvedAt = nil
		t.ResolvedBy = nil
		return
	}
	if t.ResolvedAt == nil || *t.ResolvedAt == "" {
		stamp := FormatTime(now)
		t.ResolvedAt = &stamp
	}
}

func (t Thread) Clone() Thread {
	out := t
	out.Comments = make([]Comment, len(t.Comments))
	copy(out.Comments, t.Comments)
	out.Attributes = make(map[string]any, len(t.Attributes))
	for k, v := range t.Attributes {
		out.Attributes[k] = v
	}
	if t.ResolvedAt != nil {
		v := *t.ResolvedAt
		out.ResolvedAt = &v
	}
	if t.ResolvedBy != nil {
		v := *t.ResolvedBy
		out.ResolvedBy = &v
	}
	return out
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(wireTimeLayout)
}

// ParseTime reads a wire timestamp. Values that do not parse fall back to
// fallback, mirroring how the engine treats a missing creation date.
func ParseTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, wireTimeLayout, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return fallback
}
