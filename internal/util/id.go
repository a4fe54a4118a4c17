package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random id, optionally namespaced as prefix_<hex>.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewThreadID returns an id in the engine's suffixed form, base:suffix, so
// it resolves by base like engine-created threads do.
func NewThreadID() string {
	id := NewID("")
	return "thread-" + id[:12] + ":" + id[12:20]
}
