package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	a := NewID("comment")
	b := NewID("comment")
	assert.True(t, strings.HasPrefix(a, "comment_"))
	assert.Len(t, a, len("comment_")+32)
	assert.NotEqual(t, a, b)
	assert.Len(t, NewID(""), 32)
}

func TestNewThreadID(t *testing.T) {
	id := NewThreadID()
	base, suffix, ok := strings.Cut(id, ":")
	assert.True(t, ok)
	assert.Len(t, base, len("thread-")+12)
	assert.Len(t, suffix, 8)
}
