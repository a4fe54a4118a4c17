// Package aichat turns open comment threads into prompts for the editor's
// AI chat panel, submits them, and resolves the threads once the assistant's
// changes are applied.
package aichat

import (
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"editorbridge/internal/editor"
	"editorbridge/internal/threads"
)

// Listing results that carry no threads.
const (
	NoCommentsFound     = "No comments found."
	NoOpenCommentsFound = "No open comments found."
)

var textPolicy = bluemonday.StrictPolicy()

// plainText strips markup from a comment body and collapses whitespace.
func plainText(content string) string {
	text := html.UnescapeString(textPolicy.Sanitize(content))
	return strings.Join(strings.Fields(text), " ")
}

// readableComments returns the non-empty plain-text bodies of a thread.
func readableComments(t threads.Thread) []string {
	var out []string
	for _, c := range t.Comments {
		if text := plainText(c.Content); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// anchorFor prefers the anchor captured at creation and falls back to the
// live marker for the thread.
func anchorFor(t threads.Thread, markers editor.MarkerSource) string {
	if t.AnchorText != "" {
		return t.AnchorText
	}
	if markers == nil {
		return ""
	}
	if m, ok := markers.Marker(editor.MarkerPrefix + t.ThreadID); ok {
		return m.Text
	}
	return ""
}

// FormatOpenThreads renders the numbered listing of open threads that have
// readable comments, and returns the ids it listed.
func FormatOpenThreads(all []threads.Thread, markers editor.MarkerSource) (string, []string) {
	if len(all) == 0 {
		return NoCommentsFound, nil
	}
	var (
		lines []string
		ids   []string
	)
	for _, t := range all {
		if t.IsResolved {
			continue
		}
		bodies := readableComments(t)
		if len(bodies) == 0 {
			continue
		}
		n := len(lines) + 1
		joined := strings.Join(bodies, "; ")
		if anchor := anchorFor(t, markers); anchor != "" {
			lines = append(lines, fmt.Sprintf("%d. [Thread: %s] Anchor: \"%s\" → %s", n, t.ThreadID, anchor, joined))
		} else {
			lines = append(lines, fmt.Sprintf("%d. [Thread: %s] %s", n, t.ThreadID, joined))
		}
		ids = append(ids, t.ThreadID)
	}
	if len(lines) == 0 {
		return NoOpenCommentsFound, nil
	}
	return strings.Join(lines, "\n"), ids
}

func FixPrompt(threadID, anchor, comment string) string {
	var b strings.Builder
	b.WriteString("Address this document comment:\n\n")
	fmt.Fprintf(&b, "Thread ID: %s\n", threadID)
	if anchor != "" {
		fmt.Fprintf(&b, "Anchor text: \"%s\"\n", anchor)
	}
	fmt.Fprintf(&b, "Comment: %s\n\n", comment)
	b.WriteString("Rules:\n")
	if anchor != "" {
		fmt.Fprintf(&b, "- Find the text \"%s\" in the document (marked by comment thread %s)\n", anchor, threadID)
	} else {
		fmt.Fprintf(&b, "- Find the comment marker for thread %s in the document\n", threadID)
	}
	b.WriteString("- Apply only the change needed to address this comment at that specific location\n")
	b.WriteString("- Keep all other content exactly as is\n")
	b.WriteString("- Preserve the document's tone and style")
	return b.String()
}

func SolveAllPrompt(listing string) string {
	return "Address these document comments:\n\n" +
		listing + "\n\n" +
		"Rules:\n" +
		"- Each comment shows [Thread: ID] and Anchor: \"text\" to identify the exact location\n" +
		"- Find each anchor text in the document and apply the requested change at that specific location\n" +
		"- Apply only the changes needed to address each comment\n" +
		"- Keep all other content exactly as is\n" +
		"- Preserve the document's tone and style"
}
