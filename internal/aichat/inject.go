package aichat

import (
	"strings"
	"unicode"
)

const (
	contextStart  = "<!--FV_COMMENTS_CONTEXT_START-->"
	contextEnd    = "<!--FV_COMMENTS_CONTEXT_END-->"
	contextHeader = "[Document comments]"
	clippedSuffix = "\n…(clipped)"
)

// mentionsComments reports whether a user prompt asks about comments.
func mentionsComments(text string) bool {
	return strings.Contains(strings.ToLower(text), "comment")
}

// stripContextBlock removes a previously injected comments block.
func stripContextBlock(text string) string {
	start := strings.Index(text, contextStart)
	end := strings.Index(text, contextEnd)
	if start == -1 || end == -1 || end < start {
		return text
	}
	rest := text[:start] + text[end+len(contextEnd):]
	return strings.TrimLeftFunc(rest, unicode.IsSpace)
}

func contextBlock(listing string, maxChars int) string {
	if maxChars > 0 {
		if runes := []rune(listing); len(runes) > maxChars {
			listing = string(runes[:maxChars]) + clippedSuffix
		}
	}
	return contextStart + "\n" + contextHeader + "\n" + listing + "\n" + contextEnd + "\n\n"
}

// injectContext prefixes text with a fresh comments block, replacing any
// block injected earlier.
func injectContext(text, listing string, maxChars int) string {
	return contextBlock(listing, maxChars) + stripContextBlock(text)
}
