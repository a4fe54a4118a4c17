package comments

import (
	"strings"

	"editorbridge/internal/editor"
	"editorbridge/internal/threads"
)

// AnchorText returns the text covered by the marker of threadID. The exact
// marker name is tried first, then any marker whose thread id (the name
// without MarkerPrefix) contains the id, then one containing the id's base.
// The result is best-effort and may be empty.
func AnchorText(markers editor.MarkerSource, threadID string) string {
	if markers == nil || threadID == "" {
		return ""
	}
	if m, ok := markers.Marker(editor.MarkerPrefix + threadID); ok {
		return m.Text
	}
	all := markers.Markers()
	for _, m := range all {
		if strings.Contains(markerThreadID(m), threadID) {
			return m.Text
		}
	}
	base := threads.BaseID(threadID)
	if base == "" {
		return ""
	}
	for _, m := range all {
		if strings.Contains(markerThreadID(m), base) {
			return m.Text
		}
	}
	return ""
}

func markerThreadID(m editor.Marker) string {
	return strings.TrimPrefix(m.Name, editor.MarkerPrefix)
}
