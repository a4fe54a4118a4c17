// Package bridge carries one editing session: the thread store, the engine,
// the host message protocol and the debounced sync back to the host.
package bridge

import (
	"encoding/json"

	"editorbridge/internal/threads"
)

// Inbound message types.
const (
	TypeLoadContent   = "LOAD_CONTENT"
	TypeGetDocumentID = "GET_DOCUMENT_ID"
	TypeGetComments   = "GET_COMMENTS"
)

// Outbound message types.
const (
	TypeContentUpdate = "CONTENT_UPDATE"
	TypeDocumentID    = "DOCUMENT_ID"
	TypeCommentsData  = "COMMENTS_DATA"
	TypeIframeReady   = "IFRAME_READY"
	TypeEditorReady   = "EDITOR_READY"
)

// Envelope is the frame every bridge message travels in. Bridge tags the
// direction so a relayed outbound message is never taken for a command.
type Envelope struct {
	Bridge  string          `json:"bridge"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LoadContentPayload accepts "comments" as an alias of "commentsData".
type LoadContentPayload struct {
	HTML         string
	CommentsData []threads.Thread
}

func (p *LoadContentPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		HTML         any              `json:"html"`
		CommentsData []threads.Thread `json:"commentsData"`
		Comments     []threads.Thread `json:"comments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// A non-string html is treated as empty content.
	p.HTML, _ = raw.HTML.(string)
	p.CommentsData = raw.CommentsData
	if p.CommentsData == nil {
		p.CommentsData = raw.Comments
	}
	return nil
}

type ContentUpdatePayload struct {
	HTML         string           `json:"html"`
	CommentsData []threads.Thread `json:"commentsData"`
}

type DocumentIDPayload struct {
	DocumentID string `json:"documentId"`
}

type CommentsDataPayload struct {
	CommentsData []threads.Thread `json:"commentsData"`
}

type ReadyPayload struct {
	Timestamp int64 `json:"timestamp"`
}
