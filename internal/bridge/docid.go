package bridge

import "net/url"

// DefaultDocumentID is used when the embedding URL names no document.
const DefaultDocumentID = "fv-doc-default"

var documentIDParams = []string{"docId", "documentId", "channelId"}

// ResolveDocumentID picks the document id from the embedding URL query. The
// first non-empty parameter wins; fallback is used when none is present.
func ResolveDocumentID(query url.Values, fallback string) string {
	for _, name := range documentIDParams {
		if v := query.Get(name); v != "" {
			return v
		}
	}
	if fallback == "" {
		return DefaultDocumentID
	}
	return fallback
}
