package editor

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Comment ranges are serialized the way the editing engine writes them:
// <comment-start name="id"></comment-start>text<comment-end name="id"></comment-end>
const (
	markerStartTag = "comment-start"
	markerEndTag   = "comment-end"
)

func parseFragment(data string) ([]*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	return html.ParseFragment(strings.NewReader(data), context)
}

func renderFragment(nodes []*html.Node) (string, error) {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func markerName(n *html.Node) (string, bool) {
	if n.Type != html.ElementNode || (n.Data != markerStartTag && n.Data != markerEndTag) {
		return "", false
	}
	for _, attr := range n.Attr {
		if attr.Key == "name" {
			return attr.Val, true
		}
	}
	return "", false
}

func walk(nodes []*html.Node, visit func(*html.Node)) {
	for _, n := range nodes {
		walkNode(n, visit)
	}
}

func walkNode(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkNode(c, visit)
	}
}

// collectMarkers lists comment ranges in order of their start tags. A range
// without an end tag covers the rest of the document.
func collectMarkers(nodes []*html.Node) []Marker {
	var order []string
	text := map[string]*strings.Builder{}
	open := map[string]bool{}
	walk(nodes, func(n *html.Node) {
		if name, ok := markerName(n); ok {
			if n.Data == markerStartTag {
				if _, seen := text[name]; !seen {
					order = append(order, name)
					text[name] = &strings.Builder{}
				}
				open[name] = true
			} else {
				delete(open, name)
			}
			return
		}
		if n.Type != html.TextNode {
			return
		}
		for name := range open {
			text[name].WriteString(n.Data)
		}
	})
	out := make([]Marker, 0, len(order))
	for _, name := range order {
		out = append(out, Marker{Name: MarkerPrefix + name, Text: strings.TrimSpace(text[name].String())})
	}
	return out
}

// markerThreadIDs returns the distinct thread ids referenced by start tags.
func markerThreadIDs(nodes []*html.Node) []string {
	var ids []string
	seen := map[string]bool{}
	walk(nodes, func(n *html.Node) {
		name, ok := markerName(n)
		if !ok || n.Data != markerStartTag || seen[name] {
			return
		}
		seen[name] = true
		ids = append(ids, name)
	})
	return ids
}

func markerElement(tag, name string) *html.Node {
	return &html.Node{
		Type: html.ElementNode,
		Data: tag,
		Attr: []html.Attribute{{Key: "name", Val: name}},
	}
}

// wrapText surrounds the first occurrence of anchor inside a single text node
// with a marker pair named name. It reports false when anchor is not found.
func wrapText(nodes []*html.Node, anchor, name string) ([]*html.Node, bool) {
	if anchor == "" {
		return nodes, false
	}
	var target *html.Node
	walk(nodes, func(n *html.Node) {
		if target == nil && n.Type == html.TextNode && strings.Contains(n.Data, anchor) {
			target = n
		}
	})
	if target == nil {
		return nodes, false
	}
	i := strings.Index(target.Data, anchor)
	var replacement []*html.Node
	if before := target.Data[:i]; before != "" {
		replacement = append(replacement, &html.Node{Type: html.TextNode, Data: before})
	}
	replacement = append(replacement,
		markerElement(markerStartTag, name),
		&html.Node{Type: html.TextNode, Data: anchor},
		markerElement(markerEndTag, name),
	)
	if after := target.Data[i+len(anchor):]; after != "" {
		replacement = append(replacement, &html.Node{Type: html.TextNode, Data: after})
	}
	return replaceNode(nodes, target, replacement), true
}

// unwrapMarkers removes the marker tags named name, keeping the text they cover.
func unwrapMarkers(nodes []*html.Node, name string) []*html.Node {
	var doomed []*html.Node
	walk(nodes, func(n *html.Node) {
		if got, ok := markerName(n); ok && got == name {
			doomed = append(doomed, n)
		}
	})
	for _, n := range doomed {
		var children []*html.Node
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			children = append(children, c)
			c = next
		}
		nodes = replaceNode(nodes, n, children)
	}
	return nodes
}

// replaceNode swaps target for replacement, either inside its parent or in
// the top-level fragment list.
func replaceNode(nodes []*html.Node, target *html.Node, replacement []*html.Node) []*html.Node {
	if parent := target.Parent; parent != nil {
		for _, r := range replacement {
			parent.InsertBefore(r, target)
		}
		parent.RemoveChild(target)
		return nodes
	}
	out := make([]*html.Node, 0, len(nodes)+len(replacement))
	for _, n := range nodes {
		if n == target {
			out = append(out, replacement...)
			continue
		}
		out = append(out, n)
	}
	return out
}
