// Package richtext is the document surface comments are anchored to: an
// HTML fragment parsed with golang.org/x/net/html, its flattened text, and
// the marker elements wrapped around commented ranges.
package richtext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"clausemark/api/internal/anchor"
)

// ContainerID is the element id hosts use for the rendered contract body.
const ContainerID = "contract-content"

const (
	MarkerClass = "bc-marker"
	IconClass   = "bc-icon"

	attrCommentID  = "data-comment-id"
	attrChangeType = "data-change-type"
	attrIcon       = "data-bc-icon"
	attrSplit      = "data-bc-split"
)

var (
	ErrNoRange         = errors.New("range is empty or out of bounds")
	ErrOverlap         = errors.New("range overlaps an existing marker")
	ErrDuplicateMarker = errors.New("comment is already marked")
	ErrNoMarker        = errors.New("marker not found")
)

type Document struct {
	frame *html.Node
	root  *html.Node
}

// Parse reads an HTML fragment. When the fragment contains an element with
// id ContainerID, only that element's content is indexed.
func Parse(src string) (*Document, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	frame := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, node := range nodes {
		frame.AppendChild(node)
	}
	doc := &Document{frame: frame, root: frame}
	if container := findByID(frame, ContainerID); container != nil {
		doc.root = container
	}
	return doc, nil
}

// HTML renders the document including markers.
func (d *Document) HTML() string {
	return render(d.frame)
}

// CleanHTML renders the document with every marker unwrapped. This is the
// form that gets persisted; markers are re-applied on every load.
func (d *Document) CleanHTML() string {
	clone := d.Clone()
	clone.UnwrapAll()
	return render(clone.frame)
}

func (d *Document) Clone() *Document {
	frame := cloneTree(d.frame)
	clone := &Document{frame: frame, root: frame}
	if container := findByID(frame, ContainerID); container != nil {
		clone.root = container
	}
	return clone
}

// Text is the flattened text of the indexed content.
func (d *Document) Text() string {
	return d.Index().Text()
}

// Index builds the flattened-text index. Text inside markers is flagged
// as marked; icons contribute nothing.
func (d *Document) Index() *anchor.Index {
	refs, _ := d.walk()
	pieces := make([]anchor.Piece, 0, len(refs))
	for _, ref := range refs {
		pieces = append(pieces, anchor.Piece{Text: ref.node.Data, Marked: ref.marker != nil})
	}
	return anchor.NewIndex(pieces)
}

func render(frame *html.Node) string {
	var buf bytes.Buffer
	for child := frame.FirstChild; child != nil; child = child.NextSibling {
		_ = html.Render(&buf, child)
	}
	return buf.String()
}

func cloneTree(n *html.Node) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		clone.AppendChild(cloneTree(child))
	}
	return clone
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func isMarker(n *html.Node) bool {
	return n.Type == html.ElementNode && hasAttr(n, attrCommentID) && !hasAttr(n, attrIcon) &&
		hasClass(n, MarkerClass)
}

func isIcon(n *html.Node) bool {
	return n.Type == html.ElementNode && hasAttr(n, attrIcon)
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}
