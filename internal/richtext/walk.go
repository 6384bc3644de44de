package richtext

import (
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type textRef struct {
	node   *html.Node
	start  int
	end    int
	marker *html.Node
}

type markerRef struct {
	node  *html.Node
	id    string
	start int
	end   int
	icon  *html.Node
}

// MarkerInfo describes a rendered marker in flattened-text coordinates. The
// marker's icon sits at End.
type MarkerInfo struct {
	CommentID  string `json:"comment_id"`
	ChangeType string `json:"change_type"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	HasIcon    bool   `json:"has_icon"`
}

// walk visits the indexed content in document order, collecting non-empty
// text nodes and outermost markers with their flattened offsets.
func (d *Document) walk() ([]textRef, []markerRef) {
	var (
		refs    []textRef
		markers []markerRef
		offset  int
	)
	var visit func(n, marker *html.Node)
	visit = func(n, marker *html.Node) {
		switch n.Type {
		case html.TextNode:
			length := utf8.RuneCountInString(n.Data)
			if length == 0 {
				return
			}
			refs = append(refs, textRef{node: n, start: offset, end: offset + length, marker: marker})
			offset += length
			return
		case html.ElementNode:
			if isIcon(n) {
				return
			}
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Template:
				return
			}
		default:
			return
		}

		if marker == nil && isMarker(n) {
			ref := markerRef{node: n, id: attr(n, attrCommentID), start: offset}
			for child := n.FirstChild; child != nil; child = child.NextSibling {
				visit(child, n)
			}
			ref.end = offset
			ref.icon = findIcon(n)
			markers = append(markers, ref)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child, marker)
		}
	}
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		visit(child, nil)
	}
	return refs, markers
}

func findIcon(n *html.Node) *html.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if isIcon(child) {
			return child
		}
		if child.Type == html.ElementNode {
			if found := findIcon(child); found != nil {
				return found
			}
		}
	}
	return nil
}

// Markers lists every outermost marker in document order.
func (d *Document) Markers() []MarkerInfo {
	refs, markers := d.walk()
	out := make([]MarkerInfo, 0, len(markers))
	for _, m := range markers {
		out = append(out, MarkerInfo{
			CommentID:  m.id,
			ChangeType: attr(m.node, attrChangeType),
			Text:       markedText(refs, m.node),
			Start:      m.start,
			End:        m.end,
			HasIcon:    m.icon != nil,
		})
	}
	return out
}

func (d *Document) HasMarker(commentID string) bool {
	return d.findMarker(commentID) != nil
}

// MarkerText returns the current text inside a comment's marker.
func (d *Document) MarkerText(commentID string) (string, bool) {
	for _, m := range d.Markers() {
		if m.CommentID == commentID {
			return m.Text, true
		}
	}
	return "", false
}

// IconOffsets maps comment ids to the flattened offset of their icon.
func (d *Document) IconOffsets() map[string]int {
	_, markers := d.walk()
	out := make(map[string]int, len(markers))
	for _, m := range markers {
		if m.icon != nil {
			out[m.id] = m.end
		}
	}
	return out
}

func markedText(refs []textRef, marker *html.Node) string {
	var text []byte
	for _, ref := range refs {
		if ref.marker == marker {
			text = append(text, ref.node.Data...)
		}
	}
	return string(text)
}

func (d *Document) findMarker(commentID string) *html.Node {
	var found *html.Node
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if found != nil {
			return
		}
		if isMarker(n) && attr(n, attrCommentID) == commentID {
			found = n
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(d.frame)
	return found
}
