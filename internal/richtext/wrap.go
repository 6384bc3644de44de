package richtext

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Marker describes the wrapper element for one comment.
type Marker struct {
	CommentID  string
	ChangeType string
	Title      string
}

var iconGlyphs = map[string]string{
	"comment": "\U0001F4AC",
	"insert":  "✚",
	"delete":  "✖",
}

// Wrap surrounds the flattened range [start,end) with a marker element and
// appends the comment's icon. Elements straddling a range boundary are split;
// the halves are tagged so Unwrap can stitch them back together.
func (d *Document) Wrap(start, end int, m Marker) (MarkerInfo, error) {
	if m.CommentID == "" || start >= end || start < 0 {
		return MarkerInfo{}, ErrNoRange
	}
	if d.HasMarker(m.CommentID) {
		return MarkerInfo{}, ErrDuplicateMarker
	}
	refs, _ := d.walk()
	if len(refs) == 0 || end > refs[len(refs)-1].end {
		return MarkerInfo{}, ErrNoRange
	}
	for _, ref := range refs {
		if ref.marker != nil && ref.start < end && start < ref.end {
			return MarkerInfo{}, ErrOverlap
		}
	}

	endRef := refs[0]
	for _, ref := range refs {
		if ref.start < end && end <= ref.end {
			endRef = ref
			break
		}
	}
	startRef := refs[0]
	for _, ref := range refs {
		if ref.start <= start && start < ref.end {
			startRef = ref
			break
		}
	}

	last := endRef.node
	if off := end - endRef.start; off < endRef.end-endRef.start {
		splitText(endRef.node, off)
	}
	first := startRef.node
	if off := start - startRef.start; off > 0 {
		first = splitText(startRef.node, off)
		if startRef.node == last {
			last = first
		}
	}

	ancestor := commonAncestor(first, last)
	top := first
	for top.Parent != ancestor {
		if top.PrevSibling != nil {
			top = splitBefore(top)
		} else {
			top = top.Parent
		}
	}
	bottom := last
	for bottom.Parent != ancestor {
		if bottom.NextSibling != nil {
			splitAfter(bottom)
		}
		bottom = bottom.Parent
	}

	marker := newMarkerNode(m)
	ancestor.InsertBefore(marker, top)
	for child := top; child != nil; {
		next := child.NextSibling
		ancestor.RemoveChild(child)
		marker.AppendChild(child)
		if child == bottom {
			break
		}
		child = next
	}
	marker.AppendChild(newIconNode(m))

	for _, info := range d.Markers() {
		if info.CommentID == m.CommentID {
			return info, nil
		}
	}
	return MarkerInfo{}, ErrNoMarker
}

// Unwrap removes a comment's marker and icon, leaving its text in place.
func (d *Document) Unwrap(commentID string) bool {
	marker := d.findMarker(commentID)
	if marker == nil {
		return false
	}
	unwrapNode(marker)
	d.normalize()
	return true
}

// UnwrapAll strips every marker; the text is byte-identical to the document
// before any marker was applied.
func (d *Document) UnwrapAll() int {
	count := 0
	for {
		_, markers := d.walk()
		stray := findStrayIcons(d.frame)
		if len(markers) == 0 && len(stray) == 0 {
			break
		}
		for _, m := range markers {
			unwrapNode(m.node)
			count++
		}
		for _, icon := range stray {
			if icon.Parent != nil {
				icon.Parent.RemoveChild(icon)
			}
		}
	}
	d.normalize()
	return count
}

// ReplaceMarked swaps a marker's text for text and unwraps it.
func (d *Document) ReplaceMarked(commentID, text string) error {
	marker := d.findMarker(commentID)
	if marker == nil {
		return ErrNoMarker
	}
	for child := marker.FirstChild; child != nil; {
		next := child.NextSibling
		marker.RemoveChild(child)
		child = next
	}
	marker.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	unwrapNode(marker)
	d.normalize()
	return nil
}

// RemoveMarked deletes a marker together with the text it wraps.
func (d *Document) RemoveMarked(commentID string) error {
	marker := d.findMarker(commentID)
	if marker == nil {
		return ErrNoMarker
	}
	marker.Parent.RemoveChild(marker)
	d.normalize()
	return nil
}

func newMarkerNode(m Marker) *html.Node {
	changeType := m.ChangeType
	if changeType == "" {
		changeType = "comment"
	}
	node := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass + " bc-" + changeType},
			{Key: attrCommentID, Val: m.CommentID},
			{Key: attrChangeType, Val: changeType},
		},
	}
	if m.Title != "" {
		node.Attr = append(node.Attr, html.Attribute{Key: "title", Val: m.Title})
	}
	return node
}

func newIconNode(m Marker) *html.Node {
	glyph, ok := iconGlyphs[m.ChangeType]
	if !ok {
		glyph = iconGlyphs["comment"]
	}
	icon := &html.Node{
		Type:     html.ElementNode,
		Data:     "span",
		DataAtom: atom.Span,
		Attr: []html.Attribute{
			{Key: "class", Val: IconClass},
			{Key: attrIcon, Val: "true"},
			{Key: attrCommentID, Val: m.CommentID},
			{Key: "contenteditable", Val: "false"},
			{Key: "unselectable", Val: "on"},
			{Key: "draggable", Val: "false"},
			{Key: "data-bc-action", Val: "open-comment"},
		},
	}
	icon.AppendChild(&html.Node{Type: html.TextNode, Data: glyph})
	return icon
}

func unwrapNode(marker *html.Node) {
	parent := marker.Parent
	for child := marker.FirstChild; child != nil; {
		next := child.NextSibling
		marker.RemoveChild(child)
		if !isIcon(child) {
			parent.InsertBefore(child, marker)
		}
		child = next
	}
	parent.RemoveChild(marker)
}

func findStrayIcons(n *html.Node) []*html.Node {
	var out []*html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if isIcon(child) {
			out = append(out, child)
			continue
		}
		out = append(out, findStrayIcons(child)...)
	}
	return out
}

// splitText cuts a text node at a rune offset and returns the new node that
// holds the tail.
func splitText(n *html.Node, offset int) *html.Node {
	runes := []rune(n.Data)
	tail := &html.Node{Type: html.TextNode, Data: string(runes[offset:])}
	n.Data = string(runes[:offset])
	n.Parent.InsertBefore(tail, n.NextSibling)
	return tail
}

// splitBefore moves n and its following siblings into a copy of n's parent
// inserted right after it. It returns the copy.
func splitBefore(n *html.Node) *html.Node {
	parent := n.Parent
	clone := shallowClone(parent)
	pairSplit(parent, clone)
	parent.Parent.InsertBefore(clone, parent.NextSibling)
	for child := n; child != nil; {
		next := child.NextSibling
		parent.RemoveChild(child)
		clone.AppendChild(child)
		child = next
	}
	return clone
}

// splitAfter moves the siblings following n into a copy of n's parent
// inserted right after it.
func splitAfter(n *html.Node) {
	parent := n.Parent
	clone := shallowClone(parent)
	pairSplit(parent, clone)
	parent.Parent.InsertBefore(clone, parent.NextSibling)
	for child := n.NextSibling; child != nil; {
		next := child.NextSibling
		parent.RemoveChild(child)
		clone.AppendChild(child)
		child = next
	}
}

func shallowClone(n *html.Node) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	for _, a := range n.Attr {
		if a.Key != attrSplit {
			clone.Attr = append(clone.Attr, a)
		}
	}
	return clone
}

func commonAncestor(a, b *html.Node) *html.Node {
	seen := map[*html.Node]struct{}{}
	for n := a.Parent; n != nil; n = n.Parent {
		seen[n] = struct{}{}
	}
	for n := b.Parent; n != nil; n = n.Parent {
		if _, ok := seen[n]; ok {
			return n
		}
	}
	return nil
}

// pairSplit tags both halves of a split with a fresh token. Every token is
// carried by exactly two elements.
func pairSplit(a, b *html.Node) {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	token := hex.EncodeToString(buf)
	addSplitToken(a, token)
	addSplitToken(b, token)
}

func splitTokens(n *html.Node) []string {
	return strings.Fields(attr(n, attrSplit))
}

func addSplitToken(n *html.Node, token string) {
	setAttr(n, attrSplit, strings.TrimSpace(attr(n, attrSplit)+" "+token))
}

func setSplitTokens(n *html.Node, tokens []string) {
	if len(tokens) == 0 {
		removeAttr(n, attrSplit)
		return
	}
	setAttr(n, attrSplit, strings.Join(tokens, " "))
}

// normalize re-merges split halves that became adjacent, drops split tags
// whose partner is gone, and joins adjacent text nodes.
func (d *Document) normalize() {
	mergeSplits(d.frame)
	pruneSplits(d.frame)
	joinText(d.frame)
}

func mergeSplits(n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		for {
			next := child.NextSibling
			if next == nil || next.Type != html.ElementNode || next.Data != child.Data {
				break
			}
			shared, merged := partition(splitTokens(child), splitTokens(next))
			if len(shared) == 0 {
				break
			}
			for grand := next.FirstChild; grand != nil; {
				following := grand.NextSibling
				next.RemoveChild(grand)
				child.AppendChild(grand)
				grand = following
			}
			n.RemoveChild(next)
			setSplitTokens(child, merged)
		}
		mergeSplits(child)
	}
}

// partition returns the tokens present in both lists and the union of the
// rest.
func partition(a, b []string) (shared, rest []string) {
	inB := make(map[string]bool, len(b))
	for _, token := range b {
		inB[token] = true
	}
	inShared := map[string]bool{}
	for _, token := range a {
		if inB[token] {
			shared = append(shared, token)
			inShared[token] = true
			continue
		}
		rest = append(rest, token)
	}
	for _, token := range b {
		if !inShared[token] {
			rest = append(rest, token)
		}
	}
	return shared, rest
}

func pruneSplits(root *html.Node) {
	counts := map[string]int{}
	var count func(n *html.Node)
	count = func(n *html.Node) {
		for _, token := range splitTokens(n) {
			counts[token]++
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			count(child)
		}
	}
	count(root)

	var prune func(n *html.Node)
	prune = func(n *html.Node) {
		if n.Type == html.ElementNode && hasAttr(n, attrSplit) {
			kept := make([]string, 0)
			for _, token := range splitTokens(n) {
				if counts[token] > 1 {
					kept = append(kept, token)
				}
			}
			setSplitTokens(n, kept)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			prune(child)
		}
	}
	prune(root)
}

func joinText(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.TextNode {
			for next != nil && next.Type == html.TextNode {
				child.Data += next.Data
				following := next.NextSibling
				n.RemoveChild(next)
				next = following
			}
			if child.Data == "" {
				n.RemoveChild(child)
			}
		} else {
			joinText(child)
		}
		child = next
	}
}
