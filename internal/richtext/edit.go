package richtext

import (
	"golang.org/x/net/html"
)

// DeleteRange removes the flattened text in [start,end). Markers and icons
// are left in place even when their text empties.
func (d *Document) DeleteRange(start, end int) error {
	refs, _ := d.walk()
	total := 0
	if len(refs) > 0 {
		total = refs[len(refs)-1].end
	}
	if start < 0 || start >= end || end > total {
		return ErrNoRange
	}
	for _, ref := range refs {
		if ref.end <= start || ref.start >= end {
			continue
		}
		runes := []rune(ref.node.Data)
		from := max(start-ref.start, 0)
		to := min(end-ref.start, len(runes))
		ref.node.Data = string(runes[:from]) + string(runes[to:])
	}
	d.normalize()
	return nil
}

// InsertText inserts text at a flattened offset. At a boundary between marked
// and unmarked text the unmarked side receives it, so typing next to a marker
// does not grow the commented range.
func (d *Document) InsertText(at int, text string) error {
	if text == "" {
		return nil
	}
	refs, _ := d.walk()
	if len(refs) == 0 {
		if at != 0 {
			return ErrNoRange
		}
		d.root.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		return nil
	}
	if at < 0 || at > refs[len(refs)-1].end {
		return ErrNoRange
	}

	var target *textRef
	for i := range refs {
		ref := &refs[i]
		if at < ref.start || at > ref.end {
			continue
		}
		if target == nil || (target.marker != nil && ref.marker == nil) {
			target = ref
		}
	}
	runes := []rune(target.node.Data)
	off := at - target.start
	target.node.Data = string(runes[:off]) + text + string(runes[off:])
	return nil
}
