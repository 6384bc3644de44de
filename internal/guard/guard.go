// Package guard protects rendered comment icons from ordinary text editing
// and watches the document for markers that edits destroyed or drifted.
package guard

import (
	"errors"
	"sort"

	"clausemark/api/internal/richtext"
)

// Warning is shown to the user when an edit is blocked.
const Warning = "cannot delete comment icon"

var ErrGuardedEdit = errors.New(Warning)

type Kind string

const (
	Backspace Kind = "backspace"
	Delete    Kind = "delete"
	Cut       Kind = "cut"
	Input     Kind = "input"
)

// Edit is a pending mutation in flattened-text offsets. A collapsed edit has
// Start == End.
type Edit struct {
	Kind  Kind   `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text,omitempty"`
}

func (e Edit) Collapsed() bool {
	return e.Start == e.End
}

func (e Edit) removes() bool {
	return e.Kind == Backspace || e.Kind == Delete || e.Kind == Cut
}

// Removal is the range the edit deletes in a document of length n. A
// collapsed backspace removes the rune before the cursor and a collapsed
// delete the rune after it.
func (e Edit) Removal(n int) (int, int) {
	if !e.Collapsed() {
		return e.Start, e.End
	}
	switch e.Kind {
	case Backspace:
		if e.Start > 0 {
			return e.Start - 1, e.Start
		}
	case Delete:
		if e.Start < n {
			return e.Start, e.Start + 1
		}
	}
	return e.Start, e.Start
}

// Verdict is the outcome of Check.
type Verdict struct {
	Allowed   bool   `json:"allowed"`
	CommentID string `json:"comment_id,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return ErrGuardedEdit
}

// Check blocks edits that would remove an icon: a selection strictly
// containing the icon's offset, or a collapsed backspace, delete or cut at
// that offset.
func Check(doc *richtext.Document, e Edit) Verdict {
	icons := doc.IconOffsets()
	ids := make([]string, 0, len(icons))
	for id := range icons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		at := icons[id]
		if e.Collapsed() {
			if e.removes() && e.Start == at {
				return Verdict{CommentID: id, Warning: Warning}
			}
			continue
		}
		if e.Start < at && at < e.End {
			return Verdict{CommentID: id, Warning: Warning}
		}
	}
	return Verdict{Allowed: true}
}

// Missing returns the ids in live whose marker or icon is gone from doc.
func Missing(doc *richtext.Document, live []string) []string {
	present := map[string]bool{}
	for _, m := range doc.Markers() {
		present[m.CommentID] = m.HasIcon
	}
	var out []string
	for _, id := range live {
		if !present[id] {
			out = append(out, id)
		}
	}
	return out
}

// Drift is a marker whose text no longer matches the comment's selection.
type Drift struct {
	CommentID string `json:"comment_id"`
	Expected  string `json:"expected"`
	Current   string `json:"current"`
}

// Drifted compares each rendered marker's text with expected, keyed by
// comment id.
func Drifted(doc *richtext.Document, expected map[string]string) []Drift {
	var out []Drift
	for _, m := range doc.Markers() {
		want, ok := expected[m.CommentID]
		if !ok || want == m.Text {
			continue
		}
		out = append(out, Drift{CommentID: m.CommentID, Expected: want, Current: m.Text})
	}
	return out
}
