package anchor

import (
	"errors"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	contextRunes = 32
	// bitap patterns are limited to the width of a machine word in go-diff.
	fuzzyPatternBytes = 32
	fuzzyThreshold    = 0.4
)

var ErrEmptySelection = errors.New("empty selection")

// Anchor is the serializable locator stored with a comment. It survives
// minor edits better than raw offsets because it keeps context around the
// selected text.
type Anchor struct {
	Text        string `json:"text"`
	Offset      int    `json:"offset"`
	Prefix      string `json:"prefix,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Result is a best-effort location for an anchor. Modified is set when the
// text found there no longer equals the anchored text.
type Result struct {
	Match
	Modified bool   `json:"modified"`
	Current  string `json:"current"`
}

// New captures an anchor for the selection [start,end).
func New(x *Index, start, end int) (Anchor, error) {
	start = clamp(start, 0, x.Len())
	end = clamp(end, start, x.Len())
	text := x.Slice(start, end)
	if strings.TrimSpace(text) == "" {
		return Anchor{}, ErrEmptySelection
	}
	return Anchor{
		Text:        text,
		Offset:      start,
		Prefix:      x.Slice(start-contextRunes, start),
		Suffix:      x.Slice(end, end+contextRunes),
		Fingerprint: x.Fingerprint(),
	}, nil
}

func (a Anchor) Valid() bool {
	return strings.TrimSpace(a.Text) != ""
}

func (a Anchor) End() int {
	return a.Offset + len([]rune(a.Text))
}

// Find re-locates an anchor. It degrades from the stored offset through
// exact, whitespace-normalized and case-insensitive nearest matches, then
// context bracketing and finally a fuzzy match near the stored offset. It
// never fails loudly; ok=false means there is nothing to highlight.
func Find(x *Index, a Anchor) (Result, bool) {
	if !a.Valid() || x.Len() == 0 {
		return Result{}, false
	}
	if a.Fingerprint != "" && a.Fingerprint == x.Fingerprint() {
		end := a.End()
		if a.Offset >= 0 && end <= x.Len() && x.Slice(a.Offset, end) == a.Text && !x.Marked(a.Offset, end) {
			return x.result(Match{Start: a.Offset, End: end, Method: MethodOffset}, a), true
		}
	}
	if m, ok := x.nearestExact([]rune(a.Text), a.Offset); ok {
		return x.result(m, a), true
	}
	if m, ok := x.nearestFolded(a.Text, a.Offset, false); ok {
		m.Method = MethodNormalized
		return x.result(m, a), true
	}
	if m, ok := x.nearestFolded(a.Text, a.Offset, true); ok {
		return x.result(m, a), true
	}
	if m, ok := x.byContext(a); ok {
		return x.result(m, a), true
	}
	if m, ok := x.fuzzy(a); ok {
		return x.result(m, a), true
	}
	return Result{}, false
}

func (x *Index) result(m Match, a Anchor) Result {
	current := x.Slice(m.Start, m.End)
	return Result{Match: m, Current: current, Modified: current != a.Text}
}

// byContext brackets the anchored text between its recorded prefix and
// suffix. Either side alone is enough to place a range of the original
// length next to it.
func (x *Index) byContext(a Anchor) (Match, bool) {
	textLen := len([]rune(a.Text))
	prefixEnd, hasPrefix := -1, false
	if prefix := []rune(a.Prefix); len(strings.TrimSpace(a.Prefix)) > 0 {
		if at, ok := x.nearestRaw(prefix, a.Offset-len(prefix)); ok {
			prefixEnd, hasPrefix = at+len(prefix), true
		} else if at, ok := x.fuzzyIndex(a.Prefix, a.Offset-len(prefix)); ok {
			prefixEnd, hasPrefix = clamp(at+len(prefix), 0, x.Len()), true
		}
	}

	suffixStart, hasSuffix := -1, false
	if suffix := []rune(a.Suffix); len(strings.TrimSpace(a.Suffix)) > 0 {
		from := a.Offset
		if hasPrefix {
			from = prefixEnd
		}
		window := textLen*2 + contextRunes
		occurrences(x.text, suffix, func(at int) bool {
			if at < from {
				return true
			}
			if hasPrefix && at-from > window {
				return false
			}
			suffixStart, hasSuffix = at, true
			return false
		})
	}

	var m Match
	switch {
	case hasPrefix && hasSuffix:
		m = Match{Start: prefixEnd, End: suffixStart}
	case hasPrefix:
		m = Match{Start: prefixEnd, End: clamp(prefixEnd+textLen, prefixEnd, x.Len())}
	case hasSuffix:
		m = Match{Start: clamp(suffixStart-textLen, 0, suffixStart), End: suffixStart}
	default:
		return Match{}, false
	}
	m.Method = MethodContext
	if m.Len() <= 0 || strings.TrimSpace(x.Slice(m.Start, m.End)) == "" || x.Marked(m.Start, m.End) {
		return Match{}, false
	}
	return m, true
}

func (x *Index) fuzzy(a Anchor) (Match, bool) {
	at, ok := x.fuzzyIndex(a.Text, a.Offset)
	if !ok {
		return Match{}, false
	}
	end := clamp(at+len([]rune(a.Text)), at, x.Len())
	if end <= at || x.Marked(at, end) {
		return Match{}, false
	}
	return Match{Start: at, End: end, Method: MethodFuzzy}, true
}

// nearestRaw is nearestExact without the marked-text filter; context may
// legitimately sit inside another comment's marker.
func (x *Index) nearestRaw(needle []rune, position int) (int, bool) {
	best, bestDist := -1, 0
	occurrences(x.text, needle, func(start int) bool {
		if dist := abs(start - position); best < 0 || dist < bestDist {
			best, bestDist = start, dist
		}
		return true
	})
	return best, best >= 0
}

// fuzzyIndex runs a bitap match of the leading part of pattern near the
// expected rune offset and returns the rune offset of the best hit.
func (x *Index) fuzzyIndex(pattern string, expected int) (int, bool) {
	pattern = truncateBytes(pattern, fuzzyPatternBytes)
	if strings.TrimSpace(pattern) == "" {
		return 0, false
	}
	text := string(x.text)
	dmp := diffmatchpatch.New()
	dmp.MatchThreshold = fuzzyThreshold
	loc := dmp.MatchMain(text, pattern, runeToByte(x.text, clamp(expected, 0, len(x.text))))
	if loc < 0 {
		return 0, false
	}
	return byteToRune(text, loc), true
}

func truncateBytes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := 0
	for i := range value {
		if i > limit {
			break
		}
		cut = i
	}
	return value[:cut]
}
