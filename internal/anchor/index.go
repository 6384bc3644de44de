// Package anchor maps comment selections onto flattened document text.
//
// Everything here works on a plain rune/offset model (Index) so the
// algorithms can be exercised without a rendering surface. Offsets are rune
// offsets into the flattened text.
package anchor

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Piece is one text node's contribution to the flattened text.
type Piece struct {
	Text   string
	Marked bool
}

// Span records where a text node sits inside the flattened text.
type Span struct {
	Start  int
	End    int
	Marked bool
}

// Index is the flattened text of a document plus the node spans it was
// built from. Spans flagged Marked belong to text already wrapped by a
// comment marker and are never eligible for a new match.
type Index struct {
	text        []rune
	spans       []Span
	fingerprint string
}

func NewIndex(pieces []Piece) *Index {
	idx := &Index{spans: make([]Span, 0, len(pieces))}
	for _, piece := range pieces {
		runes := []rune(piece.Text)
		start := len(idx.text)
		idx.text = append(idx.text, runes...)
		idx.spans = append(idx.spans, Span{Start: start, End: len(idx.text), Marked: piece.Marked})
	}
	return idx
}

// FromString indexes a plain string as a single unmarked text node.
func FromString(text string) *Index {
	return NewIndex([]Piece{{Text: text}})
}

func (x *Index) Text() string {
	return string(x.text)
}

func (x *Index) Len() int {
	return len(x.text)
}

// Slice returns the flattened text in [start,end), clamped to the index.
func (x *Index) Slice(start, end int) string {
	start = clamp(start, 0, len(x.text))
	end = clamp(end, start, len(x.text))
	return string(x.text[start:end])
}

// Fingerprint identifies the exact flattened text. Anchors created against
// the same fingerprint can trust their stored offset.
func (x *Index) Fingerprint() string {
	if x.fingerprint == "" {
		sum := sha1.Sum([]byte(string(x.text)))
		x.fingerprint = hex.EncodeToString(sum[:])[:16]
	}
	return x.fingerprint
}

// Marked reports whether [start,end) touches text inside an existing marker.
func (x *Index) Marked(start, end int) bool {
	for _, span := range x.spans {
		if !span.Marked {
			continue
		}
		if span.Start < end && start < span.End {
			return true
		}
	}
	return false
}

// folded is a normalized view of a rune slice that remembers where every
// normalized rune came from.
type folded struct {
	runes  []rune
	origin []int
}

// fold collapses whitespace runs to a single space and optionally lowercases.
// base is added to every recorded origin.
func fold(src []rune, base int, lower bool) folded {
	out := folded{
		runes:  make([]rune, 0, len(src)),
		origin: make([]int, 0, len(src)),
	}
	prevSpace := false
	for i, r := range src {
		if unicode.IsSpace(r) {
			if prevSpace {
				continue
			}
			prevSpace = true
			out.runes = append(out.runes, ' ')
			out.origin = append(out.origin, base+i)
			continue
		}
		prevSpace = false
		if lower {
			r = unicode.ToLower(r)
		}
		out.runes = append(out.runes, r)
		out.origin = append(out.origin, base+i)
	}
	return out
}

// span maps a match in folded coordinates back to source coordinates.
func (f folded) span(start, end int) (int, int) {
	return f.origin[start], f.origin[end-1] + 1
}

func foldNeedle(value string, lower bool) []rune {
	return fold([]rune(strings.TrimSpace(value)), 0, lower).runes
}

func lowerRunes(src []rune) []rune {
	out := make([]rune, len(src))
	for i, r := range src {
		out[i] = unicode.ToLower(r)
	}
	return out
}

// occurrences calls fn with the start of every occurrence of needle in hay,
// in order, until fn returns false.
func occurrences(hay, needle []rune, fn func(int) bool) {
	if len(needle) == 0 || len(needle) > len(hay) {
		return
	}
	last := len(hay) - len(needle)
outer:
	for i := 0; i <= last; i++ {
		if hay[i] != needle[0] {
			continue
		}
		for j := 1; j < len(needle); j++ {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		if !fn(i) {
			return
		}
	}
}

func runeToByte(runes []rune, n int) int {
	total := 0
	for _, r := range runes[:clamp(n, 0, len(runes))] {
		total += utf8.RuneLen(r)
	}
	return total
}

func byteToRune(s string, b int) int {
	return utf8.RuneCountInString(s[:clamp(b, 0, len(s))])
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
