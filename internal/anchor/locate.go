package anchor

import "strings"

// Method names the strategy that produced a match.
type Method string

const (
	MethodOffset     Method = "offset"
	MethodExact      Method = "exact"
	MethodNormalized Method = "normalized"
	MethodNode       Method = "node"
	MethodFirst      Method = "first"
	MethodFolded     Method = "folded"
	MethodContext    Method = "context"
	MethodFuzzy      Method = "fuzzy"
)

// Match is a located [Start,End) range in flattened-text runes.
type Match struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Method Method `json:"method"`
}

func (m Match) Len() int {
	return m.End - m.Start
}

// Locate finds selected in the index, preferring the occurrence nearest to
// positionStart. Strategies run strongest first and each is only tried when
// the previous one found nothing:
//
//	exact       every verbatim occurrence, nearest start wins
//	normalized  whitespace runs collapsed on both sides
//	node        case-insensitive, trimmed, inside a single text node
//	first       case-insensitive and normalized, first occurrence anywhere
//
// Equidistant occurrences resolve to the first in document order.
// Occurrences overlapping marked text are skipped.
func Locate(x *Index, selected string, positionStart int) (Match, bool) {
	if strings.TrimSpace(selected) == "" || x.Len() == 0 {
		return Match{}, false
	}
	if m, ok := x.nearestExact([]rune(selected), positionStart); ok {
		return m, true
	}
	if m, ok := x.nearestFolded(selected, positionStart, false); ok {
		m.Method = MethodNormalized
		return m, true
	}
	if m, ok := x.nearestInNode(selected, positionStart); ok {
		return m, true
	}
	if m, ok := x.firstFolded(selected); ok {
		return m, true
	}
	return Match{}, false
}

func (x *Index) nearestExact(needle []rune, position int) (Match, bool) {
	best := Match{Start: -1}
	bestDist := 0
	occurrences(x.text, needle, func(start int) bool {
		end := start + len(needle)
		if x.Marked(start, end) {
			return true
		}
		if dist := abs(start - position); best.Start < 0 || dist < bestDist {
			best = Match{Start: start, End: end, Method: MethodExact}
			bestDist = dist
		}
		return true
	})
	return best, best.Start >= 0
}

func (x *Index) nearestFolded(selected string, position int, lower bool) (Match, bool) {
	needle := foldNeedle(selected, lower)
	hay := fold(x.text, 0, lower)
	best := Match{Start: -1}
	bestDist := 0
	occurrences(hay.runes, needle, func(i int) bool {
		start, end := hay.span(i, i+len(needle))
		if x.Marked(start, end) {
			return true
		}
		if dist := abs(start - position); best.Start < 0 || dist < bestDist {
			best = Match{Start: start, End: end, Method: MethodFolded}
			bestDist = dist
		}
		return true
	})
	return best, best.Start >= 0
}

func (x *Index) nearestInNode(selected string, position int) (Match, bool) {
	needle := lowerRunes([]rune(strings.TrimSpace(selected)))
	best := Match{Start: -1}
	bestDist := 0
	for _, span := range x.spans {
		if span.Marked || span.End-span.Start < len(needle) {
			continue
		}
		hay := lowerRunes(x.text[span.Start:span.End])
		occurrences(hay, needle, func(i int) bool {
			start := span.Start + i
			if dist := abs(start - position); best.Start < 0 || dist < bestDist {
				best = Match{Start: start, End: start + len(needle), Method: MethodNode}
				bestDist = dist
			}
			return true
		})
	}
	return best, best.Start >= 0
}

func (x *Index) firstFolded(selected string) (Match, bool) {
	needle := foldNeedle(selected, true)
	hay := fold(x.text, 0, true)
	found := Match{Start: -1}
	occurrences(hay.runes, needle, func(i int) bool {
		start, end := hay.span(i, i+len(needle))
		if x.Marked(start, end) {
			return true
		}
		found = Match{Start: start, End: end, Method: MethodFirst}
		return false
	})
	return found, found.Start >= 0
}
