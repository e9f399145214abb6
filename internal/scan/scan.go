// Package scan finds and replaces the phrases of a pattern table inside a
// single string.
//
// Patterns are tried in table order rather than by earliest position across
// all patterns: the current pattern is searched until it has no occurrence
// left, then the scan moves on to the next pattern starting again from the
// beginning of the text and never returns to an earlier one. Existing
// dictionaries rely on this, so the table order decides both priority and
// the shape of the scan. Text produced by a substitution is never matched
// again within the same call.
package scan

import (
	"unicode"

	"github.com/aliaswap/aliaswap/internal/pattern"
)

// Mode selects the direction of a pass.
type Mode int

const (
	// Forward applies the substitution table.
	Forward Mode = iota
	// Revert applies a reversed table to undo a previous forward pass.
	Revert
)

func (m Mode) String() string {
	switch m {
	case Forward:
		return "forward"
	case Revert:
		return "revert"
	default:
		return "unknown"
	}
}

// Marker is the element wrapped around highlighted replacements.
type Marker struct {
	Tag       string
	Attribute string
}

// DefaultMarker produces <mark replaced="">...</mark>.
var DefaultMarker = Marker{Tag: "mark", Attribute: "replaced"}

func (m Marker) orDefault() Marker {
	if m.Tag == "" || m.Attribute == "" {
		return DefaultMarker
	}
	return m
}

// Open returns the opening tag.
func (m Marker) Open() string {
	m = m.orDefault()
	return "<" + m.Tag + " " + m.Attribute + `="">`
}

// Close returns the closing tag.
func (m Marker) Close() string {
	return "</" + m.orDefault().Tag + ">"
}

// Wrap surrounds s with the marker.
func (m Marker) Wrap(s string) string {
	return m.Open() + s + m.Close()
}

// Options control a single Apply call.
type Options struct {
	Mode      Mode
	Highlight bool
	// Title marks content that must never carry the highlight marker.
	Title  bool
	Marker Marker
}

func (o Options) marking() bool {
	return o.Highlight && !o.Title
}

// Result is the outcome of Apply.
type Result struct {
	Text         string
	Replacements int
	// Skipped counts occurrences rejected by the word-boundary or overlap rules.
	Skipped int
}

// Changed reports whether at least one substitution happened.
func (r Result) Changed() bool {
	return r.Replacements > 0
}

// Replace is Apply returning only the text.
func Replace(text string, table pattern.Table, opts Options) string {
	return Apply(text, table, opts).Text
}

type compiled struct {
	needle []rune
	repl   []rune
}

type span struct {
	start, end int
}

// Apply substitutes every valid occurrence of the table's Old phrases in text.
// Matching ignores case; the New phrase is inserted exactly as stored. An
// occurrence is valid only when it is not flanked by a letter, digit, mark or
// underscore on either side.
func Apply(text string, table pattern.Table, opts Options) Result {
	res := Result{Text: text}
	if text == "" || table.Empty() {
		return res
	}
	pats := compile(table, opts)
	if len(pats) == 0 {
		return res
	}

	hay := []rune(text)
	low := lowerRunes(hay)
	var produced []span
	cur, pos := 0, 0
	for {
		idx := indexRunes(low, pats[cur].needle, pos)
		for idx < 0 {
			if cur+1 == len(pats) {
				if res.Replacements > 0 {
					res.Text = string(hay)
				}
				return res
			}
			cur++
			pos = 0
			idx = indexRunes(low, pats[cur].needle, 0)
		}
		p := pats[cur]
		end := idx + len(p.needle)
		if !bounded(hay, idx, end) || overlaps(produced, idx, end) {
			res.Skipped++
			pos = end
			continue
		}

		hay = splice(hay, idx, end, p.repl)
		low = splice(low, idx, end, lowerRunes(p.repl))
		delta := len(p.repl) - (end - idx)
		for i := range produced {
			if produced[i].start >= end {
				produced[i].start += delta
				produced[i].end += delta
			}
		}
		produced = append(produced, span{start: idx, end: idx + len(p.repl)})
		pos = idx + len(p.repl)
		res.Replacements++
	}
}

func compile(table pattern.Table, opts Options) []compiled {
	marker := opts.Marker.orDefault()
	mark := opts.marking()
	entries := table.Entries()
	out := make([]compiled, 0, len(entries))
	for _, e := range entries {
		old, repl := e.Old, e.New
		if mark {
			if opts.Mode == Revert {
				old = marker.Wrap(old)
			} else {
				repl = marker.Wrap(repl)
			}
		}
		needle := lowerRunes([]rune(old))
		if len(needle) == 0 {
			continue
		}
		out = append(out, compiled{needle: needle, repl: []rune(repl)})
	}
	return out
}

// IsWordRune reports whether r may not touch either end of a match.
func IsWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func bounded(hay []rune, start, end int) bool {
	if start > 0 && IsWordRune(hay[start-1]) {
		return false
	}
	if end < len(hay) && IsWordRune(hay[end]) {
		return false
	}
	return true
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

// lowerRunes maps rune by rune so indexes stay aligned with the original.
func lowerRunes(src []rune) []rune {
	out := make([]rune, len(src))
	for i, r := range src {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func indexRunes(hay, needle []rune, from int) int {
	last := len(hay) - len(needle)
	for i := from; i <= last; i++ {
		if hay[i] != needle[0] {
			continue
		}
		match := true
		for j := 1; j < len(needle); j++ {
			if hay[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func splice(src []rune, start, end int, repl []rune) []rune {
	out := make([]rune, 0, len(src)-(end-start)+len(repl))
	out = append(out, src[:start]...)
	out = append(out, repl...)
	return append(out, src[end:]...)
}
