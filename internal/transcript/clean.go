package transcript

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// minRepeats is the number of consecutive copies at which a substring
	// counts as degenerate repetition.
	minRepeats = 6

	// maxRepeatUnit is the longest repeated unit, in runes, that is detected.
	maxRepeatUnit = 32
)

var bracketed = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\{[^}]*\}|【[^】]*】`)

// Clean finalises recognized text: bracketed content is stripped, runs of
// six or more consecutive copies of a substring collapse to one copy, and
// whitespace is collapsed and trimmed. The result may be empty.
func Clean(text string) string {
	text = StripBrackets(text)
	text = CollapseRepeats(text)
	return strings.Join(strings.Fields(text), " ")
}

// StripBrackets removes [...], (...), {...} and 【...】 spans. Nested
// brackets are not balanced; the innermost closing bracket ends the span.
func StripBrackets(text string) string {
	if !strings.ContainsAny(text, "[({【") {
		return text
	}
	return bracketed.ReplaceAllString(text, " ")
}

// CollapseRepeats replaces every run of at least six consecutive copies of a
// unit (1 to 32 runes) with a single copy. At each position the shortest
// repeating unit wins, so "hahahahahaha" becomes "ha". Passes repeat until
// nothing changes, since collapsing an inner run can expose an outer one.
func CollapseRepeats(text string) string {
	for {
		out, changed := collapseOnce(text)
		if !changed {
			return out
		}
		text = out
	}
}

func collapseOnce(text string) (string, bool) {
	r := []rune(text)
	if len(r) < minRepeats {
		return text, false
	}
	var b strings.Builder
	b.Grow(len(text))
	changed := false
	for i := 0; i < len(r); {
		unit, count := repeatAt(r, i)
		if count >= minRepeats {
			b.WriteString(string(r[i : i+unit]))
			i += unit * count
			changed = true
			continue
		}
		b.WriteRune(r[i])
		i++
	}
	if !changed {
		return text, false
	}
	return b.String(), true
}

// repeatAt returns the shortest unit length starting at i that repeats at
// least minRepeats times, and its repeat count. count is 1 when none does.
func repeatAt(r []rune, i int) (unit, count int) {
	for l := 1; l <= maxRepeatUnit && i+l*minRepeats <= len(r); l++ {
		n := 1
		for j := i + l; j+l <= len(r) && equalRunes(r[i:i+l], r[j:j+l]); j += l {
			n++
		}
		if n >= minRepeats {
			return l, n
		}
	}
	return 1, 1
}

func equalRunes(a, b []rune) bool {
	for k := range a {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
