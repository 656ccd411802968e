package transcript

import (
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// Lexicon is the replaceable vocabulary of a [Normalizer].
type Lexicon struct {
	// Homophones maps a misheard phrase to its correction. Matching is
	// case-insensitive and respects word boundaries.
	Homophones map[string]string

	// Phrases are the wake and exit phrases the phonetic stage aligns
	// word windows with.
	Phrases []string
}

// compiledLexicon is the immutable form of a Lexicon.
type compiledLexicon struct {
	replacers []homophone
	phrases   []string
	maxWords  int
}

type homophone struct {
	re          *regexp.Regexp
	replacement string
}

// Normalizer corrects wake-word homophones. The lexicon can be swapped at
// any time with [Normalizer.SetLexicon]; Normalize is safe for concurrent
// use.
type Normalizer struct {
	matcher PhoneticMatcher
	lex     atomic.Pointer[compiledLexicon]
}

// NormalizerOption configures a [Normalizer].
type NormalizerOption func(*Normalizer)

// WithPhoneticMatcher enables the phonetic stage. When unset, only the
// homophone table is applied.
func WithPhoneticMatcher(m PhoneticMatcher) NormalizerOption {
	return func(n *Normalizer) {
		n.matcher = m
	}
}

// NewNormalizer creates a Normalizer for lex.
func NewNormalizer(lex Lexicon, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{}
	for _, o := range opts {
		o(n)
	}
	n.SetLexicon(lex)
	return n
}

// SetLexicon atomically replaces the vocabulary.
func (n *Normalizer) SetLexicon(lex Lexicon) {
	n.lex.Store(compile(lex))
}

// Normalize applies the homophone table and then the phonetic stage.
func (n *Normalizer) Normalize(text string) string {
	lex := n.lex.Load()
	if lex == nil || strings.TrimSpace(text) == "" {
		return text
	}
	for _, h := range lex.replacers {
		text = h.re.ReplaceAllLiteralString(text, h.replacement)
	}
	if n.matcher != nil && len(lex.phrases) > 0 {
		text = alignPhrases(n.matcher, text, lex)
	}
	return text
}

// alignPhrases scans the tokens of text and replaces the longest window
// (up to twice the word count of the longest phrase, since recognizers split
// invented words) that the matcher resolves to a phrase.
func alignPhrases(m PhoneticMatcher, text string, lex *compiledLexicon) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}
	maxN := lex.maxWords * 2

	out := make([]string, 0, len(tokens))
	changed := false
	for i := 0; i < len(tokens); {
		consumed := 0
		for n := min(maxN, len(tokens)-i); n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			phrase, _, ok := m.Match(window, lex.phrases)
			if !ok {
				continue
			}
			if !strings.EqualFold(window, phrase) {
				changed = true
			}
			out = append(out, trailingPunct(phrase, window))
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	if !changed {
		return text
	}
	return strings.Join(out, " ")
}

// trailingPunct keeps sentence punctuation the window ended with.
func trailingPunct(phrase, window string) string {
	if i := strings.LastIndexFunc(window, isWordRune); i >= 0 {
		_, size := utf8.DecodeRuneInString(window[i:])
		return phrase + window[i+size:]
	}
	return phrase
}

func compile(lex Lexicon) *compiledLexicon {
	c := &compiledLexicon{}

	// Longer keys first so "hey ear shot" wins over "ear shot".
	keys := make([]string, 0, len(lex.Homophones))
	for k := range lex.Homophones {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		words := strings.Fields(k)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		re := regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
		c.replacers = append(c.replacers, homophone{re: re, replacement: lex.Homophones[k]})
	}

	for _, p := range lex.Phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		c.phrases = append(c.phrases, p)
		c.maxWords = max(c.maxWords, len(strings.Fields(p)))
	}
	c.phrases = slices.Compact(c.phrases)
	return c
}
