// Package phonetic implements the [transcript.PhoneticMatcher] interface using
// Double Metaphone encoding combined with Jaro-Winkler similarity.
//
// Recognizers often split or mishear invented words, so a wake phrase such as
// "hey earshot" comes back as "hey ear shot" or "hay earshot". The matcher
// compares a window of spoken words against each known phrase in two stages:
//
//  1. Phonetic gate: both strings are stripped of spaces and encoded with
//     Double Metaphone. The window is a candidate only if one of its codes
//     equals one of the phrase's codes.
//
//  2. Jaro-Winkler ranking: among candidates, the phrase with the highest
//     similarity on the space-stripped strings wins, provided the score
//     reaches the phonetic threshold.
//
// Without a phonetic candidate, a pure Jaro-Winkler pass with a stricter
// fuzzy threshold is used.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.95

	// maxLengthRatio bounds how much longer either side may be.
	maxLengthRatio = 1.25
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched phrase to be accepted. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.95.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic phrase matcher. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match finds the phrase in phrases that sounds most like window.
//
// When matched is false, corrected equals window unchanged and confidence
// is 0.
func (m *Matcher) Match(window string, phrases []string) (corrected string, confidence float64, matched bool) {
	in := squash(window)
	if in == "" || len(phrases) == 0 {
		return window, 0, false
	}
	inCodes := codes(in)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, phrase := range phrases {
		target := squash(phrase)
		if target == "" || !similarLength(in, target) {
			continue
		}
		score := matchr.JaroWinkler(in, target, false)
		if overlap(inCodes, codes(target)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = phrase, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = phrase, score
		}
	}
	if best == "" {
		return window, 0, false
	}
	return best, bestScore, true
}

// squash lower-cases s and drops everything but letters and digits.
func squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// similarLength rejects windows that swallowed neighbouring words. Double
// Metaphone codes are capped at four characters, so the phonetic gate alone
// cannot tell "heyearshot" from "heyearshotwhat".
func similarLength(a, b string) bool {
	la, lb := float64(utf8.RuneCountInString(a)), float64(utf8.RuneCountInString(b))
	return la <= lb*maxLengthRatio && lb <= la*maxLengthRatio
}

// codes returns the non-empty Double Metaphone codes of s.
func codes(s string) [2]string {
	p, alt := matchr.DoubleMetaphone(s)
	return [2]string{p, alt}
}

func overlap(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
