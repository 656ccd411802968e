// Package transcript applies the lexical clean-up every recognized utterance
// passes through before it is published.
//
// Two stages exist. [Normalizer] corrects known mishearings of the wake and
// exit phrases, first through an explicit homophone table and then through a
// [PhoneticMatcher] that aligns word windows with the configured phrases.
// [Clean] finalises text: bracketed annotations (speaker tags, "[music]")
// are removed, degenerate repetition is collapsed and whitespace is tidied.
//
// Partial results only pass through the Normalizer; final results pass
// through both.
package transcript

// PhoneticMatcher resolves a window of spoken words to a known phrase based
// on pronunciation similarity. It must be fast enough to run on every
// partial result.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match returns the phrase from phrases that sounds most like window.
	// When matched is false, corrected must equal window unchanged and
	// confidence must be 0.
	Match(window string, phrases []string) (corrected string, confidence float64, matched bool)
}

// Finalize runs n (when non-nil) and then [Clean] on text.
func Finalize(n *Normalizer, text string) string {
	if n != nil {
		text = n.Normalize(text)
	}
	return Clean(text)
}
