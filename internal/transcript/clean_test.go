package transcript_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/transcript"
)

func TestStripBrackets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"hello [music] world", "hello world"},
		{"(laughs) ok", "ok"},
		{"a {b} c", "a c"},
		{"你好【噪音】世界", "你好 世界"},
		{"no brackets", "no brackets"},
		{"unbalanced [ bracket", "unbalanced [ bracket"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := transcript.Clean(transcript.StripBrackets(tt.in)); got != tt.want {
				t.Errorf("StripBrackets(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCollapseRepeats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"single rune", "aaaaaaaa", "a"},
		{"syllable", "hahahahahahaha", "ha"},
		{"words", "thank you thank you thank you thank you thank you thank you ", "thank you "},
		{"five copies kept", "nonononono", "nonononono"},
		{"prefix and suffix kept", "ok lalalalalala bye", "ok la bye"},
		{"unicode", "好好好好好好好", "好"},
		{"short text", "hi", "hi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := transcript.CollapseRepeats(tt.in); got != tt.want {
				t.Errorf("CollapseRepeats(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCollapseRepeats_NeverVerbatim(t *testing.T) {
	t.Parallel()

	for unitLen := 1; unitLen <= 32; unitLen++ {
		unit := strings.Repeat("x", unitLen-1) + "y"
		in := "start " + strings.Repeat(unit, 6) + " end"
		got := transcript.Clean(in)
		if strings.Contains(got, strings.Repeat(unit, 6)) {
			t.Errorf("unit length %d: repetition survived in %q", unitLen, got)
		}
	}
}

func TestClean_EmptyAfterCleanup(t *testing.T) {
	t.Parallel()

	if got := transcript.Clean("  [inaudible]  (noise) "); got != "" {
		t.Errorf("Clean = %q, want empty", got)
	}
}
