package tts

import "testing"

func TestSentenceBoundary(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Hello world.", 11},
		{"Hello world. More", 11},
		{"Really? Yes", 6},
		{"Wow!", 3},
		{"Pi is 3.14 roughly", -1},
		{"no boundary here", -1},
		{"", -1},
		{"Dr.Who said hi", -1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SentenceBoundary(tt.in); got != tt.want {
				t.Errorf("SentenceBoundary(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
