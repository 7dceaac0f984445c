package token

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single rune", "a", 0},
		{"ascii", "hello world!", 6},
		{"cjk counts runes not bytes", "안녕하세요", 2},
		{"long ascii", strings.Repeat("A", 1000), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Estimate(tt.text); got != tt.want {
				t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestRunesRoundTrip(t *testing.T) {
	// A window sized with Runes(n) must estimate back to exactly n tokens.
	for _, n := range []int{1, 50, 100, 512} {
		window := strings.Repeat("x", Runes(n))
		if got := Estimate(window); got != n {
			t.Errorf("Estimate(Runes(%d) chars) = %d, want %d", n, got, n)
		}
	}
}
