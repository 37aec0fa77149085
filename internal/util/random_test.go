package util

import (
	"strings"
	"testing"
	"time"
)

type stubRand struct {
	intN    int
	float64 float64
}

func (s stubRand) IntN(n int) int   { return s.intN % n }
func (s stubRand) Float64() float64 { return s.float64 }

func TestChoice(t *testing.T) {
	options := []string{"a", "b", "c"}

	if got := Choice(stubRand{intN: 2}, options); got != "c" {
		t.Errorf("Choice() = %q, want %q", got, "c")
	}
	if got := Choice(stubRand{}, nil); got != "" {
		t.Errorf("Choice() on empty list = %q, want empty", got)
	}
}

func TestUniformDuration(t *testing.T) {
	tests := []struct {
		name string
		f    float64
		min  time.Duration
		max  time.Duration
		want time.Duration
	}{
		{name: "lower bound", f: 0, min: 20 * time.Second, max: 30 * time.Second, want: 20 * time.Second},
		{name: "midpoint", f: 0.5, min: 20 * time.Second, max: 30 * time.Second, want: 25 * time.Second},
		{name: "inverted range", f: 0.5, min: 10 * time.Second, max: 5 * time.Second, want: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UniformDuration(stubRand{float64: tt.f}, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("UniformDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUniformDurationWithinRange(t *testing.T) {
	r := NewSeededRand(42)
	for i := 0; i < 1000; i++ {
		d := UniformDuration(r, 10*time.Second, 20*time.Second)
		if d < 10*time.Second || d >= 20*time.Second {
			t.Fatalf("UniformDuration() = %v, outside [10s, 20s)", d)
		}
	}
}

func TestGenerateConversationID(t *testing.T) {
	id := GenerateConversationID()
	if !strings.HasPrefix(id, "c_") {
		t.Errorf("GenerateConversationID() = %q, want prefix c_", id)
	}
	if len(id) != 38 {
		t.Errorf("GenerateConversationID() length = %d, want 38", len(id))
	}
	if other := GenerateConversationID(); other == id {
		t.Error("GenerateConversationID() returned the same ID twice")
	}
}

func TestGenerateNick(t *testing.T) {
	nick := GenerateNick("greetpipe-")
	if !strings.HasPrefix(nick, "greetpipe-") {
		t.Errorf("GenerateNick() = %q, want prefix greetpipe-", nick)
	}
	if len(nick) <= len("greetpipe-") {
		t.Errorf("GenerateNick() = %q has no numeric suffix", nick)
	}
}
