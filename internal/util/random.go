// Package util provides the randomness and time capabilities shared across GreetPipe components.
package util

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Rand is the random source consumed by the greeting session and the outreach scheduler.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// globalRand delegates to the math/rand/v2 top-level functions.
type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// NewRand returns a Rand backed by the automatically seeded global source.
func NewRand() Rand {
	return globalRand{}
}

// NewSeededRand returns a deterministic Rand for reproducible runs.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Choice picks one option uniformly at random. Returns "" for an empty list.
func Choice(r Rand, options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[r.IntN(len(options))]
}

// UniformDuration draws a duration uniformly from [min, max).
// If max <= min, min is returned.
func UniformDuration(r Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := float64(max - min)
	return min + time.Duration(r.Float64()*span)
}

// GenerateConversationID generates a unique conversation ID with "c_" prefix.
func GenerateConversationID() string {
	return "c_" + uuid.NewString()
}

// GenerateNick appends a random number in [0, 1000] to prefix, e.g. "greetpipe-417".
func GenerateNick(prefix string) string {
	return prefix + strconv.Itoa(rand.IntN(1001))
}
