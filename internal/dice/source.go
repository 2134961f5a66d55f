package dice

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand/v2"
	"sync"
)

// RandomSource returns a uniformly distributed value in [0, 1).
//
// The evaluator derives each die face as floor(src() * sides) + 1 and rejects
// values outside [0, 1) with an EvaluationError. A RandomSource is called from
// a single evaluation at a time; sources shared across goroutines must be
// safe for concurrent use.
type RandomSource func() float64

// Source is the integer randomness provider used by callers that already hold
// an Intn-style generator.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

const float53 = 1 << 53

// NewCryptoSource returns a RandomSource backed by crypto/rand.
//
// Postcondition: Every value returned is in [0, 1).
// Panics with "dice: crypto/rand failure: <err>" if crypto/rand fails.
func NewCryptoSource() RandomSource {
	return func() float64 {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("dice: crypto/rand failure: " + err.Error())
		}
		return float64(binary.BigEndian.Uint64(buf[:])>>11) / float53
	}
}

// FromIntn adapts an Intn-style Source.
//
// Precondition: src must be non-nil.
func FromIntn(src Source) RandomSource {
	return func() float64 {
		return float64(src.Intn(float53)) / float53
	}
}

// Seeded returns a deterministic, goroutine-safe PCG-backed source. Two
// sources built from the same seed yield identical sequences.
func Seeded(seed uint64) RandomSource {
	var mu sync.Mutex
	r := mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()
	}
}

// Sequence replays values in order and then repeats the last one.
//
// Precondition: len(values) > 0.
func Sequence(values ...float64) RandomSource {
	if len(values) == 0 {
		panic("dice: Sequence requires at least one value")
	}
	var mu sync.Mutex
	i := 0
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		v := values[min(i, len(values)-1)]
		i++
		return v
	}
}

// Faces returns a source that makes a die of the given sides show each face
// in turn, e.g. Faces(6, 4, 5) rolls a 4 then a 5 on d6 dice.
//
// Precondition: sides >= 1; every face is in [1, sides].
func Faces(sides int, faces ...int) RandomSource {
	values := make([]float64, len(faces))
	for i, f := range faces {
		if f < 1 || f > sides {
			panic("dice: Faces face out of range")
		}
		values[i] = (float64(f) - 0.5) / float64(sides)
	}
	return Sequence(values...)
}

// face maps a uniform value onto [1, sides].
func face(u float64, sides int) int {
	return int(math.Floor(u*float64(sides))) + 1
}
