// Package seq provides pure helpers over numeric sequences: extremes,
// ordering, top/bottom selection, and sampling with an injectable random
// source. No function mutates its input.
package seq

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// RandomSource returns a uniformly distributed value in [0, 1).
type RandomSource func() float64

// Uniform is the default RandomSource used when nil is passed.
func Uniform() float64 { return rand.Float64() }

func orUniform(src RandomSource) RandomSource {
	if src == nil {
		return Uniform
	}
	return src
}

// Max returns the largest element, or ok=false for an empty slice.
func Max[T cmp.Ordered](xs []T) (v T, ok bool) {
	if len(xs) == 0 {
		return v, false
	}
	return slices.Max(xs), true
}

// Min returns the smallest element, or ok=false for an empty slice.
func Min[T cmp.Ordered](xs []T) (v T, ok bool) {
	if len(xs) == 0 {
		return v, false
	}
	return slices.Min(xs), true
}

// Sum adds every element.
func Sum[T cmp.Ordered](xs []T) T {
	var total T
	for _, x := range xs {
		total += x
	}
	return total
}

// Sort returns an ascending copy of xs.
func Sort[T cmp.Ordered](xs []T) []T {
	out := slices.Clone(xs)
	slices.Sort(out)
	return out
}

// Unique returns the distinct elements of xs in first-occurrence order.
func Unique[T cmp.Ordered](xs []T) []T {
	seen := make(map[T]struct{}, len(xs))
	out := make([]T, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

// Dedupe collapses runs of adjacent equal elements.
func Dedupe[T cmp.Ordered](xs []T) []T {
	return slices.Compact(slices.Clone(xs))
}

// TopN returns the n largest elements in descending order. n is clamped to
// [0, len(xs)].
func TopN[T cmp.Ordered](xs []T, n int) []T {
	n = clamp(n, len(xs))
	out := Sort(xs)
	slices.Reverse(out)
	return out[:n:n]
}

// BottomN returns the n smallest elements in ascending order. n is clamped to
// [0, len(xs)].
func BottomN[T cmp.Ordered](xs []T, n int) []T {
	n = clamp(n, len(xs))
	return Sort(xs)[:n:n]
}

// DropHighest removes the n largest elements, keeping the original order of
// the remainder.
func DropHighest[T cmp.Ordered](xs []T, n int) []T {
	return without(xs, TopN(xs, n))
}

// DropLowest removes the n smallest elements, keeping the original order of
// the remainder.
func DropLowest[T cmp.Ordered](xs []T, n int) []T {
	return without(xs, BottomN(xs, n))
}

// KeepMiddle keeps the keep central elements of the sorted sequence, dropping
// the surplus evenly from both ends (the extra one from the top when odd).
func KeepMiddle[T cmp.Ordered](xs []T, keep int) []T {
	keep = clamp(keep, len(xs))
	sorted := Sort(xs)
	surplus := len(sorted) - keep
	low := surplus / 2
	return sorted[low : low+keep : low+keep]
}

// Shuffle returns a Fisher-Yates shuffled copy of xs.
func Shuffle[T any](xs []T, src RandomSource) []T {
	src = orUniform(src)
	out := slices.Clone(xs)
	for i := len(out) - 1; i > 0; i-- {
		j := index(src, i+1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// RandomSample returns n elements drawn without replacement, in draw order.
// n is clamped to [0, len(xs)].
func RandomSample[T any](xs []T, n int, src RandomSource) []T {
	n = clamp(n, len(xs))
	return Shuffle(xs, src)[:n:n]
}

// RandomElement returns one element chosen uniformly, or ok=false when xs is
// empty.
func RandomElement[T any](xs []T, src RandomSource) (v T, ok bool) {
	if len(xs) == 0 {
		return v, false
	}
	return xs[index(orUniform(src), len(xs))], true
}

// without removes one occurrence of each element of drop from xs.
func without[T cmp.Ordered](xs, drop []T) []T {
	pending := make(map[T]int, len(drop))
	for _, d := range drop {
		pending[d]++
	}
	out := make([]T, 0, len(xs)-len(drop))
	for _, x := range xs {
		if pending[x] > 0 {
			pending[x]--
			continue
		}
		out = append(out, x)
	}
	return out
}

func index(src RandomSource, n int) int {
	i := int(src() * float64(n))
	return min(max(i, 0), n-1)
}

func clamp(n, limit int) int {
	return min(max(n, 0), limit)
}
