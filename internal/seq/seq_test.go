package seq_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/diceengine/internal/seq"
)

func TestMaxMin(t *testing.T) {
	v, ok := seq.Max([]int{3, 9, 1})
	assert.True(t, ok)
	assert.Equal(t, 9, v)
	v, ok = seq.Min([]int{3, 9, 1})
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = seq.Max([]int(nil))
	assert.False(t, ok)
	_, ok = seq.Min([]float64{})
	assert.False(t, ok)
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0, seq.Sum([]int(nil)))
	assert.Equal(t, 10, seq.Sum([]int{1, 2, 3, 4}))
	assert.Equal(t, 1.5, seq.Sum([]float64{0.5, 1}))
}

func TestUniqueAndDedupe(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, seq.Unique([]int{3, 1, 3, 2, 1}))
	assert.Equal(t, []int{1, 2, 1}, seq.Dedupe([]int{1, 1, 2, 2, 1}))
}

func TestTopBottom(t *testing.T) {
	xs := []int{3, 6, 1, 4}
	assert.Equal(t, []int{6, 4}, seq.TopN(xs, 2))
	assert.Equal(t, []int{1, 3}, seq.BottomN(xs, 2))
	assert.Empty(t, seq.TopN(xs, -1))
	assert.Equal(t, []int{6, 4, 3, 1}, seq.TopN(xs, 10))
	assert.Equal(t, []int{3, 6, 1, 4}, xs, "input must not be mutated")
}

func TestDropKeepsOriginalOrder(t *testing.T) {
	xs := []int{3, 6, 1, 4}
	assert.Equal(t, []int{3, 1, 4}, seq.DropHighest(xs, 1))
	assert.Equal(t, []int{6, 4}, seq.DropLowest(xs, 2))
	assert.Equal(t, []int{5, 5}, seq.DropLowest([]int{5, 5, 5}, 1))
}

func TestKeepMiddle(t *testing.T) {
	assert.Equal(t, []int{2, 3, 4}, seq.KeepMiddle([]int{5, 1, 4, 2, 3}, 3))
	assert.Equal(t, []int{2, 3}, seq.KeepMiddle([]int{5, 1, 4, 2, 3}, 2))
}

func TestRandomElement(t *testing.T) {
	_, ok := seq.RandomElement([]string{}, nil)
	assert.False(t, ok)
	v, ok := seq.RandomElement([]string{"a", "b", "c"}, func() float64 { return 0.99 })
	assert.True(t, ok)
	assert.Equal(t, "c", v)
}

func TestRandomSample(t *testing.T) {
	xs := []int{1, 2, 3, 4, 5}
	got := seq.RandomSample(xs, 3, func() float64 { return 0 })
	assert.Len(t, got, 3)
	assert.Len(t, seq.Unique(got), 3)
}

// Property: Shuffle is a permutation and leaves its input untouched.
func TestShuffle_Property_Permutation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		xs := rapid.SliceOf(rapid.IntRange(-50, 50)).Draw(rt, "xs")
		orig := slices.Clone(xs)
		out := seq.Shuffle(xs, seq.Uniform)
		assert.Equal(rt, orig, xs)
		assert.ElementsMatch(rt, orig, out)
	})
}

// Property: TopN and the matching drop partition the input.
func TestTopN_Property_Partition(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		xs := rapid.SliceOf(rapid.IntRange(1, 20)).Draw(rt, "xs")
		n := rapid.IntRange(0, len(xs)).Draw(rt, "n")
		top := seq.TopN(xs, n)
		rest := seq.DropHighest(xs, n)
		assert.Len(rt, top, n)
		assert.ElementsMatch(rt, xs, append(slices.Clone(top), rest...))
		assert.Equal(rt, seq.Sum(xs), seq.Sum(top)+seq.Sum(rest))
	})
}
