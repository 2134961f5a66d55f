package dice_test

import (
	"fmt"
	"strconv"

	"pgregory.net/rapid"
)

// genExpression draws a syntactically valid expression without division, so
// every draw evaluates successfully under the default options.
func genExpression(t *rapid.T, depth int) string {
	if depth <= 0 || rapid.IntRange(0, 2).Draw(t, "leaf") == 0 {
		return genTerm(t, depth)
	}
	op := rapid.SampledFrom([]string{"+", "-", "*"}).Draw(t, "op")
	sp := rapid.SampledFrom([]string{"", " "}).Draw(t, "space")
	return genExpression(t, depth-1) + sp + op + sp + genExpression(t, depth-1)
}

func genTerm(t *rapid.T, depth int) string {
	switch rapid.IntRange(0, 3).Draw(t, "term") {
	case 0:
		return strconv.Itoa(rapid.IntRange(0, 50).Draw(t, "number"))
	case 1:
		return genDice(t)
	case 2:
		if depth > 0 {
			return "(" + genExpression(t, depth-1) + ")"
		}
		return genDice(t)
	default:
		if depth > 0 {
			return "-" + genTerm(t, depth-1)
		}
		return strconv.Itoa(rapid.IntRange(0, 50).Draw(t, "number"))
	}
}

func genDice(t *rapid.T) string {
	count := rapid.IntRange(0, 4).Draw(t, "count")
	sides := rapid.OneOf(
		rapid.IntRange(1, 12),
		rapid.IntRange(1<<20, 1<<40),
	).Draw(t, "sides")
	base := fmt.Sprintf("%dd%d", count, sides)
	threshold := rapid.IntRange(1, sides).Draw(t, "threshold")
	switch rapid.IntRange(0, 6).Draw(t, "modifier") {
	case 1:
		cmp := rapid.SampledFrom([]string{">", ">=", "<", "<=", "=", "=="}).Draw(t, "cmp")
		return fmt.Sprintf("%s%s%d", base, cmp, threshold)
	case 2:
		return fmt.Sprintf("%sr%d", base, threshold)
	case 3:
		return fmt.Sprintf("%sro<%d", base, threshold)
	case 4:
		return base + "!"
	case 5:
		mode := rapid.SampledFrom([]string{"kh", "kl", "dh", "dl"}).Draw(t, "keep")
		return fmt.Sprintf("%s%s%d", base, mode, rapid.IntRange(0, count).Draw(t, "amount"))
	}
	return base
}

func itoa(n int) string { return strconv.Itoa(n) }
