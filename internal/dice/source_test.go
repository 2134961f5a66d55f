package dice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/diceengine/internal/dice"
)

type fixedIntn struct{ v int }

func (f fixedIntn) Intn(n int) int { return f.v % n }

func TestCryptoSource_InUnitInterval(t *testing.T) {
	src := dice.NewCryptoSource()
	for range 1000 {
		v := src()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestSeeded_IsReproducible(t *testing.T) {
	a, b := dice.Seeded(42), dice.Seeded(42)
	for range 100 {
		assert.Equal(t, a(), b())
	}
}

func TestSequence_RepeatsLastValue(t *testing.T) {
	src := dice.Sequence(0.1, 0.2)
	assert.Equal(t, 0.1, src())
	assert.Equal(t, 0.2, src())
	assert.Equal(t, 0.2, src())
	assert.Panics(t, func() { dice.Sequence() })
}

func TestFaces_PanicsOutOfRange(t *testing.T) {
	assert.Panics(t, func() { dice.Faces(6, 7) })
	assert.Panics(t, func() { dice.Faces(6, 0) })
}

func TestFromIntn(t *testing.T) {
	src := dice.FromIntn(fixedIntn{v: 0})
	assert.Equal(t, 0.0, src())
	res, err := dice.EvaluateExpression("3d6", optsWith(src))
	assert.NoError(t, err)
	assert.Equal(t, 3.0, res.Value)
}

// Property: Faces makes a die of the given size show exactly the listed faces.
func TestFaces_Property_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sides := rapid.IntRange(1, 1000).Draw(rt, "sides")
		f := rapid.IntRange(1, sides).Draw(rt, "face")
		res, err := dice.EvaluateExpression("1d"+itoa(sides), optsWith(dice.Faces(sides, f)))
		if err != nil {
			rt.Fatal(err)
		}
		assert.Equal(rt, float64(f), res.Value)
	})
}
