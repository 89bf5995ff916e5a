package accum

import "testing"

import "github.com/stretchr/testify/assert"

func TestSumInt(t *testing.T) {
	_, sum := SumInt()
	assert.Equal(t, 5, sum(2, 3))
}

func TestSumFloat64(t *testing.T) {
	_, sum := SumFloat64()
	assert.InDelta(t, 2.5, sum(1.0, 1.5), 1e-9)
}

func TestMinMaxFloat64(t *testing.T) {
	_, min := MinFloat64()
	_, max := MaxFloat64()
	assert.Equal(t, 1.0, min(1.0, 2.0))
	assert.Equal(t, 1.0, min(2.0, 1.0))
	assert.Equal(t, 2.0, max(1.0, 2.0))
	assert.Equal(t, 2.0, max(2.0, 1.0))
}

func TestReplace(t *testing.T) {
	_, replace := Replace()
	assert.Equal(t, "new", replace("old", "new"))
}

func TestOpaque(t *testing.T) {
	kind, f := Opaque(func(a, b interface{}) interface{} { return a.(int) * b.(int) })
	assert.Equal(t, KindOpaque, kind)
	assert.Equal(t, 12, f(3, 4))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "sum", KindSum.String())
	assert.Equal(t, "min", KindMin.String())
	assert.Equal(t, "max", KindMax.String())
	assert.Equal(t, "replace", KindReplace.String())
	assert.Equal(t, "opaque", KindOpaque.String())
}
