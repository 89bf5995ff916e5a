// Package accum provides the named accumulator and sharding functions
// tables are declared with. Accumulators and sharding
// functions are per-table Go function values; a small tagged-kind enum
// covers the well-known accumulators so checkpoints can name one without
// smuggling a function pointer through serialization.
package accum

// Kind names a well-known accumulator so it can be referenced outside of
// process memory (e.g. in a checkpoint header) without serializing a Go
// function value. Opaque covers a user-registered accumulator with no
// stable external name.
type Kind int

const (
	KindOpaque Kind = iota
	KindSum
	KindMin
	KindMax
	KindReplace
)

func (k Kind) String() string {
	switch k {
	case KindSum:
		return "sum"
	case KindMin:
		return "min"
	case KindMax:
		return "max"
	case KindReplace:
		return "replace"
	default:
		return "opaque"
	}
}

// Func combines two values written to the same key. It must be commutative
// and associative so the final value on the owner is independent of
// arrival order.
type Func func(a, b interface{}) interface{}

// SumInt accumulates int values by addition.
func SumInt() (Kind, Func) {
	return KindSum, func(a, b interface{}) interface{} { return a.(int) + b.(int) }
}

// SumFloat64 accumulates float64 values by addition.
func SumFloat64() (Kind, Func) {
	return KindSum, func(a, b interface{}) interface{} { return a.(float64) + b.(float64) }
}

// MinFloat64 keeps the smaller of two float64 values.
func MinFloat64() (Kind, Func) {
	return KindMin, func(a, b interface{}) interface{} {
		if a.(float64) < b.(float64) {
			return a
		}
		return b
	}
}

// MaxFloat64 keeps the larger of two float64 values.
func MaxFloat64() (Kind, Func) {
	return KindMax, func(a, b interface{}) interface{} {
		if a.(float64) > b.(float64) {
			return a
		}
		return b
	}
}

// Replace returns an accumulator where the most recently applied write
// wins, matching the C++ Accumulator<V>::replace semantics.
func Replace() (Kind, Func) {
	return KindReplace, func(_, b interface{}) interface{} { return b }
}

// Opaque wraps a user-supplied combining function with no well-known name.
func Opaque(f Func) (Kind, Func) {
	return KindOpaque, f
}
