package table

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"math"

	"github.com/pkg/errors"
)

// Codec (de)serializes a Go value to and from the bytes carried in a wire
// delta or a checkpoint file — typed (de)serializers for K and V. Kernel
// code never sees these directly; they exist so GlobalTable can move
// values across the transport and into checkpoint files.
type Codec struct {
	Encode func(v interface{}) []byte
	Decode func(b []byte) interface{}
}

// IntCodec (de)serializes Go int keys/values as fixed-width big-endian.
var IntCodec = Codec{
	Encode: func(v interface{}) []byte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v.(int)))
		return b
	},
	Decode: func(b []byte) interface{} {
		return int(binary.BigEndian.Uint64(b))
	},
}

// Float64Codec (de)serializes Go float64 values.
var Float64Codec = Codec{
	Encode: func(v interface{}) []byte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(v.(float64)))
		return b
	},
	Decode: func(b []byte) interface{} {
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	},
}

// StringCodec (de)serializes Go string keys/values verbatim.
var StringCodec = Codec{
	Encode: func(v interface{}) []byte { return []byte(v.(string)) },
	Decode: func(b []byte) interface{} { return string(b) },
}

// GobCodec builds a Codec for any gob-encodable type, given a zero value of
// that type to decode into. Used for structured values (e.g. per-key
// accumulator state in the k-means example) that don't fit a primitive
// codec.
func GobCodec(zero interface{}) Codec {
	typ := zero
	return Codec{
		Encode: func(v interface{}) []byte {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				panic(errors.Wrap(err, "gob-encoding table value"))
			}
			return buf.Bytes()
		},
		Decode: func(b []byte) interface{} {
			out := newZeroLike(typ)
			if err := gob.NewDecoder(bytes.NewReader(b)).Decode(out); err != nil {
				panic(errors.Wrap(err, "gob-decoding table value"))
			}
			return derefIfPointer(out, typ)
		},
	}
}
