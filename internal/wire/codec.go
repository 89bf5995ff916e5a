package wire

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Envelope is the framed record actually carried by the transport: a tag
// plus opaque payload bytes. Decoding the payload requires knowing the tag.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

// Encode serializes msg into an opaque byte payload tagged with tag. The
// wire codec is explicitly out of scope for this system; gob
// stands in for whatever framed binary format a real deployment supplies,
// since we do not have a schema compiler available to generate one.
func Encode(tag Tag, msg interface{}) (Envelope, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return Envelope{}, errors.Wrapf(err, "encoding %s payload", tag)
	}
	return Envelope{Tag: tag, Payload: buf.Bytes()}, nil
}

// Decode deserializes an Envelope's payload into out, which must be a
// pointer to the type matching env.Tag.
func Decode(env Envelope, out interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s payload", env.Tag)
	}
	return nil
}
