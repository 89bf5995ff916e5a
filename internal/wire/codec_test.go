package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	msg := &PutRequest{
		Source: 1, Table: 2, Shard: 3,
		Pairs: []KV{{Key: []byte("k"), Value: []byte("v")}},
		Done:  true, Epoch: 5, Marker: -1,
	}
	env, err := Encode(TagPutRequest, msg)
	assert.NoError(t, err)
	assert.Equal(t, TagPutRequest, env.Tag)

	var out PutRequest
	assert.NoError(t, Decode(env, &out))
	assert.Equal(t, *msg, out)
}

func TestPutRequestIsMarker(t *testing.T) {
	assert.True(t, (&PutRequest{Marker: 0}).IsMarker())
	assert.True(t, (&PutRequest{Marker: 4}).IsMarker())
	assert.False(t, (&PutRequest{Marker: -1}).IsMarker())
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "RegisterWorker", TagRegisterWorker.String())
	assert.Equal(t, "Unknown", Tag(999).String())
}

func TestDecodeMismatchedTypeErrors(t *testing.T) {
	env, err := Encode(TagRegisterWorker, &RegisterWorker{ID: 1, Slots: 1})
	assert.NoError(t, err)

	var out int
	assert.Error(t, Decode(env, &out))
}
