package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tablekernel/piccolo/internal/accum"
	"github.com/tablekernel/piccolo/internal/wire"
)

func TestWriteReadSnapshotRoundtrip(t *testing.T) {
	dir := t.TempDir()
	shards := map[int][]wire.KV{
		0: {{Key: []byte("a"), Value: []byte("1")}},
		1: {{Key: []byte("b"), Value: []byte("2")}},
	}

	assert.NoError(t, WriteSnapshot(dir, 7, 3, accum.KindSum, shards))

	kind, got, err := ReadSnapshot(dir, 7, 3)
	assert.NoError(t, err)
	assert.Equal(t, accum.KindSum, kind)
	assert.Equal(t, shards, got)
}

func TestReadSnapshotMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ReadSnapshot(dir, 1, 1)
	assert.Error(t, err)
}

func TestDeltaLogAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenDeltaLog(dir, 4, 2)
	assert.NoError(t, err)

	req1 := &wire.PutRequest{Source: 1, Table: 4, Shard: 0, Epoch: 2, Pairs: []wire.KV{{Key: []byte("k1"), Value: []byte("v1")}}}
	req2 := &wire.PutRequest{Source: 1, Table: 4, Shard: 0, Epoch: 2, Pairs: []wire.KV{{Key: []byte("k2"), Value: []byte("v2")}}}
	assert.NoError(t, log.Append(req1))
	assert.NoError(t, log.Append(req2))
	assert.NoError(t, log.Close())

	replayed, err := ReplayDeltaLog(dir, 4, 2)
	assert.NoError(t, err)
	if assert.Len(t, replayed, 2) {
		assert.Equal(t, req1.Pairs, replayed[0].Pairs)
		assert.Equal(t, req2.Pairs, replayed[1].Pairs)
	}
}

func TestReplayDeltaLogMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	replayed, err := ReplayDeltaLog(dir, 99, 1)
	assert.NoError(t, err)
	assert.Nil(t, replayed)
}
