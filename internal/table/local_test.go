package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tablekernel/piccolo/internal/accum"
)

func intInfo() Info {
	_, sum := accum.SumInt()
	return Info{ID: 1, NumShards: 4, Shard: accum.ModSharding, Accum: sum, AccumKind: accum.KindSum, KeyCodec: IntCodec, ValueCodec: IntCodec}
}

func TestLocalTablePutAccumulates(t *testing.T) {
	l := newLocalTable(intInfo(), 0)
	l.Put(1, 10)
	l.Put(1, 5)
	v, ok := l.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 15, v)
}

func TestLocalTableClear(t *testing.T) {
	l := newLocalTable(intInfo(), 0)
	l.Put(1, 10)
	assert.False(t, l.Empty())
	l.Clear()
	assert.True(t, l.Empty())
	assert.Equal(t, int64(0), l.Size())
}

func TestLocalTableSerializeAndApply(t *testing.T) {
	src := newLocalTable(intInfo(), 0)
	src.Put(1, 10)
	src.Put(2, 20)

	dst := newLocalTable(intInfo(), 0)
	for _, frag := range src.SerializePartial(7, 1, 0, 0) {
		dst.ApplyUpdates(frag)
	}

	v1, ok1 := dst.Get(1)
	v2, ok2 := dst.Get(2)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, 10, v1)
	assert.Equal(t, 20, v2)
}

func TestLocalTableSerializePartialMarksLastDone(t *testing.T) {
	l := newLocalTable(intInfo(), 0)
	l.Put(1, 1)
	frags := l.SerializePartial(0, 1, 0, 3)
	if assert.Len(t, frags, 1) {
		assert.True(t, frags[0].Done)
		assert.Equal(t, int64(3), frags[0].Epoch)
	}
}

func TestLocalTableSnapshotRoundtrip(t *testing.T) {
	src := newLocalTable(intInfo(), 0)
	src.Put(1, 10)
	src.Put(2, 20)
	snap := src.Snapshot()

	dst := newLocalTable(intInfo(), 0)
	dst.LoadSnapshot(snap)

	v, ok := dst.Get(2)
	assert.True(t, ok)
	assert.Equal(t, 20, v)
	assert.False(t, dst.isDirty())
}

func TestLocalTableOwnerAndFlags(t *testing.T) {
	l := newLocalTable(intInfo(), 0)
	assert.Equal(t, -1, l.getOwner())
	l.setOwner(3)
	assert.Equal(t, 3, l.getOwner())

	assert.False(t, l.isTainted())
	l.setTainted(true)
	assert.True(t, l.isTainted())
}
