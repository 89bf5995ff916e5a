package accum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModShardingIntKeys(t *testing.T) {
	assert.Equal(t, 0, ModSharding(10, 5))
	assert.Equal(t, 3, ModSharding(13, 5))
}

func TestModShardingNegativeKeys(t *testing.T) {
	// Go's % can return a negative remainder; ModSharding must still land
	// in [0, numShards).
	shard := ModSharding(-3, 5)
	assert.GreaterOrEqual(t, shard, 0)
	assert.Less(t, shard, 5)
}

func TestModShardingFallsBackToStringSharding(t *testing.T) {
	shard := ModSharding("hello", 8)
	assert.GreaterOrEqual(t, shard, 0)
	assert.Less(t, shard, 8)
	assert.Equal(t, StringSharding("hello", 8), shard)
}

func TestStringShardingIsDeterministic(t *testing.T) {
	a := StringSharding("consistent-key", 16)
	b := StringSharding("consistent-key", 16)
	assert.Equal(t, a, b)
}
