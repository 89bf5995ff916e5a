package accum

import (
	"fmt"
	"hash/fnv"
)

// ShardFunc maps a key to a shard index in [0, numShards).
type ShardFunc func(key interface{}, numShards int) int

// ModSharding is the default sharding function used to initialize shard
// ownership at startup: shard k is served by
// worker k mod N, and here a key hashes to shard key mod numShards for
// integer keys.
func ModSharding(key interface{}, numShards int) int {
	switch k := key.(type) {
	case int:
		return mod(k, numShards)
	case int32:
		return mod(int(k), numShards)
	case int64:
		return mod(int(k), numShards)
	default:
		return StringSharding(key, numShards)
	}
}

func mod(k, numShards int) int {
	m := k % numShards
	if m < 0 {
		m += numShards
	}
	return m
}

// StringSharding hashes the key's string form to pick a shard, for
// non-integer key types.
func StringSharding(key interface{}, numShards int) int {
	s, ok := key.(string)
	if !ok {
		s = interfaceToString(key)
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(numShards))
}

func interfaceToString(key interface{}) string {
	switch k := key.(type) {
	case []byte:
		return string(k)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprintf("%v", k)
	}
}
