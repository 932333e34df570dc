// Package shard spreads index rows for one value across DynamoDB partitions.
package shard

import (
	"fmt"
	"hash/fnv"
)

// Max is the largest supported shard count. Shard keys are two hex digits.
const Max = 256

// Clamp limits numShards to [1, Max].
func Clamp(numShards int) int {
	switch {
	case numShards < 1:
		return 1
	case numShards > Max:
		return Max
	}
	return numShards
}

// Key computes the partition key of an index row owned by the entity with
// the given raw id. With numShards=1 every row lands in shard "00".
func Key(id []byte, numShards int) string {
	numShards = Clamp(numShards)
	if numShards == 1 {
		return "00"
	}
	h := fnv.New32a()
	h.Write(id)
	return format(h.Sum32() % uint32(numShards))
}

// All returns every partition key in use for numShards, in ascending order.
// Readers query each of them and merge.
func All(numShards int) []string {
	numShards = Clamp(numShards)
	keys := make([]string, numShards)
	for i := range keys {
		keys[i] = format(uint32(i))
	}
	return keys
}

func format(shard uint32) string {
	return fmt.Sprintf("%02x", shard)
}
