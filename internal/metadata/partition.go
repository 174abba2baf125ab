package metadata

import (
	"fmt"
	"hash/fnv"
)

// PartitionV1 maps identifiers to blocks with FNV-1a 32 modulo the block count.
// The function is part of the store format: changing it invalidates every block ever written.
const PartitionV1 = 1

// Partition returns the block number owning id.
func Partition(version, blocks int, id string) (int, error) {
	if blocks <= 0 {
		return 0, fmt.Errorf("block count %d", blocks)
	}
	switch version {
	case PartitionV1:
		h := fnv.New32a()
		_, _ = h.Write([]byte(id))
		return int(h.Sum32() % uint32(blocks)), nil
	default:
		return 0, fmt.Errorf("unknown partition version %d", version)
	}
}
