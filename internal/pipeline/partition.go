package pipeline

import "hash/fnv"

// PartitionKey hash-partitions on principal identifier (§4.3 "Events are
// hash-partitioned on principal identifier so that all events for a given
// principal land in the same partition"), so ordering is preserved for every
// principal's own event stream even though there is no global order.
func PartitionKey(numPartitions int, principalID string) int {
	if numPartitions <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(principalID))
	return int(h.Sum32() % uint32(numPartitions))
}
