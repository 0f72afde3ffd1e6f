package coordinator

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// hashLocks provides mutual exclusion scoped to a content hash. Sharding over
// a fixed set of mutexes avoids tracking per-key lifetimes; two hashes
// sharing a shard serialize harmlessly.
type hashLocks struct {
	shards [lockShards]sync.Mutex
}

func newHashLocks() *hashLocks {
	return &hashLocks{}
}

func (l *hashLocks) lock(hash string) func() {
	h := fnv.New32a()
	h.Write([]byte(hash))
	shard := &l.shards[h.Sum32()%lockShards]
	shard.Lock()
	return shard.Unlock
}
