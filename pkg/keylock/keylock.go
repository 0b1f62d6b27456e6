// Package keylock provides mutual exclusion scoped to string keys.
//
// Keys map onto a fixed set of mutex shards, so the registry is bounded by
// construction no matter how many distinct keys pass through it. Two keys in
// the same shard may serialize against each other; two calls with the same
// key always do.
package keylock

import (
	"hash/fnv"
	"sync"
)

// Registry is a sharded set of mutexes.
type Registry struct {
	shards []sync.Mutex
}

// New creates a registry with the given number of shards. A non-positive
// count falls back to a single shard.
func New(shards int) *Registry {
	if shards <= 0 {
		shards = 1
	}
	return &Registry{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the mutex for key and returns its release function.
func (r *Registry) Lock(key string) (unlock func()) {
	mu := &r.shards[r.shardFor(key)]
	mu.Lock()
	return mu.Unlock
}

func (r *Registry) shardFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % uint32(len(r.shards))
}
