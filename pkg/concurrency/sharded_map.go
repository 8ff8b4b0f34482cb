package concurrency

import (
	"hash/fnv"
)

const shardCount = 64

// ShardedMapString is a string-keyed map split across fixed shards so that
// unrelated keys (different topic or subscription names) never contend on
// the same lock. The broker uses one per top-level registry (topics,
// subscriptions, leases); mutation of a single entry's own state still goes
// through that entry's own lock.
type ShardedMapString[V any] struct {
	shards []*shardString[V]
}

type shardString[V any] struct {
	mu   *SmartRWMutex
	data map[string]V
}

func NewShardedMapString[V any]() *ShardedMapString[V] {
	m := &ShardedMapString[V]{
		shards: make([]*shardString[V], shardCount),
	}
	for i := 0; i < shardCount; i++ {
		m.shards[i] = &shardString[V]{
			data: make(map[string]V),
			mu:   NewSmartRWMutex(MutexConfig{Name: "ShardedMapString-Shard"}),
		}
	}
	return m
}

func (m *ShardedMapString[V]) getShard(key string) *shardString[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[uint(h.Sum32())%shardCount]
}

func (m *ShardedMapString[V]) Set(key string, value V) {
	shard := m.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.data[key] = value
}

func (m *ShardedMapString[V]) Get(key string) (V, bool) {
	shard := m.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	val, ok := shard.data[key]
	return val, ok
}

func (m *ShardedMapString[V]) Delete(key string) {
	shard := m.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.data, key)
}

// SetIfAbsent stores value under key only if key is not already present.
// Returns false if the key already existed (value left untouched).
func (m *ShardedMapString[V]) SetIfAbsent(key string, value V) bool {
	shard := m.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, ok := shard.data[key]; ok {
		return false
	}
	shard.data[key] = value
	return true
}

// Range calls fn for every entry. fn must not mutate the map. Iteration
// order across shards is unspecified, and Range does not freeze the map:
// concurrent Set/Delete calls may or may not be observed.
func (m *ShardedMapString[V]) Range(fn func(key string, value V) bool) {
	for _, shard := range m.shards {
		shard.mu.RLock()
		for k, v := range shard.data {
			if !fn(k, v) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}

// Len returns the total number of entries across all shards.
func (m *ShardedMapString[V]) Len() int {
	total := 0
	for _, shard := range m.shards {
		shard.mu.RLock()
		total += len(shard.data)
		shard.mu.RUnlock()
	}
	return total
}
