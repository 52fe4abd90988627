// Package syncutil provides the per-entity locking primitive used by the
// engine services. Every mutation of an agent, escrow, share record or
// network registration runs under the lock for that entity's key, which
// gives per-entity serialization without a global lock.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// KeyedMutex is a fixed pool of mutexes keyed by string. Memory stays
// bounded no matter how many keys are seen, at the cost of occasional
// false sharing between keys that hash to the same shard. Locks must
// never be held across external ledger calls.
type KeyedMutex struct {
	shards [shardCount]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel so acquisition
// can be selected against context cancellation.
type chanMutex struct {
	ch chan struct{}
}

// NewKeyedMutex creates a keyed mutex pool.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	m.init()
	return m
}

func (m *KeyedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // start unlocked
		}
	})
}

// Lock acquires the mutex for key and returns an unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	m.init()
	shard := &m.shards[m.shardIdx(key)]
	<-shard.ch
	return func() { shard.ch <- struct{}{} }
}

// LockContext acquires the mutex for key, giving up if ctx is cancelled
// while waiting. On success the caller MUST invoke the returned unlock
// function.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
