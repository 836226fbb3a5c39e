package outcome

import (
	"hash/fnv"
	"sync"
)

const keyMutexStripes = 64

// KeyMutex serializes work per string key with a fixed set of striped
// locks. The store uses it to make read-sum-then-write budget checks atomic
// per source node; the recalc coordinator uses it per (student, course).
// Distinct keys may share a stripe, which only costs throughput, never
// correctness.
type KeyMutex struct {
	stripes [keyMutexStripes]sync.Mutex
}

func NewKeyMutex() *KeyMutex { return &KeyMutex{} }

func (m *KeyMutex) Lock(key string) {
	m.stripes[stripeFor(key)].Lock()
}

func (m *KeyMutex) Unlock(key string) {
	m.stripes[stripeFor(key)].Unlock()
}

func stripeFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % keyMutexStripes
}
