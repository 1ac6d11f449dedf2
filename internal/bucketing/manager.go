package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Manager derives stable partition buckets for event and incident rows so
// writes spread evenly across ClickHouse partitions and Scylla shards.
type Manager struct {
	eventBuckets    int
	incidentBuckets int
	hasherPool      sync.Pool
}

func NewManager(eventBuckets, incidentBuckets int) *Manager {
	if eventBuckets <= 0 {
		eventBuckets = 64
	}
	if incidentBuckets <= 0 {
		incidentBuckets = 16
	}
	m := &Manager{
		eventBuckets:    eventBuckets,
		incidentBuckets: incidentBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// EventBucket returns a consistent bucket for an event id (0..eventBuckets-1).
func (m *Manager) EventBucket(eventID string) int {
	return m.bucketFor(eventID, m.eventBuckets)
}

// IncidentBucket returns a consistent bucket for an incident id.
func (m *Manager) IncidentBucket(incidentID string) int {
	return m.bucketFor(incidentID, m.incidentBuckets)
}

func (m *Manager) bucketFor(id string, buckets int) int {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(id))

	return int(hasher.Sum64() % uint64(buckets))
}
