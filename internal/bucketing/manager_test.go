package bucketing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBucketIsStable(t *testing.T) {
	m := NewManager(64, 16)

	id := "8b8f7a8e-0000-4000-8000-c0ffee000001"
	first := m.EventBucket(id)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.EventBucket(id))
	}
}

func TestBucketsStayInRange(t *testing.T) {
	m := NewManager(64, 16)

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("event-%d", i)
		b := m.EventBucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 64)

		ib := m.IncidentBucket(id)
		assert.GreaterOrEqual(t, ib, 0)
		assert.Less(t, ib, 16)
	}
}

func TestBucketsSpread(t *testing.T) {
	m := NewManager(64, 16)

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[m.EventBucket(fmt.Sprintf("event-%d", i))] = true
	}
	assert.Greater(t, len(seen), 32, "1000 ids should hit most of 64 buckets")
}

func TestZeroBucketCountsFallBackToDefaults(t *testing.T) {
	m := NewManager(0, 0)
	b := m.EventBucket("x")
	assert.GreaterOrEqual(t, b, 0)
	assert.Less(t, b, 64)
}

func TestBucketForIsConcurrencySafe(t *testing.T) {
	m := NewManager(64, 16)
	want := m.EventBucket("shared-id")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := m.EventBucket("shared-id"); got != want {
					t.Errorf("bucket changed under concurrency: got %d want %d", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}
