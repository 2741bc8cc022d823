package bulkhead

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBulkhead_AdmissionOrder(t *testing.T) {
	b := New("genomics", Config{MaxConcurrent: 2, QueueSize: 1, Timeout: time.Minute})

	queued, ok := b.AcquireSlot()
	require.True(t, ok)
	require.False(t, queued)

	queued, ok = b.AcquireSlot()
	require.True(t, ok)
	require.False(t, queued)

	queued, ok = b.AcquireSlot()
	require.True(t, ok)
	require.True(t, queued, "third admission goes to the queue")

	_, ok = b.AcquireSlot()
	require.False(t, ok, "fourth admission is rejected")

	b.ReleaseSlot(false)
	queued, ok = b.AcquireSlot()
	require.True(t, ok)
	require.False(t, queued)
}

func TestBulkhead_ReleaseFloorsAtZero(t *testing.T) {
	b := New("drug", Config{MaxConcurrent: 1, QueueSize: 1, Timeout: time.Minute})

	b.ReleaseSlot(false)
	b.ReleaseSlot(true)

	status := b.Status()
	require.Zero(t, status.InFlight)
	require.Zero(t, status.Queued)

	// Capacity is intact after the spurious releases.
	_, ok := b.AcquireSlot()
	require.True(t, ok)
	_, ok = b.AcquireSlot()
	require.True(t, ok)
	_, ok = b.AcquireSlot()
	require.False(t, ok)
}

func TestBulkhead_QueuedReleaseMatchesClass(t *testing.T) {
	b := New("literature", Config{MaxConcurrent: 1, QueueSize: 1, Timeout: time.Minute})

	_, ok := b.AcquireSlot()
	require.True(t, ok)
	queued, ok := b.AcquireSlot()
	require.True(t, ok)
	require.True(t, queued)

	b.ReleaseSlot(true)
	status := b.Status()
	require.Equal(t, 1, status.InFlight)
	require.Zero(t, status.Queued)
}

func TestBulkhead_ConcurrentAcquireNeverOverAdmits(t *testing.T) {
	const maxConcurrent, queueSize, workers = 4, 3, 64

	b := New("proteomics", Config{MaxConcurrent: maxConcurrent, QueueSize: queueSize, Timeout: time.Minute})

	var mu sync.Mutex
	admitted := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := b.AcquireSlot(); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, maxConcurrent+queueSize, admitted)

	status := b.Status()
	require.Equal(t, maxConcurrent, status.InFlight)
	require.Equal(t, queueSize, status.Queued)
	require.InDelta(t, 1.0, status.Utilization, 0.001)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	a := r.Get("genomics")
	require.Same(t, a, r.Get("genomics"))

	_, ok := a.AcquireSlot()
	require.True(t, ok)

	statuses := r.StatusAll()
	require.Len(t, statuses, 1)
	require.Equal(t, 1, statuses["genomics"].InFlight)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MaxConcurrent = 0
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.QueueSize = -1
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Timeout = 0
	require.Error(t, bad.Validate())
}
