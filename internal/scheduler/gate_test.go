package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunGate_OneHolder(t *testing.T) {
	g := NewRunGate()

	holder, ok := g.TryAcquire(HolderScan)
	assert.True(t, ok)
	assert.Equal(t, HolderScan, holder)

	holder, ok = g.TryAcquire(HolderSync)
	assert.False(t, ok)
	assert.Equal(t, HolderScan, holder)

	// Only the owner can release.
	g.Release(HolderSync)
	assert.Equal(t, HolderScan, g.Holder())

	g.Release(HolderScan)
	assert.Empty(t, g.Holder())
	_, ok = g.TryAcquire(HolderSync)
	assert.True(t, ok)
}

func TestRunGate_ConcurrentClaims(t *testing.T) {
	g := NewRunGate()
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		holder := HolderScan
		if i%2 == 1 {
			holder = HolderSync
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := g.TryAcquire(holder); ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}
