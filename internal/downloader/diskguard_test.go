package downloader

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
)

func TestDiskGuard(t *testing.T) {
	g := NewDiskGuard(100, zerolog.Nop())

	g.usage = func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Free: 50 * bytesPerMB}, nil
	}
	assert.ErrorIs(t, g.Check("/data"), errorwrapper.ErrInsufficientSpace)

	g.usage = func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Free: 500 * bytesPerMB}, nil
	}
	assert.NoError(t, g.Check("/data"))

	g.usage = func(string) (*disk.UsageStat, error) { return nil, errors.New("statfs failed") }
	assert.NoError(t, g.Check("/data"))

	assert.NoError(t, NewDiskGuard(0, zerolog.Nop()).Check("/does/not/matter"))
	assert.NoError(t, NewDiskGuard(1, zerolog.Nop()).Check(t.TempDir()))
}

func TestItemMutexManager_SerializesSameItem(t *testing.T) {
	m := NewItemMutexManager(zerolog.Nop())
	assert.Same(t, m.GetMutex(1), m.GetMutex(1))
	assert.NotSame(t, m.GetMutex(1), m.GetMutex(2))

	unlock := m.Lock(1)
	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		release := m.Lock(1)
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	wg.Wait()

	other := m.Lock(2)
	other()
}
