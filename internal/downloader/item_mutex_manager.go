package downloader

import (
	"sync"

	"github.com/rs/zerolog"
)

// ItemMutexManager hands out one mutex per item so a scan and a sync never
// write the same item directory at the same time.
type ItemMutexManager struct {
	mutexes map[int64]*sync.Mutex
	mapLock sync.RWMutex
	logger  zerolog.Logger
}

// NewItemMutexManager creates a new item mutex manager
func NewItemMutexManager(logger zerolog.Logger) *ItemMutexManager {
	return &ItemMutexManager{
		mutexes: make(map[int64]*sync.Mutex),
		logger:  logger.With().Str("component", "ItemMutexManager").Logger(),
	}
}

// GetMutex returns the mutex guarding itemID.
func (m *ItemMutexManager) GetMutex(itemID int64) *sync.Mutex {
	m.mapLock.RLock()
	mutex, exists := m.mutexes[itemID]
	m.mapLock.RUnlock()

	if exists {
		return mutex
	}

	m.mapLock.Lock()
	defer m.mapLock.Unlock()

	// Double-check after acquiring write lock
	if mutex, exists := m.mutexes[itemID]; exists {
		return mutex
	}

	mutex = &sync.Mutex{}
	m.mutexes[itemID] = mutex
	return mutex
}

// Lock acquires the item's mutex and returns its release function.
func (m *ItemMutexManager) Lock(itemID int64) func() {
	mutex := m.GetMutex(itemID)
	if !mutex.TryLock() {
		m.logger.Debug().Int64("item_id", itemID).Msg("Waiting for in-flight download of item")
		mutex.Lock()
	}
	return mutex.Unlock
}
