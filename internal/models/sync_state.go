package models

// SyncState describes how the local copy of an item relates to the remote one.
type SyncState string

const (
	SyncStateNotMonitored SyncState = "not-monitored"
	SyncStateMissing      SyncState = "missing"
	SyncStateOutdated     SyncState = "outdated"
	SyncStateSynced       SyncState = "synced"
)

// ComputeSyncState applies the sync rules:
//   - unmonitored items are not-monitored regardless of downloads
//   - no download, or a download whose file is gone, is missing
//   - a download observed before the item's last seen date is outdated
func ComputeSyncState(monitored bool, lastSeenDate string, latest *Download, fileExists bool) SyncState {
	if !monitored {
		return SyncStateNotMonitored
	}
	if latest == nil || !fileExists {
		return SyncStateMissing
	}
	if latest.ObservedDate == "" || latest.ObservedDate < lastSeenDate {
		return SyncStateOutdated
	}
	return SyncStateSynced
}

// NeedsSync reports whether a monitored item should be re-downloaded.
func (s SyncState) NeedsSync() bool {
	return s == SyncStateMissing || s == SyncStateOutdated
}
