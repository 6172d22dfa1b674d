package enum

type FolderSyncState string

const (
	FolderNew         FolderSyncState = "new"
	FolderBackfilling FolderSyncState = "backfilling"
	FolderLive        FolderSyncState = "live"
	FolderFailed      FolderSyncState = "failed"
	FolderOrphaned    FolderSyncState = "orphaned"
)

func (t FolderSyncState) String() string {
	return string(t)
}
