package syncer

import "time"

// syncPoint は最終同期日時を返す。未同期の場合はUNIXエポック。
func syncPoint(lastSyncedAt *time.Time) time.Time {
	if lastSyncedAt == nil {
		return time.Unix(0, 0).UTC()
	}
	return *lastSyncedAt
}

// RemoteWins はプル時に外部サービスの値でローカルを上書きするかを判定する。
// 外部の最終更新日時がローカルの最終同期日時より厳密に新しい場合のみtrue。
// 双方が同期後に変更された場合も外部が新しければ外部を優先し、競合としては検出しない。
func RemoteWins(remoteModified time.Time, lastSyncedAt *time.Time) bool {
	return remoteModified.After(syncPoint(lastSyncedAt))
}

// locallyModified は最終同期以降にローカルで変更されたかを返す。
func locallyModified(updatedAt time.Time, lastSyncedAt *time.Time) bool {
	return updatedAt.After(syncPoint(lastSyncedAt))
}
