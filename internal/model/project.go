package model

import "time"

// Project はユーザーのプロジェクトを表す。
// ExternalIDは外部サービス側の識別子で、初回プッシュ成功まで未設定となる。
type Project struct {
	ID           string
	UserID       string
	Name         string
	Description  *string
	ExternalID   *string
	SyncStatus   SyncStatus
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
