package model

import "time"

// SyncStatus はローカルエンティティの同期状態を表す。
type SyncStatus string

const (
	// SyncStatusPending はローカルの変更が外部サービスにまだ反映されていない状態。
	SyncStatusPending SyncStatus = "PENDING"
	// SyncStatusSynced は直近の同期が成功した状態。
	SyncStatusSynced SyncStatus = "SYNCED"
	// SyncStatusFailed は直近の同期が失敗し、リトライ操作を待っている状態。
	SyncStatusFailed SyncStatus = "FAILED"
)

// EntityType は同期ログの対象エンティティ種別。
type EntityType string

const (
	EntityTypeProject EntityType = "project"
	EntityTypeTask    EntityType = "task"
)

// SyncAction は同期ログに記録する操作種別。
type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
	// SyncActionSync はタスク更新プッシュの失敗時に記録される。
	SyncActionSync   SyncAction = "sync"
	SyncActionDelete SyncAction = "delete"
)

// LogStatus は同期ログの結果。
type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// SyncLog は同期試行1回分の監査ログを表す。
// 作成後に更新・削除されることはない（保持期間を超えたものはクリーンアップジョブが削除する）。
type SyncLog struct {
	ID         string
	UserID     string
	EntityType EntityType
	EntityID   string
	Action     SyncAction
	Status     LogStatus
	Error      string
	CreatedAt  time.Time
}

// StatusCounts は同期状態ごとのエンティティ件数。
type StatusCounts struct {
	Total   int
	Synced  int
	Pending int
	Failed  int
}

// Add は指定状態の件数を加算する。
func (c *StatusCounts) Add(status SyncStatus, n int) {
	c.Total += n
	switch status {
	case SyncStatusSynced:
		c.Synced += n
	case SyncStatusPending:
		c.Pending += n
	case SyncStatusFailed:
		c.Failed += n
	}
}

// StatusSummary はユーザー単位の同期状態の集計。
type StatusSummary struct {
	Projects StatusCounts
	Tasks    StatusCounts
}
