package model

import "time"

// Task はユーザーのタスクを表す。
// ProjectIDが設定されている場合、同一ユーザーのプロジェクトを参照する。
type Task struct {
	ID           string
	UserID       string
	ProjectID    *string
	Title        string
	Description  *string
	Completed    bool
	ExternalID   *string
	SyncStatus   SyncStatus
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PushTask はプッシュ対象のタスクと、紐付くプロジェクトの外部IDを保持する。
type PushTask struct {
	Task
	ProjectExternalID *string
}

// TaskFilter はタスク一覧の絞り込み条件。
type TaskFilter struct {
	ProjectID *string
	Completed *bool
}

// RemoteTaskFields はプル時に外部サービスの値でローカルを上書きするフィールド。
type RemoteTaskFields struct {
	Title       string
	Description *string
	Completed   bool
	ProjectID   *string
}
