// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/tasksync/internal/model"
)

// ErrDuplicateExternalID は同一ユーザー内で外部IDが重複した場合に返される。
var ErrDuplicateExternalID = errors.New("external_id is already mapped for this user")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// ListConnected は外部サービスの認証情報を持つユーザーを作成日時順に返す。
	ListConnected(ctx context.Context) ([]*model.User, error)

	// UpdateRemoteToken は外部サービスの認証情報を更新する。nilを渡すと連携解除になる。
	UpdateRemoteToken(ctx context.Context, id string, token *string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProjectRepository はプロジェクトの永続化インターフェース。
type ProjectRepository interface {
	// Create はローカルで作成されたプロジェクトを保存する。
	Create(ctx context.Context, project *model.Project) error

	// CreatePulled は外部サービスから取り込んだプロジェクトを保存する。
	// 同じ外部IDが既に存在する場合は何もせずfalseを返す。
	CreatePulled(ctx context.Context, project *model.Project) (bool, error)

	// FindByID はユーザーのプロジェクトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Project, error)

	// FindByExternalID は外部IDでプロジェクトを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, userID, externalID string) (*model.Project, error)

	// ListByUser はユーザーのプロジェクトを作成日時順に返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Project, error)

	// ListNeedingPush はPENDINGまたは外部ID未設定のプロジェクトを作成日時順に返す。
	ListNeedingPush(ctx context.Context, userID string) ([]*model.Project, error)

	// Update はローカル編集を保存する。sync_statusはPENDINGに戻り、updated_atは現在時刻になる。
	Update(ctx context.Context, project *model.Project) error

	// MarkSynced は同期成功を記録する。updated_atは変更しない。
	MarkSynced(ctx context.Context, id, externalID string, at time.Time) error

	// MarkFailed は同期失敗を記録する。外部IDとupdated_atは変更しない。
	MarkFailed(ctx context.Context, id string) error

	// ResetFailed はユーザーのFAILEDなプロジェクトをPENDINGに戻し、件数を返す。
	ResetFailed(ctx context.Context, userID string) (int64, error)

	// Delete はユーザーのプロジェクトを削除する。
	Delete(ctx context.Context, userID, id string) error

	// CountByStatus は同期状態ごとの件数を返す。
	CountByStatus(ctx context.Context, userID string) (model.StatusCounts, error)
}

// TaskRepository はタスクの永続化インターフェース。
type TaskRepository interface {
	// Create はローカルで作成されたタスクを保存する。
	Create(ctx context.Context, task *model.Task) error

	// CreatePulled は外部サービスから取り込んだタスクを保存する。
	// 同じ外部IDが既に存在する場合は何もせずfalseを返す。
	CreatePulled(ctx context.Context, task *model.Task) (bool, error)

	// FindByID はユーザーのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.Task, error)

	// FindByExternalID は外部IDでタスクを検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, userID, externalID string) (*model.Task, error)

	// List はユーザーのタスクを絞り込み条件付きで作成日時順に返す。
	List(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, error)

	// ListNeedingPush はPENDINGまたは外部ID未設定のタスクを、
	// 紐付くプロジェクトの外部IDと共に作成日時順に返す。
	ListNeedingPush(ctx context.Context, userID string) ([]*model.PushTask, error)

	// Update はローカル編集を保存する。sync_statusはPENDINGに戻り、updated_atは現在時刻になる。
	Update(ctx context.Context, task *model.Task) error

	// ApplyRemote は外部サービスの値でタスクを上書きし、SYNCEDにする。
	// updated_atとlast_synced_atは共にatになる。
	ApplyRemote(ctx context.Context, id string, fields model.RemoteTaskFields, at time.Time) error

	// MarkSynced は同期成功を記録する。updated_atは変更しない。
	MarkSynced(ctx context.Context, id, externalID string, at time.Time) error

	// MarkFailed は同期失敗を記録する。外部IDとupdated_atは変更しない。
	MarkFailed(ctx context.Context, id string) error

	// ResetFailed はユーザーのFAILEDなタスクをPENDINGに戻し、件数を返す。
	ResetFailed(ctx context.Context, userID string) (int64, error)

	// Delete はユーザーのタスクを削除する。
	Delete(ctx context.Context, userID, id string) error

	// CountByStatus は同期状態ごとの件数を返す。
	CountByStatus(ctx context.Context, userID string) (model.StatusCounts, error)
}

// SyncLogRepository は同期ログの永続化インターフェース。
type SyncLogRepository interface {
	// Create は同期ログを1行追加する。
	Create(ctx context.Context, log *model.SyncLog) error

	// ListRecent はユーザーの同期ログを新しい順に最大limit件返す。
	ListRecent(ctx context.Context, userID string, limit int) ([]*model.SyncLog, error)

	// DeleteOlderThan はcutoffより古い同期ログを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SyncLockRepository はプロセスをまたいでユーザーごとの同期実行権を管理する。
type SyncLockRepository interface {
	// TryLock はユーザーの同期実行権を取得する。他で保持されている場合はokがfalseになる。
	// 取得できた場合は返されたunlockで必ず解放する。
	TryLock(ctx context.Context, userID string) (unlock func(), ok bool, err error)
}
